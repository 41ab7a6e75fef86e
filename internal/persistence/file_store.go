package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/filestore"
)

// DefaultSnapshotPath is where FileStore keeps the snapshot inside a workspace.
const DefaultSnapshotPath = ".agentify/wizard-state.json"

// FileStore keeps the snapshot as a file in the workspace.
type FileStore struct {
	files filestore.Store
	path  string
}

// NewFileStore stores the snapshot at path; empty means DefaultSnapshotPath.
func NewFileStore(files filestore.Store, path string) *FileStore {
	if path == "" {
		path = DefaultSnapshotPath
	}
	return &FileStore{files: files, path: path}
}

// Read implements Store.
func (f *FileStore) Read(ctx context.Context) ([]byte, error) {
	data, err := f.files.Read(ctx, f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

// Write implements Store.
func (f *FileStore) Write(ctx context.Context, data []byte) error {
	if err := f.files.Write(ctx, f.path, data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Delete implements Store.
func (f *FileStore) Delete(ctx context.Context) error {
	if err := f.files.Remove(ctx, f.path); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

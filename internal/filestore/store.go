// Package filestore is the workspace file-store boundary.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ErrInvalidPath is returned for absolute paths or paths escaping the workspace.
var ErrInvalidPath = errors.New("invalid workspace path")

// Store reads and writes files relative to a workspace root.
// Paths use forward slashes.
type Store interface {
	Exists(ctx context.Context, name string) (bool, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
	List(ctx context.Context, dir string) ([]string, error)
	MkdirAll(ctx context.Context, dir string) error
	Remove(ctx context.Context, name string) error
}

// AferoStore implements Store on an afero filesystem.
type AferoStore struct {
	fs afero.Fs
}

// New roots a store at dir inside fs. An empty dir uses fs as-is.
func New(fs afero.Fs, dir string) *AferoStore {
	if dir != "" && dir != "/" {
		fs = afero.NewBasePathFs(fs, dir)
	}
	return &AferoStore{fs: fs}
}

// NewOS roots a store at dir on the local disk.
func NewOS(dir string) *AferoStore {
	return New(afero.NewOsFs(), dir)
}

// Fs exposes the underlying filesystem.
func (s *AferoStore) Fs() afero.Fs {
	return s.fs
}

func clean(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	cleaned := path.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return filepath.FromSlash(cleaned), nil
}

// Exists implements Store.
func (s *AferoStore) Exists(ctx context.Context, name string) (bool, error) {
	p, err := clean(name)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return afero.Exists(s.fs, p)
}

// Read implements Store. Missing files wrap os.ErrNotExist.
func (s *AferoStore) Read(ctx context.Context, name string) ([]byte, error) {
	p, err := clean(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// Write implements Store with an atomic temp file + rename.
func (s *AferoStore) Write(ctx context.Context, name string, data []byte) error {
	p, err := clean(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return WriteFileAtomic(s.fs, p, data)
}

// List implements Store and returns entry names sorted by name.
func (s *AferoStore) List(ctx context.Context, dir string) ([]string, error) {
	p, err := clean(dir)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(s.fs, p)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// MkdirAll implements Store.
func (s *AferoStore) MkdirAll(ctx context.Context, dir string) error {
	p, err := clean(dir)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(p, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// Remove implements Store. Removing a missing file is not an error.
func (s *AferoStore) Remove(ctx context.Context, name string) error {
	p, err := clean(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers never observe a partial file.
func WriteFileAtomic(fs afero.Fs, name string, data []byte) error {
	dir := filepath.Dir(name)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmpFile, err := afero.TempFile(fs, dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer fs.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := fs.Rename(tmpPath, name); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", name, err)
	}
	return nil
}

package generation

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/filestore"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/spf13/afero"
)

// TemplateInstaller copies the orchestration template for the chosen pattern
// from a template tree into the workspace:
//
//	agents/main_<pattern>.py -> agents/main.py
//	agents/shared/**         -> agents/shared/**
type TemplateInstaller struct {
	source afero.Fs
	dest   filestore.Store
}

// NewTemplateInstaller reads templates from source, which is wrapped read-only.
func NewTemplateInstaller(source afero.Fs, dest filestore.Store) *TemplateInstaller {
	return &TemplateInstaller{source: afero.NewReadOnlyFs(source), dest: dest}
}

// Install implements Installer.
func (t *TemplateInstaller) Install(ctx context.Context, state *models.WizardState) ([]string, error) {
	pattern := state.AgentDesign.Pattern
	if !models.ValidPattern(pattern) {
		return nil, fmt.Errorf("unsupported orchestration pattern %q", pattern)
	}

	main := filepath.Join("agents", "main_"+pattern+".py")
	data, err := afero.ReadFile(t.source, main)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", main, err)
	}
	if err := t.dest.Write(ctx, "agents/main.py", data); err != nil {
		return nil, err
	}
	installed := []string{"agents/main.py"}

	shared := filepath.Join("agents", "shared")
	if ok, _ := afero.DirExists(t.source, shared); !ok {
		return installed, nil
	}
	err = afero.Walk(t.source, shared, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(p, ".pyc") {
			return nil
		}
		content, err := afero.ReadFile(t.source, p)
		if err != nil {
			return err
		}
		rel := path.Clean(filepath.ToSlash(p))
		if err := t.dest.Write(ctx, rel, content); err != nil {
			return err
		}
		installed = append(installed, rel)
		return nil
	})
	if err != nil {
		return installed, fmt.Errorf("failed to copy shared templates: %w", err)
	}
	return installed, nil
}

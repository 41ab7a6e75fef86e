package steps

import (
	"slices"
	"strings"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
)

// BusinessContext edits step 1. It has no conversation.
type BusinessContext struct {
	state *models.BusinessContextState
	deps  Deps
}

func NewBusinessContext(state *models.BusinessContextState, deps Deps) *BusinessContext {
	return &BusinessContext{state: state, deps: deps.withDefaults()}
}

func (h *BusinessContext) SetObjective(v string) {
	h.state.Objective = strings.TrimSpace(v)
	h.deps.Host.Changed()
}

func (h *BusinessContext) SetIndustry(v string) {
	h.state.Industry = strings.TrimSpace(v)
	h.deps.Host.Changed()
}

// SetSystems replaces the system list, dropping blanks and duplicates.
func (h *BusinessContext) SetSystems(systems []string) {
	var out []string
	for _, s := range systems {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	h.state.Systems = out
	h.deps.Host.Changed()
}

func (h *BusinessContext) AddSystem(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidValue
	}
	if !slices.Contains(h.state.Systems, name) {
		h.state.Systems = append(h.state.Systems, name)
	}
	h.deps.Host.Changed()
	return nil
}

func (h *BusinessContext) RemoveSystem(name string) {
	h.state.Systems = slices.DeleteFunc(h.state.Systems, func(s string) bool { return s == name })
	h.deps.Host.Changed()
}

// AttachFile keeps the document in memory. Only its metadata is persisted.
func (h *BusinessContext) AttachFile(name string, data []byte) error {
	name = strings.TrimSpace(name)
	if name == "" || len(data) == 0 {
		return ErrInvalidValue
	}
	h.state.UploadedFile = &models.UploadedFile{
		UploadMetadata: models.UploadMetadata{
			Name:       name,
			Size:       int64(len(data)),
			UploadedAt: h.deps.Now().UnixMilli(),
		},
		Data: append([]byte(nil), data...),
	}
	h.deps.Host.Changed()
	return nil
}

func (h *BusinessContext) RemoveFile() {
	h.state.UploadedFile = nil
	h.deps.Host.Changed()
}

// FileUploadedAt returns the upload time of the attached document.
func (h *BusinessContext) FileUploadedAt() (time.Time, bool) {
	if h.state.UploadedFile == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(h.state.UploadedFile.UploadedAt), true
}

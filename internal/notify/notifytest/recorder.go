// Package notifytest records notifications and scripts user choices.
package notifytest

import (
	"context"
	"sync"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
)

// Shown is one recorded notification.
type Shown struct {
	Level   string
	Message string
	Options []string
}

// Recorder implements notify.Notifier and notify.UI.
type Recorder struct {
	mu       sync.Mutex
	shown    []Shown
	choices  []string
	rerender int
	synced   []*models.WizardState
}

func New() *Recorder {
	return &Recorder{}
}

// Choose queues the answers returned by the next prompts, in order.
// Prompts without a queued answer are dismissed.
func (r *Recorder) Choose(choices ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.choices = append(r.choices, choices...)
}

func (r *Recorder) show(level, message string, options []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, Shown{Level: level, Message: message, Options: options})
	if len(options) == 0 || len(r.choices) == 0 {
		return "", nil
	}
	choice := r.choices[0]
	r.choices = r.choices[1:]
	return choice, nil
}

func (r *Recorder) ShowInfo(_ context.Context, message string, actions ...string) (string, error) {
	return r.show(models.NotificationInfo, message, actions)
}

func (r *Recorder) ShowWarning(_ context.Context, message string, actions ...string) (string, error) {
	return r.show(models.NotificationWarning, message, actions)
}

func (r *Recorder) ShowError(_ context.Context, message string, actions ...string) (string, error) {
	return r.show(models.NotificationError, message, actions)
}

func (r *Recorder) Confirm(_ context.Context, message string, options ...string) (string, error) {
	return r.show(models.NotificationConfirm, message, options)
}

func (r *Recorder) Rerender() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rerender++
}

func (r *Recorder) Sync(state *models.WizardState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synced = append(r.synced, state)
}

// Shown returns every notification so far.
func (r *Recorder) Shown() []Shown {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Shown(nil), r.shown...)
}

// Levels returns the level of every notification so far, in order.
func (r *Recorder) Levels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var levels []string
	for _, s := range r.shown {
		levels = append(levels, s.Level)
	}
	return levels
}

func (r *Recorder) Rerenders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rerender
}

// LastSync returns the most recent synced snapshot.
func (r *Recorder) LastSync() *models.WizardState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.synced) == 0 {
		return nil
	}
	return r.synced[len(r.synced)-1]
}

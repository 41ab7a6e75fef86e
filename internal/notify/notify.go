// Package notify defines the boundaries through which the wizard reaches
// the user: a UI that re-renders the current step and a notifier for
// messages and modal choices.
package notify

import (
	"context"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"go.uber.org/zap"
)

// UI is told to redraw after every mutation.
type UI interface {
	Rerender()
	// Sync pushes a snapshot of the state. The UI must not keep a reference
	// into a live state.
	Sync(state *models.WizardState)
}

// Notifier shows messages. Each call returns the action the user picked, or
// "" when the message was dismissed or the user could not be asked.
type Notifier interface {
	ShowInfo(ctx context.Context, message string, actions ...string) (string, error)
	ShowWarning(ctx context.Context, message string, actions ...string) (string, error)
	ShowError(ctx context.Context, message string, actions ...string) (string, error)
	// Confirm shows a modal choice.
	Confirm(ctx context.Context, message string, options ...string) (string, error)
}

// Log is a Notifier that writes to a logger and never receives a choice.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) ShowInfo(_ context.Context, message string, actions ...string) (string, error) {
	l.logger.Info(message, zap.Strings("actions", actions))
	return "", nil
}

func (l *Log) ShowWarning(_ context.Context, message string, actions ...string) (string, error) {
	l.logger.Warn(message, zap.Strings("actions", actions))
	return "", nil
}

func (l *Log) ShowError(_ context.Context, message string, actions ...string) (string, error) {
	l.logger.Error(message, zap.Strings("actions", actions))
	return "", nil
}

func (l *Log) Confirm(_ context.Context, message string, options ...string) (string, error) {
	l.logger.Info("confirmation requested without an attached client",
		zap.String("message", message),
		zap.Strings("options", options),
	)
	return "", nil
}

// NopUI ignores every redraw.
type NopUI struct{}

func (NopUI) Rerender()                {}
func (NopUI) Sync(*models.WizardState) {}

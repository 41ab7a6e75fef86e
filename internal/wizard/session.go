package wizard

import (
	"context"
	"fmt"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Choices offered by the session prompts.
const (
	ChoiceStartOver  = "Start Over"
	ChoiceCancel     = "Cancel"
	ChoiceResume     = "Resume"
	ChoiceStartFresh = "Start Fresh"
)

// StartOver asks for confirmation, then discards the session: persistence
// is cleared, the state reset and every handler detached. It reports
// whether the reset happened.
func (s *Sequencer) StartOver(ctx context.Context) (bool, error) {
	choice, err := s.notifier.Confirm(ctx, "Start over? All progress in this wizard will be lost.", ChoiceStartOver, ChoiceCancel)
	if err != nil {
		return false, fmt.Errorf("failed to confirm start over: %w", err)
	}
	if choice != ChoiceStartOver {
		return false, nil
	}
	return true, s.do(ctx, func() error {
		s.reset(ctx)
		return nil
	})
}

func (s *Sequencer) reset(ctx context.Context) {
	s.install(models.NewWizardState())
	if err := s.persist.Clear(ctx); err != nil {
		s.logger.Warn("failed to clear saved session", zap.Error(err))
	}
	s.render()
}

// Resume loads the saved session. A usable snapshot is offered to the user
// and adopted unless they choose to start fresh. Snapshots from another
// schema version or that cannot be read are discarded after one warning.
func (s *Sequencer) Resume(ctx context.Context) (persistence.Status, error) {
	ctx, span := s.tracer.Start(ctx, "wizard.resume")
	defer span.End()

	res := s.persist.Load(ctx)
	span.SetAttributes(attribute.String("snapshot.status", string(res.Status)))

	switch res.Status {
	case persistence.StatusNotFound:
		return res.Status, nil

	case persistence.StatusVersionMismatch:
		s.warn(ctx, fmt.Sprintf("Your saved session was created by a different version of the wizard (schema %d) and could not be restored. Starting fresh.", res.FoundVersion))
		return res.Status, s.do(ctx, func() error {
			s.reset(ctx)
			return nil
		})

	case persistence.StatusCorrupted:
		s.warn(ctx, "Your saved session could not be read and has been discarded. Starting fresh.")
		return res.Status, s.do(ctx, func() error {
			s.reset(ctx)
			return nil
		})
	}

	prompt := "Resume your previous wizard session?"
	if !res.SavedAt.IsZero() {
		prompt = fmt.Sprintf("Resume your wizard session from %s?", res.SavedAt.UTC().Format("Jan 2 15:04 MST"))
	}
	choice, err := s.notifier.Confirm(ctx, prompt, ChoiceResume, ChoiceStartFresh)
	if err != nil {
		return res.Status, fmt.Errorf("failed to confirm resume: %w", err)
	}
	if choice == ChoiceStartFresh {
		return res.Status, s.do(ctx, func() error {
			s.reset(ctx)
			return nil
		})
	}

	err = s.do(ctx, func() error {
		s.install(res.State)
		s.enter(ctx, res.State.CurrentStep)
		return nil
	})
	if err != nil {
		return res.Status, err
	}

	if f := res.State.BusinessContext.UploadedFile; f != nil && f.RequiresReupload {
		s.warn(ctx, fmt.Sprintf("Re-upload %s to include it in the business context.", f.Name))
	}
	s.logger.Info("wizard session resumed",
		zap.String("step", res.State.CurrentStep.String()),
		zap.Time("saved_at", res.SavedAt),
	)
	return res.Status, nil
}

func (s *Sequencer) warn(ctx context.Context, message string) {
	if _, err := s.notifier.ShowWarning(ctx, message); err != nil {
		s.logger.Warn("failed to show warning", zap.String("message", message), zap.Error(err))
	}
}

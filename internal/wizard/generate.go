package wizard

import (
	"context"
	"errors"
	"fmt"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/generation"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/validation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ChoiceRetry is offered when an artifact fails.
const ChoiceRetry = "Retry"

// Generate runs the generation pipeline and blocks until it stops. The
// pipeline works on a copy of the state; progress is posted back to the
// live state, unless the session was discarded in the meantime.
func (s *Sequencer) Generate(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "wizard.generate")
	defer span.End()

	run := func(state *models.WizardState, mutate generation.Mutator, obs generation.Observer) error {
		return s.pipeline.Run(ctx, state, mutate, obs)
	}
	err := s.generate(ctx, false, run)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
	}
	return err
}

// RetryGeneration resumes a partially failed run at the failed artifact.
func (s *Sequencer) RetryGeneration(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "wizard.retry_generation")
	defer span.End()

	var from string
	err := s.do(ctx, func() error {
		gs := s.state.Generation
		if gs.Phase != models.PhasePartialFailure || gs.FailedArtifact == nil {
			return ErrNothingToRetry
		}
		from = gs.FailedArtifact.Name
		return nil
	})
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("artifact.from", from))

	run := func(state *models.WizardState, mutate generation.Mutator, obs generation.Observer) error {
		return s.pipeline.RetryFailedArtifacts(ctx, state, from, mutate, obs)
	}
	err = s.generate(ctx, true, run)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation retry failed")
	}
	return err
}

// SetIncludeRoadmap toggles the optional roadmap artifact of the next run.
func (s *Sequencer) SetIncludeRoadmap(ctx context.Context, include bool) error {
	return s.do(ctx, func() error {
		if s.generating {
			return ErrGenerationRunning
		}
		s.state.Generation.IncludeRoadmap = include
		s.Changed()
		return nil
	})
}

type runFunc func(state *models.WizardState, mutate generation.Mutator, obs generation.Observer) error

func (s *Sequencer) generate(ctx context.Context, retry bool, run runFunc) error {
	if s.pipeline == nil {
		return fmt.Errorf("%w: no pipeline configured", ErrGenerationBlocked)
	}

	var (
		snapshot *models.WizardState
		epoch    int
	)
	err := s.do(ctx, func() error {
		if s.state.CurrentStep != models.StepGenerate {
			return ErrNotOnGenerateStep
		}
		if s.generating {
			return ErrGenerationRunning
		}
		s.state.Generation.CanGenerate = validation.CanAdvance(s.state)
		if !s.state.Generation.CanGenerate {
			s.render()
			return ErrGenerationBlocked
		}
		s.generating = true
		snapshot = s.state.Clone()
		epoch = s.epoch
		return nil
	})
	if err != nil {
		return err
	}

	mutate := func(fn func(*models.GenerationState)) {
		_ = s.exec.Do(context.WithoutCancel(ctx), func() {
			if s.epoch != epoch {
				return
			}
			fn(&s.state.Generation)
			s.render()
		})
	}
	runErr := run(snapshot, mutate, &progress{seq: s, ctx: ctx})

	var (
		succeeded bool
		failed    *models.FailedArtifact
	)
	err = s.do(context.WithoutCancel(ctx), func() error {
		if s.epoch != epoch {
			return nil
		}
		s.generating = false
		gs := s.state.Generation
		succeeded = gs.Phase == models.PhaseSuccess
		if gs.FailedArtifact != nil {
			f := *gs.FailedArtifact
			failed = &f
		}
		if succeeded {
			if err := s.persist.Clear(ctx); err != nil {
				s.logger.Warn("failed to clear saved session after generation", zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if runErr != nil {
		var artifactErr *generation.ArtifactError
		if errors.As(runErr, &artifactErr) && failed != nil {
			return s.offerRetry(ctx, failed, runErr)
		}
		return fmt.Errorf("failed to generate: %w", runErr)
	}
	if succeeded {
		s.logger.Info("generation finished", zap.Bool("retry", retry))
		if _, err := s.notifier.ShowInfo(ctx, "Your project files are ready."); err != nil {
			s.logger.Warn("failed to show notification", zap.Error(err))
		}
	}
	return nil
}

func (s *Sequencer) offerRetry(ctx context.Context, failed *models.FailedArtifact, runErr error) error {
	choice, err := s.notifier.ShowError(ctx, fmt.Sprintf("Generating %s failed: %s", failed.Name, failed.ErrorMessage), ChoiceRetry)
	if err != nil {
		s.logger.Warn("failed to show error", zap.Error(err))
	}
	if choice == ChoiceRetry {
		return s.RetryGeneration(ctx)
	}
	return runErr
}

// progress logs pipeline callbacks. State changes arrive through the mutator.
type progress struct {
	seq *Sequencer
	ctx context.Context
}

func (p *progress) OnArtifactStart(name string, index int) {
	p.seq.logger.Debug("artifact started", zap.String("artifact", name), zap.Int("index", index))
}

func (p *progress) OnArtifactComplete(name, path string) {
	p.seq.logger.Debug("artifact completed", zap.String("artifact", name), zap.String("path", path))
}

func (p *progress) OnArtifactError(name, message string) {
	p.seq.logger.Warn("artifact failed", zap.String("artifact", name), zap.String("error", message))
}

func (p *progress) OnArtifactSkipped(name string) {
	p.seq.logger.Debug("artifact skipped", zap.String("artifact", name))
}

func (p *progress) OnWarning(message string) {
	p.seq.warn(p.ctx, message)
}

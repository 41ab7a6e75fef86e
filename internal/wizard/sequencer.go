// Package wizard owns the wizard state and moves the user through the steps.
// Every mutation runs on one executor; callers on other goroutines go
// through Do.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/generation"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/metrics"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/notify"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/persistence"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/runloop"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/steps"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/stream"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/validation"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrStepLocked        = errors.New("step has not been reached yet")
	ErrValidationFailed  = errors.New("step has validation errors")
	ErrInvalidStep       = errors.New("invalid step")
	ErrNotSkippable      = errors.New("only the security step can be skipped")
	ErrGenerationBlocked = errors.New("generation blocked by validation errors")
	ErrGenerationRunning = errors.New("generation already running")
	ErrNotOnGenerateStep = errors.New("generation is only available on the generate step")
	ErrNothingToRetry    = errors.New("no failed artifact to retry")
)

// Persistence is the subset of *persistence.Service the sequencer uses.
type Persistence interface {
	Save(state *models.WizardState)
	SaveImmediate(ctx context.Context, state *models.WizardState) error
	Load(ctx context.Context) persistence.LoadResult
	Clear(ctx context.Context) error
}

// Pipeline is the subset of *generation.Pipeline the sequencer uses.
type Pipeline interface {
	Run(ctx context.Context, state *models.WizardState, mutate generation.Mutator, obs generation.Observer) error
	RetryFailedArtifacts(ctx context.Context, state *models.WizardState, from string, mutate generation.Mutator, obs generation.Observer) error
	ProbeExisting(ctx context.Context, mutate generation.Mutator) (bool, error)
}

// Config wires a Sequencer.
type Config struct {
	Exec        runloop.Executor
	Producer    stream.Producer
	Persistence Persistence
	Pipeline    Pipeline
	UI          notify.UI
	Notifier    notify.Notifier
	Logger      *zap.Logger
	Metrics     *metrics.GenerationMetrics
	Now         func() time.Time
}

type stepEntry struct {
	enter func(ctx context.Context)
}

// Sequencer is the aggregate root of one wizard session.
type Sequencer struct {
	exec     runloop.Executor
	producer stream.Producer
	persist  Persistence
	pipeline Pipeline
	ui       notify.UI
	notifier notify.Notifier
	logger   *zap.Logger
	metrics  *metrics.GenerationMetrics
	now      func() time.Time
	tracer   trace.Tracer

	table [models.StepCount + 1]stepEntry

	// Fields below are only touched on the executor.
	state      *models.WizardState
	handlers   *steps.Set
	session    string
	epoch      int
	generating bool
}

func New(cfg Config) *Sequencer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.UI == nil {
		cfg.UI = notify.NopUI{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewLog(cfg.Logger)
	}

	s := &Sequencer{
		exec:     cfg.Exec,
		producer: cfg.Producer,
		persist:  cfg.Persistence,
		pipeline: cfg.Pipeline,
		ui:       cfg.UI,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		tracer:   otel.Tracer("wizard"),
	}
	for step := models.StepGapFilling; step <= models.StepDemoStrategy; step++ {
		s.table[step] = stepEntry{enter: s.autoSend(step)}
	}
	s.table[models.StepGenerate] = stepEntry{enter: s.enterGenerate}
	s.install(models.NewWizardState())
	return s
}

// install makes state the live session and binds a fresh handler set to it.
// The previous handlers are detached so their in-flight streams are ignored.
func (s *Sequencer) install(state *models.WizardState) {
	if s.handlers != nil {
		s.handlers.Detach()
	}
	s.epoch++
	s.session = uuid.NewString()
	s.state = state
	s.generating = false
	s.handlers = steps.NewSet(state, steps.Deps{
		NewCoordinator: func() *stream.Coordinator {
			return stream.NewCoordinator(s.producer, s.exec, s.logger)
		},
		Host:    s,
		Now:     s.now,
		Logger:  s.logger,
		Metrics: s.metrics,
		Session: s.session,
	})
}

func (s *Sequencer) do(ctx context.Context, fn func() error) error {
	var err error
	if doErr := s.exec.Do(ctx, func() { err = fn() }); doErr != nil {
		return doErr
	}
	return err
}

// Changed implements steps.Host.
func (s *Sequencer) Changed() {
	s.render()
	s.persist.Save(s.state)
}

// Commit implements steps.Host.
func (s *Sequencer) Commit() {
	s.render()
	if err := s.persist.SaveImmediate(context.Background(), s.state); err != nil {
		s.logger.Warn("failed to save committed state", zap.Error(err))
	}
}

// Streamed implements steps.Host.
func (s *Sequencer) Streamed() {
	s.render()
}

func (s *Sequencer) render() {
	s.ui.Sync(s.state.Clone())
	s.ui.Rerender()
}

// Snapshot returns a copy of the current state.
func (s *Sequencer) Snapshot(ctx context.Context) (*models.WizardState, error) {
	var out *models.WizardState
	err := s.do(ctx, func() error {
		out = s.state.Clone()
		return nil
	})
	return out, err
}

// Session returns the id that prefixes the conversation ids of the live session.
func (s *Sequencer) Session(ctx context.Context) (string, error) {
	var id string
	err := s.do(ctx, func() error {
		id = s.session
		return nil
	})
	return id, err
}

// Next validates the current step and advances. A step in error stays put
// with ValidationAttempted set; the result explains why.
func (s *Sequencer) Next(ctx context.Context) (validation.Result, error) {
	var res validation.Result
	err := s.do(ctx, func() error {
		cur := s.state.CurrentStep
		if cur >= models.StepGenerate {
			return fmt.Errorf("%w: %s is the last step", ErrInvalidStep, cur)
		}
		res = validation.StatusForStep(cur, s.state)
		if res.Status == validation.StatusError {
			s.state.ValidationAttempted = true
			s.Changed()
			return ErrValidationFailed
		}
		s.saveNow(ctx)
		s.enter(ctx, cur+1)
		return nil
	})
	return res, err
}

// Back moves to the previous step without validating.
func (s *Sequencer) Back(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.state.CurrentStep <= models.StepBusinessContext {
			return nil
		}
		s.enter(ctx, s.state.CurrentStep-1)
		return nil
	})
}

// GoTo jumps to a step already reached. Forward jumps validate every step
// passed over and stop at the first one in error.
func (s *Sequencer) GoTo(ctx context.Context, step models.Step) (validation.Result, error) {
	var res validation.Result
	err := s.do(ctx, func() error {
		if !step.Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidStep, int(step))
		}
		if step > s.state.HighestStepReached {
			return fmt.Errorf("%w: %s", ErrStepLocked, step)
		}
		for cur := s.state.CurrentStep; cur < step; cur++ {
			res = validation.StatusForStep(cur, s.state)
			if res.Status != validation.StatusError {
				continue
			}
			if cur != s.state.CurrentStep {
				s.enter(ctx, cur)
			}
			s.state.ValidationAttempted = true
			s.Changed()
			return ErrValidationFailed
		}
		if step > s.state.CurrentStep {
			s.saveNow(ctx)
		}
		s.enter(ctx, step)
		return nil
	})
	return res, err
}

// SkipSecurity records the opt-out with default guardrails and advances.
func (s *Sequencer) SkipSecurity(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.state.CurrentStep != models.StepSecurity {
			return ErrNotSkippable
		}
		s.handlers.Security.Skip()
		s.enter(ctx, models.StepAgentDesign)
		return nil
	})
}

// Apply runs an edit against the live handlers.
func (s *Sequencer) Apply(ctx context.Context, fn func(*steps.Set) error) error {
	return s.do(ctx, func() error { return fn(s.handlers) })
}

// Regenerate clears the conversation of a reached step and asks again.
func (s *Sequencer) Regenerate(ctx context.Context, step models.Step, section steps.Section) error {
	return s.do(ctx, func() error {
		if err := s.reached(step); err != nil {
			return err
		}
		return s.handlers.Regenerate(ctx, step, section, s.state)
	})
}

// Retry resends the last unanswered message of a reached step.
func (s *Sequencer) Retry(ctx context.Context, step models.Step, section steps.Section) error {
	return s.do(ctx, func() error {
		if err := s.reached(step); err != nil {
			return err
		}
		return s.handlers.Retry(ctx, step, section, s.state)
	})
}

// SendMessage sends a follow-up in the conversation of a reached step.
func (s *Sequencer) SendMessage(ctx context.Context, step models.Step, section steps.Section, text string) error {
	return s.do(ctx, func() error {
		if err := s.reached(step); err != nil {
			return err
		}
		return s.handlers.FollowUp(ctx, step, section, text)
	})
}

func (s *Sequencer) reached(step models.Step) error {
	if !step.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStep, int(step))
	}
	if step > s.state.HighestStepReached {
		return fmt.Errorf("%w: %s", ErrStepLocked, step)
	}
	return nil
}

func (s *Sequencer) saveNow(ctx context.Context) {
	if err := s.persist.SaveImmediate(ctx, s.state); err != nil {
		s.logger.Warn("failed to save state before navigation", zap.Error(err))
	}
}

func (s *Sequencer) enter(ctx context.Context, step models.Step) {
	s.state.CurrentStep = step
	if step > s.state.HighestStepReached {
		s.state.HighestStepReached = step
	}
	s.state.ValidationAttempted = false
	s.Changed()

	if e := s.table[step]; e.enter != nil {
		e.enter(ctx)
	}
}

func (s *Sequencer) autoSend(step models.Step) func(context.Context) {
	return func(ctx context.Context) {
		if _, err := s.handlers.Enter(ctx, step, s.state); err != nil {
			s.logger.Warn("auto-send on step entry failed",
				zap.String("step", step.String()),
				zap.Error(err),
			)
		}
	}
}

func (s *Sequencer) enterGenerate(ctx context.Context) {
	s.state.Generation.CanGenerate = validation.CanAdvance(s.state)
	if s.pipeline == nil || s.generating {
		s.render()
		return
	}
	adopted, err := s.pipeline.ProbeExisting(ctx, func(fn func(*models.GenerationState)) {
		fn(&s.state.Generation)
	})
	if err != nil {
		s.logger.Warn("failed to probe existing artifacts", zap.Error(err))
	}
	if adopted {
		s.logger.Info("existing generated output adopted")
	}
	s.render()
}

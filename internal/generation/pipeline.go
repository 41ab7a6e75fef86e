// Package generation drives the ordered creation of wizard artifacts.
package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/filestore"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/metrics"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("generation-pipeline")

var (
	// ErrInvalidTransition is returned when a run is requested from a phase that does not allow it.
	ErrInvalidTransition = errors.New("invalid generation phase transition")
	// ErrUnknownArtifact is returned by a retry naming an artifact not in the pipeline.
	ErrUnknownArtifact = errors.New("unknown artifact")
)

// ArtifactError reports the artifact that halted a run.
type ArtifactError struct {
	Name string
	Err  error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("artifact %s failed: %v", e.Name, e.Err)
}

func (e *ArtifactError) Unwrap() error { return e.Err }

// allowedTransitions is the generation state machine. Idle -> Success is
// the adoption of a complete set found on disk.
var allowedTransitions = map[models.GenerationPhase][]models.GenerationPhase{
	models.PhaseIdle:           {models.PhaseGenerating, models.PhaseSuccess},
	models.PhaseGenerating:     {models.PhaseSuccess, models.PhasePartialFailure},
	models.PhaseSuccess:        {models.PhaseGenerating},
	models.PhasePartialFailure: {models.PhaseGenerating},
}

func validateTransition(from, to models.GenerationPhase) error {
	if from == "" {
		from = models.PhaseIdle
	}
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Mutator applies fn to the live generation state, serialised with every
// other wizard mutation.
type Mutator func(fn func(*models.GenerationState))

// Observer receives per-artifact progress. Calls happen after the matching
// state mutation has been applied.
type Observer interface {
	OnArtifactStart(name string, index int)
	OnArtifactComplete(name, path string)
	OnArtifactError(name, message string)
	OnArtifactSkipped(name string)
}

// WarningObserver is optionally implemented by observers that surface
// non-blocking warnings.
type WarningObserver interface {
	OnWarning(message string)
}

// NopObserver ignores all progress.
type NopObserver struct{}

func (NopObserver) OnArtifactStart(string, int)       {}
func (NopObserver) OnArtifactComplete(string, string) {}
func (NopObserver) OnArtifactError(string, string)    {}
func (NopObserver) OnArtifactSkipped(string)          {}

// Installer runs after a successful run. Its failure never fails the run.
type Installer interface {
	Install(ctx context.Context, state *models.WizardState) ([]string, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.GenerationMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithInstaller sets the auxiliary step run after success.
func WithInstaller(i Installer) Option {
	return func(p *Pipeline) { p.installer = i }
}

// Pipeline generates artifacts strictly in declared order. A failing artifact
// stops the run; later artifacts may depend on earlier output.
type Pipeline struct {
	artifacts []Artifact
	files     filestore.Store
	installer Installer
	logger    *zap.Logger
	metrics   *metrics.GenerationMetrics
	tracer    trace.Tracer
}

// New creates a pipeline writing to files.
func New(artifacts []Artifact, files filestore.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		artifacts: artifacts,
		files:     files,
		logger:    zap.NewNop(),
		tracer:    tracer,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Artifacts returns the declared artifacts.
func (p *Pipeline) Artifacts() []Artifact {
	return p.artifacts
}

func (p *Pipeline) index(name string) int {
	for i, a := range p.artifacts {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// Run performs a fresh run over every artifact. Completed artifacts, paths
// and any prior failure are reset first.
func (p *Pipeline) Run(ctx context.Context, state *models.WizardState, mutate Mutator, obs Observer) error {
	var err error
	mutate(func(gs *models.GenerationState) {
		if err = validateTransition(gs.Phase, models.PhaseGenerating); err != nil {
			return
		}
		gs.Phase = models.PhaseGenerating
		gs.IsGenerating = true
		gs.CurrentArtifactIndex = -1
		gs.CompletedArtifacts = nil
		gs.GeneratedPaths = nil
		gs.FailedArtifact = nil
		gs.Outcomes = nil
		gs.Warnings = nil
		gs.AdoptedExisting = false
	})
	if err != nil {
		return err
	}

	return p.loop(ctx, state, 0, map[string]string{}, mutate, obs, false)
}

// RetryFailedArtifacts resumes a partially failed run at from, inclusive.
// Earlier completed artifacts are kept and their output is reloaded from the
// file store; new paths are appended to the existing ones.
func (p *Pipeline) RetryFailedArtifacts(ctx context.Context, state *models.WizardState, from string, mutate Mutator, obs Observer) error {
	start := p.index(from)
	if start < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownArtifact, from)
	}

	var (
		err  error
		kept []string
	)
	mutate(func(gs *models.GenerationState) {
		if gs.Phase != models.PhasePartialFailure {
			err = fmt.Errorf("%w: retry requires %s, phase is %s", ErrInvalidTransition, models.PhasePartialFailure, gs.Phase)
			return
		}
		if err = validateTransition(gs.Phase, models.PhaseGenerating); err != nil {
			return
		}
		gs.Phase = models.PhaseGenerating
		gs.IsGenerating = true
		gs.FailedArtifact = nil
		gs.CompletedArtifacts = p.before(gs.CompletedArtifacts, start)
		var outcomes []models.ArtifactOutcome
		for _, o := range gs.Outcomes {
			if i := p.index(o.Name); i >= 0 && i < start {
				outcomes = append(outcomes, o)
			}
		}
		gs.Outcomes = outcomes
		kept = append(kept, gs.CompletedArtifacts...)
	})
	if err != nil {
		return err
	}

	prior := p.loadPrior(ctx, kept)
	return p.loop(ctx, state, start, prior, mutate, obs, true)
}

// before keeps the names declared earlier than index.
func (p *Pipeline) before(names []string, index int) []string {
	var out []string
	for _, n := range names {
		if i := p.index(n); i >= 0 && i < index {
			out = append(out, n)
		}
	}
	return out
}

func (p *Pipeline) loadPrior(ctx context.Context, names []string) map[string]string {
	prior := make(map[string]string, len(names))
	for _, name := range names {
		a := p.artifacts[p.index(name)]
		if a.Dir {
			continue
		}
		data, err := p.files.Read(ctx, a.Path)
		if err != nil {
			p.logger.Warn("failed to reload completed artifact",
				zap.String("artifact", name),
				zap.Error(err),
			)
			continue
		}
		prior[name] = string(data)
	}
	return prior
}

func (p *Pipeline) loop(ctx context.Context, state *models.WizardState, from int, prior map[string]string, mutate Mutator, obs Observer, retry bool) error {
	ctx, span := p.tracer.Start(ctx, "generation.run")
	defer span.End()
	span.SetAttributes(
		attribute.Bool("run.retry", retry),
		attribute.Int("run.from", from),
		attribute.Int("run.artifacts", len(p.artifacts)),
	)

	started := time.Now()
	p.metrics.RecordRunStarted(ctx, retry)

	for i := from; i < len(p.artifacts); i++ {
		a := p.artifacts[i]

		if a.Gate != nil && !a.Gate(state) {
			mutate(func(gs *models.GenerationState) {
				upsertOutcome(gs, models.ArtifactOutcome{Name: a.Name, Skipped: true})
			})
			p.metrics.RecordArtifactSkipped(ctx, a.Name)
			p.logger.Info("artifact skipped", zap.String("artifact", a.Name))
			obs.OnArtifactSkipped(a.Name)
			continue
		}

		mutate(func(gs *models.GenerationState) { gs.CurrentArtifactIndex = i })
		obs.OnArtifactStart(a.Name, i)

		files, err := p.produce(ctx, a, Input{State: state, Prior: prior})
		if err != nil {
			msg := err.Error()
			mutate(func(gs *models.GenerationState) {
				gs.Phase = models.PhasePartialFailure
				gs.IsGenerating = false
				gs.CurrentArtifactIndex = -1
				gs.FailedArtifact = &models.FailedArtifact{Name: a.Name, ErrorMessage: msg}
				upsertOutcome(gs, models.ArtifactOutcome{Name: a.Name, Error: msg})
			})
			span.RecordError(err)
			span.SetStatus(codes.Error, "artifact failed")
			p.metrics.RecordArtifactFailed(ctx, a.Name, "generator_error")
			p.metrics.RecordRunFinished(ctx, string(models.PhasePartialFailure), time.Since(started))
			p.logger.Warn("artifact failed, stopping run",
				zap.String("artifact", a.Name),
				zap.Int("index", i),
				zap.Error(err),
			)
			obs.OnArtifactError(a.Name, msg)
			return &ArtifactError{Name: a.Name, Err: err}
		}

		paths := make([]string, 0, len(files))
		for _, f := range files {
			paths = append(paths, f.Path)
		}
		prior[a.Name] = string(files[0].Content)

		mutate(func(gs *models.GenerationState) {
			gs.CompletedArtifacts = append(gs.CompletedArtifacts, a.Name)
			gs.GeneratedPaths = appendUnique(gs.GeneratedPaths, paths...)
			upsertOutcome(gs, models.ArtifactOutcome{Name: a.Name, Paths: paths, Completed: true})
		})
		p.metrics.RecordArtifactCompleted(ctx, a.Name)
		p.logger.Info("artifact completed",
			zap.String("artifact", a.Name),
			zap.Strings("paths", paths),
		)
		obs.OnArtifactComplete(a.Name, primaryPath(a, paths))
	}

	mutate(func(gs *models.GenerationState) {
		gs.Phase = models.PhaseSuccess
		gs.IsGenerating = false
		gs.CurrentArtifactIndex = -1
	})
	p.metrics.RecordRunFinished(ctx, string(models.PhaseSuccess), time.Since(started))

	p.runInstaller(ctx, state, mutate, obs)
	return nil
}

func (p *Pipeline) produce(ctx context.Context, a Artifact, in Input) ([]File, error) {
	files, err := a.Generator.Generate(ctx, a, in)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("generator produced no files for %s", a.Name)
	}
	for _, f := range files {
		if err := p.files.Write(ctx, f.Path, f.Content); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
	}
	return files, nil
}

func (p *Pipeline) runInstaller(ctx context.Context, state *models.WizardState, mutate Mutator, obs Observer) {
	if p.installer == nil {
		return
	}
	installed, err := p.installer.Install(ctx, state)
	if err != nil {
		msg := fmt.Sprintf("Agent template was not installed: %v", err)
		p.logger.Warn("template install failed", zap.Error(err))
		mutate(func(gs *models.GenerationState) {
			gs.Warnings = append(gs.Warnings, msg)
		})
		if w, ok := obs.(WarningObserver); ok {
			w.OnWarning(msg)
		}
		return
	}
	p.logger.Info("agent template installed", zap.Strings("paths", installed))
}

// ProbeExisting adopts a complete set of required artifacts already present
// in the file store, without regenerating. It only acts on an idle state.
func (p *Pipeline) ProbeExisting(ctx context.Context, mutate Mutator) (bool, error) {
	var phase models.GenerationPhase
	mutate(func(gs *models.GenerationState) { phase = gs.Phase })
	if phase != "" && phase != models.PhaseIdle {
		return false, nil
	}

	var (
		completed []string
		paths     []string
		outcomes  []models.ArtifactOutcome
	)
	for _, a := range p.artifacts {
		found, err := p.existingPaths(ctx, a)
		if err != nil {
			return false, err
		}
		if len(found) == 0 {
			if a.Required {
				return false, nil
			}
			outcomes = append(outcomes, models.ArtifactOutcome{Name: a.Name, Skipped: true})
			continue
		}
		completed = append(completed, a.Name)
		paths = append(paths, found...)
		outcomes = append(outcomes, models.ArtifactOutcome{Name: a.Name, Paths: found, Completed: true})
	}

	var err error
	mutate(func(gs *models.GenerationState) {
		if err = validateTransition(gs.Phase, models.PhaseSuccess); err != nil {
			return
		}
		gs.Phase = models.PhaseSuccess
		gs.IsGenerating = false
		gs.CurrentArtifactIndex = -1
		gs.CompletedArtifacts = completed
		gs.GeneratedPaths = paths
		gs.FailedArtifact = nil
		gs.Outcomes = outcomes
		gs.AdoptedExisting = true
	})
	if err != nil {
		return false, err
	}
	p.logger.Info("adopted existing artifacts", zap.Int("artifacts", len(completed)))
	return true, nil
}

func (p *Pipeline) existingPaths(ctx context.Context, a Artifact) ([]string, error) {
	ok, err := p.files.Exists(ctx, a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", a.Path, err)
	}
	if !ok {
		return nil, nil
	}
	if !a.Dir {
		return []string{a.Path}, nil
	}
	names, err := p.files.List(ctx, a.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, path.Join(a.Path, n))
	}
	return out, nil
}

func primaryPath(a Artifact, paths []string) string {
	if a.Dir {
		return a.Path
	}
	return paths[0]
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		dup := false
		for _, existing := range list {
			if existing == item {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, item)
		}
	}
	return list
}

func upsertOutcome(gs *models.GenerationState, o models.ArtifactOutcome) {
	for i := range gs.Outcomes {
		if gs.Outcomes[i].Name == o.Name {
			gs.Outcomes[i] = o
			return
		}
	}
	gs.Outcomes = append(gs.Outcomes, o)
}

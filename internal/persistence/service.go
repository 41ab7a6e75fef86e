// Package persistence snapshots wizard state with debounced and immediate
// saves, and classifies stored snapshots on load.
package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("session-persistence")

// DefaultDebounce is the quiet interval before a debounced save is written.
const DefaultDebounce = 500 * time.Millisecond

const flushTimeout = 10 * time.Second

// Status classifies the result of Load.
type Status string

const (
	StatusLoaded          Status = "loaded"
	StatusNotFound        Status = "not_found"
	StatusVersionMismatch Status = "version_mismatch"
	StatusCorrupted       Status = "corrupted"
)

// LoadResult is returned by Load. State is set only when Status is loaded.
type LoadResult struct {
	Status       Status
	State        *models.WizardState
	SavedAt      time.Time
	FoundVersion int
	Err          error
}

// Timer is the part of *time.Timer the service needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Option configures a Service.
type Option func(*Service)

// WithDebounce sets the quiet interval.
func WithDebounce(d time.Duration) Option {
	return func(s *Service) { s.delay = d }
}

// WithClock overrides the source of savedAt timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAfterFunc overrides timer scheduling.
func WithAfterFunc(f AfterFunc) Option {
	return func(s *Service) { s.afterFunc = f }
}

// Service writes snapshots to a Store.
// Writes are sequenced so that an older snapshot never overwrites a newer one.
type Service struct {
	store     Store
	delay     time.Duration
	now       func() time.Time
	afterFunc AfterFunc
	logger    *zap.Logger
	tracer    trace.Tracer

	mu         sync.Mutex
	timer      Timer
	pending    []byte
	pendingSeq uint64
	seq        uint64
	closed     bool

	writeMu sync.Mutex
	written uint64
}

// NewService creates a persistence service over store.
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  store,
		delay:  DefaultDebounce,
		now:    time.Now,
		logger: logger,
		tracer: tracer,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save schedules a debounced write of state. Rapid calls coalesce into one
// write of the latest state once the quiet interval elapses.
func (s *Service) Save(state *models.WizardState) {
	data, err := Encode(state, s.now())
	if err != nil {
		s.logger.Error("failed to encode snapshot", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.seq++
	s.pending = data
	s.pendingSeq = s.seq
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.afterFunc(s.delay, s.flushFromTimer)
}

// SaveImmediate writes state now and drops any pending debounced save.
func (s *Service) SaveImmediate(ctx context.Context, state *models.WizardState) error {
	data, err := Encode(state, s.now())
	if err != nil {
		return err
	}
	seq := s.takeSequence()
	return s.write(ctx, data, seq, "immediate")
}

// Flush writes a pending debounced save, if any.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	data, seq := s.pending, s.pendingSeq
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if data == nil {
		return nil
	}
	return s.write(ctx, data, seq, "debounced")
}

// Pending reports whether a debounced save is waiting.
func (s *Service) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Load reads and classifies the stored snapshot. Read failures are
// reported as corrupted so that callers reset instead of adopting state.
func (s *Service) Load(ctx context.Context) LoadResult {
	ctx, span := s.tracer.Start(ctx, "persistence.load")
	defer span.End()

	data, err := s.store.Read(ctx)
	if errors.Is(err, ErrNotFound) {
		span.SetAttributes(attribute.String("snapshot.status", string(StatusNotFound)))
		return LoadResult{Status: StatusNotFound}
	}
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("failed to read snapshot", zap.Error(err))
		return LoadResult{Status: StatusCorrupted, Err: err}
	}

	result := Decode(data)
	span.SetAttributes(
		attribute.String("snapshot.status", string(result.Status)),
		attribute.Int("snapshot.version", result.FoundVersion),
	)
	if result.Err != nil {
		s.logger.Warn("snapshot rejected",
			zap.String("status", string(result.Status)),
			zap.Error(result.Err),
		)
	}
	return result
}

// Clear deletes the stored snapshot and discards any pending save.
func (s *Service) Clear(ctx context.Context) error {
	seq := s.takeSequence()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if seq > s.written {
		s.written = seq
	}
	if err := s.store.Delete(ctx); err != nil {
		s.logger.Warn("failed to clear snapshot", zap.Error(err))
		return err
	}
	return nil
}

// Close flushes any pending save and stops accepting new ones.
func (s *Service) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}

// takeSequence cancels the pending save and reserves the next sequence number.
func (s *Service) takeSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return s.seq
}

func (s *Service) flushFromTimer() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.logger.Warn("debounced save failed", zap.Error(err))
	}
}

func (s *Service) write(ctx context.Context, data []byte, seq uint64, mode string) error {
	ctx, span := s.tracer.Start(ctx, "persistence.save")
	defer span.End()
	span.SetAttributes(
		attribute.String("save.mode", mode),
		attribute.Int("snapshot.bytes", len(data)),
	)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if seq <= s.written {
		span.SetAttributes(attribute.Bool("save.superseded", true))
		return nil
	}
	if err := s.store.Write(ctx, data); err != nil {
		span.RecordError(err)
		s.logger.Warn("failed to save snapshot", zap.String("mode", mode), zap.Error(err))
		return err
	}
	s.written = seq
	return nil
}

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/config"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/filestore"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/gateway"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/generation"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/metrics"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/orchestration"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/persistence"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/runloop"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/stream"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/stream/anthropic"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/wizard"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// newProducer picks the AI backend. The health func is nil when the backend has no probe.
func newProducer(cfg *config.Config, logger *zap.Logger) (stream.Producer, func(context.Context) bool) {
	if cfg.AI.Backend == config.BackendRuntime {
		p := orchestration.NewRuntimeProducer(orchestration.NewRuntimeClient(cfg.AI.RuntimeURL, logger), logger)
		return p, p.Healthy
	}
	return anthropic.NewProducer(cfg.AI.AnthropicAPIKey, logger,
		anthropic.WithModel(cfg.AI.Model),
		anthropic.WithMaxTokens(cfg.AI.MaxTokens),
	), nil
}

// wiring holds the process-wide dependencies every wizard session shares.
type wiring struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	producer  stream.Producer
	metrics   *metrics.GenerationMetrics
	templates afero.Fs
	logger    *zap.Logger
}

// newSession implements gateway.Factory. Each workspace gets its own
// run loop, snapshot store and project directory.
func (w *wiring) newSession(ctx context.Context, workspaceID string, hub *gateway.Hub) (*wizard.Sequencer, func(context.Context) error, error) {
	logger := w.logger.With(zap.String("workspace_id", workspaceID))

	dir := filepath.Join(w.cfg.Workspace.Dir, workspaceID)
	if err := afero.NewOsFs().MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	files := filestore.NewOS(dir)

	var store persistence.Store
	switch w.cfg.Persistence.Store {
	case config.StorePostgres:
		if w.pool == nil {
			return nil, nil, fmt.Errorf("snapshot store %q needs a database", config.StorePostgres)
		}
		store = persistence.NewPostgresStore(w.pool, workspaceID)
	case config.StoreMemory:
		store = persistence.NewMemoryStore()
	default:
		store = persistence.NewFileStore(files, persistence.DefaultSnapshotPath)
	}
	persist := persistence.NewService(store, logger, persistence.WithDebounce(w.cfg.Persistence.Debounce))

	loopCtx, stop := context.WithCancel(context.Background())
	loop := runloop.New()
	go loop.Run(loopCtx)

	ai, err := generation.NewAIGenerator(stream.NewCoordinator(w.producer, loop, logger), logger,
		generation.WithConversationPrefix(workspaceID),
	)
	if err != nil {
		stop()
		return nil, nil, err
	}
	opts := []generation.Option{
		generation.WithLogger(logger),
		generation.WithMetrics(w.metrics),
	}
	if w.templates != nil {
		opts = append(opts, generation.WithInstaller(generation.NewTemplateInstaller(w.templates, files)))
	}
	pipeline := generation.New(generation.DefaultArtifacts(ai), files, opts...)

	seq := wizard.New(wizard.Config{
		Exec:        loop,
		Producer:    w.producer,
		Persistence: persist,
		Pipeline:    pipeline,
		UI:          hub,
		Notifier:    hub,
		Logger:      logger,
		Metrics:     w.metrics,
	})
	logger.Info("wizard session created", zap.String("snapshot_store", w.cfg.Persistence.Store))

	closeFn := func(ctx context.Context) error {
		err := persist.Close(ctx)
		stop()
		<-loop.Done()
		return err
	}
	return seq, closeFn, nil
}

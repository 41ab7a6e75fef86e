package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/auth"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/config"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/database"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/gateway"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/logging"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/metrics"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/afero"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	_ "github.com/bizmatters/agent-builder/agentify-wizard/docs" // swagger docs
)

// @title Agentify Wizard API
// @version 1.0
// @description Guided wizard that turns a customer's business context into a multi-agent demo project.
// @description
// @description Eight steps collect business context, AI gap-filling, outcomes, security, agent design, mock data and demo strategy,
// @description then the generate step writes steering documents, policies and the demo script into the workspace.

// @contact.name API Support
// @contact.email support@bizmatters.dev

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the JWT token.

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agentify-wizard: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(afero.NewOsFs())
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	for _, setting := range cfg.Defaulted {
		logger.Warn("setting not configured, using default", zap.String("setting", setting))
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	shutdownTracer, err := initTracer()
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if cfg.Database.URL != "" {
		logger.Info("connecting to PostgreSQL database")
		pool, err = database.Connect(ctx, cfg.Database.URL, cfg.Database.ConnectAttempts, cfg.Database.ConnectDelay, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("connected to PostgreSQL database")
	}

	producer, producerHealthy := newProducer(cfg, logger)
	generationMetrics, err := metrics.NewGenerationMetrics()
	if err != nil {
		return err
	}
	w := &wiring{
		cfg:      cfg,
		pool:     pool,
		producer: producer,
		metrics:  generationMetrics,
		logger:   logger,
	}
	if cfg.Workspace.Templates != "" {
		w.templates = afero.NewBasePathFs(afero.NewOsFs(), cfg.Workspace.Templates)
	}

	sessions := gateway.NewSessions(w.newSession, logger, gateway.DefaultPromptTimeout)
	jwtManager, err := auth.NewJWTManager(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}

	var authenticator gateway.Authenticator
	if pool != nil {
		authenticator = users.NewStore(pool)
	} else {
		logger.Warn("no database configured, login is disabled; mint tokens with wizardctl token")
	}

	handler := gateway.NewHandler(gateway.HandlerConfig{
		Sessions:       sessions,
		JWTManager:     jwtManager,
		Users:          authenticator,
		TokenTTL:       cfg.Auth.TokenTTL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	if !cfg.Log.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), logging.Requests(logger))

	// Health checks MUST be at the root for the WebService standard
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ready", func(c *gin.Context) {
		if pool != nil {
			if err := pool.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "database connection failed"})
				return
			}
		}
		if producerHealthy != nil && !producerHealthy(c.Request.Context()) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "agent runtime unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	handler.RegisterRoutes(router, auth.RequireAuth(jwtManager, logger))

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting agentify wizard API server",
			zap.String("port", cfg.Server.Port),
			zap.String("ai_backend", cfg.AI.Backend),
			zap.String("snapshot_store", cfg.Persistence.Store),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}
	if err := handler.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("generation runs did not stop: %w", err))
	}
	// Flushes pending snapshots.
	if err := sessions.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to close wizard sessions: %w", err))
	}
	logger.Info("server exited")
	return errors.Join(errs...)
}

// initTracer initializes OpenTelemetry tracing
func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

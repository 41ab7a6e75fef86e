// Package database opens the PostgreSQL pool and creates the tables the
// service owns.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/persistence"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/users"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Connect opens a pool and pings it, retrying while the database comes up.
func Connect(ctx context.Context, url string, attempts int, delay time.Duration, logger *zap.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if attempts < 1 {
		attempts = 1
	}

	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		pool, err := pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		logger.Warn("waiting for database",
			zap.Int("attempt", i),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		if i == attempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", attempts, lastErr)
}

// Migrate creates the users and wizard snapshot tables.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if err := users.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	return persistence.EnsureSchema(ctx, pool)
}

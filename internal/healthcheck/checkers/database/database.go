// Package database checks connectivity to the backing Postgres pool.
package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/leadlinehq/leadline/internal/healthcheck"
)

const checkTypeDatabase = "database.connection"

// Pinger is the slice of the pgx pool the checker needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker evaluates database connectivity.
type Checker struct {
	logger *slog.Logger
	pool   Pinger
}

// NewChecker creates a database health checker.
func NewChecker(log *slog.Logger, pool Pinger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger: log.With(slog.String("checker", "healthcheck_database")),
		pool:   pool,
	}
}

// ListChecks pings the pool with a short deadline.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if c.pool == nil {
		return []healthcheck.CheckResult{{
			ID:      checkTypeDatabase,
			Type:    checkTypeDatabase,
			Status:  healthcheck.StatusWarn,
			Summary: "Database pool is not available.",
			Detail:  "pool is nil",
		}}
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	started := time.Now()
	if err := c.pool.Ping(ctx); err != nil {
		c.logger.Warn("database ping failed", slog.Any("error", err))
		return []healthcheck.CheckResult{{
			ID:      checkTypeDatabase,
			Type:    checkTypeDatabase,
			Status:  healthcheck.StatusError,
			Summary: "Database is unreachable.",
			Detail:  err.Error(),
		}}
	}
	return []healthcheck.CheckResult{{
		ID:      checkTypeDatabase,
		Type:    checkTypeDatabase,
		Status:  healthcheck.StatusOK,
		Summary: "Database is reachable.",
		Metadata: map[string]any{
			"latency_ms": time.Since(started).Milliseconds(),
		},
	}}
}

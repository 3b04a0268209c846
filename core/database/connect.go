package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/m3rciful/leakbot/core/logger"
)

const connectTimeout = 5 * time.Second

// target describes the server in log lines without credentials.
func (c Config) target() []any {
	return []any{
		slog.String("driver", "postgres"),
		slog.String("host", c.Host),
		slog.String("port", c.Port),
		slog.String("db", c.Name),
	}
}

// Connect opens a pool, sizes it from MaxConnections and pings the server.
func Connect(cfg Config) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	start := time.Now()
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.KeywordDSN())
	if err != nil {
		logger.DB.Error("db connect failed", append(cfg.target(),
			slog.String("event", "db.connect"),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)...)
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if n := cfg.MaxConnections; n > 0 {
		db.SetMaxOpenConns(n)
		db.SetMaxIdleConns(n)
	}
	logger.DB.Info("db connected", append(cfg.target(),
		slog.String("event", "db.connect"),
		slog.Int("pool_open", cfg.MaxConnections),
		slog.Duration("duration", logger.Took(start)),
	)...)
	return db, nil
}

// WaitForPostgres pings the database with exponential backoff until it answers or timeout passes.
func WaitForPostgres(ctx context.Context, dsn string, timeout time.Duration) error {
	start := time.Now()
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		defer func() { _ = db.Close() }()
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			logger.DB.Debug("db not ready",
				slog.String("event", "db.wait"),
				slog.String("status", "retry"),
				slog.Int("attempt", attempts),
				slog.String("err", err.Error()),
			)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(timeout))
	if err != nil {
		return fmt.Errorf("timeout reached waiting for database after %d attempts: %w", attempts, err)
	}
	logger.DB.Info("db reachable",
		slog.String("event", "db.wait"),
		slog.String("status", "ok"),
		slog.Int("attempt", attempts),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

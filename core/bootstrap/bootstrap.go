// Package bootstrap brings up shared infrastructure before the app is wired.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/leakbot/core/config"
	coredatabase "github.com/m3rciful/leakbot/core/database"
	"github.com/m3rciful/leakbot/core/logger"
)

// Options control the bootstrap pipeline. Nil hooks use the real implementations.
type Options struct {
	Config *coreconfig.Config

	// Database is used only when UseDatabase is set.
	UseDatabase bool
	Database    coredatabase.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(coredatabase.Config) error
}

// Result holds the infrastructure Run brought up. DB is nil without a database.
type Result struct {
	DB *sqlx.DB
}

// Run initializes the logger and, when requested, waits for the database,
// connects and applies migrations.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, errors.New("bootstrap: nil config provided")
	}
	initLogger := opts.LoggerInit
	if initLogger == nil {
		initLogger = logger.InitLogger
	}
	if err := initLogger(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init: %w", err)
	}
	if !opts.UseDatabase {
		return &Result{}, nil
	}
	db, err := openDatabase(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return &Result{DB: db}, nil
}

func openDatabase(ctx context.Context, opts Options) (*sqlx.DB, error) {
	start := time.Now()
	cfg := opts.Database
	connect, migrate := opts.Connect, opts.Migrate

	// An injected connector is a test double; there is nothing to wait for.
	if cfg.WaitSeconds > 0 && connect == nil {
		wait := time.Duration(cfg.WaitSeconds) * time.Second
		if err := coredatabase.WaitForPostgres(ctx, cfg.KeywordDSN(), wait); err != nil {
			return nil, err
		}
	}
	if connect == nil {
		connect = coredatabase.Connect
	}
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	db, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connect: %w", err)
	}
	if err := migrate(cfg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	logger.DB.Info("database ready",
		slog.String("event", "db.ready"),
		slog.String("status", "ok"),
		slog.Duration("duration", logger.Took(start)),
	)
	return db, nil
}

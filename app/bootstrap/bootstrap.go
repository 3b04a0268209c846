// Package bootstrap wires configuration, the backend store, the conversation
// dispatcher and the notification sweeper into a runnable bot.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	appconfig "github.com/m3rciful/leakbot/app/config"
	"github.com/m3rciful/leakbot/app/conversation"
	"github.com/m3rciful/leakbot/app/domain"
	"github.com/m3rciful/leakbot/app/notifier"
	"github.com/m3rciful/leakbot/app/storage"
	"github.com/m3rciful/leakbot/app/storage/filestore"
	"github.com/m3rciful/leakbot/app/storage/memstore"
	"github.com/m3rciful/leakbot/app/storage/pgstore"
	corebootstrap "github.com/m3rciful/leakbot/core/bootstrap"
	coreconfig "github.com/m3rciful/leakbot/core/config"
	coredatabase "github.com/m3rciful/leakbot/core/database"
	"github.com/m3rciful/leakbot/core/logger"
	tg "github.com/m3rciful/leakbot/core/telegram"
	"github.com/m3rciful/leakbot/core/telegram/state"
)

// Options override infrastructure hooks, mainly for tests.
type Options struct {
	LoggerInit func(*coreconfig.Config) error
	Connect    func(coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(coredatabase.Config) error
}

// App holds the wired components of the bot.
type App struct {
	Config     *appconfig.Config
	Store      storage.Store
	Registry   *tg.Registry
	Dispatcher *conversation.Dispatcher
}

// New bootstraps the application with default infrastructure.
func New(cfg *appconfig.Config) (*App, error) {
	return Build(cfg, Options{})
}

// Build initializes logging, opens the configured store and registers the
// conversation routes.
func Build(cfg *appconfig.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app bootstrap: nil config")
	}

	ctx := context.Background()
	res, err := corebootstrap.Run(ctx, corebootstrap.Options{
		Config:      cfg.CoreConfig(),
		UseDatabase: cfg.Storage.Driver == appconfig.DriverPostgres,
		Database:    cfg.Database,
		LoggerInit:  opts.LoggerInit,
		Connect:     opts.Connect,
		Migrate:     opts.Migrate,
	})
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg, res)
	if err != nil {
		return nil, err
	}

	if mem, ok := store.(*memstore.Store); ok && cfg.Storage.SeedFile != "" {
		seed := corebootstrap.SeederFunc[*memstore.Store](func(_ context.Context, s *memstore.Store) error {
			return seedLeaks(s, cfg.Storage.SeedFile)
		})
		if err := corebootstrap.RunSeeders(ctx, mem, corebootstrap.Seeder[*memstore.Store](seed)); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	reg := tg.NewRegistry()
	dispatcher := conversation.NewDispatcher(store, state.NewMemoryManager())
	dispatcher.Register(reg)

	logger.L.With("component", "app").Info("app bootstrapped",
		slog.String("event", "bootstrap"),
		slog.String("status", "ok"),
		slog.String("storage", cfg.Storage.Driver),
		slog.Bool("persist_offset", cfg.Storage.OffsetPersisted()),
		slog.Int("commands", len(reg.Commands())),
	)

	return &App{
		Config:     cfg,
		Store:      store,
		Registry:   reg,
		Dispatcher: dispatcher,
	}, nil
}

func openStore(cfg *appconfig.Config, res *corebootstrap.Result) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case appconfig.DriverPostgres:
		if res == nil || res.DB == nil {
			return nil, fmt.Errorf("app bootstrap: postgres storage without a database connection")
		}
		return pgstore.New(res.DB), nil
	case appconfig.DriverMemory:
		return memstore.New(), nil
	default:
		s, err := filestore.Open(cfg.Storage.Dir)
		if err != nil {
			return nil, fmt.Errorf("app bootstrap: %w", err)
		}
		return s, nil
	}
}

func seedLeaks(s *memstore.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var leaks []domain.Leak
	if err := json.Unmarshal(data, &leaks); err != nil {
		return fmt.Errorf("decode seed file: %w", err)
	}
	for i, l := range leaks {
		if l.ID == "" {
			l.ID = fmt.Sprintf("seed-%d", i+1)
		}
		s.AddLeak(l)
	}
	return nil
}

// SweeperOptions maps configuration to sweeper options.
func (a *App) SweeperOptions() notifier.Options {
	sw := a.Config.Sweeper
	return notifier.Options{
		Interval:     sw.Interval(),
		MaxAttempts:  sw.Attempts(),
		RetryInitial: time.Duration(sw.RetryInitialSeconds) * time.Second,
		RetryMax:     time.Duration(sw.RetryMaxSeconds) * time.Second,
		RetryJitter:  sw.RetryJitter,
	}
}

// TelegramRunOptions builds the runtime options: conversation routes, the
// sweeper worker and, when enabled, the persisted update offset.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	core := a.Config.CoreConfig()
	opts := tg.RunOptions{
		Config:      core,
		Registry:    a.Registry,
		Middlewares: tg.DefaultMiddlewares(core, a.Dispatcher.HandleLimited),
		Routes:      a.Dispatcher.Routes(a.Registry, core.Telegram.AdminID),
		Workers: []tg.Worker{{
			Name: "sweeper",
			Run: func(ctx context.Context, rt tg.Runtime) error {
				sw := notifier.New(a.Store, rt.Chats, a.SweeperOptions())
				a.Dispatcher.TrackDeadLetters(sw)
				defer a.Dispatcher.TrackDeadLetters(nil)
				return sw.Run(ctx)
			},
		}},
		OnStop: func(context.Context, tg.Runtime) error {
			return a.Store.Close()
		},
	}
	if a.Config.Storage.OffsetPersisted() {
		if cs, ok := a.Store.(storage.CursorStore); ok {
			opts.Cursor = cs
		}
	}
	return opts, nil
}

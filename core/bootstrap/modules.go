package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/leakbot/core/logger"
)

// Seeder loads reference data into a freshly opened store.
type Seeder[S any] interface {
	Seed(ctx context.Context, store S) error
}

// SeederFunc adapts a bare function to the Seeder interface.
type SeederFunc[S any] func(ctx context.Context, store S) error

// Seed executes the underlying function.
func (f SeederFunc[S]) Seed(ctx context.Context, store S) error {
	return f(ctx, store)
}

// RunSeeders applies seeders in order and stops at the first failure.
func RunSeeders[S any](ctx context.Context, store S, seeders ...Seeder[S]) error {
	for i, s := range seeders {
		if s == nil {
			continue
		}
		start := time.Now()
		if err := s.Seed(ctx, store); err != nil {
			return fmt.Errorf("bootstrap: seeder %d: %w", i, err)
		}
		logger.L.Debug("seeder applied",
			slog.String("event", "seed"),
			slog.String("status", "ok"),
			slog.Int("index", i),
			slog.Duration("duration", logger.Took(start)),
		)
	}
	return nil
}

// Package notifier delivers pending leaks to their subscribers. Each leak is
// sent at most once: it is marked notified right after a confirmed send.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/juju/clock"

	"github.com/m3rciful/leakbot/app/domain"
	"github.com/m3rciful/leakbot/app/storage"
	"github.com/m3rciful/leakbot/core/logger"
	"github.com/m3rciful/leakbot/core/metrics"
	"github.com/m3rciful/leakbot/core/telegram/format"
)

const noData = "no data"

// Notifier sends text to a chat. A nil error means the message was delivered.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Options tune the sweep schedule and the retry policy for failed sends.
type Options struct {
	Interval time.Duration
	// MaxAttempts dead-letters a leak after that many failed sends; 0 retries forever.
	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
	RetryJitter  float64
	Clock        clock.Clock
}

// SweepResult counts what one sweep did. DeadLettered counts leaks given up
// on during this sweep; Dead counts pending leaks skipped because an earlier
// sweep gave up on them.
type SweepResult struct {
	Scanned      int
	Pending      int
	Unmatched    int
	Sent         int
	Failed       int
	MarkFailed   int
	Deferred     int
	DeadLettered int
	Dead         int
}

type failure struct {
	attempts int
	next     time.Time
	backoff  *backoff.ExponentialBackOff
	dead     bool
}

// Sweeper periodically scans the store and notifies subscribers about pending leaks.
type Sweeper struct {
	store    storage.Store
	notifier Notifier
	opts     Options
	clock    clock.Clock

	mu       sync.Mutex
	failures map[string]*failure
}

// New returns a sweeper; zero options get defaults (20s interval, 20s..1h backoff).
func New(store storage.Store, n Notifier, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = 20 * time.Second
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 20 * time.Second
	}
	if opts.RetryMax < opts.RetryInitial {
		opts.RetryMax = max(time.Hour, opts.RetryInitial)
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	return &Sweeper{
		store:    store,
		notifier: n,
		opts:     opts,
		clock:    clk,
		failures: make(map[string]*failure),
	}
}

// FormatNotification renders the message sent for leak.
func FormatNotification(leak domain.Leak) string {
	return fmt.Sprintf("⚠️ Leak detected!\nEmail: %s\nSource: %s\nDetails: %s",
		leak.Email, leak.Source, format.OrDefault(leak.LeakInfo, noData))
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	logger.Sweep.Info("sweeper started",
		slog.String("event", "sweep.start"),
		slog.String("status", "ok"),
		slog.Duration("interval", s.opts.Interval),
		slog.Int("max_attempts", s.opts.MaxAttempts),
	)
	for {
		// Errors are logged by Sweep; the next pass retries.
		_, _ = s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(s.opts.Interval):
		}
	}
}

// Sweep makes one pass over all leaks. A failed store listing aborts the pass
// before anything is sent.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res SweepResult
	start := s.clock.Now()

	subs, err := s.store.ListSubscribers(ctx)
	if err != nil {
		return res, s.fail("list subscribers", err)
	}
	leaks, err := s.store.ListLeaks(ctx)
	if err != nil {
		return res, s.fail("list leaks", err)
	}

	seen := make(map[string]struct{}, len(leaks))
	for _, leak := range leaks {
		if err := ctx.Err(); err != nil {
			s.record(res, start, err)
			return res, err
		}
		res.Scanned++
		if leak.Notified {
			continue
		}
		res.Pending++
		seen[leak.ID] = struct{}{}

		chatID, ok := subs[leak.Email]
		if !ok {
			res.Unmatched++
			continue
		}

		f := s.failures[leak.ID]
		if f != nil && f.dead {
			res.Dead++
			continue
		}
		if f != nil && s.clock.Now().Before(f.next) {
			res.Deferred++
			continue
		}

		if err := s.notifier.SendText(ctx, chatID, FormatNotification(leak)); err != nil {
			res.Failed++
			if s.recordFailure(leak, err) {
				res.DeadLettered++
			}
			continue
		}
		delete(s.failures, leak.ID)
		res.Sent++

		if err := s.store.MarkLeakNotified(ctx, leak.ID); err != nil {
			res.MarkFailed++
			logger.Sweep.Error("mark notified failed",
				slog.String("event", "sweep.mark"),
				slog.String("status", "fail"),
				slog.String("leak_id", leak.ID),
				slog.String("err", err.Error()),
			)
		}
	}

	for id := range s.failures {
		if _, ok := seen[id]; !ok {
			delete(s.failures, id)
		}
	}

	s.record(res, start, nil)
	return res, nil
}

// recordFailure schedules the next attempt for leak and reports whether it
// has just been dead-lettered.
func (s *Sweeper) recordFailure(leak domain.Leak, sendErr error) bool {
	f := s.failures[leak.ID]
	if f == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = s.opts.RetryInitial
		b.MaxInterval = s.opts.RetryMax
		b.Multiplier = 2
		b.RandomizationFactor = s.opts.RetryJitter
		b.Reset()
		f = &failure{backoff: b}
		s.failures[leak.ID] = f
	}
	f.attempts++

	if s.opts.MaxAttempts > 0 && f.attempts >= s.opts.MaxAttempts {
		f.dead = true
		logger.Sweep.Error("leak dead-lettered",
			slog.String("event", "sweep.dead_letter"),
			slog.String("status", "dead_letter"),
			slog.String("leak_id", leak.ID),
			slog.String("email", logger.MaskEmail(leak.Email)),
			slog.Int("attempt", f.attempts),
			slog.String("err", logger.SanitizeLimit(sendErr.Error(), 256)),
		)
		return true
	}

	wait := f.backoff.NextBackOff()
	f.next = s.clock.Now().Add(wait)
	logger.Sweep.Warn("send failed",
		slog.String("event", "sweep.send"),
		slog.String("status", "deferred"),
		slog.String("leak_id", leak.ID),
		slog.String("email", logger.MaskEmail(leak.Email)),
		slog.Int("attempt", f.attempts),
		slog.Duration("retry_in", wait),
		slog.String("err", logger.SanitizeLimit(sendErr.Error(), 256)),
	)
	return false
}

func (s *Sweeper) fail(op string, err error) error {
	metrics.IncSweep("fail")
	logger.Sweep.Error("sweep skipped",
		slog.String("event", "sweep.run"),
		slog.String("status", "fail"),
		slog.String("op", op),
		slog.String("err", err.Error()),
	)
	return fmt.Errorf("sweep: %s: %w", op, err)
}

func (s *Sweeper) record(res SweepResult, start time.Time, err error) {
	metrics.IncSweep(logger.Status(err))
	metrics.SetPendingLeaks(res.Pending)
	metrics.SetDeadLetteredLeaks(res.Dead + res.DeadLettered)
	metrics.AddNotifications("sent", res.Sent)
	metrics.AddNotifications("failed", res.Failed)
	metrics.AddNotifications("deferred", res.Deferred)
	metrics.AddNotifications("dead_letter", res.DeadLettered)

	level := slog.LevelDebug
	if res.Sent > 0 || res.Failed > 0 || res.MarkFailed > 0 || err != nil {
		level = slog.LevelInfo
	}
	logger.Sweep.LogAttrs(context.Background(), level, "sweep done",
		slog.String("event", "sweep.run"),
		slog.String("status", logger.Status(err)),
		slog.Int("scanned", res.Scanned),
		slog.Int("pending", res.Pending),
		slog.Int("unmatched", res.Unmatched),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
		slog.Int("mark_failed", res.MarkFailed),
		slog.Int("deferred", res.Deferred),
		slog.Int("dead_lettered", res.DeadLettered),
		slog.Int("dead", res.Dead),
		slog.Duration("duration", logger.RoundMS(s.clock.Now().Sub(start))),
	)
}

// DeadLettered returns the ids of leaks that are no longer retried.
func (s *Sweeper) DeadLettered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, f := range s.failures {
		if f.dead {
			ids = append(ids, id)
		}
	}
	return ids
}

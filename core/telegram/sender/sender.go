package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/leakbot/core/logger"
	"github.com/m3rciful/leakbot/core/telegram/netutil"
)

// Options controls retries of outbound calls.
type Options struct {
	// MaxTries bounds attempts per call, including the first one.
	MaxTries int
	// RetryBackoff is the initial delay between attempts.
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent retrying a single call.
	MaxDuration time.Duration
}

// Sender runs outbound Telegram calls synchronously. A call is repeated only
// when Telegram asked to slow down or the request never left the host, so a
// message is not delivered twice by a retry.
type Sender struct {
	opts Options
	sent atomic.Uint64
	errs atomic.Uint64
}

// New returns a Sender with defaults applied to zeroed options.
func New(opts Options) *Sender {
	if opts.MaxTries <= 0 {
		opts.MaxTries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 30 * time.Second
	}
	return &Sender{opts: opts}
}

// Do executes run, retrying on flood control and dial failures.
func (s *Sender) Do(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	attrs := sendLogAttrs(ctx, action, endpoint)
	attempt := 0
	var lastErr error

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := run()
		if err == nil {
			return struct{}{}, nil
		}
		lastErr = err

		var flood tele.FloodError
		if errors.As(err, &flood) && flood.RetryAfter > 0 {
			logger.Warn(ctx, "tg.sender", "send.flood",
				append(attrs,
					slog.Int("attempt", attempt),
					slog.Int("retry_after_s", flood.RetryAfter),
				)...,
			)
			return struct{}{}, backoff.RetryAfter(flood.RetryAfter)
		}
		if netutil.IsDialError(err) {
			logger.Debug(ctx, "tg.sender", "send.retry.backoff",
				append(attrs, slog.Int("attempt", attempt))...,
			)
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.opts.MaxTries)),
		backoff.WithMaxElapsedTime(s.opts.MaxDuration),
	)

	elapsed := time.Since(start)
	if err == nil {
		s.sent.Add(1)
		success := append(attrs, slog.Int("elapsed_ms", durationToMS(elapsed)))
		if attempt > 1 {
			success = append(success, slog.Int("attempt", attempt))
		}
		logger.Debug(ctx, "tg.sender", "send.success", success...)
		return nil
	}

	if lastErr == nil {
		lastErr = err
	}
	s.errs.Add(1)
	logger.Error(ctx, "tg.sender", "send.fail",
		append(attrs,
			slog.String("err", netutil.Redact(lastErr)),
			slog.String("error_kind", netutil.Classify(lastErr)),
			slog.Int("attempt", attempt),
			slog.Int("elapsed_ms", durationToMS(elapsed)),
		)...,
	)
	return lastErr
}

// SentCount returns the number of successful calls.
func (s *Sender) SentCount() uint64 {
	return s.sent.Load()
}

// ErrorCount returns the number of calls that failed after retries.
func (s *Sender) ErrorCount() uint64 {
	return s.errs.Load()
}

func sendLogAttrs(ctx context.Context, action, endpoint string) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("action", action),
	}
	if endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", endpoint))
	}
	if updateID := logger.UpdateIDFrom(ctx); updateID != 0 {
		attrs = append(attrs, slog.Int("update_id", updateID))
	}
	if chatID := logger.ChatIDFrom(ctx); chatID != 0 {
		attrs = append(attrs, slog.Int64("chat_id", chatID))
	}
	return attrs
}

func durationToMS(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(logger.RoundMS(d) / time.Millisecond)
}

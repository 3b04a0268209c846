package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/leakbot/core/config"
	"github.com/m3rciful/leakbot/core/logger"
	"github.com/m3rciful/leakbot/core/metrics"
	"github.com/m3rciful/leakbot/core/telegram/netutil"
)

// Fetcher pulls a batch of updates starting at offset.
type Fetcher interface {
	FetchUpdates(ctx context.Context, offset int, timeout time.Duration) ([]tele.Update, error)
}

// UpdateProcessor handles one update to completion. *tele.Bot built with
// Synchronous settings satisfies it.
type UpdateProcessor interface {
	ProcessUpdate(u tele.Update)
}

// Cursor persists the next update offset across restarts.
type Cursor interface {
	LoadOffset(ctx context.Context) (int, error)
	SaveOffset(ctx context.Context, offset int) error
}

// BotFetcher calls getUpdates with the bot's HTTP client. The request is
// bound to the caller's context, so cancelling it aborts a long poll at once.
type BotFetcher struct {
	Client         *http.Client
	Endpoint       string
	AllowedUpdates []string
}

// NewBotFetcher returns a fetcher that only asks for message updates.
func NewBotFetcher(bot *tele.Bot) *BotFetcher {
	client := bot.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &BotFetcher{
		Client:         client,
		Endpoint:       strings.TrimSuffix(bot.URL, "/") + "/bot" + bot.Token + "/getUpdates",
		AllowedUpdates: []string{coreconfig.UpdateMessage},
	}
}

type getUpdatesRequest struct {
	Offset         int      `json:"offset"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

type getUpdatesResponse struct {
	OK          bool          `json:"ok"`
	ErrorCode   int           `json:"error_code"`
	Description string        `json:"description"`
	Result      []tele.Update `json:"result"`
}

// FetchUpdates implements Fetcher. The returned slice is ordered by update id.
func (f *BotFetcher) FetchUpdates(ctx context.Context, offset int, timeout time.Duration) ([]tele.Update, error) {
	body, err := json.Marshal(getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: f.AllowedUpdates,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out getUpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode getUpdates: %w", err)
	}
	if !out.OK {
		code := out.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return nil, &tele.Error{Code: code, Description: out.Description}
	}
	sort.SliceStable(out.Result, func(i, j int) bool { return out.Result[i].ID < out.Result[j].ID })
	return out.Result, nil
}

// LoopOptions configures UpdateLoop. Zero values fall back to the config defaults.
type LoopOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
	RetryDelay   time.Duration
	Cursor       Cursor
	Clock        clock.Clock
}

// UpdateLoop long-polls for updates and hands them to the bot one at a time.
// The offset moves past an update before the update is processed, so an update
// that fails in its handler is not fetched again.
type UpdateLoop struct {
	fetcher   Fetcher
	processor UpdateProcessor
	opts      LoopOptions
	offset    atomic.Int64
}

// NewUpdateLoop wires a fetcher to a processor.
func NewUpdateLoop(fetcher Fetcher, processor UpdateProcessor, opts LoopOptions) *UpdateLoop {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(coreconfig.DefaultLongPollTimeoutSeconds) * time.Second
	}
	if opts.PollInterval < 0 {
		opts.PollInterval = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Duration(coreconfig.DefaultRetryDelayMS) * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	return &UpdateLoop{fetcher: fetcher, processor: processor, opts: opts}
}

// Offset returns the id of the next update the loop will ask for.
func (l *UpdateLoop) Offset() int {
	return int(l.offset.Load())
}

// advance raises the offset; lower values are ignored.
func (l *UpdateLoop) advance(next int) bool {
	for {
		cur := l.offset.Load()
		if int64(next) <= cur {
			return false
		}
		if l.offset.CompareAndSwap(cur, int64(next)) {
			return true
		}
	}
}

// Restore loads the persisted offset, if a cursor is configured.
func (l *UpdateLoop) Restore(ctx context.Context) {
	if l.opts.Cursor == nil {
		return
	}
	off, err := l.opts.Cursor.LoadOffset(ctx)
	if err != nil {
		logger.TG.LogAttrs(ctx, slog.LevelWarn, "",
			slog.String("event", "offset.load"),
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return
	}
	l.advance(off)
	logger.TG.LogAttrs(ctx, slog.LevelInfo, "",
		slog.String("event", "offset.load"),
		slog.String("status", "ok"),
		slog.Int("offset", l.Offset()),
	)
}

// PollOnce performs a single getUpdates call and processes the batch.
// It returns the number of updates handed to the processor.
func (l *UpdateLoop) PollOnce(ctx context.Context) (int, error) {
	start := l.opts.Clock.Now()
	offset := l.Offset()
	updates, err := l.fetcher.FetchUpdates(ctx, offset, l.opts.Timeout)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		kind := netutil.Classify(err)
		metrics.IncFetchError(kind)
		logger.TG.LogAttrs(ctx, slog.LevelWarn, "",
			slog.String("event", "updates.fetch"),
			slog.String("status", "fail"),
			slog.Int("offset", offset),
			slog.String("error_kind", kind),
			slog.String("err", netutil.Redact(err)),
		)
		return 0, err
	}

	handled := 0
	for _, upd := range updates {
		if !l.advance(upd.ID + 1) {
			logger.TG.LogAttrs(ctx, slog.LevelDebug, "",
				slog.String("event", "updates.skip"),
				slog.String("status", "skip"),
				slog.Int("update_id", upd.ID),
				slog.Int("offset", l.Offset()),
			)
			continue
		}
		metrics.IncUpdate()
		l.processor.ProcessUpdate(upd)
		handled++
		l.persist(ctx)
	}

	if handled > 0 {
		logger.TG.LogAttrs(ctx, slog.LevelDebug, "",
			slog.String("event", "updates.batch"),
			slog.String("status", "ok"),
			slog.Int("updates", handled),
			slog.Int("offset", l.Offset()),
			slog.Duration("duration", logger.RoundMS(l.opts.Clock.Now().Sub(start))),
		)
	}
	return handled, nil
}

func (l *UpdateLoop) persist(ctx context.Context) {
	if l.opts.Cursor == nil {
		return
	}
	off := l.Offset()
	if err := l.opts.Cursor.SaveOffset(ctx, off); err != nil {
		logger.TG.LogAttrs(ctx, slog.LevelWarn, "",
			slog.String("event", "offset.save"),
			slog.String("status", "fail"),
			slog.Int("offset", off),
			slog.String("err", err.Error()),
		)
	}
}

// Run restores the offset and polls until ctx is done. Fetch failures never
// stop the loop: the same offset is retried after RetryDelay.
func (l *UpdateLoop) Run(ctx context.Context) error {
	l.Restore(ctx)
	logger.TG.Info("update loop started",
		slog.String("event", "updates.start"),
		slog.Int("offset", l.Offset()),
		slog.Int("timeout_seconds", int(l.opts.Timeout/time.Second)),
	)

	for {
		if ctx.Err() != nil {
			return nil
		}
		wait := l.opts.PollInterval
		if _, err := l.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait = l.opts.RetryDelay
		}
		if !l.sleep(ctx, wait) {
			return nil
		}
	}
}

func (l *UpdateLoop) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-l.opts.Clock.After(d):
		return true
	}
}

package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/leakbot/core/config"
	"github.com/m3rciful/leakbot/core/logger"
	tghelpers "github.com/m3rciful/leakbot/core/telegram/helpers"
	"github.com/m3rciful/leakbot/core/telegram/netutil"
	tgsender "github.com/m3rciful/leakbot/core/telegram/sender"
)

// Middleware describes a global bot middleware to be registered via bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route declares a single bot handler bound to an arbitrary endpoint.
// Endpoint values are passed directly to tele.Bot.Handle.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// Worker is a long-running task started next to the update loop. It must
// return when ctx is done; a non-nil error stops the whole bot.
type Worker struct {
	Name string
	Run  func(ctx context.Context, rt Runtime) error
}

// RunOptions controls the behaviour of RunTelegram.
type RunOptions struct {
	Config   *coreconfig.Config
	Registry *Registry

	SenderOptions tgsender.Options

	Middlewares []Middleware
	Routes      []Route
	Workers     []Worker

	// Cursor persists the update offset; nil keeps it in memory only.
	Cursor Cursor

	DisableWebhookCleanup bool
	// Offline skips getMe, setMyCommands and deleteWebhook. Used by tests.
	Offline bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime exposes runtime components to workers and lifecycle hooks.
type Runtime struct {
	Bot      *tele.Bot
	Sender   *tgsender.Sender
	Chats    *tgsender.ChatSender
	Registry *Registry
	Updates  *UpdateLoop
}

// RunTelegram composes the bot and runs the update loop and workers until ctx is done.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return fmt.Errorf("telegram: nil config provided")
	}

	cfg := opts.Config
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}

	longPoll := time.Duration(cfg.Telegram.LongPollTimeoutSeconds) * time.Second
	buildStart := time.Now()
	bot, err := tele.NewBot(tele.Settings{
		URL:         cfg.Telegram.APIURL,
		Token:       cfg.Telegram.Token,
		Client:      BuildHTTPClient(longPoll),
		Synchronous: true,
		Offline:     opts.Offline,
		OnError: func(err error, c tele.Context) {
			attrs := []slog.Attr{
				slog.String("event", "handler.error"),
				slog.String("status", "fail"),
				slog.String("err", netutil.Redact(err)),
			}
			if c != nil {
				attrs = append(attrs, slog.Int("update_id", c.Update().ID))
			}
			logger.TG.LogAttrs(context.Background(), slog.LevelError, "handler error", attrs...)
		},
	})
	if err != nil {
		return fmt.Errorf("telegram: bot initialization failed: %s", netutil.Redact(err))
	}

	sender := tgsender.New(opts.SenderOptions)
	tghelpers.SetSender(sender)
	defer tghelpers.SetSender(nil)

	loop := NewUpdateLoop(NewBotFetcher(bot), bot, LoopOptions{
		Timeout:      longPoll,
		PollInterval: time.Duration(cfg.Telegram.PollIntervalMS) * time.Millisecond,
		RetryDelay:   time.Duration(cfg.Telegram.RetryDelayMS) * time.Millisecond,
		Cursor:       opts.Cursor,
	})

	rt := Runtime{
		Bot:      bot,
		Sender:   sender,
		Chats:    tgsender.NewChatSender(bot, sender),
		Registry: reg,
		Updates:  loop,
	}

	logger.TG.Info("polling mode",
		slog.String("event", "mode"),
		slog.String("mode", "polling"),
		slog.Int("timeout_seconds", cfg.Telegram.LongPollTimeoutSeconds),
		slog.Duration("duration", logger.RoundMS(time.Since(buildStart))),
	)

	if !opts.DisableWebhookCleanup && !opts.Offline {
		if err := deleteWebhook(bot); err != nil {
			logger.TG.Warn("failed to delete webhook",
				slog.String("event", "delete_webhook"),
				slog.String("status", "fail"),
				slog.String("err", netutil.Redact(err)),
			)
		} else {
			logger.TG.Info("webhook deleted",
				slog.String("event", "delete_webhook"),
				slog.String("status", "ok"),
			)
		}
	}

	for _, mw := range opts.Middlewares {
		if mw.Use == nil {
			continue
		}
		bot.Use(mw.Use)
	}

	for _, route := range opts.Routes {
		if route.Endpoint == nil || route.Handler == nil {
			continue
		}
		bot.Handle(route.Endpoint, route.Handler)
	}

	if !opts.Offline {
		InitBotCommands(bot, reg)
	}

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	for _, w := range opts.Workers {
		if w.Run == nil {
			continue
		}
		w := w
		g.Go(func() error {
			if err := w.Run(gctx, rt); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", w.Name, err)
			}
			return nil
		})
	}
	runErr := g.Wait()

	var stopErr error
	if opts.OnStop != nil {
		stopErr = opts.OnStop(context.Background(), rt)
	}

	logger.TG.Info("bot stopped",
		slog.String("event", "stop"),
		slog.Int("offset", loop.Offset()),
		slog.Uint64("sent", sender.SentCount()),
		slog.Uint64("send_errors", sender.ErrorCount()),
	)

	if runErr != nil {
		return runErr
	}
	return stopErr
}

// deleteWebhook removes a registered webhook so getUpdates is allowed.
// Pending updates are kept.
func deleteWebhook(bot *tele.Bot) error {
	_, err := bot.Raw("deleteWebhook", map[string]bool{"drop_pending_updates": false})
	return err
}

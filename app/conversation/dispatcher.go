// Package conversation drives the per-chat subscribe/unsubscribe flow and
// binds it to the bot's command and text routes.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/m3rciful/leakbot/app/domain"
	"github.com/m3rciful/leakbot/app/storage"
	"github.com/m3rciful/leakbot/core/logger"
	"github.com/m3rciful/leakbot/core/metrics"
	"github.com/m3rciful/leakbot/core/telegram/state"
)

// Conversation states. A chat holds at most one of them at a time.
const (
	StateAwaitingSubscribeEmail   state.State = "awaiting_subscribe_email"
	StateAwaitingUnsubscribeEmail state.State = "awaiting_unsubscribe_email"
)

// Dispatcher answers every inbound text with exactly one reply, moving the
// chat between conversation states and mutating the subscriber store.
type Dispatcher struct {
	store  storage.Store
	states state.Manager
	dead   atomic.Pointer[deadLetters]
}

// DeadLetterSource lists leaks the sweeper gave up on.
type DeadLetterSource interface {
	DeadLettered() []string
}

type deadLetters struct{ src DeadLetterSource }

// NewDispatcher returns a dispatcher over store. A nil states uses the in-memory manager.
func NewDispatcher(store storage.Store, states state.Manager) *Dispatcher {
	if states == nil {
		states = state.NewMemoryManager()
	}
	return &Dispatcher{store: store, states: states}
}

// States exposes the conversation state manager.
func (d *Dispatcher) States() state.Manager {
	return d.states
}

// TrackDeadLetters makes /stats report the leaks src gave up on.
func (d *Dispatcher) TrackDeadLetters(src DeadLetterSource) {
	if src == nil {
		d.dead.Store(nil)
		return
	}
	d.dead.Store(&deadLetters{src: src})
}

func (d *Dispatcher) deadLettered() int {
	if dl := d.dead.Load(); dl != nil {
		return len(dl.src.DeadLettered())
	}
	return 0
}

// Dispatch classifies text and returns the reply for chatID.
func (d *Dispatcher) Dispatch(ctx context.Context, chatID int64, text string) string {
	text = strings.TrimSpace(text)
	switch Classify(text) {
	case KindSubscribe:
		d.states.SetState(chatID, StateAwaitingSubscribeEmail)
		return reply("prompt_subscribe", msgPromptSubscribe)
	case KindUnsubscribe:
		d.states.SetState(chatID, StateAwaitingUnsubscribeEmail)
		return reply("prompt_unsubscribe", msgPromptUnsubscribe)
	case KindHelp:
		return reply("help", msgHelp)
	case KindEmail:
		return d.HandleEmail(ctx, chatID, text)
	default:
		return reply("unknown", msgUnknown)
	}
}

// HandleEmail completes the pending flow of chatID with email. The pending
// state is cleared whatever the outcome; an idle chat gets a hint and the
// store is not touched.
func (d *Dispatcher) HandleEmail(ctx context.Context, chatID int64, email string) string {
	email = strings.TrimSpace(email)
	switch d.states.GetState(chatID) {
	case StateAwaitingSubscribeEmail:
		defer d.states.ClearState(chatID)
		return d.subscribe(ctx, chatID, email)
	case StateAwaitingUnsubscribeEmail:
		defer d.states.ClearState(chatID)
		return d.unsubscribe(ctx, chatID, email)
	default:
		return reply("choose_action", msgChooseAction)
	}
}

func (d *Dispatcher) subscribe(ctx context.Context, chatID int64, email string) string {
	start := time.Now()
	exists, err := d.store.SubscriberExists(ctx, email)
	if err != nil {
		logFlow(ctx, "conv.subscribe", chatID, email, start, err)
		return reply("subscribe_failed", msgSubscribeFailed)
	}
	if exists {
		return reply("already_subscribed", fmt.Sprintf(msgAlreadySubscribed, email))
	}
	err = d.store.CreateSubscriber(ctx, email, chatID)
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		return reply("already_subscribed", fmt.Sprintf(msgAlreadySubscribed, email))
	case err != nil:
		logFlow(ctx, "conv.subscribe", chatID, email, start, err)
		return reply("subscribe_failed", msgSubscribeFailed)
	}
	logFlow(ctx, "conv.subscribe", chatID, email, start, nil)
	return reply("subscribed", fmt.Sprintf(msgSubscribed, email))
}

func (d *Dispatcher) unsubscribe(ctx context.Context, chatID int64, email string) string {
	start := time.Now()
	exists, err := d.store.SubscriberExists(ctx, email)
	if err != nil {
		logFlow(ctx, "conv.unsubscribe", chatID, email, start, err)
		return reply("unsubscribe_failed", msgUnsubscribeFailed)
	}
	if !exists {
		return reply("not_found", fmt.Sprintf(msgNotFound, email))
	}
	err = d.store.DeleteSubscriber(ctx, email)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return reply("not_found", fmt.Sprintf(msgNotFound, email))
	case err != nil:
		logFlow(ctx, "conv.unsubscribe", chatID, email, start, err)
		return reply("unsubscribe_failed", msgUnsubscribeFailed)
	}
	logFlow(ctx, "conv.unsubscribe", chatID, email, start, nil)
	return reply("unsubscribed", fmt.Sprintf(msgUnsubscribed, email))
}

// Stats summarizes the store for the admin.
func (d *Dispatcher) Stats(ctx context.Context) string {
	subs, err := d.store.ListSubscribers(ctx)
	if err != nil {
		logger.Conv.Error("stats failed", slog.String("event", "conv.stats"), slog.String("status", "fail"), slog.String("err", err.Error()))
		return reply("stats_failed", msgStatsFailed)
	}
	leaks, err := d.store.ListLeaks(ctx)
	if err != nil {
		logger.Conv.Error("stats failed", slog.String("event", "conv.stats"), slog.String("status", "fail"), slog.String("err", err.Error()))
		return reply("stats_failed", msgStatsFailed)
	}
	st := domain.Summarize(subs, leaks)
	return reply("stats", fmt.Sprintf(msgStats,
		st.Subscribers, st.PendingLeaks, st.NotifiedLeaks,
		d.deadLettered(), len(d.states.Snapshot()),
	))
}

func reply(kind, text string) string {
	metrics.IncReply(kind)
	return text
}

func logFlow(ctx context.Context, event string, chatID int64, email string, start time.Time, err error) {
	attrs := []slog.Attr{
		slog.String("event", event),
		slog.String("status", logger.Status(err)),
		slog.Int64("chat_id", chatID),
		slog.String("email", logger.MaskEmail(email)),
		slog.Duration("duration", logger.Took(start)),
	}
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
		attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
	}
	logger.Conv.LogAttrs(ctx, level, event, attrs...)
}

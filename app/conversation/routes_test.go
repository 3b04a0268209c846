package conversation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/leakbot/app/storage/memstore"
	coreconfig "github.com/m3rciful/leakbot/core/config"
	tg "github.com/m3rciful/leakbot/core/telegram"
	"github.com/m3rciful/leakbot/core/telegram/state"
)

const testToken = "123:test"

type sentMessage struct {
	ChatID      string `json:"chat_id"`
	Text        string `json:"text"`
	ReplyMarkup string `json:"reply_markup"`
}

// botAPI records sendMessage calls and acknowledges everything else.
type botAPI struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (a *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	if strings.HasSuffix(r.URL.Path, "/sendMessage") {
		var msg sentMessage
		_ = json.Unmarshal(body, &msg)
		a.mu.Lock()
		a.sent = append(a.sent, msg)
		a.mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"x"}}`)
		return
	}
	_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
}

func (a *botAPI) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.sent))
	for i, m := range a.sent {
		out[i] = m.Text
	}
	return out
}

func newRoutedBot(t *testing.T, d *Dispatcher, adminID int64) (*tele.Bot, *botAPI) {
	t.Helper()
	return newRoutedBotWith(t, d, adminID, nil)
}

func newRoutedBotWith(t *testing.T, d *Dispatcher, adminID int64, mws []tg.Middleware) (*tele.Bot, *botAPI) {
	t.Helper()
	api := &botAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	bot, err := tele.NewBot(tele.Settings{URL: srv.URL, Token: testToken, Offline: true, Synchronous: true})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	for _, mw := range mws {
		bot.Use(mw.Use)
	}
	reg := tg.NewRegistry()
	d.Register(reg)
	for _, r := range d.Routes(reg, adminID) {
		bot.Handle(r.Endpoint, r.Handler)
	}
	return bot, api
}

func message(id int, userID int64, text string) tele.Update {
	return tele.Update{
		ID: id,
		Message: &tele.Message{
			ID:     id,
			Text:   text,
			Sender: &tele.User{ID: userID},
			Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
		},
	}
}

func TestRoutesSubscribeScenario(t *testing.T) {
	store := memstore.New()
	d := NewDispatcher(store, state.NewMemoryManager())
	bot, api := newRoutedBot(t, d, 0)

	bot.ProcessUpdate(message(1, 42, "/start"))
	bot.ProcessUpdate(message(2, 42, "bob@x.io"))

	texts := api.texts()
	if len(texts) != 2 || texts[0] != msgPromptSubscribe || !strings.HasPrefix(texts[1], "✅ bob@x.io") {
		t.Fatalf("replies = %q", texts)
	}
	api.mu.Lock()
	prompt, done := api.sent[0].ReplyMarkup, api.sent[1].ReplyMarkup
	api.mu.Unlock()
	if !strings.Contains(prompt, `"force_reply":true`) || done != "" {
		t.Fatalf("reply markups = %q, %q", prompt, done)
	}
	ok, err := store.SubscriberExists(context.Background(), "bob@x.io")
	if err != nil || !ok {
		t.Fatalf("subscriber missing: %v %v", ok, err)
	}
}

func TestRoutesStatsIsAdminOnly(t *testing.T) {
	store := memstore.New()
	d := NewDispatcher(store, state.NewMemoryManager())
	bot, api := newRoutedBot(t, d, 99)

	bot.ProcessUpdate(message(1, 42, "/stats"))
	bot.ProcessUpdate(message(2, 99, "/stats"))

	texts := api.texts()
	if len(texts) != 2 {
		t.Fatalf("replies = %q", texts)
	}
	if texts[0] != msgUnknown {
		t.Fatalf("non-admin reply = %q", texts[0])
	}
	if !strings.HasPrefix(texts[1], "Subscribers: 0") {
		t.Fatalf("admin reply = %q", texts[1])
	}
}

func TestRoutesEveryTextGetsOneReply(t *testing.T) {
	d := NewDispatcher(memstore.New(), nil)
	bot, api := newRoutedBot(t, d, 0)

	inputs := []string{"/help", "hello", "/unknown", "bob@x.io"}
	for i, text := range inputs {
		bot.ProcessUpdate(message(i+1, 7, text))
	}
	texts := api.texts()
	want := []string{msgHelp, msgUnknown, msgUnknown, msgChooseAction}
	if len(texts) != len(want) {
		t.Fatalf("replies = %q", texts)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Fatalf("reply %d = %q, want %q", i, texts[i], want[i])
		}
	}
}

func TestRoutesSkipMessagesWithoutText(t *testing.T) {
	store := memstore.New()
	d := NewDispatcher(store, state.NewMemoryManager())
	bot, api := newRoutedBot(t, d, 0)

	bot.ProcessUpdate(message(1, 42, "/subscribe"))

	photo := message(2, 42, "")
	photo.Message.Photo = &tele.Photo{File: tele.File{FileID: "p1"}}
	photo.Message.Caption = "bob@x.io"
	bot.ProcessUpdate(photo)

	sticker := message(3, 42, "")
	sticker.Message.Sticker = &tele.Sticker{File: tele.File{FileID: "s1"}}
	bot.ProcessUpdate(sticker)

	if err := d.Handle(bot.NewContext(message(4, 42, ""))); err != nil {
		t.Fatalf("Handle(empty): %v", err)
	}

	if texts := api.texts(); len(texts) != 1 || texts[0] != msgPromptSubscribe {
		t.Fatalf("replies = %q, want only the subscribe prompt", texts)
	}
	if st := d.States().GetState(42); st != StateAwaitingSubscribeEmail {
		t.Fatalf("state = %q, textless messages must not touch it", st)
	}
	if subs, _ := store.ListSubscribers(context.Background()); len(subs) != 0 {
		t.Fatalf("subscribers = %v", subs)
	}
}

func TestRoutesRateLimitedMessageGetsReply(t *testing.T) {
	d := NewDispatcher(memstore.New(), state.NewMemoryManager())
	cfg := &coreconfig.Config{RateLimit: coreconfig.RateLimitConfig{IntervalMS: 60_000}}
	bot, api := newRoutedBotWith(t, d, 0, tg.DefaultMiddlewares(cfg, d.HandleLimited))

	bot.ProcessUpdate(message(1, 42, "/subscribe"))
	bot.ProcessUpdate(message(2, 42, "bob@x.io"))

	texts := api.texts()
	if len(texts) != 2 || texts[0] != msgPromptSubscribe || texts[1] != msgSlowDown {
		t.Fatalf("replies = %q", texts)
	}
	if st := d.States().GetState(42); st != StateAwaitingSubscribeEmail {
		t.Fatalf("state = %q, limited message must leave it", st)
	}
}

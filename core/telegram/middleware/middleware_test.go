package middleware

import (
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func newTestContext(t *testing.T, updateID int, userID int64, text string) tele.Context {
	t.Helper()
	bot, err := tele.NewBot(tele.Settings{Token: "1:test", Offline: true})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	return bot.NewContext(tele.Update{
		ID: updateID,
		Message: &tele.Message{
			Text:   text,
			Sender: &tele.User{ID: userID},
			Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
		},
	})
}

func TestRateLimitDropsBurst(t *testing.T) {
	now := time.Unix(1700000000, 0)
	limited := 0
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Second,
		Now:       func() time.Time { return now },
		OnLimited: func(tele.Context) error { limited++; return nil },
	})
	calls := 0
	h := mw(func(tele.Context) error { calls++; return nil })

	_ = h(newTestContext(t, 1, 5, "a"))
	_ = h(newTestContext(t, 2, 5, "b"))
	_ = h(newTestContext(t, 3, 6, "c"))
	now = now.Add(2 * time.Second)
	_ = h(newTestContext(t, 4, 5, "d"))

	if calls != 3 || limited != 1 {
		t.Fatalf("calls=%d limited=%d, want 3 and 1", calls, limited)
	}
}

func TestRateLimitExclusions(t *testing.T) {
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Exclude:  map[string]struct{}{"message": {}},
	})
	calls := 0
	h := mw(func(tele.Context) error { calls++; return nil })
	_ = h(newTestContext(t, 1, 5, "a"))
	_ = h(newTestContext(t, 2, 5, "b"))
	if calls != 2 {
		t.Fatalf("excluded kind was limited: calls=%d", calls)
	}
}

func TestAdminOnlyMiddleware(t *testing.T) {
	rejected := 0
	mw := AdminOnlyMiddleware(AdminOptions{
		AdminID:  99,
		OnReject: func(tele.Context) error { rejected++; return nil },
	})
	passed := 0
	h := mw(func(tele.Context) error { passed++; return nil })

	_ = h(newTestContext(t, 1, 99, "/stats"))
	_ = h(newTestContext(t, 2, 5, "/stats"))
	if passed != 1 || rejected != 1 {
		t.Fatalf("passed=%d rejected=%d", passed, rejected)
	}

	if IsAdmin(newTestContext(t, 3, 0, "/stats"), 0) {
		t.Fatal("zero admin id must not grant access")
	}
}

func TestRecoverMiddlewareSwallowsPanic(t *testing.T) {
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })
	if err := h(newTestContext(t, 1, 5, "x")); err != nil {
		t.Fatalf("err = %v, want nil after recovery", err)
	}
}

func TestLoggerMiddlewareSetsRID(t *testing.T) {
	var rid string
	h := LoggerMiddleware(func(c tele.Context) error {
		rid, _ = c.Get("rid").(string)
		return nil
	})
	_ = h(newTestContext(t, 12, 34, "hello"))
	if rid != "12:34:34" {
		t.Fatalf("rid = %q, want 12:34:34", rid)
	}
}

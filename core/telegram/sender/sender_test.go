package sender

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

type fakeMessenger struct {
	errs  []error
	calls int
	to    []string
	texts []string
}

func (f *fakeMessenger) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.calls++
	f.to = append(f.to, to.Recipient())
	f.texts = append(f.texts, what.(string))
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &tele.Message{ID: f.calls}, nil
}

func fastSender() *Sender {
	return New(Options{MaxTries: 3, RetryBackoff: time.Millisecond, MaxDuration: time.Second})
}

func TestSendTextRetriesDialErrors(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	bot := &fakeMessenger{errs: []error{dialErr, nil}}
	s := fastSender()

	if err := NewChatSender(bot, s).SendText(context.Background(), 42, "hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if bot.calls != 2 {
		t.Fatalf("calls = %d, want 2", bot.calls)
	}
	if bot.to[1] != "42" || bot.texts[1] != "hello" {
		t.Fatalf("unexpected delivery: to=%v texts=%v", bot.to, bot.texts)
	}
	if s.SentCount() != 1 || s.ErrorCount() != 0 {
		t.Fatalf("counters sent=%d errs=%d", s.SentCount(), s.ErrorCount())
	}
}

func TestSendTextDoesNotRetryAfterServerError(t *testing.T) {
	apiErr := errors.New("telegram: Forbidden: bot was blocked by the user (403)")
	bot := &fakeMessenger{errs: []error{apiErr, nil}}
	s := fastSender()

	err := NewChatSender(bot, s).SendText(context.Background(), 7, "x")
	if !errors.Is(err, apiErr) {
		t.Fatalf("err = %v, want %v", err, apiErr)
	}
	if bot.calls != 1 {
		t.Fatalf("calls = %d, want exactly one attempt", bot.calls)
	}
	if s.ErrorCount() != 1 {
		t.Fatalf("ErrorCount = %d, want 1", s.ErrorCount())
	}
}

func TestDoGivesUpAfterMaxTries(t *testing.T) {
	dialErr := &net.DNSError{Err: "no such host", Name: "api.telegram.org"}
	s := fastSender()
	calls := 0
	err := s.Do(context.Background(), "send.text", "sendMessage", func() error {
		calls++
		return dialErr
	})
	if !errors.Is(err, dialErr) {
		t.Fatalf("err = %v, want dns error", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

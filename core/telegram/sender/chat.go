package sender

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/leakbot/core/logger"
)

// Messenger is the part of *tele.Bot used to push messages outside of an update.
type Messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// ChatSender sends plain text to a chat id through a Sender.
type ChatSender struct {
	bot    Messenger
	sender *Sender
}

// NewChatSender binds a bot to a Sender. A nil sender gets default options.
func NewChatSender(bot Messenger, s *Sender) *ChatSender {
	if s == nil {
		s = New(Options{})
	}
	return &ChatSender{bot: bot, sender: s}
}

// SendText delivers text without parse mode. A nil error means Telegram accepted the message.
func (c *ChatSender) SendText(ctx context.Context, chatID int64, text string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger.ChatIDFrom(ctx) == 0 {
		ctx = logger.WithUpdateMeta(ctx, 0, 0, chatID)
	}
	return c.sender.Do(ctx, "send.text", "sendMessage", func() error {
		_, err := c.bot.Send(tele.ChatID(chatID), text)
		return err
	})
}

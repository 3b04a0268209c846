package middleware

import (
	"log/slog"
	"time"

	"github.com/m3rciful/leakbot/core/logger"
	tghelpers "github.com/m3rciful/leakbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// LoggerMiddleware sets rid and logs a sampled receipt line per update.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		c.Set("update_start", time.Now())
		ctx := tghelpers.NewUpdateContext(logger.Background(), c)

		if logger.ShouldSampleDebug() {
			attrs := []slog.Attr{
				slog.String("status", "ok"),
				slog.Int("update_id", upd.ID),
			}
			if chat := c.Chat(); chat != nil {
				attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
			}
			if upd.Message != nil {
				// Message text may carry an email address.
				attrs = append(attrs, slog.Int("text_len", len([]rune(c.Text()))))
			}
			logger.LogEvent(ctx, logger.Component("tg"), slog.LevelDebug, "update.received", attrs...)
		}

		return next(c)
	}
}

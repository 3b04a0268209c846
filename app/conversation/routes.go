package conversation

import (
	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/leakbot/core/telegram"
	"github.com/m3rciful/leakbot/core/telegram/commands"
	"github.com/m3rciful/leakbot/core/telegram/helpers"
	"github.com/m3rciful/leakbot/core/telegram/keyboard"
	"github.com/m3rciful/leakbot/core/telegram/router"
)

// Register adds the conversation commands and the text fallback to reg.
func (d *Dispatcher) Register(reg *tg.Registry) {
	reg.RegisterCommand("/subscribe", commands.Command{
		Handler:     d.Handle,
		Description: "watch an email for leaks",
		Aliases:     []string{"start"},
	})
	reg.RegisterCommand("/unsubscribe", commands.Command{
		Handler:     d.Handle,
		Description: "stop watching an email",
	})
	reg.RegisterCommand("/help", commands.Command{
		Handler:     d.Handle,
		Description: "list commands",
	})
	reg.RegisterCommand("/stats", commands.Command{
		Handler:     d.HandleStats,
		Description: "subscriber and leak counts",
		AdminOnly:   true,
	})
	reg.SetTextFallback(d.Handle)
}

// Routes binds the registered commands and plain text to telebot endpoints.
// Non-admins calling an admin command get the unknown-command reply.
func (d *Dispatcher) Routes(reg *tg.Registry, adminID int64) []tg.Route {
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID:       adminID,
		OnAdminReject: d.Handle,
	})
	return append(routes, router.TextRoutes(reg, router.TextOptions{})...)
}

// Handle replies to the text of the current message. A reply that leaves
// the chat waiting for an email asks the client to open the reply field.
func (d *Dispatcher) Handle(c tele.Context) error {
	chat := c.Chat()
	if chat == nil || c.Message() == nil || c.Text() == "" {
		return nil
	}
	ctx := helpers.BuildContext(c)
	text := d.Dispatch(ctx, chat.ID, c.Text())
	if d.states.InProgress(chat.ID) {
		return helpers.SendText(c, text, keyboard.Prompt(emailPlaceholder))
	}
	return helpers.SendText(c, text)
}

// HandleStats replies with store statistics.
func (d *Dispatcher) HandleStats(c tele.Context) error {
	return helpers.SendText(c, d.Stats(helpers.BuildContext(c)))
}

// HandleLimited answers a message dropped by the inbound rate limit. The
// conversation state is left as it was, so the user can simply resend.
func (d *Dispatcher) HandleLimited(c tele.Context) error {
	if c.Chat() == nil || c.Message() == nil {
		return nil
	}
	return helpers.SendText(c, reply("rate_limited", msgSlowDown))
}

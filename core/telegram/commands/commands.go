// Package commands describes slash commands registered with the bot.
package commands

import tele "gopkg.in/telebot.v4"

// Command is a slash command. AdminOnly commands are routed through the admin
// check and, like Hidden ones, are left out of the published command menu.
// Aliases are extra command names ("start" or "/start") bound to the same handler.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	AdminOnly   bool
	Hidden      bool
	Aliases     []string
}

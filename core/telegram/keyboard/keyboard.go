// Package keyboard builds reply markups for prompts.
package keyboard

import tele "gopkg.in/telebot.v4"

// ForceReply asks the client to open the reply field, showing placeholder
// in the input box when it is not empty.
func ForceReply(placeholder string) *tele.ReplyMarkup {
	return &tele.ReplyMarkup{ForceReply: true, Placeholder: placeholder}
}

// Prompt returns send options that attach a ForceReply markup to plain text.
func Prompt(placeholder string) *tele.SendOptions {
	return &tele.SendOptions{ReplyMarkup: ForceReply(placeholder)}
}

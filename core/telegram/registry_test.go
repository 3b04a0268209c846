package telegram

import (
	"testing"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/leakbot/core/telegram/commands"
)

func noop(tele.Context) error { return nil }

func TestRegistryLookupCommand(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterCommand("/subscribe", commands.Command{Handler: noop, Description: "subscribe", Aliases: []string{"start"}})
	reg.RegisterCommand("/stats", commands.Command{Handler: noop, Description: "stats", AdminOnly: true})

	cases := map[string]string{
		"/subscribe":             "/subscribe",
		"/subscribe@leak_bot":    "/subscribe",
		"  /start promo-code  ":  "/subscribe",
		"/start@leak_bot ref=42": "/subscribe",
		"/stats":                 "/stats",
	}
	for text, want := range cases {
		key, _, ok := reg.LookupCommand(text)
		if !ok || key != want {
			t.Fatalf("LookupCommand(%q) = %q, %v; want %q", text, key, ok, want)
		}
	}

	for _, text := range []string{"", "subscribe", "/unknown", "bob@x.io"} {
		if _, _, ok := reg.LookupCommand(text); ok {
			t.Fatalf("LookupCommand(%q) unexpectedly matched", text)
		}
	}
}

func TestRegistryRejectsInvalidAndDuplicate(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterCommand("help", commands.Command{Handler: noop, Description: "x"})
	reg.RegisterCommand("/help", commands.Command{Handler: nil, Description: "x"})
	reg.RegisterCommand("/help", commands.Command{Handler: noop, Description: "first"})
	reg.RegisterCommand("/help", commands.Command{Handler: noop, Description: "second"})

	if len(reg.Commands()) != 1 {
		t.Fatalf("commands = %v, want only /help", reg.Commands())
	}
	if reg.Commands()["/help"].Description != "first" {
		t.Fatal("duplicate registration replaced the original command")
	}
}

func TestListCommandsHidesAdminOnly(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterCommand("/help", commands.Command{Handler: noop, Description: "help"})
	reg.RegisterCommand("/stats", commands.Command{Handler: noop, Description: "stats", AdminOnly: true})

	visible := reg.ListCommands(true)
	if len(visible) != 1 || visible[0].Text != "help" {
		t.Fatalf("visible commands = %+v", visible)
	}
	if all := reg.ListCommands(false); len(all) != 2 {
		t.Fatalf("all commands = %+v", all)
	}
}

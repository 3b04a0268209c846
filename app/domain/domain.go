// Package domain holds the leak-notification model shared by the dispatcher,
// the sweeper and the store implementations.
package domain

import (
	"errors"
	"strings"
)

var (
	// ErrAlreadyExists is returned when a subscriber with the same email is already stored.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotFound is returned when the requested subscriber or leak does not exist.
	ErrNotFound = errors.New("not found")
)

// Subscriber binds an email to the chat that receives its notifications.
type Subscriber struct {
	Email  string `json:"email" db:"email"`
	ChatID int64  `json:"chat_id" db:"chat_id"`
}

// Leak is a breach record created by the ingestion process. Notified only
// ever moves from false to true.
type Leak struct {
	ID       string  `json:"id" db:"id"`
	Email    string  `json:"email" db:"email"`
	Source   string  `json:"source" db:"source"`
	LeakInfo *string `json:"leak_info,omitempty" db:"leak_info"`
	Notified bool    `json:"notified" db:"notified"`
}

// LooksLikeEmail is the only email check the bot performs: the text must contain "@" and ".".
func LooksLikeEmail(text string) bool {
	return strings.Contains(text, "@") && strings.Contains(text, ".")
}

// Stats is a point-in-time summary of the store contents.
type Stats struct {
	Subscribers   int
	PendingLeaks  int
	NotifiedLeaks int
}

// Summarize counts subscribers and leaks by notification status.
func Summarize(subscribers map[string]int64, leaks []Leak) Stats {
	st := Stats{Subscribers: len(subscribers)}
	for _, l := range leaks {
		if l.Notified {
			st.NotifiedLeaks++
		} else {
			st.PendingLeaks++
		}
	}
	return st
}

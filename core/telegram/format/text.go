// Package format holds small helpers for rendering message text.
package format

import "strings"

// OrDefault returns *s, or def when s is nil or holds only whitespace.
func OrDefault(s *string, def string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return def
	}
	return *s
}

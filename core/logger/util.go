package logger

import (
	"log/slog"
	"strings"
	"time"
)

// Status maps an error to the status field value.
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	return "fail"
}

// Took is the time since start rounded to milliseconds.
func Took(start time.Time) time.Duration {
	return RoundMS(time.Since(start))
}

// RoundMS rounds d to milliseconds; negative durations become zero.
func RoundMS(d time.Duration) time.Duration {
	return max(d, 0).Round(time.Millisecond)
}

// ListAttrs describes a list of names as <key>_total, a <key>_preview of the
// first limit names and <key>_truncated when some were left out.
func ListAttrs(key string, names []string, limit int) []any {
	attrs := []any{slog.Int(key+"_total", len(names))}
	shown := names[:min(max(limit, 0), len(names))]
	if len(shown) > 0 {
		attrs = append(attrs, slog.String(key+"_preview", strings.Join(shown, ", ")))
	}
	if len(shown) < len(names) {
		attrs = append(attrs, slog.Bool(key+"_truncated", true))
	}
	return attrs
}

package logger

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// Default debug sampling: one event in fifty.
const (
	defaultSampleKeep   = 1
	defaultSampleWindow = 50
)

// ratio is keep events out of every window; a zero window keeps everything.
type ratio struct {
	keep, window int
}

// debugSampler passes the first keep events of every window of events.
type debugSampler struct {
	cfg  atomic.Pointer[ratio]
	seen atomic.Uint64
}

func newDebugSampler(keep, window int) *debugSampler {
	s := &debugSampler{}
	s.Set(keep, window)
	return s
}

// Set replaces the ratio and restarts the window. Non-positive values disable sampling.
func (s *debugSampler) Set(keep, window int) {
	r := &ratio{}
	if keep > 0 && window > 0 {
		r.keep, r.window = min(keep, window), window
	}
	s.cfg.Store(r)
	s.seen.Store(0)
}

// Allow reports whether the next event passes.
func (s *debugSampler) Allow() bool {
	r := s.cfg.Load()
	if r == nil || r.window == 0 {
		return true
	}
	pos := (s.seen.Add(1) - 1) % uint64(r.window)
	return pos < uint64(r.keep)
}

// parseSampleRatio reads "keep/window" or "window" (meaning 1/window).
// Blank or malformed input yields the default; "0" and "0/N" disable sampling.
func parseSampleRatio(raw string) (keep, window int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultSampleKeep, defaultSampleWindow
	}
	left, right, hasSlash := strings.Cut(raw, "/")
	if !hasSlash {
		left, right = "1", raw
	}
	k, errK := strconv.Atoi(strings.TrimSpace(left))
	w, errW := strconv.Atoi(strings.TrimSpace(right))
	switch {
	case errK != nil || errW != nil:
		return defaultSampleKeep, defaultSampleWindow
	case k <= 0 || w <= 0:
		return 0, 0
	}
	return k, w
}

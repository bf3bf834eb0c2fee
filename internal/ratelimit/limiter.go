package ratelimit

import (
	"math"
	"sync"
	"time"

	"appregistry/internal/clock"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool

	// RetryAfter is set on denial: how long until the oldest counted
	// attempt leaves the window, rounded up to whole seconds, at least
	// one second.
	RetryAfter time.Duration
}

// Limiter admits create attempts per token within a sliding window.
// Each admission check that finds room records one attempt; expired
// entries are pruned lazily on the next check for the same token.
// Per-token state is created lazily and kept for the process lifetime.
type Limiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	limit   int
	window  time.Duration
	windows map[string][]time.Time
}

func New(clk clock.Clock, limit int, window time.Duration) *Limiter {
	return &Limiter{
		clock:   clk,
		limit:   limit,
		window:  window,
		windows: make(map[string][]time.Time),
	}
}

// TryAdmit admits the attempt if fewer than limit attempts fall
// strictly within the window, recording the current instant on
// admission. Otherwise it denies with the wait until room frees up.
func (l *Limiter) TryAdmit(token string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	entries := l.windows[token]
	kept := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.windows[token] = kept
		wait := l.window - now.Sub(kept[0])
		secs := time.Duration(math.Ceil(wait.Seconds())) * time.Second
		if secs < time.Second {
			secs = time.Second
		}
		return Decision{RetryAfter: secs}
	}

	l.windows[token] = append(kept, now)
	return Decision{Allowed: true}
}

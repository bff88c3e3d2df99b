package logx

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle limits how often a message keyed by an arbitrary string is let
// through. Each key gets its own token bucket. Allow never blocks.
type Throttle struct {
	mu    sync.Mutex
	every time.Duration
	burst int
	lim   map[string]*rate.Limiter
	max   int
}

// NewThrottle lets burst messages per key through, then one per every.
func NewThrottle(every time.Duration, burst int) *Throttle {
	if every <= 0 {
		every = 5 * time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{every: every, burst: burst, lim: make(map[string]*rate.Limiter), max: 4096}
}

// Allow reports whether a message for key may be logged now.
// A nil Throttle allows everything.
func (t *Throttle) Allow(key string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	l := t.lim[key]
	if l == nil {
		// Keys are job keys; generated keys are unbounded, so reset rather than grow forever.
		if len(t.lim) >= t.max {
			t.lim = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(rate.Every(t.every), t.burst)
		t.lim[key] = l
	}
	t.mu.Unlock()
	return l.Allow()
}

// Forget drops the limiter for key.
func (t *Throttle) Forget(key string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.lim, key)
	t.mu.Unlock()
}

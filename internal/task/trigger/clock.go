package trigger

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// FakeClock is a manually advanced clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock { return &FakeClock{now: start} }

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type Option func(*options)

type options struct {
	clock     Clock
	spread    bool
	spreadTag string
	immediate bool
}

func buildOptions(opts []Option) options {
	o := options{clock: SystemClock}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.clock == nil {
		o.clock = SystemClock
	}
	return o
}

// WithClock overrides the time source.
func WithClock(c Clock) Option { return func(o *options) { o.clock = c } }

// WithStartupSpread delays the first interval run by a random jitter (capped
// at 30s) so many jobs registered together do not fire in lockstep. tag seeds
// the jitter.
func WithStartupSpread(tag string) Option {
	return func(o *options) {
		o.spread = true
		o.spreadTag = tag
	}
}

// Immediately makes an interval trigger ready on its first poll.
func Immediately() Option { return func(o *options) { o.immediate = true } }

package trigger

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"

	"coursebot/internal/task/job"
)

const maxStartupSpread = 30 * time.Second

// EveryTrigger runs with a fixed delay measured from the end of the previous
// run, so a slow body never causes back-to-back runs. It never retires.
type EveryTrigger struct {
	runState
	every  time.Duration
	next   time.Time
	jitter time.Duration
}

func Every(every time.Duration, opts ...Option) (*EveryTrigger, error) {
	if every <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	o := buildOptions(opts)
	now := o.clock.Now()
	t := &EveryTrigger{runState: runState{clock: o.clock}, every: every}
	switch {
	case o.immediate:
		t.next = now
	case o.spread:
		t.jitter = startupJitter(every, o.spreadTag)
		t.next = now.Add(every + t.jitter)
	default:
		t.next = now.Add(every)
	}
	return t, nil
}

func (t *EveryTrigger) ShouldBeExecuted() bool {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.running && !now.Before(t.next)
}

func (t *EveryTrigger) CanBeDeleted() bool { return false }

func (t *EveryTrigger) BeforeExecution(context.Context, *job.Context) error {
	t.begin()
	return nil
}

func (t *EveryTrigger) AfterExecution(_ context.Context, _ *job.Context, res job.Result) error {
	end, ran := t.end(res)
	if !ran {
		return nil
	}
	t.mu.Lock()
	t.next = end.Add(t.every)
	t.mu.Unlock()
	return nil
}

func (t *EveryTrigger) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

func (t *EveryTrigger) Interval() time.Duration { return t.every }

// Jitter is the startup spread applied to the first run.
func (t *EveryTrigger) Jitter() time.Duration { return t.jitter }

func (t *EveryTrigger) String() string { return "every " + t.every.String() }

var spreadSeq atomic.Uint64

func startupJitter(every time.Duration, tag string) time.Duration {
	spreadMax := min(every, maxStartupSpread)
	if spreadMax <= 0 {
		return 0
	}
	seed := time.Now().UnixNano() ^ int64(spreadSeq.Add(1)) ^ int64(fnv64a(tag))
	rng := rand.New(rand.NewSource(seed))
	return time.Duration(rng.Int63n(int64(spreadMax)))
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

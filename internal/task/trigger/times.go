package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coursebot/internal/task/job"
)

// TimesTrigger bounds another trigger to n completed runs.
type TimesTrigger struct {
	inner job.Trigger
	limit uint64

	mu   sync.Mutex
	runs uint64
}

func Times(n uint64, inner job.Trigger) (*TimesTrigger, error) {
	if n == 0 {
		return nil, fmt.Errorf("times: n must be > 0")
	}
	if inner == nil {
		return nil, fmt.Errorf("times: inner trigger required")
	}
	return &TimesTrigger{inner: inner, limit: n}, nil
}

func (t *TimesTrigger) done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs >= t.limit
}

func (t *TimesTrigger) ShouldBeExecuted() bool {
	return !t.done() && t.inner.ShouldBeExecuted()
}

func (t *TimesTrigger) CanBeDeleted() bool {
	return t.done() || t.inner.CanBeDeleted()
}

func (t *TimesTrigger) BeforeExecution(ctx context.Context, jc *job.Context) error {
	return t.inner.BeforeExecution(ctx, jc)
}

func (t *TimesTrigger) AfterExecution(ctx context.Context, jc *job.Context, res job.Result) error {
	if !res.NotStarted() {
		t.mu.Lock()
		t.runs++
		t.mu.Unlock()
	}
	return t.inner.AfterExecution(ctx, jc, res)
}

// Remaining reports how many runs are left.
func (t *TimesTrigger) Remaining() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.runs >= t.limit {
		return 0
	}
	return t.limit - t.runs
}

func (t *TimesTrigger) Next() time.Time {
	if t.done() {
		return time.Time{}
	}
	if n, ok := t.inner.(Nexter); ok {
		return n.Next()
	}
	return time.Time{}
}

func (t *TimesTrigger) String() string {
	return fmt.Sprintf("%v x%d", t.inner, t.limit)
}

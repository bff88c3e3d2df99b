package trigger

import (
	"context"
	"sync"

	"coursebot/internal/task/job"
)

// ManualTrigger is ready only after Fire. Each Fire arms exactly one run;
// repeated Fire calls before the run coalesce. Close retires it.
type ManualTrigger struct {
	mu     sync.Mutex
	armed  bool
	closed bool
}

func Manual() *ManualTrigger { return &ManualTrigger{} }

func (t *ManualTrigger) Fire() {
	t.mu.Lock()
	t.armed = true
	t.mu.Unlock()
}

func (t *ManualTrigger) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *ManualTrigger) ShouldBeExecuted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed && !t.closed
}

func (t *ManualTrigger) CanBeDeleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *ManualTrigger) BeforeExecution(context.Context, *job.Context) error {
	t.mu.Lock()
	t.armed = false
	t.mu.Unlock()
	return nil
}

// AfterExecution re-arms the trigger when the run never started.
func (t *ManualTrigger) AfterExecution(_ context.Context, _ *job.Context, res job.Result) error {
	if res.NotStarted() {
		t.Fire()
	}
	return nil
}

func (t *ManualTrigger) String() string { return "manual" }

package trigger

import (
	"context"
	"time"

	"coursebot/internal/task/job"
)

// OnceTrigger fires once at or after a wall-clock time, then retires whether
// the run succeeded or not.
type OnceTrigger struct {
	runState
	at time.Time
}

func Once(at time.Time, opts ...Option) *OnceTrigger {
	o := buildOptions(opts)
	return &OnceTrigger{runState: runState{clock: o.clock}, at: at}
}

// Now is a one-shot trigger that is ready immediately.
func Now(opts ...Option) *OnceTrigger {
	o := buildOptions(opts)
	return Once(o.clock.Now(), opts...)
}

func (t *OnceTrigger) ShouldBeExecuted() bool {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.running && t.runs == 0 && !now.Before(t.at)
}

func (t *OnceTrigger) CanBeDeleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs > 0
}

func (t *OnceTrigger) BeforeExecution(context.Context, *job.Context) error {
	t.begin()
	return nil
}

func (t *OnceTrigger) AfterExecution(_ context.Context, _ *job.Context, res job.Result) error {
	t.end(res)
	return nil
}

func (t *OnceTrigger) Next() time.Time {
	if t.CanBeDeleted() {
		return time.Time{}
	}
	return t.at
}

func (t *OnceTrigger) String() string { return "once@" + t.at.Format(time.RFC3339) }

package trigger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"coursebot/internal/task/job"
)

// Parser accepts 5 or 6 field expressions (seconds optional) and descriptors
// such as @hourly and @every 5m.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronTrigger fires on a cron schedule. The next fire time is recomputed
// from the end of every run, so missed slots are skipped, not replayed.
type CronTrigger struct {
	runState
	spec  string
	sched cron.Schedule
	loc   *time.Location
	next  time.Time
}

func Cron(spec string, loc *time.Location, opts ...Option) (*CronTrigger, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("cron spec required")
	}
	sched, err := Parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.Local
	}
	o := buildOptions(opts)
	t := &CronTrigger{runState: runState{clock: o.clock}, spec: spec, sched: sched, loc: loc}
	t.next = sched.Next(o.clock.Now().In(loc))
	return t, nil
}

func (t *CronTrigger) ShouldBeExecuted() bool {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.running && !t.next.IsZero() && !now.Before(t.next)
}

func (t *CronTrigger) CanBeDeleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	// A schedule that can never fire again (e.g. Feb 30) retires.
	return t.next.IsZero()
}

func (t *CronTrigger) BeforeExecution(context.Context, *job.Context) error {
	t.begin()
	return nil
}

func (t *CronTrigger) AfterExecution(_ context.Context, _ *job.Context, res job.Result) error {
	end, ran := t.end(res)
	if !ran {
		return nil
	}
	t.mu.Lock()
	t.next = t.sched.Next(end.In(t.loc))
	t.mu.Unlock()
	return nil
}

func (t *CronTrigger) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// Upcoming previews the next n fire times after the current one.
func (t *CronTrigger) Upcoming(n int) []time.Time {
	out := make([]time.Time, 0, max(n, 0))
	at := t.Next()
	for i := 0; i < n && !at.IsZero(); i++ {
		out = append(out, at)
		at = t.sched.Next(at)
	}
	return out
}

func (t *CronTrigger) Spec() string { return t.spec }

func (t *CronTrigger) String() string { return "cron " + t.spec }

// Daily fires every day at HH:MM in loc.
func Daily(atHHMM string, loc *time.Location, opts ...Option) (*CronTrigger, error) {
	h, m, err := parseClock(atHHMM)
	if err != nil {
		return nil, err
	}
	return Cron(fmt.Sprintf("%d %d * * *", m, h), loc, opts...)
}

// Weekly fires on weekday at HH:MM in loc.
func Weekly(weekday time.Weekday, atHHMM string, loc *time.Location, opts ...Option) (*CronTrigger, error) {
	h, m, err := parseClock(atHHMM)
	if err != nil {
		return nil, err
	}
	if weekday < time.Sunday || weekday > time.Saturday {
		return nil, fmt.Errorf("invalid weekday %d", weekday)
	}
	return Cron(fmt.Sprintf("%d %d * * %d", m, h, int(weekday)), loc, opts...)
}

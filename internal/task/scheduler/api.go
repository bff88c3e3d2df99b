package scheduler

import (
	"context"
	"fmt"
	"time"

	"coursebot/internal/task/job"
	"coursebot/internal/task/trigger"
)

// The helpers below upsert by key, so re-registering a job after a config
// reload or plugin restart replaces it instead of failing as a duplicate.
// Interval schedules get a startup spread seeded by the key.

// ScheduleFunc stores fn under key with trig.
func (s *Service) ScheduleFunc(key job.Key, trig job.Trigger, fn func(ctx context.Context, jc *job.Context) error) (job.Key, error) {
	if fn == nil {
		return job.Key{}, fmt.Errorf("%w: %s has no function", job.ErrInvalidJob, key)
	}
	return s.upsert(job.ForInstance(key, job.Func(fn)), trig)
}

// ScheduleType stores a job materialized per run from the registered type.
func (s *Service) ScheduleType(key job.Key, typ string, params job.Params, trig job.Trigger) (job.Key, error) {
	return s.upsert(job.ForType(key, typ, params), trig)
}

// AddInterval runs j every interval, measured from the end of the previous
// run.
func (s *Service) AddInterval(key job.Key, every time.Duration, j job.Job) (job.Key, error) {
	trig, err := trigger.Every(every, trigger.WithStartupSpread(key.String()))
	if err != nil {
		return job.Key{}, fmt.Errorf("schedule %s: %w", key, err)
	}
	return s.upsert(job.ForInstance(key, j), trig)
}

// AddCron runs j on a cron spec evaluated in the scheduler timezone.
func (s *Service) AddCron(key job.Key, spec string, j job.Job) (job.Key, error) {
	trig, err := trigger.Cron(spec, s.Location())
	if err != nil {
		return job.Key{}, fmt.Errorf("schedule %s: %w", key, err)
	}
	return s.upsert(job.ForInstance(key, j), trig)
}

// AddSchedule parses schedule and registers either a cron or interval job.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "55 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
func (s *Service) AddSchedule(key job.Key, schedule string, j job.Job) (job.Key, error) {
	trig, err := trigger.Parse(schedule, s.Location(), trigger.WithStartupSpread(key.String()))
	if err != nil {
		return job.Key{}, fmt.Errorf("schedule %s: %w", key, err)
	}
	return s.upsert(job.ForInstance(key, j), trig)
}

// AddOnce runs j once at the given time. A time in the past runs on the next
// pass.
func (s *Service) AddOnce(key job.Key, at time.Time, j job.Job) (job.Key, error) {
	return s.upsert(job.ForInstance(key, j), trigger.Once(at))
}

// AddDaily runs j every day at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(key job.Key, atHHMM string, j job.Job) (job.Key, error) {
	trig, err := trigger.Daily(atHHMM, s.Location())
	if err != nil {
		return job.Key{}, fmt.Errorf("schedule %s: %w", key, err)
	}
	return s.upsert(job.ForInstance(key, j), trig)
}

// AddWeekly runs j every week on weekday at HH:MM in the scheduler timezone.
func (s *Service) AddWeekly(key job.Key, weekday time.Weekday, atHHMM string, j job.Job) (job.Key, error) {
	trig, err := trigger.Weekly(weekday, atHHMM, s.Location())
	if err != nil {
		return job.Key{}, fmt.Errorf("schedule %s: %w", key, err)
	}
	return s.upsert(job.ForInstance(key, j), trig)
}

func (s *Service) upsert(data job.Data, trig job.Trigger) (job.Key, error) {
	key, _, err := s.ScheduleOrReplace(data, trig)
	return key, err
}

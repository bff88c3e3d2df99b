package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks every section that can be checked without side effects.
// It reports all problems at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	duration := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		check(err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		check(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	s := cfg.Scheduler
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			check(fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}
	duration("scheduler.idle_interval", s.IdleInterval)
	duration("scheduler.yield", s.Yield)
	switch strings.ToLower(strings.TrimSpace(s.Dispatcher)) {
	case "", "pool", "goroutine":
	default:
		check(fmt.Errorf("scheduler.dispatcher: must be pool or goroutine, got %q", s.Dispatcher))
	}

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 {
			check(errors.New("task_engine.workers must be >= 0"))
		}
		if te.QueueSize < 0 {
			check(errors.New("task_engine.queue_size must be >= 0"))
		}
		if te.HistorySize < 0 {
			check(errors.New("task_engine.history_size must be >= 0"))
		}
		duration("task_engine.default_timeout", te.DefaultTimeout)
		duration("task_engine.max_queue_delay", te.MaxQueueDelay)
	}

	if c := cfg.Circuit; c != nil {
		if c.TripFailures < 0 {
			check(errors.New("circuit.trip_failures must be >= 0"))
		}
		duration("circuit.open_timeout", c.OpenTimeout)
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				check(fmt.Errorf("storage.path is required when storage.driver=%s", st.Driver))
			}
		default:
			check(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		if st.Retain < 0 {
			check(errors.New("storage.retain must be >= 0"))
		}
		duration("storage.busy_timeout", st.BusyTimeout)
	}

	return errors.Join(errs...)
}

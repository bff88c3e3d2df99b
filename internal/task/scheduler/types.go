package scheduler

import (
	"context"
	"time"

	"coursebot/internal/eventbus"
	"coursebot/internal/runtime/supervisor"
	"coursebot/internal/task/engine"
	"coursebot/internal/task/job"
	logx "coursebot/pkg/logx"
)

// Config controls the polling loop.
// The app layer maps config.scheduler into this struct.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ used by cron, daily and weekly helpers

	// IdleInterval is the sleep after a pass that dispatched nothing.
	// 0 means 1s.
	IdleInterval time.Duration
	// Yield is the pause after each dispatch within a pass. Descriptors that
	// are skipped (not ready, executing, retired) get no pause, so a pass over
	// many idle jobs stays short. 0 means 1ms, negative means only
	// runtime.Gosched.
	Yield time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleInterval <= 0 {
		c.IdleInterval = time.Second
	}
	if c.Yield == 0 {
		c.Yield = time.Millisecond
	}
	return c
}

// Executor starts runs for the loop. after must be called exactly once per
// BeginExecution, including when it returns an error.
type Executor interface {
	BeginExecution(ctx context.Context, d *job.Descriptor, after func(*job.Descriptor)) error
	Forget(key job.Key)
}

// EngineStats is implemented by dispatchers that expose pool diagnostics.
type EngineStats interface {
	Snapshot() engine.Snapshot
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }
func WithBus(bus eventbus.Bus) Option   { return func(s *Service) { s.bus = bus } }

// WithEngineStats adds pool diagnostics to Snapshot.
func WithEngineStats(es EngineStats) Option { return func(s *Service) { s.engine = es } }

// WithForget registers a callback run once a removed key is gone for good.
func WithForget(fn func(job.Key)) Option {
	return func(s *Service) {
		if fn != nil {
			s.forget = append(s.forget, fn)
		}
	}
}

// JobInfo describes one stored job.
type JobInfo struct {
	Key       job.Key
	Type      string
	Trigger   string
	Next      time.Time // zero when the trigger does not know
	Executing bool
	CreatedAt time.Time
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Jobs      []JobInfo
	Executing int

	Passes     uint64
	Dispatched uint64
	Retired    uint64
	LastPass   time.Time

	Loop   []supervisor.GoroutineStats
	Engine *engine.Snapshot
}

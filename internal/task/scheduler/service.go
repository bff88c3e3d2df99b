package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"coursebot/internal/eventbus"
	"coursebot/internal/runtime/supervisor"
	"coursebot/internal/task/broker"
	"coursebot/internal/task/job"
	"coursebot/internal/task/store"
	logx "coursebot/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config
	loc *time.Location
	sup *supervisor.Supervisor

	log    logx.Logger
	bus    eventbus.Bus
	engine EngineStats
	forget []func(job.Key)

	exec     Executor
	store    *store.Memory
	hub      *broker.Hub
	throttle *logx.Throttle

	// executing is locked on its own; it is never held together with the
	// store mutex.
	exMu      sync.Mutex
	executing map[job.Key]struct{}
	inflight  sync.WaitGroup

	running    atomic.Bool
	passes     atomic.Uint64
	dispatched atomic.Uint64
	retired    atomic.Uint64
	lastPass   atomic.Int64
}

func New(cfg Config, exec Executor, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg.withDefaults(),
		log:       logx.Nop(),
		exec:      exec,
		store:     store.New(),
		hub:       broker.NewHub(),
		throttle:  logx.NewThrottle(5*time.Second, 1),
		executing: make(map[job.Key]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.loc = loadLocation(s.cfg.Timezone, s.log)
	return s
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Loop timings take effect on the next pass; a new
// timezone only affects jobs scheduled afterwards.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if strings.TrimSpace(cfg.Timezone) != oldTZ {
		s.loc = loadLocation(cfg.Timezone, s.log)
	}
	s.mu.Unlock()
	s.hub.Changed.Notify(job.Key{})
}

// Start launches the loop. It is idempotent; a disabled scheduler accepts
// jobs but never runs them.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled; jobs will not run")
		return nil
	}
	s.sup = supervisor.New(context.WithoutCancel(ctx),
		supervisor.WithLogger(s.log.With(logx.String("comp", "scheduler"))),
		supervisor.WithCancelOnError(false),
	)
	s.running.Store(true)
	s.sup.GoRestart("loop", s.loop, supervisor.WithRestartBackoff(100*time.Millisecond, 5*time.Second))
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", s.store.Len()))
	return nil
}

// Stop ends the loop and waits for runs already dispatched, bounded by ctx.
// Stored jobs are kept, so a later Start resumes them.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	start := time.Now()
	s.log.Info("scheduler stop requested")
	s.running.Store(false)

	var errs []error
	if err := sup.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler loop: %w", err))
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("scheduler: %d runs still in flight: %w", s.executingCount(), ctx.Err()))
	}

	err := errors.Join(errs...)
	if err != nil {
		s.log.Warn("scheduler stopped with errors", logx.Duration("took", time.Since(start)), logx.Err(err))
		return err
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	return nil
}

// Running reports whether the loop is active.
func (s *Service) Running() bool { return s.running.Load() }

// Schedule stores a new job. A zero key gets a generated one in the default
// group.
func (s *Service) Schedule(data job.Data, trig job.Trigger) (job.Key, error) {
	if data.Key.IsZero() {
		data.Key = job.NewKey(job.DefaultGroup, "")
	}
	d, err := s.store.AddJob(data, trig)
	if err != nil {
		return job.Key{}, fmt.Errorf("schedule %s: %w", data.Key, err)
	}
	s.hub.Changed.Notify(d.Key())
	s.publish(eventbus.JobScheduled, d, "")
	s.log.Debug("job scheduled", logx.Stringer("job", d.Key()), logx.String("trigger", describe(trig)))
	return d.Key(), nil
}

// ScheduleOrReplace stores data, replacing any job under the same key.
func (s *Service) ScheduleOrReplace(data job.Data, trig job.Trigger) (job.Key, bool, error) {
	if data.Key.IsZero() {
		data.Key = job.NewKey(job.DefaultGroup, "")
	}
	d, replaced, err := s.store.Upsert(data, trig)
	if err != nil {
		return job.Key{}, false, fmt.Errorf("schedule %s: %w", data.Key, err)
	}
	s.hub.Changed.Notify(d.Key())
	typ := eventbus.JobScheduled
	if replaced {
		typ = eventbus.JobRescheduled
	}
	s.publish(typ, d, "")
	s.log.Debug("job scheduled", logx.Stringer("job", d.Key()), logx.String("trigger", describe(trig)), logx.Bool("replaced", replaced))
	return d.Key(), replaced, nil
}

// Reschedule keeps the job data of key and swaps its trigger. An unknown key
// fails with job.ErrNotFound and leaves the store unchanged. A run in flight
// finishes against the old trigger.
func (s *Service) Reschedule(key job.Key, trig job.Trigger) error {
	d, err := s.store.Replace(key, trig)
	if err != nil {
		return fmt.Errorf("reschedule %s: %w", key, err)
	}
	s.hub.Changed.Notify(key)
	s.publish(eventbus.JobRescheduled, d, "")
	s.log.Debug("job rescheduled", logx.Stringer("job", key), logx.String("trigger", describe(trig)))
	return nil
}

// Unschedule removes key. It is idempotent and reports whether something was
// removed. A run in flight is not interrupted.
func (s *Service) Unschedule(key job.Key) bool {
	d, ok := s.store.Get(key)
	if !ok || !s.store.RemoveDescriptor(d) {
		return false
	}
	s.hub.Removed.Notify(key)
	s.publish(eventbus.JobRemoved, d, "unscheduled")
	s.log.Debug("job unscheduled", logx.Stringer("job", key))
	return true
}

// UnscheduleGroup removes every job of group and returns how many it removed.
func (s *Service) UnscheduleGroup(group string) int {
	n := 0
	for _, d := range s.store.EnumerateJobs() {
		if d.Key().Group == group && s.Unschedule(d.Key()) {
			n++
		}
	}
	return n
}

// Lookup returns the descriptor stored under key.
func (s *Service) Lookup(key job.Key) (*job.Descriptor, bool) { return s.store.Get(key) }

// Len is the number of stored jobs.
func (s *Service) Len() int { return s.store.Len() }

// Location is the timezone used by the calendar helpers.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) tryMark(key job.Key) bool {
	s.exMu.Lock()
	defer s.exMu.Unlock()
	if _, busy := s.executing[key]; busy {
		return false
	}
	s.executing[key] = struct{}{}
	return true
}

func (s *Service) unmark(key job.Key) {
	s.exMu.Lock()
	delete(s.executing, key)
	s.exMu.Unlock()
}

func (s *Service) isExecuting(key job.Key) bool {
	s.exMu.Lock()
	defer s.exMu.Unlock()
	_, busy := s.executing[key]
	return busy
}

func (s *Service) executingCount() int {
	s.exMu.Lock()
	defer s.exMu.Unlock()
	return len(s.executing)
}

func (s *Service) publish(typ string, d *job.Descriptor, reason string) {
	eventbus.Publish(s.bus, typ, eventbus.JobEvent{
		Key:    d.Key().String(),
		Type:   d.Data().TypeName(),
		Reason: reason,
	})
}

func describe(trig job.Trigger) string {
	if st, ok := trig.(fmt.Stringer); ok {
		return st.String()
	}
	return fmt.Sprintf("%T", trig)
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Package heartbeat is a built-in plugin that proves the scheduler is alive:
// a typed job runs on a configurable schedule and logs scheduler stats.
package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"coursebot/internal/plugin"
	"coursebot/internal/task/container"
	"coursebot/internal/task/job"
	"coursebot/internal/task/trigger"
	logx "coursebot/pkg/logx"
)

const (
	Name    = "heartbeat"
	JobType = "heartbeat.beat"

	// SchedulerService is the container service name the beat job reads stats from.
	SchedulerService = "scheduler"

	defaultSchedule = "1m"
)

type Config struct {
	// Schedule accepts an interval ("30s", "00:05") or a cron spec.
	Schedule string `json:"schedule"`
	Message  string `json:"message"`
}

func (c Config) normalized() Config {
	c.Schedule = strings.TrimSpace(c.Schedule)
	if c.Schedule == "" {
		c.Schedule = defaultSchedule
	}
	if strings.TrimSpace(c.Message) == "" {
		c.Message = "alive"
	}
	return c
}

type beatParams struct {
	Message string `json:"message"`
}

type Plugin struct {
	plugin.Base

	mu      sync.Mutex
	cfg     Config
	started bool

	beats atomic.Uint64
}

func New() *Plugin { return &Plugin{cfg: Config{}.normalized()} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Jobs == nil {
		return errors.New("heartbeat: job container not available")
	}
	return container.Register(deps.Jobs, JobType, func(s *container.Scope, bp beatParams) (*beat, error) {
		sched, _ := container.Lookup[plugin.Scheduler](s, SchedulerService)
		return &beat{p: p, sched: sched, message: bp.Message}, nil
	})
}

func (p *Plugin) ValidateConfig(_ context.Context, raw json.RawMessage) error {
	c, err := plugin.DecodeConfig[Config](raw)
	if err != nil {
		return err
	}
	c = c.normalized()
	if _, err := trigger.Parse(c.Schedule, time.UTC); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	return nil
}

func (p *Plugin) OnConfigChange(_ context.Context, raw json.RawMessage) error {
	c, err := plugin.DecodeConfig[Config](raw)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = c.normalized()
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}
	return p.schedule()
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	return p.schedule()
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
	return p.StopBase(ctx)
}

// Beats reports how many heartbeats ran since the process started.
func (p *Plugin) Beats() uint64 { return p.beats.Load() }

func (p *Plugin) schedule() error {
	if p.Deps.Scheduler == nil {
		return plugin.ErrNoScheduler
	}
	p.mu.Lock()
	c := p.cfg
	p.mu.Unlock()

	key := p.Key("beat")
	trig, err := trigger.Parse(c.Schedule, p.Deps.Scheduler.Location(), trigger.WithStartupSpread(key.String()))
	if err != nil {
		return fmt.Errorf("heartbeat schedule %q: %w", c.Schedule, err)
	}
	if _, err := p.Schedule("beat", JobType, job.Params{"message": c.Message}, trig); err != nil {
		return err
	}
	p.Log.Debug("heartbeat scheduled", logx.String("schedule", c.Schedule))
	return nil
}

type beat struct {
	p       *Plugin
	sched   plugin.Scheduler
	message string
}

func (b *beat) Execute(ctx context.Context, jc *job.Context) error {
	n := b.p.beats.Add(1)
	fields := []logx.Field{
		logx.String("message", b.message),
		logx.Uint64("beat", n),
		logx.Uint64("attempt", jc.Attempt),
	}
	if b.sched != nil {
		snap := b.sched.Snapshot()
		fields = append(fields,
			logx.Int("jobs", len(snap.Jobs)),
			logx.Int("executing", snap.Executing),
			logx.Uint64("dispatched", snap.Dispatched),
			logx.Uint64("retired", snap.Retired),
		)
		if snap.Engine != nil {
			fields = append(fields, logx.Int("queue_len", snap.Engine.QueueLen))
		}
	}
	b.p.Log.Info("heartbeat", fields...)
	b.p.PublishEvent("heartbeat.beat", map[string]any{"beat": n, "message": b.message})
	return ctx.Err()
}

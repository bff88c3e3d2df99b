package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"coursebot/internal/eventbus"
	"coursebot/internal/runtime/supervisor"
	"coursebot/internal/task/job"
	"coursebot/internal/task/trigger"
	logx "coursebot/pkg/logx"
)

var ErrNoScheduler = errors.New("scheduler not available")

// Base is a small helper to make writing plugins faster and safer.
// Typical usage:
//
//	type Plugin struct { plugin.Base }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error { p.InitBase(deps, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); _, err := p.Every("tick", time.Minute, p.tick); return err }
//	func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }
//
// Jobs scheduled through Base are keyed inside Group(name).
type Base struct {
	Log    logx.Logger
	Deps   Deps
	Runner *supervisor.Supervisor

	name string
	ctx  context.Context
}

// InitBase wires deps + logger.
func (b *Base) InitBase(deps Deps, pluginName string) {
	b.Deps = deps
	b.name = pluginName
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	b.Log = log.With(logx.String("plugin", pluginName))
}

// StartBase creates a per-plugin supervisor tied to ctx.
func (b *Base) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = supervisor.New(ctx, supervisor.WithLogger(b.Log), supervisor.WithCancelOnError(false))
}

// StopBase removes the plugin's jobs, cancels the runner and waits bounded by ctx.
func (b *Base) StopBase(ctx context.Context) error {
	b.UnscheduleAll()
	if b.Runner == nil {
		return nil
	}
	b.Runner.Cancel()
	err := b.Runner.Wait(ctx)
	b.Runner = nil
	return err
}

// Context returns the plugin runtime context (canceled on stop/disable).
func (b *Base) Context() context.Context { return b.ctx }

func (b *Base) Group() string { return Group(b.name) }

// Key names a job inside the plugin's group.
func (b *Base) Key(name string) job.Key { return job.MakeKey(b.Group(), name) }

// NewKey generates a unique key inside the plugin's group.
func (b *Base) NewKey(prefix string) job.Key { return job.NewKey(b.Group(), prefix) }

// Every runs fn every interval. Re-registering the same name replaces the job.
func (b *Base) Every(name string, every time.Duration, fn job.Func) (job.Key, error) {
	key := b.Key(name)
	trig, err := trigger.Every(every, trigger.WithStartupSpread(key.String()))
	if err != nil {
		return job.Key{}, fmt.Errorf("%s: %w", key, err)
	}
	return b.schedule(job.ForInstance(key, fn), trig)
}

// Cron runs fn on a cron spec in the scheduler timezone.
func (b *Base) Cron(name, spec string, fn job.Func) (job.Key, error) {
	if b.Deps.Scheduler == nil {
		return job.Key{}, ErrNoScheduler
	}
	key := b.Key(name)
	trig, err := trigger.Cron(spec, b.Deps.Scheduler.Location())
	if err != nil {
		return job.Key{}, fmt.Errorf("%s: %w", key, err)
	}
	return b.schedule(job.ForInstance(key, fn), trig)
}

// At runs fn once at the given time.
func (b *Base) At(name string, at time.Time, fn job.Func) (job.Key, error) {
	return b.schedule(job.ForInstance(b.Key(name), fn), trigger.Once(at))
}

// Schedule stores a typed job, materialized per run from the job container.
func (b *Base) Schedule(name, typ string, params job.Params, trig job.Trigger) (job.Key, error) {
	return b.schedule(job.ForType(b.Key(name), typ, params), trig)
}

func (b *Base) schedule(data job.Data, trig job.Trigger) (job.Key, error) {
	if b.Deps.Scheduler == nil {
		return job.Key{}, ErrNoScheduler
	}
	key, _, err := b.Deps.Scheduler.ScheduleOrReplace(data, trig)
	return key, err
}

func (b *Base) Unschedule(name string) bool {
	if b.Deps.Scheduler == nil {
		return false
	}
	return b.Deps.Scheduler.Unschedule(b.Key(name))
}

// UnscheduleAll removes every job in the plugin's group.
func (b *Base) UnscheduleAll() int {
	if b.Deps.Scheduler == nil || b.name == "" {
		return 0
	}
	return b.Deps.Scheduler.UnscheduleGroup(b.Group())
}

// PublishEvent publishes a lightweight event to the in-process event bus (if present).
func (b *Base) PublishEvent(typ string, data any) {
	if b == nil {
		return
	}
	eventbus.Publish(b.Deps.Bus, typ, data)
}

// Health never blocks.
func (b *Base) Health(context.Context) (string, error) {
	if b == nil {
		return "nil", errors.New("plugin base is nil")
	}
	if b.ctx == nil {
		return "not_started", nil
	}
	select {
	case <-b.ctx.Done():
		return "stopped", b.ctx.Err()
	default:
	}
	return "ok", nil
}

// DecodeConfig decodes per-plugin raw json into a typed config struct.
// Unknown fields are rejected so typos surface on reload.
func DecodeConfig[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return out, errors.New("trailing data after config object")
	}
	return out, nil
}

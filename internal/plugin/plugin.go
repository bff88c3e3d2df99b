package plugin

import (
	"context"
	"encoding/json"
	"time"

	"coursebot/internal/config"
	"coursebot/internal/eventbus"
	"coursebot/internal/storage"
	"coursebot/internal/task/container"
	"coursebot/internal/task/job"
	"coursebot/internal/task/scheduler"
	logx "coursebot/pkg/logx"
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// ConfigValidator is an optional hook to validate plugin config before applying it.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

// Scheduler is the part of the scheduler façade plugins may use.
type Scheduler interface {
	Schedule(data job.Data, trig job.Trigger) (job.Key, error)
	ScheduleOrReplace(data job.Data, trig job.Trigger) (job.Key, bool, error)
	Reschedule(key job.Key, trig job.Trigger) error
	Unschedule(key job.Key) bool
	UnscheduleGroup(group string) int
	Location() *time.Location
	Snapshot() scheduler.Snapshot
}

type Deps struct {
	Logger    logx.Logger
	Config    *config.ConfigManager
	Scheduler Scheduler
	Jobs      *container.Container
	Bus       eventbus.Bus
	Store     storage.Store // nil when storage is disabled
}

type StopReason string

const (
	StopShutdown   StopReason = "shutdown"
	StopDisable    StopReason = "disabled"
	StopQuarantine StopReason = "quarantine"
	StopReload     StopReason = "reload"
)

// Group is the job group owned by the named plugin. Every job a plugin
// schedules through Base lives in it, so the manager can sweep them on stop.
func Group(name string) string { return "plugin:" + name }

type pluginEvent struct {
	Plugin string `json:"plugin"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
	Count  int    `json:"count,omitempty"`
}

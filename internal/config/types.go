package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls the polling loop and how runs are dispatched.
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls the shared worker pool used when
	// scheduler.dispatcher is "pool" (the default).
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	// Circuit configures the per-job circuit breaker. Omitted means disabled.
	Circuit *CircuitConfig `json:"circuit,omitempty"`

	Storage *StorageConfig             `json:"storage,omitempty"`
	Plugins map[string]PluginConfigRaw `json:"plugins"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the scheduler loop.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - idle_interval: "1s"
//   - yield: "1ms"
//   - abort_on_before_failure: true
//   - dispatcher: "pool"
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone for cron, daily and weekly schedules.
	Timezone string `json:"timezone,omitempty"`

	IdleInterval string `json:"idle_interval,omitempty"`
	Yield        string `json:"yield,omitempty"`

	// AbortOnBeforeFailure skips the job body when a before hook fails.
	// A pointer so an explicit false can be told apart from omitted.
	AbortOnBeforeFailure *bool `json:"abort_on_before_failure,omitempty"`

	// Dispatcher is "pool" (shared task engine) or "goroutine" (one
	// goroutine per run).
	Dispatcher string `json:"dispatcher,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout is a Go duration string (e.g. "10s", "1m").
	// Use "0s" to disable a global default timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay drops runs that have been queued longer than this duration.
	// Use "0s" to disable stale queue dropping.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// CircuitConfig controls the per-job circuit breaker listener.
//
// Example:
//
//	"circuit": { "enabled": true, "trip_failures": 5, "open_timeout": "1m" }
type CircuitConfig struct {
	Enabled      bool   `json:"enabled"`
	TripFailures int    `json:"trip_failures,omitempty"`
	OpenTimeout  string `json:"open_timeout,omitempty"`
}

// StorageConfig controls run history persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/coursebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Retain      int    `json:"retain,omitempty"`
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos in a plugin block are
// caught during config reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}

package app

import (
	"fmt"
	"strings"
	"time"

	"coursebot/internal/config"
	"coursebot/internal/storage"
	"coursebot/internal/task/engine"
	"coursebot/internal/task/listener"
	"coursebot/internal/task/scheduler"
	logx "coursebot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	if cfg == nil {
		return logx.Config{Level: "info", Console: true}
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	if cfg == nil {
		return scheduler.Config{}, nil
	}
	sc := cfg.Scheduler
	idle, err := config.ParseDurationField("scheduler.idle_interval", sc.IdleInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	yield, err := config.ParseDurationField("scheduler.yield", sc.Yield)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:      sc.Enabled,
		Timezone:     strings.TrimSpace(sc.Timezone),
		IdleInterval: idle,
		Yield:        yield,
	}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	if cfg == nil || cfg.TaskEngine == nil {
		return engine.Config{}, nil
	}
	te := cfg.TaskEngine
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	// Zero values fall through to the engine defaults.
	return engine.Config{
		Workers:        max(te.Workers, 0),
		QueueSize:      max(te.QueueSize, 0),
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    max(te.HistorySize, 0),
	}, nil
}

func mapCircuitConfig(cfg *config.Config) (listener.CircuitConfig, bool, error) {
	if cfg == nil || cfg.Circuit == nil || !cfg.Circuit.Enabled {
		return listener.CircuitConfig{}, false, nil
	}
	c := cfg.Circuit
	open, err := config.ParseDurationField("circuit.open_timeout", c.OpenTimeout)
	if err != nil {
		return listener.CircuitConfig{}, false, err
	}
	if c.TripFailures < 0 {
		return listener.CircuitConfig{}, false, fmt.Errorf("circuit.trip_failures must be >= 0")
	}
	return listener.CircuitConfig{TripFailures: c.TripFailures, OpenTimeout: open}, true, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path, Retain: sc.Retain}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, Retain: sc.Retain}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"coursebot/internal/config"
	logx "coursebot/pkg/logx"
	"coursebot/pkg/systemd"
)

// applyConfig pushes a committed config into the running subsystems.
// Storage, circuit breaker, dispatcher and abort policy are wired at
// construction and only change on restart.
func (a *App) applyConfig(c context.Context, lastApplied, newCfg *config.Config) {
	if newCfg == nil {
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	sections, attrs, pluginChanged := config.SummarizeConfigChange(lastApplied, newCfg)
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Debug("config change summary", fields...)
		if len(pluginChanged) > 0 {
			a.log.Debug("plugin config changes detected", logx.Strings("plugins", pluginChanged))
		}
	} else {
		a.log.Debug("config reload received, but no effective changes detected")
	}

	for _, s := range []string{"storage", "circuit"} {
		if slices.Contains(sections, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
	if lastApplied != nil {
		o, n := lastApplied.Scheduler, newCfg.Scheduler
		if o.DispatcherOrDefault() != n.DispatcherOrDefault() || o.AbortOnBeforeFailureOrDefault() != n.AbortOnBeforeFailureOrDefault() {
			a.log.Warn("scheduler dispatcher/abort policy changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if a.engine != nil {
		if engCfg, err := mapTaskEngineConfig(newCfg); err != nil {
			a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
		} else {
			a.engine.Apply(c, engCfg)
		}
	}

	if schedCfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		prev := a.sched.Enabled()
		a.sched.Apply(schedCfg)
		switch {
		case prev && !schedCfg.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			if err := a.sched.Stop(stopCtx); err != nil {
				a.log.Warn("scheduler stop failed", logx.Err(err))
			}
			cancel()
		case !prev && schedCfg.Enabled:
			a.log.Info("scheduler enabled via config")
			if err := a.sched.Start(c); err != nil {
				a.log.Warn("scheduler start failed", logx.Err(err))
			}
		}
	}

	// apply plugin enable/disable + per-plugin config
	if err := a.pm.OnConfigUpdate(c, newCfg); err != nil {
		a.log.Warn("plugin reconcile reported errors", logx.Err(err))
	}

	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}

package config

import (
	"reflect"
	"sort"
	"strings"

	logx "coursebot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging, and (3) a list of plugin names that
// changed (enable/config).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oSch, nSch := oldCfg.Scheduler, newCfg.Scheduler
	if oSch.Enabled != nSch.Enabled ||
		strings.TrimSpace(oSch.Timezone) != strings.TrimSpace(nSch.Timezone) ||
		strings.TrimSpace(oSch.IdleInterval) != strings.TrimSpace(nSch.IdleInterval) ||
		strings.TrimSpace(oSch.Yield) != strings.TrimSpace(nSch.Yield) ||
		abortOnBeforeFailure(oSch) != abortOnBeforeFailure(nSch) ||
		dispatcher(oSch) != dispatcher(nSch) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", nSch.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(nSch.Timezone)),
			logx.String("scheduler.idle_interval", strings.TrimSpace(nSch.IdleInterval)),
			logx.Bool("scheduler.abort_on_before_failure", abortOnBeforeFailure(nSch)),
			logx.String("scheduler.dispatcher", dispatcher(nSch)),
		)
	}

	oTE := derefTaskEngine(oldCfg.TaskEngine)
	nTE := derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Bool("task_engine.present", newCfg.TaskEngine != nil),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.String("task_engine.max_queue_delay", strings.TrimSpace(nTE.MaxQueueDelay)),
			logx.Int("task_engine.history_size", nTE.HistorySize),
		)
	}

	var oC, nC CircuitConfig
	if oldCfg.Circuit != nil {
		oC = *oldCfg.Circuit
	}
	if newCfg.Circuit != nil {
		nC = *newCfg.Circuit
	}
	if oC != nC {
		changed = append(changed, "circuit")
		attrs = append(attrs,
			logx.Bool("circuit.enabled", nC.Enabled),
			logx.Int("circuit.trip_failures", nC.TripFailures),
			logx.String("circuit.open_timeout", strings.TrimSpace(nC.OpenTimeout)),
		)
	}

	// Nil storage means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) ||
		oS.Retain != nS.Retain {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Int("storage.retain", nS.Retain),
		)
	}

	pluginChanged := diffPlugins(oldCfg.Plugins, newCfg.Plugins)
	if len(pluginChanged) > 0 {
		changed = append(changed, "plugins")
		attrs = append(attrs,
			logx.Int("plugins.changed_count", len(pluginChanged)),
			logx.Int("plugins.enabled_count", countEnabled(newCfg.Plugins)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, pluginChanged
}

// AbortOnBeforeFailureOrDefault is the effective abort policy; omitted means true.
func (s SchedulerConfig) AbortOnBeforeFailureOrDefault() bool { return abortOnBeforeFailure(s) }

// DispatcherOrDefault is the effective dispatcher name.
func (s SchedulerConfig) DispatcherOrDefault() string { return dispatcher(s) }

func abortOnBeforeFailure(s SchedulerConfig) bool {
	return s.AbortOnBeforeFailure == nil || *s.AbortOnBeforeFailure
}

func dispatcher(s SchedulerConfig) string {
	d := strings.ToLower(strings.TrimSpace(s.Dispatcher))
	if d == "" {
		return "pool"
	}
	return d
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func countEnabled(m map[string]PluginConfigRaw) int {
	n := 0
	for _, v := range m {
		if v.Enabled {
			n++
		}
	}
	return n
}

func diffPlugins(oldM, newM map[string]PluginConfigRaw) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, n := oldM[name], newM[name]
		if o.Enabled != n.Enabled || canonicalHashJSON(o.Config) != canonicalHashJSON(n.Config) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

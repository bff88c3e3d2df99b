package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  timezone: UTC
  idle_interval: 500ms
  abort_on_before_failure: false
task_engine:
  workers: 3
  default_timeout: 30s
circuit:
  enabled: true
  trip_failures: 4
  open_timeout: 2m
storage:
  driver: sqlite
  path: ./data/coursebot.db
plugins:
  heartbeat:
    enabled: true
    config:
      schedule: 1m
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("bot.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatal(err)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.IdleInterval != "500ms" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.AbortOnBeforeFailureOrDefault() {
		t.Fatal("explicit false lost")
	}
	if cfg.Scheduler.DispatcherOrDefault() != "pool" {
		t.Fatalf("dispatcher = %q", cfg.Scheduler.DispatcherOrDefault())
	}
	if cfg.TaskEngine == nil || cfg.TaskEngine.Workers != 3 {
		t.Fatalf("task_engine = %+v", cfg.TaskEngine)
	}
	if cfg.Circuit == nil || cfg.Circuit.TripFailures != 4 {
		t.Fatalf("circuit = %+v", cfg.Circuit)
	}
	var hb struct {
		Schedule string `json:"schedule"`
	}
	if err := json.Unmarshal(cfg.Plugins["heartbeat"].Config, &hb); err != nil || hb.Schedule != "1m" {
		t.Fatalf("plugin config = %s (%v)", cfg.Plugins["heartbeat"].Config, err)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, body string
	}{
		{"unknown field", "c.json", `{"scheduler":{"enabled":true,"bogus":1}}`},
		{"unknown plugin field", "c.json", `{"plugins":{"x":{"enabled":true,"timeout":"1s"}}}`},
		{"trailing data", "c.json", `{"plugins":{}} {}`},
		{"bad yaml", "c.yml", "scheduler: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.file, []byte(tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"ok", Config{}, ""},
		{"timezone", Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}, "scheduler.timezone"},
		{"idle", Config{Scheduler: SchedulerConfig{IdleInterval: "soon"}}, "scheduler.idle_interval"},
		{"dispatcher", Config{Scheduler: SchedulerConfig{Dispatcher: "threads"}}, "scheduler.dispatcher"},
		{"workers", Config{TaskEngine: &TaskEngineConfig{Workers: -1}}, "task_engine.workers"},
		{"negative timeout", Config{TaskEngine: &TaskEngineConfig{DefaultTimeout: "-1s"}}, "task_engine.default_timeout"},
		{"circuit", Config{Circuit: &CircuitConfig{OpenTimeout: "x"}}, "circuit.open_timeout"},
		{"storage driver", Config{Storage: &StorageConfig{Driver: "mongo"}}, "storage.driver"},
		{"storage path", Config{Storage: &StorageConfig{Driver: "sqlite"}}, "storage.path"},
		{"level", Config{Logging: LoggingConfig{Level: "loud"}}, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tt.cfg)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 2s "); err != nil || d != 2*time.Second {
		t.Fatalf("d=%v err=%v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration accepted")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg, err := Decode("a.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	newCfg, _ := Decode("a.yaml", []byte(sampleYAML))
	if sections, _, _ := SummarizeConfigChange(oldCfg, newCfg); len(sections) != 0 {
		t.Fatalf("identical configs differ: %v", sections)
	}

	newCfg.Logging.Level = "info"
	newCfg.Scheduler.Dispatcher = "goroutine"
	newCfg.Plugins["heartbeat"] = PluginConfigRaw{Enabled: true, Config: json.RawMessage(`{ "schedule" : "1m" }`)}
	newCfg.Plugins["extra"] = PluginConfigRaw{Enabled: true}

	sections, attrs, plugins := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"logging", "plugins", "scheduler"}
	if strings.Join(sections, ",") != strings.Join(want, ",") {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
	// Reformatted JSON is not a change.
	if len(plugins) != 1 || plugins[0] != "extra" {
		t.Fatalf("plugins = %v", plugins)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.json")
	write := func(level string) {
		body := `{"logging":{"level":"` + level + `"},"scheduler":{"enabled":true},"plugins":{}}`
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("info")

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	write("debug")

	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("new config not committed")
	}

	// An invalid edit is rejected and the committed config stays.
	write("loud")
	time.Sleep(2 * reloadDebounce)
	if m.Get().Logging.Level != "debug" {
		t.Fatal("invalid config committed")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursebot/internal/config"
	"coursebot/internal/eventbus"
	"coursebot/internal/plugin"
	"coursebot/internal/runtime/supervisor"
	"coursebot/internal/storage"
	"coursebot/internal/task/container"
	"coursebot/internal/task/engine"
	"coursebot/internal/task/executor"
	"coursebot/internal/task/listener"
	"coursebot/internal/task/scheduler"
	logx "coursebot/pkg/logx"
	"coursebot/pkg/systemd"
)

// Service names visible to job factories and running jobs through their scope.
const (
	ServiceScheduler = "scheduler"
	ServiceBus       = "bus"
	ServiceConfig    = "config"
	ServiceStore     = "store"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	jobs    *container.Container
	engine  *engine.Service        // nil unless scheduler.dispatcher is "pool"
	runs    *supervisor.Supervisor // owns per-run goroutines for the "goroutine" dispatcher
	circuit *listener.Circuit      // nil when the circuit breaker is disabled
	sched   *scheduler.Service

	pm *plugin.Manager
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}
	fail := func(err error) (*App, error) {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	jobs := container.New()
	jobs.AddListener(listener.NewLogging(log.With(logx.String("comp", "job"))))
	jobs.AddListener(listener.NewEvents(bus))
	if store != nil {
		jobs.AddListener(listener.NewHistory(store))
	}
	var circuit *listener.Circuit
	if cc, enabled, err := mapCircuitConfig(cfg); err != nil {
		return fail(err)
	} else if enabled {
		circuit = listener.NewCircuit(cc, log.With(logx.String("comp", "circuit")))
		jobs.AddListener(circuit)
	}

	a := &App{
		cfgPath: cfgm.Path(),
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		jobs:    jobs,
		circuit: circuit,
	}

	// The dispatcher is fixed for the process lifetime.
	var disp executor.Dispatcher
	switch cfg.Scheduler.DispatcherOrDefault() {
	case "goroutine":
		a.runs = supervisor.New(context.Background(),
			supervisor.WithLogger(log.With(logx.String("comp", "runs"))),
			supervisor.WithCancelOnError(false),
		)
		disp = executor.Goroutines{Sup: a.runs}
	default:
		engCfg, err := mapTaskEngineConfig(cfg)
		if err != nil {
			return fail(err)
		}
		a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
		disp = a.engine
	}

	exec := executor.New(jobs, disp,
		executor.WithLogger(log.With(logx.String("comp", "executor"))),
		executor.WithAbortOnBeforeFailure(cfg.Scheduler.AbortOnBeforeFailureOrDefault()),
	)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	opts := []scheduler.Option{
		scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
		scheduler.WithBus(bus),
	}
	if a.engine != nil {
		opts = append(opts, scheduler.WithEngineStats(a.engine))
	}
	if circuit != nil {
		opts = append(opts, scheduler.WithForget(circuit.Forget))
	}
	a.sched = scheduler.New(schedCfg, exec, opts...)

	jobs.Provide(ServiceScheduler, a.sched)
	jobs.Provide(ServiceBus, bus)
	jobs.Provide(ServiceConfig, cfgm)
	if store != nil {
		jobs.Provide(ServiceStore, store)
	}

	a.pm = plugin.NewManager(log.With(logx.String("comp", "plugins")), cfgm, plugin.Deps{
		Logger:    log,
		Config:    cfgm,
		Scheduler: a.sched,
		Jobs:      jobs,
		Bus:       bus,
		Store:     store,
	})
	return a, nil
}

func (a *App) Plugins() *plugin.Manager      { return a.pm }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Jobs() *container.Container    { return a.jobs }
func (a *App) Bus() eventbus.Bus             { return a.bus }
func (a *App) Store() storage.Store          { return a.store }
func (a *App) Config() *config.ConfigManager { return a.cfgm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapTaskEngineConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		return a.pm.ValidateConfig(c, cfg)
	})

	// Engine first so the scheduler never dispatches into a stopped pool.
	if a.engine != nil {
		a.engine.Start(a.sup.Context())
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	// A failing plugin is quarantined or left stopped; the rest keep running.
	if err := a.pm.StartAll(a.sup.Context()); err != nil {
		a.log.Error("some plugins failed to start", logx.Err(err))
	}

	// Debug-level event log; components can also subscribe themselves.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			coalesce:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break coalesce
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	if a.cfgPath != "" {
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}
	// Watchdog trouble is not worth taking the bot down.
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started",
		logx.Int("jobs", a.sched.Len()),
		logx.Strings("job_types", a.jobs.Types()),
		logx.Bool("storage", a.store != nil),
		logx.Bool("circuit", a.circuit != nil),
	)
	return nil
}

// Stop shuts every subsystem down in dependency order and returns the
// errors of all steps that failed.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	var errs []error
	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			errs = append(errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Plugins first: they own jobs and may depend on every service below.
	step("plugins", 4*time.Second, a.pm.StopAll)
	step("scheduler", 3*time.Second, a.sched.Stop)
	step("dispatcher", 2*time.Second, func(c context.Context) error {
		if a.engine != nil {
			a.engine.Stop(c)
		}
		if a.runs != nil {
			return a.runs.Stop(c)
		}
		return nil
	})
	step("storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, event log, watchdog).
	step("supervisor", 2*time.Second, a.sup.Wait)

	err := errors.Join(errs...)
	if err != nil {
		a.log.Warn("stopped with errors", logx.Err(err))
	} else {
		a.log.Info("stopped")
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

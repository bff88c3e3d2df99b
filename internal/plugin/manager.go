package plugin

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"coursebot/internal/config"
	"coursebot/internal/eventbus"
	logx "coursebot/pkg/logx"
)

const defaultCallTimeout = 10 * time.Second

type Manager struct {
	mu sync.Mutex

	log  logx.Logger
	cfgm *config.ConfigManager
	deps Deps
	reg  map[string]Plugin
	run  map[string]bool
	// inited tracks plugins that passed Init once. Init is not repeated on
	// every enable/disable cycle; plugins react to changes via
	// ConfigurablePlugin.
	inited map[string]bool
	// last config blob hash per running plugin (used to skip redundant OnConfigChange calls)
	lastRawHash map[string]uint64

	// Long-lived base context for all plugin contexts. It is NOT the ctx
	// passed to StartAll/OnConfigUpdate, which may be call-scoped; that one
	// is only bridged to baseCancel.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	bound      bool

	// per-plugin run context (cancelled on disable/stop)
	pctx    map[string]context.Context
	pcancel map[string]context.CancelFunc

	// quarantine keeps plugins disabled while their config blob stays the
	// same broken one.
	quarantine map[string]quarantineState

	callTimeout time.Duration
}

type quarantineState struct {
	rawHash uint64
	err     string
	stage   string
	since   time.Time
	count   int
}

type Option func(*Manager)

// WithCallTimeout bounds each Init/Start/OnConfigChange/ValidateConfig call.
func WithCallTimeout(d time.Duration) Option {
	return func(pm *Manager) {
		if d > 0 {
			pm.callTimeout = d
		}
	}
}

func NewManager(log logx.Logger, cfgm *config.ConfigManager, deps Deps, opts ...Option) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Logger.IsZero() {
		deps.Logger = log
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	pm := &Manager{
		log:         log,
		cfgm:        cfgm,
		deps:        deps,
		reg:         map[string]Plugin{},
		run:         map[string]bool{},
		inited:      map[string]bool{},
		lastRawHash: map[string]uint64{},
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		pctx:        map[string]context.Context{},
		pcancel:     map[string]context.CancelFunc{},
		quarantine:  map[string]quarantineState{},
		callTimeout: defaultCallTimeout,
	}
	for _, o := range opts {
		o(pm)
	}
	return pm
}

func (pm *Manager) emit(typ string, data pluginEvent) {
	eventbus.Publish(pm.deps.Bus, typ, data)
}

func (pm *Manager) isQuarantined(name string, rawHash uint64) bool {
	pm.mu.Lock()
	st, ok := pm.quarantine[name]
	pm.mu.Unlock()
	return ok && st.rawHash == rawHash
}

func (pm *Manager) clearQuarantineOnChange(name string, rawHash uint64) {
	pm.mu.Lock()
	st, ok := pm.quarantine[name]
	if ok && st.rawHash != rawHash {
		delete(pm.quarantine, name)
		pm.mu.Unlock()
		pm.log.Info("plugin quarantine cleared (config changed)", logx.String("plugin", name))
		pm.emit("plugin.quarantine_cleared", pluginEvent{Plugin: name})
		return
	}
	pm.mu.Unlock()
}

func (pm *Manager) setQuarantine(name string, rawHash uint64, err error, stage string) {
	if err == nil {
		return
	}
	errStr := err.Error()
	pm.mu.Lock()
	prev, ok := pm.quarantine[name]
	// Same broken config on repeated reconciles: count it, don't log again.
	if ok && prev.rawHash == rawHash && prev.err == errStr {
		prev.count++
		pm.quarantine[name] = prev
		pm.mu.Unlock()
		return
	}
	count := 1
	if ok {
		count = prev.count + 1
	}
	pm.quarantine[name] = quarantineState{rawHash: rawHash, err: errStr, stage: stage, since: time.Now(), count: count}
	pm.mu.Unlock()

	pm.log.Error("plugin quarantined", logx.String("plugin", name), logx.String("stage", stage), logx.String("err", errStr))
	pm.emit("plugin.quarantined", pluginEvent{Plugin: name, Stage: stage, Err: errStr, Count: count})
}

// BindContext bridges appCtx to the internal base context. First non-nil bind wins.
func (pm *Manager) BindContext(appCtx context.Context) {
	pm.mu.Lock()
	if pm.bound || appCtx == nil {
		pm.mu.Unlock()
		return
	}
	pm.bound = true
	baseCancel := pm.baseCancel
	pm.mu.Unlock()

	go func() {
		<-appCtx.Done()
		baseCancel()
	}()
}

// Register adds plugins. Names must be unique.
func (pm *Manager) Register(p ...Plugin) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	var errs []error
	for _, pl := range p {
		if pl == nil {
			errs = append(errs, errors.New("plugin: nil plugin"))
			continue
		}
		name := pl.Name()
		if name == "" {
			errs = append(errs, errors.New("plugin: empty name"))
			continue
		}
		// The name becomes a job key group.
		if strings.Contains(name, ".") {
			errs = append(errs, fmt.Errorf("plugin: name %q must not contain a dot", name))
			continue
		}
		if _, dup := pm.reg[name]; dup {
			errs = append(errs, fmt.Errorf("plugin: %q already registered", name))
			continue
		}
		pm.reg[name] = pl
	}
	return errors.Join(errs...)
}

func (pm *Manager) StartAll(ctx context.Context) error {
	pm.BindContext(ctx)
	return pm.reconcile(pm.current())
}

// OnConfigUpdate starts, stops, reconfigures or restarts plugins to match cfg.
func (pm *Manager) OnConfigUpdate(ctx context.Context, cfg *config.Config) error {
	pm.BindContext(ctx)
	if cfg == nil {
		cfg = &config.Config{}
	}
	return pm.reconcile(cfg)
}

// StopAll stops every running plugin and collects their errors.
func (pm *Manager) StopAll(ctx context.Context) error {
	var errs []error
	for _, name := range pm.names() {
		if err := pm.stopOne(ctx, name, StopShutdown); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ValidateConfig asks every plugin that cfg enables to validate its blob.
// It is meant as a config reload gate: a failing plugin rejects the reload.
func (pm *Manager) ValidateConfig(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	var errs []error
	for _, name := range pm.names() {
		raw, ok := cfg.Plugins[name]
		if !ok || !raw.Enabled {
			continue
		}
		v, ok := pm.plugin(name).(ConfigValidator)
		if !ok {
			continue
		}
		vctx, cancel := context.WithTimeout(ctx, pm.callTimeout)
		err := pm.safeCall("plugin.validate."+name, func() error { return v.ValidateConfig(vctx, raw.Config) })
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (pm *Manager) current() *config.Config {
	if pm.cfgm != nil {
		if cfg := pm.cfgm.Get(); cfg != nil {
			return cfg
		}
	}
	return &config.Config{}
}

func (pm *Manager) names() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	names := make([]string, 0, len(pm.reg))
	for name := range pm.reg {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (pm *Manager) plugin(name string) Plugin {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.reg[name]
}

func (pm *Manager) stopOne(stopCtx context.Context, name string, reason StopReason) error {
	pm.mu.Lock()
	p := pm.reg[name]
	running := pm.run[name]
	cancel := pm.pcancel[name]
	pm.mu.Unlock()

	if !running || p == nil {
		return nil
	}

	start := time.Now()
	pm.log.Debug("stopping plugin", logx.String("plugin", name), logx.String("reason", string(reason)))

	// cancel plugin context first (stop background loops promptly)
	if cancel != nil {
		cancel()
	}

	// Stop gets stopCtx, but a misbehaving plugin cannot block shutdown forever.
	var stopErr error
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.stop."+name, func() error { return p.Stop(stopCtx) })
	}()
	select {
	case err := <-done:
		if err != nil {
			stopErr = fmt.Errorf("plugin %s stop: %w", name, err)
		}
	case <-stopCtx.Done():
		stopErr = fmt.Errorf("plugin %s stop: %w", name, stopCtx.Err())
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(stopCtx.Err()))
		pm.emit("plugin.stop_timeout", pluginEvent{Plugin: name, Reason: string(reason), Err: stopCtx.Err().Error()})
	}

	// Jobs left behind by the plugin must not outlive it.
	swept := 0
	if pm.deps.Scheduler != nil {
		swept = pm.deps.Scheduler.UnscheduleGroup(Group(name))
	}

	pm.mu.Lock()
	pm.run[name] = false
	delete(pm.pctx, name)
	delete(pm.pcancel, name)
	delete(pm.lastRawHash, name)
	pm.mu.Unlock()

	took := time.Since(start)
	pm.emit("plugin.stopped", pluginEvent{Plugin: name, Reason: string(reason), TookMS: took.Milliseconds(), Count: swept})
	fields := []logx.Field{logx.String("plugin", name), logx.String("reason", string(reason)), logx.Duration("took", took), logx.Int("jobs_removed", swept)}
	if took >= 500*time.Millisecond {
		pm.log.Info("plugin stopped", fields...)
	} else {
		pm.log.Debug("plugin stopped", fields...)
	}
	return stopErr
}

type reconcileOp struct {
	name    string
	p       Plugin
	raw     config.PluginConfigRaw
	rawHash uint64
	enabled bool
	run     bool
}

func (pm *Manager) reconcile(cfg *config.Config) error {
	// snapshot desired actions without holding lock during plugin calls
	pm.mu.Lock()
	ops := make([]reconcileOp, 0, len(pm.reg))
	for name, p := range pm.reg {
		raw, ok := cfg.Plugins[name]
		ops = append(ops, reconcileOp{
			name:    name,
			p:       p,
			raw:     raw,
			rawHash: raw.Hash(),
			enabled: ok && raw.Enabled,
			run:     pm.run[name],
		})
	}
	pm.mu.Unlock()
	sort.Slice(ops, func(i, j int) bool { return ops[i].name < ops[j].name })

	var errs []error
	for _, o := range ops {
		switch {
		case o.enabled && !o.run:
			if err := pm.startOne(o); err != nil {
				errs = append(errs, err)
			}

		case !o.enabled && o.run:
			pm.log.Debug("plugin disable requested", logx.String("plugin", o.name))
			pm.emit("plugin.disable_requested", pluginEvent{Plugin: o.name})
			stopCtx, cancel := context.WithTimeout(pm.baseCtx, pm.callTimeout)
			if err := pm.stopOne(stopCtx, o.name, StopDisable); err != nil {
				errs = append(errs, err)
			}
			cancel()

		case o.enabled && o.run:
			if err := pm.reconfigure(o); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (pm *Manager) startOne(o reconcileOp) error {
	// If config changed since last quarantine, clear it so we can retry.
	pm.clearQuarantineOnChange(o.name, o.rawHash)
	if pm.isQuarantined(o.name, o.rawHash) {
		pm.log.Warn("plugin enable skipped (quarantined)", logx.String("plugin", o.name))
		return nil
	}

	pm.log.Debug("plugin enable requested", logx.String("plugin", o.name))
	pm.emit("plugin.enable_requested", pluginEvent{Plugin: o.name})

	// LONG-LIVED plugin ctx from the internal base ctx
	pctx, cancel := context.WithCancel(pm.baseCtx)

	pm.mu.Lock()
	needInit := !pm.inited[o.name]
	deps := pm.deps
	pm.mu.Unlock()
	deps.Logger = deps.Logger.With(logx.String("plugin", o.name))
	if needInit {
		ictx, icancel := context.WithTimeout(pctx, pm.callTimeout)
		err := pm.safeCall("plugin.init."+o.name, func() error { return o.p.Init(ictx, deps) })
		icancel()
		if err != nil {
			pm.log.Error("plugin init failed", logx.String("plugin", o.name), logx.Err(err))
			pm.emit("plugin.init_failed", pluginEvent{Plugin: o.name, Err: err.Error()})
			cancel()
			return fmt.Errorf("plugin %s init: %w", o.name, err)
		}
		pm.mu.Lock()
		pm.inited[o.name] = true
		pm.mu.Unlock()
	} else {
		pm.log.Debug("plugin already initialized; skipping Init", logx.String("plugin", o.name))
	}

	// Invalid config quarantines the plugin instead of failing the whole reconcile.
	if v, ok := o.p.(ConfigValidator); ok {
		cctx, ccancel := context.WithTimeout(pctx, pm.callTimeout)
		err := pm.safeCall("plugin.validate."+o.name, func() error { return v.ValidateConfig(cctx, o.raw.Config) })
		ccancel()
		if err != nil {
			pm.setQuarantine(o.name, o.rawHash, fmt.Errorf("config validate: %w", err), "validate")
			pm.emit("plugin.config_invalid", pluginEvent{Plugin: o.name, Err: err.Error()})
			cancel()
			return nil
		}
	}

	if cp, ok := o.p.(ConfigurablePlugin); ok {
		cctx, ccancel := context.WithTimeout(pctx, pm.callTimeout)
		err := pm.safeCall("plugin.config."+o.name, func() error { return cp.OnConfigChange(cctx, o.raw.Config) })
		ccancel()
		if err != nil {
			pm.setQuarantine(o.name, o.rawHash, fmt.Errorf("config apply: %w", err), "config")
			pm.emit("plugin.config_failed", pluginEvent{Plugin: o.name, Err: err.Error()})
			cancel()
			return nil
		}
		pm.emit("plugin.config_applied", pluginEvent{Plugin: o.name})
	}

	// Start receives pctx (long-lived); the deadline is enforced externally.
	if err := pm.startWithTimeout(o.name, o.p, pctx, cancel, pm.callTimeout); err != nil {
		pm.log.Error("plugin start failed", logx.String("plugin", o.name), logx.Err(err))
		pm.emit("plugin.start_failed", pluginEvent{Plugin: o.name, Err: err.Error()})
		cancel()
		if pm.deps.Scheduler != nil {
			pm.deps.Scheduler.UnscheduleGroup(Group(o.name))
		}
		return fmt.Errorf("plugin %s start: %w", o.name, err)
	}

	pm.mu.Lock()
	pm.run[o.name] = true
	pm.pctx[o.name] = pctx
	pm.pcancel[o.name] = cancel
	pm.lastRawHash[o.name] = o.rawHash
	delete(pm.quarantine, o.name)
	pm.mu.Unlock()

	pm.log.Info("plugin started", logx.String("plugin", o.name))
	pm.emit("plugin.started", pluginEvent{Plugin: o.name})
	return nil
}

// reconfigure applies a changed config blob to a running plugin. Plugins
// that cannot take config live are restarted.
func (pm *Manager) reconfigure(o reconcileOp) error {
	pm.mu.Lock()
	oldHash := pm.lastRawHash[o.name]
	pctx := pm.pctx[o.name]
	pm.mu.Unlock()
	if o.rawHash == oldHash {
		pm.log.Debug("plugin config unchanged; skipping", logx.String("plugin", o.name))
		return nil
	}
	if pctx == nil {
		pctx = pm.baseCtx
	}

	stop := func(reason StopReason) error {
		stopCtx, cancel := context.WithTimeout(pm.baseCtx, pm.callTimeout)
		defer cancel()
		return pm.stopOne(stopCtx, o.name, reason)
	}

	if v, ok := o.p.(ConfigValidator); ok {
		cctx, ccancel := context.WithTimeout(pctx, pm.callTimeout)
		err := pm.safeCall("plugin.validate."+o.name, func() error { return v.ValidateConfig(cctx, o.raw.Config) })
		ccancel()
		if err != nil {
			pm.setQuarantine(o.name, o.rawHash, fmt.Errorf("config validate: %w", err), "validate")
			pm.emit("plugin.config_invalid", pluginEvent{Plugin: o.name, Err: err.Error()})
			return stop(StopQuarantine)
		}
	}

	cp, ok := o.p.(ConfigurablePlugin)
	if !ok {
		pm.log.Info("plugin config changed; restarting", logx.String("plugin", o.name))
		if err := stop(StopReload); err != nil {
			pm.log.Warn("plugin stop before restart failed", logx.String("plugin", o.name), logx.Err(err))
		}
		o.run = false
		return pm.startOne(o)
	}

	cctx, ccancel := context.WithTimeout(pctx, pm.callTimeout)
	err := pm.safeCall("plugin.config."+o.name, func() error { return cp.OnConfigChange(cctx, o.raw.Config) })
	ccancel()
	if err != nil {
		pm.setQuarantine(o.name, o.rawHash, fmt.Errorf("config apply: %w", err), "config")
		pm.emit("plugin.config_failed", pluginEvent{Plugin: o.name, Err: err.Error()})
		return stop(StopQuarantine)
	}
	pm.emit("plugin.config_applied", pluginEvent{Plugin: o.name})
	pm.mu.Lock()
	pm.lastRawHash[o.name] = o.rawHash
	delete(pm.quarantine, o.name)
	pm.mu.Unlock()
	return nil
}

// startWithTimeout calls Start(pctx) but enforces a deadline. If it times out, plugin ctx is cancelled.
func (pm *Manager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()

	if timeout <= 0 {
		return <-done
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-done:
		return err
	case <-t.C:
		// cancel plugin ctx and wait small grace for Start() to return
		cancel()

		grace := time.NewTimer(2 * time.Second)
		defer grace.Stop()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("start timeout (%s): %w", timeout, err)
			}
			return fmt.Errorf("start timeout (%s)", timeout)
		case <-grace.C:
			return fmt.Errorf("start timeout (%s): start did not return after cancel", timeout)
		}
	}
}

func (pm *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

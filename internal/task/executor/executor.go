// Package executor turns a stored descriptor into one run: it opens a scope,
// materializes the job, runs the before hooks, dispatches the body behind a
// panic boundary, then runs the after hooks and reports completion.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"coursebot/internal/task/job"
	logx "coursebot/pkg/logx"
)

// Resolver opens per-run scopes and lists the listeners observing runs.
type Resolver interface {
	NewScope() job.Scope
	Listeners() []job.Listener
}

type Executor struct {
	resolver Resolver
	dispatch Dispatcher
	log      logx.Logger
	throttle *logx.Throttle

	abortOnBeforeFailure bool

	mu       sync.Mutex
	attempts map[job.Key]uint64
}

type Option func(*Executor)

func WithLogger(log logx.Logger) Option { return func(e *Executor) { e.log = log } }

// WithAbortOnBeforeFailure controls whether a failing before hook skips the
// body. Enabled by default; when disabled the failure is only logged.
func WithAbortOnBeforeFailure(enabled bool) Option {
	return func(e *Executor) { e.abortOnBeforeFailure = enabled }
}

// WithThrottle limits repeated hook-failure warnings per job key.
func WithThrottle(t *logx.Throttle) Option { return func(e *Executor) { e.throttle = t } }

func New(resolver Resolver, dispatch Dispatcher, opts ...Option) *Executor {
	e := &Executor{
		resolver:             resolver,
		dispatch:             dispatch,
		log:                  logx.Nop(),
		abortOnBeforeFailure: true,
		attempts:             make(map[job.Key]uint64),
	}
	for _, o := range opts {
		o(e)
	}
	if e.dispatch == nil {
		e.dispatch = Goroutines{}
	}
	if e.throttle == nil {
		e.throttle = logx.NewThrottle(5*time.Second, 1)
	}
	return e
}

// BeginExecution starts one run of desc. after is called exactly once when
// the run is over, on every path, including the ones that return an error.
// A nil return means the body was handed to the dispatcher.
func (e *Executor) BeginExecution(ctx context.Context, desc *job.Descriptor, after func(*job.Descriptor)) error {
	if after == nil {
		after = func(*job.Descriptor) {}
	}
	key := desc.Key()
	listeners := e.resolver.Listeners()
	jc := &job.Context{
		Descriptor: desc,
		Trigger:    desc.Trigger(),
		Scope:      e.resolver.NewScope(),
		RunID:      uuid.NewString(),
		Attempt:    e.nextAttempt(key),
		StartedAt:  time.Now(),
	}

	inst, err := materialize(jc.Scope, desc.Data())
	if err != nil {
		err = fmt.Errorf("instantiate %s: %w", key, err)
		e.finish(ctx, jc, job.Failure(err, 0), listeners, after)
		return err
	}
	jc.Job = inst

	if err := ExecuteBeforeExecution(ctx, jc, listeners); err != nil {
		if e.abortOnBeforeFailure {
			e.finish(ctx, jc, job.Failure(fmt.Errorf("%w: %w", job.ErrAborted, err), 0), listeners, after)
			return fmt.Errorf("%s: %w", key, err)
		}
		if e.throttle.Allow("before:" + key.String()) {
			e.log.Warn("before hook failed; running job anyway", logx.Stringer("job", key), logx.Err(err))
		}
	}

	work := func(ctx context.Context, jc *job.Context) job.Result {
		res := e.run(ctx, jc)
		e.finish(ctx, jc, res, listeners, after)
		return res
	}
	if err := e.dispatch.Schedule(ctx, jc, work); err != nil {
		err = fmt.Errorf("dispatch %s: %w: %w", key, job.ErrNotStarted, err)
		e.finish(ctx, jc, job.Failure(err, 0), listeners, after)
		return err
	}
	return nil
}

// Forget drops per-key bookkeeping once a job is gone for good.
func (e *Executor) Forget(key job.Key) {
	e.mu.Lock()
	delete(e.attempts, key)
	e.mu.Unlock()
	e.throttle.Forget("before:" + key.String())
	e.throttle.Forget("after:" + key.String())
}

func (e *Executor) nextAttempt(key job.Key) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts[key]++
	return e.attempts[key]
}

func materialize(scope job.Scope, data job.Data) (job.Job, error) {
	if data.Instance != nil {
		return data.Instance, nil
	}
	return scope.Resolve(data.Type, data.Params)
}

// run executes the body. A context that is already done means the run was
// dropped before it started, so the body is skipped.
func (e *Executor) run(ctx context.Context, jc *job.Context) (res job.Result) {
	if ctx.Err() != nil {
		return job.Failure(fmt.Errorf("%w: %w", job.ErrNotStarted, context.Cause(ctx)), 0)
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			pe := &job.PanicError{Value: r, Stack: string(debug.Stack())}
			e.log.Error("job panicked", logx.Stringer("job", jc.Key()), logx.String("run_id", jc.RunID), logx.Any("panic", r), logx.Stack(pe.Stack))
			res = job.Failure(pe, time.Since(start))
		}
	}()
	if err := jc.Job.Execute(ctx, jc); err != nil {
		return job.Failure(err, time.Since(start))
	}
	return job.Success(time.Since(start))
}

func (e *Executor) finish(ctx context.Context, jc *job.Context, res job.Result, listeners []job.Listener, after func(*job.Descriptor)) {
	defer after(jc.Descriptor)

	// Hooks still observe runs that finish during shutdown.
	hctx := context.WithoutCancel(ctx)
	if err := ExecuteAfterExecution(hctx, jc, res, listeners); err != nil {
		if e.throttle.Allow("after:" + jc.Key().String()) {
			e.log.Warn("after hooks failed", logx.Stringer("job", jc.Key()), logx.String("run_id", jc.RunID), logx.Err(err))
		}
	}
	if err := jc.Scope.Close(); err != nil {
		e.log.Warn("scope close failed", logx.Stringer("job", jc.Key()), logx.Err(err))
	}
}

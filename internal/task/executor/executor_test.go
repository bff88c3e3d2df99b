package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coursebot/internal/runtime/supervisor"
	"coursebot/internal/task/container"
	"coursebot/internal/task/job"
	"coursebot/internal/task/trigger"
)

type recorder struct {
	name      string
	beforeErr error
	afterErr  error
	panicAt   string

	mu      sync.Mutex
	befores int
	afters  int
	results []job.Result
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) BeforeExecution(context.Context, *job.Context) error {
	r.mu.Lock()
	r.befores++
	r.mu.Unlock()
	if r.panicAt == "before" {
		panic("before panic")
	}
	return r.beforeErr
}

func (r *recorder) AfterExecution(_ context.Context, _ *job.Context, res job.Result) error {
	r.mu.Lock()
	r.afters++
	r.results = append(r.results, res)
	r.mu.Unlock()
	if r.panicAt == "after" {
		panic("after panic")
	}
	return r.afterErr
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.befores, r.afters
}

func (r *recorder) last() job.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[len(r.results)-1]
}

type countingDispatcher struct {
	calls atomic.Int32
	err   error
}

func (d *countingDispatcher) Schedule(ctx context.Context, jc *job.Context, work job.Work) error {
	d.calls.Add(1)
	if d.err != nil {
		return d.err
	}
	work(ctx, jc)
	return nil
}

func setup(ls ...job.Listener) *container.Container {
	c := container.New()
	for _, l := range ls {
		c.AddListener(l)
	}
	return c
}

func instance(key string, fn job.Func) *job.Descriptor {
	return job.NewDescriptor(job.ForInstance(job.MakeKey("t", key), fn), trigger.Manual())
}

func TestRunSuccess(t *testing.T) {
	t.Parallel()
	l := &recorder{name: "l"}
	e := New(setup(l), Inline{})
	var ran int
	var afterCalls int
	d := instance("ok", func(_ context.Context, jc *job.Context) error {
		ran++
		if jc.RunID == "" || jc.Attempt != 1 || jc.Job == nil {
			t.Errorf("context not populated: %+v", jc)
		}
		return nil
	})
	if err := e.BeginExecution(context.Background(), d, func(got *job.Descriptor) {
		afterCalls++
		if got != d {
			t.Errorf("after got a different descriptor")
		}
	}); err != nil {
		t.Fatal(err)
	}
	b, a := l.counts()
	if ran != 1 || afterCalls != 1 || b != 1 || a != 1 || !l.last().OK() {
		t.Fatalf("ran=%d after=%d before=%d afterHooks=%d res=%+v", ran, afterCalls, b, a, l.last())
	}
}

func TestInstantiationFailureNeverDispatches(t *testing.T) {
	t.Parallel()
	l := &recorder{name: "l"}
	disp := &countingDispatcher{}
	e := New(setup(l), disp)
	d := job.NewDescriptor(job.ForType(job.MakeKey("t", "x"), "missing", nil), trigger.Manual())

	var afterCalls int
	err := e.BeginExecution(context.Background(), d, func(*job.Descriptor) { afterCalls++ })
	if !errors.Is(err, job.ErrUnknownType) {
		t.Fatalf("expected unknown type, got %v", err)
	}
	if disp.calls.Load() != 0 {
		t.Fatalf("dispatcher must not be invoked")
	}
	b, a := l.counts()
	if afterCalls != 1 || b != 0 || a != 1 || l.last().OK() {
		t.Fatalf("after=%d before=%d afterHooks=%d", afterCalls, b, a)
	}
}

func TestBeforeFailureShortCircuits(t *testing.T) {
	t.Parallel()
	first := &recorder{name: "first", beforeErr: errors.New("denied")}
	second := &recorder{name: "second"}
	e := New(setup(first, second), Inline{})

	var ran, afterCalls int
	d := instance("guarded", func(context.Context, *job.Context) error { ran++; return nil })
	err := e.BeginExecution(context.Background(), d, func(*job.Descriptor) { afterCalls++ })

	var he *HookError
	if !errors.As(err, &he) || he.Hook != "first" {
		t.Fatalf("expected hook error from first, got %v", err)
	}
	b1, a1 := first.counts()
	b2, a2 := second.counts()
	if b1 != 1 || b2 != 0 {
		t.Fatalf("second before hook must not run: first=%d second=%d", b1, b2)
	}
	if a1 != 1 || a2 != 1 {
		t.Fatalf("after hooks always run: first=%d second=%d", a1, a2)
	}
	if ran != 0 || afterCalls != 1 || !second.last().Aborted() {
		t.Fatalf("body must be skipped: ran=%d after=%d res=%+v", ran, afterCalls, second.last())
	}
}

func TestBeforeFailureWithoutAbortRunsBody(t *testing.T) {
	t.Parallel()
	first := &recorder{name: "first", beforeErr: errors.New("denied")}
	e := New(setup(first), Inline{}, WithAbortOnBeforeFailure(false))
	var ran int
	d := instance("lenient", func(context.Context, *job.Context) error { ran++; return nil })
	if err := e.BeginExecution(context.Background(), d, nil); err != nil {
		t.Fatalf("no error expected when not aborting, got %v", err)
	}
	if ran != 1 || !first.last().OK() {
		t.Fatalf("body should run: ran=%d", ran)
	}
}

func TestPanicIsContained(t *testing.T) {
	t.Parallel()
	l := &recorder{name: "l"}
	e := New(setup(l), Inline{})
	var afterCalls int
	d := instance("boom", func(context.Context, *job.Context) error { panic("kaboom") })
	if err := e.BeginExecution(context.Background(), d, func(*job.Descriptor) { afterCalls++ }); err != nil {
		t.Fatalf("dispatch succeeded; got %v", err)
	}
	res := l.last()
	var pe *job.PanicError
	if !res.Panic || !errors.As(res.Err, &pe) || pe.Stack == "" {
		t.Fatalf("expected panic result, got %+v", res)
	}
	if afterCalls != 1 {
		t.Fatalf("after=%d", afterCalls)
	}
}

func TestDomainErrorIsNotPanic(t *testing.T) {
	t.Parallel()
	l := &recorder{name: "l"}
	e := New(setup(l), Inline{})
	want := errors.New("domain")
	d := instance("fails", func(context.Context, *job.Context) error { return want })
	_ = e.BeginExecution(context.Background(), d, nil)
	if res := l.last(); res.Panic || !errors.Is(res.Err, want) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDispatchFailure(t *testing.T) {
	t.Parallel()
	l := &recorder{name: "l"}
	full := errors.New("queue full")
	e := New(setup(l), &countingDispatcher{err: full})
	var ran, afterCalls int
	d := instance("x", func(context.Context, *job.Context) error { ran++; return nil })
	err := e.BeginExecution(context.Background(), d, func(*job.Descriptor) { afterCalls++ })
	if !errors.Is(err, full) || !errors.Is(err, job.ErrNotStarted) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	if ran != 0 || afterCalls != 1 || !errors.Is(l.last().Err, full) || !l.last().NotStarted() {
		t.Fatalf("ran=%d after=%d res=%+v", ran, afterCalls, l.last())
	}
}

func TestCanceledBeforeStartSkipsBody(t *testing.T) {
	t.Parallel()
	l := &recorder{name: "l"}
	e := New(setup(l), Inline{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran int
	d := instance("late", func(context.Context, *job.Context) error { ran++; return nil })
	_ = e.BeginExecution(ctx, d, nil)
	if ran != 0 || !errors.Is(l.last().Err, context.Canceled) || !l.last().NotStarted() {
		t.Fatalf("ran=%d res=%+v", ran, l.last())
	}
}

func TestAfterHooksAggregateAllFailures(t *testing.T) {
	t.Parallel()
	e1 := errors.New("one")
	e3 := errors.New("three")
	ls := []job.Listener{
		&recorder{name: "a", afterErr: e1},
		&recorder{name: "b"},
		&recorder{name: "c", afterErr: e3},
		&recorder{name: "d", panicAt: "after"},
	}
	jc := &job.Context{Descriptor: instance("agg", nil)}
	err := ExecuteAfterExecution(context.Background(), jc, job.Success(0), ls)

	var agg *AggregateError
	if !errors.As(err, &agg) || len(agg.Errors) != 3 {
		t.Fatalf("expected 3 aggregated errors, got %v", err)
	}
	if !errors.Is(err, e1) || !errors.Is(err, e3) {
		t.Fatalf("aggregate should contain every failure: %v", err)
	}
	var pe *job.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("panicking listener should count as a failure")
	}
	for _, l := range ls {
		if _, a := l.(*recorder).counts(); a != 1 {
			t.Fatalf("listener %s after=%d", l.Name(), a)
		}
	}

	single := ExecuteAfterExecution(context.Background(), jc, job.Success(0), ls[:2])
	var he *HookError
	if !errors.As(single, &he) || he.Hook != "a" {
		t.Fatalf("a single failure is returned as is, got %T %v", single, single)
	}
	if _, ok := single.(*AggregateError); ok {
		t.Fatalf("single failure must not be wrapped in an aggregate")
	}
}

func TestBeforePanicCountsAsFailure(t *testing.T) {
	t.Parallel()
	ls := []job.Listener{&recorder{name: "p", panicAt: "before"}, &recorder{name: "q"}}
	jc := &job.Context{Descriptor: instance("x", nil)}
	err := ExecuteBeforeExecution(context.Background(), jc, ls)
	var pe *job.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected panic error, got %v", err)
	}
	if b, _ := ls[1].(*recorder).counts(); b != 0 {
		t.Fatalf("q must not run")
	}
}

func TestGoroutinesDispatcher(t *testing.T) {
	t.Parallel()
	sup := supervisor.New(context.Background())
	e := New(setup(), Goroutines{Sup: sup})
	done := make(chan struct{})
	d := instance("async", func(context.Context, *job.Context) error { return nil })
	if err := e.BeginExecution(context.Background(), d, func(*job.Descriptor) { close(done) }); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run never completed")
	}
	_ = sup.Stop(context.Background())

	if err := (Goroutines{Sup: sup}).Schedule(context.Background(), &job.Context{}, nil); !errors.Is(err, ErrDispatcherStopped) {
		t.Fatalf("stopped supervisor should refuse work, got %v", err)
	}
}

func TestAttemptCounterAndForget(t *testing.T) {
	t.Parallel()
	e := New(setup(), Inline{})
	var attempts []uint64
	d := instance("n", func(_ context.Context, jc *job.Context) error {
		attempts = append(attempts, jc.Attempt)
		return nil
	})
	_ = e.BeginExecution(context.Background(), d, nil)
	_ = e.BeginExecution(context.Background(), d, nil)
	e.Forget(d.Key())
	_ = e.BeginExecution(context.Background(), d, nil)
	if len(attempts) != 3 || attempts[0] != 1 || attempts[1] != 2 || attempts[2] != 1 {
		t.Fatalf("attempts=%v", attempts)
	}
}

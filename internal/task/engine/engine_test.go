package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"coursebot/internal/eventbus"
	"coursebot/internal/task/job"
	"coursebot/internal/task/trigger"
	logx "coursebot/pkg/logx"
)

func jctx(name string) *job.Context {
	d := job.NewDescriptor(job.ForInstance(job.MakeKey("eng", name), job.Func(func(context.Context, *job.Context) error { return nil })), trigger.Manual())
	return &job.Context{Descriptor: d, RunID: name}
}

func started(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func wait(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}
}

func TestScheduleRunsWork(t *testing.T) {
	t.Parallel()
	s := started(t, Config{Workers: 2, QueueSize: 4})
	done := make(chan struct{})
	err := s.Schedule(context.Background(), jctx("a"), func(ctx context.Context, jc *job.Context) job.Result {
		if ctx.Err() != nil {
			t.Errorf("fresh run should not be canceled")
		}
		close(done)
		return job.Success(0)
	})
	if err != nil {
		t.Fatal(err)
	}
	wait(t, done)

	deadline := time.Now().Add(2 * time.Second)
	for s.Snapshot().Executed != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	snap := s.Snapshot()
	if snap.Executed != 1 || len(snap.History) != 1 || snap.History[0].Key != "eng.a" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestScheduleWhenStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	err := s.Schedule(context.Background(), jctx("x"), func(context.Context, *job.Context) job.Result { return job.Success(0) })
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestQueueFullRejects(t *testing.T) {
	t.Parallel()
	s := started(t, Config{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	running := make(chan struct{})
	block := func(context.Context, *job.Context) job.Result {
		close(running)
		<-release
		return job.Success(0)
	}
	noop := func(context.Context, *job.Context) job.Result { return job.Success(0) }

	if err := s.Schedule(context.Background(), jctx("busy"), block); err != nil {
		t.Fatal(err)
	}
	wait(t, running)
	if err := s.Schedule(context.Background(), jctx("queued"), noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Schedule(context.Background(), jctx("rejected"), noop); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	close(release)
	if s.Snapshot().DroppedQueueFull != 1 {
		t.Fatalf("queue-full drop not counted")
	}
}

func TestStaleRunIsAborted(t *testing.T) {
	t.Parallel()
	s := started(t, Config{Workers: 1, QueueSize: 4, MaxQueueDelay: 10 * time.Millisecond})
	release := make(chan struct{})
	running := make(chan struct{})
	_ = s.Schedule(context.Background(), jctx("slow"), func(context.Context, *job.Context) job.Result {
		close(running)
		<-release
		return job.Success(0)
	})
	wait(t, running)

	aborted := make(chan error, 1)
	_ = s.Schedule(context.Background(), jctx("stale"), func(ctx context.Context, _ *job.Context) job.Result {
		aborted <- context.Cause(ctx)
		return job.Failure(context.Cause(ctx), 0)
	})
	time.Sleep(30 * time.Millisecond)
	close(release)

	select {
	case cause := <-aborted:
		if !errors.Is(cause, ErrStale) {
			t.Fatalf("expected ErrStale cause, got %v", cause)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stale run was never handed back")
	}
	if s.Snapshot().DroppedStale != 1 {
		t.Fatalf("stale drop not counted")
	}
}

func TestStopDrainsQueuedRuns(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1, QueueSize: 8}, logx.Nop(), nil)
	s.Start(context.Background())

	running := make(chan struct{})
	var sawStop atomic.Bool
	_ = s.Schedule(context.Background(), jctx("inflight"), func(ctx context.Context, _ *job.Context) job.Result {
		close(running)
		<-ctx.Done()
		sawStop.Store(errors.Is(context.Cause(ctx), ErrStopping))
		return job.Failure(ctx.Err(), 0)
	})
	wait(t, running)

	var drained atomic.Int32
	for i := 0; i < 3; i++ {
		_ = s.Schedule(context.Background(), jctx("queued"), func(ctx context.Context, _ *job.Context) job.Result {
			if errors.Is(context.Cause(ctx), ErrStopped) {
				drained.Add(1)
			}
			return job.Failure(context.Cause(ctx), 0)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	if !sawStop.Load() {
		t.Fatalf("in-flight run should observe the stop")
	}
	if drained.Load() != 3 {
		t.Fatalf("drained=%d want 3", drained.Load())
	}
	if s.Running() {
		t.Fatalf("engine should not be running")
	}

	// Restart works after a full stop.
	s.Start(context.Background())
	defer s.Stop(context.Background())
	done := make(chan struct{})
	_ = s.Schedule(context.Background(), jctx("again"), func(context.Context, *job.Context) job.Result {
		close(done)
		return job.Success(0)
	})
	wait(t, done)
}

func TestTimeoutAndPanicKeepWorkerAlive(t *testing.T) {
	t.Parallel()
	s := started(t, Config{Workers: 1, QueueSize: 4, DefaultTimeout: 20 * time.Millisecond, HistorySize: 2})

	_ = s.Schedule(context.Background(), jctx("panics"), func(context.Context, *job.Context) job.Result { panic("outside") })

	timedOut := make(chan error, 1)
	_ = s.Schedule(context.Background(), jctx("slow"), func(ctx context.Context, _ *job.Context) job.Result {
		<-ctx.Done()
		timedOut <- ctx.Err()
		return job.Failure(ctx.Err(), 0)
	})
	select {
	case err := <-timedOut:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout not applied")
	}

	done := make(chan struct{})
	_ = s.Schedule(context.Background(), jctx("after"), func(context.Context, *job.Context) job.Result {
		close(done)
		return job.Success(0)
	})
	wait(t, done)

	deadline := time.Now().Add(2 * time.Second)
	for s.Snapshot().Executed != 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h := s.Snapshot().History; len(h) != 2 || h[1].Key != "eng.after" {
		t.Fatalf("history should keep the last 2 runs, got %+v", h)
	}
}

func TestDroppedEventPublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{Workers: 1, QueueSize: 4}, logx.Nop(), bus)
	s.Start(context.Background())
	release := make(chan struct{})
	running := make(chan struct{})
	_ = s.Schedule(context.Background(), jctx("hold"), func(context.Context, *job.Context) job.Result {
		close(running)
		<-release
		return job.Success(0)
	})
	wait(t, running)
	_ = s.Schedule(context.Background(), jctx("left"), func(ctx context.Context, _ *job.Context) job.Result {
		return job.Failure(context.Cause(ctx), 0)
	})
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	s.Stop(context.Background())

	select {
	case e := <-events:
		if e.Type != eventbus.JobDropped || e.Data.(eventbus.JobEvent).Reason != "stopped" {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no dropped event")
	}
}

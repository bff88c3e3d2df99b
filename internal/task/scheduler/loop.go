package scheduler

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"coursebot/internal/eventbus"
	"coursebot/internal/task/broker"
	"coursebot/internal/task/job"
	logx "coursebot/pkg/logx"
)

// loop alternates between scanning the store snapshot and sleeping. It sleeps
// only after a pass that dispatched nothing; any notification cuts the sleep
// short. It returns only when ctx is canceled.
func (s *Service) loop(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.drain()
		if s.pass(ctx) > 0 {
			continue
		}

		timer.Reset(s.config().IdleInterval)
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()
		case <-s.hub.Wake():
			stopTimer(timer)
		case <-timer.C:
		}
	}
}

// pass visits every stored descriptor once and reports how many runs it
// dispatched.
func (s *Service) pass(ctx context.Context) int {
	s.passes.Add(1)
	s.lastPass.Store(time.Now().UnixNano())
	yield := s.config().Yield

	n := 0
	for _, d := range s.store.EnumerateJobs() {
		if ctx.Err() != nil {
			return n
		}
		key := d.Key()
		if s.isExecuting(key) {
			continue
		}
		del, ready := s.probe(d)
		if del {
			s.retire(d, "trigger exhausted")
			continue
		}
		if !ready {
			continue
		}
		// The snapshot may hold a descriptor that was replaced or removed
		// since it was taken.
		if cur, ok := s.store.Get(key); !ok || cur != d {
			continue
		}
		if !s.tryMark(key) {
			continue
		}
		s.inflight.Add(1)
		// A run that completes before BeginExecution returns needs no wake:
		// the loop either runs another pass right away or backs off.
		var inline atomic.Bool
		inline.Store(true)
		err := s.exec.BeginExecution(ctx, d, func(d *job.Descriptor) { s.onFinished(d, !inline.Load()) })
		inline.Store(false)
		if err != nil {
			s.reportStartError(key, err)
			// Rejected by the dispatcher: retry after the idle interval
			// instead of spinning on a full queue.
			if errors.Is(err, job.ErrNotStarted) {
				continue
			}
		}
		s.dispatched.Add(1)
		n++
		pause(ctx, yield)
	}
	return n
}

// onFinished is the continuation of every run. The trigger has already
// observed the outcome, so a one-shot retires here before the key is
// released.
func (s *Service) onFinished(d *job.Descriptor, notify bool) {
	defer s.inflight.Done()
	if del, _ := s.probe(d); del {
		s.retire(d, "trigger exhausted")
	}
	s.unmark(d.Key())
	if notify {
		s.hub.Ready.Notify(d.Key())
	}
}

// probe asks the trigger whether it retires and whether it is ready. A
// panicking trigger is logged and treated as neither.
func (s *Service) probe(d *job.Descriptor) (del, ready bool) {
	defer func() {
		if r := recover(); r != nil {
			del, ready = false, false
			if s.throttle.Allow("probe:" + d.Key().String()) {
				s.log.Error("trigger panicked", logx.Stringer("job", d.Key()), logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 16)))
			}
		}
	}()
	trig := d.Trigger()
	if trig.CanBeDeleted() {
		return true, false
	}
	return false, trig.ShouldBeExecuted()
}

func (s *Service) retire(d *job.Descriptor, reason string) {
	if !s.store.RemoveDescriptor(d) {
		return
	}
	s.retired.Add(1)
	s.hub.Removed.Notify(d.Key())
	s.publish(eventbus.JobRemoved, d, reason)
	s.log.Debug("job retired", logx.Stringer("job", d.Key()), logx.String("reason", reason))
}

// drain empties the mailboxes. Removed keys that are gone for good and not
// running have their per-key state released.
func (s *Service) drain() {
	for _, n := range s.hub.Drain() {
		if n.Kind != broker.Removed {
			continue
		}
		if _, ok := s.store.Get(n.Key); ok || s.isExecuting(n.Key) {
			continue
		}
		s.throttle.Forget("start:" + n.Key.String())
		s.throttle.Forget("probe:" + n.Key.String())
		if s.exec != nil {
			s.exec.Forget(n.Key)
		}
		for _, fn := range s.forget {
			fn(n.Key)
		}
	}
}

func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		runtime.Gosched()
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

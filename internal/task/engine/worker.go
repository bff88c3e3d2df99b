package engine

import (
	"context"
	"runtime/debug"
	"time"

	"coursebot/internal/task/job"
	logx "coursebot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedRun) {
	for {
		// A closed stopCh wins over queued work; Stop drains the rest.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qr := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, qr)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(workerCtx context.Context, qr queuedRun) {
	start := time.Now()
	queueDelay := max(start.Sub(qr.enqueuedAt), 0)
	cfg := s.config()
	key := qr.jc.Key().String()

	if cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay {
		s.droppedStale.Add(1)
		s.publishDropped(qr, "stale_queue_delay", queueDelay)
		if s.shouldWarn(&s.lastStaleWarnAt, start) {
			s.log.Warn("run dropped: stale queue",
				logx.String("job", key),
				logx.Duration("queue_delay", queueDelay),
				logx.Uint64("dropped_stale", s.droppedStale.Load()),
			)
		}
		s.abort(qr, ErrStale)
		s.record(HistoryItem{RunID: qr.jc.RunID, Key: key, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"}, cfg.HistorySize)
		return
	}

	// The body sees both the scheduler's and the pool's cancellation.
	runCtx, cancel := context.WithCancelCause(qr.ctx)
	defer cancel(nil)
	stop := context.AfterFunc(workerCtx, func() { cancel(ErrStopping) })
	defer stop()
	if cfg.DefaultTimeout > 0 {
		var cancelT context.CancelFunc
		runCtx, cancelT = context.WithTimeout(runCtx, cfg.DefaultTimeout)
		defer cancelT()
	}

	res := s.call(runCtx, qr)
	s.executed.Add(1)

	dur := time.Since(start)
	item := HistoryItem{RunID: qr.jc.RunID, Key: key, Started: start, QueueDelay: queueDelay, Duration: dur, Panic: res.Panic}
	if res.Err != nil {
		item.Error = res.Err.Error()
	}
	if dur >= 750*time.Millisecond {
		s.log.Info("run completed", logx.String("job", key), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur), logx.Bool("ok", res.OK()))
	}
	s.record(item, cfg.HistorySize)
}

// call keeps a worker alive if the completion path itself panics.
func (s *Service) call(ctx context.Context, qr queuedRun) (res job.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("run panicked outside the job boundary", logx.Stringer("job", qr.jc.Key()), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			res = job.Failure(&job.PanicError{Value: r}, 0)
		}
	}()
	return qr.work(ctx, qr.jc)
}

// abort hands a run that will never start to its work function with a
// context already canceled with cause.
func (s *Service) abort(qr queuedRun, cause error) {
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(qr.ctx))
	cancel(cause)
	_ = s.call(ctx, qr)
}

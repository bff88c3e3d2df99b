package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"coursebot/internal/eventbus"
	rtsup "coursebot/internal/runtime/supervisor"
	"coursebot/internal/task/job"
	logx "coursebot/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service is a bounded worker pool. It implements the executor's Dispatcher:
// Schedule never blocks, and every accepted run is eventually handed to its
// work function exactly once, with a canceled context when it is dropped.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q        chan queuedRun
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	inFlight atomic.Int32

	hmu     sync.Mutex
	history []HistoryItem

	executed         atomic.Uint64
	droppedQueueFull atomic.Uint64
	droppedStale     atomic.Uint64
	droppedStopped   atomic.Uint64

	lastQueueFullWarnAt atomic.Int64
	lastStaleWarnAt     atomic.Int64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{cfg: cfg.withDefaults(), log: log, bus: bus}
}

// Supervisor returns the pool's supervisor, nil when not started.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil && s.stopDone == nil
}

// Apply swaps the config; a running pool restarts when its size changed.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	if running && (prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize) {
		s.log.Info("task engine resizing", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start is idempotent. If a stop is in progress it waits for it first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	cfg := s.cfg
	s.q = make(chan queuedRun, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh := s.stopCh
	queue := s.q
	s.sup = rtsup.New(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log.With(logx.String("comp", "taskengine"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cap(queue)))
}

// Stop rejects new runs, cancels the runs in flight, waits for the workers
// and then hands every still-queued run back to its work function with a
// canceled context. Waiting is bounded by ctx; cleanup continues in the
// background.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	queue := s.q
	s.mu.Unlock()

	sup.Cancel()

	go func() {
		_ = sup.Wait(context.Background())
		s.drain(queue)
		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

// drain runs after all workers exited, so it is the only reader left.
func (s *Service) drain(queue chan queuedRun) {
	for {
		select {
		case qr := <-queue:
			s.droppedStopped.Add(1)
			s.publishDropped(qr, "stopped", 0)
			s.abort(qr, ErrStopped)
		default:
			return
		}
	}
}

// Schedule enqueues a run without blocking.
func (s *Service) Schedule(ctx context.Context, jc *job.Context, work job.Work) error {
	if work == nil || jc == nil {
		return fmt.Errorf("task engine: run and context required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()

	// The send happens under mu so Stop cannot drain between the state check
	// and the enqueue.
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.q == nil:
		return ErrStopped
	case s.stopDone != nil:
		return ErrStopping
	}
	select {
	case s.q <- queuedRun{ctx: ctx, jc: jc, work: work, enqueuedAt: now}:
		return nil
	default:
	}

	s.droppedQueueFull.Add(1)
	if s.shouldWarn(&s.lastQueueFullWarnAt, now) {
		s.log.Warn("run rejected: queue full",
			logx.Stringer("job", jc.Key()),
			logx.Int("queue_cap", cap(s.q)),
			logx.Uint64("dropped_queue_full", s.droppedQueueFull.Load()),
		)
	}
	return ErrQueueFull
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	full, stale, stopped := s.droppedQueueFull.Load(), s.droppedStale.Load(), s.droppedStopped.Load()
	return Snapshot{
		Running:          running,
		Workers:          cfg.Workers,
		QueueLen:         len(q),
		QueueCap:         cap(q),
		InFlight:         int(s.inFlight.Load()),
		Executed:         s.executed.Load(),
		Dropped:          full + stale + stopped,
		DroppedQueueFull: full,
		DroppedStale:     stale,
		DroppedStopped:   stopped,
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxQueueDelay:    cfg.MaxQueueDelay,
		History:          h,
	}
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) record(item HistoryItem, size int) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

func (s *Service) shouldWarn(last *atomic.Int64, now time.Time) bool {
	prev := last.Load()
	n := now.UnixNano()
	if prev != 0 && (n-prev) < int64(warnThrottleEvery) {
		return false
	}
	return last.CompareAndSwap(prev, n)
}

func (s *Service) publishDropped(qr queuedRun, reason string, queueDelay time.Duration) {
	eventbus.Publish(s.bus, eventbus.JobDropped, eventbus.JobEvent{
		Key:    qr.jc.Key().String(),
		RunID:  qr.jc.RunID,
		Took:   queueDelay,
		Reason: reason,
	})
}

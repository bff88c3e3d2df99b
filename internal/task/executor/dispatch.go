package executor

import (
	"context"
	"errors"

	"coursebot/internal/runtime/supervisor"
	"coursebot/internal/task/job"
)

// Dispatcher hands a prepared run to some execution context. When Schedule
// returns nil, work will be called exactly once; when it returns an error,
// work is never called.
type Dispatcher interface {
	Schedule(ctx context.Context, jc *job.Context, work job.Work) error
}

var ErrDispatcherStopped = errors.New("executor: dispatcher stopped")

// Inline runs work on the caller's goroutine. Tests use it for determinism.
type Inline struct{}

func (Inline) Schedule(ctx context.Context, jc *job.Context, work job.Work) error {
	work(ctx, jc)
	return nil
}

// Goroutines starts one goroutine per run, tracked by Sup when set.
type Goroutines struct {
	Sup *supervisor.Supervisor
}

func (g Goroutines) Schedule(ctx context.Context, jc *job.Context, work job.Work) error {
	if g.Sup == nil {
		go work(ctx, jc)
		return nil
	}
	if g.Sup.Context().Err() != nil {
		return ErrDispatcherStopped
	}
	g.Sup.Go0("job", func(context.Context) { work(ctx, jc) })
	return nil
}

package job

import (
	"context"
	"fmt"
)

// Job is a unit of user work.
type Job interface {
	Execute(ctx context.Context, jc *Context) error
}

// Func adapts a plain function to Job.
type Func func(ctx context.Context, jc *Context) error

func (f Func) Execute(ctx context.Context, jc *Context) error { return f(ctx, jc) }

// Trigger decides when a job runs and when it retires. One instance lives for
// the whole lifetime of a descriptor and observes every run.
type Trigger interface {
	ShouldBeExecuted() bool
	CanBeDeleted() bool
	BeforeExecution(ctx context.Context, jc *Context) error
	AfterExecution(ctx context.Context, jc *Context, res Result) error
}

// Listener observes every run of every job.
type Listener interface {
	Name() string
	BeforeExecution(ctx context.Context, jc *Context) error
	AfterExecution(ctx context.Context, jc *Context, res Result) error
}

// Scope is the per-run dependency resolution context.
type Scope interface {
	Resolve(typ string, params Params) (Job, error)
	Get(name string) (any, bool)
	Close() error
}

// Work is a prepared run handed to a thread scheduler.
type Work func(ctx context.Context, jc *Context) Result

func stringify(v any) string { return fmt.Sprint(v) }

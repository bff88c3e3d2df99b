package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"coursebot/internal/task/job"
)

// HookError names the hook that failed.
type HookError struct {
	Hook  string
	Phase string
	Err   error
}

func (e *HookError) Error() string { return fmt.Sprintf("%s hook %q: %v", e.Phase, e.Hook, e.Err) }
func (e *HookError) Unwrap() error { return e.Err }

// AggregateError collects every after-hook failure of one run.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("%d hooks failed: %s", len(e.Errors), strings.Join(parts, "; "))
}

func (e *AggregateError) Unwrap() []error { return e.Errors }

const triggerHook = "trigger"

// ExecuteBeforeExecution runs the trigger hook, then each listener in order,
// and stops at the first failure.
func ExecuteBeforeExecution(ctx context.Context, jc *job.Context, listeners []job.Listener) error {
	if jc.Trigger != nil {
		if err := guard(func() error { return jc.Trigger.BeforeExecution(ctx, jc) }); err != nil {
			return &HookError{Hook: triggerHook, Phase: "before", Err: err}
		}
	}
	for _, l := range listeners {
		if err := guard(func() error { return l.BeforeExecution(ctx, jc) }); err != nil {
			return &HookError{Hook: l.Name(), Phase: "before", Err: err}
		}
	}
	return nil
}

// ExecuteAfterExecution runs the trigger hook and every listener no matter
// what the others return. One failure is returned as is; more are wrapped in
// an *AggregateError.
func ExecuteAfterExecution(ctx context.Context, jc *job.Context, res job.Result, listeners []job.Listener) error {
	var errs []error
	if jc.Trigger != nil {
		if err := guard(func() error { return jc.Trigger.AfterExecution(ctx, jc, res) }); err != nil {
			errs = append(errs, &HookError{Hook: triggerHook, Phase: "after", Err: err})
		}
	}
	for _, l := range listeners {
		if err := guard(func() error { return l.AfterExecution(ctx, jc, res) }); err != nil {
			errs = append(errs, &HookError{Hook: l.Name(), Phase: "after", Err: err})
		}
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return &AggregateError{Errors: errs}
	}
}

// guard turns a panic into a *job.PanicError.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &job.PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn()
}

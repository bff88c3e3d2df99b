package job

import (
	"errors"
	"time"
)

// Result is the outcome of one run. A zero Err means success.
type Result struct {
	Err      error
	Panic    bool
	Duration time.Duration
}

func Success(took time.Duration) Result { return Result{Duration: took} }

func Failure(err error, took time.Duration) Result {
	var pe *PanicError
	return Result{Err: err, Panic: errors.As(err, &pe), Duration: took}
}

func (r Result) OK() bool { return r.Err == nil }

// Aborted reports whether the body was skipped by a before-hook failure.
func (r Result) Aborted() bool { return errors.Is(r.Err, ErrAborted) }

// NotStarted reports whether the run never reached its body for reasons
// unrelated to the job itself.
func (r Result) NotStarted() bool { return errors.Is(r.Err, ErrNotStarted) }

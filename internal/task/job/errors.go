package job

import "errors"

var (
	ErrNotFound     = errors.New("job: not found")
	ErrDuplicateKey = errors.New("job: duplicate key")
	ErrInvalidJob   = errors.New("job: invalid job data")
	ErrUnknownType  = errors.New("job: unknown job type")

	// ErrAborted marks a result whose body never ran because a before-hook failed.
	ErrAborted = errors.New("job: execution aborted")

	// ErrNotStarted marks a result whose body never got a chance to run: the
	// dispatcher rejected it, dropped it, or it was still queued at shutdown.
	// Triggers do not count such a result as a run.
	ErrNotStarted = errors.New("job: run not started")
)

// PanicError wraps a value recovered from a panicking job body or hook.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return "panic: " + err.Error()
	}
	return "panic: " + stringify(e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

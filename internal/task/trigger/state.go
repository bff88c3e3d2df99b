package trigger

import (
	"sync"
	"time"

	"coursebot/internal/task/job"
)

// runState is the bookkeeping every trigger shares: whether a run is in
// flight, how many runs completed, and when the last one ended.
type runState struct {
	mu      sync.Mutex
	clock   Clock
	running bool
	runs    uint64
	lastEnd time.Time
	lastErr error
}

func (s *runState) begin() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
}

// end records a finished run and returns the completion time. A run that
// never started only clears the in-flight flag, so the trigger stays ready.
func (s *runState) end(res job.Result) (time.Time, bool) {
	if res.NotStarted() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return time.Time{}, false
	}
	now := s.clock.Now()
	s.mu.Lock()
	s.running = false
	s.runs++
	s.lastEnd = now
	s.lastErr = res.Err
	s.mu.Unlock()
	return now, true
}

// Runs reports how many runs have completed, faulted runs included.
func (s *runState) Runs() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// LastError is the error of the most recent run, nil on success.
func (s *runState) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Nexter is implemented by triggers that know their next fire time.
type Nexter interface {
	Next() time.Time
}

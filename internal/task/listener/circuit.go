package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"coursebot/internal/task/job"
	logx "coursebot/pkg/logx"
)

var ErrCircuitOpen = errors.New("circuit open")

type CircuitConfig struct {
	// TripFailures consecutive failed runs open the breaker. 0 means 5.
	TripFailures int
	// OpenTimeout is how long the breaker stays open before one trial run.
	// 0 means 1m.
	OpenTimeout time.Duration
}

// Circuit keeps one breaker per job key. While a key's breaker is open its
// before hook fails, so the run is aborted.
type Circuit struct {
	cfg CircuitConfig
	log logx.Logger

	mu       sync.Mutex
	breakers map[job.Key]*gobreaker.TwoStepCircuitBreaker
	pending  map[string]func(success bool)
}

func NewCircuit(cfg CircuitConfig, log logx.Logger) *Circuit {
	if cfg.TripFailures <= 0 {
		cfg.TripFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}
	return &Circuit{
		cfg:      cfg,
		log:      log,
		breakers: make(map[job.Key]*gobreaker.TwoStepCircuitBreaker),
		pending:  make(map[string]func(bool)),
	}
}

func (c *Circuit) Name() string { return "circuit" }

func (c *Circuit) BeforeExecution(_ context.Context, jc *job.Context) error {
	done, err := c.breaker(jc.Key()).Allow()
	if err != nil {
		return fmt.Errorf("%w for %s: %w", ErrCircuitOpen, jc.Key(), err)
	}
	c.mu.Lock()
	c.pending[jc.RunID] = done
	c.mu.Unlock()
	return nil
}

// AfterExecution reports the outcome. Runs aborted by another hook or never
// started are reported as successes so they do not count towards tripping.
func (c *Circuit) AfterExecution(_ context.Context, jc *job.Context, res job.Result) error {
	c.mu.Lock()
	done := c.pending[jc.RunID]
	delete(c.pending, jc.RunID)
	c.mu.Unlock()
	if done != nil {
		done(res.OK() || res.Aborted() || res.NotStarted())
	}
	return nil
}

// State reports the breaker state of key; unknown keys are closed.
func (c *Circuit) State(key job.Key) gobreaker.State {
	c.mu.Lock()
	cb := c.breakers[key]
	c.mu.Unlock()
	if cb == nil {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// Open lists keys whose breaker is not closed.
func (c *Circuit) Open() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]string{}
	for k, cb := range c.breakers {
		if st := cb.State(); st != gobreaker.StateClosed {
			out[k.String()] = st.String()
		}
	}
	return out
}

// Forget drops the breaker of a job that is gone.
func (c *Circuit) Forget(key job.Key) {
	c.mu.Lock()
	delete(c.breakers, key)
	c.mu.Unlock()
}

func (c *Circuit) breaker(key job.Key) *gobreaker.TwoStepCircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb := c.breakers[key]; cb != nil {
		return cb
	}
	trip := uint32(c.cfg.TripFailures)
	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        key.String(),
		MaxRequests: 1,
		Timeout:     c.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("job circuit state changed", logx.String("job", name), logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})
	c.breakers[key] = cb
	return cb
}

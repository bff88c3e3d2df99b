package engine

import (
	"context"
	"time"

	"coursebot/internal/task/job"
)

// Config controls the shared worker pool.
// The app layer maps config.task_engine into this struct.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout bounds every run. 0 means no timeout.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops runs that waited in the queue longer than this.
	// 0 disables stale-queue dropping.
	MaxQueueDelay time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

type HistoryItem struct {
	RunID      string
	Key        string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
	Panic      bool
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Executed         uint64
	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64
	DroppedStopped   uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration

	History []HistoryItem
}

type queuedRun struct {
	ctx        context.Context
	jc         *job.Context
	work       job.Work
	enqueuedAt time.Time
}

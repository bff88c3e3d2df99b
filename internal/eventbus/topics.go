package eventbus

import "time"

// Job lifecycle topics.
const (
	JobScheduled   = "job.scheduled"
	JobRescheduled = "job.rescheduled"
	JobRemoved     = "job.removed"
	JobStarted     = "job.started"
	JobFinished    = "job.finished"
	JobFailed      = "job.failed"
	JobDropped     = "job.dropped"
)

// JobEvent is the payload of every job.* topic.
type JobEvent struct {
	Key     string        `json:"key"`
	Type    string        `json:"type,omitempty"`
	RunID   string        `json:"run_id,omitempty"`
	Attempt uint64        `json:"attempt,omitempty"`
	Took    time.Duration `json:"took,omitempty"`
	Error   string        `json:"error,omitempty"`
	Panic   bool          `json:"panic,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

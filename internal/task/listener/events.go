package listener

import (
	"context"

	"coursebot/internal/eventbus"
	"coursebot/internal/task/job"
)

// Events publishes job.started and job.finished / job.failed.
type Events struct {
	bus eventbus.Bus
}

func NewEvents(bus eventbus.Bus) *Events { return &Events{bus: bus} }

func (e *Events) Name() string { return "events" }

func (e *Events) BeforeExecution(_ context.Context, jc *job.Context) error {
	eventbus.Publish(e.bus, eventbus.JobStarted, payload(jc, job.Result{}))
	return nil
}

func (e *Events) AfterExecution(_ context.Context, jc *job.Context, res job.Result) error {
	topic := eventbus.JobFinished
	if !res.OK() {
		topic = eventbus.JobFailed
	}
	eventbus.Publish(e.bus, topic, payload(jc, res))
	return nil
}

func payload(jc *job.Context, res job.Result) eventbus.JobEvent {
	ev := eventbus.JobEvent{
		Key:     jc.Key().String(),
		RunID:   jc.RunID,
		Attempt: jc.Attempt,
		Took:    res.Duration,
		Panic:   res.Panic,
	}
	if jc.Descriptor != nil {
		ev.Type = jc.Descriptor.Data().TypeName()
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	if res.Aborted() {
		ev.Reason = "aborted"
	}
	return ev
}

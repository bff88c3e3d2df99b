package listener

import (
	"context"
	"fmt"
	"time"

	"coursebot/internal/storage"
	"coursebot/internal/task/job"
)

// History appends every finished run to the run store.
type History struct {
	store   storage.Store
	timeout time.Duration
}

func NewHistory(store storage.Store) *History {
	return &History{store: store, timeout: 2 * time.Second}
}

func (h *History) Name() string { return "history" }

func (h *History) BeforeExecution(context.Context, *job.Context) error { return nil }

func (h *History) AfterExecution(ctx context.Context, jc *job.Context, res job.Result) error {
	if h.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	rec := storage.RunRecord{
		At:      jc.StartedAt,
		Key:     jc.Key().String(),
		RunID:   jc.RunID,
		Attempt: jc.Attempt,
		OK:      res.OK(),
		Panic:   res.Panic,
		Aborted: res.Aborted(),
		TookMS:  res.Duration.Milliseconds(),
	}
	if jc.Descriptor != nil {
		rec.Type = jc.Descriptor.Data().TypeName()
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if err := h.store.AppendRun(ctx, rec); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

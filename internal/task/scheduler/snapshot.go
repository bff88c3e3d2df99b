package scheduler

import (
	"time"

	"coursebot/internal/task/trigger"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	tz := s.cfg.Timezone
	loc := s.loc
	sup := s.sup
	s.mu.Unlock()

	if tz == "" && loc != nil {
		tz = loc.String()
	}
	snap := Snapshot{
		Enabled:    enabled,
		Running:    s.Running(),
		Timezone:   tz,
		Jobs:       s.Jobs(),
		Passes:     s.passes.Load(),
		Dispatched: s.dispatched.Load(),
		Retired:    s.retired.Load(),
	}
	for _, j := range snap.Jobs {
		if j.Executing {
			snap.Executing++
		}
	}
	if ns := s.lastPass.Load(); ns != 0 {
		snap.LastPass = time.Unix(0, ns)
	}
	if sup != nil {
		snap.Loop = sup.Snapshot().Goroutines
	}
	if s.engine != nil {
		es := s.engine.Snapshot()
		snap.Engine = &es
	}
	return snap
}

// Jobs lists stored jobs in insertion order.
func (s *Service) Jobs() []JobInfo {
	descs := s.store.EnumerateJobs()
	out := make([]JobInfo, 0, len(descs))
	for _, d := range descs {
		info := JobInfo{
			Key:       d.Key(),
			Type:      d.Data().TypeName(),
			Trigger:   describe(d.Trigger()),
			Executing: s.isExecuting(d.Key()),
			CreatedAt: d.CreatedAt(),
		}
		if n, ok := d.Trigger().(trigger.Nexter); ok {
			info.Next = n.Next()
		}
		out = append(out, info)
	}
	return out
}

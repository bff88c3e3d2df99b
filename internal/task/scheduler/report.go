package scheduler

import (
	"errors"

	"coursebot/internal/task/executor"
	"coursebot/internal/task/job"
	logx "coursebot/pkg/logx"
)

// reportStartError logs a run that did not reach its body. Before-hook
// rejections such as an open circuit are routine and stay at debug; the rest
// is throttled per key.
func (s *Service) reportStartError(key job.Key, err error) {
	var he *executor.HookError
	if errors.As(err, &he) && he.Phase == "before" {
		s.log.Debug("run aborted by hook", logx.Stringer("job", key), logx.String("hook", he.Hook), logx.Err(he.Err))
		return
	}
	if !s.throttle.Allow("start:" + key.String()) {
		return
	}
	s.log.Warn("run failed to start", logx.Stringer("job", key), logx.Err(err))
}

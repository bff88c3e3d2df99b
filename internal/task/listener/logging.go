package listener

import (
	"context"
	"time"

	"coursebot/internal/task/job"
	logx "coursebot/pkg/logx"
)

// Logging logs run starts at debug and outcomes by severity. Runs slower
// than Slow are promoted to info.
type Logging struct {
	log  logx.Logger
	Slow time.Duration
}

func NewLogging(log logx.Logger) *Logging {
	return &Logging{log: log, Slow: 750 * time.Millisecond}
}

func (l *Logging) Name() string { return "logging" }

func (l *Logging) BeforeExecution(_ context.Context, jc *job.Context) error {
	l.log.Debug("job started", fields(jc)...)
	return nil
}

func (l *Logging) AfterExecution(_ context.Context, jc *job.Context, res job.Result) error {
	f := append(fields(jc), logx.Duration("dur", res.Duration))
	switch {
	case res.Aborted():
		l.log.Info("job aborted", append(f, logx.Err(res.Err))...)
	case !res.OK():
		l.log.Warn("job failed", append(f, logx.Err(res.Err), logx.Bool("panic", res.Panic))...)
	case res.Duration >= l.Slow:
		l.log.Info("job finished", f...)
	default:
		l.log.Debug("job finished", f...)
	}
	return nil
}

func fields(jc *job.Context) []logx.Field {
	return []logx.Field{
		logx.Stringer("job", jc.Key()),
		logx.String("run_id", jc.RunID),
		logx.Uint64("attempt", jc.Attempt),
	}
}

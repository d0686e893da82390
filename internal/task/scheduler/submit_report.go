package scheduler

import (
	"time"

	logx "bgrefresh/pkg/logx"
)

const submitWarnThrottle = 5 * time.Second

// reportSubmitError logs a failed submission. Bursts (e.g. repeated
// backgrounding while the host queue is full) are throttled to debug.
func (s *Service) reportSubmitError(taskID, reason string, err error) {
	if err == nil {
		return
	}
	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarnAt
	throttled := !last.IsZero() && now.Sub(last) < submitWarnThrottle
	if !throttled {
		s.lastWarnAt = now
	}
	s.warnMu.Unlock()

	if throttled {
		s.log.Debug("run submit failed", logx.String("task", taskID), logx.String("reason", reason), logx.Err(err))
		return
	}
	s.log.Warn("run submit failed; waiting for next trigger", logx.String("task", taskID), logx.String("reason", reason), logx.Err(err))
}

package scheduler

import (
	"errors"
	"time"

	"acgo/internal/task/engine"
	logx "acgo/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// reportEnqueueError logs a fire the engine refused, at most once per
// enqueueWarnThrottle per trigger.
func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// The retention trigger skips when the previous sweep is still running.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
}

package scheduler

import (
	"errors"
	"time"

	"camguard/internal/task/engine"
	logx "camguard/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// reportEnqueueError logs a refused trigger at most once per name per throttle
// window. Overlap skips are routine and only logged at debug.
func (s *Service) reportEnqueueError(name string, err error) {
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("trigger skipped", logx.String("trigger", name), logx.Err(err))
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

	s.log.Warn("trigger failed to enqueue task", logx.String("trigger", name), logx.Err(err))
}

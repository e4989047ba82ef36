package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"camguard/internal/domain"
	"camguard/internal/task/engine"
	logx "camguard/pkg/logx"
)

// AddOnceOpt upserts a one-shot trigger at the given instant. An instant in
// the past fires immediately.
func (s *Service) AddOnceOpt(name string, at time.Time, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if at.IsZero() {
		return "", errors.New("at required")
	}
	if job == nil {
		return "", errors.New("job required")
	}

	s.mu.Lock()
	s.removeCronLocked(name)
	running := s.running
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if prev := s.once[name]; prev != nil && prev.timer != nil {
		prev.timer.Stop()
	}
	s.onceSeq++
	d := &onceDef{at: at, timeout: timeout, job: job, opt: opt, ver: s.onceSeq}
	s.once[name] = d
	if running {
		s.armLocked(name, d)
	}
	return name, nil
}

// armLocked starts the runtime timer for d. Call with s.tmu held.
func (s *Service) armLocked(name string, d *onceDef) {
	if d.timer != nil {
		d.timer.Stop()
	}
	delay := max(d.at.Sub(s.clock.Now()), 0)
	ver := d.ver
	d.timer = s.clock.AfterFunc(delay, func() { s.fireOnce(name, ver) })
}

func (s *Service) fireOnce(name string, ver uint64) {
	s.tmu.Lock()
	d := s.once[name]
	if d == nil || d.ver != ver {
		// Replaced or removed after this timer was armed.
		s.tmu.Unlock()
		return
	}
	delete(s.once, name)
	s.tmu.Unlock()

	s.enqueue(name, d.timeout, d.opt, d.job)
}

func (s *Service) enqueue(name string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) {
	if s.exec == nil {
		return
	}
	err := s.exec.Enqueue(engine.Task{Name: name, Timeout: timeout, Opt: opt, Run: job})
	if err != nil {
		s.reportEnqueueError(name, err)
	}
}

// AddCron upserts a recurring trigger. Overlapping runs are skipped.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	s.Remove(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = append(s.defs, cronDef{
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		opt:     TaskOptions{Overlap: engine.OverlapSkipIfRunning},
	})
	if s.running {
		s.addCronLocked(&s.defs[len(s.defs)-1])
		s.log.Debug("cron registered", logx.String("name", name), logx.String("spec", spec), logx.String("next", s.previewNextRunsLocked(spec, 3)))
	}
	return name, nil
}

// AddDaily runs job every day at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	t, err := domain.ParseTimeOfDay(atHHMM)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d %d * * *", t.Second, t.Minute, t.Hour), timeout, job)
}

func (s *Service) addCronLocked(d *cronDef) {
	name, timeout, opt, job := d.name, d.timeout, d.opt, d.job
	eid, err := s.c.AddFunc(d.spec, func() { s.enqueue(name, timeout, opt, job) })
	if err != nil {
		s.log.Error("cron register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return
	}
	d.entryID = eid
}

// Remove drops every trigger with the given name. A job that already fired
// is not interrupted.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeCronLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	if d := s.once[name]; d != nil {
		if d.timer != nil {
			d.timer.Stop()
		}
		delete(s.once, name)
		removed = true
	}
	s.tmu.Unlock()

	if removed {
		s.log.Debug("trigger removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeCronLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

// OnceAt reports the instant of a pending one-shot trigger.
func (s *Service) OnceAt(name string) (time.Time, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d := s.once[name]
	if d == nil {
		return time.Time{}, false
	}
	return d.at, true
}

// Pending lists one-shot triggers ordered by instant, then name.
func (s *Service) Pending() []OnceInfo {
	s.tmu.Lock()
	out := make([]OnceInfo, 0, len(s.once))
	for name, d := range s.once {
		out = append(out, OnceInfo{Name: name, At: d.at, Timeout: d.timeout})
	}
	s.tmu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}

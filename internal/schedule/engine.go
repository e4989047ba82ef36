package schedule

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"camguard/internal/activation"
	"camguard/internal/domain"
	"camguard/internal/observability/metrics"
	"camguard/internal/storage"
	"camguard/internal/task/scheduler"
	"camguard/pkg/logx"
)

const (
	defaultActivationTimeout = 60 * time.Second
	defaultRearmAt           = "00:00"
)

// Engine owns the per-camera task registry.
type Engine struct {
	mu    sync.Mutex
	cfg   Config
	tasks map[string]*armed
	gen   uint64

	triggers Triggers
	client   activation.Client
	store    Store
	log      logx.Logger
}

func New(cfg Config, triggers Triggers, client activation.Client, store Store, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if client == nil {
		client = activation.Nop{}
	}
	return &Engine{
		cfg:      normalize(cfg),
		tasks:    map[string]*armed{},
		triggers: triggers,
		client:   client,
		store:    store,
		log:      log.With(logx.String("comp", "schedule")),
	}
}

func normalize(cfg Config) Config {
	if cfg.ActivationTimeout <= 0 {
		cfg.ActivationTimeout = defaultActivationTimeout
	}
	if strings.TrimSpace(cfg.RearmAt) == "" {
		cfg.RearmAt = defaultRearmAt
	}
	return cfg
}

// ScheduleCamera replaces the camera's pending tasks with the ones derived
// from s for today. It never fails: an unusable schedule leaves the camera
// with nothing armed.
func (e *Engine) ScheduleCamera(cameraID string, s domain.CameraSchedule) {
	cameraID = strings.TrimSpace(cameraID)
	if cameraID == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.reportPendingLocked()

	e.cancelLocked(cameraID)

	w, warn := s.ParseWindow(cameraID)
	if warn != nil {
		metrics.IncScheduleArm(metrics.ArmParseError)
		e.log.Warn("schedule not armed: bad time of day",
			logx.String("camera_id", cameraID),
			logx.String("field", warn.Field),
			logx.String("value", warn.Value),
			logx.Err(warn.Err),
		)
		return
	}

	now := e.triggers.Now()
	loc := e.triggers.Location()
	today := domain.WeekdayOf(now.In(loc))
	if !s.Enabled || !domain.ContainsWeekday(w.Days, today) {
		metrics.IncScheduleArm(metrics.ArmInert)
		e.log.Debug("schedule inert today",
			logx.String("camera_id", cameraID),
			logx.Bool("enabled", s.Enabled),
			logx.String("today", today.String()),
			logx.String("days", domain.FormatWeekdays(w.Days)),
		)
		return
	}

	startAt := w.Start.On(now, loc)
	stopAt := w.End.On(now, loc)

	e.gen++
	gen := e.gen
	a := &armed{
		gen:   gen,
		start: &Task{CameraID: cameraID, Kind: KindStart, FireAt: startAt, Name: startName(cameraID)},
		stop:  &Task{CameraID: cameraID, Kind: KindStop, FireAt: stopAt, Name: stopName(cameraID)},
	}
	opt := scheduler.TaskOptions{RetryMax: -1}

	if _, err := e.triggers.AddOnceOpt(a.start.Name, startAt, e.cfg.ActivationTimeout, opt, e.job(cameraID, KindStart, gen)); err != nil {
		e.log.Error("arm start failed", logx.String("camera_id", cameraID), logx.Err(err))
		return
	}
	if _, err := e.triggers.AddOnceOpt(a.stop.Name, stopAt, e.cfg.ActivationTimeout, opt, e.job(cameraID, KindStop, gen)); err != nil {
		e.triggers.Remove(a.start.Name)
		e.log.Error("arm stop failed", logx.String("camera_id", cameraID), logx.Err(err))
		return
	}
	e.tasks[cameraID] = a

	metrics.IncScheduleArm(metrics.ArmArmed)
	fields := []logx.Field{
		logx.String("camera_id", cameraID),
		logx.Time("start_at", startAt),
		logx.Time("stop_at", stopAt),
	}
	if stopAt.Before(startAt) {
		// Windows crossing midnight are armed on today's date as-is.
		e.log.Warn("schedule armed with stop before start", fields...)
		return
	}
	e.log.Info("schedule armed", fields...)
}

func (e *Engine) job(cameraID string, kind Kind, gen uint64) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		e.fired(cameraID, kind, gen)
		if kind == KindStart {
			_ = e.ActivateCamera(ctx, cameraID)
		} else {
			_ = e.DeactivateCamera(ctx, cameraID)
		}
		return nil
	}
}

// fired drops a task from the registry once its trigger ran, unless the
// camera was rescheduled in the meantime.
func (e *Engine) fired(cameraID string, kind Kind, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.tasks[cameraID]
	if a == nil || a.gen != gen {
		return
	}
	if kind == KindStart {
		a.start = nil
	} else {
		a.stop = nil
	}
	if a.start == nil && a.stop == nil {
		delete(e.tasks, cameraID)
	}
	e.reportPendingLocked()
}

// Cancel removes the camera's pending tasks. A job already running is not
// interrupted.
func (e *Engine) Cancel(cameraID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked(cameraID)
	e.reportPendingLocked()
}

func (e *Engine) cancelLocked(cameraID string) {
	e.triggers.Remove(startName(cameraID))
	e.triggers.Remove(stopName(cameraID))
	delete(e.tasks, cameraID)
}

// InitSchedules arms every enabled schedule. A failure to load the list is
// returned; each camera is armed independently.
func (e *Engine) InitSchedules(ctx context.Context) (int, error) {
	recs, err := e.store.FindAllEnabledSchedules(ctx)
	if err != nil {
		e.log.Error("load schedules failed", logx.Err(err))
		return 0, err
	}
	n := 0
	for _, r := range recs {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if e.scheduleSafe(r.CameraID, r.Schedule) {
			n++
		}
	}
	e.log.Info("schedules loaded", logx.Int("cameras", len(recs)), logx.Int("scheduled", n), logx.Int("pending_tasks", len(e.PendingAll())))
	return n, nil
}

func (e *Engine) scheduleSafe(cameraID string, s domain.CameraSchedule) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("schedule camera panicked", logx.String("camera_id", cameraID), logx.Any("panic", r))
			ok = false
		}
	}()
	e.ScheduleCamera(cameraID, s)
	return true
}

// Reschedule reloads the stored schedule of one camera and arms it.
func (e *Engine) Reschedule(ctx context.Context, cameraID string) error {
	s, err := e.store.FindSchedule(ctx, cameraID)
	if err != nil {
		return err
	}
	e.ScheduleCamera(cameraID, s)
	return nil
}

// ActivateCamera builds and starts the camera's detection process. Failures
// are logged and returned for callers that care; timer jobs ignore them.
func (e *Engine) ActivateCamera(ctx context.Context, cameraID string) error {
	if err := e.call(ctx, "build", cameraID, e.client.Build); err != nil {
		return err
	}
	if err := e.call(ctx, "start", cameraID, e.client.Start); err != nil {
		return err
	}
	e.recordActivity(ctx, cameraID, true, domain.StatusOnline)
	return nil
}

func (e *Engine) DeactivateCamera(ctx context.Context, cameraID string) error {
	if err := e.call(ctx, "stop", cameraID, e.client.Stop); err != nil {
		return err
	}
	e.recordActivity(ctx, cameraID, false, domain.StatusOffline)
	return nil
}

func (e *Engine) call(ctx context.Context, op, cameraID string, fn func(context.Context, string) error) error {
	start := time.Now()
	err := fn(ctx, cameraID)
	took := time.Since(start)
	metrics.ObserveActivation(op, err, took)
	e.audit(ctx, op, cameraID, err, took)
	if err != nil {
		e.log.Warn("activation call failed",
			logx.String("camera_id", cameraID),
			logx.String("op", op),
			logx.Duration("took", took),
			logx.Err(err),
		)
		return err
	}
	e.log.Info("activation call ok", logx.String("camera_id", cameraID), logx.String("op", op), logx.Duration("took", took))
	return nil
}

// audit is best effort; the entry is written even when ctx was cancelled
// by the job timeout.
func (e *Engine) audit(ctx context.Context, op, cameraID string, err error, took time.Duration) {
	if e.store == nil {
		return
	}
	entry := storage.AuditEntry{
		At:     e.triggers.Now(),
		Actor:  auditActor,
		Action: "activation." + op,
		Target: cameraID,
		OK:     err == nil,
		TookMS: took.Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if aerr := e.store.AppendAudit(actx, entry); aerr != nil {
		e.log.Debug("audit append failed", logx.String("camera_id", cameraID), logx.String("op", op), logx.Err(aerr))
	}
}

func (e *Engine) recordActivity(ctx context.Context, cameraID string, active bool, status string) {
	if e.store == nil {
		return
	}
	if err := e.store.SetCameraActivity(ctx, cameraID, active, status, e.triggers.Now()); err != nil {
		e.log.Warn("record camera activity failed", logx.String("camera_id", cameraID), logx.String("status", status), logx.Err(err))
	}
}

// Pending lists the camera's armed tasks, start first.
func (e *Engine) Pending(cameraID string) []Task {
	e.mu.Lock()
	a := e.tasks[cameraID]
	var out []Task
	if a != nil {
		out = e.liveLocked(a)
	}
	e.mu.Unlock()
	return out
}

// PendingAll lists every armed task ordered by fire time.
func (e *Engine) PendingAll() []Task {
	e.mu.Lock()
	out := make([]Task, 0, len(e.tasks)*2)
	for _, a := range e.tasks {
		out = append(out, e.liveLocked(a)...)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		if out[i].CameraID != out[j].CameraID {
			return out[i].CameraID < out[j].CameraID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// liveLocked filters out triggers that already fired but whose job has not
// run yet.
func (e *Engine) liveLocked(a *armed) []Task {
	out := make([]Task, 0, 2)
	for _, t := range []*Task{a.start, a.stop} {
		if t == nil {
			continue
		}
		if at, ok := e.triggers.OnceAt(t.Name); ok && at.Equal(t.FireAt) {
			out = append(out, *t)
		}
	}
	return out
}

func (e *Engine) reportPendingLocked() {
	n := 0
	for _, a := range e.tasks {
		if a.start != nil {
			n++
		}
		if a.stop != nil {
			n++
		}
	}
	metrics.SetSchedulePending(n)
}

// Apply updates timeouts and toggles the daily re-arm job.
func (e *Engine) Apply(cfg Config) error {
	cfg = normalize(cfg)
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	if !cfg.RearmDaily {
		if e.triggers.Remove(rearmName) {
			e.log.Info("daily re-arm disabled")
		}
		return nil
	}
	return e.EnableDailyRearm(cfg.RearmAt)
}

// EnableDailyRearm re-runs InitSchedules every day at atHHMM.
func (e *Engine) EnableDailyRearm(atHHMM string) error {
	if _, err := e.triggers.AddDaily(rearmName, atHHMM, 0, func(ctx context.Context) error {
		_, err := e.InitSchedules(ctx)
		return err
	}); err != nil {
		return err
	}
	e.log.Info("daily re-arm enabled", logx.String("at", atHHMM))
	return nil
}

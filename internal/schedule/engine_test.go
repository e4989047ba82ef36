package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"camguard/internal/domain"
	"camguard/internal/storage"
	"camguard/internal/task/engine"
	"camguard/internal/task/scheduler"
	"camguard/pkg/logx"
)

// 2024-05-06 is a Monday.
var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

type inlineExec struct{}

func (inlineExec) Enqueue(t engine.Task) error { return t.Run(context.Background()) }

type fakeClient struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (c *fakeClient) do(op, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, op+":"+id)
	return c.fail[op]
}

func (c *fakeClient) Build(_ context.Context, id string) error { return c.do("build", id) }
func (c *fakeClient) Start(_ context.Context, id string) error { return c.do("start", id) }
func (c *fakeClient) Stop(_ context.Context, id string) error  { return c.do("stop", id) }

func (c *fakeClient) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type harness struct {
	eng    *Engine
	sched  *scheduler.Service
	clk    *scheduler.ManualClock
	client *fakeClient
	store  *storage.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := scheduler.NewManualClock(t0)
	sched := scheduler.New(scheduler.Config{Timezone: "UTC"}, inlineExec{}, logx.Nop(), scheduler.WithClock(clk))
	sched.Start(context.Background())
	t.Cleanup(func() { sched.Stop(context.Background()) })

	store := storage.NewMemory()
	client := &fakeClient{fail: map[string]error{}}
	eng := New(Config{}, sched, client, store, logx.Nop())
	return &harness{eng: eng, sched: sched, clk: clk, client: client, store: store}
}

func (h *harness) addCamera(t *testing.T, id string, s domain.CameraSchedule) {
	t.Helper()
	ctx := context.Background()
	if err := h.store.CreateCamera(ctx, domain.NewCamera(id, "cam "+id)); err != nil {
		t.Fatalf("CreateCamera: %v", err)
	}
	if err := h.store.SaveSchedule(ctx, id, s); err != nil {
		t.Fatalf("SaveSchedule: %v", err)
	}
}

func weekdays(start, end string) domain.CameraSchedule {
	return domain.CameraSchedule{
		Enabled:   true,
		Days:      []domain.Weekday{domain.Monday, domain.Tuesday, domain.Wednesday, domain.Thursday, domain.Friday},
		StartTime: start,
		EndTime:   end,
	}
}

func TestScheduleCameraArmsStartAndStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.eng.ScheduleCamera("cam-1", weekdays("10:00", "18:30"))

	got := h.eng.Pending("cam-1")
	if len(got) != 2 {
		t.Fatalf("pending = %+v, want 2 tasks", got)
	}
	if got[0].Kind != KindStart || !got[0].FireAt.Equal(time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("start task = %+v", got[0])
	}
	if got[1].Kind != KindStop || !got[1].FireAt.Equal(time.Date(2024, 5, 6, 18, 30, 0, 0, time.UTC)) {
		t.Fatalf("stop task = %+v", got[1])
	}
	if n := len(h.sched.Pending()); n != 2 {
		t.Fatalf("scheduler pending = %d, want 2", n)
	}
}

func TestScheduleCameraTwiceKeepsOnePair(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.eng.ScheduleCamera("cam-1", weekdays("10:00", "12:00"))
	h.eng.ScheduleCamera("cam-1", weekdays("11:00", "13:00"))

	if n := len(h.sched.Pending()); n != 2 {
		t.Fatalf("scheduler pending = %d, want 2", n)
	}
	if n := h.clk.Pending(); n != 2 {
		t.Fatalf("armed timers = %d, want 2", n)
	}
	got := h.eng.Pending("cam-1")
	if len(got) != 2 || got[0].FireAt.Hour() != 11 || got[1].FireAt.Hour() != 13 {
		t.Fatalf("pending = %+v, want the second window", got)
	}

	// The replaced window must not fire.
	h.clk.Advance(90 * time.Minute)
	if calls := h.client.got(); len(calls) != 0 {
		t.Fatalf("calls after 10:30 = %v, want none", calls)
	}
}

func TestScheduleCameraInert(t *testing.T) {
	t.Parallel()
	weekend := weekdays("10:00", "12:00")
	weekend.Days = []domain.Weekday{domain.Saturday, domain.Sunday}
	disabled := weekdays("10:00", "12:00")
	disabled.Enabled = false

	tests := []struct {
		name string
		s    domain.CameraSchedule
	}{
		{"disabled", disabled},
		{"not today", weekend},
		{"no days", domain.CameraSchedule{Enabled: true, StartTime: "10:00", EndTime: "12:00"}},
		{"bad start", weekdays("25:00", "12:00")},
		{"bad end", weekdays("10:00", "noon")},
		{"empty times", weekdays("", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.eng.ScheduleCamera("cam-1", weekdays("08:00", "20:00"))
			h.eng.ScheduleCamera("cam-1", tt.s)
			if got := h.eng.Pending("cam-1"); len(got) != 0 {
				t.Fatalf("pending = %+v, want none", got)
			}
			if n := len(h.sched.Pending()); n != 0 {
				t.Fatalf("scheduler pending = %d, want 0", n)
			}
		})
	}
}

func TestTriggersDriveActivation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.addCamera(t, "cam-1", weekdays("10:00", "18:00"))
	h.eng.ScheduleCamera("cam-1", weekdays("10:00", "18:00"))

	h.clk.Advance(time.Hour)
	if calls := h.client.got(); len(calls) != 2 || calls[0] != "build:cam-1" || calls[1] != "start:cam-1" {
		t.Fatalf("calls after start = %v", calls)
	}
	pending := h.eng.Pending("cam-1")
	if len(pending) != 1 || pending[0].Kind != KindStop {
		t.Fatalf("pending after start = %+v, want stop only", pending)
	}
	cam, err := h.store.GetCamera(context.Background(), "cam-1")
	if err != nil {
		t.Fatalf("GetCamera: %v", err)
	}
	if !cam.Active || cam.Status != domain.StatusOnline || cam.LastActivity == nil {
		t.Fatalf("camera after start = %+v", cam)
	}

	h.clk.Advance(8 * time.Hour)
	if calls := h.client.got(); len(calls) != 3 || calls[2] != "stop:cam-1" {
		t.Fatalf("calls after stop = %v", calls)
	}
	if got := h.eng.PendingAll(); len(got) != 0 {
		t.Fatalf("pending after stop = %+v, want none", got)
	}
	cam, _ = h.store.GetCamera(context.Background(), "cam-1")
	if cam.Active || cam.Status != domain.StatusOffline {
		t.Fatalf("camera after stop = %+v", cam)
	}
}

func TestActivationFailureIsAbsorbed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.addCamera(t, "cam-1", weekdays("10:00", "18:00"))
	h.client.fail["start"] = &domain.DownstreamError{Component: "activation", Op: "start", Status: 502}
	h.eng.ScheduleCamera("cam-1", weekdays("10:00", "18:00"))

	h.clk.Advance(time.Hour)
	pending := h.eng.Pending("cam-1")
	if len(pending) != 1 || pending[0].Kind != KindStop {
		t.Fatalf("stop must stay armed after failed start: %+v", pending)
	}
	cam, _ := h.store.GetCamera(context.Background(), "cam-1")
	if cam.Active {
		t.Fatal("camera must not be marked active after a failed start")
	}

	err := h.eng.ActivateCamera(context.Background(), "cam-1")
	var de *domain.DownstreamError
	if !errors.As(err, &de) {
		t.Fatalf("ActivateCamera err = %v, want DownstreamError", err)
	}
}

func TestBuildFailureSkipsStart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.client.fail["build"] = errors.New("boom")
	if err := h.eng.ActivateCamera(context.Background(), "cam-1"); err == nil {
		t.Fatal("want error")
	}
	if calls := h.client.got(); len(calls) != 1 || calls[0] != "build:cam-1" {
		t.Fatalf("calls = %v, want build only", calls)
	}
}

func TestPastInstantsFireImmediately(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.eng.ScheduleCamera("cam-1", weekdays("07:00", "08:00"))
	h.clk.Advance(0)

	calls := h.client.got()
	seen := map[string]bool{}
	for _, c := range calls {
		seen[c] = true
	}
	if !seen["start:cam-1"] || !seen["stop:cam-1"] {
		t.Fatalf("calls = %v, want both start and stop", calls)
	}
	if got := h.eng.PendingAll(); len(got) != 0 {
		t.Fatalf("pending = %+v, want none", got)
	}
}

func TestInitSchedulesLoadsEnabled(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.addCamera(t, "cam-a", weekdays("10:00", "11:00"))
	h.addCamera(t, "cam-b", weekdays("bogus", "11:00"))
	off := weekdays("10:00", "11:00")
	off.Enabled = false
	h.addCamera(t, "cam-c", off)

	n, err := h.eng.InitSchedules(context.Background())
	if err != nil {
		t.Fatalf("InitSchedules: %v", err)
	}
	if n != 2 {
		t.Fatalf("scheduled = %d, want 2 (enabled only)", n)
	}
	all := h.eng.PendingAll()
	if len(all) != 2 || all[0].CameraID != "cam-a" || all[1].CameraID != "cam-a" {
		t.Fatalf("pending = %+v, want cam-a pair only", all)
	}
}

func TestCancelAndReschedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.addCamera(t, "cam-1", weekdays("10:00", "11:00"))
	h.eng.ScheduleCamera("cam-1", weekdays("10:00", "11:00"))

	h.eng.Cancel("cam-1")
	if got := h.eng.Pending("cam-1"); len(got) != 0 {
		t.Fatalf("pending after cancel = %+v", got)
	}
	if err := h.eng.Reschedule(context.Background(), "cam-1"); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if got := h.eng.Pending("cam-1"); len(got) != 2 {
		t.Fatalf("pending after reschedule = %+v", got)
	}
	if err := h.eng.Reschedule(context.Background(), "nope"); !domain.IsNotFound(err) {
		t.Fatalf("Reschedule unknown err = %v, want not found", err)
	}
}

func TestApplyTogglesDailyRearm(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if err := h.eng.Apply(Config{RearmDaily: true, RearmAt: "00:05"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	snap := h.sched.Snapshot()
	if len(snap.Cron) != 1 || snap.Cron[0].Name != rearmName || snap.Cron[0].Spec != "0 5 0 * * *" {
		t.Fatalf("cron = %+v", snap.Cron)
	}
	if err := h.eng.Apply(Config{}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if snap := h.sched.Snapshot(); len(snap.Cron) != 0 {
		t.Fatalf("cron after disable = %+v", snap.Cron)
	}
	if err := h.eng.Apply(Config{RearmDaily: true, RearmAt: "midnight"}); err == nil {
		t.Fatal("want error for bad rearm time")
	}
}

func TestMidnightCrossingWindowArmsToday(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.addCamera(t, "cam-1", weekdays("22:00", "06:00"))
	h.eng.ScheduleCamera("cam-1", weekdays("22:00", "06:00"))

	pending := h.eng.Pending("cam-1")
	if len(pending) != 2 {
		t.Fatalf("pending = %+v, want 2 tasks", pending)
	}
	if pending[0].Kind != KindStart || !pending[0].FireAt.Equal(time.Date(2024, 5, 6, 22, 0, 0, 0, time.UTC)) {
		t.Fatalf("start task = %+v", pending[0])
	}
	if pending[1].Kind != KindStop || !pending[1].FireAt.Equal(time.Date(2024, 5, 6, 6, 0, 0, 0, time.UTC)) {
		t.Fatalf("stop task = %+v, want today 06:00", pending[1])
	}

	// 06:00 is already behind 09:00, so stop fires right away.
	h.clk.Advance(0)
	if calls := h.client.got(); len(calls) != 1 || calls[0] != "stop:cam-1" {
		t.Fatalf("calls at 09:00 = %v, want [stop:cam-1]", calls)
	}

	h.clk.Advance(14 * time.Hour)
	want := []string{"stop:cam-1", "build:cam-1", "start:cam-1"}
	calls := h.client.got()
	if len(calls) != len(want) {
		t.Fatalf("calls at 23:00 = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls at 23:00 = %v, want %v", calls, want)
		}
	}
	if got := h.eng.PendingAll(); len(got) != 0 {
		t.Fatalf("pending after start = %+v, want none", got)
	}
	if n := h.clk.Pending(); n != 0 {
		t.Fatalf("armed timers = %d, want 0", n)
	}
	cam, _ := h.store.GetCamera(context.Background(), "cam-1")
	if !cam.Active {
		t.Fatalf("camera after late start = %+v, want active", cam)
	}
}

func TestActivationCallsAreAudited(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.client.fail["start"] = errors.New("worker unreachable")
	ctx := context.Background()

	_ = h.eng.ActivateCamera(ctx, "cam-1")
	_ = h.eng.DeactivateCamera(ctx, "cam-1")

	got, err := h.store.ListAudit(ctx, "cam-1", 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	tests := []struct {
		action string
		ok     bool
		errMsg string
	}{
		{"activation.stop", true, ""},
		{"activation.start", false, "worker unreachable"},
		{"activation.build", true, ""},
	}
	if len(got) != len(tests) {
		t.Fatalf("audit = %+v, want %d entries", got, len(tests))
	}
	for i, tt := range tests {
		e := got[i]
		if e.Action != tt.action || e.OK != tt.ok || e.Error != tt.errMsg || e.Actor != auditActor || e.Target != "cam-1" {
			t.Fatalf("audit[%d] = %+v, want %s ok=%v err=%q", i, e, tt.action, tt.ok, tt.errMsg)
		}
		if !e.At.Equal(t0) {
			t.Fatalf("audit[%d].At = %v, want clock time %v", i, e.At, t0)
		}
	}
}

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"camguard/internal/domain"
	"camguard/internal/eventbus"
	"camguard/internal/notifier"
	"camguard/internal/storage"
	"camguard/pkg/logx"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []notifier.Message
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, m notifier.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type harness struct {
	svc    *Service
	store  *storage.Memory
	notify *fakeNotifier
	bus    eventbus.Bus
	clk    *testClock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store := storage.NewMemory()
	if err := store.CreateCamera(context.Background(), domain.Camera{
		ID: "cam-1", Name: "Gate", Emails: []string{"ops@example.org"}, Status: domain.StatusOffline, Schedule: domain.DefaultSchedule(),
	}); err != nil {
		t.Fatalf("CreateCamera: %v", err)
	}
	clk := &testClock{now: t0}
	n := &fakeNotifier{}
	bus := eventbus.New()
	svc := New(cfg, store, n, bus, logx.Nop(), WithClock(clk.Now))
	return &harness{svc: svc, store: store, notify: n, bus: bus, clk: clk}
}

func f64(v float64) *float64 { return &v }

func sighting(id string) domain.VehicleObservation {
	return domain.VehicleObservation{
		ID:          id,
		CameraID:    "cam-1",
		Type:        "car",
		Color:       "red",
		ImageURL:    "http://img/1.jpg",
		Description: "red car near gate",
		Latitude:    f64(32.08),
		Longitude:   f64(34.78),
	}
}

func TestOnVehicleObservedValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	_, err := h.svc.OnVehicleObserved(context.Background(), domain.VehicleObservation{CameraID: "cam-1", Type: "car"})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	want := []string{"color", "imageUrl", "description", "latitude", "longitude"}
	if len(ve.Fields) != len(want) {
		t.Fatalf("fields = %v, want %v", ve.Fields, want)
	}
}

func TestOnVehicleObservedAssignsIDAndKeepsFirstSeen(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	v, err := h.svc.OnVehicleObserved(ctx, sighting(""))
	if err != nil {
		t.Fatalf("OnVehicleObserved: %v", err)
	}
	if v.ID == "" || !v.FirstSeenAt.Equal(t0) || v.DwellSeconds != 0 || v.AlertRaised {
		t.Fatalf("new sighting = %+v", v)
	}

	h.clk.Set(t0.Add(time.Minute))
	again, err := h.svc.OnVehicleObserved(ctx, sighting(v.ID))
	if err != nil {
		t.Fatalf("OnVehicleObserved again: %v", err)
	}
	if !again.FirstSeenAt.Equal(t0) || !again.LastUpdateAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("re-sighting = %+v, want firstSeenAt kept", again)
	}
}

func TestDwellThresholdCrossing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()
	if _, err := h.svc.OnVehicleObserved(ctx, sighting("v1")); err != nil {
		t.Fatalf("OnVehicleObserved: %v", err)
	}

	steps := []struct {
		at        time.Duration
		wantDwell int64
		wantAlert bool
	}{
		{10 * time.Second, 10, false},
		{599 * time.Second, 599, false},
		{601 * time.Second, 601, true},
		{700 * time.Second, 700, true},
	}
	for _, st := range steps {
		h.clk.Set(t0.Add(st.at))
		v, err := h.svc.OnVehicleUpdated(ctx, domain.VehicleObservation{ID: "v1"})
		if err != nil {
			t.Fatalf("OnVehicleUpdated at %v: %v", st.at, err)
		}
		if v.DwellSeconds != st.wantDwell || v.AlertRaised != st.wantAlert {
			t.Fatalf("at %v: dwell=%d alert=%v, want %d %v", st.at, v.DwellSeconds, v.AlertRaised, st.wantDwell, st.wantAlert)
		}
	}
}

func TestDwellExactlyAtThresholdRaises(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{DwellThreshold: 30 * time.Second})
	ctx := context.Background()
	_, _ = h.svc.OnVehicleObserved(ctx, sighting("v1"))
	h.clk.Set(t0.Add(30 * time.Second))
	v, err := h.svc.OnVehicleUpdated(ctx, domain.VehicleObservation{ID: "v1"})
	if err != nil || !v.AlertRaised {
		t.Fatalf("v=%+v err=%v, want alert at threshold", v, err)
	}
}

func TestDwellNeverDecreases(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()
	_, _ = h.svc.OnVehicleObserved(ctx, sighting("v1"))

	h.clk.Set(t0.Add(5 * time.Minute))
	first, _ := h.svc.OnVehicleUpdated(ctx, domain.VehicleObservation{ID: "v1"})
	h.clk.Set(t0.Add(2 * time.Minute))
	second, err := h.svc.OnVehicleUpdated(ctx, domain.VehicleObservation{ID: "v1"})
	if err != nil {
		t.Fatalf("OnVehicleUpdated: %v", err)
	}
	if second.DwellSeconds < first.DwellSeconds {
		t.Fatalf("dwell went from %d to %d", first.DwellSeconds, second.DwellSeconds)
	}
	if second.DwellFormatted != "5m" {
		t.Fatalf("formatted = %q", second.DwellFormatted)
	}
}

func TestOnVehicleUpdatedMergesAndPublishes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()
	_, _ = h.svc.OnVehicleObserved(ctx, sighting("v1"))
	events, unsub := h.bus.Subscribe(4, TopicVehicleStateUpdated)
	defer unsub()

	h.clk.Set(t0.Add(42 * time.Second))
	v, err := h.svc.OnVehicleUpdated(ctx, domain.VehicleObservation{ID: "v1", ImageURL: "http://img/2.jpg", Latitude: f64(1.5), Color: "blue"})
	if err != nil {
		t.Fatalf("OnVehicleUpdated: %v", err)
	}
	if v.ImageURL != "http://img/2.jpg" || *v.Latitude != 1.5 || *v.Longitude != 34.78 || v.Color != "red" {
		t.Fatalf("merged = %+v", v)
	}

	select {
	case e := <-events:
		var got domain.VehicleObservation
		if err := eventbus.Decode(e, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if e.Key != "v1" || got.DwellSeconds != 42 {
			t.Fatalf("event key=%q dwell=%d", e.Key, got.DwellSeconds)
		}
	case <-time.After(time.Second):
		t.Fatal("no vehicle-state-updated event")
	}
}

func TestOnVehicleUpdatedErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	if _, err := h.svc.OnVehicleUpdated(context.Background(), domain.VehicleObservation{}); !domain.IsValidation(err) {
		t.Fatalf("blank id err = %v", err)
	}
	if _, err := h.svc.OnVehicleUpdated(context.Background(), domain.VehicleObservation{ID: "ghost"}); !domain.IsNotFound(err) {
		t.Fatalf("unknown id err = %v", err)
	}
}

func TestAutoAlertOncePerVehicle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{AutoAlert: true})
	ctx := context.Background()
	_, _ = h.svc.OnVehicleObserved(ctx, sighting("v1"))

	for _, d := range []time.Duration{601, 650, 900} {
		h.clk.Set(t0.Add(d * time.Second))
		if _, err := h.svc.OnVehicleUpdated(ctx, domain.VehicleObservation{ID: "v1"}); err != nil {
			t.Fatalf("OnVehicleUpdated: %v", err)
		}
	}
	alerts, _ := h.store.ListAlertsByCamera(ctx, "cam-1", 10)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Type != DefaultAlertType || a.Severity != DefaultAlertSeverity || a.VehicleID != "v1" {
		t.Fatalf("alert = %+v", a)
	}
	cam, _ := h.store.GetCamera(ctx, "cam-1")
	if cam.AlertCount != 1 {
		t.Fatalf("alertCount = %d, want 1", cam.AlertCount)
	}
	if h.notify.count() != 1 {
		t.Fatalf("notifications = %d, want 1", h.notify.count())
	}
}

func TestCreateAlertValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name string
		c    domain.AlertCandidate
	}{
		{"missing description", domain.AlertCandidate{CameraID: "cam-1", Type: "parking", Severity: "high", VehicleID: "v1"}},
		{"blank type", domain.AlertCandidate{CameraID: "cam-1", Type: "  ", Severity: "high", Description: "d", VehicleID: "v1"}},
		{"no vehicle", domain.AlertCandidate{CameraID: "cam-1", Type: "parking", Severity: "high", Description: "d"}},
		{"blank vehicle id", domain.AlertCandidate{CameraID: "cam-1", Type: "parking", Severity: "high", Description: "d", VehicleID: "   "}},
		{"snapshot without id", domain.AlertCandidate{CameraID: "cam-1", Type: "parking", Severity: "high", Description: "d", Vehicle: &domain.VehicleObservation{}}},
		{"no camera", domain.AlertCandidate{Type: "parking", Severity: "high", Description: "d", VehicleID: "v1"}},
	}
	for _, tt := range tests {
		if _, err := h.svc.CreateAlert(ctx, tt.c); !domain.IsValidation(err) {
			t.Fatalf("%s: err = %v, want ValidationError", tt.name, err)
		}
	}
	cam, _ := h.store.GetCamera(ctx, "cam-1")
	alerts, _ := h.store.ListAlertsByCamera(ctx, "cam-1", 10)
	if cam.AlertCount != 0 || len(alerts) != 0 || h.notify.count() != 0 {
		t.Fatalf("side effects after invalid input: count=%d alerts=%d notifications=%d", cam.AlertCount, len(alerts), h.notify.count())
	}
}

func TestCreateAlertUnknownCamera(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	_, err := h.svc.CreateAlert(context.Background(), domain.AlertCandidate{
		CameraID: "nope", Type: "parking", Severity: "high", Description: "d", VehicleID: "v1",
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	alerts, _ := h.store.ListAlertsByCamera(context.Background(), "nope", 10)
	if len(alerts) != 0 || h.notify.count() != 0 {
		t.Fatal("nothing must be persisted or notified")
	}
}

func TestCreateAlertSurvivesNotifierFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.notify.err = errors.New("queue full")
	ctx := context.Background()

	a, err := h.svc.CreateAlert(ctx, domain.AlertCandidate{
		CameraID: "cam-1", Type: "parking", Severity: "high", Description: "blocked exit", VehicleID: "v9",
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	if a.ID == "" || !a.Timestamp.Equal(t0) {
		t.Fatalf("alert = %+v", a)
	}
	cam, _ := h.store.GetCamera(ctx, "cam-1")
	alerts, _ := h.store.ListAlertsByCamera(ctx, "cam-1", 10)
	if cam.AlertCount != 1 || len(alerts) != 1 || alerts[0].ID != a.ID {
		t.Fatalf("count=%d alerts=%v", cam.AlertCount, alerts)
	}

	h.notify.mu.Lock()
	m := h.notify.msgs[0]
	h.notify.mu.Unlock()
	if m.Key != "alert:"+a.ID || len(m.Recipients) != 1 || m.Recipients[0] != "ops@example.org" || m.Priority != 9 {
		t.Fatalf("message = %+v", m)
	}
}

func TestCreateAlertConcurrentCounter(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()
	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.CreateAlert(ctx, domain.AlertCandidate{
				CameraID: "cam-1", Type: "parking", Severity: "low", Description: "d", VehicleID: "v1",
			}); err != nil {
				t.Errorf("CreateAlert: %v", err)
			}
		}()
	}
	wg.Wait()
	cam, _ := h.store.GetCamera(ctx, "cam-1")
	if cam.AlertCount != n {
		t.Fatalf("alertCount = %d, want %d", cam.AlertCount, n)
	}
}

func TestSeverityPriority(t *testing.T) {
	t.Parallel()
	tests := map[string]int{"HIGH": 9, "critical": 9, "medium": 7, "low": 5, "": 5}
	for in, want := range tests {
		if got := severityPriority(in); got != want {
			t.Fatalf("severityPriority(%q) = %d, want %d", in, got, want)
		}
	}
}

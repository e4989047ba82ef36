package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"camguard/internal/domain"
	logx "camguard/pkg/logx"
)

type storeFactory func(t *testing.T) Store

func drivers(t *testing.T) map[string]storeFactory {
	t.Helper()
	out := map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"file": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "camguard")}, logx.Nop())
			if err != nil {
				t.Fatalf("open file: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "camguard.db"), BusyTimeout: 2 * time.Second}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
	}
	if dsn := os.Getenv("CAMGUARD_PG_DSN"); dsn != "" {
		out["postgres"] = func(t *testing.T) Store {
			st, err := Open(Config{Driver: "postgres", DSN: dsn}, logx.Nop())
			if err != nil {
				t.Fatalf("open postgres: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })
			return st
		}
	}
	return out
}

// uniq keeps ids distinct when a shared postgres database is reused across runs.
func uniq(t *testing.T, s string) string {
	return fmt.Sprintf("%s-%s-%d", s, t.Name(), time.Now().UnixNano())
}

func TestStoreContract(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("cameras", func(t *testing.T) { testCameras(t, open(t)) })
			t.Run("schedules", func(t *testing.T) { testSchedules(t, open(t)) })
			t.Run("vehicles", func(t *testing.T) { testVehicles(t, open(t)) })
			t.Run("alerts", func(t *testing.T) { testAlerts(t, open(t)) })
			t.Run("concurrent alerts", func(t *testing.T) { testConcurrentAlerts(t, open(t)) })
			t.Run("dedup", func(t *testing.T) { testDedup(t, open(t)) })
			t.Run("audit", func(t *testing.T) { testAudit(t, open(t)) })
		})
	}
}

func testCameras(t *testing.T, st Store) {
	ctx := context.Background()
	id := uniq(t, "cam")
	c := domain.NewCamera(id, "Gate")
	c.Emails = []string{"ops@example.com"}
	if err := st.CreateCamera(ctx, c); err != nil {
		t.Fatalf("CreateCamera: %v", err)
	}
	if err := st.CreateCamera(ctx, c); !domain.IsValidation(err) {
		t.Fatalf("duplicate CreateCamera err = %v, want ValidationError", err)
	}
	got, err := st.GetCamera(ctx, id)
	if err != nil {
		t.Fatalf("GetCamera: %v", err)
	}
	if got.Name != "Gate" || got.Status != domain.StatusOffline || got.Active || len(got.Emails) != 1 {
		t.Fatalf("camera = %+v", got)
	}

	at := time.UnixMilli(time.Now().UnixMilli())
	if err := st.SetCameraActivity(ctx, id, true, domain.StatusOnline, at); err != nil {
		t.Fatalf("SetCameraActivity: %v", err)
	}
	got, _ = st.GetCamera(ctx, id)
	if !got.Active || got.Status != domain.StatusOnline || got.LastActivity == nil || !got.LastActivity.Equal(at) {
		t.Fatalf("activity not stored: %+v", got)
	}
	if err := st.SetCameraActivity(ctx, "missing-"+id, true, domain.StatusOnline, at); !domain.IsNotFound(err) {
		t.Fatalf("SetCameraActivity(missing) err = %v", err)
	}

	list, err := st.ListCameras(ctx)
	if err != nil || len(list) == 0 {
		t.Fatalf("ListCameras = %v, %v", list, err)
	}

	if err := st.DeleteCamera(ctx, id); err != nil {
		t.Fatalf("DeleteCamera: %v", err)
	}
	if _, err := st.GetCamera(ctx, id); !domain.IsNotFound(err) {
		t.Fatalf("GetCamera after delete err = %v", err)
	}
}

func testSchedules(t *testing.T, st Store) {
	ctx := context.Background()
	on, off := uniq(t, "on"), uniq(t, "off")
	for _, id := range []string{on, off} {
		if err := st.CreateCamera(ctx, domain.NewCamera(id, id)); err != nil {
			t.Fatalf("CreateCamera: %v", err)
		}
	}
	want := domain.CameraSchedule{Enabled: true, Days: []domain.Weekday{domain.Monday, domain.Friday}, StartTime: "08:00", EndTime: "17:30"}
	if err := st.SaveSchedule(ctx, on, want); err != nil {
		t.Fatalf("SaveSchedule: %v", err)
	}
	if err := st.SaveSchedule(ctx, "nope-"+on, want); !domain.IsNotFound(err) {
		t.Fatalf("SaveSchedule(missing) err = %v", err)
	}

	got, err := st.FindSchedule(ctx, on)
	if err != nil {
		t.Fatalf("FindSchedule: %v", err)
	}
	if !got.Enabled || got.StartTime != "08:00" || got.EndTime != "17:30" || len(got.Days) != 2 || got.Days[1] != domain.Friday {
		t.Fatalf("schedule = %+v", got)
	}
	def, err := st.FindSchedule(ctx, off)
	if err != nil || def.Enabled || def.StartTime != "00:00" {
		t.Fatalf("default schedule = %+v, %v", def, err)
	}

	all, err := st.FindAllEnabledSchedules(ctx)
	if err != nil {
		t.Fatalf("FindAllEnabledSchedules: %v", err)
	}
	var sawOn, sawOff bool
	for _, r := range all {
		sawOn = sawOn || r.CameraID == on
		sawOff = sawOff || r.CameraID == off
	}
	if !sawOn || sawOff {
		t.Fatalf("enabled schedules = %+v", all)
	}
}

func testVehicles(t *testing.T, st Store) {
	ctx := context.Background()
	id := uniq(t, "veh")
	lat := 10.5
	now := time.UnixMilli(time.Now().UnixMilli()).UTC()
	v := domain.VehicleObservation{ID: id, CameraID: "c1", Type: "car", Color: "red", Latitude: &lat, FirstSeenAt: now, LastUpdateAt: now}
	if err := st.SaveVehicle(ctx, v); err != nil {
		t.Fatalf("SaveVehicle: %v", err)
	}
	v.DwellSeconds = 42
	v.AlertRaised = true
	if err := st.SaveVehicle(ctx, v); err != nil {
		t.Fatalf("SaveVehicle upsert: %v", err)
	}
	got, err := st.GetVehicle(ctx, id)
	if err != nil {
		t.Fatalf("GetVehicle: %v", err)
	}
	if got.DwellSeconds != 42 || !got.AlertRaised || got.Latitude == nil || *got.Latitude != 10.5 || !got.FirstSeenAt.Equal(now) {
		t.Fatalf("vehicle = %+v", got)
	}
	if err := st.DeleteVehicle(ctx, id); err != nil {
		t.Fatalf("DeleteVehicle: %v", err)
	}
	if _, err := st.GetVehicle(ctx, id); !domain.IsNotFound(err) {
		t.Fatalf("GetVehicle after delete err = %v", err)
	}
}

func testAlerts(t *testing.T, st Store) {
	ctx := context.Background()
	cam := uniq(t, "cam")
	if err := st.CreateCamera(ctx, domain.NewCamera(cam, "Lot")); err != nil {
		t.Fatalf("CreateCamera: %v", err)
	}
	base := time.UnixMilli(time.Now().UnixMilli())
	for i := 0; i < 3; i++ {
		a := domain.Alert{
			ID: fmt.Sprintf("%s-a%d", cam, i), CameraID: cam, Type: "parking-violation", Severity: "high",
			Description: "stopped", VehicleID: "v1", Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if i == 2 {
			a.Vehicle = &domain.VehicleObservation{ID: "v1", Color: "blue"}
		}
		n, err := st.InsertAlert(ctx, a)
		if err != nil {
			t.Fatalf("InsertAlert: %v", err)
		}
		if n != int64(i+1) {
			t.Fatalf("alert count = %d, want %d", n, i+1)
		}
	}

	if _, err := st.InsertAlert(ctx, domain.Alert{ID: cam + "-x", CameraID: "ghost-" + cam, Type: "t", Severity: "s", Description: "d", Timestamp: base}); !domain.IsNotFound(err) {
		t.Fatalf("InsertAlert(unknown camera) err = %v", err)
	}
	if got, _ := st.ListAlertsByCamera(ctx, "ghost-"+cam, 10); len(got) != 0 {
		t.Fatalf("alert persisted for unknown camera: %+v", got)
	}

	list, err := st.ListAlertsByCamera(ctx, cam, 2)
	if err != nil {
		t.Fatalf("ListAlertsByCamera: %v", err)
	}
	if len(list) != 2 || list[0].ID != cam+"-a2" || list[0].Vehicle == nil || list[0].Vehicle.Color != "blue" {
		t.Fatalf("alerts = %+v", list)
	}
	c, _ := st.GetCamera(ctx, cam)
	if c.AlertCount != 3 {
		t.Fatalf("camera alert count = %d, want 3", c.AlertCount)
	}
}

func testConcurrentAlerts(t *testing.T, st Store) {
	ctx := context.Background()
	cam := uniq(t, "cam")
	if err := st.CreateCamera(ctx, domain.NewCamera(cam, "Busy")); err != nil {
		t.Fatalf("CreateCamera: %v", err)
	}
	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.InsertAlert(ctx, domain.Alert{
				ID: fmt.Sprintf("%s-%d", cam, i), CameraID: cam, Type: "t", Severity: "s", Description: "d", VehicleID: "v", Timestamp: time.Now(),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("InsertAlert: %v", err)
		}
	}
	c, err := st.GetCamera(ctx, cam)
	if err != nil {
		t.Fatalf("GetCamera: %v", err)
	}
	if c.AlertCount != n {
		t.Fatalf("alert count = %d, want %d", c.AlertCount, n)
	}
}

func testDedup(t *testing.T, st Store) {
	ctx := context.Background()
	key := uniq(t, "k")
	if _, ok, err := st.GetDedup(ctx, key); ok || err != nil {
		t.Fatalf("GetDedup(empty) = %v, %v", ok, err)
	}
	until := time.UnixMilli(time.Now().Add(time.Minute).UnixMilli())
	if err := st.PutDedup(ctx, key, until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	got, ok, err := st.GetDedup(ctx, key)
	if err != nil || !ok || !got.Equal(until) {
		t.Fatalf("GetDedup = %v, %v, %v", got, ok, err)
	}
}

func testAudit(t *testing.T, st Store) {
	ctx := context.Background()
	camA, camB := uniq(t, "a"), uniq(t, "b")
	at := time.UnixMilli(time.Now().UnixMilli())
	entries := []AuditEntry{
		{At: at, Actor: "scheduler", Action: "activation.build", Target: camA, OK: true, TookMS: 12},
		{At: at, Actor: "api", Action: "schedule.put", Target: camB, OK: true, MetaJSON: `{"enabled":true}`},
		{At: at.Add(time.Second), Actor: "scheduler", Action: "activation.start", Target: camA, Error: "503 from detector", TookMS: 40},
	}
	for _, e := range entries {
		if err := st.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	got, err := st.ListAudit(ctx, camA, 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListAudit(%s) = %d entries, want 2", camA, len(got))
	}
	if got[0].Action != "activation.start" || got[0].OK || got[0].Error == "" || !got[0].At.Equal(at.Add(time.Second)) {
		t.Fatalf("newest entry = %+v", got[0])
	}
	if got[1].Action != "activation.build" || !got[1].OK || got[1].TookMS != 12 {
		t.Fatalf("oldest entry = %+v", got[1])
	}

	one, err := st.ListAudit(ctx, camB, 1)
	if err != nil || len(one) != 1 || one[0].MetaJSON != `{"enabled":true}` {
		t.Fatalf("ListAudit(%s) = %+v, %v", camB, one, err)
	}
	limited, err := st.ListAudit(ctx, camA, 1)
	if err != nil || len(limited) != 1 || limited[0].Action != "activation.start" {
		t.Fatalf("limited ListAudit = %+v, %v", limited, err)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "camguard.json")

	st, err := openFile(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("openFile: %v", err)
	}
	st.compactEvery = 2
	until := time.UnixMilli(time.Now().Add(time.Hour).UnixMilli())
	for _, k := range []string{"k1", "k2", "k3"} {
		if err := st.PutDedup(ctx, k, until); err != nil {
			t.Fatalf("PutDedup(%s): %v", k, err)
		}
	}
	if err := st.PutDedup(ctx, "old", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("PutDedup(old): %v", err)
	}
	if err := st.AppendAudit(ctx, AuditEntry{At: time.Now(), Actor: "api", Action: "camera.delete", Target: "cam-9", OK: true}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.AppendAudit(ctx, AuditEntry{Action: "late"}); err == nil {
		t.Fatal("AppendAudit after Close should fail")
	}

	re, err := openFile(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = re.Close() })
	for _, k := range []string{"k1", "k2", "k3"} {
		got, ok, err := re.GetDedup(ctx, k)
		if err != nil || !ok || !got.Equal(until) {
			t.Fatalf("GetDedup(%s) after reopen = %v, %v, %v", k, got, ok, err)
		}
	}
	if _, ok, _ := re.GetDedup(ctx, "old"); ok {
		t.Fatal("expired dedup key survived reopen")
	}
	audit, err := re.ListAudit(ctx, "", 10)
	if err != nil || len(audit) != 1 || audit[0].Action != "camera.delete" {
		t.Fatalf("audit after reopen = %+v, %v", audit, err)
	}
}

func TestMemoryAuditIsBounded(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	for i := 0; i < maxMemoryAudit+5; i++ {
		_ = m.AppendAudit(ctx, AuditEntry{Action: fmt.Sprintf("a%d", i), Target: "cam"})
	}
	all, _ := m.ListAudit(ctx, "", 0)
	if len(all) != maxMemoryAudit {
		t.Fatalf("kept %d entries, want %d", len(all), maxMemoryAudit)
	}
	if all[0].Action != fmt.Sprintf("a%d", maxMemoryAudit+4) || all[len(all)-1].Action != "a5" {
		t.Fatalf("window = %s..%s", all[0].Action, all[len(all)-1].Action)
	}
}

func TestRebindDollar(t *testing.T) {
	t.Parallel()
	got := rebindDollar(`UPDATE t SET a = ?, b = ? WHERE id = ?`)
	want := `UPDATE t SET a = $1, b = $2 WHERE id = $3`
	if got != want {
		t.Fatalf("rebindDollar = %q, want %q", got, want)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "cassandra"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	st, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("default driver: %v", err)
	}
	if _, ok := st.(*Memory); !ok {
		t.Fatalf("default driver = %T, want *Memory", st)
	}
}

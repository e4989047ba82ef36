package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"camguard/internal/domain"
)

// Memory is a Store backed by maps. A single mutex makes InsertAlert atomic.
type Memory struct {
	mu       sync.Mutex
	cameras  map[string]domain.Camera
	vehicles map[string]domain.VehicleObservation
	alerts   map[string][]domain.Alert // by camera id, oldest first
	dedup    map[string]time.Time
	audit    []AuditEntry // oldest first, capped at maxMemoryAudit
}

const maxMemoryAudit = 1000

func NewMemory() *Memory {
	return &Memory{
		cameras:  map[string]domain.Camera{},
		vehicles: map[string]domain.VehicleObservation{},
		alerts:   map[string][]domain.Alert{},
		dedup:    map[string]time.Time{},
	}
}

func (m *Memory) Close() error { return nil }

func cloneCamera(c domain.Camera) domain.Camera {
	c.Emails = append([]string(nil), c.Emails...)
	c.Schedule.Days = append([]domain.Weekday(nil), c.Schedule.Days...)
	if c.LastActivity != nil {
		t := *c.LastActivity
		c.LastActivity = &t
	}
	return c
}

func (m *Memory) FindSchedule(_ context.Context, cameraID string) (domain.CameraSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cameras[cameraID]
	if !ok {
		return domain.CameraSchedule{}, domain.NotFound("camera", cameraID)
	}
	return cloneCamera(c).Schedule, nil
}

func (m *Memory) FindAllEnabledSchedules(_ context.Context) ([]ScheduleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ScheduleRecord, 0, len(m.cameras))
	for id, c := range m.cameras {
		if c.Schedule.Enabled {
			out = append(out, ScheduleRecord{CameraID: id, Schedule: cloneCamera(c).Schedule})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out, nil
}

func (m *Memory) SaveSchedule(_ context.Context, cameraID string, s domain.CameraSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cameras[cameraID]
	if !ok {
		return domain.NotFound("camera", cameraID)
	}
	s.Days = append([]domain.Weekday(nil), s.Days...)
	c.Schedule = s
	m.cameras[cameraID] = c
	return nil
}

func (m *Memory) CreateCamera(_ context.Context, c domain.Camera) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cameras[c.ID]; ok {
		return &domain.ValidationError{Entity: "camera", Reason: "id " + c.ID + " already exists"}
	}
	m.cameras[c.ID] = cloneCamera(c)
	return nil
}

func (m *Memory) GetCamera(_ context.Context, id string) (domain.Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cameras[id]
	if !ok {
		return domain.Camera{}, domain.NotFound("camera", id)
	}
	return cloneCamera(c), nil
}

func (m *Memory) ListCameras(_ context.Context) ([]domain.Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Camera, 0, len(m.cameras))
	for _, c := range m.cameras {
		out = append(out, cloneCamera(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetCameraActivity(_ context.Context, id string, active bool, status string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cameras[id]
	if !ok {
		return domain.NotFound("camera", id)
	}
	c.Active = active
	c.Status = status
	c.LastActivity = &at
	m.cameras[id] = c
	return nil
}

func (m *Memory) DeleteCamera(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cameras[id]; !ok {
		return domain.NotFound("camera", id)
	}
	delete(m.cameras, id)
	return nil
}

func (m *Memory) GetVehicle(_ context.Context, id string) (domain.VehicleObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return domain.VehicleObservation{}, domain.NotFound("vehicle", id)
	}
	return v, nil
}

func (m *Memory) SaveVehicle(_ context.Context, v domain.VehicleObservation) error {
	if v.ID == "" {
		return &domain.ValidationError{Entity: "vehicle", Fields: []string{"id"}}
	}
	m.mu.Lock()
	m.vehicles[v.ID] = v
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteVehicle(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[id]; !ok {
		return domain.NotFound("vehicle", id)
	}
	delete(m.vehicles, id)
	return nil
}

func (m *Memory) InsertAlert(_ context.Context, a domain.Alert) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cameras[a.CameraID]
	if !ok {
		return 0, domain.NotFound("camera", a.CameraID)
	}
	c.AlertCount++
	m.cameras[a.CameraID] = c
	m.alerts[a.CameraID] = append(m.alerts[a.CameraID], a)
	return c.AlertCount, nil
}

// ListAlertsByCamera returns newest first.
func (m *Memory) ListAlertsByCamera(_ context.Context, cameraID string, limit int) ([]domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.alerts[cameraID]
	out := make([]domain.Alert, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, src[i])
	}
	return out, nil
}

func (m *Memory) PutDedup(_ context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	m.dedup[key] = until
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.dedup[key]
	return until, ok, nil
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	if over := len(m.audit) - maxMemoryAudit; over > 0 {
		m.audit = append(m.audit[:0:0], m.audit[over:]...)
	}
	return nil
}

func (m *Memory) ListAudit(_ context.Context, target string, limit int) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newestAudit(m.audit, target, limit), nil
}

// newestAudit walks entries (oldest first) backwards.
func newestAudit(entries []AuditEntry, target string, limit int) []AuditEntry {
	var out []AuditEntry
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if target != "" && entries[i].Target != target {
			continue
		}
		out = append(out, entries[i])
	}
	return out
}

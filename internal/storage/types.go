package storage

import (
	"context"
	"errors"
	"time"

	"camguard/internal/domain"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "" or "memory": in-process maps, nothing survives a restart
//   - "file": in-process maps plus an audit log and dedup journal under Path
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL at DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ScheduleRecord pairs a schedule with its camera.
type ScheduleRecord struct {
	CameraID string
	Schedule domain.CameraSchedule
}

type ScheduleStore interface {
	FindSchedule(ctx context.Context, cameraID string) (domain.CameraSchedule, error)
	FindAllEnabledSchedules(ctx context.Context) ([]ScheduleRecord, error)
	SaveSchedule(ctx context.Context, cameraID string, s domain.CameraSchedule) error
}

type CameraStore interface {
	CreateCamera(ctx context.Context, c domain.Camera) error
	GetCamera(ctx context.Context, id string) (domain.Camera, error)
	ListCameras(ctx context.Context) ([]domain.Camera, error)
	SetCameraActivity(ctx context.Context, id string, active bool, status string, at time.Time) error
	DeleteCamera(ctx context.Context, id string) error
}

type VehicleStore interface {
	// GetVehicle returns a NotFoundError for unknown ids.
	GetVehicle(ctx context.Context, id string) (domain.VehicleObservation, error)
	SaveVehicle(ctx context.Context, v domain.VehicleObservation) error
	DeleteVehicle(ctx context.Context, id string) error
}

type AlertStore interface {
	// InsertAlert increments the camera's alert counter and stores the alert
	// atomically. It returns the new counter value. An unknown camera yields a
	// NotFoundError and nothing is written.
	InsertAlert(ctx context.Context, a domain.Alert) (alertCount int64, err error)
	ListAlertsByCamera(ctx context.Context, cameraID string, limit int) ([]domain.Alert, error)
}

// DedupStore keeps notification suppression windows across restarts.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// AuditEntry records one operator or scheduler action against a camera.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Actor    string    `json:"actor"`
	Action   string    `json:"action"`
	Target   string    `json:"target"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"tookMs"`
	MetaJSON string    `json:"meta,omitempty"`
}

type AuditStore interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// ListAudit returns the newest entries first. An empty target lists all.
	ListAudit(ctx context.Context, target string, limit int) ([]AuditEntry, error)
}

type Store interface {
	ScheduleStore
	CameraStore
	VehicleStore
	AlertStore
	DedupStore
	AuditStore
	Close() error
}

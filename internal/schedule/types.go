package schedule

import (
	"context"
	"time"

	"camguard/internal/storage"
	"camguard/internal/task/scheduler"
)

type Kind string

const (
	KindStart Kind = "start"
	KindStop  Kind = "stop"
)

const (
	startPrefix = "camera.start:"
	stopPrefix  = "camera.stop:"
	rearmName   = "camera.rearm"
)

func startName(cameraID string) string { return startPrefix + cameraID }
func stopName(cameraID string) string  { return stopPrefix + cameraID }

// Task is one armed trigger. It only lives in memory.
type Task struct {
	CameraID string    `json:"cameraId"`
	Kind     Kind      `json:"kind"`
	FireAt   time.Time `json:"fireAt"`
	Name     string    `json:"name"`
}

type Config struct {
	ActivationTimeout time.Duration
	RearmDaily        bool
	RearmAt           string // HH:MM in the scheduler timezone
}

// Triggers is the subset of the trigger scheduler the engine needs.
// *scheduler.Service implements it.
type Triggers interface {
	Now() time.Time
	Location() *time.Location
	AddOnceOpt(name string, at time.Time, timeout time.Duration, opt scheduler.TaskOptions, job func(ctx context.Context) error) (string, error)
	AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	OnceAt(name string) (time.Time, bool)
	Remove(name string) bool
}

// Store loads schedules and records activation results.
type Store interface {
	storage.ScheduleStore
	SetCameraActivity(ctx context.Context, id string, active bool, status string, at time.Time) error
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

const auditActor = "scheduler"

type armed struct {
	gen   uint64
	start *Task
	stop  *Task
}

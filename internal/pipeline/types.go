package pipeline

import (
	"context"
	"time"

	"camguard/internal/domain"
	"camguard/internal/notifier"
	"camguard/internal/storage"
)

const (
	TopicVehicleObserved     = "vehicle-observed"
	TopicVehicleUpdated      = "vehicle-updated"
	TopicAlertCreated        = "alert-created"
	TopicVehicleStateUpdated = "vehicle-state-updated"
	TopicAlertRecorded       = "alert.recorded"
)

// IngestTopics are the topics detectors may publish.
var IngestTopics = []string{TopicVehicleObserved, TopicVehicleUpdated, TopicAlertCreated}

const (
	DefaultDwellThreshold = 600 * time.Second
	DefaultAlertType      = "parking-violation"
	DefaultAlertSeverity  = "high"
)

type Config struct {
	DwellThreshold time.Duration
	AutoAlert      bool
	AlertType      string
	AlertSeverity  string
	NotifyTimeout  time.Duration

	Lanes      int
	LaneBuffer int
}

func (c Config) normalize() Config {
	if c.DwellThreshold <= 0 {
		c.DwellThreshold = DefaultDwellThreshold
	}
	if c.AlertType == "" {
		c.AlertType = DefaultAlertType
	}
	if c.AlertSeverity == "" {
		c.AlertSeverity = DefaultAlertSeverity
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 5 * time.Second
	}
	if c.Lanes <= 0 {
		c.Lanes = 8
	}
	if c.LaneBuffer <= 0 {
		c.LaneBuffer = 64
	}
	return c
}

// Store is the persistence the pipeline needs.
type Store interface {
	storage.VehicleStore
	storage.AlertStore
	GetCamera(ctx context.Context, id string) (domain.Camera, error)
}

// Notifier delivers alert messages. *notifier.Service implements it.
type Notifier interface {
	Notify(ctx context.Context, m notifier.Message) error
}

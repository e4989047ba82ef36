package domain

import (
	"strings"
	"time"
)

// AlertCandidate is the input to alert creation. Either VehicleID or Vehicle
// must be set.
type AlertCandidate struct {
	CameraID    string              `json:"cameraId"`
	Type        string              `json:"type"`
	Severity    string              `json:"severity"`
	Description string              `json:"description"`
	VehicleID   string              `json:"vehicleId,omitempty"`
	Vehicle     *VehicleObservation `json:"vehicle,omitempty"`
}

// VehicleRef is the trimmed vehicle id, taken from VehicleID or else from
// the snapshot. Blank means no reference.
func (c AlertCandidate) VehicleRef() string {
	if id := strings.TrimSpace(c.VehicleID); id != "" {
		return id
	}
	if c.Vehicle != nil {
		return strings.TrimSpace(c.Vehicle.ID)
	}
	return ""
}

func (c AlertCandidate) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Type) == "" {
		missing = append(missing, "type")
	}
	if strings.TrimSpace(c.Severity) == "" {
		missing = append(missing, "severity")
	}
	if strings.TrimSpace(c.Description) == "" {
		missing = append(missing, "description")
	}
	if c.VehicleRef() == "" {
		missing = append(missing, "vehicle")
	}
	if len(missing) > 0 {
		return &ValidationError{Entity: "alert", Fields: missing}
	}
	return nil
}

// Alert is immutable once stored.
type Alert struct {
	ID          string              `json:"id"`
	CameraID    string              `json:"cameraId"`
	Type        string              `json:"type"`
	Severity    string              `json:"severity"`
	Description string              `json:"description"`
	VehicleID   string              `json:"vehicleId,omitempty"`
	Vehicle     *VehicleObservation `json:"vehicle,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

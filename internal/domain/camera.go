package domain

import "time"

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type Camera struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Emails       []string       `json:"emails,omitempty"`
	Location     string         `json:"location,omitempty"`
	AlertCount   int64          `json:"alertCount"`
	Active       bool           `json:"active"`
	Status       string         `json:"status"`
	LastActivity *time.Time     `json:"lastActivity,omitempty"`
	Schedule     CameraSchedule `json:"schedule"`
}

// NewCamera returns a camera with the registration defaults: inactive,
// offline, no alerts and a disabled schedule.
func NewCamera(id, name string) Camera {
	return Camera{
		ID:       id,
		Name:     name,
		Status:   StatusOffline,
		Schedule: DefaultSchedule(),
	}
}

func (c Camera) Validate() error {
	var missing []string
	if c.ID == "" {
		missing = append(missing, "id")
	}
	if c.Name == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return &ValidationError{Entity: "camera", Fields: missing}
	}
	return nil
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

type BoundingBox struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// VehicleObservation is one tracked sighting. DwellSeconds never decreases
// and AlertRaised flips to true at most once.
type VehicleObservation struct {
	ID                      string       `json:"id"`
	CameraID                string       `json:"cameraId"`
	Type                    string       `json:"type"`
	TypeProbability         float64      `json:"typeProbability,omitempty"`
	Manufacturer            string       `json:"manufacturer,omitempty"`
	ManufacturerProbability float64      `json:"manufacturerProbability,omitempty"`
	Color                   string       `json:"color"`
	ColorProbability        float64      `json:"colorProbability,omitempty"`
	ImageURL                string       `json:"imageUrl"`
	Description             string       `json:"description"`
	Box                     *BoundingBox `json:"box,omitempty"`
	Latitude                *float64     `json:"latitude,omitempty"`
	Longitude               *float64     `json:"longitude,omitempty"`
	FirstSeenAt             time.Time    `json:"firstSeenAt"`
	LastUpdateAt            time.Time    `json:"lastUpdateAt"`
	DwellSeconds            int64        `json:"dwellSeconds"`
	DwellFormatted          string       `json:"dwellFormatted"`
	AlertRaised             bool         `json:"alertRaised"`
}

// ValidateSighting checks the fields a detector must send with a new sighting.
func (v VehicleObservation) ValidateSighting() error {
	var missing []string
	check := func(name, val string) {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, name)
		}
	}
	check("cameraId", v.CameraID)
	check("type", v.Type)
	check("color", v.Color)
	check("imageUrl", v.ImageURL)
	check("description", v.Description)
	if v.Latitude == nil {
		missing = append(missing, "latitude")
	}
	if v.Longitude == nil {
		missing = append(missing, "longitude")
	}
	if len(missing) > 0 {
		return &ValidationError{Entity: "vehicle", Fields: missing}
	}
	return nil
}

// FormatDwell renders seconds as "1d 2h 3m 4s", omitting zero parts.
func FormatDwell(seconds int64) string {
	if seconds <= 0 {
		return "0s"
	}
	d := seconds / 86400
	h := seconds % 86400 / 3600
	m := seconds % 3600 / 60
	s := seconds % 60

	parts := make([]string, 0, 4)
	if d > 0 {
		parts = append(parts, fmt.Sprintf("%dd", d))
	}
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}

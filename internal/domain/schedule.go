package domain

import (
	"encoding/json"
	"strings"
)

// CameraSchedule is the daily activation window of one camera. Times are kept
// as entered so a partially invalid schedule can be stored; it is simply inert
// when armed.
type CameraSchedule struct {
	Enabled   bool      `json:"enabled"`
	Days      []Weekday `json:"days"`
	StartTime string    `json:"startTime"`
	EndTime   string    `json:"endTime"`
}

func DefaultSchedule() CameraSchedule {
	return CameraSchedule{StartTime: "00:00", EndTime: "00:00"}
}

// Window is a parsed schedule ready for arming.
type Window struct {
	Days  []Weekday
	Start TimeOfDay
	End   TimeOfDay
}

// ParseWindow parses both times. The returned warning is non-nil for the
// first unparsable field.
func (s CameraSchedule) ParseWindow(cameraID string) (Window, *ScheduleParseWarning) {
	start, err := ParseTimeOfDay(s.StartTime)
	if err != nil {
		return Window{}, &ScheduleParseWarning{CameraID: cameraID, Field: "startTime", Value: s.StartTime, Err: err}
	}
	end, err := ParseTimeOfDay(s.EndTime)
	if err != nil {
		return Window{}, &ScheduleParseWarning{CameraID: cameraID, Field: "endTime", Value: s.EndTime, Err: err}
	}
	return Window{Days: s.Days, Start: start, End: end}, nil
}

// UnmarshalJSON accepts days in any case and abbreviation; unknown day names
// fail with a ValidationError.
func (s *CameraSchedule) UnmarshalJSON(b []byte) error {
	var raw struct {
		Enabled   bool     `json:"enabled"`
		Days      []string `json:"days"`
		StartTime string   `json:"startTime"`
		EndTime   string   `json:"endTime"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := CameraSchedule{Enabled: raw.Enabled, StartTime: strings.TrimSpace(raw.StartTime), EndTime: strings.TrimSpace(raw.EndTime)}
	var bad []string
	for _, d := range raw.Days {
		wd, err := ParseWeekday(d)
		if err != nil {
			bad = append(bad, d)
			continue
		}
		if !ContainsWeekday(out.Days, wd) {
			out.Days = append(out.Days, wd)
		}
	}
	if len(bad) > 0 {
		return &ValidationError{Entity: "schedule", Reason: "unknown days: " + strings.Join(bad, ", ")}
	}
	*s = out
	return nil
}

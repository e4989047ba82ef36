package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports missing or blank required fields. Callers map it
// to a bad request.
type ValidationError struct {
	Entity string
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	msg := e.Entity + ": "
	if len(e.Fields) > 0 {
		msg += "required fields are missing: " + strings.Join(e.Fields, ", ")
	}
	if e.Reason != "" {
		if len(e.Fields) > 0 {
			msg += "; "
		}
		msg += e.Reason
	}
	return msg
}

// NotFoundError reports an unknown camera, vehicle, alert or schedule id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func NotFound(entity, id string) error { return &NotFoundError{Entity: entity, ID: id} }

// ScheduleParseWarning describes an unparsable time of day. It is logged and
// counted, never returned to the caller of scheduleCamera.
type ScheduleParseWarning struct {
	CameraID string
	Field    string
	Value    string
	Err      error
}

func (w *ScheduleParseWarning) Error() string {
	return fmt.Sprintf("camera %s: %s %q: %v", w.CameraID, w.Field, w.Value, w.Err)
}

func (w *ScheduleParseWarning) Unwrap() error { return w.Err }

// DownstreamError wraps a failed remote call (activation, notification).
type DownstreamError struct {
	Component string
	Op        string
	Target    string
	Status    int
	Err       error
}

func (e *DownstreamError) Error() string {
	var b strings.Builder
	b.WriteString(e.Component)
	b.WriteString(" ")
	b.WriteString(e.Op)
	if e.Target != "" {
		b.WriteString(" ")
		b.WriteString(e.Target)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DownstreamError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

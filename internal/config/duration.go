package config

import (
	"fmt"
	"strings"
	"time"

	"camguard/internal/domain"
)

// ParseDurationField parses a Go duration string. Empty means 0; negative
// values are rejected. path names the field in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// ParseClockField validates an "HH:MM" wall-clock field and returns it
// normalized. Empty returns def.
func ParseClockField(path, raw, def string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	t, err := domain.ParseTimeOfDay(s)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	if t.Second != 0 {
		return "", fmt.Errorf("%s: seconds are not supported in %q", path, raw)
	}
	return t.String(), nil
}

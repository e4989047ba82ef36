package domain

import (
	"fmt"
	"strings"
	"time"
)

// Weekday is a closed enumeration of the seven days. The zero value is
// invalid so an unset day never matches.
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{
	Monday:    "MONDAY",
	Tuesday:   "TUESDAY",
	Wednesday: "WEDNESDAY",
	Thursday:  "THURSDAY",
	Friday:    "FRIDAY",
	Saturday:  "SATURDAY",
	Sunday:    "SUNDAY",
}

// AllWeekdays lists the days Monday first.
func AllWeekdays() []Weekday {
	return []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}
}

func (d Weekday) Valid() bool { return d >= Monday && d <= Sunday }

func (d Weekday) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

// ParseWeekday accepts full names and three-letter abbreviations in any case.
func ParseWeekday(s string) (Weekday, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	if u == "" {
		return 0, fmt.Errorf("empty weekday")
	}
	for _, d := range AllWeekdays() {
		name := weekdayNames[d]
		if u == name || (len(u) == 3 && strings.HasPrefix(name, u)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// WeekdayOf returns the weekday of t in t's location.
func WeekdayOf(t time.Time) Weekday {
	if t.Weekday() == time.Sunday {
		return Sunday
	}
	return Weekday(t.Weekday())
}

func (d Weekday) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid weekday %d", int(d))
	}
	return []byte(weekdayNames[d]), nil
}

func (d *Weekday) UnmarshalText(b []byte) error {
	v, err := ParseWeekday(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ContainsWeekday reports whether days includes d.
func ContainsWeekday(days []Weekday, d Weekday) bool {
	for _, x := range days {
		if x == d {
			return true
		}
	}
	return false
}

// FormatWeekdays joins days into the canonical comma-separated form used by storage.
func FormatWeekdays(days []Weekday) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		if d.Valid() {
			parts = append(parts, d.String())
		}
	}
	return strings.Join(parts, ",")
}

// ParseWeekdayList is the inverse of FormatWeekdays. Unknown entries are
// returned in bad so callers can log them.
func ParseWeekdayList(s string) (days []Weekday, bad []string) {
	for _, p := range strings.Split(s, ",") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		d, err := ParseWeekday(p)
		if err != nil {
			bad = append(bad, p)
			continue
		}
		if !ContainsWeekday(days, d) {
			days = append(days, d)
		}
	}
	return days, bad
}

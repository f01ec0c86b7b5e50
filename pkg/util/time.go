package util

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DayKeyLayout is the canonical calendar day key, e.g. 2024-01-15
	DayKeyLayout = "2006-01-02"
	// TimeOfDayLayout sorts lexically in chronological order within a day
	TimeOfDayLayout = "15:04"
)

// instantLayouts are tried in order. Layouts without a zone are read as UTC.
var instantLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseInstant parses a timestamp string into a UTC instant
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unparsable timestamp %q", s)
}

// LoadLocation resolves a reporting time zone name. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	switch name {
	case "", "UTC", "utc":
		return time.UTC, nil
	case "Local":
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// DayKey returns the calendar date of t in loc
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(orUTC(loc)).Format(DayKeyLayout)
}

// TimeOfDay returns the HH:MM wall clock time of t in loc
func TimeOfDay(t time.Time, loc *time.Location) string {
	return t.In(orUTC(loc)).Format(TimeOfDayLayout)
}

// ParseDayKey returns midnight of the given day in loc
func ParseDayKey(key string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DayKeyLayout, strings.TrimSpace(key), orUTC(loc))
}

// ParseRangeBound accepts either a day key or a full instant. A day key used as
// an upper bound covers the whole day.
func ParseRangeBound(s string, loc *time.Location, upper bool) (time.Time, error) {
	if day, err := ParseDayKey(s, loc); err == nil {
		if upper {
			return day.AddDate(0, 0, 1).Add(-time.Nanosecond).UTC(), nil
		}
		return day.UTC(), nil
	}
	return ParseInstant(s)
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

package conference

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrBadDate = errors.New("unrecognized date")

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
}

// ParseDate parses a date string as published in the conference YAML.
// Quote characters and surrounding whitespace are ignored. Strings without an
// explicit offset are interpreted in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	clean := strings.TrimSpace(strings.NewReplacer(`"`, "", `'`, "").Replace(s))
	if clean == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrBadDate)
	}
	for _, layout := range dateLayouts {
		if layout == time.RFC3339 {
			if t, err := time.Parse(layout, clean); err == nil {
				return t.In(loc), nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, clean, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, s)
}

// Midnight returns 00:00 of t's calendar day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DaysBetween counts calendar days from now to target. Both instants are
// truncated to midnight in loc and the difference is rounded to the nearest
// whole day, so a 23h or 25h DST day still counts as one.
func DaysBetween(now, target time.Time, loc *time.Location) int {
	diff := Midnight(target, loc).Sub(Midnight(now, loc))
	return int(math.Round(diff.Hours() / 24))
}

// DaysUntil parses target and returns DaysBetween(now, target).
// A deadline later today yields 0 ("due today").
func DaysUntil(target string, now time.Time, loc *time.Location) (int, error) {
	t, err := ParseDate(target, loc)
	if err != nil {
		return 0, err
	}
	return DaysBetween(now, t, loc), nil
}

// Status is the lifecycle position of an instance relative to today.
type Status string

const (
	StatusOpen      Status = "open"      // submissions open
	StatusClosed    Status = "closed"    // deadline passed, conference ahead
	StatusOngoing   Status = "ongoing"   // conference starts today
	StatusEnded     Status = "ended"     // conference date passed
	StatusUndefined Status = "undefined" // dates unparseable
)

// InstanceStatus classifies in relative to now on calendar-day granularity.
func InstanceStatus(in Instance, now time.Time, loc *time.Location) Status {
	deadline, err1 := ParseDate(in.Deadline, loc)
	start, err2 := ParseDate(in.Date, loc)
	if err2 != nil {
		return StatusUndefined
	}
	today := Midnight(now, loc)
	startDay := Midnight(start, loc)
	switch {
	case today.After(startDay):
		return StatusEnded
	case today.Equal(startDay):
		return StatusOngoing
	case err1 == nil && today.After(Midnight(deadline, loc)):
		return StatusClosed
	case err1 != nil:
		return StatusUndefined
	default:
		return StatusOpen
	}
}

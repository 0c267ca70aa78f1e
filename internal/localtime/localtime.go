// Package localtime converts between tracker timestamps, UTC instants and display zones.
// Nothing here reads the process-wide local zone; every conversion takes an explicit location.
package localtime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TrackerLayout is the wall-clock format devices report dt_tracker in.
const TrackerLayout = "2006-01-02 15:04:05"

// DisplayLayout is used in human-readable attendance messages.
const DisplayLayout = "02 Jan 2006 03:04 PM"

var offsetRe = regexp.MustCompile(`^(?:UTC|GMT)?([+-])(\d{1,2}):?(\d{2})$`)

// ParseTracker parses a device timestamp, interpreting it as UTC.
func ParseTracker(s string) (time.Time, error) {
	return time.ParseInLocation(TrackerLayout, strings.TrimSpace(s), time.UTC)
}

// LoadZone accepts an IANA name ("Asia/Kolkata") or a fixed offset ("+05:30", "UTC+0530").
// An empty name is UTC.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	if m := offsetRe.FindStringSubmatch(name); m != nil {
		h, _ := strconv.Atoi(m[2])
		mm, _ := strconv.Atoi(m[3])
		if h > 14 || mm > 59 {
			return nil, fmt.Errorf("offset out of range: %s", name)
		}
		secs := h*3600 + mm*60
		if m[1] == "-" {
			secs = -secs
		}
		return time.FixedZone(fmt.Sprintf("UTC%s%02d:%02d", m[1], h, mm), secs), nil
	}
	return time.LoadLocation(name)
}

// Format renders t in loc using DisplayLayout. A nil loc means UTC.
func Format(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayLayout)
}

// SinceMidnight returns the wall-clock offset of t from midnight in loc.
func SinceMidnight(t time.Time, loc *time.Location) time.Duration {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Duration(lt.Hour())*time.Hour +
		time.Duration(lt.Minute())*time.Minute +
		time.Duration(lt.Second())*time.Second +
		time.Duration(lt.Nanosecond())
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
func ParseTimeOfDay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
}

// DayOf truncates t to the start of its UTC calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DayIn returns the calendar date of t in loc, expressed as UTC midnight of that date.
func DayIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC)
}

package domain

import (
	"fmt"
	"time"

	"github.com/qs-lzh/open-event/internal/service"
)

type WindowState string

const (
	WindowPast   WindowState = "past"
	WindowNow    WindowState = "now"
	WindowFuture WindowState = "future"
)

func (s WindowState) Valid() bool {
	return s == WindowPast || s == WindowNow || s == WindowFuture
}

// naiveLayouts are the accepted forms of a wall-clock timestamp without zone.
var naiveLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func ParseNaiveTime(s string) (time.Time, error) {
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse %q", service.ErrInvalidDateRange, s)
}

// LoadTimezone resolves an IANA zone name; empty means UTC.
func LoadTimezone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", service.ErrInvalidTimezone, name)
	}
	return loc, nil
}

// Localize reads the naive wall clock of t, carried as UTC, in loc. Drivers
// may hand the value back in another location; its UTC fields are what was
// stored.
func Localize(t time.Time, loc *time.Location) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// ClassifyWindow reports whether now is before, inside or after the window
// [start, end]. start and end are wall-clock times in the zone tzName.
func ClassifyWindow(start, end time.Time, tzName string, now time.Time) (WindowState, error) {
	loc, err := LoadTimezone(tzName)
	if err != nil {
		return "", err
	}
	if start.IsZero() || end.IsZero() {
		return "", fmt.Errorf("%w: missing bound", service.ErrInvalidDateRange)
	}
	start, end = Localize(start, loc), Localize(end, loc)
	if end.Before(start) {
		return "", fmt.Errorf("%w: end %s is before start %s", service.ErrInvalidDateRange,
			end.Format(time.DateTime), start.Format(time.DateTime))
	}

	switch {
	case end.Before(now):
		return WindowPast, nil
	case start.After(now):
		return WindowFuture, nil
	default:
		return WindowNow, nil
	}
}

package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDate is returned when a caller supplied date string cannot be parsed.
var ErrInvalidDate = errors.New("invalid date")

const (
	// RangeDateLayout is the layout used for forecast window dates (e.g. 20240301).
	RangeDateLayout = "20060102"
	// ProductionStartLayout is the layout used for production start overrides (e.g. 15012022).
	ProductionStartLayout = "02012006"
	// ISODateLayout is accepted everywhere as an alternative.
	ISODateLayout = "2006-01-02"
)

// ParseRangeDate parses a forecast window date in YYYYMMDD or YYYY-MM-DD form.
func ParseRangeDate(s string, loc *time.Location) (time.Time, error) {
	return parseDate(s, loc, RangeDateLayout)
}

// ParseProductionStart parses a production start override in DDMMYYYY or YYYY-MM-DD form.
func ParseProductionStart(s string, loc *time.Location) (time.Time, error) {
	return parseDate(s, loc, ProductionStartLayout)
}

func parseDate(s string, loc *time.Location, compact string) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	layout := compact
	if strings.Contains(s, "-") {
		layout = ISODateLayout
	}
	t, err := time.ParseInLocation(layout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %w", ErrInvalidDate, s, err)
	}
	return t, nil
}

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// StartOfMonth returns the first day of t's month at midnight.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// DaysInMonth returns the number of days in t's month.
func DaysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// AddMonths moves t by n calendar months, clamping the day to the length of
// the target month (Jan 31 + 1 month is Feb 28/29, not Mar 2/3).
func AddMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	day := t.Day()
	if dim := DaysInMonth(first); day > dim {
		day = dim
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// DateRange returns every midnight from start to end inclusive.
func DateRange(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return nil
	}
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

package schedule

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidDate = errors.New("invalid date (use YYYY-MM-DD)")

const dateLayout = "2006-01-02"

// Date is a civil calendar date without a location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a strict YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool { return d.Year == 0 && d.Month == 0 && d.Day == 0 }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// midnightUTC anchors the date in UTC so day arithmetic never crosses a DST edge.
func (d Date) midnightUTC() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) Before(o Date) bool { return d.midnightUTC().Before(o.midnightUTC()) }

func (d Date) After(o Date) bool { return d.midnightUTC().After(o.midnightUTC()) }

// DaysUntil returns the signed number of whole days from d to o.
func (d Date) DaysUntil(o Date) int {
	return int(o.midnightUTC().Sub(d.midnightUTC()) / (24 * time.Hour))
}

// Format renders the date with a time layout, e.g. "January 02, 2006".
func (d Date) Format(layout string) string { return d.midnightUTC().Format(layout) }

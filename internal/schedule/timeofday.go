package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var ErrInvalidTime = errors.New("invalid time (use HH:MM, 24-hour)")

var reHHMM = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// TimeOfDay is a naive local wall-clock time at minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24-hour). "9:05" is accepted, "24:00" is not.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	m := reHHMM.FindStringSubmatch(s)
	if len(m) != 3 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if hh > 23 || mm > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return TimeOfDay{Hour: hh, Minute: mm}, nil
}

// ClockOf returns the wall-clock hour:minute of t in t's own location.
func ClockOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

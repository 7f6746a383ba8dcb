// Package schedule holds the schedule data model and the due-time rule.
//
// Schedules are evaluated against a group's local wall clock: an absolute
// instant is converted with time.In, so a 09:00 schedule keeps firing at local
// 09:00 on both sides of a DST transition.
package schedule

import "time"

type Kind string

const (
	KindDaily     Kind = "daily"
	KindCountdown Kind = "countdown"
)

// Payload is the kind-specific part of a schedule. The set is closed:
// only DailyMessage and Countdown implement it.
type Payload interface {
	Kind() Kind
	sealed()
}

// DailyMessage is a template rendered with the local date/time placeholders.
// With Until set it repeats only through that local date.
type DailyMessage struct {
	Template string
	Until    *Date
}

func (DailyMessage) Kind() Kind { return KindDaily }
func (DailyMessage) sealed()    {}

// Countdown announces the days remaining until Target.
type Countdown struct {
	Target Date
	Title  string
}

func (Countdown) Kind() Kind { return KindCountdown }
func (Countdown) sealed()    {}

// Schedule is one recurring obligation of a group.
type Schedule struct {
	ID      int64
	GroupID int64
	At      TimeOfDay
	Payload Payload

	// LastFired is the local date of the last successful delivery (nil until first fire).
	LastFired *Date
}

func (s Schedule) Kind() Kind {
	if s.Payload == nil {
		return ""
	}
	return s.Payload.Kind()
}

// Local is a schedule's view of "now": the instant in the group's location.
type Local struct {
	Time time.Time
	Date Date
	At   TimeOfDay
}

// LocalNow converts an absolute instant to the civil date and clock in loc.
func LocalNow(now time.Time, loc *time.Location) Local {
	if loc == nil {
		loc = time.UTC
	}
	lt := now.In(loc)
	return Local{Time: lt, Date: DateOf(lt), At: ClockOf(lt)}
}

// Due reports whether s should fire at the local moment l: the wall-clock
// minute matches, the schedule has not expired and nothing was delivered yet
// for l's date.
//
// There is no catch-up: a minute that is never ticked is skipped for the day.
func (s Schedule) Due(l Local) bool {
	if l.At != s.At || s.Expired(l.Date) {
		return false
	}
	return !s.FiredOn(l.Date)
}

// FiredOn reports whether the last-fired marker already covers d.
// The marker is monotonic, so any marker at or after d counts.
func (s Schedule) FiredOn(d Date) bool {
	return s.LastFired != nil && !s.LastFired.Before(d)
}

// Expired reports whether s has an end date that lies before d.
// Countdowns never expire; they announce "today" and then go negative.
func (s Schedule) Expired(d Date) bool {
	p, ok := s.Payload.(DailyMessage)
	return ok && p.Until != nil && p.Until.Before(d)
}

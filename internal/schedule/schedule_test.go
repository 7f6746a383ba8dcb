package schedule

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want TimeOfDay
		ok   bool
	}{
		{raw: "09:00", want: TimeOfDay{9, 0}, ok: true},
		{raw: "9:05", want: TimeOfDay{9, 5}, ok: true},
		{raw: "23:59", want: TimeOfDay{23, 59}, ok: true},
		{raw: "00:00", want: TimeOfDay{0, 0}, ok: true},
		{raw: "24:00"},
		{raw: "12:60"},
		{raw: "12:5"},
		{raw: "noon"},
		{raw: ""},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.raw)
		if tt.ok {
			if err != nil {
				t.Fatalf("ParseTimeOfDay(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseTimeOfDay(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidTime) {
			t.Fatalf("ParseTimeOfDay(%q) err = %v, want ErrInvalidTime", tt.raw, err)
		}
	}
}

func TestParseDateAndArithmetic(t *testing.T) {
	t.Parallel()
	d, err := ParseDate("2024-12-31")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	if d.String() != "2024-12-31" {
		t.Fatalf("String() = %s", d)
	}
	if got := d.Format("January 02, 2006"); got != "December 31, 2024" {
		t.Fatalf("Format = %q", got)
	}

	prev := Date{2024, time.December, 30}
	next := Date{2025, time.January, 1}
	if prev.DaysUntil(d) != 1 || next.DaysUntil(d) != -1 || d.DaysUntil(d) != 0 {
		t.Fatalf("DaysUntil: %d %d %d", prev.DaysUntil(d), next.DaysUntil(d), d.DaysUntil(d))
	}
	if !prev.Before(d) || !next.After(d) || d.Before(d) {
		t.Fatal("Before/After ordering broken")
	}

	if _, err := ParseDate("2024-02-30"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate for 2024-02-30, got %v", err)
	}
}

func TestDaysUntilAcrossDSTIsWhole(t *testing.T) {
	t.Parallel()
	// 2024-03-10 is 23 hours long in New York; civil arithmetic must not care.
	a := Date{2024, time.March, 9}
	b := Date{2024, time.March, 11}
	if got := a.DaysUntil(b); got != 2 {
		t.Fatalf("DaysUntil = %d, want 2", got)
	}
}

func TestDueMatchesMinuteAndMarker(t *testing.T) {
	t.Parallel()
	day := Date{2024, time.August, 14}
	prevDay := Date{2024, time.August, 13}
	s := Schedule{ID: 1, At: TimeOfDay{9, 0}, Payload: DailyMessage{Template: "x"}}

	at := func(h, m int) Local {
		return LocalNow(time.Date(2024, 8, 14, h, m, 30, 0, time.UTC), time.UTC)
	}

	if s.Due(at(8, 59)) || s.Due(at(9, 1)) {
		t.Fatal("schedule must only be due on the exact minute")
	}
	if !s.Due(at(9, 0)) {
		t.Fatal("schedule should be due at 09:00 when never fired")
	}

	s.LastFired = &prevDay
	if !s.Due(at(9, 0)) {
		t.Fatal("schedule fired yesterday should be due today")
	}
	s.LastFired = &day
	if s.Due(at(9, 0)) {
		t.Fatal("schedule fired today must not be due again")
	}

	// A timezone change can put the group's local date behind the marker.
	nextDay := Date{2024, time.August, 15}
	s.LastFired = &nextDay
	if s.Due(at(9, 0)) {
		t.Fatal("date already covered by a later marker must not fire again")
	}
}

func TestLocalNowHonoursDST(t *testing.T) {
	t.Parallel()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	s := Schedule{At: TimeOfDay{9, 0}, Payload: DailyMessage{}}

	// Before the 2024-03-10 transition New York is UTC-5, after it UTC-4.
	before := LocalNow(time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC), ny)
	after := LocalNow(time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC), ny)
	shifted := LocalNow(time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC), ny)

	if !s.Due(before) {
		t.Fatalf("expected due at 14:00Z on Mar 9, local=%v", before.Time)
	}
	if !s.Due(after) {
		t.Fatalf("expected due at 13:00Z on Mar 10, local=%v", after.Time)
	}
	if s.Due(shifted) {
		t.Fatalf("14:00Z on Mar 10 is 10:00 local and must not fire, local=%v", shifted.Time)
	}
	if after.Date != (Date{2024, time.March, 10}) {
		t.Fatalf("local date = %v", after.Date)
	}
}

func TestLocalDateDiffersFromUTC(t *testing.T) {
	t.Parallel()
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	l := LocalNow(time.Date(2024, 8, 14, 23, 30, 0, 0, time.UTC), tokyo)
	if l.Date != (Date{2024, time.August, 15}) || l.At != (TimeOfDay{8, 30}) {
		t.Fatalf("unexpected local view: %v %v", l.Date, l.At)
	}
}

func TestKind(t *testing.T) {
	t.Parallel()
	if (Schedule{Payload: DailyMessage{}}).Kind() != KindDaily {
		t.Fatal("daily kind")
	}
	if (Schedule{Payload: Countdown{}}).Kind() != KindCountdown {
		t.Fatal("countdown kind")
	}
	if (Schedule{}).Kind() != "" {
		t.Fatal("nil payload should have empty kind")
	}
}

func TestDailyMessageUntil(t *testing.T) {
	t.Parallel()
	until := Date{2024, time.August, 14}
	s := Schedule{ID: 1, At: TimeOfDay{9, 0}, Payload: DailyMessage{Template: "x", Until: &until}}

	tests := []struct {
		day     int
		expired bool
	}{
		{13, false},
		{14, false},
		{15, true},
	}
	for _, tt := range tests {
		l := LocalNow(time.Date(2024, 8, tt.day, 9, 0, 0, 0, time.UTC), time.UTC)
		if got := s.Expired(l.Date); got != tt.expired {
			t.Fatalf("Expired(%s) = %v, want %v", l.Date, got, tt.expired)
		}
		if got := s.Due(l); got == tt.expired {
			t.Fatalf("Due(%s) = %v, want %v", l.Date, got, !tt.expired)
		}
	}

	open := Schedule{At: TimeOfDay{9, 0}, Payload: DailyMessage{Template: "x"}}
	if open.Expired(Date{2999, time.January, 1}) {
		t.Fatal("daily message without end date must never expire")
	}
	cd := Schedule{At: TimeOfDay{9, 0}, Payload: Countdown{Target: until}}
	if cd.Expired(Date{2024, time.September, 1}) {
		t.Fatal("countdown must not expire")
	}
}

// Package render turns a due schedule into the text sent to its group.
//
// Rendering is pure: the same schedule and local instant always produce the
// same Message. Nothing here fails; malformed input degrades to fallback text.
package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"schedbot/internal/schedule"
	"schedbot/pkg/tgui"
)

// Message is a rendered outgoing text. HTML reports whether Text must be sent
// with ParseMode=HTML.
type Message struct {
	Text string
	HTML bool
}

// Placeholders lists the tokens recognised in daily templates.
var Placeholders = []string{"{date}", "{time}", "{day}", "{month}", "{year}"}

// Template substitutes the recognised placeholders with values taken from t
// (already converted to the group's location). Unknown {tokens} are left as-is.
func Template(tmpl string, t time.Time) string {
	r := strings.NewReplacer(
		"{date}", t.Format("2006-01-02"),
		"{time}", t.Format("15:04"),
		"{day}", t.Weekday().String(),
		"{month}", t.Month().String(),
		"{year}", strconv.Itoa(t.Year()),
	)
	return r.Replace(tmpl)
}

// Schedule renders s for the local moment l.
func Schedule(s schedule.Schedule, l schedule.Local) Message {
	switch p := s.Payload.(type) {
	case schedule.DailyMessage:
		return Message{Text: Template(p.Template, l.Time)}
	case schedule.Countdown:
		return Message{Text: Countdown(p, l.Date), HTML: true}
	default:
		return Message{Text: fmt.Sprintf("⏰ Scheduled message #%d", s.ID)}
	}
}

// Countdown renders the announcement for c as seen on local date today.
// The sign of the whole-day difference picks one of three phrasings.
func Countdown(c schedule.Countdown, today schedule.Date) string {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		title = "Event"
	}
	if c.Target.IsZero() {
		return tgui.Esc("⏰ Countdown: " + title).String()
	}

	target := c.Target.Format("January 02, 2006")
	days := today.DaysUntil(c.Target)
	card := tgui.NewCard()
	switch {
	case days > 0:
		card.Title("🗓️", title).Blank().
			RawLine(tgui.Raw("⏰ ") + tgui.B(tgui.Plural(days, "day", "days")+" remaining!")).Blank().
			KV("", "Target Date", target)
	case days == 0:
		card.Title("🎉", title).Blank().
			RawLine(tgui.Raw("🚀 ") + tgui.B("TODAY IS THE DAY!")).Blank().
			Line("The wait is over! 🎊")
	default:
		card.Title("📅", title).Blank().
			Line("✅ Event completed " + tgui.Plural(-days, "day", "days") + " ago").Blank().
			KV("", "Date", target)
	}
	return card.String()
}

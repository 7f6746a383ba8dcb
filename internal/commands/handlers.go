package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	"schedbot/internal/transport/telegram/router"
	"schedbot/internal/tz"
	logx "schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

const (
	statusPreviewRunes = 50
	auditLimit         = 10
	longDate           = "January 02, 2006"
)

func (h *Handlers) start(ctx context.Context, req *router.Request) error {
	msg := req.Msg
	if !msg.IsGroup {
		return req.Reply(ctx, privateStartText, false)
	}
	if err := h.register(ctx, msg); err != nil {
		_ = req.Reply(ctx, "❌ Failed to register this group. Please try again.", false)
		return err
	}

	admin, err := h.IsAdmin(ctx, msg.ChatID, msg.FromID, msg.FromUsername)
	if err != nil {
		req.Logger.Warn("admin check failed on start", logx.Err(err))
		return req.Reply(ctx, "🤖 Scheduler Bot activated! Use /help for available commands.", false)
	}
	if !admin {
		card := tgui.NewCard().
			Title("🤖", "Scheduler Bot Added!").
			Blank().
			Line("Hello! I'm ready to send scheduled messages, but only group admins can configure me.").
			Blank().
			Line("Use /help to see available commands.")
		return req.Reply(ctx, card.String(), true)
	}

	name := msg.FromFirstName
	if name == "" {
		name = "there"
	}
	card := tgui.NewCard().
		Title("🤖", "Scheduler Bot Activated!").
		Blank().
		Line(fmt.Sprintf("Hello %s! I'm now ready to send scheduled messages in this group.", name)).
		Blank().
		RawLine(tgui.B("Available Commands:")).
		Bullet(tgui.Esc("/setschedule - Set daily messages")).
		Bullet(tgui.Esc("/setrepeating - Set daily messages with an end date")).
		Bullet(tgui.Esc("/setcountdown - Set countdown messages")).
		Bullet(tgui.Esc("/status - View current schedules")).
		Bullet(tgui.Esc("/help - Show detailed help")).
		Blank().
		Note("Note: Only group admins can configure schedules.")
	return req.Reply(ctx, card.String(), true)
}

func (h *Handlers) help(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, helpText, true)
}

func (h *Handlers) setSchedule(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 2 {
		return req.Reply(ctx, usageSetSchedule, true)
	}
	at, err := schedule.ParseTimeOfDay(req.Args[0])
	if err != nil {
		return req.Reply(ctx, errTimeFormat, false)
	}
	text := req.Rest(1)

	id, err := h.addSchedule(ctx, req, schedule.Schedule{
		GroupID: req.Chat.ChatID,
		At:      at,
		Payload: schedule.DailyMessage{Template: text},
	})
	if err != nil {
		_ = req.Reply(ctx, "❌ Failed to schedule message. Please try again.", false)
		return err
	}

	zone, _ := h.groupTimezone(ctx, req.Chat.ChatID)
	card := tgui.NewCard().
		Title("✅", "Daily message scheduled!").
		Blank().
		KV("🆔", "ID", strconv.FormatInt(id, 10)).
		KV("⏰", "Time", fmt.Sprintf("%s (%s)", at, zone)).
		KV("💬", "Message", text).
		Blank().
		Note("This message will be sent daily at the specified time.")
	return req.Reply(ctx, card.String(), true)
}

func (h *Handlers) setRepeating(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 3 {
		return req.Reply(ctx, usageSetRepeating, true)
	}
	at, terr := schedule.ParseTimeOfDay(req.Args[0])
	until, derr := schedule.ParseDate(req.Args[1])
	if terr != nil || derr != nil {
		return req.Reply(ctx, errRepeatingInput, false)
	}
	zone, loc := h.groupTimezone(ctx, req.Chat.ChatID)
	if until.Before(schedule.DateOf(h.now().In(loc))) {
		return req.Reply(ctx, errEndDatePassed, false)
	}
	text := req.Rest(2)

	id, err := h.addSchedule(ctx, req, schedule.Schedule{
		GroupID: req.Chat.ChatID,
		At:      at,
		Payload: schedule.DailyMessage{Template: text, Until: &until},
	})
	if err != nil {
		_ = req.Reply(ctx, "❌ Failed to schedule message. Please try again.", false)
		return err
	}

	card := tgui.NewCard().
		Title("✅", "Repeating message scheduled!").
		Blank().
		KV("🆔", "ID", strconv.FormatInt(id, 10)).
		KV("⏰", "Time", fmt.Sprintf("%s (%s)", at, zone)).
		KV("🏁", "Until", until.Format(longDate)).
		KV("💬", "Message", text).
		Blank().
		Note("This message will be sent daily until the end date and then removed.")
	return req.Reply(ctx, card.String(), true)
}

func (h *Handlers) setCountdown(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 3 {
		return req.Reply(ctx, usageSetCountdown, true)
	}
	at, terr := schedule.ParseTimeOfDay(req.Args[0])
	target, derr := schedule.ParseDate(req.Args[1])
	if terr != nil || derr != nil {
		return req.Reply(ctx, errCountdownInput, false)
	}
	title := req.Rest(2)

	id, err := h.addSchedule(ctx, req, schedule.Schedule{
		GroupID: req.Chat.ChatID,
		At:      at,
		Payload: schedule.Countdown{Target: target, Title: title},
	})
	if err != nil {
		_ = req.Reply(ctx, "❌ Failed to schedule countdown. Please try again.", false)
		return err
	}

	zone, loc := h.groupTimezone(ctx, req.Chat.ChatID)
	today := schedule.DateOf(h.now().In(loc))
	card := tgui.NewCard().
		Title("✅", "Countdown scheduled!").
		Blank().
		KV("🆔", "ID", strconv.FormatInt(id, 10)).
		KV("🎯", "Event", title).
		KV("📅", "Target Date", target.Format(longDate)).
		KV("⏰", "Daily Update", fmt.Sprintf("%s (%s)", at, zone)).
		KV("⏳", "Days Remaining", strconv.Itoa(today.DaysUntil(target))).
		Blank().
		Note("Daily countdown updates will be sent at the specified time.")
	return req.Reply(ctx, card.String(), true)
}

// addSchedule registers the group, stores s and writes the audit row.
func (h *Handlers) addSchedule(ctx context.Context, req *router.Request, s schedule.Schedule) (int64, error) {
	err := h.register(ctx, req.Msg)
	var id int64
	if err == nil {
		id, err = h.store.AddSchedule(ctx, s)
	}
	target := ""
	if err == nil {
		target = strconv.FormatInt(id, 10)
		req.Logger.Info("schedule added",
			logx.Int64("schedule_id", id),
			logx.String("kind", string(s.Kind())),
			logx.Stringer("at", s.At),
		)
	}
	h.audit(ctx, req, target, err)
	return id, err
}

func (h *Handlers) status(ctx context.Context, req *router.Request) error {
	list, err := h.store.ListGroupSchedules(ctx, req.Chat.ChatID)
	if err != nil {
		_ = req.Reply(ctx, "❌ Failed to load schedules. Please try again.", false)
		return err
	}
	if len(list) == 0 {
		return req.Reply(ctx, "📭 No scheduled messages found for this group.", false)
	}

	zone, loc := h.groupTimezone(ctx, req.Chat.ChatID)
	today := schedule.DateOf(h.now().In(loc))
	card := tgui.NewCard().Title("📋", fmt.Sprintf("Scheduled Messages (%s)", zone)).Blank()
	for i, s := range list {
		n := tgui.BH(tgui.Esc(strconv.Itoa(i+1) + "."))
		switch p := s.Payload.(type) {
		case schedule.DailyMessage:
			card.RawLine(tgui.H(fmt.Sprintf("%s Daily Message (ID: %d)", n, s.ID)))
			card.Line("   ⏰ " + s.At.String())
			card.Line("   💬 " + tgui.TruncRunes(p.Template, statusPreviewRunes))
			if p.Until != nil {
				card.Line("   🏁 Until " + p.Until.Format(longDate))
			}
		case schedule.Countdown:
			card.RawLine(tgui.H(fmt.Sprintf("%s Countdown (ID: %d)", n, s.ID)))
			card.Line("   🎯 " + p.Title)
			card.Line("   ⏰ " + s.At.String())
			if !p.Target.IsZero() {
				card.Line("   📅 " + p.Target.Format(longDate))
				card.Line("   ⏳ " + tgui.Plural(today.DaysUntil(p.Target), "day", "days") + " remaining")
			}
		default:
			card.RawLine(tgui.H(fmt.Sprintf("%s Schedule (ID: %d)", n, s.ID)))
		}
		if s.LastFired != nil {
			card.Line("   📨 Last sent: " + s.LastFired.String())
		}
		card.Blank()
	}
	card.Note("Use /removeschedule ID to remove a schedule")
	return req.Reply(ctx, card.String(), true)
}

func (h *Handlers) removeSchedule(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, usageRemove, true)
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil || id <= 0 {
		return req.Reply(ctx, errScheduleID, false)
	}

	err = h.store.RemoveSchedule(ctx, req.Chat.ChatID, id)
	h.audit(ctx, req, req.Args[0], err)
	if err != nil {
		_ = req.Reply(ctx, fmt.Sprintf("❌ Schedule %d not found or couldn't be removed.", id), false)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	req.Logger.Info("schedule removed", logx.Int64("schedule_id", id))
	return req.Reply(ctx, fmt.Sprintf("✅ Schedule %d removed successfully!", id), false)
}

func (h *Handlers) setTimezone(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, usageSetTimezone, true)
	}
	name := req.Args[0]
	loc, err := tz.Load(name)
	if err != nil {
		return req.Reply(ctx, fmt.Sprintf(errUnknownZone, name), false)
	}

	err = h.register(ctx, req.Msg)
	if err == nil {
		err = h.store.SetGroupTimezone(ctx, req.Chat.ChatID, name)
	}
	h.audit(ctx, req, name, err)
	if err != nil {
		_ = req.Reply(ctx, "❌ Failed to update timezone. Please try again.", false)
		return err
	}
	req.Logger.Info("group timezone updated", logx.String("timezone", name))

	card := tgui.NewCard().
		Title("✅", "Timezone updated!").
		Blank().
		KV("🌍", "New timezone", name).
		KV("🕐", "Current time", h.now().In(loc).Format("15:04 on "+longDate)).
		Blank().
		Note("All scheduled messages will now use this timezone.")
	return req.Reply(ctx, card.String(), true)
}

func (h *Handlers) auditLog(ctx context.Context, req *router.Request) error {
	entries, err := h.store.RecentAudit(ctx, req.Chat.ChatID, auditLimit)
	if err != nil {
		_ = req.Reply(ctx, "❌ Failed to load the audit log. Please try again.", false)
		return err
	}
	if len(entries) == 0 {
		return req.Reply(ctx, "📭 No configuration changes recorded yet.", false)
	}
	card := tgui.NewCard().Title("🧾", "Recent changes").Blank()
	for _, e := range entries {
		mark := "✅"
		if !e.OK {
			mark = "❌"
		}
		who := e.ActorUsername
		if who == "" {
			who = strconv.FormatInt(e.ActorID, 10)
		} else {
			who = "@" + who
		}
		parts := []string{mark, e.At.UTC().Format("2006-01-02 15:04"), "/" + e.Action}
		if e.Target != "" {
			parts = append(parts, e.Target)
		}
		card.Line(strings.Join(append(parts, "by", who), " "))
	}
	return req.Reply(ctx, card.String(), true)
}

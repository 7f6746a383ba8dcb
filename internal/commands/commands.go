// Package commands implements the bot's chat commands on top of the router:
// group registration, schedule management, timezone settings and status.
package commands

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	"schedbot/internal/transport/telegram/router"
	"schedbot/internal/tz"
	logx "schedbot/pkg/logx"
)

// Store is the persistence the commands use.
type Store interface {
	UpsertGroup(ctx context.Context, chatID int64, title string) error
	GroupTimezone(ctx context.Context, chatID int64) (string, error)
	SetGroupTimezone(ctx context.Context, chatID int64, tz string) error

	AddSchedule(ctx context.Context, s schedule.Schedule) (int64, error)
	RemoveSchedule(ctx context.Context, chatID, id int64) error
	ListGroupSchedules(ctx context.Context, chatID int64) ([]schedule.Schedule, error)

	AddGroupAdmin(ctx context.Context, chatID, userID int64, username string) error
	IsGroupAdmin(ctx context.Context, chatID, userID int64) (bool, error)

	AppendAudit(ctx context.Context, e storage.AuditEntry) error
	RecentAudit(ctx context.Context, chatID int64, limit int) ([]storage.AuditEntry, error)
}

// RoleLookup asks the chat platform for a member's role.
type RoleLookup interface {
	MemberRole(ctx context.Context, chatID, userID int64) (kit.MemberRole, error)
}

type Options struct {
	Store    Store
	Roles    RoleLookup
	Resolver *tz.Resolver
	Log      logx.Logger
	Now      func() time.Time
}

type Handlers struct {
	store Store
	roles RoleLookup
	tz    *tz.Resolver
	log   logx.Logger
	now   func() time.Time
}

func New(opts Options) (*Handlers, error) {
	if opts.Store == nil {
		return nil, errors.New("commands: store is required")
	}
	res := opts.Resolver
	if res == nil {
		var err error
		if res, err = tz.NewResolver(tz.DefaultName); err != nil {
			return nil, err
		}
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Handlers{store: opts.Store, roles: opts.Roles, tz: res, log: log.With(logx.String("comp", "commands")), now: now}, nil
}

// Commands returns the router table.
func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "Register this group", Handle: h.start},
		{Name: "help", Description: "Show detailed help", Handle: h.help},
		{
			Name: "setschedule", Description: "Set a daily message", Usage: "/setschedule HH:MM message",
			Access: router.AccessGroupAdmin, Denied: "❌ Only group admins can set schedules!", Handle: h.setSchedule,
		},
		{
			Name: "setcountdown", Description: "Set a daily countdown", Usage: "/setcountdown HH:MM YYYY-MM-DD title",
			Access: router.AccessGroupAdmin, Denied: "❌ Only group admins can set countdowns!", Handle: h.setCountdown,
		},
		{
			Name: "setrepeating", Description: "Set a daily message with an end date", Usage: "/setrepeating HH:MM YYYY-MM-DD message",
			Access: router.AccessGroupAdmin, Denied: "❌ Only group admins can set schedules!", Handle: h.setRepeating,
		},
		{Name: "status", Description: "View current schedules", Access: router.AccessGroupOnly, Handle: h.status},
		{
			Name: "removeschedule", Description: "Remove a schedule by ID", Usage: "/removeschedule ID",
			Access: router.AccessGroupAdmin, Denied: "❌ Only group admins can remove schedules!", Handle: h.removeSchedule,
		},
		{
			Name: "settimezone", Description: "Set the group timezone", Usage: "/settimezone TIMEZONE",
			Access: router.AccessGroupAdmin, Denied: "❌ Only group admins can set timezone!", Handle: h.setTimezone,
		},
		{
			Name: "audit", Description: "Recent configuration changes",
			Access: router.AccessGroupAdmin, Handle: h.auditLog,
		},
	}
}

// IsAdmin asks the platform first and records confirmed admins. When the
// platform cannot answer, admins recorded earlier are trusted.
func (h *Handlers) IsAdmin(ctx context.Context, chatID, userID int64, username string) (bool, error) {
	if h.roles != nil {
		role, err := h.roles.MemberRole(ctx, chatID, userID)
		if err == nil {
			if !role.IsAdmin() {
				return false, nil
			}
			if err := h.store.AddGroupAdmin(ctx, chatID, userID, username); err != nil {
				h.log.Warn("could not record group admin", logx.Int64("chat_id", chatID), logx.Int64("user_id", userID), logx.Err(err))
			}
			return true, nil
		}
		h.log.Warn("admin lookup failed, using recorded admins", logx.Int64("chat_id", chatID), logx.Int64("user_id", userID), logx.Err(err))
	}
	ok, err := h.store.IsGroupAdmin(ctx, chatID, userID)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// groupTimezone returns the zone name to show for a chat and its location.
func (h *Handlers) groupTimezone(ctx context.Context, chatID int64) (string, *time.Location) {
	name, err := h.store.GroupTimezone(ctx, chatID)
	if err != nil {
		h.log.Warn("cannot read group timezone", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	loc, _ := h.tz.Resolve(name)
	return loc.String(), loc
}

// register makes sure the chat has a groups row before schedules reference it.
func (h *Handlers) register(ctx context.Context, msg *kit.Message) error {
	title := strings.TrimSpace(msg.ChatTitle)
	if title == "" {
		title = "Group " + strconv.FormatInt(msg.ChatID, 10)
	}
	return h.store.UpsertGroup(ctx, msg.ChatID, title)
}

func (h *Handlers) audit(ctx context.Context, req *router.Request, target string, err error) {
	e := storage.AuditEntry{
		At:            h.now().UTC(),
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		Action:        req.Command,
		Target:        target,
		OK:            err == nil,
		RequestID:     req.ReqID,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := h.store.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil {
		req.Logger.Warn("audit write failed", logx.Err(aerr))
	}
}

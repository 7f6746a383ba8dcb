package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID            int
	ChatID        int64
	ChatTitle     string
	ThreadID      int // telegram forum topic thread id (0 if none)
	FromID        int64
	FromUsername  string
	FromFirstName string
	Text          string
	IsGroup       bool // group or supergroup
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// MemberRole is a chat member's status as reported by the platform.
type MemberRole string

const (
	RoleCreator       MemberRole = "creator"
	RoleAdministrator MemberRole = "administrator"
	RoleMember        MemberRole = "member"
	RoleRestricted    MemberRole = "restricted"
	RoleLeft          MemberRole = "left"
	RoleKicked        MemberRole = "kicked"
)

// IsAdmin reports whether the role may configure the chat.
func (r MemberRole) IsAdmin() bool { return r == RoleCreator || r == RoleAdministrator }

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)

	// MemberRole looks up userID's status in chatID.
	MemberRole(ctx context.Context, chatID, userID int64) (MemberRole, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

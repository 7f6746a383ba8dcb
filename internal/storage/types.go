package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Group is a chat the bot has been configured in.
type Group struct {
	ChatID    int64
	Title     string
	Timezone  string // IANA name; empty means process default
	CreatedAt time.Time
}

// AuditEntry records an admin action.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	ChatID        int64
	Action        string
	Target        string
	OK            bool
	Error         string
	RequestID     string
}

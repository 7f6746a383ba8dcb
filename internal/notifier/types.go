package notifier

import (
	"errors"
	"time"
)

var ErrNoSender = errors.New("notifier: no sender configured")

// Config controls outbound throttling.
type Config struct {
	RatePerSec int // <=0 means default (20)
}

const defaultRatePerSec = 20

// Event types published on the bus.
const (
	EventSent   = "notifier.sent"
	EventFailed = "notifier.failed"
)

// NotificationEvent is emitted on the event bus for every delivery attempt.
type NotificationEvent struct {
	ChatID int64         `json:"chat_id"`
	At     time.Time     `json:"at"`
	Took   time.Duration `json:"took"`
	Error  string        `json:"error,omitempty"`
}

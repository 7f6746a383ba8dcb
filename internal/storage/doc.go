// Package storage is the SQLite persistence layer of the bot.
//
// It holds:
//   - groups (chat id, title, IANA timezone)
//   - schedules (daily messages and countdowns, soft-deleted via is_active)
//   - the per-schedule last-fired marker used for once-per-day delivery
//   - recorded group admins (fallback for the Telegram admin check)
//   - an append-only audit log of admin commands
package storage

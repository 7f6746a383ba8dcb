// Package notifier delivers rendered schedule messages to Telegram chats.
//
// Delivery is synchronous: Send returns only after the transport accepted or
// rejected the message, so the caller can decide whether the occurrence counts
// as delivered. A shared token bucket keeps bursts (many groups due on the
// same minute) under Telegram's global send limit.
package notifier

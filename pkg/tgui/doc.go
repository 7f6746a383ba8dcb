// Package tgui provides small helpers for building Telegram HTML messages:
//   - escaping and inline tags (H, Esc, B, I, Code)
//   - rune-safe truncation
//   - a Card builder that produces ready-to-send text
//
// Everything here assumes ParseMode="HTML".
package tgui

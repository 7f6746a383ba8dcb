package tgui

import "strings"

// Card builds a multi-line HTML message. Plain-text inputs are escaped;
// use RawLine for pre-built H values.
type Card struct {
	lines []string
}

func NewCard() *Card { return &Card{} }

// Title adds a bold title line with an optional leading emoji.
func (c *Card) Title(emoji, title string) *Card {
	t := strings.TrimSpace(title)
	if t == "" {
		return c
	}
	if e := strings.TrimSpace(emoji); e != "" {
		c.lines = append(c.lines, Esc(e).String()+" "+B(t).String())
		return c
	}
	c.lines = append(c.lines, B(t).String())
	return c
}

// Line adds an escaped line. An empty s inserts a blank line.
func (c *Card) Line(s string) *Card {
	c.lines = append(c.lines, Esc(s).String())
	return c
}

// RawLine appends already-safe HTML.
func (c *Card) RawLine(h H) *Card {
	c.lines = append(c.lines, h.String())
	return c
}

func (c *Card) Blank() *Card { return c.Line("") }

// KV adds an "emoji key: value" row; the value is escaped.
func (c *Card) KV(emoji, key, value string) *Card {
	parts := make([]string, 0, 3)
	if e := strings.TrimSpace(emoji); e != "" {
		parts = append(parts, Esc(e).String())
	}
	if k := strings.TrimSpace(key); k != "" {
		parts = append(parts, Esc(k).String()+":")
	}
	parts = append(parts, Esc(value).String())
	c.lines = append(c.lines, strings.Join(parts, " "))
	return c
}

// Bullet adds a "• text" line.
func (c *Card) Bullet(h H) *Card {
	c.lines = append(c.lines, "• "+h.String())
	return c
}

// Note adds an italic footer line.
func (c *Card) Note(s string) *Card {
	c.lines = append(c.lines, I(s).String())
	return c
}

// String renders the card, trimming leading and trailing blank lines.
func (c *Card) String() string {
	return strings.Trim(strings.Join(c.lines, "\n"), "\n")
}

package model

import "time"

// Message is the authoritative record of a single chat message. Immutable
// after append except Pinned, which may be toggled until the message is
// deleted. AuthorRole and AuthorName are snapshots captured at send time and
// are never re-resolved.
type Message struct {
	ID         int64     `json:"id"`
	AuthorID   string    `json:"author_id"`
	AuthorRole string    `json:"author_role"`
	AuthorName string    `json:"author_name"`
	Scope      string    `json:"scope"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Pinned     bool      `json:"pinned"`
}

// Expired reports whether the message is past its TTL at the given instant.
// Pinned messages never count as expired.
func (m *Message) Expired(now time.Time) bool {
	return !m.Pinned && m.ExpiresAt.Before(now)
}

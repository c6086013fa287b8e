package model

import "time"

type EventKind string

const (
	EventInsert        EventKind = "insert"
	EventDelete        EventKind = "delete"
	EventPin           EventKind = "pin"
	EventPresenceSync  EventKind = "presence_sync"
	EventPresenceJoin  EventKind = "presence_join"
	EventPresenceLeave EventKind = "presence_leave"
)

// Event is the unit carried on a scope channel of the delivery bus. Insert
// and pin events carry the full authoritative message; delete events carry
// only the id. Presence events are advisory and never required for message
// correctness.
type Event struct {
	Kind      EventKind `json:"kind"`
	Scope     string    `json:"scope"`
	Message   *Message  `json:"message,omitempty"`
	MessageID int64     `json:"message_id,omitempty"`

	// Token is the client-generated correlation token threaded from an
	// append request through its insert event. Only set on the insert that
	// acknowledges a send; empty on events from other clients.
	Token string `json:"token,omitempty"`

	Identity *Identity  `json:"identity,omitempty"`
	Roster   []Identity `json:"roster,omitempty"`
}

// Identity is the displayable snapshot of a connected client, taken at
// connect time. Purely ephemeral presence data, never persisted.
type Identity struct {
	ClientID    string    `json:"client_id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

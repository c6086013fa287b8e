// Package groups exposes the read side of the group registry consumed by the
// message core. Membership and admin CRUD are owned elsewhere; only the
// retention policy and the active flag matter here.
package groups

import "context"

// Info is the slice of a group record the message lifecycle consumes.
type Info struct {
	ID               string
	RetentionSeconds int
	Active           bool
	MaxMembers       int
}

// Registry looks up group metadata. Implementations return
// chaterr.KindNotFound for unknown groups; callers treat missing or inactive
// groups as "fall back to the global retention default", never as a send
// failure.
type Registry interface {
	Group(ctx context.Context, groupID string) (*Info, error)
}

// Package scope parses and validates delivery scope identifiers. A scope is
// either the shared direct channel between two users ("direct:<a>:<b>" with
// the user ids sorted) or a group channel ("group:<groupId>").
package scope

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// Scope is a parsed scope identifier.
type Scope struct {
	Kind    Kind
	GroupID string
	// UserA and UserB are the participants of a direct scope, sorted.
	UserA string
	UserB string
}

// Direct builds the canonical direct scope between two users. The ids are
// sorted so both sides derive the same channel name.
func Direct(u1, u2 string) Scope {
	if u1 > u2 {
		u1, u2 = u2, u1
	}
	return Scope{Kind: KindDirect, UserA: u1, UserB: u2}
}

// Group builds a group scope.
func Group(groupID string) Scope {
	return Scope{Kind: KindGroup, GroupID: groupID}
}

// Parse validates and decomposes a scope string.
func Parse(s string) (Scope, error) {
	parts := strings.Split(s, ":")
	switch {
	case len(parts) == 3 && parts[0] == string(KindDirect):
		if parts[1] == "" || parts[2] == "" || parts[1] == parts[2] {
			return Scope{}, fmt.Errorf("malformed direct scope %q", s)
		}
		return Direct(parts[1], parts[2]), nil
	case len(parts) == 2 && parts[0] == string(KindGroup):
		if parts[1] == "" {
			return Scope{}, fmt.Errorf("malformed group scope %q", s)
		}
		return Group(parts[1]), nil
	}
	return Scope{}, fmt.Errorf("malformed scope %q", s)
}

// String renders the canonical scope identifier.
func (s Scope) String() string {
	if s.Kind == KindGroup {
		return fmt.Sprintf("group:%s", s.GroupID)
	}
	return fmt.Sprintf("direct:%s:%s", s.UserA, s.UserB)
}

// IsGroup reports whether the scope targets a group channel.
func (s Scope) IsGroup() bool { return s.Kind == KindGroup }

// Member reports whether userID participates in a direct scope. Group
// membership is the group registry's concern, not the scope's.
func (s Scope) Member(userID string) bool {
	if s.Kind != KindDirect {
		return true
	}
	return s.UserA == userID || s.UserB == userID
}

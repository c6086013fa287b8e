// Package store is the durable, queryable record of messages and the single
// source of truth for reconciliation. Every successful append, delete and
// pin change emits an event consumed by the delivery bus.
package store

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/mahaj/dhuan/pkg/chaterr"
	"github.com/mahaj/dhuan/pkg/groups"
	"github.com/mahaj/dhuan/pkg/model"
	"github.com/mahaj/dhuan/pkg/scope"
)

// AppendRequest is a message before the store has assigned its identity.
// Token is the client's correlation token; it is echoed on the resulting
// insert event and never persisted.
type AppendRequest struct {
	AuthorID      string
	AuthorRole    string
	AuthorName    string
	Scope         string
	Content       string
	OverrideHours int
	Token         string
}

// Store is the message lifecycle contract. All mutations are safe under
// concurrent invocation; Delete re-checks the pinned flag atomically at
// delete time so a concurrent pin always wins if it completes first.
type Store interface {
	// Append assigns id and createdAt server-side, computes expiresAt via
	// the retention resolver and returns the authoritative record.
	Append(ctx context.Context, req AppendRequest) (*model.Message, error)

	Get(ctx context.Context, id int64) (*model.Message, error)

	// ListScope returns messages in the scope with id > sinceID, ascending
	// by creation order, at most limit entries. Restartable: pass the last
	// seen id as the next cursor.
	ListScope(ctx context.Context, sc string, sinceID int64, limit int) ([]model.Message, error)

	// Delete removes the message unless it is pinned. A pinned message is a
	// no-op (false, nil), not an error; an unknown id is a NotFoundError.
	Delete(ctx context.Context, id int64) (bool, error)

	// SetPinned toggles the pin flag. Idempotent; NotFoundError on unknown
	// ids.
	SetPinned(ctx context.Context, id int64, pinned bool) (*model.Message, error)

	// ListExpired returns ids of messages whose expiry has passed and that
	// were unpinned at scan time. The sweeper still goes through Delete's
	// conditional check for each.
	ListExpired(ctx context.Context, now time.Time) ([]int64, error)
}

// EventSink receives store change events. Emission is fire-and-forget from
// the store's perspective; a nil sink drops events.
type EventSink interface {
	Emit(ctx context.Context, ev model.Event)
}

// TTLResolver computes a message's expiry from its scope and optional
// override. Implemented by retention.Resolver.
type TTLResolver interface {
	Resolve(ctx context.Context, sc scope.Scope, overrideHours int) time.Time
}

// validate checks content bounds and scope shape, and enforces that a
// group-scoped message references an active group.
func validate(ctx context.Context, registry groups.Registry, maxRunes int, req AppendRequest) (scope.Scope, error) {
	if req.Content == "" {
		return scope.Scope{}, chaterr.Validationf("empty content")
	}
	if n := utf8.RuneCountInString(req.Content); n > maxRunes {
		return scope.Scope{}, chaterr.Validationf("content length %d exceeds limit %d", n, maxRunes)
	}
	sc, err := scope.Parse(req.Scope)
	if err != nil {
		return scope.Scope{}, chaterr.Validationf("%v", err)
	}
	if sc.IsGroup() && registry != nil {
		info, err := registry.Group(ctx, sc.GroupID)
		if chaterr.Is(err, chaterr.KindNotFound) {
			return scope.Scope{}, chaterr.Validationf("group %s does not exist", sc.GroupID)
		}
		if err != nil {
			return scope.Scope{}, err
		}
		if !info.Active {
			return scope.Scope{}, chaterr.Validationf("group %s is not active", sc.GroupID)
		}
	}
	return sc, nil
}

func emit(ctx context.Context, sink EventSink, ev model.Event) {
	if sink != nil {
		sink.Emit(ctx, ev)
	}
}

// Package retention computes message expiry. Resolution order is fixed:
// per-send override hours, then the owning group's retention seconds, then
// the global default setting, then a hard-coded 24h fallback. Missing or
// inactive groups and a missing setting row degrade silently down the chain;
// resolution never fails a send.
package retention

import (
	"context"
	"time"

	"github.com/mahaj/dhuan/pkg/groups"
	"github.com/mahaj/dhuan/pkg/logger"
	"github.com/mahaj/dhuan/pkg/scope"
)

// FallbackHours guards against a missing global setting row deadlocking
// sends.
const FallbackHours = 24

// Settings holds the global default retention. Reads are open; writes are
// gated on the admin role at the API layer. Last-write-wins: the source of
// this value is a single mutable row with no versioning, and a retention
// change never retroactively alters already-computed expiries.
type Settings interface {
	DefaultRetentionHours(ctx context.Context) (int, error)
	SetDefaultRetentionHours(ctx context.Context, hours int, actorID string) error
}

type Resolver struct {
	groups   groups.Registry
	settings Settings
	now      func() time.Time
}

func NewResolver(registry groups.Registry, settings Settings) *Resolver {
	return &Resolver{groups: registry, settings: settings, now: time.Now}
}

// Resolve computes the expiry instant for a message created now in the given
// scope. overrideHours <= 0 means no override.
func (r *Resolver) Resolve(ctx context.Context, sc scope.Scope, overrideHours int) time.Time {
	now := r.now()

	if overrideHours > 0 {
		return now.Add(time.Duration(overrideHours) * time.Hour)
	}

	if sc.IsGroup() {
		if info, err := r.groups.Group(ctx, sc.GroupID); err == nil && info.Active && info.RetentionSeconds > 0 {
			return now.Add(time.Duration(info.RetentionSeconds) * time.Second)
		}
		// Missing or inactive group: same fallback as direct messages.
	}

	return now.Add(time.Duration(r.defaultHours(ctx)) * time.Hour)
}

func (r *Resolver) defaultHours(ctx context.Context) int {
	hours, err := r.settings.DefaultRetentionHours(ctx)
	if err != nil || hours <= 0 {
		if err != nil {
			logger.Debug("retention_default_unavailable", "error", err)
		}
		return FallbackHours
	}
	return hours
}

// Package bus is the per-scope publish/subscribe fan-out. Two producers feed
// each scope channel: the store's change feed and the sender's explicit
// post-append broadcast. The bus does not deduplicate; the reconciliation
// engine dedups by message id.
package bus

import (
	"context"
	"sync"

	"github.com/mahaj/dhuan/pkg/model"
)

// Handler consumes events for one scope. Handlers must be fast or hand off;
// slow consumers may be dropped by the transport.
type Handler func(ev model.Event)

type Bus interface {
	// Publish is fire-and-forget from the sender's perspective; delivery is
	// at-least-once across the two paths.
	Publish(ctx context.Context, sc string, ev model.Event) error

	// Subscribe attaches a handler to a scope channel. The returned
	// subscription is owned by the caller; there is no global registry to
	// look handles up in. One active subscription per client per scope:
	// close the old one before opening a channel to another scope.
	Subscribe(ctx context.Context, sc string, h Handler) (*Subscription, error)
}

// Subscription is the caller-owned handle for one scope channel.
type Subscription struct {
	scope string
	once  sync.Once
	stop  func()
}

// NewSubscription wraps a teardown func in a caller-owned handle. Exported
// for transports implemented outside this package (e.g. the websocket
// stream client).
func NewSubscription(sc string, stop func()) *Subscription {
	return &Subscription{scope: sc, stop: stop}
}

func (s *Subscription) Scope() string { return s.scope }

// Close tears the subscription down synchronously. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(s.stop)
}

package bus

import (
	"context"

	"github.com/mahaj/dhuan/pkg/logger"
	"github.com/mahaj/dhuan/pkg/model"
)

// PublishSink adapts a Bus to the store's EventSink: every successful store
// mutation becomes a change-feed event. Publish failures are logged, never
// propagated: the append already succeeded and resync covers missed events.
type PublishSink struct {
	bus Bus
}

func NewPublishSink(b Bus) *PublishSink {
	return &PublishSink{bus: b}
}

func (s *PublishSink) Emit(ctx context.Context, ev model.Event) {
	if err := s.bus.Publish(ctx, ev.Scope, ev); err != nil {
		logger.Error("change_feed_publish_failed", "kind", ev.Kind, "scope", ev.Scope, "error", err)
	}
}

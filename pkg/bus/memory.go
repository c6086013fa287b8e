package bus

import (
	"context"
	"sync"

	"github.com/mahaj/dhuan/pkg/metrics"
	"github.com/mahaj/dhuan/pkg/model"
)

// MemoryBus is an in-process hub with per-scope subscriber sets. It backs
// tests and single-process deployments. Delivery is non-blocking: a
// subscriber whose buffer is full is dropped rather than stalling the
// publisher.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySub]bool
}

type memorySub struct {
	ch   chan model.Event
	done chan struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*memorySub]bool)}
}

func (b *MemoryBus) Publish(ctx context.Context, sc string, ev model.Event) error {
	ev.Scope = sc
	metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[sc] {
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber: drop it the way the gateway drops a stalled
			// socket.
			close(sub.ch)
			delete(b.subs[sc], sub)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, sc string, h Handler) (*Subscription, error) {
	sub := &memorySub{
		ch:   make(chan model.Event, 256),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[sc] == nil {
		b.subs[sc] = make(map[*memorySub]bool)
	}
	b.subs[sc][sub] = true
	b.mu.Unlock()

	go func() {
		defer close(sub.done)
		for ev := range sub.ch {
			metrics.EventsDelivered.Inc()
			h(ev)
		}
	}()

	return NewSubscription(sc, func() {
		b.mu.Lock()
		if set, ok := b.subs[sc]; ok && set[sub] {
			delete(set, sub)
			close(sub.ch)
		}
		b.mu.Unlock()
		<-sub.done
	}), nil
}

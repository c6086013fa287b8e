package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/dhuan/pkg/bus"
	"github.com/mahaj/dhuan/pkg/chaterr"
	"github.com/mahaj/dhuan/pkg/model"
	"github.com/mahaj/dhuan/pkg/presence"
)

// brownoutBus fails the first failures subscribe attempts, then delegates.
type brownoutBus struct {
	*bus.MemoryBus
	mu       sync.Mutex
	failures int
}

func (b *brownoutBus) Subscribe(ctx context.Context, sc string, h bus.Handler) (*bus.Subscription, error) {
	b.mu.Lock()
	if b.failures > 0 {
		b.failures--
		b.mu.Unlock()
		return nil, chaterr.Transient(errors.New("broker down"), "subscribe")
	}
	b.mu.Unlock()
	return b.MemoryBus.Subscribe(ctx, sc, h)
}

func TestRoomSubscriptionRetriesAfterBrokerFailure(t *testing.T) {
	b := &brownoutBus{MemoryBus: bus.NewMemoryBus(), failures: 1}
	hub := NewHub(b, presence.NewMemoryTracker(), bus.RetryPolicy{
		Base:        time.Millisecond,
		MaxAttempts: 3,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &Client{
		hub:         hub,
		send:        make(chan []byte, 16),
		UserID:      "alice",
		DisplayName: "Alice",
		Scope:       "group:g1",
	}
	hub.register <- client

	// The first subscribe attempt fails; the retried subscription must end
	// up relaying bus events to the socket. Keep publishing until a frame
	// makes it through (events before the subscription lands are dropped).
	msg := &model.Message{ID: 7, AuthorID: "bob", Scope: "group:g1", Content: "hi"}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, b.Publish(context.Background(), "group:g1",
			model.Event{Kind: model.EventInsert, Message: msg}))

		select {
		case raw := <-client.send:
			var ev model.Event
			require.NoError(t, json.Unmarshal(raw, &ev))
			// Presence frames may arrive first.
			if ev.Kind == model.EventInsert {
				require.Equal(t, int64(7), ev.Message.ID)
				return
			}
		case <-time.After(20 * time.Millisecond):
		}
	}
	t.Fatal("insert event never relayed to the socket")
}

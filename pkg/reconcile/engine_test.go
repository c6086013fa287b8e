package reconcile_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/dhuan/pkg/bus"
	"github.com/mahaj/dhuan/pkg/chaterr"
	"github.com/mahaj/dhuan/pkg/groups"
	"github.com/mahaj/dhuan/pkg/model"
	"github.com/mahaj/dhuan/pkg/reconcile"
	"github.com/mahaj/dhuan/pkg/retention"
	"github.com/mahaj/dhuan/pkg/snowflake"
	"github.com/mahaj/dhuan/pkg/store"
)

const testScope = "group:g1"

type fixture struct {
	store  *store.MemoryStore
	bus    bus.Bus
	engine *reconcile.Engine
}

// gateBus blocks Subscribe while closed, simulating a down transport.
type gateBus struct {
	*bus.MemoryBus
	open atomic.Bool
}

func (g *gateBus) Subscribe(ctx context.Context, sc string, h bus.Handler) (*bus.Subscription, error) {
	if !g.open.Load() {
		return nil, chaterr.Transient(errors.New("transport down"), "subscribe")
	}
	return g.MemoryBus.Subscribe(ctx, sc, h)
}

func newFixture(t *testing.T, b bus.Bus) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	registry := groups.NewMemoryRegistry()
	registry.Put(groups.Info{ID: "g1", RetentionSeconds: 3600, Active: true})
	resolver := retention.NewResolver(registry, retention.NewMemorySettings(24))

	// Store changes feed the same bus the engine subscribes to, i.e. the
	// change-feed delivery path.
	st := store.NewMemoryStore(node, resolver, registry, bus.NewPublishSink(b), 1000)

	engine := reconcile.NewEngine(st, b, bus.RetryPolicy{
		Base:        time.Millisecond,
		Cap:         5 * time.Millisecond,
		MaxAttempts: 2,
		Timeout:     time.Second,
	}, reconcile.Identity{UserID: "alice", Role: "member", DisplayName: "Alice"},
		reconcile.Options{
			ResyncInterval:     30 * time.Millisecond,
			LocalSweepInterval: 25 * time.Millisecond,
			SendTimeout:        time.Second,
		})

	return &fixture{store: st, bus: b, engine: engine}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func appendAs(t *testing.T, st *store.MemoryStore, author, content string) *model.Message {
	t.Helper()
	msg, err := st.Append(context.Background(), store.AppendRequest{
		AuthorID: author, AuthorRole: "member", AuthorName: author,
		Scope: testScope, Content: content,
	})
	require.NoError(t, err)
	return msg
}

func TestSendProducesExactlyOneEntry(t *testing.T) {
	f := newFixture(t, bus.NewMemoryBus())
	require.NoError(t, f.engine.Open(context.Background(), testScope))
	defer f.engine.Close()

	_, err := f.engine.Send(context.Background(), "hello", 0)
	require.NoError(t, err)

	// The echo arrives over both delivery paths; the view must hold exactly
	// one authoritative entry and no leftover provisional.
	waitFor(t, func() bool {
		snap := f.engine.Snapshot()
		return len(snap) == 1 && !snap[0].Provisional && snap[0].Message.ID != 0
	})
	time.Sleep(100 * time.Millisecond)
	snap := f.engine.Snapshot()
	require.Len(t, snap, 1)
	require.False(t, snap[0].Provisional)
	require.Equal(t, "hello", snap[0].Message.Content)
}

func TestReceiveFromOtherClient(t *testing.T) {
	f := newFixture(t, bus.NewMemoryBus())
	require.NoError(t, f.engine.Open(context.Background(), testScope))
	defer f.engine.Close()

	msg := appendAs(t, f.store, "bob", "hi alice")

	waitFor(t, func() bool {
		snap := f.engine.Snapshot()
		return len(snap) == 1 && snap[0].Message.ID == msg.ID
	})
}

func TestDeleteEventRemovesEntry(t *testing.T) {
	f := newFixture(t, bus.NewMemoryBus())
	require.NoError(t, f.engine.Open(context.Background(), testScope))
	defer f.engine.Close()

	msg := appendAs(t, f.store, "bob", "short lived")
	waitFor(t, func() bool { return len(f.engine.Snapshot()) == 1 })

	deleted, err := f.store.Delete(context.Background(), msg.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	waitFor(t, func() bool { return len(f.engine.Snapshot()) == 0 })
}

func TestPinEventUpdatesEntry(t *testing.T) {
	f := newFixture(t, bus.NewMemoryBus())
	require.NoError(t, f.engine.Open(context.Background(), testScope))
	defer f.engine.Close()

	msg := appendAs(t, f.store, "bob", "important")
	waitFor(t, func() bool { return len(f.engine.Snapshot()) == 1 })

	_, err := f.store.SetPinned(context.Background(), msg.ID, true)
	require.NoError(t, err)

	waitFor(t, func() bool {
		snap := f.engine.Snapshot()
		return len(snap) == 1 && snap[0].Message.Pinned
	})
}

func TestOutOfOrderEventsAreResorted(t *testing.T) {
	b := bus.NewMemoryBus()
	f := newFixture(t, b)
	// Resync off: these records live only on the bus, and the diff would
	// treat them as server-side deletions.
	engine := reconcile.NewEngine(f.store, b, bus.RetryPolicy{Base: time.Millisecond, MaxAttempts: 1},
		reconcile.Identity{UserID: "alice", DisplayName: "Alice"},
		reconcile.Options{ResyncInterval: time.Hour, LocalSweepInterval: time.Hour})
	require.NoError(t, engine.Open(context.Background(), testScope))
	defer engine.Close()

	now := time.Now().UTC()
	later := model.Message{ID: 200, AuthorID: "bob", Scope: testScope,
		Content: "second", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	earlier := model.Message{ID: 100, AuthorID: "bob", Scope: testScope,
		Content: "first", CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Hour)}

	// Arrival order inverted relative to creation order.
	require.NoError(t, b.Publish(context.Background(), testScope,
		model.Event{Kind: model.EventInsert, Message: &later}))
	require.NoError(t, b.Publish(context.Background(), testScope,
		model.Event{Kind: model.EventInsert, Message: &earlier}))

	waitFor(t, func() bool { return len(engine.Snapshot()) == 2 })
	snap := engine.Snapshot()
	require.Equal(t, int64(100), snap[0].Message.ID)
	require.Equal(t, int64(200), snap[1].Message.ID)
}

// togglingBackend fails Append while broken.
type togglingBackend struct {
	reconcile.Backend
	broken atomic.Bool
}

func (b *togglingBackend) Append(ctx context.Context, req store.AppendRequest) (*model.Message, error) {
	if b.broken.Load() {
		return nil, chaterr.Transient(errors.New("store down"), "append")
	}
	return b.Backend.Append(ctx, req)
}

func TestFailedSendIsKeptForRetry(t *testing.T) {
	b := bus.NewMemoryBus()
	f := newFixture(t, b)

	backend := &togglingBackend{Backend: f.store}
	backend.broken.Store(true)
	engine := reconcile.NewEngine(backend, b, bus.RetryPolicy{Base: time.Millisecond, MaxAttempts: 2},
		reconcile.Identity{UserID: "alice", DisplayName: "Alice"},
		reconcile.Options{ResyncInterval: time.Hour, LocalSweepInterval: time.Hour, SendTimeout: time.Second})
	require.NoError(t, engine.Open(context.Background(), testScope))
	defer engine.Close()

	token, err := engine.Send(context.Background(), "will fail", 0)
	require.Error(t, err)

	snap := engine.Snapshot()
	require.Len(t, snap, 1)
	require.True(t, snap[0].Failed)
	require.True(t, snap[0].Provisional)

	// Store recovers; the retry replaces the provisional with the echo.
	backend.broken.Store(false)
	require.NoError(t, engine.Retry(context.Background(), token))

	waitFor(t, func() bool {
		snap := engine.Snapshot()
		return len(snap) == 1 && !snap[0].Provisional && !snap[0].Failed
	})
}

func TestDegradedFallsBackToPollingAndRecovers(t *testing.T) {
	gate := &gateBus{MemoryBus: bus.NewMemoryBus()}
	f := newFixture(t, gate)

	var mu sync.Mutex
	var states []reconcile.State
	engine := reconcile.NewEngine(f.store, gate, bus.RetryPolicy{Base: time.Millisecond, MaxAttempts: 2},
		reconcile.Identity{UserID: "alice", DisplayName: "Alice"},
		reconcile.Options{
			ResyncInterval:     20 * time.Millisecond,
			LocalSweepInterval: time.Hour,
			OnState: func(s reconcile.State) {
				mu.Lock()
				states = append(states, s)
				mu.Unlock()
			},
		})

	require.NoError(t, engine.Open(context.Background(), testScope))
	defer engine.Close()
	require.Equal(t, reconcile.StateDegraded, engine.State())

	// No subscription, so only polling can converge the view.
	msg := appendAs(t, f.store, "bob", "you still there?")
	waitFor(t, func() bool {
		snap := engine.Snapshot()
		return len(snap) == 1 && snap[0].Message.ID == msg.ID
	})

	// Transport heals; the next resync tick resubscribes.
	gate.open.Store(true)
	waitFor(t, func() bool { return engine.State() == reconcile.StateLive })

	// Live again: bus events flow without polling delays.
	msg2 := appendAs(t, f.store, "bob", "welcome back")
	waitFor(t, func() bool {
		for _, entry := range engine.Snapshot() {
			if entry.Message.ID == msg2.ID {
				return true
			}
		}
		return false
	})

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, states, reconcile.StateDegraded)
	require.Contains(t, states, reconcile.StateLive)
}

func TestResubscribeDoesNotDuplicate(t *testing.T) {
	f := newFixture(t, bus.NewMemoryBus())
	ctx := context.Background()

	require.NoError(t, f.engine.Open(ctx, testScope))
	appendAs(t, f.store, "bob", "one")
	appendAs(t, f.store, "bob", "two")
	waitFor(t, func() bool { return len(f.engine.Snapshot()) == 2 })
	f.engine.Close()

	// Same scope, fresh view: already-reconciled ids must not duplicate.
	require.NoError(t, f.engine.Open(ctx, testScope))
	defer f.engine.Close()
	waitFor(t, func() bool { return len(f.engine.Snapshot()) == 2 })
	time.Sleep(100 * time.Millisecond)

	snap := f.engine.Snapshot()
	require.Len(t, snap, 2)
	seen := make(map[int64]bool)
	for _, entry := range snap {
		require.False(t, seen[entry.Message.ID])
		seen[entry.Message.ID] = true
	}
}

func TestLocalSweepPurgesExpired(t *testing.T) {
	b := bus.NewMemoryBus()
	f := newFixture(t, b)
	engine := reconcile.NewEngine(f.store, b, bus.RetryPolicy{Base: time.Millisecond, MaxAttempts: 1},
		reconcile.Identity{UserID: "alice", DisplayName: "Alice"},
		reconcile.Options{ResyncInterval: time.Hour, LocalSweepInterval: 20 * time.Millisecond})
	require.NoError(t, engine.Open(context.Background(), testScope))
	defer engine.Close()

	now := time.Now().UTC()
	expired := model.Message{ID: 300, AuthorID: "bob", Scope: testScope,
		Content: "already gone", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	pinned := model.Message{ID: 301, AuthorID: "bob", Scope: testScope, Pinned: true,
		Content: "kept", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}

	require.NoError(t, b.Publish(context.Background(), testScope,
		model.Event{Kind: model.EventInsert, Message: &expired}))
	require.NoError(t, b.Publish(context.Background(), testScope,
		model.Event{Kind: model.EventInsert, Message: &pinned}))

	// The local clock purges the expired entry without any delete event;
	// the pinned one stays.
	waitFor(t, func() bool {
		snap := engine.Snapshot()
		return len(snap) == 1 && snap[0].Message.ID == 301
	})
}

func TestPresenceMirror(t *testing.T) {
	b := bus.NewMemoryBus()
	f := newFixture(t, b)
	require.NoError(t, f.engine.Open(context.Background(), testScope))
	defer f.engine.Close()

	ctx := context.Background()
	bob := model.Identity{ClientID: "bob", DisplayName: "Bob"}
	carol := model.Identity{ClientID: "carol", DisplayName: "Carol"}

	require.NoError(t, b.Publish(ctx, testScope, model.Event{
		Kind: model.EventPresenceSync, Roster: []model.Identity{bob, carol}}))
	waitFor(t, func() bool { return len(f.engine.Presence()) == 2 })

	require.NoError(t, b.Publish(ctx, testScope, model.Event{
		Kind: model.EventPresenceLeave, Identity: &carol}))
	waitFor(t, func() bool { return len(f.engine.Presence()) == 1 })

	require.NoError(t, b.Publish(ctx, testScope, model.Event{
		Kind: model.EventPresenceJoin, Identity: &carol}))
	waitFor(t, func() bool { return len(f.engine.Presence()) == 2 })
}

func TestOpenTwiceFails(t *testing.T) {
	f := newFixture(t, bus.NewMemoryBus())
	require.NoError(t, f.engine.Open(context.Background(), testScope))
	defer f.engine.Close()

	require.Error(t, f.engine.Open(context.Background(), "group:g1"))
}

func TestCloseRacingReopen(t *testing.T) {
	f := newFixture(t, bus.NewMemoryBus())
	ctx := context.Background()

	// Each cycle closes the engine from one goroutine while another reopens
	// the scope. The old loop must only ever close its own done channel;
	// otherwise Close blocks forever or the new loop double-closes.
	errc := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 25; i++ {
			if err := f.engine.Open(ctx, testScope); err != nil {
				errc <- err
				return
			}
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				f.engine.Close()
			}()
			// The reopen may lose the race and error; both outcomes must
			// leave the engine cleanly closable.
			if err := f.engine.Open(ctx, testScope); err == nil {
				f.engine.Close()
			}
			wg.Wait()
		}
	}()

	select {
	case <-done:
	case err := <-errc:
		t.Fatalf("open failed mid-cycle: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("close racing reopen did not finish")
	}
}

func TestResyncRemovesServerDeleted(t *testing.T) {
	// Subscription never works here: deletions must be discovered by the
	// resync diff alone.
	gate := &gateBus{MemoryBus: bus.NewMemoryBus()}
	f := newFixture(t, gate)

	msg := appendAs(t, f.store, "bob", "to be swept")

	engine := reconcile.NewEngine(f.store, gate, bus.RetryPolicy{Base: time.Millisecond, MaxAttempts: 1},
		reconcile.Identity{UserID: "alice", DisplayName: "Alice"},
		reconcile.Options{ResyncInterval: 20 * time.Millisecond, LocalSweepInterval: time.Hour})
	require.NoError(t, engine.Open(context.Background(), testScope))
	defer engine.Close()
	waitFor(t, func() bool { return len(engine.Snapshot()) == 1 })

	deleted, err := f.store.Delete(context.Background(), msg.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	waitFor(t, func() bool { return len(engine.Snapshot()) == 0 })
}

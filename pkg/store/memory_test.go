package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mahaj/dhuan/pkg/chaterr"
	"github.com/mahaj/dhuan/pkg/groups"
	"github.com/mahaj/dhuan/pkg/model"
	"github.com/mahaj/dhuan/pkg/retention"
	"github.com/mahaj/dhuan/pkg/snowflake"
)

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *recordingSink) Emit(ctx context.Context, ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) all() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Event(nil), s.events...)
}

func newTestStore(t *testing.T) (*MemoryStore, *recordingSink, *groups.MemoryRegistry) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	registry := groups.NewMemoryRegistry()
	registry.Put(groups.Info{ID: "g1", RetentionSeconds: 1800, Active: true, MaxMembers: 50})
	registry.Put(groups.Info{ID: "dead", RetentionSeconds: 1800, Active: false})

	sink := &recordingSink{}
	resolver := retention.NewResolver(registry, retention.NewMemorySettings(24))
	return NewMemoryStore(node, resolver, registry, sink, 1000), sink, registry
}

func appendOne(t *testing.T, st *MemoryStore, sc, content string) *model.Message {
	t.Helper()
	msg, err := st.Append(context.Background(), AppendRequest{
		AuthorID:   "alice",
		AuthorRole: "member",
		AuthorName: "Alice",
		Scope:      sc,
		Content:    content,
	})
	require.NoError(t, err)
	return msg
}

func TestAppendAssignsIdentity(t *testing.T) {
	st, sink, _ := newTestStore(t)

	msg := appendOne(t, st, "direct:alice:bob", "hello")
	require.NotZero(t, msg.ID)
	require.True(t, msg.ExpiresAt.After(msg.CreatedAt))
	require.False(t, msg.Pinned)
	require.Equal(t, "direct:alice:bob", msg.Scope)

	events := sink.all()
	require.Len(t, events, 1)
	require.Equal(t, model.EventInsert, events[0].Kind)
	require.Equal(t, msg.ID, events[0].Message.ID)
}

func TestAppendEchoesToken(t *testing.T) {
	st, sink, _ := newTestStore(t)

	_, err := st.Append(context.Background(), AppendRequest{
		AuthorID: "alice", Scope: "direct:alice:bob", Content: "hi", Token: "tok-1",
	})
	require.NoError(t, err)
	require.Equal(t, "tok-1", sink.all()[0].Token)
}

func TestAppendValidation(t *testing.T) {
	st, _, _ := newTestStore(t)
	ctx := context.Background()

	cases := []AppendRequest{
		{AuthorID: "a", Scope: "direct:a:b", Content: ""},
		{AuthorID: "a", Scope: "direct:a:b", Content: strings.Repeat("x", 1001)},
		{AuthorID: "a", Scope: "nonsense", Content: "hi"},
		{AuthorID: "a", Scope: "group:unknown", Content: "hi"},
		{AuthorID: "a", Scope: "group:dead", Content: "hi"},
	}
	for _, req := range cases {
		_, err := st.Append(ctx, req)
		require.True(t, chaterr.Is(err, chaterr.KindValidation), "req %+v: got %v", req, err)
	}

	// Exactly at the bound is fine.
	_, err := st.Append(ctx, AppendRequest{
		AuthorID: "a", Scope: "direct:a:b", Content: strings.Repeat("x", 1000),
	})
	require.NoError(t, err)
}

func TestGetNotFound(t *testing.T) {
	st, _, _ := newTestStore(t)
	_, err := st.Get(context.Background(), 12345)
	require.True(t, chaterr.Is(err, chaterr.KindNotFound))
}

func TestListScopeAscendingWithCursor(t *testing.T) {
	st, _, _ := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for _, text := range []string{"one", "two", "three", "four"} {
		ids = append(ids, appendOne(t, st, "group:g1", text).ID)
	}
	appendOne(t, st, "direct:alice:bob", "other scope")

	page, err := st.ListScope(ctx, "group:g1", 0, 0)
	require.NoError(t, err)
	require.Len(t, page, 4)
	for i := 1; i < len(page); i++ {
		require.Less(t, page[i-1].ID, page[i].ID)
		require.False(t, page[i].CreatedAt.Before(page[i-1].CreatedAt))
	}

	// Cursor restart from the second entry.
	rest, err := st.ListScope(ctx, "group:g1", ids[1], 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Equal(t, ids[2], rest[0].ID)

	// Limit caps the page.
	page, err = st.ListScope(ctx, "group:g1", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
}

func TestDeleteConditionalOnPin(t *testing.T) {
	st, sink, _ := newTestStore(t)
	ctx := context.Background()

	msg := appendOne(t, st, "group:g1", "keep me")
	_, err := st.SetPinned(ctx, msg.ID, true)
	require.NoError(t, err)

	// Pinned: delete is a benign no-op, not an error.
	deleted, err := st.Delete(ctx, msg.ID)
	require.NoError(t, err)
	require.False(t, deleted)
	got, err := st.Get(ctx, msg.ID)
	require.NoError(t, err)
	require.True(t, got.Pinned)

	// Unpin, then delete goes through and emits the event.
	_, err = st.SetPinned(ctx, msg.ID, false)
	require.NoError(t, err)
	deleted, err = st.Delete(ctx, msg.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = st.Get(ctx, msg.ID)
	require.True(t, chaterr.Is(err, chaterr.KindNotFound))

	events := sink.all()
	last := events[len(events)-1]
	require.Equal(t, model.EventDelete, last.Kind)
	require.Equal(t, msg.ID, last.MessageID)
}

func TestPinAfterDeleteIsNotFound(t *testing.T) {
	st, _, _ := newTestStore(t)
	ctx := context.Background()

	msg := appendOne(t, st, "group:g1", "going away")
	deleted, err := st.Delete(ctx, msg.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = st.SetPinned(ctx, msg.ID, true)
	require.True(t, chaterr.Is(err, chaterr.KindNotFound))
}

func TestDeleteUnknownIsNotFound(t *testing.T) {
	st, _, _ := newTestStore(t)
	_, err := st.Delete(context.Background(), 999)
	require.True(t, chaterr.Is(err, chaterr.KindNotFound))
}

func TestPinIsIdempotent(t *testing.T) {
	st, _, _ := newTestStore(t)
	ctx := context.Background()

	msg := appendOne(t, st, "group:g1", "pin twice")
	for i := 0; i < 2; i++ {
		got, err := st.SetPinned(ctx, msg.ID, true)
		require.NoError(t, err)
		require.True(t, got.Pinned)
	}
}

func TestListExpiredSkipsPinned(t *testing.T) {
	st, _, _ := newTestStore(t)
	ctx := context.Background()

	m1 := appendOne(t, st, "group:g1", "expired")
	m2 := appendOne(t, st, "group:g1", "expired but pinned")
	_, err := st.SetPinned(ctx, m2.ID, true)
	require.NoError(t, err)

	// Far future scan time: everything is past its TTL by then.
	future := time.Now().Add(10 * 365 * 24 * time.Hour)
	ids, err := st.ListExpired(ctx, future)
	require.NoError(t, err)
	require.Contains(t, ids, m1.ID)
	require.NotContains(t, ids, m2.ID)
}

func TestConcurrentAppends(t *testing.T) {
	st, _, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.Append(ctx, AppendRequest{
				AuthorID: "alice", Scope: "group:g1", Content: "concurrent",
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	page, err := st.ListScope(ctx, "group:g1", 0, 0)
	require.NoError(t, err)
	require.Len(t, page, 20)
	seen := make(map[int64]bool)
	for _, msg := range page {
		require.False(t, seen[msg.ID], "duplicate id %d", msg.ID)
		seen[msg.ID] = true
	}
}

package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mahaj/dhuan/pkg/model"
)

func identity(clientID, name string) model.Identity {
	return model.Identity{ClientID: clientID, DisplayName: name, JoinedAt: time.Now().UTC()}
}

func TestTrackAndList(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	require.NoError(t, tr.Track(ctx, "group:g1", identity("bob", "Bob")))
	require.NoError(t, tr.Track(ctx, "group:g1", identity("alice", "Alice")))
	require.NoError(t, tr.Track(ctx, "group:g2", identity("carol", "Carol")))

	roster, err := tr.List(ctx, "group:g1")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	require.Equal(t, "alice", roster[0].ClientID)
	require.Equal(t, "bob", roster[1].ClientID)

	other, err := tr.List(ctx, "group:g2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	require.Equal(t, "carol", other[0].ClientID)
}

func TestTrackSameClientTwiceKeepsLatest(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	require.NoError(t, tr.Track(ctx, "group:g1", identity("bob", "Bob")))
	require.NoError(t, tr.Track(ctx, "group:g1", identity("bob", "Bobby")))

	roster, err := tr.List(ctx, "group:g1")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	require.Equal(t, "Bobby", roster[0].DisplayName)
}

func TestUntrackRemovesClient(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	require.NoError(t, tr.Track(ctx, "group:g1", identity("bob", "Bob")))
	require.NoError(t, tr.Track(ctx, "group:g1", identity("alice", "Alice")))
	require.NoError(t, tr.Untrack(ctx, "group:g1", "bob"))

	roster, err := tr.List(ctx, "group:g1")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	require.Equal(t, "alice", roster[0].ClientID)
}

func TestUntrackUnknownIsNoop(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	require.NoError(t, tr.Untrack(ctx, "group:g1", "nobody"))
	require.NoError(t, tr.Track(ctx, "group:g1", identity("bob", "Bob")))
	require.NoError(t, tr.Untrack(ctx, "group:g1", "nobody"))

	roster, err := tr.List(ctx, "group:g1")
	require.NoError(t, err)
	require.Len(t, roster, 1)
}

func TestListEmptyScope(t *testing.T) {
	tr := NewMemoryTracker()

	roster, err := tr.List(context.Background(), "direct:alice:bob")
	require.NoError(t, err)
	require.Empty(t, roster)
}

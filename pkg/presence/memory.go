package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/mahaj/dhuan/pkg/model"
)

// MemoryTracker is the in-process Tracker used by tests and single-gateway
// runs.
type MemoryTracker struct {
	mu     sync.RWMutex
	scopes map[string]map[string]model.Identity
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{scopes: make(map[string]map[string]model.Identity)}
}

func (t *MemoryTracker) Track(ctx context.Context, sc string, identity model.Identity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scopes[sc] == nil {
		t.scopes[sc] = make(map[string]model.Identity)
	}
	t.scopes[sc][identity.ClientID] = identity
	return nil
}

func (t *MemoryTracker) Untrack(ctx context.Context, sc string, clientID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.scopes[sc], clientID)
	if len(t.scopes[sc]) == 0 {
		delete(t.scopes, sc)
	}
	return nil
}

func (t *MemoryTracker) List(ctx context.Context, sc string) ([]model.Identity, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Identity, 0, len(t.scopes[sc]))
	for _, id := range t.scopes[sc] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

package groups

import (
	"context"
	"sync"

	"github.com/mahaj/dhuan/pkg/chaterr"
)

// MemoryRegistry is a mutex-guarded in-memory registry used by tests and
// single-process setups.
type MemoryRegistry struct {
	mu     sync.RWMutex
	groups map[string]Info
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{groups: make(map[string]Info)}
}

func (r *MemoryRegistry) Put(info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[info.ID] = info
}

func (r *MemoryRegistry) Group(ctx context.Context, groupID string) (*Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.groups[groupID]
	if !ok {
		return nil, chaterr.NotFoundf("group %s", groupID)
	}
	out := info
	return &out, nil
}

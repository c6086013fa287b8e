package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mahaj/dhuan/pkg/chaterr"
	"github.com/mahaj/dhuan/pkg/groups"
	"github.com/mahaj/dhuan/pkg/model"
	"github.com/mahaj/dhuan/pkg/snowflake"
)

// MemoryStore implements Store with mutex-guarded maps. It carries the same
// semantics as the Scylla implementation, including the atomic pinned
// re-check on delete, and backs the package tests and single-process runs.
type MemoryStore struct {
	mu       sync.Mutex
	byID     map[int64]*model.Message
	byScope  map[string][]int64 // ascending ids per scope
	node     *snowflake.Node
	resolver TTLResolver
	registry groups.Registry
	sink     EventSink
	maxRunes int
}

func NewMemoryStore(node *snowflake.Node, resolver TTLResolver, registry groups.Registry, sink EventSink, maxRunes int) *MemoryStore {
	return &MemoryStore{
		byID:     make(map[int64]*model.Message),
		byScope:  make(map[string][]int64),
		node:     node,
		resolver: resolver,
		registry: registry,
		sink:     sink,
		maxRunes: maxRunes,
	}
}

func (s *MemoryStore) Append(ctx context.Context, req AppendRequest) (*model.Message, error) {
	sc, err := validate(ctx, s.registry, s.maxRunes, req)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:         s.node.Generate(),
		AuthorID:   req.AuthorID,
		AuthorRole: req.AuthorRole,
		AuthorName: req.AuthorName,
		Scope:      sc.String(),
		Content:    req.Content,
		CreatedAt:  time.Now().UTC(),
	}
	msg.ExpiresAt = s.resolver.Resolve(ctx, sc, req.OverrideHours)

	s.mu.Lock()
	s.byID[msg.ID] = msg
	ids := s.byScope[msg.Scope]
	s.byScope[msg.Scope] = append(ids, msg.ID)
	out := *msg
	s.mu.Unlock()

	emit(ctx, s.sink, model.Event{
		Kind:    model.EventInsert,
		Scope:   out.Scope,
		Message: &out,
		Token:   req.Token,
	})
	return &out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return nil, chaterr.NotFoundf("message %d", id)
	}
	out := *msg
	return &out, nil
}

func (s *MemoryStore) ListScope(ctx context.Context, sc string, sinceID int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byScope[sc]
	start := sort.Search(len(ids), func(i int) bool { return ids[i] > sinceID })

	var out []model.Message
	for _, id := range ids[start:] {
		if len(out) == limit {
			break
		}
		if msg, ok := s.byID[id]; ok {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	msg, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return false, chaterr.NotFoundf("message %d", id)
	}
	// The pinned re-check happens under the same lock as the removal, the
	// in-memory equivalent of the LWT.
	if msg.Pinned {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.byID, id)
	s.removeScopeID(msg.Scope, id)
	sc := msg.Scope
	s.mu.Unlock()

	emit(ctx, s.sink, model.Event{Kind: model.EventDelete, Scope: sc, MessageID: id})
	return true, nil
}

func (s *MemoryStore) SetPinned(ctx context.Context, id int64, pinned bool) (*model.Message, error) {
	s.mu.Lock()
	msg, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return nil, chaterr.NotFoundf("message %d", id)
	}
	msg.Pinned = pinned
	out := *msg
	s.mu.Unlock()

	emit(ctx, s.sink, model.Event{Kind: model.EventPin, Scope: out.Scope, Message: &out})
	return &out, nil
}

func (s *MemoryStore) ListExpired(ctx context.Context, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for id, msg := range s.byID {
		if msg.Expired(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) removeScopeID(sc string, id int64) {
	ids := s.byScope[sc]
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		s.byScope[sc] = append(ids[:i], ids[i+1:]...)
	}
}

package reconcile

import (
	"context"
	"sort"
	"time"

	"github.com/mahaj/dhuan/pkg/model"
)

// provisionalMatchWindow bounds the heuristic fallback used to pair an
// authoritative insert with a provisional when no correlation token came
// through (e.g. the echo arrived via another device's broadcast).
const provisionalMatchWindow = 30 * time.Second

// handleEvent is the single consumer for both delivery paths. Dedup by
// message id happens here, not in the bus.
func (e *Engine) handleEvent(ev model.Event) {
	switch ev.Kind {
	case model.EventInsert, model.EventPin:
		if ev.Message != nil {
			e.merge(*ev.Message, ev.Token)
		}
	case model.EventDelete:
		e.remove(ev.MessageID)
	case model.EventPresenceSync:
		e.mu.Lock()
		e.roster = make(map[string]model.Identity, len(ev.Roster))
		for _, id := range ev.Roster {
			e.roster[id.ClientID] = id
		}
		e.mu.Unlock()
		e.opts.OnChange()
	case model.EventPresenceJoin:
		if ev.Identity != nil {
			e.mu.Lock()
			e.roster[ev.Identity.ClientID] = *ev.Identity
			e.mu.Unlock()
			e.opts.OnChange()
		}
	case model.EventPresenceLeave:
		if ev.Identity != nil {
			e.mu.Lock()
			delete(e.roster, ev.Identity.ClientID)
			e.mu.Unlock()
			e.opts.OnChange()
		}
	}
}

// merge folds one authoritative record into the view: an existing entry with
// the same id is overwritten (authoritative copy wins), a matching
// provisional is replaced, otherwise the record is inserted. The view is
// re-sorted because concurrent sends arrive in publish order, not creation
// order.
func (e *Engine) merge(msg model.Message, token string) {
	e.mu.Lock()

	if existing, ok := e.byID[msg.ID]; ok {
		existing.Message = msg
		e.sortLocked()
		e.mu.Unlock()
		e.opts.OnChange()
		return
	}

	if entry := e.matchProvisionalLocked(msg, token); entry != nil {
		delete(e.byToken, entry.Token)
		entry.Message = msg
		entry.Provisional = false
		entry.Failed = false
		entry.Token = ""
		e.byID[msg.ID] = entry
		e.sortLocked()
		e.mu.Unlock()
		e.opts.OnChange()
		return
	}

	entry := &Entry{Message: msg}
	e.entries = append(e.entries, entry)
	e.byID[msg.ID] = entry
	e.sortLocked()
	e.mu.Unlock()
	e.opts.OnChange()
}

// matchProvisionalLocked pairs an authoritative insert with its optimistic
// placeholder: exact correlation token first, then the oldest unmatched
// provisional with the same author and content inside the match window.
func (e *Engine) matchProvisionalLocked(msg model.Message, token string) *Entry {
	if token != "" {
		if entry, ok := e.byToken[token]; ok && entry.Provisional {
			return entry
		}
	}
	for _, entry := range e.entries {
		if !entry.Provisional || entry.Failed {
			continue
		}
		if entry.Message.AuthorID != msg.AuthorID || entry.Message.Content != msg.Content {
			continue
		}
		if msg.CreatedAt.Sub(entry.Message.CreatedAt) < provisionalMatchWindow {
			return entry
		}
	}
	return nil
}

func (e *Engine) remove(id int64) {
	e.mu.Lock()
	entry, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.byID, id)
	e.dropLocked(entry)
	e.mu.Unlock()
	e.opts.OnChange()
}

// resync re-fetches the authoritative scope listing and diffs it against the
// view by id set: missing records are merged in, local entries no longer on
// the server are dropped unless they are still-unacknowledged provisionals.
// Idempotent; stable entries are left untouched.
func (e *Engine) resync(ctx context.Context) error {
	e.mu.Lock()
	sc := e.scope
	e.mu.Unlock()

	var all []model.Message
	var cursor int64
	for {
		page, err := e.backend.ListScope(ctx, sc, cursor, e.opts.ResyncLimit)
		if err != nil {
			return err
		}
		all = append(all, page...)
		if len(page) < e.opts.ResyncLimit {
			break
		}
		cursor = page[len(page)-1].ID
	}

	serverIDs := make(map[int64]bool, len(all))
	for _, msg := range all {
		serverIDs[msg.ID] = true
	}

	e.mu.Lock()
	var stale []*Entry
	for id, entry := range e.byID {
		if !serverIDs[id] {
			stale = append(stale, entry)
			delete(e.byID, id)
		}
	}
	for _, entry := range stale {
		e.dropLocked(entry)
	}
	changed := len(stale) > 0
	e.mu.Unlock()

	for _, msg := range all {
		e.mergeIfNew(msg)
	}
	if changed {
		e.opts.OnChange()
	}
	return nil
}

// mergeIfNew avoids flickering stable entries on resync: only ids not
// already present (or provisionals awaiting their echo) go through merge.
func (e *Engine) mergeIfNew(msg model.Message) {
	e.mu.Lock()
	if existing, ok := e.byID[msg.ID]; ok {
		// Pick up pin flips without re-sorting a stable entry.
		if existing.Message.Pinned != msg.Pinned {
			existing.Message.Pinned = msg.Pinned
			e.mu.Unlock()
			e.opts.OnChange()
			return
		}
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.merge(msg, "")
}

// localSweep purges expired, unpinned entries on the local clock,
// independent of server delete events, bounding staleness when those are
// missed.
func (e *Engine) localSweep() {
	now := e.now()
	e.mu.Lock()
	var dropped []*Entry
	for _, entry := range e.entries {
		if !entry.Provisional && entry.Message.Expired(now) {
			dropped = append(dropped, entry)
		}
	}
	for _, entry := range dropped {
		delete(e.byID, entry.Message.ID)
		e.dropLocked(entry)
	}
	e.mu.Unlock()
	if len(dropped) > 0 {
		e.opts.OnChange()
	}
}

func (e *Engine) dropLocked(target *Entry) {
	for i, entry := range e.entries {
		if entry == target {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			return
		}
	}
}

func (e *Engine) sortLocked() {
	sort.SliceStable(e.entries, func(i, j int) bool {
		a, b := e.entries[i].Message, e.entries[j].Message
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

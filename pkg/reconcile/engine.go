// Package reconcile maintains a client's consistent, ordered view of one
// scope: optimistic local sends, bus events from both delivery paths, and
// periodic resyncs against the authoritative store all merge into a single
// deduplicated list.
package reconcile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mahaj/dhuan/pkg/bus"
	"github.com/mahaj/dhuan/pkg/logger"
	"github.com/mahaj/dhuan/pkg/model"
	"github.com/mahaj/dhuan/pkg/store"
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StateLive
	// StateDegraded: subscription lost, converging via polling until a fresh
	// subscribe succeeds.
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Backend is the slice of the store the engine needs. Satisfied by
// store.Store directly and by the HTTP API client.
type Backend interface {
	Append(ctx context.Context, req store.AppendRequest) (*model.Message, error)
	ListScope(ctx context.Context, sc string, sinceID int64, limit int) ([]model.Message, error)
}

// Entry is one row of the local view. Provisional entries are optimistic
// local sends not yet acknowledged by the store; Failed marks a send whose
// append did not succeed, kept visible for retry.
type Entry struct {
	Message     model.Message
	Provisional bool
	Failed      bool
	Token       string
}

// Identity is the sending identity snapshot the engine stamps on
// provisionals and append requests.
type Identity struct {
	UserID      string
	Role        string
	DisplayName string
}

type Options struct {
	ResyncInterval     time.Duration // default 5s
	LocalSweepInterval time.Duration // default 60s
	SendTimeout        time.Duration // default 10s
	EstimatedTTL       time.Duration // provisional expiry estimate, default 24h
	ResyncLimit        int           // page size per resync fetch, default 500

	// OnChange fires after every view mutation, outside the engine lock.
	OnChange func()
	// OnState fires on state transitions.
	OnState func(State)
}

func (o Options) withDefaults() Options {
	if o.ResyncInterval <= 0 {
		o.ResyncInterval = 5 * time.Second
	}
	if o.LocalSweepInterval <= 0 {
		o.LocalSweepInterval = 60 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.EstimatedTTL <= 0 {
		o.EstimatedTTL = 24 * time.Hour
	}
	if o.ResyncLimit <= 0 {
		o.ResyncLimit = 500
	}
	if o.OnChange == nil {
		o.OnChange = func() {}
	}
	if o.OnState == nil {
		o.OnState = func(State) {}
	}
	return o
}

type Engine struct {
	backend  Backend
	bus      bus.Bus
	recon    *bus.Reconnector
	identity Identity
	opts     Options
	now      func() time.Time

	mu      sync.Mutex
	scope   string
	state   State
	entries []*Entry
	byID    map[int64]*Entry
	byToken map[string]*Entry
	roster  map[string]model.Identity
	sub     *bus.Subscription
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewEngine(backend Backend, b bus.Bus, policy bus.RetryPolicy, identity Identity, opts Options) *Engine {
	e := &Engine{
		backend:  backend,
		bus:      b,
		identity: identity,
		opts:     opts.withDefaults(),
		now:      time.Now,
		state:    StateIdle,
		byID:     make(map[int64]*Entry),
		byToken:  make(map[string]*Entry),
		roster:   make(map[string]model.Identity),
	}
	e.recon = bus.NewReconnector(b, policy, func(s bus.Status) {
		if s == bus.StatusDegraded {
			e.setState(StateDegraded)
		}
	})
	return e
}

// Open loads the scope backfill, subscribes to its channel and starts the
// resync and local-sweep tickers. If subscription retries exhaust, the
// engine enters Degraded and converges via polling; Open does not fail for
// that. Only one scope may be open at a time: Close first.
func (e *Engine) Open(ctx context.Context, sc string) error {
	e.mu.Lock()
	if e.state != StateIdle && e.state != StateClosed {
		e.mu.Unlock()
		return errors.Errorf("engine already open on scope %s", e.scope)
	}
	e.scope = sc
	e.state = StateLoading
	e.entries = nil
	e.byID = make(map[int64]*Entry)
	e.byToken = make(map[string]*Entry)
	e.roster = make(map[string]model.Identity)
	e.mu.Unlock()
	e.opts.OnState(StateLoading)

	if err := e.resync(ctx); err != nil {
		e.setState(StateIdle)
		return errors.Wrap(err, "initial backfill")
	}

	sub, err := e.recon.Subscribe(ctx, sc, e.handleEvent)

	e.mu.Lock()
	if err != nil {
		e.state = StateDegraded
		logger.Warn("subscription_degraded", "scope", sc, "error", err)
	} else {
		e.sub = sub
		e.state = StateLive
	}
	tickCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	done := make(chan struct{})
	e.done = done
	st := e.state
	e.mu.Unlock()

	e.opts.OnState(st)
	go e.loop(tickCtx, done)
	return nil
}

// Close synchronously unsubscribes and stops the tickers. Must complete
// before opening another scope so no duplicate handlers survive.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.state == StateClosed || e.state == StateIdle {
		e.mu.Unlock()
		return
	}
	sub := e.sub
	cancel := e.cancel
	done := e.done
	e.sub = nil
	e.cancel = nil
	e.state = StateClosed
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if sub != nil {
		sub.Close()
	}
	e.opts.OnState(StateClosed)
}

// Send renders a provisional entry immediately and appends through the
// backend. On success the authoritative record replaces the provisional and
// an explicit broadcast masks change-feed latency; on failure the entry is
// marked failed and kept for retry. Returns the correlation token.
func (e *Engine) Send(ctx context.Context, content string, overrideHours int) (string, error) {
	token := newToken()
	now := e.now()

	e.mu.Lock()
	sc := e.scope
	entry := &Entry{
		Message: model.Message{
			AuthorID:   e.identity.UserID,
			AuthorRole: e.identity.Role,
			AuthorName: e.identity.DisplayName,
			Scope:      sc,
			Content:    content,
			CreatedAt:  now,
			ExpiresAt:  now.Add(e.opts.EstimatedTTL),
		},
		Provisional: true,
		Token:       token,
	}
	e.entries = append(e.entries, entry)
	e.byToken[token] = entry
	e.mu.Unlock()
	e.opts.OnChange()

	return token, e.deliver(ctx, token, sc, content, overrideHours)
}

// Retry re-attempts a failed provisional send.
func (e *Engine) Retry(ctx context.Context, token string) error {
	e.mu.Lock()
	entry, ok := e.byToken[token]
	if !ok || !entry.Failed {
		e.mu.Unlock()
		return errors.Errorf("no failed send for token %s", token)
	}
	entry.Failed = false
	sc := e.scope
	content := entry.Message.Content
	e.mu.Unlock()
	e.opts.OnChange()

	return e.deliver(ctx, token, sc, content, 0)
}

func (e *Engine) deliver(ctx context.Context, token, sc, content string, overrideHours int) error {
	sendCtx, cancel := context.WithTimeout(ctx, e.opts.SendTimeout)
	defer cancel()

	msg, err := e.backend.Append(sendCtx, store.AppendRequest{
		AuthorID:      e.identity.UserID,
		AuthorRole:    e.identity.Role,
		AuthorName:    e.identity.DisplayName,
		Scope:         sc,
		Content:       content,
		OverrideHours: overrideHours,
		Token:         token,
	})
	if err != nil {
		e.mu.Lock()
		if entry, ok := e.byToken[token]; ok {
			entry.Failed = true
		}
		e.mu.Unlock()
		e.opts.OnChange()
		return err
	}

	e.merge(*msg, token)

	// Explicit broadcast, second delivery path. Fire-and-forget: the append
	// already succeeded and the change feed delivers eventually regardless.
	go func() {
		bctx, bcancel := context.WithTimeout(context.Background(), e.opts.SendTimeout)
		defer bcancel()
		if err := e.bus.Publish(bctx, sc, model.Event{
			Kind:    model.EventInsert,
			Scope:   sc,
			Message: msg,
			Token:   token,
		}); err != nil {
			logger.Debug("broadcast_failed", "scope", sc, "error", err)
		}
	}()
	return nil
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot returns a copy of the current ordered view.
func (e *Engine) Snapshot() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Entry, len(e.entries))
	for i, entry := range e.entries {
		out[i] = *entry
	}
	return out
}

// Presence returns the advisory roster mirror.
func (e *Engine) Presence() []model.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Identity, 0, len(e.roster))
	for _, id := range e.roster {
		out = append(out, id)
	}
	return out
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	if e.state == StateClosed || e.state == s {
		e.mu.Unlock()
		return
	}
	e.state = s
	e.mu.Unlock()
	e.opts.OnState(s)
}

// loop owns exactly the done channel it was started with. A Close racing a
// reopen must never see the old loop close the new channel.
func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	resync := time.NewTicker(e.opts.ResyncInterval)
	sweep := time.NewTicker(e.opts.LocalSweepInterval)
	defer resync.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-resync.C:
			if err := e.resync(ctx); err != nil && ctx.Err() == nil {
				logger.Debug("resync_failed", "scope", e.scopeName(), "error", err)
			}
			e.tryResubscribe(ctx)
		case <-sweep.C:
			e.localSweep()
		}
	}
}

// tryResubscribe attempts a single fresh subscription while degraded. The
// bounded-backoff path already ran and gave up; from here one cheap attempt
// per resync tick is enough, with polling covering the gap.
func (e *Engine) tryResubscribe(ctx context.Context) {
	e.mu.Lock()
	degraded := e.state == StateDegraded
	sc := e.scope
	e.mu.Unlock()
	if !degraded {
		return
	}

	sub, err := e.bus.Subscribe(ctx, sc, e.handleEvent)
	if err != nil {
		return
	}

	e.mu.Lock()
	if e.state != StateDegraded {
		// Closed (or otherwise moved on) while we were dialing.
		e.mu.Unlock()
		sub.Close()
		return
	}
	e.sub = sub
	e.state = StateLive
	e.mu.Unlock()
	e.opts.OnState(StateLive)
	logger.Info("subscription_recovered", "scope", sc)
}

func (e *Engine) scopeName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scope
}

func newToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

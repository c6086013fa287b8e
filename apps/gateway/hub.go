package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mahaj/dhuan/pkg/bus"
	"github.com/mahaj/dhuan/pkg/logger"
	"github.com/mahaj/dhuan/pkg/model"
	"github.com/mahaj/dhuan/pkg/presence"
)

// Hub relays bus events to websocket clients. One bus subscription exists
// per scope with at least one connected socket; it is owned by the scope's
// room and closed when the last socket leaves. No channel-name registry is
// exposed outside the hub.
type Hub struct {
	bus      bus.Bus
	recon    *bus.Reconnector
	presence presence.Tracker

	mu    sync.Mutex
	rooms map[string]*room

	register   chan *Client
	unregister chan *Client
	outbound   chan outboundEvent
}

type room struct {
	clients map[*Client]bool
	sub     *bus.Subscription
}

type outboundEvent struct {
	scope   string
	payload []byte
}

func NewHub(b bus.Bus, tracker presence.Tracker, policy bus.RetryPolicy) *Hub {
	return &Hub{
		bus:        b,
		recon:      bus.NewReconnector(b, policy, nil),
		presence:   tracker,
		rooms:      make(map[string]*room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan outboundEvent, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.addClient(ctx, client)
		case client := <-h.unregister:
			h.removeClient(ctx, client)
		case ev := <-h.outbound:
			h.fanOut(ev)
		}
	}
}

func (h *Hub) addClient(ctx context.Context, client *Client) {
	h.mu.Lock()
	rm := h.rooms[client.Scope]
	if rm == nil {
		rm = &room{clients: make(map[*Client]bool)}
		h.rooms[client.Scope] = rm
		go h.subscribeRoom(ctx, client.Scope, rm)
	}
	rm.clients[client] = true
	h.mu.Unlock()

	identity := model.Identity{
		ClientID:    client.UserID,
		DisplayName: client.DisplayName,
		JoinedAt:    time.Now().UTC(),
	}
	if err := h.presence.Track(ctx, client.Scope, identity); err != nil {
		logger.Warn("presence_track_failed", "client", client.UserID, "error", err)
	}

	// Full roster snapshot straight to the joining socket, so it can rebuild
	// its presence mirror; incremental join goes to everyone via the bus.
	if roster, err := h.presence.List(ctx, client.Scope); err == nil {
		if payload, err := json.Marshal(model.Event{
			Kind:   model.EventPresenceSync,
			Scope:  client.Scope,
			Roster: roster,
		}); err == nil {
			client.trySend(payload)
		}
	}

	go h.publishPresence(model.EventPresenceJoin, client.Scope, identity)
	logger.Info("client_joined", "client", client.UserID, "scope", client.Scope)
}

func (h *Hub) removeClient(ctx context.Context, client *Client) {
	h.mu.Lock()
	var closeSub *bus.Subscription
	if rm := h.rooms[client.Scope]; rm != nil {
		// Stalled sockets were already evicted (and their channel closed)
		// by fanOut; only close the channel once.
		if rm.clients[client] {
			delete(rm.clients, client)
			close(client.send)
		}
		if len(rm.clients) == 0 {
			closeSub = rm.sub
			delete(h.rooms, client.Scope)
		}
	}
	h.mu.Unlock()

	if closeSub != nil {
		closeSub.Close()
	}

	if err := h.presence.Untrack(ctx, client.Scope, client.UserID); err != nil {
		logger.Warn("presence_untrack_failed", "client", client.UserID, "error", err)
	}
	go h.publishPresence(model.EventPresenceLeave, client.Scope, model.Identity{ClientID: client.UserID})
	logger.Info("client_left", "client", client.UserID, "scope", client.Scope)
}

// subscribeRoom attaches the scope's bus subscription with the shared
// backoff policy, off the hub loop so a slow broker never stalls other
// rooms. Clients keep converging via store polling until it lands.
func (h *Hub) subscribeRoom(ctx context.Context, sc string, rm *room) {
	sub, err := h.recon.Subscribe(ctx, sc, func(ev model.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		h.outbound <- outboundEvent{scope: sc, payload: payload}
	})
	if err != nil {
		logger.Error("scope_subscribe_failed", "scope", sc, "error", err)
		return
	}

	h.mu.Lock()
	if h.rooms[sc] != rm {
		// Room emptied out while the subscription was being established.
		h.mu.Unlock()
		sub.Close()
		return
	}
	rm.sub = sub
	h.mu.Unlock()
}

func (h *Hub) fanOut(ev outboundEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm := h.rooms[ev.scope]
	if rm == nil {
		return
	}
	for client := range rm.clients {
		select {
		case client.send <- ev.payload:
		default:
			// Stalled socket: drop it rather than blocking the room.
			close(client.send)
			delete(rm.clients, client)
		}
	}
}

func (h *Hub) publishPresence(kind model.EventKind, sc string, identity model.Identity) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.bus.Publish(ctx, sc, model.Event{Kind: kind, Scope: sc, Identity: &identity}); err != nil {
		logger.Debug("presence_publish_failed", "kind", kind, "scope", sc, "error", err)
	}
}

// relayBroadcast publishes a client's explicit post-append broadcast. Only
// insert events carrying a full message are accepted from sockets; the
// change feed remains the authoritative path.
func (h *Hub) relayBroadcast(client *Client, raw []byte) {
	var ev model.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		logger.Debug("broadcast_frame_invalid", "client", client.UserID, "error", err)
		return
	}
	if ev.Kind != model.EventInsert || ev.Message == nil {
		return
	}
	if ev.Message.AuthorID != client.UserID {
		logger.Warn("broadcast_author_mismatch", "client", client.UserID, "claimed", ev.Message.AuthorID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.bus.Publish(ctx, client.Scope, ev); err != nil {
		logger.Debug("broadcast_relay_failed", "scope", client.Scope, "error", err)
	}
}

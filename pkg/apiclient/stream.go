package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mahaj/dhuan/pkg/bus"
	"github.com/mahaj/dhuan/pkg/chaterr"
	"github.com/mahaj/dhuan/pkg/logger"
	"github.com/mahaj/dhuan/pkg/model"
)

// StreamBus implements bus.Bus over the gateway's websocket stream.
// Subscribe opens one socket per scope; Publish sends the explicit
// post-append broadcast over that scope's socket. Designed for client
// processes which hold one active scope at a time.
type StreamBus struct {
	gatewayAddr string
	token       string

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func NewStreamBus(gatewayAddr, token string) *StreamBus {
	return &StreamBus{
		gatewayAddr: gatewayAddr,
		token:       token,
		conns:       make(map[string]*websocket.Conn),
	}
}

func (b *StreamBus) Publish(ctx context.Context, sc string, ev model.Event) error {
	b.mu.Lock()
	conn := b.conns[sc]
	b.mu.Unlock()
	if conn == nil {
		return chaterr.Transient(nil, "no open stream for scope "+sc)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return chaterr.Transient(err, "stream write")
	}
	return nil
}

func (b *StreamBus) Subscribe(ctx context.Context, sc string, h bus.Handler) (*bus.Subscription, error) {
	u := url.URL{Scheme: "ws", Host: b.gatewayAddr, Path: "/ws"}
	q := u.Query()
	q.Set("scope", sc)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Add("Authorization", "Bearer "+b.token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, chaterr.Transient(err, "gateway dial")
	}

	b.mu.Lock()
	b.conns[sc] = conn
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev model.Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				logger.Debug("stream_frame_invalid", "error", err)
				continue
			}
			h(ev)
		}
	}()

	return bus.NewSubscription(sc, func() {
		b.mu.Lock()
		if b.conns[sc] == conn {
			delete(b.conns, sc)
		}
		b.mu.Unlock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
		<-done
	}), nil
}

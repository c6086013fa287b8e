// Package apiclient is the client-side adapter pair for the reconciliation
// engine: an HTTP client satisfying reconcile.Backend against the API
// service, and a websocket-backed bus over the gateway stream.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mahaj/dhuan/pkg/chaterr"
	"github.com/mahaj/dhuan/pkg/model"
	"github.com/mahaj/dhuan/pkg/store"
)

// Client talks to the API service. Token is the bearer token from Login.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Token() string { return c.token }

// Login obtains and retains a bearer token for the identity snapshot.
func (c *Client) Login(ctx context.Context, userID, role, displayName string) error {
	body, _ := json.Marshal(map[string]string{
		"user_id":      userID,
		"role":         role,
		"display_name": displayName,
	})
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/login", body, &out); err != nil {
		return err
	}
	c.token = out.Token
	return nil
}

// Append implements reconcile.Backend.
func (c *Client) Append(ctx context.Context, req store.AppendRequest) (*model.Message, error) {
	body, _ := json.Marshal(map[string]any{
		"scope":          req.Scope,
		"content":        req.Content,
		"override_hours": req.OverrideHours,
		"token":          req.Token,
	})
	var msg model.Message
	if err := c.do(ctx, http.MethodPost, "/messages", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListScope implements reconcile.Backend.
func (c *Client) ListScope(ctx context.Context, sc string, sinceID int64, limit int) ([]model.Message, error) {
	path := fmt.Sprintf("/messages?scope=%s&since=%d&limit=%d", sc, sinceID, limit)
	var msgs []model.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SetPinned toggles a pin (admin token required).
func (c *Client) SetPinned(ctx context.Context, id int64, pinned bool) error {
	body, _ := json.Marshal(map[string]any{"id": id, "pinned": pinned})
	return c.do(ctx, http.MethodPost, "/messages/pin", body, nil)
}

// TriggerCleanup runs an on-demand sweep (admin token required).
func (c *Client) TriggerCleanup(ctx context.Context) (int, error) {
	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := c.do(ctx, http.MethodPost, "/admin/cleanup", []byte("{}"), &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return chaterr.Transient(err, "api request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return statusErr(resp.StatusCode, string(bytes.TrimSpace(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusErr maps HTTP statuses back onto the error taxonomy.
func statusErr(code int, msg string) error {
	switch code {
	case http.StatusBadRequest:
		return chaterr.Validationf("%s", msg)
	case http.StatusForbidden, http.StatusUnauthorized:
		return chaterr.Permissionf("%s", msg)
	case http.StatusNotFound:
		return chaterr.NotFoundf("%s", msg)
	case http.StatusConflict:
		return chaterr.Conflictf("%s", msg)
	}
	return chaterr.Transient(fmt.Errorf("status %d: %s", code, msg), "api request")
}

package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/mahaj/dhuan/pkg/auth"
	"github.com/mahaj/dhuan/pkg/chaterr"
	"github.com/mahaj/dhuan/pkg/presence"
	"github.com/mahaj/dhuan/pkg/retention"
	"github.com/mahaj/dhuan/pkg/scope"
	"github.com/mahaj/dhuan/pkg/store"
	"github.com/mahaj/dhuan/pkg/sweep"
)

type handlers struct {
	store    store.Store
	settings retention.Settings
	sweeper  *sweep.Sweeper
	presence presence.Tracker
}

// writeErr maps the error taxonomy onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case chaterr.Is(err, chaterr.KindValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case chaterr.Is(err, chaterr.KindPermission):
		http.Error(w, err.Error(), http.StatusForbidden)
	case chaterr.Is(err, chaterr.KindNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case chaterr.Is(err, chaterr.KindConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

type appendRequest struct {
	Scope         string `json:"scope"`
	Content       string `json:"content"`
	OverrideHours int    `json:"override_hours,omitempty"`
	Token         string `json:"token,omitempty"`
}

func (h *handlers) messages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.appendMessage(w, r)
	case http.MethodGet:
		h.listMessages(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *handlers) appendMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Direct scopes may only be appended to by their participants.
	if sc, err := scope.Parse(req.Scope); err == nil && !sc.Member(claims.UserID) {
		http.Error(w, "not a participant of this scope", http.StatusForbidden)
		return
	}

	msg, err := h.store.Append(r.Context(), store.AppendRequest{
		AuthorID:      claims.UserID,
		AuthorRole:    claims.Role,
		AuthorName:    claims.DisplayName,
		Scope:         req.Scope,
		Content:       req.Content,
		OverrideHours: req.OverrideHours,
		Token:         req.Token,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, msg)
}

func (h *handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	sc := r.URL.Query().Get("scope")
	if _, err := scope.Parse(sc); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := h.store.ListScope(r.Context(), sc, since, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, msgs)
}

type pinRequest struct {
	ID     int64 `json:"id"`
	Pinned bool  `json:"pinned"`
}

func (h *handlers) pin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, _ := auth.ClaimsFrom(r.Context())
	if err := auth.RequireAdmin(claims); err != nil {
		writeErr(w, err)
		return
	}

	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.store.SetPinned(r.Context(), req.ID, req.Pinned)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]bool{"pinned": msg.Pinned})
}

func (h *handlers) cleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, _ := auth.ClaimsFrom(r.Context())
	if err := auth.RequireAdmin(claims); err != nil {
		writeErr(w, err)
		return
	}

	deleted, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]int{"deleted": deleted})
}

func (h *handlers) retention(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		hours, err := h.settings.DefaultRetentionHours(r.Context())
		if chaterr.Is(err, chaterr.KindNotFound) {
			hours = retention.FallbackHours
		} else if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]int{"hours": hours})

	case http.MethodPut:
		claims, _ := auth.ClaimsFrom(r.Context())
		if err := auth.RequireAdmin(claims); err != nil {
			writeErr(w, err)
			return
		}
		var req struct {
			Hours int `json:"hours"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := h.settings.SetDefaultRetentionHours(r.Context(), req.Hours, claims.UserID); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]bool{"ok": true})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// scopeClients serves /scopes/{scope}/clients.
func (h *handlers) scopeClients(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/scopes/")
	sc, ok := strings.CutSuffix(path, "/clients")
	if !ok || sc == "" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	clients, err := h.presence.List(r.Context(), sc)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, clients)
}

package main

import (
	"encoding/json"
	"net/http"

	"github.com/mahaj/dhuan/pkg/auth"
)

type LoginRequest struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// LoginHandler issues a token carrying the identity snapshot. The real
// identity provider sits in front of this in production; role assignment is
// outside this service.
func LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = "member"
	}
	if req.DisplayName == "" {
		req.DisplayName = req.UserID
	}

	token, err := auth.GenerateToken(req.UserID, req.Role, req.DisplayName)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, LoginResponse{Token: token})
}

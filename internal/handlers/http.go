// internal/handlers/http.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/skirmish/internal/auth"
	"github.com/jason-s-yu/skirmish/internal/models"
)

const maxUsernameLength = 32

// RoomLister serves the public room listing.
type RoomLister interface {
	ListPublicRooms() []models.RoomSummary
}

// ListRoomsHandler handles GET /rooms.
func ListRoomsHandler(rooms RoomLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms.ListPublicRooms()})
	}
}

// Check probes one dependency for /healthz.
type Check func(ctx context.Context) error

// HealthHandler reports 200 when every check passes and 503 otherwise.
func HealthHandler(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		writeJSON(w, status, map[string]any{"status": state, "checks": results})
	}
}

type guestRequest struct {
	Username string `json:"username"`
}

// GuestHandler handles POST /auth/guest. It mints a fresh user id, signs a
// token for it and sets the auth cookie.
func GuestHandler(signer *auth.Signer, secureCookie bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req guestRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		username := strings.TrimSpace(req.Username)
		if username == "" {
			username = "Guest"
		}
		if len(username) > maxUsernameLength {
			writeError(w, http.StatusBadRequest, "username is too long")
			return
		}

		userID := uuid.NewString()
		token, err := signer.Issue(userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to issue token")
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     auth.CookieName,
			Value:    token,
			HttpOnly: true,
			Secure:   secureCookie,
			SameSite: http.SameSiteLaxMode,
			Path:     "/",
		})
		writeJSON(w, http.StatusCreated, map[string]string{
			"userId":   userID,
			"username": username,
			"token":    token,
		})
	}
}

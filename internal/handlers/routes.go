package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jason-s-yu/skirmish/internal/auth"
	"github.com/jason-s-yu/skirmish/internal/middleware"
	"github.com/sirupsen/logrus"
)

// Deps are the collaborators of the HTTP surface. HTTPLimiter throttles the
// plain HTTP endpoints per client address; a nil Signer disables /auth/guest.
type Deps struct {
	Log          logrus.FieldLogger
	Rooms        RoomLister
	WS           http.Handler
	Signer       *auth.Signer
	HTTPLimiter  *middleware.RateLimiter
	Checks       map[string]Check
	SecureCookie bool
}

// NewRouter mounts /ws, /rooms, /auth/guest and /healthz.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.LogMiddleware(d.Log))

	r.Get("/healthz", HealthHandler(d.Checks))
	r.Handle("/ws", d.WS)

	r.Group(func(r chi.Router) {
		if d.HTTPLimiter != nil {
			r.Use(d.HTTPLimiter.Middleware())
		}
		r.Get("/rooms", ListRoomsHandler(d.Rooms))
		if d.Signer != nil {
			r.Post("/auth/guest", GuestHandler(d.Signer, d.SecureCookie))
		}
	})
	return r
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wrenfield/loreshare/internal/session"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(sess *session.Session, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(sess)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Tree.
	r.Get("/tree", h.GetTree)
	r.Post("/tree/import", h.ImportTree)
	r.Post("/tree/move", h.MoveEntry)

	// Pages.
	r.Get("/pages/{id}/content", h.GetContent)
	r.Patch("/pages/{id}", h.SetVisibility)

	// Shares.
	r.Post("/share", h.Share)

	// Session state.
	r.Get("/status", h.GetStatus)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

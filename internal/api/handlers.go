package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/wrenfield/loreshare/internal/apperr"
	"github.com/wrenfield/loreshare/internal/session"
	"github.com/wrenfield/loreshare/internal/tree"
)

// Handler holds API route handlers.
type Handler struct {
	sess *session.Session
}

// NewHandler creates a new Handler.
func NewHandler(sess *session.Session) *Handler {
	return &Handler{sess: sess}
}

// GetTree handles GET /api/tree.
//
//	@Summary		Get the document tree as this participant sees it
//	@Tags			tree
//	@Produce		json
//	@Success		200	{object}	TreeResponse
//	@Security		BearerAuth
//	@Router			/tree [get]
func (h *Handler) GetTree(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TreeResponse{Role: h.sess.Role(), Tree: h.sess.Tree()})
}

// GetContent handles GET /api/pages/{id}/content.
//
//	@Summary		Get one page's rendered HTML
//	@Tags			pages
//	@Produce		json
//	@Param			id		path		string	true	"Page id"
//	@Param			refresh	query		bool	false	"Bypass caches and re-render"
//	@Success		200		{object}	ContentResponse
//	@Failure		404		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Failure		504		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{id}/content [get]
func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	html, err := h.sess.Content(r.Context(), id, refresh)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrUnavailable):
			writeJSON(w, http.StatusBadGateway, errorBody("content unavailable"))
		case errors.Is(err, apperr.ErrTimeout):
			writeJSON(w, http.StatusGatewayTimeout, errorBody("no answer from the owner"))
		default:
			slog.Error("content failed", slog.String("page", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, ContentResponse{PageID: id, HTML: html})
}

// ImportTree handles POST /api/tree/import.
//
//	@Summary		Import a document tree under an explicit policy
//	@Tags			tree
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ImportTreeRequest	true	"Tree and policy"
//	@Success		200		{object}	TreeResponse
//	@Failure		400		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tree/import [post]
func (h *Handler) ImportTree(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req ImportTreeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	policy, err := tree.ParsePolicy(req.Policy)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := h.sess.ImportTree(req.Tree, policy); err != nil {
		if errors.Is(err, apperr.ErrNotOwner) {
			writeJSON(w, http.StatusForbidden, errorBody("only the owner edits the tree"))
		} else {
			slog.Error("import failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, TreeResponse{Role: h.sess.Role(), Tree: h.sess.Tree()})
}

// MoveEntry handles POST /api/tree/move.
//
//	@Summary		Move an entry one slot within its level
//	@Tags			tree
//	@Accept			json
//	@Produce		json
//	@Param			body	body		MoveEntryRequest	true	"Position and direction"
//	@Success		200		{object}	MoveEntryResponse
//	@Failure		400		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tree/move [post]
func (h *Handler) MoveEntry(w http.ResponseWriter, r *http.Request) {
	var req MoveEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Dir != -1 && req.Dir != 1 {
		writeJSON(w, http.StatusBadRequest, errorBody("dir must be -1 or 1"))
		return
	}
	moved, err := h.sess.MoveEntry(req.CategoryID, req.Pos, req.Dir)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotOwner):
			writeJSON(w, http.StatusForbidden, errorBody("only the owner edits the tree"))
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("category not found"))
		default:
			slog.Error("move failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, MoveEntryResponse{Moved: moved})
}

// SetVisibility handles PATCH /api/pages/{id}.
//
//	@Summary		Show or hide a page for viewers
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Page id"
//	@Param			body	body		VisibilityRequest	true	"New visibility"
//	@Success		200		{object}	map[string]any
//	@Failure		400		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{id} [patch]
func (h *Handler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req VisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.VisibleToViewers == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("visible_to_viewers is required"))
		return
	}
	if err := h.sess.SetPageVisibility(id, *req.VisibleToViewers); err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotOwner):
			writeJSON(w, http.StatusForbidden, errorBody("only the owner edits the tree"))
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("page not found"))
		default:
			slog.Error("visibility change failed", slog.String("page", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"page_id":            id,
		"visible_to_viewers": *req.VisibleToViewers,
	})
}

// Share handles POST /api/share.
//
//	@Summary		Broadcast a link or rendered fragment to the room
//	@Tags			share
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ShareRequest	true	"What to share"
//	@Success		200		{object}	ShareResponse
//	@Failure		400		{object}	errResponse
//	@Failure		413		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/share [post]
func (h *Handler) Share(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	var kind string
	var err error
	switch {
	case req.URL != "" && req.HTML != "":
		writeJSON(w, http.StatusBadRequest, errorBody("provide url or html, not both"))
		return
	case req.URL != "":
		kind, err = "url", h.sess.ShareURL(req.URL, req.Title)
	case req.HTML != "":
		kind, err = "html", h.sess.ShareHTML(req.HTML, req.Title)
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("url or html is required"))
		return
	}
	if err != nil {
		if errors.Is(err, apperr.ErrPayloadTooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("fragment exceeds the payload ceiling; share a url instead"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, ShareResponse{Kind: kind})
}

// GetStatus handles GET /api/status.
//
//	@Summary		Get the session's room view
//	@Tags			status
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.Status())
}

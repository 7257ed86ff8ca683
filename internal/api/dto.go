package api

import (
	"github.com/wrenfield/loreshare/internal/roles"
	"github.com/wrenfield/loreshare/internal/session"
	"github.com/wrenfield/loreshare/internal/tree"
)

// TreeResponse pairs the tree a participant is shown with the role that
// shaped it.
type TreeResponse struct {
	Role roles.Role `json:"role" example:"viewer" validate:"required"`
	Tree tree.Tree  `json:"tree" validate:"required"`
}

// ContentResponse carries one page's rendered HTML.
type ContentResponse struct {
	PageID string `json:"page_id" example:"p-01hq3v" validate:"required"`
	HTML   string `json:"html" validate:"required"`
}

// ImportTreeRequest is the request body for importing a document tree.
type ImportTreeRequest struct {
	Policy string    `json:"policy" example:"merge" validate:"required"`
	Tree   tree.Tree `json:"tree" validate:"required"`
}

// MoveEntryRequest nudges the entry at Pos of one level. CategoryID empty
// addresses the root level; Dir is -1 for up, 1 for down.
type MoveEntryRequest struct {
	CategoryID string `json:"category_id,omitempty" example:"c-01hq3v"`
	Pos        int    `json:"pos" example:"2"`
	Dir        int    `json:"dir" example:"-1" validate:"required"`
}

// MoveEntryResponse reports whether the nudge changed anything.
type MoveEntryResponse struct {
	Moved bool `json:"moved"`
}

// VisibilityRequest flips one page's viewer visibility.
type VisibilityRequest struct {
	VisibleToViewers *bool `json:"visible_to_viewers" validate:"required"`
}

// ShareRequest broadcasts a link or a rendered fragment to the room.
// Exactly one of URL and HTML must be set.
type ShareRequest struct {
	URL   string `json:"url,omitempty" example:"https://wiki.example/ferry"`
	HTML  string `json:"html,omitempty"`
	Title string `json:"title,omitempty" example:"Ferry Routes"`
}

// ShareResponse echoes what kind of share went out.
type ShareResponse struct {
	Kind string `json:"kind" example:"url" validate:"required"`
}

// StatusResponse is the session state (aliased from the session layer).
type StatusResponse = session.Status

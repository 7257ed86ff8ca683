package contentsrc

import (
	"context"
	"fmt"

	"github.com/wrenfield/loreshare/internal/apperr"
	"github.com/wrenfield/loreshare/internal/tree"
)

// Static serves fixed fragments by page id. It stands in for a real
// source in tests and in rooms curated entirely by hand.
type Static struct {
	pages map[string]string
}

// NewStatic creates a static source over a page-id-to-HTML map.
func NewStatic(pages map[string]string) *Static {
	if pages == nil {
		pages = make(map[string]string)
	}
	return &Static{pages: pages}
}

// Set adds or replaces a fragment.
func (s *Static) Set(pageID, html string) {
	s.pages[pageID] = html
}

// Render returns the stored fragment for the page.
func (s *Static) Render(_ context.Context, p tree.Page) (string, error) {
	out, ok := s.pages[p.ID]
	if !ok {
		return "", fmt.Errorf("contentsrc: no content for page %q: %w", p.ID, apperr.ErrNotFound)
	}
	return out, nil
}

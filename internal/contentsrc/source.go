// Package contentsrc renders a page's content from wherever it lives.
// The owner is the only participant that talks to sources directly;
// everyone else receives the rendered result over the bus.
package contentsrc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wrenfield/loreshare/internal/apperr"
	"github.com/wrenfield/loreshare/internal/tree"
)

// Source produces the rendered HTML for a page.
type Source interface {
	Render(ctx context.Context, p tree.Page) (string, error)
}

// maxFetchBytes bounds how much of a source document is read. Anything
// this large would never fit a bus payload anyway.
const maxFetchBytes = 2 << 20

// HTTP fetches a page's source URL and cuts the document down to the
// parts its render filter selects.
type HTTP struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTP creates an HTTP source. The client timeout is a backstop; per
// request cancellation comes from ctx.
func NewHTTP(logger *slog.Logger) *HTTP {
	return &HTTP{
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

// Render fetches and filters the page's source document. Pages without a
// source URL cannot be rendered here and report apperr.ErrUnavailable.
func (h *HTTP) Render(ctx context.Context, p tree.Page) (string, error) {
	if p.SourceURL == "" {
		return "", fmt.Errorf("contentsrc: page %q has no source url: %w", p.Name, apperr.ErrUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.SourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("contentsrc: build request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("contentsrc: fetch %s: %w", p.SourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("contentsrc: fetch %s: status %d", p.SourceURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("contentsrc: read %s: %w", p.SourceURL, err)
	}

	out, err := filterDocument(body, p.RenderFilter)
	if err != nil {
		return "", fmt.Errorf("contentsrc: render %s: %w", p.SourceURL, err)
	}

	h.logger.Debug("contentsrc: rendered",
		slog.String("page", p.ID),
		slog.String("url", p.SourceURL),
		slog.Int("bytes", len(out)))
	return out, nil
}

// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the room's shared tree to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wrenfield/loreshare/internal/apperr"
	"github.com/wrenfield/loreshare/internal/session"
	"github.com/wrenfield/loreshare/internal/tree"
)

// Server wraps the MCP server with Loreshare tools.
type Server struct {
	mcp  *server.MCPServer
	sess *session.Session
}

// New creates a new MCP server with all Loreshare tools registered.
func New(sess *session.Session) *Server {
	s := &Server{sess: sess}

	s.mcp = server.NewMCPServer(
		"Loreshare",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_tree",
		mcp.WithDescription("Get the room's document tree as this participant sees it. "+
			"Viewers only receive pages the owner marked visible."),
	), s.getTree)

	s.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List the tree's pages in display order with their ids and category path."),
	), s.listPages)

	s.mcp.AddTool(mcp.NewTool("read_page",
		mcp.WithDescription("Read one page's rendered HTML. Non-owners are answered from "+
			"the local cache or by asking the room's owner."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Page id from get_tree or list_pages")),
		mcp.WithBoolean("refresh", mcp.Description("Bypass caches and re-render")),
	), s.readPage)

	s.mcp.AddTool(mcp.NewTool("share_url",
		mcp.WithDescription("Share a link with everyone in the room."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Absolute http(s) URL to share")),
		mcp.WithString("title", mcp.Description("Optional display title")),
	), s.shareURL)

	// Resource: live session status.
	s.mcp.AddResource(
		mcp.NewResource("loreshare://status", "Session Status",
			mcp.WithResourceDescription("Current role, owner and room state of this participant."),
			mcp.WithMIMEType("application/json"),
		),
		s.readStatusResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// Listen serves the MCP protocol over the given streams until ctx is
// cancelled. The entrypoint uses this so the session and the stdio
// transport share one lifetime.
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) getTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(map[string]any{
		"role": s.sess.Role(),
		"tree": s.sess.Tree(),
	}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// pageEntry is one row of the list_pages output.
type pageEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Visible  bool   `json:"visible_to_viewers"`
}

func (s *Server) listPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t := s.sess.Tree()
	entries := collectPages(&t.Level, "")
	if len(entries) == 0 {
		return mcp.NewToolResultText("no pages"), nil
	}
	out, _ := json.MarshalIndent(entries, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

// collectPages flattens a level in display order, tagging each page with
// the category path it sits under.
func collectPages(l *tree.Level, at string) []pageEntry {
	var out []pageEntry
	for _, e := range tree.CombinedOrder(l) {
		switch e.Kind {
		case tree.KindPage:
			p := l.Pages[e.Index]
			out = append(out, pageEntry{ID: p.ID, Name: p.Name, Category: at, Visible: p.VisibleToViewers})
		case tree.KindCategory:
			c := &l.Categories[e.Index]
			sub := c.Name
			if at != "" {
				sub = at + " / " + c.Name
			}
			out = append(out, collectPages(&c.Level, sub)...)
		}
	}
	return out
}

func (s *Server) readPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	refresh := req.GetBool("refresh", false)

	html, err := s.sess.Content(ctx, id, refresh)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			return mcp.NewToolResultError(fmt.Sprintf("page not found: %s", id)), nil
		case errors.Is(err, apperr.ErrUnavailable):
			return mcp.NewToolResultError(fmt.Sprintf("the owner could not serve %s", id)), nil
		case errors.Is(err, apperr.ErrTimeout):
			return mcp.NewToolResultError("no answer from the owner"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(html), nil
}

func (s *Server) shareURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title := req.GetString("title", "")

	if err := s.sess.ShareURL(rawURL, title); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if title == "" {
		title = rawURL
	}
	return mcp.NewToolResultText(fmt.Sprintf("shared: %s", title)), nil
}

func (s *Server) readStatusResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := json.MarshalIndent(s.sess.Status(), "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "loreshare://status",
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}

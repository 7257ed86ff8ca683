package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wrenfield/loreshare/internal/apperr"
	"github.com/wrenfield/loreshare/internal/bus"
	"github.com/wrenfield/loreshare/internal/roles"
	"github.com/wrenfield/loreshare/internal/tree"
	"github.com/wrenfield/loreshare/internal/wire"
)

// activateOwner starts the serving half of the session: answer tree and
// content requests, watch the canonical file for edits made outside the
// process, and announce the current tree so followers have state before
// their first request.
func (s *Session) activateOwner(ctx context.Context) {
	s.stops = append(s.stops,
		s.coord.Serve(wire.ChanRequestVisibleTree, s.serveVisibleTree),
		s.coord.Serve(wire.ChanRequestFullTree, s.serveFullTree),
		s.coord.Serve(wire.ChanRequestContent, s.serveContent),
	)

	wctx, cancel := context.WithCancel(ctx)
	s.stops = append(s.stops, cancel)
	go func() {
		err := s.store.Watch(wctx, func(_ tree.Tree) {
			s.broadcastTree()
			s.events.PublishTreeUpdated("watch")
		})
		if err != nil && wctx.Err() == nil {
			s.logger.Error("session: tree watch stopped", slog.String("error", err.Error()))
		}
	}()

	s.broadcastTree()
}

// adoptFullTree is the promotion handoff: before serving, ask whoever was
// serving for the complete tree so the new owner does not start from an
// empty or stale file. On silence the local tree stands, seeded from the
// replica if the file is empty.
func (s *Session) adoptFullTree(ctx context.Context) {
	var resp wire.TreeResponse
	req := wire.TreeRequest{RequesterID: s.id, RequesterName: s.name}
	err := s.coord.Request(ctx, wire.ChanRequestFullTree, req, &resp)
	if err == nil {
		if err := s.store.Replace(resp.Tree); err != nil {
			s.logger.Warn("session: handoff tree not stored", slog.String("error", err.Error()))
		}
		return
	}

	s.logger.Warn("session: full tree handoff unanswered", slog.String("error", err.Error()))
	if !s.store.Tree().Empty() {
		return
	}
	if rep := s.Replica(); !rep.Empty() {
		if err := s.store.Replace(rep); err != nil {
			s.logger.Warn("session: replica not adopted", slog.String("error", err.Error()))
		}
	}
}

func (s *Session) serveVisibleTree(env bus.Envelope) (any, error) {
	var req wire.TreeRequest
	if err := wire.Decode(env, &req); err != nil {
		return nil, err
	}
	full := s.store.Tree()
	return wire.TreeResponse{RequesterID: req.RequesterID, Tree: tree.FilterVisible(&full)}, nil
}

func (s *Session) serveFullTree(env bus.Envelope) (any, error) {
	var req wire.TreeRequest
	if err := wire.Decode(env, &req); err != nil {
		return nil, err
	}
	s.logger.Debug("session: serving full tree",
		slog.String("to", req.RequesterID),
		slog.String("name", req.RequesterName))
	return wire.TreeResponse{RequesterID: req.RequesterID, Tree: s.store.Tree()}, nil
}

// serveContent answers a content request from the cache or the source. A
// failed render answers with the unavailable sentinel instead of staying
// silent, so the requester does not wait out its timeout.
func (s *Session) serveContent(env bus.Envelope) (any, error) {
	var req wire.ContentRequest
	if err := wire.Decode(env, &req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()

	html, err := s.renderContent(ctx, req.PageID, req.ForceRefresh)
	if err != nil {
		s.logger.Warn("session: content render failed",
			slog.String("page", req.PageID),
			slog.String("for", req.RequesterID),
			slog.String("error", err.Error()))
		return wire.ContentResponse{RequesterID: req.RequesterID, PageID: req.PageID, Err: "unavailable"}, nil
	}
	return wire.ContentResponse{RequesterID: req.RequesterID, PageID: req.PageID, HTML: html}, nil
}

// renderContent is the owner's side of content retrieval: cache first
// unless bypassed, then the content source, caching what comes back.
func (s *Session) renderContent(ctx context.Context, pageID string, forceRefresh bool) (string, error) {
	if !forceRefresh {
		if e, ok := s.cache.Get(pageID); ok {
			return e.HTML, nil
		}
	}

	full := s.store.Tree()
	p := full.FindPage(pageID)
	if p == nil {
		return "", fmt.Errorf("session: page %s: %w", pageID, apperr.ErrNotFound)
	}

	html, err := s.source.Render(ctx, *p)
	if err != nil {
		return "", fmt.Errorf("session: render %s: %w", pageID, err)
	}
	s.cache.Put(pageID, html)
	return html, nil
}

// broadcastTree pushes the current tree to the room, filtered for viewers
// and complete for co-owners, and stores the filtered copy so viewers
// joining later have something to read while the owner is away.
func (s *Session) broadcastTree() {
	full := s.store.Tree()
	visible := tree.FilterVisible(&full)

	if err := s.adapter.Publish(wire.ChanPushVisibleTree, wire.TreePush{Tree: visible}); err != nil {
		s.logger.Warn("session: visible tree push failed", slog.String("error", err.Error()))
	}
	if err := s.adapter.Publish(wire.ChanPushFullTree, wire.TreePush{Tree: full}); err != nil {
		s.logger.Warn("session: full tree push failed", slog.String("error", err.Error()))
	}
	if err := s.db.SaveSharedTree(s.roomID, visible, time.Now()); err != nil {
		s.logger.Warn("session: room tree copy not saved", slog.String("error", err.Error()))
	}
}

// requireOwner gates every mutation; the single-writer rule is this
// check, not a lock.
func (s *Session) requireOwner() error {
	if s.Role() != roles.Owner {
		return fmt.Errorf("session: %w", apperr.ErrNotOwner)
	}
	return nil
}

// ImportTree reconciles an external tree into the canonical one under the
// given policy and announces the result.
func (s *Session) ImportTree(incoming tree.Tree, policy tree.ImportPolicy) error {
	if err := s.requireOwner(); err != nil {
		return err
	}
	err := s.store.Update(func(t *tree.Tree) error {
		merged, err := tree.Import(*t, incoming, policy)
		if err != nil {
			return err
		}
		*t = merged
		return nil
	})
	if err != nil {
		return err
	}
	s.afterMutation()
	return nil
}

// MoveEntry shifts the element at pos one step through a level's combined
// order. categoryID "" addresses the root level. A move that would leave
// the level reports moved false and changes nothing.
func (s *Session) MoveEntry(categoryID string, pos, dir int) (bool, error) {
	if err := s.requireOwner(); err != nil {
		return false, err
	}
	var moved bool
	err := s.store.Update(func(t *tree.Tree) error {
		l := t.FindLevel(categoryID)
		if l == nil {
			return fmt.Errorf("session: category %s: %w", categoryID, apperr.ErrNotFound)
		}
		moved = tree.Move(l, pos, dir)
		return nil
	})
	if err != nil {
		return false, err
	}
	if moved {
		s.afterMutation()
	}
	return moved, nil
}

// SetPageVisibility flips whether viewers see a page and announces the
// result.
func (s *Session) SetPageVisibility(pageID string, visible bool) error {
	if err := s.requireOwner(); err != nil {
		return err
	}
	err := s.store.Update(func(t *tree.Tree) error {
		p := t.FindPage(pageID)
		if p == nil {
			return fmt.Errorf("session: page %s: %w", pageID, apperr.ErrNotFound)
		}
		p.VisibleToViewers = visible
		return nil
	})
	if err != nil {
		return err
	}
	s.afterMutation()
	return nil
}

func (s *Session) afterMutation() {
	s.broadcastTree()
	s.events.PublishTreeUpdated("local")
}

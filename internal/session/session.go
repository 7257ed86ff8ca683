// Package session ties one participant's pieces together: identity, bus
// adapter, request coordinator, lease ledger, tree store, content cache,
// roster and the UI event stream. A session resolves its role at startup,
// re-resolves it when the room changes around it, and activates the
// owner or follower machinery accordingly. Every timer lives here and
// dies with Run; nothing is ambient.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wrenfield/loreshare/internal/apperr"
	"github.com/wrenfield/loreshare/internal/bus"
	"github.com/wrenfield/loreshare/internal/cache"
	"github.com/wrenfield/loreshare/internal/contentsrc"
	"github.com/wrenfield/loreshare/internal/ledger"
	"github.com/wrenfield/loreshare/internal/roles"
	"github.com/wrenfield/loreshare/internal/roomstore"
	"github.com/wrenfield/loreshare/internal/roster"
	"github.com/wrenfield/loreshare/internal/rpc"
	"github.com/wrenfield/loreshare/internal/sse"
	"github.com/wrenfield/loreshare/internal/tree"
	"github.com/wrenfield/loreshare/internal/wire"
)

// Params carries everything a session needs. Bus, DB, Store, Roster and
// Source are long-lived and stay owned by the caller; the session builds
// and owns the rest. Zero durations fall back to the protocol defaults.
type Params struct {
	ID     string
	Name   string
	RoomID string

	Bus    bus.Bus
	DB     *roomstore.DB
	Store  *tree.Store
	Roster *roster.Roster
	Source contentsrc.Source

	OwnerTimeout      time.Duration
	HeartbeatInterval time.Duration
	RolePollInterval  time.Duration
	RequestTimeout    time.Duration
	CacheTTL          time.Duration

	Logger *slog.Logger
}

// Session is one participant's live connection to a room.
type Session struct {
	id     string
	name   string
	roomID string
	logger *slog.Logger

	adapter *bus.Adapter
	coord   *rpc.Coordinator
	ledger  *ledger.Ledger
	store   *tree.Store
	db      *roomstore.DB
	roster  *roster.Roster
	source  contentsrc.Source
	cache   *cache.Content
	events  *sse.Broker

	heartbeatEvery time.Duration
	rolePollEvery  time.Duration
	requestTimeout time.Duration

	mu      sync.RWMutex
	role    roles.Role
	replica tree.Tree

	// stops tears down the active role's handlers and watchers. Only the
	// lifecycle goroutine touches it.
	stops []func()
}

// New builds a session from p.
func New(p Params) *Session {
	if p.OwnerTimeout <= 0 {
		p.OwnerTimeout = 15 * time.Minute
	}
	if p.HeartbeatInterval <= 0 {
		p.HeartbeatInterval = 2 * time.Minute
	}
	if p.RolePollInterval <= 0 {
		p.RolePollInterval = 3 * time.Second
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = 5 * time.Second
	}
	if p.CacheTTL <= 0 {
		p.CacheTTL = time.Hour
	}

	adapter := bus.NewAdapter(p.ID, p.Bus, p.Logger)
	return &Session{
		id:      p.ID,
		name:    p.Name,
		roomID:  p.RoomID,
		logger:  p.Logger,
		adapter: adapter,
		coord:   rpc.New(adapter, p.RequestTimeout, p.Logger),
		ledger:  ledger.New(p.DB, p.RoomID, p.ID, p.Name, p.OwnerTimeout, p.Logger),
		store:   p.Store,
		db:      p.DB,
		roster:  p.Roster,
		source:  p.Source,
		cache:   cache.NewContent(p.CacheTTL),
		events:  sse.NewBroker(),

		heartbeatEvery: p.HeartbeatInterval,
		rolePollEvery:  p.RolePollInterval,
		requestTimeout: p.RequestTimeout,
	}
}

// Run joins the room and blocks until ctx is cancelled. Cancellation is
// the session's one teardown path: both tickers, the active role's
// subscriptions, the cache janitor and the UI event stream all stop with
// it.
func (s *Session) Run(ctx context.Context) error {
	defer s.events.Close()
	defer s.cache.Stop()

	s.handleShares()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.adapter.Run(gctx) })

	// The first claim and the first sync both expect answers; wait until
	// the receive loop is attached so those answers cannot be missed.
	select {
	case <-s.adapter.Ready():
	case <-gctx.Done():
	}

	g.Go(func() error {
		s.lifecycle(gctx)
		return nil
	})
	return g.Wait()
}

// roomView is what the lifecycle loop last observed about the room, kept
// to detect elevation changes, owner changes and the owner going quiet.
type roomView struct {
	elevated    bool
	ownerID     string
	ownerActive bool
}

func (s *Session) lifecycle(ctx context.Context) {
	heartbeat := time.NewTicker(s.heartbeatEvery)
	defer heartbeat.Stop()
	rolePoll := time.NewTicker(s.rolePollEvery)
	defer rolePoll.Stop()

	var view roomView
	s.evaluate(ctx, &view)

	for {
		select {
		case <-ctx.Done():
			s.deactivate()
			return
		case <-rolePoll.C:
			s.pollRoom(ctx, &view)
		case <-heartbeat.C:
			s.heartbeatTick(ctx, &view)
		}
	}
}

// pollRoom is the role-poll tick: reload the roster, re-read the lease,
// surface owner changes and staleness, and re-resolve the role when the
// observed room no longer matches it.
func (s *Session) pollRoom(ctx context.Context, view *roomView) {
	_ = s.roster.Reload()
	elevated := s.roster.Elevated(s.id)

	cur, err := s.ledger.Current()
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		s.logger.Warn("session: ownership read failed", slog.String("error", err.Error()))
		return
	}
	live := s.ledger.Liveness(cur)

	if cur.OwnerID != view.ownerID {
		s.events.PublishOwnerChanged(cur.OwnerID)
	}
	if view.ownerActive && !live.Active && !s.ledger.IsSelf(cur) {
		s.events.PublishOwnerStale(int(live.InactiveFor.Minutes()))
	}

	// An elevated non-owner facing a vacant or stale lease can serve the
	// room; that is the takeover path.
	needResolve := elevated != view.elevated ||
		(elevated && s.Role() != roles.Owner && !live.Active)

	view.elevated = elevated
	view.ownerID = cur.OwnerID
	view.ownerActive = live.Active

	if needResolve {
		s.evaluate(ctx, view)
	}
}

// evaluate resolves the role from scratch: claim when elevated, read back
// the lease, transition if the answer changed.
func (s *Session) evaluate(ctx context.Context, view *roomView) {
	elevated := s.roster.Elevated(s.id)

	if elevated {
		if _, err := s.ledger.Claim(); err != nil {
			s.logger.Error("session: claim failed", slog.String("error", err.Error()))
			view.elevated = elevated
			return
		}
	}

	cur, err := s.ledger.Current()
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		s.logger.Error("session: ownership read failed", slog.String("error", err.Error()))
		return
	}

	view.elevated = elevated
	view.ownerID = cur.OwnerID
	view.ownerActive = s.ledger.Liveness(cur).Active

	s.transition(ctx, roles.Resolve(s.id, elevated, cur))
}

func (s *Session) transition(ctx context.Context, next roles.Role) {
	prev := s.Role()
	if next == prev {
		return
	}
	s.logger.Info("session: role change",
		slog.String("from", string(prev)),
		slog.String("to", string(next)))

	s.deactivate()

	// A live promotion starts from whatever the previous owner was
	// serving, not from the local file, which may be empty or behind.
	if next == roles.Owner && prev != "" {
		s.adoptFullTree(ctx)
	}

	switch next {
	case roles.Owner:
		s.activateOwner(ctx)
	case roles.CoOwner:
		s.activateFollower(ctx, wire.ChanPushFullTree, wire.ChanRequestFullTree)
	case roles.Viewer:
		s.activateFollower(ctx, wire.ChanPushVisibleTree, wire.ChanRequestVisibleTree)
	}

	s.setRole(next)
	s.events.PublishRoleChanged(string(next))
}

func (s *Session) deactivate() {
	for i := len(s.stops) - 1; i >= 0; i-- {
		s.stops[i]()
	}
	s.stops = nil
}

// heartbeatTick keeps the lease alive while owning. ErrConflict means
// another participant took the lease; the session re-resolves and steps
// down.
func (s *Session) heartbeatTick(ctx context.Context, view *roomView) {
	if s.Role() != roles.Owner {
		return
	}
	err := s.ledger.Heartbeat()
	if err == nil {
		return
	}
	if errors.Is(err, apperr.ErrConflict) {
		s.logger.Warn("session: lease lost to another owner")
		s.evaluate(ctx, view)
		return
	}
	s.logger.Error("session: heartbeat failed", slog.String("error", err.Error()))
}

// ID returns the participant id.
func (s *Session) ID() string { return s.id }

// RoomID returns the room this session is joined to.
func (s *Session) RoomID() string { return s.roomID }

// Events returns the UI event stream.
func (s *Session) Events() *sse.Broker { return s.events }

// Role returns what this participant currently is.
func (s *Session) Role() roles.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *Session) setRole(r roles.Role) {
	s.mu.Lock()
	s.role = r
	s.mu.Unlock()
}

// Tree returns the tree this participant works from: the canonical tree
// for the owner, the replica received from the room for everyone else.
func (s *Session) Tree() tree.Tree {
	if s.Role() == roles.Owner {
		return s.store.Tree()
	}
	return s.Replica()
}

// Replica returns a copy of the last tree received from the room.
func (s *Session) Replica() tree.Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.replica.Clone()
}

func (s *Session) setReplica(t tree.Tree) {
	tree.Normalize(&t)
	s.mu.Lock()
	s.replica = t
	s.mu.Unlock()
}

// Status is the session state surfaced on the status endpoint.
type Status struct {
	ParticipantID        string     `json:"participant_id"`
	Name                 string     `json:"name"`
	Room                 string     `json:"room"`
	Role                 roles.Role `json:"role"`
	OwnerID              string     `json:"owner_id,omitempty"`
	OwnerName            string     `json:"owner_name,omitempty"`
	OwnerActive          bool       `json:"owner_active"`
	OwnerInactiveMinutes int        `json:"owner_inactive_minutes"`
	BytesSent            int64      `json:"bytes_sent"`
}

// Status reads the lease fresh on every call; non-owners use it to warn
// about a quiet owner before asking it for anything.
func (s *Session) Status() Status {
	st := Status{
		ParticipantID: s.id,
		Name:          s.name,
		Room:          s.roomID,
		Role:          s.Role(),
		BytesSent:     s.adapter.BytesSent(),
	}
	cur, err := s.ledger.Current()
	if err != nil {
		return st
	}
	live := s.ledger.Liveness(cur)
	st.OwnerID = cur.OwnerID
	st.OwnerName = cur.OwnerName
	st.OwnerActive = live.Active
	st.OwnerInactiveMinutes = int(live.InactiveFor.Minutes())
	return st
}

// Content returns the rendered HTML for a page. The owner renders (or
// serves its cache) directly; everyone else checks the local cache and
// then asks the owner over the bus. forceRefresh bypasses both sides'
// caches.
func (s *Session) Content(ctx context.Context, pageID string, forceRefresh bool) (string, error) {
	if s.Role() == roles.Owner {
		return s.renderContent(ctx, pageID, forceRefresh)
	}

	if forceRefresh {
		s.cache.Evict(pageID)
	} else if e, ok := s.cache.Get(pageID); ok {
		return e.HTML, nil
	}

	req := wire.ContentRequest{RequesterID: s.id, PageID: pageID, ForceRefresh: forceRefresh}
	var resp wire.ContentResponse
	if err := s.coord.Request(ctx, wire.ChanRequestContent, req, &resp); err != nil {
		return "", err
	}
	if resp.Err != "" {
		return "", fmt.Errorf("session: content %s: %w", pageID, apperr.ErrUnavailable)
	}
	s.cache.Put(pageID, resp.HTML)
	return resp.HTML, nil
}

// ShareURL points the room at an external page.
func (s *Session) ShareURL(url, title string) error {
	p := wire.URLShare{URL: url, Title: title}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("session: share url: %w", err)
	}
	return s.adapter.Publish(wire.ChanShareURL, p)
}

// ShareHTML broadcasts a rendered fragment. Fragments over the payload
// ceiling are rejected with apperr.ErrPayloadTooLarge before they leave
// this process; share a URL instead.
func (s *Session) ShareHTML(html, title string) error {
	p := wire.HTMLShare{HTML: html, Title: title}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("session: share html: %w", err)
	}
	return s.adapter.Publish(wire.ChanShareHTML, p)
}

// handleShares surfaces other participants' shares on the UI stream. Own
// shares never come back; the adapter drops them on receive.
func (s *Session) handleShares() {
	s.adapter.Handle(wire.ChanShareURL, func(env bus.Envelope) {
		var sh wire.URLShare
		if err := wire.Decode(env, &sh); err != nil {
			s.logger.Warn("session: bad url share",
				slog.String("from", env.SenderID),
				slog.String("error", err.Error()))
			return
		}
		s.logger.Info("session: url shared",
			slog.String("from", env.SenderID),
			slog.String("url", sh.URL))
		s.events.PublishShare("url", sh.Title, sh.URL)
	})
	s.adapter.Handle(wire.ChanShareHTML, func(env bus.Envelope) {
		var sh wire.HTMLShare
		if err := wire.Decode(env, &sh); err != nil {
			s.logger.Warn("session: bad html share",
				slog.String("from", env.SenderID),
				slog.String("error", err.Error()))
			return
		}
		s.logger.Info("session: html shared", slog.String("from", env.SenderID))
		s.events.PublishShare("html", sh.Title, "")
	})
}

package session

import (
	"context"
	"log/slog"

	"github.com/wrenfield/loreshare/internal/bus"
	"github.com/wrenfield/loreshare/internal/wire"
)

// activateFollower starts the consuming half of the session: replace the
// replica on every push and fetch an initial copy. Viewers follow the
// filtered channels, co-owners the full ones.
func (s *Session) activateFollower(ctx context.Context, pushChannel, requestChannel string) {
	s.adapter.Handle(pushChannel, func(env bus.Envelope) {
		var push wire.TreePush
		if err := wire.Decode(env, &push); err != nil {
			s.logger.Warn("session: bad tree push",
				slog.String("from", env.SenderID),
				slog.String("error", err.Error()))
			return
		}
		s.setReplica(push.Tree)
		s.events.PublishTreeUpdated("push")
	})
	s.stops = append(s.stops, func() { s.adapter.Unhandle(pushChannel) })

	sctx, cancel := context.WithCancel(ctx)
	s.stops = append(s.stops, cancel)
	go s.syncReplica(sctx, requestChannel)
}

// syncReplica fetches the initial tree. When the owner never answers, the
// room's stored copy stands in; a push can still arrive later and win.
func (s *Session) syncReplica(ctx context.Context, requestChannel string) {
	var resp wire.TreeResponse
	req := wire.TreeRequest{RequesterID: s.id, RequesterName: s.name}
	err := s.coord.Request(ctx, requestChannel, req, &resp)
	if err == nil {
		s.setReplica(resp.Tree)
		s.events.PublishTreeUpdated("sync")
		return
	}
	if ctx.Err() != nil {
		return
	}

	s.logger.Warn("session: initial tree sync unanswered, trying room copy",
		slog.String("channel", requestChannel),
		slog.String("error", err.Error()))

	shared, _, err := s.db.LoadSharedTree(s.roomID)
	if err != nil {
		s.logger.Warn("session: no room tree copy", slog.String("error", err.Error()))
		return
	}
	s.setReplica(shared)
	s.events.PublishTreeUpdated("fallback")
}

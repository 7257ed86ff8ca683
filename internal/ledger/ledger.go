// Package ledger implements the room's curation lease. Ownership is
// best-effort: a host claims the room by writing the ownership entry,
// keeps it alive with heartbeats, and loses it when the entry goes stale
// and someone else writes over it. There is no consensus round; a
// simultaneous claim is settled by whoever writes last.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wrenfield/loreshare/internal/apperr"
	"github.com/wrenfield/loreshare/internal/roomstore"
)

// Ledger reads and writes one room's ownership entry on behalf of one
// participant.
type Ledger struct {
	db       *roomstore.DB
	roomID   string
	selfID   string
	selfName string
	timeout  time.Duration
	logger   *slog.Logger

	now func() time.Time
}

// New creates a ledger for selfID in roomID. timeout is the staleness
// window: an entry whose heartbeat is older than this no longer protects
// its owner. selfName is recorded on claims for display only.
func New(db *roomstore.DB, roomID, selfID, selfName string, timeout time.Duration, logger *slog.Logger) *Ledger {
	return &Ledger{
		db:       db,
		roomID:   roomID,
		selfID:   selfID,
		selfName: selfName,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Current returns the room's ownership entry.
// Returns apperr.ErrNotFound when the room has never been claimed.
func (l *Ledger) Current() (roomstore.Ownership, error) {
	return l.db.GetOwnership(l.roomID)
}

// Liveness describes how alive an ownership entry looks right now.
type Liveness struct {
	Active      bool
	InactiveFor time.Duration
}

// Liveness classifies o against the staleness window.
func (l *Ledger) Liveness(o roomstore.Ownership) Liveness {
	idle := l.now().Sub(o.HeartbeatAt)
	if idle < 0 {
		idle = 0
	}
	return Liveness{Active: idle <= l.timeout, InactiveFor: idle}
}

// Claim takes or renews the room's lease for selfID. It reports true when
// selfID holds the lease afterwards: on a never-claimed room, on a stale
// entry, or on an entry selfID already owns (which renews the heartbeat
// and keeps the original claim time). A fresh entry held by someone else
// leaves the ledger untouched and reports false.
//
// Read and write are two separate steps. Two hosts can both pass the read
// and both write; the later write holds. That window is accepted by the
// protocol and resolved by the next staleness check.
func (l *Ledger) Claim() (bool, error) {
	now := l.now()

	cur, err := l.Current()
	if errors.Is(err, apperr.ErrNotFound) {
		return true, l.write(roomstore.Ownership{
			RoomID: l.roomID, OwnerID: l.selfID, OwnerName: l.selfName, ClaimedAt: now, HeartbeatAt: now,
		})
	}
	if err != nil {
		return false, fmt.Errorf("ledger: claim: %w", err)
	}

	if cur.OwnerID == l.selfID {
		cur.HeartbeatAt = now
		return true, l.write(cur)
	}

	if live := l.Liveness(cur); live.Active {
		return false, nil
	}

	l.logger.Info("ledger: taking over stale lease",
		slog.String("room", l.roomID),
		slog.String("from", cur.OwnerID),
		slog.String("to", l.selfID))
	return true, l.write(roomstore.Ownership{
		RoomID: l.roomID, OwnerID: l.selfID, OwnerName: l.selfName, ClaimedAt: now, HeartbeatAt: now,
	})
}

func (l *Ledger) write(o roomstore.Ownership) error {
	if err := l.db.PutOwnership(o); err != nil {
		return fmt.Errorf("ledger: claim: %w", err)
	}
	return nil
}

// Heartbeat advances the lease's heartbeat while selfID still holds it.
// Returns apperr.ErrConflict once another host has taken over; the caller
// must stop acting as owner when it sees that.
func (l *Ledger) Heartbeat() error {
	if err := l.db.TouchHeartbeat(l.roomID, l.selfID, l.now()); err != nil {
		return fmt.Errorf("ledger: heartbeat: %w", err)
	}
	return nil
}

// IsSelf reports whether o names this ledger's participant.
func (l *Ledger) IsSelf(o roomstore.Ownership) bool {
	return o.OwnerID == l.selfID
}

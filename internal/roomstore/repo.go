package roomstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wrenfield/loreshare/internal/apperr"
	"github.com/wrenfield/loreshare/internal/tree"
)

// Ownership is a room's current curation lease: who holds it, when they
// claimed it, and when they last proved they were alive. OwnerName is
// display-only and never used for matching.
type Ownership struct {
	RoomID      string
	OwnerID     string
	OwnerName   string
	ClaimedAt   time.Time
	HeartbeatAt time.Time
}

// GetOwnership returns the ownership entry for a room.
// Returns apperr.ErrNotFound when no one has ever claimed the room.
func (db *DB) GetOwnership(roomID string) (Ownership, error) {
	var o Ownership
	err := db.conn.QueryRow(`
		SELECT room_id, owner_id, owner_name, claimed_at, heartbeat_at
		FROM ownership WHERE room_id = ?
	`, roomID).Scan(&o.RoomID, &o.OwnerID, &o.OwnerName, &o.ClaimedAt, &o.HeartbeatAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Ownership{}, fmt.Errorf("roomstore: ownership for %s: %w", roomID, apperr.ErrNotFound)
	}
	if err != nil {
		return Ownership{}, fmt.Errorf("roomstore: get ownership: %w", err)
	}
	return o, nil
}

// PutOwnership writes the ownership entry, replacing whatever is there.
// There is no compare-and-set here: the claim protocol is read-then-write,
// so two hosts claiming at once race and the later write holds until the
// next staleness check.
func (db *DB) PutOwnership(o Ownership) error {
	_, err := db.conn.Exec(`
		INSERT INTO ownership (room_id, owner_id, owner_name, claimed_at, heartbeat_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			owner_id     = excluded.owner_id,
			owner_name   = excluded.owner_name,
			claimed_at   = excluded.claimed_at,
			heartbeat_at = excluded.heartbeat_at
	`, o.RoomID, o.OwnerID, o.OwnerName, o.ClaimedAt, o.HeartbeatAt)
	if err != nil {
		return fmt.Errorf("roomstore: put ownership: %w", err)
	}
	return nil
}

// TouchHeartbeat advances the heartbeat timestamp, but only while ownerID
// still holds the room. Returns apperr.ErrConflict when someone else has
// taken over in the meantime, which is the signal to stop acting as owner.
func (db *DB) TouchHeartbeat(roomID, ownerID string, at time.Time) error {
	res, err := db.conn.Exec(`
		UPDATE ownership SET heartbeat_at = ?
		WHERE room_id = ? AND owner_id = ?
	`, at, roomID, ownerID)
	if err != nil {
		return fmt.Errorf("roomstore: touch heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("roomstore: touch heartbeat: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("roomstore: %s no longer owns %s: %w", ownerID, roomID, apperr.ErrConflict)
	}
	return nil
}

// SaveSharedTree publishes the viewer-facing tree for a room so late
// joiners can read state without the owner being reachable.
func (db *DB) SaveSharedTree(roomID string, t tree.Tree, at time.Time) error {
	data, err := t.MarshalCompact()
	if err != nil {
		return fmt.Errorf("roomstore: marshal tree: %w", err)
	}
	_, err = db.conn.Exec(`
		INSERT INTO shared_trees (room_id, tree, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			tree       = excluded.tree,
			updated_at = excluded.updated_at
	`, roomID, string(data), at)
	if err != nil {
		return fmt.Errorf("roomstore: save shared tree: %w", err)
	}
	return nil
}

// LoadSharedTree returns the last published tree for a room and when it
// was published. Returns apperr.ErrNotFound when nothing was ever shared.
func (db *DB) LoadSharedTree(roomID string) (tree.Tree, time.Time, error) {
	var raw string
	var at time.Time
	err := db.conn.QueryRow(`
		SELECT tree, updated_at FROM shared_trees WHERE room_id = ?
	`, roomID).Scan(&raw, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return tree.Tree{}, time.Time{}, fmt.Errorf("roomstore: shared tree for %s: %w", roomID, apperr.ErrNotFound)
	}
	if err != nil {
		return tree.Tree{}, time.Time{}, fmt.Errorf("roomstore: load shared tree: %w", err)
	}
	t, ok := tree.Decode([]byte(raw))
	if !ok {
		return tree.Tree{}, time.Time{}, fmt.Errorf("roomstore: shared tree for %s is unreadable", roomID)
	}
	return t, at, nil
}

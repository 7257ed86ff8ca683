// Package roles maps a participant's standing in the room to what the
// session lets them do. Elevation comes from the membership roster; actual
// ownership comes from the room's lease entry, re-read on every poll.
package roles

import "github.com/wrenfield/loreshare/internal/roomstore"

// Role is what a participant currently is in the room.
type Role string

const (
	// Viewer sees the filtered tree and shared content only.
	Viewer Role = "viewer"
	// CoOwner is elevated but not holding the lease: full tree, no edits.
	CoOwner Role = "co-owner"
	// Owner holds the lease and serves the room.
	Owner Role = "owner"
)

// Elevated reports whether the role may see the unfiltered tree.
func (r Role) Elevated() bool {
	return r == CoOwner || r == Owner
}

// Resolve returns selfID's role given the room's ownership entry. The
// entry may be the zero value when the room has never been claimed.
// Elevation gates everything: without it the ledger does not matter, even
// for a participant whose id is still in the entry. Among elevated
// participants, holding the lease makes selfID the owner even when the
// entry has gone stale; stale entries matter to challengers, not to the
// holder.
func Resolve(selfID string, elevated bool, owner roomstore.Ownership) Role {
	if !elevated {
		return Viewer
	}
	if selfID != "" && owner.OwnerID == selfID {
		return Owner
	}
	return CoOwner
}

package session

import "github.com/tutu-network/peerlink/internal/domain"

// ShouldInvite reports whether the local peer should invite a newly
// discovered remote peer. Exactly one of two peers with distinct names
// evaluates true; equal names leave both sides waiting.
func ShouldInvite(localDisplayName, remoteDisplayName string) bool {
	return localDisplayName > remoteDisplayName
}

// Policy is the discovery tie-break applied by the coordinator.
type Policy struct {
	// TieBreakOnID compares peer IDs when display names collide.
	TieBreakOnID bool
}

// Decide applies ShouldInvite to the display names, falling back to
// the IDs for identical names when TieBreakOnID is set.
func (p Policy) Decide(local, remote domain.PeerIdentity) bool {
	if p.TieBreakOnID && local.DisplayName == remote.DisplayName {
		return ShouldInvite(local.ID, remote.ID)
	}
	return ShouldInvite(local.DisplayName, remote.DisplayName)
}

// Package domain holds the peer presence types shared by every layer.
// A PeerIdentity is a node discovered through the lobby; its
// ConnectionPhase is tracked by the session coordinator.
package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PeerIdentity identifies a peer. Equality is by ID only; the display
// name is used for ordering, tie-breaks and presentation.
type PeerIdentity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// NewPeerIdentity creates an identity with a fresh random ID.
func NewPeerIdentity(displayName string) PeerIdentity {
	return PeerIdentity{
		ID:          uuid.NewString(),
		DisplayName: displayName,
	}
}

// Equal reports whether both identities refer to the same peer.
func (p PeerIdentity) Equal(other PeerIdentity) bool {
	return p.ID == other.ID
}

// IsZero returns true for an identity without an ID.
func (p PeerIdentity) IsZero() bool {
	return p.ID == ""
}

func (p PeerIdentity) String() string {
	if p.DisplayName == "" {
		return p.ID
	}
	return p.DisplayName
}

// ConnectionPhase is the connection state of a single peer.
// Raw values match the section order of the peers table.
type ConnectionPhase int

const (
	PhaseNotConnected ConnectionPhase = iota
	PhaseConnecting
	PhaseConnected
)

// Phases returns every phase in table order.
func Phases() []ConnectionPhase {
	return []ConnectionPhase{PhaseNotConnected, PhaseConnecting, PhaseConnected}
}

// String returns the human-readable phase label.
func (p ConnectionPhase) String() string {
	switch p {
	case PhaseNotConnected:
		return "Not Connected"
	case PhaseConnecting:
		return "Connecting"
	case PhaseConnected:
		return "Connected"
	default:
		return fmt.Sprintf("ConnectionPhase(%d)", int(p))
	}
}

// Token returns the wire form used in JSON and the lobby protocol.
func (p ConnectionPhase) Token() string {
	switch p {
	case PhaseNotConnected:
		return "not_connected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	default:
		return ""
	}
}

// Valid returns true for the three known phases.
func (p ConnectionPhase) Valid() bool {
	return p >= PhaseNotConnected && p <= PhaseConnected
}

// ParsePhase accepts either the wire token or the label.
func ParsePhase(s string) (ConnectionPhase, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, " ", "_")
	for _, p := range Phases() {
		if norm == p.Token() {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPhase, s)
}

// MarshalText implements encoding.TextMarshaler.
func (p ConnectionPhase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPhase, int(p))
	}
	return []byte(p.Token()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *ConnectionPhase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Snapshot is a point-in-time copy of every peer view. Each call that
// produces one returns fresh slices the caller may keep.
type Snapshot struct {
	Local        PeerIdentity   `json:"local"`
	Running      bool           `json:"running"`
	NotConnected []PeerIdentity `json:"not_connected"`
	Connecting   []PeerIdentity `json:"connecting"`
	Connected    []PeerIdentity `json:"connected"`
}

// Peers returns the view for a phase.
func (s Snapshot) Peers(phase ConnectionPhase) []PeerIdentity {
	switch phase {
	case PhaseNotConnected:
		return s.NotConnected
	case PhaseConnecting:
		return s.Connecting
	case PhaseConnected:
		return s.Connected
	default:
		return nil
	}
}

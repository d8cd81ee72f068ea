// Package lobby implements a WebSocket rendezvous service that stands in
// for a local-network advertiser, browser and session.
//
// Peers connect to a Hub, say hello with their identity and service
// type, then advertise, browse and invite each other. The hub relays
// invitations, tracks which peers are linked and reports phase changes
// back to both sides. Client adapts a hub connection to
// domain.Transport.
package lobby

import (
	"encoding/json"
	"fmt"

	"github.com/tutu-network/peerlink/internal/domain"
)

// Frame types sent by clients.
const (
	TypeHello       = "hello"
	TypeAdvertise   = "advertise"
	TypeUnadvertise = "unadvertise"
	TypeBrowse      = "browse"
	TypeUnbrowse    = "unbrowse"
	TypeInvite      = "invite"
	TypeRespond     = "respond"
	TypeDisconnect  = "disconnect"
	TypeSend        = "send"
)

// Frame types sent by the hub.
const (
	TypeWelcome    = "welcome"
	TypeFound      = "found"
	TypeLost       = "lost"
	TypeInvitation = "invitation"
	TypeState      = "state"
	TypeData       = "data"
	TypeError      = "error"
)

// DefaultServiceType is the service both sides must agree on.
const DefaultServiceType = "mcsessionp2p"

// PeerInfo is the wire form of a peer identity.
type PeerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func peerInfo(p domain.PeerIdentity) *PeerInfo {
	return &PeerInfo{ID: p.ID, Name: p.DisplayName}
}

// Identity converts the wire form back to a domain identity.
func (p *PeerInfo) Identity() domain.PeerIdentity {
	if p == nil {
		return domain.PeerIdentity{}
	}
	return domain.PeerIdentity{ID: p.ID, DisplayName: p.Name}
}

// Frame is the single JSON envelope exchanged in both directions.
// Unused fields are omitted.
type Frame struct {
	Type    string            `json:"type"`
	Peer    *PeerInfo         `json:"peer,omitempty"`
	Service string            `json:"service,omitempty"`
	Info    map[string]string `json:"info,omitempty"`
	Phase   string            `json:"phase,omitempty"`
	Invite  string            `json:"invite,omitempty"`
	Accept  bool              `json:"accept,omitempty"`
	Timeout int64             `json:"timeout_ms,omitempty"`
	Context []byte            `json:"context,omitempty"`
	Data    []byte            `json:"data,omitempty"`
	Op      string            `json:"op,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// decodeFrame parses one frame and checks that it carries a type.
func decodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", domain.ErrInvalidFrame, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", domain.ErrInvalidFrame)
	}
	return f, nil
}

func stateFrame(peer domain.PeerIdentity, phase domain.ConnectionPhase) Frame {
	return Frame{Type: TypeState, Peer: peerInfo(peer), Phase: phase.Token()}
}

func errorFrame(op string, err error) Frame {
	return Frame{Type: TypeError, Op: op, Error: err.Error()}
}

package domain

import "time"

// Event is anything a transport reports to the session coordinator.
type Event interface {
	EventName() string
}

// PeerFound is raised when a browsing transport sees an advertiser.
type PeerFound struct {
	Peer PeerIdentity
	Info map[string]string
}

func (PeerFound) EventName() string { return "PeerFound" }

// PeerLost is raised when a previously found advertiser disappears.
type PeerLost struct {
	Peer PeerIdentity
}

func (PeerLost) EventName() string { return "PeerLost" }

// InvitationReceived carries an incoming invitation. Respond must be
// called exactly once.
type InvitationReceived struct {
	Peer    PeerIdentity
	Context []byte
	Respond func(accept bool)
}

func (InvitationReceived) EventName() string { return "InvitationReceived" }

// StateChanged reports a session-level phase change for a peer.
type StateChanged struct {
	Peer  PeerIdentity
	Phase ConnectionPhase
}

func (StateChanged) EventName() string { return "StateChanged" }

// DataReceived carries application data from a connected peer.
type DataReceived struct {
	Peer PeerIdentity
	Data []byte
}

func (DataReceived) EventName() string { return "DataReceived" }

// ResourceStarted reports the start of a named resource transfer.
type ResourceStarted struct {
	Peer PeerIdentity
	Name string
}

func (ResourceStarted) EventName() string { return "ResourceStarted" }

// ResourceFinished reports the end of a resource transfer. Err is set
// when the transfer failed and the partial resource was discarded.
type ResourceFinished struct {
	Peer PeerIdentity
	Name string
	Path string
	Err  error
}

func (ResourceFinished) EventName() string { return "ResourceFinished" }

// StreamReceived reports an incoming byte stream.
type StreamReceived struct {
	Peer PeerIdentity
	Name string
}

func (StreamReceived) EventName() string { return "StreamReceived" }

// StartFailure reports that advertising or browsing could not start.
type StartFailure struct {
	Service string
	Err     error
}

func (StartFailure) EventName() string { return "StartFailure" }

// PeerEventKind classifies a journal entry.
type PeerEventKind string

const (
	PeerEventFound      PeerEventKind = "found"
	PeerEventLost       PeerEventKind = "lost"
	PeerEventInvited    PeerEventKind = "invited"
	PeerEventInvitation PeerEventKind = "invitation"
	PeerEventState      PeerEventKind = "state"
)

// ChangesPhase returns true for kinds that move a peer to a new phase.
func (k PeerEventKind) ChangesPhase() bool {
	switch k {
	case PeerEventLost, PeerEventInvitation, PeerEventState:
		return true
	default:
		return false
	}
}

// PeerEvent is one persisted entry of the peer journal.
type PeerEvent struct {
	ID    int64           `json:"id,omitempty"`
	Peer  PeerIdentity    `json:"peer"`
	Kind  PeerEventKind   `json:"kind"`
	Phase ConnectionPhase `json:"phase"`
	At    time.Time       `json:"at"`
}

// KnownPeer is the persisted summary of a peer seen at least once.
type KnownPeer struct {
	Peer      PeerIdentity    `json:"peer"`
	Phase     ConnectionPhase `json:"phase"`
	HasPhase  bool            `json:"has_phase"`
	FirstSeen time.Time       `json:"first_seen"`
	LastSeen  time.Time       `json:"last_seen"`
}

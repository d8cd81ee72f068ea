package domain

import "time"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the session layer depends on them.

// Transport abstracts the advertiser, browser and session of the
// underlying network. Implemented by infra/lobby.Client.
type Transport interface {
	// LocalPeer returns the identity this transport advertises.
	LocalPeer() PeerIdentity

	// Events delivers discovery, invitation and session events serially.
	// The channel is closed when the transport shuts down.
	Events() <-chan Event

	// Invite asks a discovered peer to join the session. The outcome
	// arrives later as a StateChanged event.
	Invite(peer PeerIdentity, timeout time.Duration) error

	StartAdvertising() error
	StopAdvertising() error
	StartBrowsing() error
	StopBrowsing() error

	// Disconnect leaves the session, dropping every live connection.
	Disconnect() error

	// ConnectedPeers is the authoritative live connection set.
	ConnectedPeers() []PeerIdentity

	// Send delivers application data to connected peers.
	Send(data []byte, peers ...PeerIdentity) error
}

// Journal persists peer events. Implemented by infra/sqlite.DB.
type Journal interface {
	RecordPeerEvent(ev PeerEvent) error
}

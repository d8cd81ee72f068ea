package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Phase errors
	ErrUnknownPhase = errors.New("unknown connection phase")

	// Session errors
	ErrPeerNotConnected = errors.New("peer is not connected")
	ErrServicesStopped  = errors.New("session services are stopped")
	ErrAdvertiseFailed  = errors.New("advertising could not start")
	ErrBrowseFailed     = errors.New("browsing could not start")

	// Transport errors
	ErrTransportClosed = errors.New("transport closed")
	ErrHandshakeFailed = errors.New("lobby handshake failed")
	ErrPeerIDInUse     = errors.New("peer id already registered with the lobby")
	ErrInvalidFrame    = errors.New("invalid lobby frame")
)

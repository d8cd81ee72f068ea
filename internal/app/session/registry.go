package session

import (
	"container/list"
	"sync"

	"github.com/tutu-network/peerlink/internal/domain"
)

// Registry maps peer IDs to their current phase and keeps the
// connecting and disconnected views in first-seen order. Connected
// peers are owned by the transport; the registry only remembers that
// they left the tracked sets.
//
// A peer is a member of at most one tracked set at a time.
type Registry struct {
	mu           sync.RWMutex
	records      map[string]*record
	connecting   *list.List
	disconnected *list.List
}

type record struct {
	peer  domain.PeerIdentity
	phase domain.ConnectionPhase
	set   *list.List    // nil while connected
	elem  *list.Element // position in set
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records:      make(map[string]*record),
		connecting:   list.New(),
		disconnected: list.New(),
	}
}

// RecordConnecting moves peer into the connecting set.
func (r *Registry) RecordConnecting(peer domain.PeerIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moveTo(peer, domain.PhaseConnecting, r.connecting)
}

// RecordConnected removes peer from both tracked sets.
func (r *Registry) RecordConnected(peer domain.PeerIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moveTo(peer, domain.PhaseConnected, nil)
}

// RecordDisconnected moves peer into the disconnected set.
func (r *Registry) RecordDisconnected(peer domain.PeerIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moveTo(peer, domain.PhaseNotConnected, r.disconnected)
}

// Clear forgets every peer. The transport's live connections are not
// touched.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*record)
	r.connecting.Init()
	r.disconnected.Init()
}

// ConnectingPeers returns a fresh copy of the connecting set.
func (r *Registry) ConnectingPeers() []domain.PeerIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.connecting)
}

// DisconnectedPeers returns a fresh copy of the disconnected set.
func (r *Registry) DisconnectedPeers() []domain.PeerIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.disconnected)
}

// Phase returns the last recorded phase of peer.
func (r *Registry) Phase(peer domain.PeerIdentity) (domain.ConnectionPhase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[peer.ID]
	if !ok {
		return domain.PhaseNotConnected, false
	}
	return rec.phase, true
}

// Counts returns the number of peers recorded in each phase.
func (r *Registry) Counts() map[domain.ConnectionPhase]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := map[domain.ConnectionPhase]int{
		domain.PhaseNotConnected: r.disconnected.Len(),
		domain.PhaseConnecting:   r.connecting.Len(),
		domain.PhaseConnected:    0,
	}
	for _, rec := range r.records {
		if rec.phase == domain.PhaseConnected {
			counts[domain.PhaseConnected]++
		}
	}
	return counts
}

// moveTo assumes r.mu is held.
func (r *Registry) moveTo(peer domain.PeerIdentity, phase domain.ConnectionPhase, set *list.List) {
	rec, ok := r.records[peer.ID]
	if !ok {
		rec = &record{}
		r.records[peer.ID] = rec
	}
	rec.peer = peer
	rec.phase = phase

	if rec.set == set && set != nil {
		// Already a member: keep the original position.
		rec.elem.Value = peer
		return
	}
	if rec.set != nil {
		rec.set.Remove(rec.elem)
		rec.set, rec.elem = nil, nil
	}
	if set != nil {
		rec.set = set
		rec.elem = set.PushBack(peer)
	}
}

func snapshot(l *list.List) []domain.PeerIdentity {
	peers := make([]domain.PeerIdentity, 0, l.Len())
	for e := l.Front(); e != nil; e = e.Next() {
		peers = append(peers, e.Value.(domain.PeerIdentity))
	}
	return peers
}

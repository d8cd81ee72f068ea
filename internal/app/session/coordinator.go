// Package session tracks peer presence and negotiates sessions.
//
// The Coordinator receives events from a domain.Transport, keeps the
// Registry up to date, applies the discovery Policy and tells observers
// to re-read their snapshots. Events are handled one at a time; teardown
// may run concurrently with them.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tutu-network/peerlink/internal/domain"
	"github.com/tutu-network/peerlink/internal/infra/metrics"
)

// DefaultInviteTimeout bounds an outgoing invitation.
const DefaultInviteTimeout = 30 * time.Second

// Config tunes the coordinator.
type Config struct {
	InviteTimeout time.Duration
	TieBreakOnID  bool
}

// DefaultConfig returns the reference behaviour.
func DefaultConfig() Config {
	return Config{
		InviteTimeout: DefaultInviteTimeout,
	}
}

// Coordinator orchestrates the registry and policy against transport
// events.
type Coordinator struct {
	transport     domain.Transport
	registry      *Registry
	policy        Policy
	inviteTimeout time.Duration
	logger        *zap.Logger
	journal       domain.Journal

	mu      sync.Mutex // serializes events and teardown
	stopped bool

	obsMu     sync.RWMutex
	observers []observer
	nextObs   uint64
}

type observer struct {
	id uint64
	fn func()
}

// NewCoordinator creates a coordinator bound to transport, which must
// not be nil.
func NewCoordinator(transport domain.Transport, cfg Config, logger *zap.Logger) *Coordinator {
	if transport == nil {
		panic("session: nil transport")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InviteTimeout <= 0 {
		cfg.InviteTimeout = DefaultInviteTimeout
	}
	return &Coordinator{
		transport:     transport,
		registry:      NewRegistry(),
		policy:        Policy{TieBreakOnID: cfg.TieBreakOnID},
		inviteTimeout: cfg.InviteTimeout,
		logger:        logger,
	}
}

// SetJournal attaches a persistent peer journal.
func (c *Coordinator) SetJournal(j domain.Journal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journal = j
}

// Registry exposes the underlying registry for read-only use.
func (c *Coordinator) Registry() *Registry { return c.registry }

// ─── Observers ──────────────────────────────────────────────────────────────

// Subscribe registers fn to be called after every event that may have
// changed the peer views. fn runs on the coordinator's goroutine and
// must hand work off to its own context. The returned func unsubscribes.
func (c *Coordinator) Subscribe(fn func()) (cancel func()) {
	c.obsMu.Lock()
	c.nextObs++
	id := c.nextObs
	c.observers = append(c.observers, observer{id: id, fn: fn})
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		for i, o := range c.observers {
			if o.id == id {
				c.observers = append(c.observers[:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

func (c *Coordinator) notify() {
	c.obsMu.RLock()
	fns := make([]func(), len(c.observers))
	for i, o := range c.observers {
		fns[i] = o.fn
	}
	c.obsMu.RUnlock()

	metrics.StateNotifications.Inc()
	for _, fn := range fns {
		fn()
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// StartServices begins advertising and browsing. Failures are logged
// and returned; nothing is retried.
func (c *Coordinator) StartServices() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = false
	c.logger.Info("starting services", zap.String("local", c.transport.LocalPeer().String()))

	var errs error
	if err := c.transport.StartAdvertising(); err != nil {
		c.logger.Warn("advertising did not start", zap.Error(err))
		metrics.TransportErrors.WithLabelValues("advertise").Inc()
		errs = multierr.Append(errs, fmt.Errorf("%w: %w", domain.ErrAdvertiseFailed, err))
	}
	if err := c.transport.StartBrowsing(); err != nil {
		c.logger.Warn("browsing did not start", zap.Error(err))
		metrics.TransportErrors.WithLabelValues("browse").Inc()
		errs = multierr.Append(errs, fmt.Errorf("%w: %w", domain.ErrBrowseFailed, err))
	}
	return errs
}

// StopServices tears the session down: browsing and advertising stop,
// the session disconnects and the registry is drained. Observers are
// not notified.
func (c *Coordinator) StopServices() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("stopping services")
	if err := c.transport.StopBrowsing(); err != nil {
		c.logger.Warn("stop browsing failed", zap.Error(err))
	}
	if err := c.transport.StopAdvertising(); err != nil {
		c.logger.Warn("stop advertising failed", zap.Error(err))
	}
	if err := c.transport.Disconnect(); err != nil {
		c.logger.Warn("disconnect failed", zap.Error(err))
		metrics.TransportErrors.WithLabelValues("disconnect").Inc()
	}
	c.registry.Clear()
	c.stopped = true
	c.updateGauges()
}

// Running reports whether services are active (not torn down).
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.stopped
}

// Run feeds transport events to Handle until ctx ends or the transport
// closes its event channel.
func (c *Coordinator) Run(ctx context.Context) error {
	events := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return domain.ErrTransportClosed
			}
			c.Handle(ev)
		}
	}
}

// Handle dispatches one transport event.
func (c *Coordinator) Handle(ev domain.Event) {
	switch e := ev.(type) {
	case domain.PeerFound:
		c.PeerDiscovered(e.Peer, e.Info)
	case domain.PeerLost:
		c.PeerLost(e.Peer)
	case domain.InvitationReceived:
		c.InvitationReceived(e.Peer, e.Context, e.Respond)
	case domain.StateChanged:
		c.SessionStateChanged(e.Peer, e.Phase)
	case domain.DataReceived:
		c.DataReceived(e.Peer, e.Data)
	case domain.ResourceStarted:
		c.ResourceStarted(e.Peer, e.Name)
	case domain.ResourceFinished:
		c.ResourceFinished(e.Peer, e.Name, e.Path, e.Err)
	case domain.StreamReceived:
		c.StreamReceived(e.Peer, e.Name)
	case domain.StartFailure:
		c.StartFailed(e.Service, e.Err)
	default:
		c.logger.Warn("unhandled transport event", zap.String("event", ev.EventName()))
	}
}

// ─── Discovery ──────────────────────────────────────────────────────────────

// PeerDiscovered invites peer when the tie-break says so.
func (c *Coordinator) PeerDiscovered(peer domain.PeerIdentity, info map[string]string) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.logger.Debug("dropping discovery after teardown", zap.String("peer", peer.String()))
		return
	}

	c.record(peer, domain.PeerEventFound, domain.PhaseNotConnected)
	local := c.transport.LocalPeer()
	if c.policy.Decide(local, peer) {
		c.logger.Info("inviting peer", zap.String("peer", peer.String()), zap.Any("info", info))
		if err := c.transport.Invite(peer, c.inviteTimeout); err != nil {
			c.logger.Warn("invite failed", zap.String("peer", peer.String()), zap.Error(err))
			metrics.TransportErrors.WithLabelValues("invite").Inc()
		} else {
			metrics.InvitationsSent.Inc()
			c.record(peer, domain.PeerEventInvited, domain.PhaseNotConnected)
		}
	} else {
		c.logger.Info("not inviting peer", zap.String("peer", peer.String()), zap.Any("info", info))
	}
	c.mu.Unlock()

	c.notify()
}

// PeerLost records peer as not connected.
func (c *Coordinator) PeerLost(peer domain.PeerIdentity) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.logger.Debug("dropping lost peer after teardown", zap.String("peer", peer.String()))
		return
	}
	c.registry.RecordDisconnected(peer)
	c.transitioned(peer, domain.PeerEventLost, domain.PhaseNotConnected)
	c.mu.Unlock()

	c.logger.Info("lost peer", zap.String("peer", peer.String()))
	c.notify()
}

// ─── Session ────────────────────────────────────────────────────────────────

// InvitationReceived accepts every invitation while services run.
func (c *Coordinator) InvitationReceived(peer domain.PeerIdentity, payload []byte, respond func(accept bool)) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.logger.Info("declining invitation after teardown", zap.String("peer", peer.String()))
		metrics.InvitationsReceived.WithLabelValues("declined").Inc()
		if respond != nil {
			respond(false)
		}
		return
	}

	c.logger.Info("accepting invitation", zap.String("peer", peer.String()), zap.Int("context_len", len(payload)))
	if respond != nil {
		respond(true)
	} else {
		c.logger.Warn("invitation without responder", zap.String("peer", peer.String()))
	}
	metrics.InvitationsReceived.WithLabelValues("accepted").Inc()
	c.registry.RecordConnecting(peer)
	c.transitioned(peer, domain.PeerEventInvitation, domain.PhaseConnecting)
	c.mu.Unlock()

	c.notify()
}

// SessionStateChanged applies a transport phase change.
func (c *Coordinator) SessionStateChanged(peer domain.PeerIdentity, phase domain.ConnectionPhase) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.logger.Debug("dropping state change after teardown",
			zap.String("peer", peer.String()), zap.Stringer("phase", phase))
		return
	}

	switch phase {
	case domain.PhaseConnecting:
		c.registry.RecordConnecting(peer)
	case domain.PhaseConnected:
		c.registry.RecordConnected(peer)
	case domain.PhaseNotConnected:
		c.registry.RecordDisconnected(peer)
	default:
		c.mu.Unlock()
		c.logger.Warn("ignoring unknown phase", zap.String("peer", peer.String()), zap.Int("phase", int(phase)))
		return
	}
	c.transitioned(peer, domain.PeerEventState, phase)
	c.mu.Unlock()

	c.logger.Info("peer changed state", zap.String("peer", peer.String()), zap.Stringer("phase", phase))
	c.notify()
}

// ─── Informational events ───────────────────────────────────────────────────

// DataReceived logs application data from peer.
func (c *Coordinator) DataReceived(peer domain.PeerIdentity, data []byte) {
	c.logger.Info("data received", zap.String("peer", peer.String()), zap.Int("bytes", len(data)))
}

// ResourceStarted logs the start of a resource transfer.
func (c *Coordinator) ResourceStarted(peer domain.PeerIdentity, name string) {
	c.logger.Info("resource transfer started", zap.String("peer", peer.String()), zap.String("resource", name))
}

// ResourceFinished logs the outcome of a resource transfer. A failed
// transfer is discarded; the peer's phase is unaffected.
func (c *Coordinator) ResourceFinished(peer domain.PeerIdentity, name, path string, err error) {
	if err != nil {
		c.logger.Warn("resource transfer failed",
			zap.String("peer", peer.String()), zap.String("resource", name), zap.Error(err))
		metrics.TransportErrors.WithLabelValues("resource").Inc()
		return
	}
	c.logger.Info("resource transfer finished",
		zap.String("peer", peer.String()), zap.String("resource", name), zap.String("path", path))
}

// StreamReceived logs an incoming stream. Streams are not consumed.
func (c *Coordinator) StreamReceived(peer domain.PeerIdentity, name string) {
	c.logger.Info("stream received", zap.String("peer", peer.String()), zap.String("stream", name))
}

// StartFailed logs an asynchronous advertising or browsing failure.
// The service stays degraded until the next StartServices.
func (c *Coordinator) StartFailed(service string, err error) {
	c.logger.Warn("service failed to start", zap.String("service", service), zap.Error(err))
	metrics.TransportErrors.WithLabelValues(service).Inc()
}

// ─── Commands & snapshots ───────────────────────────────────────────────────

// Send forwards data to connected peers.
func (c *Coordinator) Send(data []byte, peers ...domain.PeerIdentity) error {
	if !c.Running() {
		return domain.ErrServicesStopped
	}
	connected := make(map[string]bool)
	for _, p := range c.transport.ConnectedPeers() {
		connected[p.ID] = true
	}
	for _, p := range peers {
		if !connected[p.ID] {
			return fmt.Errorf("%w: %s", domain.ErrPeerNotConnected, p)
		}
	}
	return c.transport.Send(data, peers...)
}

// LocalPeer returns the identity advertised by the transport.
func (c *Coordinator) LocalPeer() domain.PeerIdentity {
	return c.transport.LocalPeer()
}

// DisplayName returns the local peer's display name.
func (c *Coordinator) DisplayName() string {
	return c.transport.LocalPeer().DisplayName
}

// ConnectedPeers is sourced from the transport's live session.
func (c *Coordinator) ConnectedPeers() []domain.PeerIdentity {
	return c.transport.ConnectedPeers()
}

// ConnectingPeers returns the connecting view in first-seen order.
func (c *Coordinator) ConnectingPeers() []domain.PeerIdentity {
	return c.registry.ConnectingPeers()
}

// DisconnectedPeers returns the disconnected view in first-seen order.
func (c *Coordinator) DisconnectedPeers() []domain.PeerIdentity {
	return c.registry.DisconnectedPeers()
}

// Snapshot returns fresh copies of all three views.
func (c *Coordinator) Snapshot() domain.Snapshot {
	return domain.Snapshot{
		Local:        c.LocalPeer(),
		Running:      c.Running(),
		NotConnected: c.DisconnectedPeers(),
		Connecting:   c.ConnectingPeers(),
		Connected:    c.ConnectedPeers(),
	}
}

// ─── Bookkeeping ────────────────────────────────────────────────────────────

// transitioned assumes c.mu is held.
func (c *Coordinator) transitioned(peer domain.PeerIdentity, kind domain.PeerEventKind, phase domain.ConnectionPhase) {
	metrics.PhaseTransitions.WithLabelValues(phase.Token(), string(kind)).Inc()
	c.updateGauges()
	c.record(peer, kind, phase)
}

// record assumes c.mu is held.
func (c *Coordinator) record(peer domain.PeerIdentity, kind domain.PeerEventKind, phase domain.ConnectionPhase) {
	if c.journal == nil {
		return
	}
	ev := domain.PeerEvent{Peer: peer, Kind: kind, Phase: phase, At: time.Now()}
	if err := c.journal.RecordPeerEvent(ev); err != nil {
		c.logger.Warn("journal write failed", zap.String("peer", peer.String()), zap.Error(err))
	}
}

func (c *Coordinator) updateGauges() {
	for phase, n := range c.registry.Counts() {
		metrics.TrackedPeers.WithLabelValues(phase.Token()).Set(float64(n))
	}
}

package lobby

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tutu-network/peerlink/internal/domain"
	"github.com/tutu-network/peerlink/internal/infra/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	helloWait      = 10 * time.Second
	maxFrameSize   = 1 << 20
	memberQueueLen = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Peers connect from arbitrary local tools; there is no browser origin to check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub is the rendezvous point. It owns every member connection and the
// invitation and link state between them.
type Hub struct {
	mu      sync.Mutex
	members map[string]*member
	pending map[string]*pendingInvite
	logger  *zap.Logger
	closed  bool
}

type member struct {
	peer    domain.PeerIdentity
	service string
	conn    *websocket.Conn
	queue   chan Frame
	done    chan struct{}
	once    sync.Once

	advertising bool
	info        map[string]string
	browsing    bool
	seen        map[string]bool // advertisers already reported as found
	links       map[string]bool
}

type pendingInvite struct {
	id    string
	from  string
	to    string
	timer *time.Timer
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		members: make(map[string]*member),
		pending: make(map[string]*pendingInvite),
		logger:  logger,
	}
}

// Members returns the number of connected peers.
func (h *Hub) Members() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members)
}

// Close disconnects every member. The hub refuses new members afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	members := make([]*member, 0, len(h.members))
	for _, m := range h.members {
		members = append(members, m)
	}
	for _, p := range h.pending {
		p.timer.Stop()
	}
	h.pending = make(map[string]*pendingInvite)
	h.mu.Unlock()

	for _, m := range members {
		m.close()
	}
}

// ServeWS upgrades the request and runs the member until its socket
// closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameSize)

	m, err := h.handshake(conn)
	if err != nil {
		h.logger.Info("handshake refused", zap.String("remote", r.RemoteAddr), zap.Error(err))
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(errorFrame(TypeHello, err))
		_ = conn.Close()
		return
	}

	go m.writePump(h.logger)
	h.readLoop(m)
	h.leave(m)
}

func (h *Hub) handshake(conn *websocket.Conn) (*member, error) {
	_ = conn.SetReadDeadline(time.Now().Add(helloWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrHandshakeFailed, err)
	}
	f, err := decodeFrame(raw)
	if err != nil {
		return nil, err
	}
	if f.Type != TypeHello || f.Peer == nil || f.Peer.ID == "" {
		return nil, fmt.Errorf("%w: expected hello with a peer id", domain.ErrHandshakeFailed)
	}
	service := f.Service
	if service == "" {
		service = DefaultServiceType
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, domain.ErrTransportClosed
	}
	if _, dup := h.members[f.Peer.ID]; dup {
		return nil, domain.ErrPeerIDInUse
	}
	m := &member{
		peer:    f.Peer.Identity(),
		service: service,
		conn:    conn,
		queue:   make(chan Frame, memberQueueLen),
		done:    make(chan struct{}),
		seen:    make(map[string]bool),
		links:   make(map[string]bool),
	}
	h.members[m.peer.ID] = m
	metrics.LobbyMembers.Set(float64(len(h.members)))
	m.enqueue(Frame{Type: TypeWelcome, Peer: peerInfo(m.peer), Service: service})

	h.logger.Info("peer joined",
		zap.String("peer", m.peer.String()), zap.String("id", m.peer.ID), zap.String("service", service))
	return m, nil
}

func (h *Hub) readLoop(m *member) {
	_ = m.conn.SetReadDeadline(time.Now().Add(pongWait))
	m.conn.SetPongHandler(func(string) error {
		return m.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := m.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("member read failed", zap.String("peer", m.peer.String()), zap.Error(err))
			}
			return
		}
		f, err := decodeFrame(raw)
		if err != nil {
			m.enqueue(errorFrame("decode", err))
			continue
		}
		metrics.LobbyFrames.WithLabelValues(f.Type).Inc()
		h.dispatch(m, f)
	}
}

func (h *Hub) dispatch(m *member, f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch f.Type {
	case TypeAdvertise:
		h.advertise(m, f.Info)
	case TypeUnadvertise:
		h.unadvertise(m)
	case TypeBrowse:
		h.browse(m)
	case TypeUnbrowse:
		m.browsing = false
		m.seen = make(map[string]bool)
	case TypeInvite:
		h.invite(m, f)
	case TypeRespond:
		h.respond(m, f)
	case TypeDisconnect:
		h.unlink(m)
		h.dropInvitesFrom(m)
	case TypeSend:
		h.relay(m, f)
	default:
		m.enqueue(errorFrame(f.Type, fmt.Errorf("%w: unexpected type %q", domain.ErrInvalidFrame, f.Type)))
	}
}

// ─── Discovery ──────────────────────────────────────────────────────────────

func (h *Hub) advertise(m *member, info map[string]string) {
	m.advertising = true
	m.info = info
	for _, b := range h.members {
		if b != m && b.browsing && b.service == m.service {
			h.announce(b, m)
		}
	}
}

func (h *Hub) unadvertise(m *member) {
	if !m.advertising {
		return
	}
	m.advertising = false
	for _, b := range h.members {
		if b.seen[m.peer.ID] {
			delete(b.seen, m.peer.ID)
			b.enqueue(Frame{Type: TypeLost, Peer: peerInfo(m.peer)})
		}
	}
}

func (h *Hub) browse(m *member) {
	m.browsing = true
	for _, a := range h.members {
		if a != m && a.advertising && a.service == m.service {
			h.announce(m, a)
		}
	}
}

// announce reports advertiser a to browser b at most once.
func (h *Hub) announce(b, a *member) {
	if b.seen[a.peer.ID] {
		return
	}
	b.seen[a.peer.ID] = true
	b.enqueue(Frame{Type: TypeFound, Peer: peerInfo(a.peer), Info: a.info})
}

// ─── Invitations ────────────────────────────────────────────────────────────

func (h *Hub) invite(m *member, f Frame) {
	if f.Peer == nil {
		m.enqueue(errorFrame(TypeInvite, fmt.Errorf("%w: invite without peer", domain.ErrInvalidFrame)))
		return
	}
	target, ok := h.members[f.Peer.ID]
	if !ok || !target.advertising || target.service != m.service {
		h.logger.Debug("invite to unavailable peer",
			zap.String("from", m.peer.String()), zap.String("to", f.Peer.Name))
		m.enqueue(stateFrame(f.Peer.Identity(), domain.PhaseNotConnected))
		return
	}
	if m.links[target.peer.ID] {
		m.enqueue(stateFrame(target.peer, domain.PhaseConnected))
		return
	}

	timeout := time.Duration(f.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	id := uuid.NewString()
	p := &pendingInvite{id: id, from: m.peer.ID, to: target.peer.ID}
	p.timer = time.AfterFunc(timeout, func() { h.expire(id) })
	h.pending[id] = p

	m.enqueue(stateFrame(target.peer, domain.PhaseConnecting))
	target.enqueue(Frame{Type: TypeInvitation, Peer: peerInfo(m.peer), Invite: id, Context: f.Context})
	h.logger.Info("invitation relayed",
		zap.String("from", m.peer.String()), zap.String("to", target.peer.String()), zap.Duration("timeout", timeout))
}

func (h *Hub) respond(m *member, f Frame) {
	p, ok := h.pending[f.Invite]
	if !ok || p.to != m.peer.ID {
		// Late or unknown: make sure the invitee does not stay Connecting.
		if f.Accept && f.Peer != nil {
			m.enqueue(stateFrame(f.Peer.Identity(), domain.PhaseNotConnected))
		}
		return
	}
	delete(h.pending, p.id)
	p.timer.Stop()

	inviter, ok := h.members[p.from]
	if !ok {
		if f.Accept && f.Peer != nil {
			m.enqueue(stateFrame(f.Peer.Identity(), domain.PhaseNotConnected))
		}
		return
	}
	if !f.Accept {
		inviter.enqueue(stateFrame(m.peer, domain.PhaseNotConnected))
		h.logger.Info("invitation declined", zap.String("from", inviter.peer.String()), zap.String("to", m.peer.String()))
		return
	}

	inviter.links[m.peer.ID] = true
	m.links[inviter.peer.ID] = true
	inviter.enqueue(stateFrame(m.peer, domain.PhaseConnected))
	m.enqueue(stateFrame(inviter.peer, domain.PhaseConnected))
	h.logger.Info("peers linked", zap.String("a", inviter.peer.String()), zap.String("b", m.peer.String()))
}

func (h *Hub) expire(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pending[id]
	if !ok {
		return
	}
	delete(h.pending, id)
	inviter, ok := h.members[p.from]
	if !ok {
		return
	}
	peer := domain.PeerIdentity{ID: p.to}
	if target, ok := h.members[p.to]; ok {
		peer = target.peer
	}
	inviter.enqueue(stateFrame(peer, domain.PhaseNotConnected))
	h.logger.Info("invitation timed out", zap.String("from", inviter.peer.String()), zap.String("to", peer.String()))
}

func (h *Hub) dropInvitesFrom(m *member) {
	for id, p := range h.pending {
		if p.from == m.peer.ID {
			p.timer.Stop()
			delete(h.pending, id)
		}
	}
}

// ─── Session ────────────────────────────────────────────────────────────────

func (h *Hub) unlink(m *member) {
	for id := range m.links {
		delete(m.links, id)
		if partner, ok := h.members[id]; ok {
			delete(partner.links, m.peer.ID)
			partner.enqueue(stateFrame(m.peer, domain.PhaseNotConnected))
		}
	}
}

func (h *Hub) relay(m *member, f Frame) {
	if f.Peer == nil || !m.links[f.Peer.ID] {
		m.enqueue(errorFrame(TypeSend, domain.ErrPeerNotConnected))
		return
	}
	if target, ok := h.members[f.Peer.ID]; ok {
		target.enqueue(Frame{Type: TypeData, Peer: peerInfo(m.peer), Data: f.Data})
	}
}

func (h *Hub) leave(m *member) {
	h.mu.Lock()
	h.unadvertise(m)
	h.unlink(m)
	h.dropInvitesFrom(m)
	for id, p := range h.pending {
		if p.to != m.peer.ID {
			continue
		}
		p.timer.Stop()
		delete(h.pending, id)
		if inviter, ok := h.members[p.from]; ok {
			inviter.enqueue(stateFrame(m.peer, domain.PhaseNotConnected))
		}
	}
	if h.members[m.peer.ID] == m {
		delete(h.members, m.peer.ID)
	}
	metrics.LobbyMembers.Set(float64(len(h.members)))
	h.mu.Unlock()

	m.close()
	h.logger.Info("peer left", zap.String("peer", m.peer.String()))
}

// ─── Member I/O ─────────────────────────────────────────────────────────────

// enqueue never blocks; a member that cannot keep up loses frames.
func (m *member) enqueue(f Frame) {
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.queue <- f:
	case <-m.done:
	default:
		metrics.LobbyFrames.WithLabelValues("dropped").Inc()
	}
}

func (m *member) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case f := <-m.queue:
			_ = m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := m.conn.WriteJSON(f); err != nil {
				logger.Debug("member write failed", zap.String("peer", m.peer.String()), zap.Error(err))
				m.close()
				return
			}
		case <-ticker.C:
			if err := m.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				m.close()
				return
			}
		}
	}
}

func (m *member) close() {
	m.once.Do(func() {
		close(m.done)
		_ = m.conn.Close()
	})
}

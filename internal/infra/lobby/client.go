package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tutu-network/peerlink/internal/domain"
)

const eventQueueLen = 64

// ClientConfig describes how to join a lobby.
type ClientConfig struct {
	URL     string // ws://host:port/ws
	Service string
	Local   domain.PeerIdentity
	Info    map[string]string // discovery info sent with advertise

	HandshakeTimeout time.Duration
}

// Client is a lobby connection acting as a domain.Transport.
type Client struct {
	cfg    ClientConfig
	conn   *websocket.Conn
	logger *zap.Logger
	events chan domain.Event

	writeMu sync.Mutex

	mu        sync.Mutex
	connected []domain.PeerIdentity

	alive     atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

var _ domain.Transport = (*Client)(nil)

// Dial connects to the hub at cfg.URL and completes the hello handshake.
func Dial(ctx context.Context, cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Service == "" {
		cfg.Service = DefaultServiceType
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = helloWait
	}
	if cfg.Local.ID == "" {
		return nil, fmt.Errorf("%w: local peer has no id", domain.ErrHandshakeFailed)
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial lobby %s: %w", cfg.URL, err)
	}
	conn.SetReadLimit(maxFrameSize)

	c := &Client{
		cfg:    cfg,
		conn:   conn,
		logger: logger,
		events: make(chan domain.Event, eventQueueLen),
		done:   make(chan struct{}),
	}
	if err := c.handshake(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.alive.Store(true)

	go c.readLoop()
	logger.Info("joined lobby",
		zap.String("url", cfg.URL), zap.String("service", cfg.Service), zap.String("local", cfg.Local.String()))
	return c, nil
}

func (c *Client) handshake() error {
	hello := Frame{Type: TypeHello, Peer: peerInfo(c.cfg.Local), Service: c.cfg.Service}
	if err := c.write(hello); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrHandshakeFailed, err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrHandshakeFailed, err)
	}
	f, err := decodeFrame(raw)
	if err != nil {
		return err
	}
	switch f.Type {
	case TypeWelcome:
		return nil
	case TypeError:
		if f.Error == domain.ErrPeerIDInUse.Error() {
			return domain.ErrPeerIDInUse
		}
		return fmt.Errorf("%w: %s", domain.ErrHandshakeFailed, f.Error)
	default:
		return fmt.Errorf("%w: unexpected %q frame", domain.ErrHandshakeFailed, f.Type)
	}
}

// ─── domain.Transport ───────────────────────────────────────────────────────

func (c *Client) LocalPeer() domain.PeerIdentity { return c.cfg.Local }

// Events is closed when the hub connection ends.
func (c *Client) Events() <-chan domain.Event { return c.events }

func (c *Client) Invite(peer domain.PeerIdentity, timeout time.Duration) error {
	return c.write(Frame{Type: TypeInvite, Peer: peerInfo(peer), Timeout: timeout.Milliseconds()})
}

func (c *Client) StartAdvertising() error {
	return c.write(Frame{Type: TypeAdvertise, Info: c.cfg.Info})
}

func (c *Client) StopAdvertising() error {
	return c.write(Frame{Type: TypeUnadvertise})
}

func (c *Client) StartBrowsing() error {
	return c.write(Frame{Type: TypeBrowse})
}

func (c *Client) StopBrowsing() error {
	return c.write(Frame{Type: TypeUnbrowse})
}

// Disconnect leaves every linked peer. The lobby connection stays open.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.connected = nil
	c.mu.Unlock()
	return c.write(Frame{Type: TypeDisconnect})
}

// ConnectedPeers returns the linked peers in the order they connected.
func (c *Client) ConnectedPeers() []domain.PeerIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.PeerIdentity(nil), c.connected...)
}

// Send relays data to each peer; with no peers it goes to every
// connected peer.
func (c *Client) Send(data []byte, peers ...domain.PeerIdentity) error {
	if len(peers) == 0 {
		peers = c.ConnectedPeers()
	}
	var errs error
	for _, p := range peers {
		errs = multierr.Append(errs, c.write(Frame{Type: TypeSend, Peer: peerInfo(p), Data: data}))
	}
	return errs
}

// ─── Connection ─────────────────────────────────────────────────────────────

// Connected reports whether the hub connection is alive.
func (c *Client) Connected() bool { return c.alive.Load() }

// Close ends the hub connection. Events is closed once the read loop
// exits.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		close(c.done)

		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *Client) write(f Frame) error {
	select {
	case <-c.done:
		return domain.ErrTransportClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("lobby %s: %w", f.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer c.alive.Store(false)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("lobby connection lost", zap.Error(err))
			}
			return
		}
		f, err := decodeFrame(raw)
		if err != nil {
			c.logger.Warn("dropping lobby frame", zap.Error(err))
			continue
		}
		if ev := c.translate(f); ev != nil {
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}

// translate turns a hub frame into a domain event, or nil when the frame
// carries nothing for the coordinator.
func (c *Client) translate(f Frame) domain.Event {
	peer := f.Peer.Identity()

	switch f.Type {
	case TypeFound:
		return domain.PeerFound{Peer: peer, Info: f.Info}
	case TypeLost:
		return domain.PeerLost{Peer: peer}
	case TypeInvitation:
		return domain.InvitationReceived{Peer: peer, Context: f.Context, Respond: c.responder(peer, f.Invite)}
	case TypeState:
		phase, err := domain.ParsePhase(f.Phase)
		if err != nil {
			c.logger.Warn("bad phase from lobby", zap.String("phase", f.Phase), zap.Error(err))
			return nil
		}
		c.track(peer, phase)
		return domain.StateChanged{Peer: peer, Phase: phase}
	case TypeData:
		return domain.DataReceived{Peer: peer, Data: f.Data}
	case TypeError:
		err := errors.New(f.Error)
		switch f.Op {
		case TypeAdvertise, TypeBrowse:
			return domain.StartFailure{Service: f.Op, Err: err}
		}
		c.logger.Warn("lobby reported error", zap.String("op", f.Op), zap.Error(err))
		return nil
	default:
		c.logger.Debug("ignoring lobby frame", zap.String("type", f.Type))
		return nil
	}
}

// responder answers an invitation once; later calls are ignored.
func (c *Client) responder(from domain.PeerIdentity, invite string) func(bool) {
	var once sync.Once
	return func(accept bool) {
		once.Do(func() {
			err := c.write(Frame{Type: TypeRespond, Peer: peerInfo(from), Invite: invite, Accept: accept})
			if err != nil {
				c.logger.Warn("invitation response failed", zap.String("peer", from.String()), zap.Error(err))
			}
		})
	}
}

func (c *Client) track(peer domain.PeerIdentity, phase domain.ConnectionPhase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := -1
	for i, p := range c.connected {
		if p.Equal(peer) {
			idx = i
			break
		}
	}
	switch {
	case phase == domain.PhaseConnected && idx < 0:
		c.connected = append(c.connected, peer)
	case phase != domain.PhaseConnected && idx >= 0:
		c.connected = append(c.connected[:idx], c.connected[idx+1:]...)
	}
}

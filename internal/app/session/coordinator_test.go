package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tutu-network/peerlink/internal/domain"
)

// fakeTransport records the calls made by the coordinator.
type fakeTransport struct {
	mu sync.Mutex

	local     domain.PeerIdentity
	events    chan domain.Event
	invites   []domain.PeerIdentity
	timeouts  []time.Duration
	connected []domain.PeerIdentity
	sent      [][]byte

	advertising, browsing bool
	disconnects           int

	inviteErr    error
	advertiseErr error
	browseErr    error
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{
		local:  domain.PeerIdentity{ID: "local-" + name, DisplayName: name},
		events: make(chan domain.Event, 16),
	}
}

func (f *fakeTransport) LocalPeer() domain.PeerIdentity { return f.local }
func (f *fakeTransport) Events() <-chan domain.Event { return f.events }

func (f *fakeTransport) Invite(peer domain.PeerIdentity, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inviteErr != nil {
		return f.inviteErr
	}
	f.invites = append(f.invites, peer)
	f.timeouts = append(f.timeouts, timeout)
	return nil
}

func (f *fakeTransport) StartAdvertising() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advertising = f.advertiseErr == nil
	return f.advertiseErr
}

func (f *fakeTransport) StopAdvertising() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advertising = false
	return nil
}

func (f *fakeTransport) StartBrowsing() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.browsing = f.browseErr == nil
	return f.browseErr
}

func (f *fakeTransport) StopBrowsing() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.browsing = false
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = nil
	return nil
}

func (f *fakeTransport) ConnectedPeers() []domain.PeerIdentity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PeerIdentity(nil), f.connected...)
}

func (f *fakeTransport) Send(data []byte, peers ...domain.PeerIdentity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) inviteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.invites)
}

// memJournal collects journal entries in memory.
type memJournal struct {
	mu     sync.Mutex
	events []domain.PeerEvent
	err    error
}

func (j *memJournal) RecordPeerEvent(ev domain.PeerEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return j.err
}

func (j *memJournal) kinds() []domain.PeerEventKind {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.PeerEventKind, len(j.events))
	for i, ev := range j.events {
		out[i] = ev.Kind
	}
	return out
}

func newTestCoordinator(t *testing.T, name string) (*Coordinator, *fakeTransport, *int) {
	t.Helper()
	tr := newFakeTransport(name)
	c := NewCoordinator(tr, DefaultConfig(), nil)
	notified := new(int)
	c.Subscribe(func() { *notified++ })
	return c, tr, notified
}

// ─── Discovery ──────────────────────────────────────────────────────────────

func TestCoordinator_DiscoveryInvites(t *testing.T) {
	c, tr, notified := newTestCoordinator(t, "Zed")
	c.PeerDiscovered(amy, nil)

	if tr.inviteCount() != 1 {
		t.Fatalf("invites = %d, want 1", tr.inviteCount())
	}
	if !tr.invites[0].Equal(amy) {
		t.Errorf("invited %v, want %v", tr.invites[0], amy)
	}
	if tr.timeouts[0] != DefaultInviteTimeout {
		t.Errorf("timeout = %v, want %v", tr.timeouts[0], DefaultInviteTimeout)
	}
	if *notified != 1 {
		t.Errorf("notifications = %d, want 1", *notified)
	}
}

func TestCoordinator_DiscoveryWaits(t *testing.T) {
	c, tr, notified := newTestCoordinator(t, "Amy")
	c.PeerDiscovered(zed, map[string]string{"k": "v"})

	if tr.inviteCount() != 0 {
		t.Errorf("invites = %d, want 0", tr.inviteCount())
	}
	if *notified != 1 {
		t.Errorf("notifications = %d, want 1", *notified)
	}
	if len(c.ConnectingPeers()) != 0 || len(c.DisconnectedPeers()) != 0 {
		t.Error("discovery alone should not touch the tracked sets")
	}
}

func TestCoordinator_InviteErrorStillNotifies(t *testing.T) {
	c, tr, notified := newTestCoordinator(t, "Zed")
	tr.inviteErr = errors.New("no route")
	c.PeerDiscovered(amy, nil)

	if *notified != 1 {
		t.Errorf("notifications = %d, want 1", *notified)
	}
}

func TestCoordinator_CustomInviteTimeout(t *testing.T) {
	tr := newFakeTransport("Zed")
	c := NewCoordinator(tr, Config{InviteTimeout: 5 * time.Second}, nil)
	c.PeerDiscovered(amy, nil)

	if len(tr.timeouts) != 1 || tr.timeouts[0] != 5*time.Second {
		t.Errorf("timeouts = %v, want [5s]", tr.timeouts)
	}
}

func TestCoordinator_TieBreakOnID(t *testing.T) {
	tr := newFakeTransport("Twin")
	tr.local.ID = "z-id"
	c := NewCoordinator(tr, Config{TieBreakOnID: true}, nil)
	c.PeerDiscovered(domain.PeerIdentity{ID: "a-id", DisplayName: "Twin"}, nil)

	if tr.inviteCount() != 1 {
		t.Errorf("invites = %d, want 1", tr.inviteCount())
	}
}

// ─── Phase transitions ──────────────────────────────────────────────────────

func TestCoordinator_ConnectSequence(t *testing.T) {
	c, _, notified := newTestCoordinator(t, "Zed")
	c.PeerDiscovered(amy, nil)
	c.SessionStateChanged(amy, domain.PhaseConnecting)

	if !contains(c.ConnectingPeers(), amy) {
		t.Fatal("amy should be connecting")
	}

	c.SessionStateChanged(amy, domain.PhaseConnected)
	if contains(c.ConnectingPeers(), amy) || contains(c.DisconnectedPeers(), amy) {
		t.Error("connected peer should leave both tracked sets")
	}
	if *notified != 3 {
		t.Errorf("notifications = %d, want 3", *notified)
	}
}

func TestCoordinator_LostAfterConnected(t *testing.T) {
	c, _, _ := newTestCoordinator(t, "Zed")
	c.SessionStateChanged(amy, domain.PhaseConnected)
	c.PeerLost(amy)

	equalIDs(t, c.DisconnectedPeers(), amy)
	if len(c.ConnectingPeers()) != 0 {
		t.Error("connecting set should be empty")
	}
}

func TestCoordinator_NotConnectedState(t *testing.T) {
	c, _, _ := newTestCoordinator(t, "Zed")
	c.SessionStateChanged(amy, domain.PhaseConnecting)
	c.SessionStateChanged(amy, domain.PhaseNotConnected)

	equalIDs(t, c.DisconnectedPeers(), amy)
	equalIDs(t, c.ConnectingPeers())
}

func TestCoordinator_UnknownPhaseIgnored(t *testing.T) {
	c, _, notified := newTestCoordinator(t, "Zed")
	c.SessionStateChanged(amy, domain.PhaseConnecting)
	c.SessionStateChanged(amy, domain.ConnectionPhase(42))

	equalIDs(t, c.ConnectingPeers(), amy)
	if *notified != 1 {
		t.Errorf("notifications = %d, want 1", *notified)
	}
}

func TestCoordinator_InvitationAccepted(t *testing.T) {
	c, _, notified := newTestCoordinator(t, "Amy")

	var answer *bool
	c.InvitationReceived(zed, []byte("ctx"), func(accept bool) { answer = &accept })

	if answer == nil || !*answer {
		t.Fatal("invitation should be accepted")
	}
	equalIDs(t, c.ConnectingPeers(), zed)
	if *notified != 1 {
		t.Errorf("notifications = %d, want 1", *notified)
	}
}

func TestCoordinator_InvitationNilResponder(t *testing.T) {
	c, _, _ := newTestCoordinator(t, "Amy")
	c.InvitationReceived(zed, nil, nil)
	equalIDs(t, c.ConnectingPeers(), zed)
}

// ─── Teardown ───────────────────────────────────────────────────────────────

func TestCoordinator_StopServicesClears(t *testing.T) {
	c, tr, notified := newTestCoordinator(t, "Zed")
	if err := c.StartServices(); err != nil {
		t.Fatalf("StartServices() error: %v", err)
	}
	c.SessionStateChanged(amy, domain.PhaseConnecting)
	c.PeerLost(bob)
	before := *notified

	c.StopServices()

	if len(c.ConnectingPeers()) != 0 || len(c.DisconnectedPeers()) != 0 {
		t.Error("teardown should empty both tracked sets")
	}
	if tr.advertising || tr.browsing {
		t.Error("teardown should stop advertising and browsing")
	}
	if tr.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", tr.disconnects)
	}
	if *notified != before {
		t.Error("teardown should not notify observers")
	}
	if c.Running() {
		t.Error("Running() should be false after StopServices")
	}
}

func TestCoordinator_EventsAfterTeardown(t *testing.T) {
	c, tr, notified := newTestCoordinator(t, "Zed")
	c.StopServices()

	c.PeerDiscovered(amy, nil)
	c.PeerLost(amy)
	c.SessionStateChanged(amy, domain.PhaseConnecting)

	var answer *bool
	c.InvitationReceived(amy, nil, func(accept bool) { answer = &accept })

	if tr.inviteCount() != 0 {
		t.Error("no invitations after teardown")
	}
	if answer == nil || *answer {
		t.Error("invitation after teardown should be declined")
	}
	if len(c.ConnectingPeers()) != 0 || len(c.DisconnectedPeers()) != 0 {
		t.Error("tracked sets should stay empty after teardown")
	}
	if *notified != 0 {
		t.Errorf("notifications = %d, want 0", *notified)
	}
}

func TestCoordinator_RestartAfterTeardown(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, "Zed")
	c.StopServices()
	if err := c.StartServices(); err != nil {
		t.Fatalf("StartServices() error: %v", err)
	}
	if !tr.advertising || !tr.browsing {
		t.Error("restart should resume advertising and browsing")
	}
	c.PeerDiscovered(amy, nil)
	if tr.inviteCount() != 1 {
		t.Errorf("invites = %d, want 1", tr.inviteCount())
	}
}

func TestCoordinator_StartServicesErrors(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, "Zed")
	tr.advertiseErr = errors.New("port busy")
	tr.browseErr = errors.New("no network")

	err := c.StartServices()
	if err == nil {
		t.Fatal("StartServices() should report failures")
	}
	if !errors.Is(err, domain.ErrAdvertiseFailed) {
		t.Errorf("error %v should wrap ErrAdvertiseFailed", err)
	}
	if !errors.Is(err, domain.ErrBrowseFailed) {
		t.Errorf("error %v should wrap ErrBrowseFailed", err)
	}
	// A failed start leaves the coordinator handling events.
	if !c.Running() {
		t.Error("Running() should be true after a degraded start")
	}
}

// ─── Observers & commands ───────────────────────────────────────────────────

func TestCoordinator_SubscribeCancel(t *testing.T) {
	c := NewCoordinator(newFakeTransport("Zed"), DefaultConfig(), nil)

	var order []string
	cancelA := c.Subscribe(func() { order = append(order, "a") })
	c.Subscribe(func() { order = append(order, "b") })

	c.PeerLost(amy)
	cancelA()
	c.PeerLost(bob)

	want := []string{"a", "b", "b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestCoordinator_ObserverReadsSnapshot(t *testing.T) {
	c := NewCoordinator(newFakeTransport("Zed"), DefaultConfig(), nil)

	var seen domain.Snapshot
	c.Subscribe(func() { seen = c.Snapshot() })
	c.SessionStateChanged(amy, domain.PhaseConnecting)

	if len(seen.Connecting) != 1 || !seen.Connecting[0].Equal(amy) {
		t.Errorf("observer saw %v, want amy connecting", seen.Connecting)
	}
	if seen.Local.DisplayName != "Zed" {
		t.Errorf("Local = %v, want Zed", seen.Local)
	}
}

func TestCoordinator_Send(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, "Zed")
	tr.connected = []domain.PeerIdentity{amy}

	if err := c.Send([]byte("hi"), amy); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if len(tr.sent) != 1 || string(tr.sent[0]) != "hi" {
		t.Errorf("sent = %q, want [hi]", tr.sent)
	}

	if err := c.Send([]byte("hi"), bob); !errors.Is(err, domain.ErrPeerNotConnected) {
		t.Errorf("Send(bob) error = %v, want ErrPeerNotConnected", err)
	}

	c.StopServices()
	if err := c.Send([]byte("hi"), amy); !errors.Is(err, domain.ErrServicesStopped) {
		t.Errorf("Send() after stop error = %v, want ErrServicesStopped", err)
	}
}

func TestCoordinator_Journal(t *testing.T) {
	c, _, _ := newTestCoordinator(t, "Zed")
	j := &memJournal{err: errors.New("disk full")}
	c.SetJournal(j)

	c.PeerDiscovered(amy, nil)
	c.SessionStateChanged(amy, domain.PhaseConnected)
	c.PeerLost(amy)

	want := []domain.PeerEventKind{
		domain.PeerEventFound, domain.PeerEventInvited, domain.PeerEventState, domain.PeerEventLost,
	}
	got := j.kinds()
	if len(got) != len(want) {
		t.Fatalf("journal = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("journal = %v, want %v", got, want)
		}
	}
}

// ─── Event loop ─────────────────────────────────────────────────────────────

func TestCoordinator_Run(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, "Zed")

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	tr.events <- domain.PeerFound{Peer: amy}
	tr.events <- domain.StateChanged{Peer: amy, Phase: domain.PhaseConnecting}
	tr.events <- domain.DataReceived{Peer: amy, Data: []byte("x")}
	close(tr.events)

	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrTransportClosed) {
			t.Errorf("Run() = %v, want ErrTransportClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after the event channel closed")
	}

	if tr.inviteCount() != 1 {
		t.Errorf("invites = %d, want 1", tr.inviteCount())
	}
	equalIDs(t, c.ConnectingPeers(), amy)
}

func TestCoordinator_RunCancelled(t *testing.T) {
	c, _, _ := newTestCoordinator(t, "Zed")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}

func TestNewCoordinator_NilTransportPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewCoordinator(nil) should panic")
		}
	}()
	NewCoordinator(nil, DefaultConfig(), nil)
}

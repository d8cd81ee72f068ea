package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tutu-network/peerlink/internal/app/session"
	"github.com/tutu-network/peerlink/internal/domain"
)

const waitTimeout = 5 * time.Second

var (
	amy = domain.PeerIdentity{ID: "peer-amy", DisplayName: "Amy"}
	zed = domain.PeerIdentity{ID: "peer-zed", DisplayName: "Zed"}
)

func startHub(t *testing.T) (*Hub, *httptest.Server, string) {
	t.Helper()
	hub := NewHub(nil)
	srv := httptest.NewServer(NewServer(hub).Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)
	return hub, srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, local domain.PeerIdentity) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	c, err := Dial(ctx, ClientConfig{URL: url, Local: local, Info: map[string]string{"name": local.DisplayName}}, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error: %v", local, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// nextEvent returns the first event from c that satisfies match.
func nextEvent(t *testing.T, c *Client, match func(domain.Event) bool) domain.Event {
	t.Helper()
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatal("event channel closed")
			}
			if match(ev) {
				return ev
			}
		case <-timer.C:
			t.Fatal("timed out waiting for event")
		}
	}
}

func isState(peer domain.PeerIdentity, phase domain.ConnectionPhase) func(domain.Event) bool {
	return func(ev domain.Event) bool {
		s, ok := ev.(domain.StateChanged)
		return ok && s.Peer.Equal(peer) && s.Phase == phase
	}
}

func has(peers []domain.PeerIdentity, p domain.PeerIdentity) bool {
	for _, q := range peers {
		if q.Equal(p) {
			return true
		}
	}
	return false
}

// discover advertises ac and waits until zc has browsed it, so the hub
// knows ac as an advertiser.
func discover(t *testing.T, zc, ac *Client) {
	t.Helper()
	if err := ac.StartAdvertising(); err != nil {
		t.Fatal(err)
	}
	if err := zc.StartBrowsing(); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, zc, func(ev domain.Event) bool {
		f, ok := ev.(domain.PeerFound)
		return ok && f.Peer.Equal(ac.LocalPeer())
	})
}

// link connects zc and ac through an accepted invitation.
func link(t *testing.T, zc, ac *Client) {
	t.Helper()
	discover(t, zc, ac)
	if err := zc.Invite(amy, time.Second); err != nil {
		t.Fatal(err)
	}
	ev := nextEvent(t, ac, func(ev domain.Event) bool { _, ok := ev.(domain.InvitationReceived); return ok })
	ev.(domain.InvitationReceived).Respond(true)

	nextEvent(t, zc, isState(amy, domain.PhaseConnected))
	nextEvent(t, ac, isState(zed, domain.PhaseConnected))
}

// ─── End to end ─────────────────────────────────────────────────────────────

func TestLobby_CoordinatorsConnect(t *testing.T) {
	_, _, url := startHub(t)
	zc := dial(t, url, zed)
	ac := dial(t, url, amy)

	zedCoord := session.NewCoordinator(zc, session.DefaultConfig(), nil)
	amyCoord := session.NewCoordinator(ac, session.DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go zedCoord.Run(ctx)
	go amyCoord.Run(ctx)

	if err := zedCoord.StartServices(); err != nil {
		t.Fatalf("zed StartServices() error: %v", err)
	}
	if err := amyCoord.StartServices(); err != nil {
		t.Fatalf("amy StartServices() error: %v", err)
	}

	waitFor(t, "zed connected to amy", func() bool { return has(zedCoord.ConnectedPeers(), amy) })
	waitFor(t, "amy connected to zed", func() bool { return has(amyCoord.ConnectedPeers(), zed) })
	waitFor(t, "registries to settle", func() bool {
		return len(zedCoord.ConnectingPeers()) == 0 && len(amyCoord.ConnectingPeers()) == 0
	})

	if len(zedCoord.DisconnectedPeers()) != 0 || len(amyCoord.DisconnectedPeers()) != 0 {
		t.Error("no peer should be disconnected")
	}

	amyCoord.StopServices()
	waitFor(t, "zed to see amy leave", func() bool { return has(zedCoord.DisconnectedPeers(), amy) })
	if has(zedCoord.ConnectedPeers(), amy) {
		t.Error("amy should no longer be connected to zed")
	}
}

func TestLobby_DuplicatePeerID(t *testing.T) {
	_, _, url := startHub(t)
	dial(t, url, amy)

	_, err := Dial(context.Background(), ClientConfig{URL: url, Local: amy}, nil)
	if !errors.Is(err, domain.ErrPeerIDInUse) {
		t.Errorf("second Dial() error = %v, want ErrPeerIDInUse", err)
	}
}

func TestLobby_FoundAndLost(t *testing.T) {
	_, _, url := startHub(t)
	ac := dial(t, url, amy)
	zc := dial(t, url, zed)

	if err := ac.StartBrowsing(); err != nil {
		t.Fatal(err)
	}
	if err := zc.StartAdvertising(); err != nil {
		t.Fatal(err)
	}

	ev := nextEvent(t, ac, func(ev domain.Event) bool { _, ok := ev.(domain.PeerFound); return ok })
	found := ev.(domain.PeerFound)
	if !found.Peer.Equal(zed) || found.Peer.DisplayName != "Zed" {
		t.Errorf("found %v, want zed", found.Peer)
	}
	if found.Info["name"] != "Zed" {
		t.Errorf("info = %v, want name=Zed", found.Info)
	}

	zc.Close()
	ev = nextEvent(t, ac, func(ev domain.Event) bool { _, ok := ev.(domain.PeerLost); return ok })
	if lost := ev.(domain.PeerLost); !lost.Peer.Equal(zed) {
		t.Errorf("lost %v, want zed", lost.Peer)
	}
}

func TestLobby_ServiceTypesAreIsolated(t *testing.T) {
	_, _, url := startHub(t)
	ctx := context.Background()

	other, err := Dial(ctx, ClientConfig{URL: url, Local: zed, Service: "other"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	ac := dial(t, url, amy)

	if err := other.StartAdvertising(); err != nil {
		t.Fatal(err)
	}
	if err := ac.StartBrowsing(); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-ac.Events():
		t.Errorf("unexpected event across services: %s", ev.EventName())
	case <-time.After(200 * time.Millisecond):
	}
}

// ─── Invitations ────────────────────────────────────────────────────────────

func TestLobby_InviteTimeout(t *testing.T) {
	_, _, url := startHub(t)
	zc := dial(t, url, zed)
	ac := dial(t, url, amy)
	discover(t, zc, ac)
	if err := zc.Invite(amy, 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, zc, isState(amy, domain.PhaseConnecting))
	nextEvent(t, zc, isState(amy, domain.PhaseNotConnected))
}

func TestLobby_InviteUnknownPeer(t *testing.T) {
	_, _, url := startHub(t)
	zc := dial(t, url, zed)

	ghost := domain.PeerIdentity{ID: "ghost", DisplayName: "Ghost"}
	if err := zc.Invite(ghost, time.Second); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, zc, isState(ghost, domain.PhaseNotConnected))
}

func TestLobby_DeclinedInvitation(t *testing.T) {
	_, _, url := startHub(t)
	zc := dial(t, url, zed)
	ac := dial(t, url, amy)
	discover(t, zc, ac)
	if err := zc.Invite(amy, time.Second); err != nil {
		t.Fatal(err)
	}
	ev := nextEvent(t, ac, func(ev domain.Event) bool { _, ok := ev.(domain.InvitationReceived); return ok })
	inv := ev.(domain.InvitationReceived)
	if !inv.Peer.Equal(zed) {
		t.Errorf("invitation from %v, want zed", inv.Peer)
	}
	inv.Respond(false)
	inv.Respond(true) // ignored

	nextEvent(t, zc, isState(amy, domain.PhaseNotConnected))
	if len(zc.ConnectedPeers()) != 0 {
		t.Error("declined invitation should not link peers")
	}
}

func TestLobby_LateAccept(t *testing.T) {
	_, _, url := startHub(t)
	zc := dial(t, url, zed)
	ac := dial(t, url, amy)
	discover(t, zc, ac)
	if err := zc.Invite(amy, 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	ev := nextEvent(t, ac, func(ev domain.Event) bool { _, ok := ev.(domain.InvitationReceived); return ok })
	nextEvent(t, zc, isState(amy, domain.PhaseNotConnected))

	ev.(domain.InvitationReceived).Respond(true)
	nextEvent(t, ac, isState(zed, domain.PhaseNotConnected))
	if len(ac.ConnectedPeers()) != 0 {
		t.Error("late accept should not link peers")
	}
}

// ─── Session ────────────────────────────────────────────────────────────────

func TestLobby_SendAndDisconnect(t *testing.T) {
	_, _, url := startHub(t)
	zc := dial(t, url, zed)
	ac := dial(t, url, amy)
	link(t, zc, ac)

	if got := zc.ConnectedPeers(); len(got) != 1 || !got[0].Equal(amy) {
		t.Fatalf("zed connected = %v, want [amy]", got)
	}

	if err := zc.Send([]byte("hello"), amy); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	ev := nextEvent(t, ac, func(ev domain.Event) bool { _, ok := ev.(domain.DataReceived); return ok })
	if data := ev.(domain.DataReceived); string(data.Data) != "hello" || !data.Peer.Equal(zed) {
		t.Errorf("received %q from %v, want hello from zed", data.Data, data.Peer)
	}

	if err := zc.Disconnect(); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, ac, isState(zed, domain.PhaseNotConnected))
	if len(ac.ConnectedPeers()) != 0 || len(zc.ConnectedPeers()) != 0 {
		t.Error("disconnect should clear both connected lists")
	}
}

func TestClient_CloseEndsEvents(t *testing.T) {
	_, _, url := startHub(t)
	c := dial(t, url, amy)
	if !c.Connected() {
		t.Fatal("Connected() should be true after Dial")
	}
	c.Close()

	select {
	case _, ok := <-c.Events():
		for ok {
			_, ok = <-c.Events()
		}
	case <-time.After(waitTimeout):
		t.Fatal("Events() not closed after Close()")
	}
	if c.Connected() {
		t.Error("Connected() should be false after Close")
	}
	if err := c.StartBrowsing(); !errors.Is(err, domain.ErrTransportClosed) {
		t.Errorf("StartBrowsing() after Close error = %v, want ErrTransportClosed", err)
	}
}

// ─── Server ─────────────────────────────────────────────────────────────────

func TestServer_Health(t *testing.T) {
	hub, srv, url := startHub(t)
	dial(t, url, amy)
	waitFor(t, "member registered", func() bool { return hub.Members() == 1 })

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Members int    `json:"members"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Members != 1 {
		t.Errorf("health = %+v, want ok with 1 member", body)
	}
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{`{"type":"browse"}`, false},
		{`{"type":"state","peer":{"id":"a","name":"A"},"phase":"connected"}`, false},
		{`{}`, true},
		{`not json`, true},
	}
	for _, tt := range tests {
		_, err := decodeFrame([]byte(tt.raw))
		if (err != nil) != tt.wantErr {
			t.Errorf("decodeFrame(%s) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, domain.ErrInvalidFrame) {
			t.Errorf("decodeFrame(%s) error = %v, want ErrInvalidFrame", tt.raw, err)
		}
	}
}

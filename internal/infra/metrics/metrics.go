// Package metrics provides Prometheus metrics for peerlink.
// Counters and gauges for invitations, phase transitions, tracked peers,
// transport errors and the lobby hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Session ────────────────────────────────────────────────────────────────

// InvitationsSent counts invitations issued after a discovery tie-break.
var InvitationsSent = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "peerlink",
	Name:      "invitations_sent_total",
	Help:      "Total invitations sent to discovered peers.",
})

// InvitationsReceived counts incoming invitations by result (accepted, declined).
var InvitationsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "peerlink",
	Name:      "invitations_received_total",
	Help:      "Total invitations received, by result.",
}, []string{"result"})

// PhaseTransitions counts registry transitions by target phase and cause.
var PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "peerlink",
	Name:      "phase_transitions_total",
	Help:      "Total peer phase transitions, by phase and cause.",
}, []string{"phase", "cause"})

// TrackedPeers tracks the size of each registry view.
var TrackedPeers = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "peerlink",
	Name:      "tracked_peers",
	Help:      "Number of peers per connection phase.",
}, []string{"phase"})

// StateNotifications counts observer notifications.
var StateNotifications = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "peerlink",
	Name:      "state_notifications_total",
	Help:      "Total state-changed notifications delivered to observers.",
})

// TransportErrors counts non-fatal transport failures by kind
// (advertise, browse, invite, resource, disconnect).
var TransportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "peerlink",
	Name:      "transport_errors_total",
	Help:      "Total non-fatal transport errors, by kind.",
}, []string{"kind"})

// ─── Lobby ──────────────────────────────────────────────────────────────────

// LobbyMembers tracks peers currently connected to the hub.
var LobbyMembers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "peerlink",
	Name:      "lobby_members",
	Help:      "Number of peers connected to the lobby hub.",
})

// LobbyFrames counts frames handled by the hub, by frame type.
var LobbyFrames = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "peerlink",
	Name:      "lobby_frames_total",
	Help:      "Total lobby frames handled, by type.",
}, []string{"type"})

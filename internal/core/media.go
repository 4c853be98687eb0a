package core

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/blcknd/huddle/internal/domain"
)

// ConnState is the connectivity state reported by a media transport.
type ConnState string

const (
	ConnStateNew          ConnState = "new"
	ConnStateConnecting   ConnState = "connecting"
	ConnStateConnected    ConnState = "connected"
	ConnStateDisconnected ConnState = "disconnected"
	ConnStateFailed       ConnState = "failed"
	ConnStateClosed       ConnState = "closed"
)

// Stats is one raw snapshot from the transport. Counters are cumulative;
// consumers that want rates must diff consecutive snapshots.
type Stats struct {
	RTT             time.Duration
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     uint64
}

// MediaTransport is the per-peer media capability the orchestrator drives.
// Owned by the adapter; the orchestrator must Close() it exactly once.
// All methods may be called from the orchestrator loop; callbacks fire on
// transport goroutines and must not call back into the transport.
type MediaTransport interface {
	// GenerateLocalOffer creates a local offer, optionally with an ICE
	// restart. The description is not applied locally.
	GenerateLocalOffer(ctx context.Context, restart bool) (webrtc.SessionDescription, error)
	GenerateLocalAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	ApplyLocalDescription(desc webrtc.SessionDescription) error
	ApplyRemoteDescription(desc webrtc.SessionDescription) error
	QueueRemoteCandidate(candidate webrtc.ICECandidateInit) error
	// ReplaceOutgoingTrack swaps the outgoing track of the given kind
	// ("audio"/"video") without renegotiating by itself.
	ReplaceOutgoingTrack(kind string, track webrtc.TrackLocal) error
	SampleConnectionStats() (Stats, error)
	OnConnectivityChange(fn func(ConnState))
	OnLocalCandidate(fn func(webrtc.ICECandidateInit))
	Close() error
}

// TransportFactory creates one MediaTransport per remote peer.
type TransportFactory interface {
	NewTransport(peer domain.ParticipantID) (MediaTransport, error)
}

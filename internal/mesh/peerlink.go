package mesh

import (
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/blcknd/huddle/internal/core"
	"github.com/blcknd/huddle/internal/domain"
)

// LinkState is the negotiation/health state of one peer link.
type LinkState int

const (
	LinkNew LinkState = iota
	LinkNegotiating
	LinkConnected
	LinkDisconnected
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkNegotiating:
		return "negotiating"
	case LinkConnected:
		return "connected"
	case LinkDisconnected:
		return "disconnected"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// PeerLink holds the per-peer negotiation state machine. At most one
// PeerLink exists per remote participant id; a replacement may only be
// created after the previous one reached LinkClosed.
//
// All fields are owned by the orchestrator loop. Nothing here needs a
// lock: transport and timer callbacks post events instead of touching
// the link directly.
type PeerLink struct {
	peerID    domain.ParticipantID
	username  string
	state     LinkState
	initiator bool
	transport core.MediaTransport

	// remoteApplied gates candidate delivery: candidates arriving
	// before the remote description are buffered and replayed in
	// arrival order once it lands.
	remoteApplied bool
	iceBuffer     []webrtc.ICECandidateInit

	// established flips on the first transport-level connect. An offer
	// arriving on an established link is a renegotiation and must not
	// tear the transport down.
	established          bool
	renegotiationPending bool
	awaitingAnswer       bool

	restartAttempts int
	graceGen        int
	graceTimer      *time.Timer

	logger zerolog.Logger
}

// bufferCandidate appends a not-yet-applicable remote candidate. FIFO
// order within the link is the invariant the tests pin down.
func (l *PeerLink) bufferCandidate(c webrtc.ICECandidateInit) {
	l.iceBuffer = append(l.iceBuffer, c)
	l.logger.Debug().Int("buffered", len(l.iceBuffer)).Msg("candidate buffered before remote description")
}

// drainCandidates submits buffered candidates in arrival order. A
// submission failure is logged and skipped: one malformed candidate
// must not abort the link.
func (l *PeerLink) drainCandidates() {
	for _, c := range l.iceBuffer {
		if err := l.transport.QueueRemoteCandidate(c); err != nil {
			l.logger.Warn().Err(err).Msg("buffered candidate rejected, skipping")
		}
	}
	l.iceBuffer = nil
	l.remoteApplied = true
}

// stopGraceTimer cancels a pending reconnect deadline, if any. The
// generation bump invalidates an already-fired timer event in flight.
func (l *PeerLink) stopGraceTimer() {
	if l.graceTimer != nil {
		l.graceTimer.Stop()
		l.graceTimer = nil
	}
	l.graceGen++
}

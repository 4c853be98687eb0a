package mesh

import (
	"github.com/pion/webrtc/v4"

	"github.com/blcknd/huddle/internal/core"
	"github.com/blcknd/huddle/internal/domain"
	"github.com/blcknd/huddle/internal/signaling"
)

// Events posted to the orchestrator loop. Everything that can mutate a
// PeerLink enters through here, so transitions for one peer are never
// evaluated concurrently.
type event any

// evSignal carries one inbound message from the relay.
type evSignal struct {
	msg signaling.Message
}

// descRole distinguishes which half of a negotiation round an async
// transport task belongs to.
type descRole int

const (
	roleOffer descRole = iota
	roleAnswer
)

// evLocalDescription is the completion of a generate+apply-local task.
type evLocalDescription struct {
	peer domain.ParticipantID
	role descRole
	desc webrtc.SessionDescription
	err  error
}

// evRemoteApplied is the completion of an apply-remote-description task.
type evRemoteApplied struct {
	peer domain.ParticipantID
	role descRole
	err  error
}

// evConnState is a connectivity-state change relayed from a transport
// callback.
type evConnState struct {
	peer  domain.ParticipantID
	state core.ConnState
}

// evLocalCandidate is a locally gathered ICE candidate to trickle out.
type evLocalCandidate struct {
	peer      domain.ParticipantID
	candidate webrtc.ICECandidateInit
}

// evGraceExpired fires when a disconnected link's grace window elapsed.
// gen guards against timers cancelled by a reconnect racing the loop.
type evGraceExpired struct {
	peer domain.ParticipantID
	gen  int
}

// evTrackReplaced is a local media change (e.g. camera swapped for
// screen capture); it triggers renegotiation on every connected link.
type evTrackReplaced struct {
	kind  string
	track webrtc.TrackLocal
}

// evMediaToggle is a local audio/video enable flip. Metadata only.
type evMediaToggle struct {
	kind    string
	enabled bool
}

// evSelfRename applies a validated local display-name change on the
// loop, where the moderator-driven rename is also applied.
type evSelfRename struct {
	username string
}

// evLeave tears down the whole mesh and clears the roster.
type evLeave struct{}

// evBarrier lets callers wait until all previously posted events were
// processed. Used by tests.
type evBarrier struct {
	done chan struct{}
}

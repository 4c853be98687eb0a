// Package mesh drives one negotiation/health state machine per remote
// participant of a room. All inbound signaling, transport callbacks and
// local media changes are serialized through a single event loop, so a
// given PeerLink is never touched from two goroutines at once.
package mesh

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/blcknd/huddle/internal/core"
	"github.com/blcknd/huddle/internal/domain"
	"github.com/blcknd/huddle/internal/mesh/health"
	"github.com/blcknd/huddle/internal/signaling"
)

const DefaultGraceWindow = 5 * time.Second

// Sender pushes one outbound control message onto the relay channel.
type Sender interface {
	Send(signaling.Message) error
}

// Config tunes the reconnection policy.
type Config struct {
	// GraceWindow is how long a disconnected link is kept alive
	// awaiting recovery before the next escalation step.
	GraceWindow time.Duration
	// RestartAttempts is how many ICE-restart offers are tried after
	// the first grace window elapses before the link closes.
	RestartAttempts int
}

// Events are the orchestrator's outward notifications. All callbacks
// fire on the loop goroutine and must return quickly.
type Events struct {
	OnPeerConnected    func(id domain.ParticipantID, username string)
	OnPeerClosed       func(id domain.ParticipantID)
	OnChat             func(username, text string, timestamp float64)
	OnPasswordRequired func(room domain.RoomID)
	OnEvicted          func(reason string)
}

// Orchestrator owns the PeerLink arena for one room membership.
type Orchestrator struct {
	self     domain.ParticipantID
	username string
	cfg      Config

	signaler   Sender
	transports core.TransportFactory
	roster     *Roster
	sampler    *health.Sampler

	Hooks Events

	events chan event
	done   chan struct{}

	links  map[domain.ParticipantID]*PeerLink
	tracks map[string]webrtc.TrackLocal

	// statusMu guards the fields read outside the loop: the
	// link-state mirror, the local display name and the local media
	// enable flags.
	statusMu     sync.RWMutex
	linkStates   map[domain.ParticipantID]LinkState
	audioEnabled bool
	videoEnabled bool

	logger zerolog.Logger
}

func New(self domain.ParticipantID, username string, cfg Config, signaler Sender, transports core.TransportFactory, sampler *health.Sampler) *Orchestrator {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	return &Orchestrator{
		self:         self,
		username:     username,
		cfg:          cfg,
		signaler:     signaler,
		transports:   transports,
		roster:       NewRoster(self),
		sampler:      sampler,
		events:       make(chan event, 256),
		done:         make(chan struct{}),
		links:        make(map[domain.ParticipantID]*PeerLink),
		tracks:       make(map[string]webrtc.TrackLocal),
		audioEnabled: true,
		videoEnabled: true,
		linkStates:   make(map[domain.ParticipantID]LinkState),
		logger:       log.With().Str("module", "mesh").Str("self", string(self)).Logger(),
	}
}

func (o *Orchestrator) Roster() *Roster { return o.roster }

// LinkStates is a read-only snapshot for APIs.
func (o *Orchestrator) LinkStates() map[domain.ParticipantID]LinkState {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()
	out := make(map[domain.ParticipantID]LinkState, len(o.linkStates))
	for id, s := range o.linkStates {
		out[id] = s
	}
	return out
}

// MediaState reports the local audio/video enable flags.
func (o *Orchestrator) MediaState() (audio, video bool) {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()
	return o.audioEnabled, o.videoEnabled
}

func (o *Orchestrator) localUsername() string {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()
	return o.username
}

func (o *Orchestrator) setLocalUsername(username string) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	o.username = username
}

// Run consumes the event queue until ctx is cancelled. On exit the
// relay is told we left (best-effort), every link is torn down and
// pending timers are cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			o.send(signaling.Message{Type: signaling.TypeLeaveRoom})
			o.closeAll("shutdown")
			return
		case ev := <-o.events:
			o.handle(ctx, ev)
		}
	}
}

// post enqueues an event; safe from any goroutine. After the loop has
// exited the event is dropped, which is fine: nothing can act on it.
func (o *Orchestrator) post(ev event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

// Deliver feeds one inbound signaling message into the loop.
func (o *Orchestrator) Deliver(msg signaling.Message) {
	o.post(evSignal{msg: msg})
}

// ReplaceTrack installs a new outgoing track of the given kind (e.g.
// screen capture replacing the camera) and renegotiates every
// connected link.
func (o *Orchestrator) ReplaceTrack(kind string, track webrtc.TrackLocal) {
	o.post(evTrackReplaced{kind: kind, track: track})
}

func (o *Orchestrator) SetAudioEnabled(enabled bool) {
	o.post(evMediaToggle{kind: "audio", enabled: enabled})
}

func (o *Orchestrator) SetVideoEnabled(enabled bool) {
	o.post(evMediaToggle{kind: "video", enabled: enabled})
}

// Leave tears down the whole mesh and notifies the relay.
func (o *Orchestrator) Leave() {
	o.post(evLeave{})
}

func (o *Orchestrator) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case evSignal:
		o.handleSignal(ctx, ev.msg)
	case evLocalDescription:
		o.handleLocalDescription(ev)
	case evRemoteApplied:
		o.handleRemoteApplied(ctx, ev)
	case evConnState:
		o.handleConnState(ev)
	case evLocalCandidate:
		o.sendCandidate(ev.peer, ev.candidate)
	case evGraceExpired:
		o.handleGraceExpired(ctx, ev)
	case evTrackReplaced:
		o.handleTrackReplaced(ctx, ev)
	case evMediaToggle:
		o.handleMediaToggle(ev)
	case evSelfRename:
		o.setLocalUsername(ev.username)
	case evLeave:
		o.send(signaling.Message{Type: signaling.TypeLeaveRoom})
		o.closeAll("left room")
		o.roster.Clear()
	case evBarrier:
		close(ev.done)
	}
}

// ensureLink creates the PeerLink and its transport for a remote
// participant. One link per peer id: an existing non-closed link is
// returned untouched.
func (o *Orchestrator) ensureLink(id domain.ParticipantID, username string, initiator bool) *PeerLink {
	if link, ok := o.links[id]; ok {
		return link
	}
	transport, err := o.transports.NewTransport(id)
	if err != nil {
		o.logger.Error().Err(err).Str("peer", string(id)).Msg("creating transport failed")
		return nil
	}
	link := &PeerLink{
		peerID:    id,
		username:  username,
		state:     LinkNew,
		initiator: initiator,
		transport: transport,
		logger:    o.logger.With().Str("peer", string(id)).Logger(),
	}
	for kind, track := range o.tracks {
		if err := transport.ReplaceOutgoingTrack(kind, track); err != nil {
			link.logger.Warn().Err(err).Str("kind", kind).Msg("attaching local track failed")
		}
	}
	peer := id
	transport.OnConnectivityChange(func(s core.ConnState) {
		o.post(evConnState{peer: peer, state: s})
	})
	transport.OnLocalCandidate(func(c webrtc.ICECandidateInit) {
		o.post(evLocalCandidate{peer: peer, candidate: c})
	})
	o.links[id] = link
	o.recordState(id, LinkNew)
	link.logger.Info().Bool("initiator", initiator).Msg("peer link created")
	return link
}

func (o *Orchestrator) setState(link *PeerLink, s LinkState) {
	if link.state == s {
		return
	}
	link.logger.Info().Str("from", link.state.String()).Str("to", s.String()).Msg("link state")
	link.state = s
	o.recordState(link.peerID, s)
}

func (o *Orchestrator) recordState(id domain.ParticipantID, s LinkState) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	if s == LinkClosed {
		delete(o.linkStates, id)
		return
	}
	o.linkStates[id] = s
}

// closeLink is the single teardown path. Idempotent: a link already in
// LinkClosed is a no-op and emits no second teardown event.
func (o *Orchestrator) closeLink(link *PeerLink, reason string) {
	if link.state == LinkClosed {
		return
	}
	link.stopGraceTimer()
	link.iceBuffer = nil
	if o.sampler != nil {
		o.sampler.Forget(link.peerID)
	}
	if err := link.transport.Close(); err != nil {
		link.logger.Warn().Err(err).Msg("transport close error")
	}
	o.setState(link, LinkClosed)
	delete(o.links, link.peerID)
	link.logger.Info().Str("reason", reason).Msg("peer link closed")
	if o.Hooks.OnPeerClosed != nil {
		o.Hooks.OnPeerClosed(link.peerID)
	}
}

func (o *Orchestrator) closeAll(reason string) {
	for _, link := range o.links {
		o.closeLink(link, reason)
	}
}

// startLocalOffer kicks off the asynchronous offer generation for a
// link. Completion re-enters the loop as evLocalDescription.
func (o *Orchestrator) startLocalOffer(ctx context.Context, link *PeerLink, restart bool) {
	link.awaitingAnswer = true
	transport := link.transport
	peer := link.peerID
	go func() {
		desc, err := transport.GenerateLocalOffer(ctx, restart)
		if err == nil {
			err = transport.ApplyLocalDescription(desc)
		}
		o.post(evLocalDescription{peer: peer, role: roleOffer, desc: desc, err: err})
	}()
}

func (o *Orchestrator) startLocalAnswer(ctx context.Context, link *PeerLink) {
	transport := link.transport
	peer := link.peerID
	go func() {
		desc, err := transport.GenerateLocalAnswer(ctx)
		if err == nil {
			err = transport.ApplyLocalDescription(desc)
		}
		o.post(evLocalDescription{peer: peer, role: roleAnswer, desc: desc, err: err})
	}()
}

// startApplyRemote applies a remote description asynchronously. With
// rollback set, the pending local offer is rolled back first: a
// transport in have-local-offer rejects a remote offer otherwise.
func (o *Orchestrator) startApplyRemote(link *PeerLink, role descRole, desc webrtc.SessionDescription, rollback bool) {
	transport := link.transport
	peer := link.peerID
	go func() {
		var err error
		if rollback {
			err = transport.ApplyLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
		}
		if err == nil {
			err = transport.ApplyRemoteDescription(desc)
		}
		o.post(evRemoteApplied{peer: peer, role: role, err: err})
	}()
}

func (o *Orchestrator) handleLocalDescription(ev evLocalDescription) {
	link, ok := o.links[ev.peer]
	if !ok || link.state == LinkClosed {
		return
	}
	if ev.err != nil {
		link.logger.Warn().Err(ev.err).Msg("local description task failed")
		if ev.role == roleOffer {
			link.awaitingAnswer = false
			link.renegotiationPending = false
			// A failed renegotiation offer leaves the existing media
			// flowing; fall back to Connected instead of wedging.
			if link.established && link.state == LinkNegotiating {
				o.setState(link, LinkConnected)
			}
		}
		return
	}

	switch ev.role {
	case roleOffer:
		o.sendDescription(signaling.TypeOffer, ev.peer, ev.desc)
	case roleAnswer:
		o.sendDescription(signaling.TypeAnswer, ev.peer, ev.desc)
		// Responder side of a renegotiation: the transport stays up,
		// so no connectivity event will fire. Answer sent means the
		// inner exchange is done from our side.
		if link.established && link.state == LinkNegotiating {
			o.setState(link, LinkConnected)
		}
	}
}

func (o *Orchestrator) handleRemoteApplied(ctx context.Context, ev evRemoteApplied) {
	link, ok := o.links[ev.peer]
	if !ok || link.state == LinkClosed {
		return
	}
	if ev.err != nil {
		// Transient negotiation error: the link stays in its current
		// state and a fresh offer may retry the round.
		link.logger.Warn().Err(ev.err).Msg("remote description rejected")
		return
	}
	link.drainCandidates()
	switch ev.role {
	case roleOffer:
		o.startLocalAnswer(ctx, link)
	case roleAnswer:
		link.renegotiationPending = false
		if link.established && link.state == LinkNegotiating {
			o.setState(link, LinkConnected)
		}
	}
}

func (o *Orchestrator) handleConnState(ev evConnState) {
	link, ok := o.links[ev.peer]
	if !ok || link.state == LinkClosed {
		return
	}
	switch ev.state {
	case core.ConnStateConnected:
		link.stopGraceTimer()
		link.restartAttempts = 0
		first := !link.established
		link.established = true
		if link.state != LinkConnected {
			o.setState(link, LinkConnected)
		}
		if o.sampler != nil {
			o.sampler.Track(link.peerID, link.transport)
		}
		if first && o.Hooks.OnPeerConnected != nil {
			o.Hooks.OnPeerConnected(link.peerID, link.username)
		}
	case core.ConnStateDisconnected, core.ConnStateFailed:
		o.setState(link, LinkDisconnected)
		o.armGraceTimer(link)
	case core.ConnStateClosed:
		o.closeLink(link, "transport closed")
	}
}

// armGraceTimer starts or restarts the reconnect deadline for a
// disconnected link. A second disconnect never stacks a second timer.
func (o *Orchestrator) armGraceTimer(link *PeerLink) {
	link.stopGraceTimer()
	gen := link.graceGen
	peer := link.peerID
	link.graceTimer = time.AfterFunc(o.cfg.GraceWindow, func() {
		o.post(evGraceExpired{peer: peer, gen: gen})
	})
}

func (o *Orchestrator) handleGraceExpired(ctx context.Context, ev evGraceExpired) {
	link, ok := o.links[ev.peer]
	if !ok || link.state != LinkDisconnected || ev.gen != link.graceGen {
		// Stale deadline: the link recovered or closed in the meantime.
		return
	}
	if link.restartAttempts < o.cfg.RestartAttempts {
		link.restartAttempts++
		link.logger.Info().Int("attempt", link.restartAttempts).Msg("grace window expired, trying ICE restart")
		o.armGraceTimer(link)
		o.startLocalOffer(ctx, link, true)
		return
	}
	o.closeLink(link, "reconnect grace window expired")
}

func (o *Orchestrator) handleTrackReplaced(ctx context.Context, ev evTrackReplaced) {
	o.tracks[ev.kind] = ev.track
	for _, link := range o.links {
		if link.state != LinkConnected {
			// Not negotiated yet, or mid-round: swap the track so the
			// next exchange carries it, without a renegotiation round.
			if err := link.transport.ReplaceOutgoingTrack(ev.kind, ev.track); err != nil {
				link.logger.Warn().Err(err).Str("kind", ev.kind).Msg("track swap failed")
			}
			continue
		}
		link.renegotiationPending = true
		o.setState(link, LinkNegotiating)
		o.startRenegotiation(ctx, link, ev.kind, ev.track)
	}
}

// startRenegotiation swaps the outgoing track and generates the fresh
// offer in one async task; the underlying transport stays connected
// so media is not interrupted.
func (o *Orchestrator) startRenegotiation(ctx context.Context, link *PeerLink, kind string, track webrtc.TrackLocal) {
	link.awaitingAnswer = true
	transport := link.transport
	peer := link.peerID
	go func() {
		err := transport.ReplaceOutgoingTrack(kind, track)
		var desc webrtc.SessionDescription
		if err == nil {
			desc, err = transport.GenerateLocalOffer(ctx, false)
		}
		if err == nil {
			err = transport.ApplyLocalDescription(desc)
		}
		o.post(evLocalDescription{peer: peer, role: roleOffer, desc: desc, err: err})
	}()
}

func (o *Orchestrator) handleMediaToggle(ev evMediaToggle) {
	msgType := signaling.TypeAudioState
	o.statusMu.Lock()
	if ev.kind == "video" {
		msgType = signaling.TypeVideoState
		o.videoEnabled = ev.enabled
	} else {
		o.audioEnabled = ev.enabled
	}
	o.statusMu.Unlock()
	enabled := ev.enabled
	o.send(signaling.Message{Type: msgType, Enabled: &enabled})
}

func (o *Orchestrator) send(msg signaling.Message) {
	if err := o.signaler.Send(msg); err != nil {
		o.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("signaling send failed")
	}
}

func (o *Orchestrator) sendDescription(t signaling.Type, peer domain.ParticipantID, desc webrtc.SessionDescription) {
	payload, err := json.Marshal(signaling.DescriptionPayload{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	})
	if err != nil {
		o.logger.Error().Err(err).Msg("marshal description")
		return
	}
	o.send(signaling.Message{Type: t, TargetID: peer, Data: payload})
}

func (o *Orchestrator) sendCandidate(peer domain.ParticipantID, c webrtc.ICECandidateInit) {
	if _, ok := o.links[peer]; !ok {
		return
	}
	payload, err := json.Marshal(signaling.CandidatePayload{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
	if err != nil {
		o.logger.Error().Err(err).Msg("marshal candidate")
		return
	}
	o.send(signaling.Message{Type: signaling.TypeICECandidate, TargetID: peer, Data: payload})
}

// flush blocks until every event posted before it has been handled.
func (o *Orchestrator) flush() {
	done := make(chan struct{})
	o.post(evBarrier{done: done})
	select {
	case <-done:
	case <-o.done:
	}
}

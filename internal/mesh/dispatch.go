package mesh

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/blcknd/huddle/internal/domain"
	"github.com/blcknd/huddle/internal/signaling"
)

// handleSignal routes one inbound relay message. Stale messages for
// unknown peers are dropped: the relay may deliver after teardown.
func (o *Orchestrator) handleSignal(ctx context.Context, msg signaling.Message) {
	switch msg.Type {
	case signaling.TypeRegistered:
		o.logger.Info().Str("username", msg.Username).Msg("registered with relay")

	case signaling.TypeRoomJoined:
		o.handleRoomJoined(msg)

	case signaling.TypeUserJoined:
		o.handleUserJoined(ctx, msg)

	case signaling.TypeUserLeft:
		o.roster.Remove(msg.ClientID)
		if link, ok := o.links[msg.ClientID]; ok {
			o.closeLink(link, "peer left")
		}

	case signaling.TypeOffer:
		o.handleOffer(msg)

	case signaling.TypeAnswer:
		o.handleAnswer(msg)

	case signaling.TypeICECandidate:
		o.handleCandidate(msg)

	case signaling.TypeKicked:
		o.evictSelf("kicked")

	case signaling.TypeBanned:
		o.evictSelf("banned")

	case signaling.TypePasswordRequired:
		if o.Hooks.OnPasswordRequired != nil {
			o.Hooks.OnPasswordRequired(msg.RoomID)
		}

	case signaling.TypeChatMessage:
		if o.Hooks.OnChat != nil {
			o.Hooks.OnChat(msg.Username, msg.Text, msg.Timestamp)
		}

	case signaling.TypeAudioState:
		if msg.Enabled != nil {
			o.roster.SetAudioEnabled(msg.SenderID, *msg.Enabled)
		}

	case signaling.TypeVideoState:
		if msg.Enabled != nil {
			o.roster.SetVideoEnabled(msg.SenderID, *msg.Enabled)
		}

	case signaling.TypeNameChanged:
		o.roster.Rename(msg.ClientID, msg.NewUsername)
		if link, ok := o.links[msg.ClientID]; ok {
			link.username = msg.NewUsername
		}

	case signaling.TypeNameChangedByMod:
		o.setLocalUsername(msg.NewUsername)
		o.logger.Info().Str("username", msg.NewUsername).Msg("renamed by moderator")

	case signaling.TypeModeratorPromoted:
		o.roster.Promote(msg.ClientID)

	case signaling.TypeError:
		o.logger.Warn().Str("message", msg.Text).Msg("relay error")

	default:
		o.logger.Warn().Str("type", string(msg.Type)).Msg("unknown signal")
	}
}

// handleRoomJoined installs the roster snapshot. Links to peers that
// are already present are created in the non-initiator role: the
// existing side sends the first offer, never the newcomer. That
// asymmetry is what avoids simultaneous offers at join time.
func (o *Orchestrator) handleRoomJoined(msg signaling.Message) {
	o.roster.ResetRoom(domain.Room{
		ID:               msg.RoomID,
		PasswordRequired: msg.HasPassword,
		ModeratorID:      msg.ModeratorID,
	})
	o.logger.Info().Str("room", string(msg.RoomID)).Int("peers", len(msg.Users)).Msg("room joined")
	for _, u := range msg.Users {
		o.roster.Add(u.ID, u.Username)
		o.ensureLink(u.ID, u.Username, false)
	}
}

// handleUserJoined reacts to a newcomer: the existing side (us) is the
// initiator and sends exactly one offer.
func (o *Orchestrator) handleUserJoined(ctx context.Context, msg signaling.Message) {
	o.roster.Add(msg.ClientID, msg.Username)
	link := o.ensureLink(msg.ClientID, msg.Username, true)
	if link == nil || link.state != LinkNew {
		return
	}
	o.setState(link, LinkNegotiating)
	o.startLocalOffer(ctx, link, false)
}

func (o *Orchestrator) handleOffer(msg signaling.Message) {
	link, ok := o.links[msg.SenderID]
	if !ok {
		o.logger.Debug().Str("peer", string(msg.SenderID)).Msg("offer for unknown peer ignored")
		return
	}
	if link.state == LinkClosed {
		return
	}
	desc, ok := o.decodeDescription(link, msg.Data)
	if !ok {
		return
	}

	rollback := false
	if link.awaitingAnswer {
		// Both sides fired an offer at once. Deterministic tie-break:
		// the lexicographically smaller id is the canonical offerer.
		if o.self < link.peerID {
			link.logger.Info().Msg("offer glare, keeping ours")
			return
		}
		// Our local offer is already applied, so the transport sits in
		// have-local-offer and would reject the peer's offer outright.
		// Roll back to stable before taking theirs.
		link.logger.Info().Msg("offer glare, yielding to peer")
		link.awaitingAnswer = false
		link.renegotiationPending = false
		rollback = true
	}

	switch link.state {
	case LinkNew, LinkConnected:
		// Connected means the peer is renegotiating; the transport
		// stays up and media keeps flowing through the inner exchange.
		o.setState(link, LinkNegotiating)
	case LinkNegotiating, LinkDisconnected:
		// Mid-round replacement offer or a peer-driven ICE restart.
	}
	link.remoteApplied = false
	o.startApplyRemote(link, roleOffer, desc, rollback)
}

func (o *Orchestrator) handleAnswer(msg signaling.Message) {
	link, ok := o.links[msg.SenderID]
	if !ok {
		o.logger.Debug().Str("peer", string(msg.SenderID)).Msg("answer for unknown peer ignored")
		return
	}
	if link.state == LinkClosed || !link.awaitingAnswer {
		link.logger.Debug().Msg("unexpected answer ignored")
		return
	}
	desc, ok := o.decodeDescription(link, msg.Data)
	if !ok {
		return
	}
	link.awaitingAnswer = false
	o.startApplyRemote(link, roleAnswer, desc, false)
}

// handleCandidate applies or buffers one remote candidate. Submission
// is synchronous: queueing a candidate does no network I/O and keeping
// it on the loop preserves per-peer arrival order for free.
func (o *Orchestrator) handleCandidate(msg signaling.Message) {
	link, ok := o.links[msg.SenderID]
	if !ok {
		o.logger.Debug().Str("peer", string(msg.SenderID)).Msg("candidate for unknown peer ignored")
		return
	}
	if link.state == LinkClosed {
		return
	}
	var p signaling.CandidatePayload
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		link.logger.Warn().Err(err).Msg("bad candidate payload")
		return
	}
	candidate := webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}
	if !link.remoteApplied {
		link.bufferCandidate(candidate)
		return
	}
	if err := link.transport.QueueRemoteCandidate(candidate); err != nil {
		link.logger.Warn().Err(err).Msg("candidate rejected, skipping")
	}
}

func (o *Orchestrator) decodeDescription(link *PeerLink, data json.RawMessage) (webrtc.SessionDescription, bool) {
	var p signaling.DescriptionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		link.logger.Warn().Err(err).Msg("bad description payload")
		return webrtc.SessionDescription{}, false
	}
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(p.Type),
		SDP:  p.SDP,
	}, true
}

// evictSelf handles a kick or ban: moderation always wins over any
// in-progress negotiation.
func (o *Orchestrator) evictSelf(reason string) {
	o.logger.Info().Str("reason", reason).Msg("evicted from room")
	o.closeAll(reason)
	o.roster.Clear()
	if o.Hooks.OnEvicted != nil {
		o.Hooks.OnEvicted(reason)
	}
}

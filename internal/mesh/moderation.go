package mesh

import (
	"errors"

	"github.com/blcknd/huddle/internal/domain"
	"github.com/blcknd/huddle/internal/signaling"
)

// Thin command routing layered on the signaling channel. The relay is
// authoritative; the moderator check here only short-circuits the
// obvious rejection.

var ErrNotModerator = errors.New("only the moderator can do that")

// Register announces this client to the relay.
func (o *Orchestrator) Register() error {
	return o.signaler.Send(signaling.Message{
		Type:     signaling.TypeRegister,
		ClientID: o.self,
		Username: o.localUsername(),
	})
}

// CreateRoom creates (and joins) a room; the creator becomes moderator.
func (o *Orchestrator) CreateRoom(room domain.RoomID, password string) error {
	return o.signaler.Send(signaling.Message{
		Type:     signaling.TypeCreateRoom,
		RoomID:   room,
		Password: password,
	})
}

// JoinRoom joins an existing room, optionally with its password.
func (o *Orchestrator) JoinRoom(room domain.RoomID, password string) error {
	return o.signaler.Send(signaling.Message{
		Type:     signaling.TypeJoinRoom,
		RoomID:   room,
		Password: password,
	})
}

// SendChat broadcasts a chat line to the room (and its IRC bridge, if
// the server has one attached).
func (o *Orchestrator) SendChat(text string) error {
	return o.signaler.Send(signaling.Message{
		Type: signaling.TypeChatMessage,
		Text: text,
	})
}

// Rename changes our own display name. The mutation itself runs on
// the loop, where the moderator-driven rename is also applied.
func (o *Orchestrator) Rename(username string) error {
	if _, err := domain.NewParticipant(o.self, username); err != nil {
		return err
	}
	o.post(evSelfRename{username: username})
	return o.signaler.Send(signaling.Message{
		Type:        signaling.TypeChangeName,
		NewUsername: username,
	})
}

// Kick removes a participant from the room. Moderator only.
func (o *Orchestrator) Kick(target domain.ParticipantID) error {
	if !o.roster.SelfIsModerator() {
		return ErrNotModerator
	}
	return o.signaler.Send(signaling.Message{
		Type:     signaling.TypeKickUser,
		TargetID: target,
	})
}

// Ban removes a participant and blocks rejoining. Moderator only.
func (o *Orchestrator) Ban(target domain.ParticipantID) error {
	if !o.roster.SelfIsModerator() {
		return ErrNotModerator
	}
	return o.signaler.Send(signaling.Message{
		Type:     signaling.TypeBanUser,
		TargetID: target,
	})
}

// Promote hands the moderator role to another participant.
func (o *Orchestrator) Promote(target domain.ParticipantID) error {
	if !o.roster.SelfIsModerator() {
		return ErrNotModerator
	}
	return o.signaler.Send(signaling.Message{
		Type:     signaling.TypePromoteModerator,
		TargetID: target,
	})
}

// RenamePeer changes another participant's display name. Moderator only.
func (o *Orchestrator) RenamePeer(target domain.ParticipantID, username string) error {
	if !o.roster.SelfIsModerator() {
		return ErrNotModerator
	}
	return o.signaler.Send(signaling.Message{
		Type:        signaling.TypeModeratorChangeName,
		TargetID:    target,
		NewUsername: username,
	})
}

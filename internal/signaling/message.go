package signaling

import (
	"encoding/json"

	"github.com/blcknd/huddle/internal/domain"
)

// Message types as spoken by the relay. The envelope is a flat tagged
// union: only the fields relevant to a given type are populated.
type Type string

const (
	TypeRegister   Type = "register"
	TypeRegistered Type = "registered"

	TypeCreateRoom       Type = "create-room"
	TypeJoinRoom         Type = "join-room"
	TypeLeaveRoom        Type = "leave-room"
	TypeRoomJoined       Type = "room-joined"
	TypeUserJoined       Type = "user-joined"
	TypeUserLeft         Type = "user-left"
	TypePasswordRequired Type = "password-required"

	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"

	TypeChatMessage Type = "chat-message"
	TypeAudioState  Type = "audio-state"
	TypeVideoState  Type = "video-state"

	TypeKickUser            Type = "kick-user"
	TypeBanUser             Type = "ban-user"
	TypeKicked              Type = "kicked"
	TypeBanned              Type = "banned"
	TypePromoteModerator    Type = "promote-moderator"
	TypeModeratorPromoted   Type = "moderator-promoted"
	TypeChangeName          Type = "change-name"
	TypeModeratorChangeName Type = "moderator-change-name"
	TypeNameChanged         Type = "name-changed"
	TypeNameChangedByMod    Type = "name-changed-by-moderator"

	TypeError Type = "error"
)

// UserInfo mirrors the server's user entries in room-joined.
type UserInfo struct {
	ID       domain.ParticipantID `json:"id"`
	Username string               `json:"username"`
}

// Message is the wire envelope. Data carries the opaque offer/answer
// SDP or ICE candidate payload for the peer's media stack.
type Message struct {
	Type Type `json:"type"`

	ClientID domain.ParticipantID `json:"clientId,omitempty"`
	SenderID domain.ParticipantID `json:"senderId,omitempty"`
	TargetID domain.ParticipantID `json:"targetId,omitempty"`

	RoomID      domain.RoomID        `json:"roomId,omitempty"`
	Password    string               `json:"password,omitempty"`
	Users       []UserInfo           `json:"users,omitempty"`
	HasPassword bool                 `json:"hasPassword,omitempty"`
	IsModerator bool                 `json:"isModerator,omitempty"`
	ModeratorID domain.ParticipantID `json:"moderatorId,omitempty"`

	Username    string `json:"username,omitempty"`
	OldUsername string `json:"oldUsername,omitempty"`
	NewUsername string `json:"newUsername,omitempty"`

	Text      string  `json:"message,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
	Enabled   *bool   `json:"enabled,omitempty"`

	Data json.RawMessage `json:"data,omitempty"`
}

// DescriptionPayload is the Data body of offer/answer messages.
type DescriptionPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CandidatePayload is the Data body of ice-candidate messages.
type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

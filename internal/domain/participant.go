// Package domain contains entities without logic, just meta-data.
package domain

import (
	"encoding/json"
	"errors"
)

const MaxUsernameLen = 36

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type ParticipantID string

type Role int

const (
	RoleMember Role = iota
	RoleModerator
)

func (r Role) String() string {
	if r == RoleModerator {
		return "moderator"
	}
	return "member"
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "moderator" {
		*r = RoleModerator
	} else {
		*r = RoleMember
	}
	return nil
}

// Participant is one live room membership record. Mutated by moderation
// commands and by the participant's own toggles.
type Participant struct {
	ID           ParticipantID `json:"id"`
	Username     string        `json:"username"`
	Role         Role          `json:"role"`
	AudioEnabled bool          `json:"audioEnabled"`
	VideoEnabled bool          `json:"videoEnabled"`
}

// NewParticipant avoids raw struct literals in adapters and keeps
// construction obvious.
func NewParticipant(id ParticipantID, username string) (*Participant, error) {
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	return &Participant{
		ID:           id,
		Username:     username,
		AudioEnabled: true,
		VideoEnabled: true,
	}, nil
}

func (p *Participant) SetUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	p.Username = username
	return nil
}

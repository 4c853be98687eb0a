package domain

type RoomID string

// Room is the client-side view of the room as relayed by the server on
// join. Membership itself lives in the roster.
type Room struct {
	ID               RoomID
	PasswordRequired bool
	ModeratorID      ParticipantID
}

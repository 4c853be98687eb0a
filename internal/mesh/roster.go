package mesh

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/blcknd/huddle/internal/domain"
)

// Roster is the authoritative membership view as relayed by the
// signaling collaborator. Mutated only from the orchestrator loop;
// the RWMutex exists for read-only snapshots taken by the status API.
type Roster struct {
	mu          sync.RWMutex
	room        domain.Room
	selfID      domain.ParticipantID
	members     map[domain.ParticipantID]*domain.Participant
	moderatorID domain.ParticipantID
}

func NewRoster(self domain.ParticipantID) *Roster {
	return &Roster{
		selfID:  self,
		members: make(map[domain.ParticipantID]*domain.Participant),
	}
}

// ResetRoom installs the room view from a room-joined message.
func (r *Roster) ResetRoom(room domain.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.room = room
	r.moderatorID = room.ModeratorID
	r.members = make(map[domain.ParticipantID]*domain.Participant)
}

func (r *Roster) Room() domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.room
}

func (r *Roster) Add(id domain.ParticipantID, username string) {
	p, err := domain.NewParticipant(id, username)
	if err != nil {
		// The relay vouched for the name; fall back rather than drop
		// the member.
		p = &domain.Participant{ID: id, Username: "guest", AudioEnabled: true, VideoEnabled: true}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == r.moderatorID {
		p.Role = domain.RoleModerator
	}
	r.members[id] = p
	log.Info().Str("module", "mesh.roster").Str("peer", string(id)).Str("username", p.Username).Msg("member added")
}

func (r *Roster) Remove(id domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, id)
	log.Info().Str("module", "mesh.roster").Str("peer", string(id)).Msg("member removed")
}

func (r *Roster) Get(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.members[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

func (r *Roster) Rename(id domain.ParticipantID, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.members[id]; ok {
		if err := p.SetUsername(username); err != nil {
			log.Warn().Err(err).Str("module", "mesh.roster").Str("peer", string(id)).Msg("rename rejected")
		}
	}
}

// Promote makes id the room moderator. Pure metadata: negotiation
// state is untouched.
func (r *Roster) Promote(id domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.members[r.moderatorID]; ok {
		p.Role = domain.RoleMember
	}
	r.moderatorID = id
	r.room.ModeratorID = id
	if p, ok := r.members[id]; ok {
		p.Role = domain.RoleModerator
	}
	log.Info().Str("module", "mesh.roster").Str("peer", string(id)).Msg("moderator promoted")
}

func (r *Roster) SetAudioEnabled(id domain.ParticipantID, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.members[id]; ok {
		p.AudioEnabled = enabled
	}
}

func (r *Roster) SetVideoEnabled(id domain.ParticipantID, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.members[id]; ok {
		p.VideoEnabled = enabled
	}
}

// SelfIsModerator reports whether the local participant currently
// holds the moderator role.
func (r *Roster) SelfIsModerator() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.moderatorID == r.selfID
}

func (r *Roster) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Snapshot returns a stable, sorted copy for APIs.
func (r *Roster) Snapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clear drops all members, e.g. after a kick or leaving the room.
func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = make(map[domain.ParticipantID]*domain.Participant)
	r.room = domain.Room{}
	r.moderatorID = ""
}

package mesh

import (
	"testing"

	"github.com/blcknd/huddle/internal/domain"
)

func TestRosterAddAndSnapshot(t *testing.T) {
	t.Parallel()
	r := NewRoster("self")
	r.ResetRoom(domain.Room{ID: "demo", ModeratorID: "b"})

	r.Add("c", "carol")
	r.Add("a", "alice")
	r.Add("b", "bob")

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot size: got %d, want 3", len(snap))
	}
	for i, want := range []domain.ParticipantID{"a", "b", "c"} {
		if snap[i].ID != want {
			t.Errorf("snapshot[%d]: got %s, want %s", i, snap[i].ID, want)
		}
	}
	if snap[1].Role != domain.RoleModerator {
		t.Errorf("b's role: got %s, want moderator", snap[1].Role)
	}
	if snap[0].Role != domain.RoleMember {
		t.Errorf("a's role: got %s, want member", snap[0].Role)
	}
}

func TestRosterInvalidNameFallsBackToGuest(t *testing.T) {
	t.Parallel()
	r := NewRoster("self")
	r.Add("x", "")

	p, ok := r.Get("x")
	if !ok {
		t.Fatal("member with invalid name was dropped")
	}
	if p.Username != "guest" {
		t.Errorf("username: got %q, want guest", p.Username)
	}
}

func TestRosterPromoteMovesRole(t *testing.T) {
	t.Parallel()
	r := NewRoster("self")
	r.ResetRoom(domain.Room{ID: "demo", ModeratorID: "a"})
	r.Add("a", "alice")
	r.Add("b", "bob")

	r.Promote("b")

	if p, _ := r.Get("a"); p.Role != domain.RoleMember {
		t.Errorf("old moderator role: got %s, want member", p.Role)
	}
	if p, _ := r.Get("b"); p.Role != domain.RoleModerator {
		t.Errorf("new moderator role: got %s, want moderator", p.Role)
	}
	if r.Room().ModeratorID != "b" {
		t.Errorf("room moderator id: got %s, want b", r.Room().ModeratorID)
	}
}

func TestRosterSelfIsModerator(t *testing.T) {
	t.Parallel()
	r := NewRoster("self")
	if r.SelfIsModerator() {
		t.Error("moderator before joining any room")
	}
	r.ResetRoom(domain.Room{ID: "demo", ModeratorID: "self"})
	if !r.SelfIsModerator() {
		t.Error("not moderator despite room-joined saying so")
	}
	r.Promote("other")
	if r.SelfIsModerator() {
		t.Error("still moderator after promoting someone else")
	}
}

func TestRosterRename(t *testing.T) {
	t.Parallel()
	r := NewRoster("self")
	r.Add("a", "alice")

	r.Rename("a", "alicia")
	if p, _ := r.Get("a"); p.Username != "alicia" {
		t.Errorf("username after rename: got %q, want alicia", p.Username)
	}

	// Invalid new names leave the old one in place.
	r.Rename("a", "")
	if p, _ := r.Get("a"); p.Username != "alicia" {
		t.Errorf("username after bad rename: got %q, want alicia", p.Username)
	}
}

func TestRosterMediaFlags(t *testing.T) {
	t.Parallel()
	r := NewRoster("self")
	r.Add("a", "alice")

	r.SetAudioEnabled("a", false)
	r.SetVideoEnabled("a", false)

	p, _ := r.Get("a")
	if p.AudioEnabled || p.VideoEnabled {
		t.Errorf("media flags: audio=%v video=%v, want both false", p.AudioEnabled, p.VideoEnabled)
	}
}

func TestRosterClear(t *testing.T) {
	t.Parallel()
	r := NewRoster("self")
	r.ResetRoom(domain.Room{ID: "demo", ModeratorID: "self"})
	r.Add("a", "alice")

	r.Clear()

	if got := r.MemberCount(); got != 0 {
		t.Errorf("members after clear: got %d, want 0", got)
	}
	if r.SelfIsModerator() {
		t.Error("moderator flag survived clear")
	}
}

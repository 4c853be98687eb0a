package signaling

import (
	"encoding/json"
	"testing"
)

func TestMessageWireShape(t *testing.T) {
	t.Parallel()

	t.Run("empty fields are omitted", func(t *testing.T) {
		t.Parallel()
		raw, err := json.Marshal(Message{Type: TypeLeaveRoom})
		if err != nil {
			t.Fatal(err)
		}
		if got := string(raw); got != `{"type":"leave-room"}` {
			t.Errorf("leave-room envelope: got %s", got)
		}
	})

	t.Run("enabled false survives", func(t *testing.T) {
		t.Parallel()
		enabled := false
		raw, err := json.Marshal(Message{Type: TypeAudioState, Enabled: &enabled})
		if err != nil {
			t.Fatal(err)
		}
		if got := string(raw); got != `{"type":"audio-state","enabled":false}` {
			t.Errorf("audio-state envelope: got %s", got)
		}
	})
}

func TestRoomJoinedDecoding(t *testing.T) {
	t.Parallel()
	raw := `{
		"type": "room-joined",
		"roomId": "demo",
		"users": [{"id": "u1", "username": "alice"}],
		"hasPassword": true,
		"isModerator": false,
		"moderatorId": "u1"
	}`
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != TypeRoomJoined || msg.RoomID != "demo" {
		t.Errorf("envelope: got type=%s room=%s", msg.Type, msg.RoomID)
	}
	if len(msg.Users) != 1 || msg.Users[0].ID != "u1" || msg.Users[0].Username != "alice" {
		t.Errorf("users: got %+v", msg.Users)
	}
	if !msg.HasPassword || msg.ModeratorID != "u1" {
		t.Errorf("room flags: hasPassword=%v moderatorId=%s", msg.HasPassword, msg.ModeratorID)
	}
}

func TestCandidatePayloadPointerFields(t *testing.T) {
	t.Parallel()
	raw := `{"candidate":"candidate:1 1 udp 2130706431 10.0.0.1 54400 typ host","sdpMid":"0","sdpMLineIndex":0}`
	var p CandidatePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatal(err)
	}
	if p.SDPMid == nil || *p.SDPMid != "0" {
		t.Errorf("sdpMid: got %v", p.SDPMid)
	}
	if p.SDPMLineIndex == nil || *p.SDPMLineIndex != 0 {
		t.Errorf("sdpMLineIndex: got %v", p.SDPMLineIndex)
	}
	// End-of-candidates marker has neither field.
	var empty CandidatePayload
	if err := json.Unmarshal([]byte(`{"candidate":""}`), &empty); err != nil {
		t.Fatal(err)
	}
	if empty.SDPMid != nil || empty.SDPMLineIndex != nil {
		t.Error("absent sdp fields decoded as non-nil")
	}
}

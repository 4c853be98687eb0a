package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/blcknd/huddle/internal/core"
	"github.com/blcknd/huddle/internal/domain"
	"github.com/blcknd/huddle/internal/signaling"
)

// fakeTransport records every operation the orchestrator drives and
// lets tests fire connectivity events.
type fakeTransport struct {
	mu   sync.Mutex
	peer domain.ParticipantID

	offerCount   int
	restartCount int
	answerCount  int

	appliedLocal  []webrtc.SessionDescription
	appliedRemote []webrtc.SessionDescription
	candidates    []webrtc.ICECandidateInit
	tracks        map[string]webrtc.TrackLocal
	closedCount   int
	rollbacks     int

	// sigState mirrors the signaling-state rules a real peer
	// connection enforces on description order.
	sigState string

	remoteErr    error
	candidateErr error
	stats        core.Stats
	statsErr     error

	onState     func(core.ConnState)
	onCandidate func(webrtc.ICECandidateInit)
}

func newFakeTransport(peer domain.ParticipantID) *fakeTransport {
	return &fakeTransport{
		peer:     peer,
		tracks:   make(map[string]webrtc.TrackLocal),
		sigState: "stable",
	}
}

func (f *fakeTransport) GenerateLocalOffer(_ context.Context, restart bool) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offerCount++
	if restart {
		f.restartCount++
	}
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("offer-%d", f.offerCount),
	}, nil
}

func (f *fakeTransport) GenerateLocalAnswer(_ context.Context) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answerCount++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fmt.Sprintf("answer-%d", f.answerCount),
	}, nil
}

func (f *fakeTransport) ApplyLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch desc.Type {
	case webrtc.SDPTypeRollback:
		f.rollbacks++
		f.sigState = "stable"
	case webrtc.SDPTypeOffer:
		if f.sigState == "have-remote-offer" {
			return fmt.Errorf("invalid signaling state transition: %s->SetLocal(offer)", f.sigState)
		}
		f.sigState = "have-local-offer"
	case webrtc.SDPTypeAnswer:
		if f.sigState != "have-remote-offer" {
			return fmt.Errorf("invalid signaling state transition: %s->SetLocal(answer)", f.sigState)
		}
		f.sigState = "stable"
	}
	f.appliedLocal = append(f.appliedLocal, desc)
	return nil
}

func (f *fakeTransport) ApplyRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteErr != nil {
		return f.remoteErr
	}
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if f.sigState == "have-local-offer" {
			return fmt.Errorf("invalid signaling state transition: %s->SetRemote(offer)", f.sigState)
		}
		f.sigState = "have-remote-offer"
	case webrtc.SDPTypeAnswer:
		if f.sigState != "have-local-offer" {
			return fmt.Errorf("invalid signaling state transition: %s->SetRemote(answer)", f.sigState)
		}
		f.sigState = "stable"
	}
	f.appliedRemote = append(f.appliedRemote, desc)
	return nil
}

func (f *fakeTransport) QueueRemoteCandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.candidateErr != nil {
		return f.candidateErr
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) ReplaceOutgoingTrack(kind string, track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks[kind] = track
	return nil
}

func (f *fakeTransport) SampleConnectionStats() (core.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, f.statsErr
}

func (f *fakeTransport) OnConnectivityChange(fn func(core.ConnState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeTransport) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedCount++
	return nil
}

// fireState simulates a connectivity-state change from the transport.
func (f *fakeTransport) fireState(s core.ConnState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (f *fakeTransport) fireCandidate(c webrtc.ICECandidateInit) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (f *fakeTransport) remoteApplied() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appliedRemote)
}

func (f *fakeTransport) candidateStrings() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.candidates))
	for _, c := range f.candidates {
		out = append(out, c.Candidate)
	}
	return out
}

func (f *fakeTransport) rolledBack() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rollbacks
}

func (f *fakeTransport) closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closedCount
}

// fakeFactory hands out fakeTransports and remembers them per peer.
type fakeFactory struct {
	mu         sync.Mutex
	transports map[domain.ParticipantID]*fakeTransport
	created    int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{transports: make(map[domain.ParticipantID]*fakeTransport)}
}

func (f *fakeFactory) NewTransport(peer domain.ParticipantID) (core.MediaTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := newFakeTransport(peer)
	f.transports[peer] = t
	f.created++
	return t, nil
}

func (f *fakeFactory) get(peer domain.ParticipantID) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[peer]
}

// fakeSender captures every outbound relay message.
type fakeSender struct {
	mu   sync.Mutex
	sent []signaling.Message
}

func (f *fakeSender) Send(msg signaling.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) byType(t signaling.Type) []signaling.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []signaling.Message
	for _, m := range f.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// testOrch wires an orchestrator against the fakes and runs its loop.
type testOrch struct {
	orch    *Orchestrator
	factory *fakeFactory
	sender  *fakeSender

	mu     sync.Mutex
	closed []domain.ParticipantID
}

func newTestOrch(t *testing.T, self domain.ParticipantID, cfg Config) *testOrch {
	t.Helper()
	factory := newFakeFactory()
	sender := &fakeSender{}
	orch := New(self, "tester", cfg, sender, factory, nil)

	env := &testOrch{orch: orch, factory: factory, sender: sender}
	orch.Hooks.OnPeerClosed = func(id domain.ParticipantID) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.closed = append(env.closed, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go orch.Run(ctx)
	return env
}

func (e *testOrch) closedPeers() []domain.ParticipantID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.ParticipantID(nil), e.closed...)
}

func (e *testOrch) linkState(peer domain.ParticipantID) (LinkState, bool) {
	states := e.orch.LinkStates()
	s, ok := states[peer]
	return s, ok
}

// waitFor polls until cond holds or the test deadline hits.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// Message builders for the relay vocabulary used in tests.

func msgRoomJoined(room domain.RoomID, users ...signaling.UserInfo) signaling.Message {
	return signaling.Message{Type: signaling.TypeRoomJoined, RoomID: room, Users: users}
}

func msgUserJoined(id domain.ParticipantID, username string) signaling.Message {
	return signaling.Message{Type: signaling.TypeUserJoined, ClientID: id, Username: username}
}

func msgUserLeft(id domain.ParticipantID) signaling.Message {
	return signaling.Message{Type: signaling.TypeUserLeft, ClientID: id}
}

func msgOffer(t *testing.T, sender domain.ParticipantID, sdp string) signaling.Message {
	t.Helper()
	return msgDescription(t, signaling.TypeOffer, sender, "offer", sdp)
}

func msgAnswer(t *testing.T, sender domain.ParticipantID, sdp string) signaling.Message {
	t.Helper()
	return msgDescription(t, signaling.TypeAnswer, sender, "answer", sdp)
}

func msgDescription(t *testing.T, mt signaling.Type, sender domain.ParticipantID, kind, sdp string) signaling.Message {
	t.Helper()
	data, err := json.Marshal(signaling.DescriptionPayload{Type: kind, SDP: sdp})
	if err != nil {
		t.Fatalf("marshal description: %v", err)
	}
	return signaling.Message{Type: mt, SenderID: sender, Data: data}
}

func msgCandidate(t *testing.T, sender domain.ParticipantID, candidate string) signaling.Message {
	t.Helper()
	data, err := json.Marshal(signaling.CandidatePayload{Candidate: candidate})
	if err != nil {
		t.Fatalf("marshal candidate: %v", err)
	}
	return signaling.Message{Type: signaling.TypeICECandidate, SenderID: sender, Data: data}
}

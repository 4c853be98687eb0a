// Package rtc implements the per-peer media transport capability on
// top of pion. Negotiation policy lives in the mesh orchestrator; this
// adapter only wraps the PeerConnection surface.
package rtc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/blcknd/huddle/internal/core"
	"github.com/blcknd/huddle/internal/domain"
)

var ErrConnectionClosed = errors.New("peer connection closed")

// Factory creates one Connection per remote peer, sharing the ICE
// server configuration.
type Factory struct {
	config webrtc.Configuration
}

func DefaultICEServers() []string {
	return []string{"stun:stun.l.google.com:19302"}
}

func NewFactory(iceServers []string) *Factory {
	if len(iceServers) == 0 {
		iceServers = DefaultICEServers()
	}
	return &Factory{
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
		},
	}
}

func (f *Factory) NewTransport(peer domain.ParticipantID) (core.MediaTransport, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	c := &Connection{
		pc:      pc,
		peer:    peer,
		senders: make(map[string]*webrtc.RTPSender),
		logger:  log.With().Str("module", "rtc").Str("peer", string(peer)).Logger(),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(mapICEState(s))
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onCandidate
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	return c, nil
}

// Connection wraps a pion PeerConnection as the media transport of one
// peer link.
type Connection struct {
	pc   *webrtc.PeerConnection
	peer domain.ParticipantID

	mu          sync.Mutex
	senders     map[string]*webrtc.RTPSender
	onState     func(core.ConnState)
	onCandidate func(webrtc.ICECandidateInit)

	logger zerolog.Logger
}

func (c *Connection) GenerateLocalOffer(ctx context.Context, restart bool) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	var opts *webrtc.OfferOptions
	if restart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	return c.pc.CreateOffer(opts)
}

func (c *Connection) GenerateLocalAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return c.pc.CreateAnswer(nil)
}

func (c *Connection) ApplyLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *Connection) ApplyRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *Connection) QueueRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

// ReplaceOutgoingTrack swaps (or first attaches) the outgoing track of
// a kind. Swapping through the RTPSender does not renegotiate; the
// orchestrator decides when a new offer is due.
func (c *Connection) ReplaceOutgoingTrack(kind string, track webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sender, ok := c.senders[kind]; ok {
		return sender.ReplaceTrack(track)
	}
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	c.senders[kind] = sender
	return nil
}

func (c *Connection) SampleConnectionStats() (core.Stats, error) {
	if c.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return core.Stats{}, ErrConnectionClosed
	}
	var out core.Stats
	for _, s := range c.pc.GetStats() {
		switch s := s.(type) {
		case webrtc.ICECandidatePairStats:
			if s.State == webrtc.StatsICECandidatePairStateSucceeded {
				out.RTT = time.Duration(s.CurrentRoundTripTime * float64(time.Second))
			}
		case webrtc.InboundRTPStreamStats:
			out.PacketsReceived += uint64(s.PacketsReceived)
			if s.PacketsLost > 0 {
				out.PacketsLost += uint64(s.PacketsLost)
			}
		case webrtc.OutboundRTPStreamStats:
			out.PacketsSent += uint64(s.PacketsSent)
		}
	}
	return out, nil
}

func (c *Connection) OnConnectivityChange(fn func(core.ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *Connection) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = fn
}

func (c *Connection) Close() error {
	err := c.pc.Close()
	if err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}

func mapICEState(s webrtc.ICEConnectionState) core.ConnState {
	switch s {
	case webrtc.ICEConnectionStateChecking:
		return core.ConnStateConnecting
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return core.ConnStateConnected
	case webrtc.ICEConnectionStateDisconnected:
		return core.ConnStateDisconnected
	case webrtc.ICEConnectionStateFailed:
		return core.ConnStateFailed
	case webrtc.ICEConnectionStateClosed:
		return core.ConnStateClosed
	}
	return core.ConnStateNew
}

// Package health polls per-link connection stats and classifies link
// quality. Reporting is best-effort and never feeds back into
// negotiation state.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/blcknd/huddle/internal/core"
	"github.com/blcknd/huddle/internal/domain"
)

const DefaultInterval = 2 * time.Second

// Report is one quality classification for a link.
type Report struct {
	RTT         time.Duration `json:"rtt"`
	LossPercent float64       `json:"lossPercent"`
	Tier        Tier          `json:"tier"`
}

// Sampler polls each tracked transport on a fixed interval. Loss is
// computed over the delta since the previous sample, not cumulative
// totals, so a long-gone burst does not average the number down.
type Sampler struct {
	interval time.Duration

	mu      sync.Mutex
	targets map[domain.ParticipantID]core.MediaTransport
	prev    map[domain.ParticipantID]core.Stats
	reports map[domain.ParticipantID]Report

	onReport func(domain.ParticipantID, Report)
	logger   zerolog.Logger
}

func NewSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{
		interval: interval,
		targets:  make(map[domain.ParticipantID]core.MediaTransport),
		prev:     make(map[domain.ParticipantID]core.Stats),
		reports:  make(map[domain.ParticipantID]Report),
		logger:   log.With().Str("module", "mesh.health").Logger(),
	}
}

// OnReport sets the per-sample callback. Call before Run.
func (s *Sampler) OnReport(fn func(domain.ParticipantID, Report)) {
	s.onReport = fn
}

// Track registers a connected link's transport for polling.
func (s *Sampler) Track(id domain.ParticipantID, t core.MediaTransport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[id] = t
}

// Forget drops a link from polling, e.g. after teardown.
func (s *Sampler) Forget(id domain.ParticipantID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.targets, id)
	delete(s.prev, id)
	delete(s.reports, id)
}

// Latest returns the most recent report per link.
func (s *Sampler) Latest() map[domain.ParticipantID]Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.ParticipantID]Report, len(s.reports))
	for id, r := range s.reports {
		out[id] = r
	}
	return out
}

// Run polls until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleAll()
		}
	}
}

func (s *Sampler) sampleAll() {
	s.mu.Lock()
	targets := make(map[domain.ParticipantID]core.MediaTransport, len(s.targets))
	for id, t := range s.targets {
		targets[id] = t
	}
	s.mu.Unlock()

	for id, t := range targets {
		stats, err := t.SampleConnectionStats()
		if err != nil {
			// The link may have just closed underneath us. Best-effort.
			s.logger.Debug().Err(err).Str("peer", string(id)).Msg("stats sample failed")
			continue
		}
		report := s.ingest(id, stats)
		if s.onReport != nil {
			s.onReport(id, report)
		}
	}
}

// ingest diffs the snapshot against the previous one and stores the
// resulting report.
func (s *Sampler) ingest(id domain.ParticipantID, stats core.Stats) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, havePrev := s.prev[id]
	s.prev[id] = stats

	var loss float64
	if havePrev {
		received := delta(stats.PacketsReceived, prev.PacketsReceived)
		lost := delta(stats.PacketsLost, prev.PacketsLost)
		if received+lost > 0 {
			loss = float64(lost) / float64(received+lost) * 100
		}
	}

	report := Report{
		RTT:         stats.RTT,
		LossPercent: loss,
		Tier:        Classify(stats.RTT, loss),
	}
	s.reports[id] = report
	return report
}

// delta guards against counter resets after an ICE restart.
func delta(now, before uint64) uint64 {
	if now < before {
		return now
	}
	return now - before
}

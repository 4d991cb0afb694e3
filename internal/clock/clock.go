// Package clock reconciles the remote audio-authoring clock with the
// local playback clock so viseme timestamps can be turned into local
// deadlines.
package clock

import (
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultLeadTimeMs is how far mouth motion leads the audio when
// neither the config nor the timing payload supplies a lead time.
const DefaultLeadTimeMs = 48.0

// Sample describes the server/client time relationship for the most
// recently scheduled audio chunk. All fields are milliseconds.
type Sample struct {
	ServerTimestamp       float64
	ClientTimestamp       float64
	ScheduledPlaybackTime float64
	DurationMs            float64
	LeadTimeMs            float64
}

// valid rejects garbled timing payloads before they can corrupt the
// held sample.
func (s Sample) valid() bool {
	for _, v := range []float64{s.ServerTimestamp, s.ClientTimestamp, s.ScheduledPlaybackTime, s.DurationMs, s.LeadTimeMs} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return s.ScheduledPlaybackTime > 0
}

// Sync holds the single most recent timing sample. Each new sample
// replaces the previous one wholesale; samples are never merged or
// averaged. The sample pointer is swapped, never mutated in place, so
// concurrent readers always see a consistent snapshot.
type Sync struct {
	mu           sync.RWMutex
	sample       *Sample
	defaultLead  float64
	leadOverride *float64
	logger       zerolog.Logger
}

// New creates a Sync with no sample; deadlines are unavailable until
// OnAudioScheduled delivers one. defaultLead applies when a timing
// sample carries no lead time; pass 0 to use DefaultLeadTimeMs.
func New(defaultLead float64, logger zerolog.Logger) *Sync {
	if defaultLead <= 0 || math.IsNaN(defaultLead) || math.IsInf(defaultLead, 0) {
		defaultLead = DefaultLeadTimeMs
	}
	return &Sync{
		defaultLead: defaultLead,
		logger:      logger.With().Str("component", "clock-sync").Logger(),
	}
}

// OnAudioScheduled installs a new timing sample. Returns true when the
// sample was accepted; callers must then reschedule every queued event.
// Invalid samples are logged and dropped without touching the held one.
func (s *Sync) OnAudioScheduled(sample Sample) bool {
	if !sample.valid() {
		s.logger.Warn().
			Float64("server_ts", sample.ServerTimestamp).
			Float64("playback_time", sample.ScheduledPlaybackTime).
			Msg("Ignoring garbled timing sample")
		return false
	}

	s.mu.Lock()
	s.sample = &sample
	s.mu.Unlock()

	s.logger.Debug().
		Float64("server_ts", sample.ServerTimestamp).
		Float64("playback_time", sample.ScheduledPlaybackTime).
		Float64("lead_ms", sample.LeadTimeMs).
		Msg("Clock sample updated")
	return true
}

// SetLeadTime overrides the lead time carried by timing samples. The
// override applies to all subsequent deadline conversions.
func (s *Sync) SetLeadTime(ms float64) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return
	}
	s.mu.Lock()
	s.leadOverride = &ms
	s.mu.Unlock()
}

// LeadTime returns the lead time currently in effect.
func (s *Sync) LeadTime() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leadTimeLocked()
}

func (s *Sync) leadTimeLocked() float64 {
	if s.leadOverride != nil {
		return *s.leadOverride
	}
	if s.sample != nil && s.sample.LeadTimeMs > 0 {
		return s.sample.LeadTimeMs
	}
	return s.defaultLead
}

// HasSample reports whether a timing sample has arrived yet.
func (s *Sync) HasSample() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sample != nil
}

// ToLocalDeadline converts a remote authoring timestamp into a local
// playback-clock deadline. The second return is false before any sample
// exists: scheduling against a zero deadline would fire the event
// immediately and out of order, so callers hold such events instead.
func (s *Sync) ToLocalDeadline(authoringTs float64) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sample == nil {
		return 0, false
	}
	deadline := s.sample.ScheduledPlaybackTime + (authoringTs - s.sample.ServerTimestamp) - s.leadTimeLocked()
	return deadline, true
}

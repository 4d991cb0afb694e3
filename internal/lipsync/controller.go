// Package lipsync wires channel binding, clock synchronization, the
// event queue, and the blend engine into one controller per avatar.
// Ingestion may happen from transport goroutines; everything else runs
// on the host's per-frame tick.
package lipsync

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/blend"
	"github.com/normanking/lipsync/internal/bus"
	"github.com/normanking/lipsync/internal/clock"
	"github.com/normanking/lipsync/internal/metrics"
	"github.com/normanking/lipsync/internal/rig"
	"github.com/normanking/lipsync/internal/sched"
	"github.com/normanking/lipsync/internal/viseme"
)

// SpeakerWildcard accepts events from any speaker.
const SpeakerWildcard = "*"

// InboundViseme is the event payload delivered by the transport.
type InboundViseme struct {
	VisemeID      int     `json:"visemeId"`
	AudioOffsetMs float64 `json:"audioOffsetMs"`
	UtteranceID   string  `json:"utteranceId"`
	SpeakerID     string  `json:"speakerId"`
}

// AudioSync is the timing payload delivered when the audio pipeline
// schedules a chunk for playback.
type AudioSync struct {
	ServerTimestamp       float64 `json:"serverTimestamp"`
	ClientTimestamp       float64 `json:"clientTimestamp"`
	ScheduledPlaybackTime float64 `json:"scheduledPlaybackTime"`
	DurationMs            float64 `json:"durationMs"`
	LeadTimeMs            float64 `json:"leadTimeMs"`
}

// QueueStatus is the diagnostics snapshot returned by Status.
type QueueStatus struct {
	Length       int     `json:"length"`
	Phase        string  `json:"phase"`
	NextDeadline float64 `json:"nextDeadline"`
	HasDeadline  bool    `json:"hasDeadline"`
}

// Config tunes one controller instance.
type Config struct {
	SpeakerID     string
	LeadTimeMs    float64
	QueueCapacity int
	EvictFraction float64
	IngestBuffer  int
	Blend         blend.Config
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		SpeakerID:     SpeakerWildcard,
		LeadTimeMs:    clock.DefaultLeadTimeMs,
		QueueCapacity: sched.DefaultCapacity,
		EvictFraction: sched.DefaultEvictFraction,
		IngestBuffer:  128,
		Blend:         blend.DefaultConfig(),
	}
}

// ingestMsg is the tagged union carried over the handoff channel so all
// queue and clock mutation happens on the tick domain.
type ingestMsg struct {
	viseme *InboundViseme
	sample *clock.Sample
	lead   *float64
}

// Controller is the per-avatar lip-sync instance. Construct one per
// bound avatar; there are no package-level singletons.
type Controller struct {
	cfg    Config
	logger zerolog.Logger
	events *bus.EventBus

	clockSync *clock.Sync
	queue     *sched.Queue

	ingest chan ingestMsg

	enabled    atomic.Bool
	silenceReq atomic.Bool

	mu      sync.RWMutex
	binding *rig.Binding
	engine  *blend.Engine
	status  QueueStatus
}

// NewController creates an unbound controller. Call Bind before
// ticking. events may be nil.
func NewController(cfg Config, events *bus.EventBus, logger zerolog.Logger) *Controller {
	if cfg.SpeakerID == "" {
		cfg.SpeakerID = SpeakerWildcard
	}
	if cfg.IngestBuffer <= 0 {
		cfg.IngestBuffer = 128
	}
	log := logger.With().Str("component", "lipsync").Logger()

	c := &Controller{
		cfg:       cfg,
		logger:    log,
		events:    events,
		clockSync: clock.New(cfg.LeadTimeMs, logger),
		queue:     sched.NewQueue(cfg.QueueCapacity, cfg.EvictFraction, logger),
		ingest:    make(chan ingestMsg, cfg.IngestBuffer),
	}
	c.enabled.Store(true)
	return c
}

// Bind resolves the avatar's channel inventory and prepares the blend
// engine. A failed binding leaves the controller alive but inert: the
// avatar simply runs without facial animation.
func (c *Controller) Bind(nodes []rig.Node) error {
	binding, err := rig.Resolve(nodes, c.logger)
	if err != nil {
		c.publish(bus.EventTypeBindFailed, map[string]any{"error": err.Error()})
		return err
	}

	engine := blend.NewEngine(binding.Table, binding.UseAlternate, c.cfg.Blend, c.logger)
	engine.SetPhaseCallback(func(p blend.Phase) {
		switch p {
		case blend.PhaseTransitioning:
			c.publish(bus.EventTypeSpeakingActive, nil)
		case blend.PhaseIdle:
			c.publish(bus.EventTypeSpeakingIdle, nil)
		}
	})
	engine.Reset(0)

	c.mu.Lock()
	c.binding = binding
	c.engine = engine
	c.mu.Unlock()

	c.publish(bus.EventTypeBound, map[string]any{
		"node":      binding.Rationale.Node,
		"channels":  binding.Table.Len(),
		"alternate": binding.UseAlternate,
	})
	return nil
}

// Bound reports whether an avatar has been bound.
func (c *Controller) Bound() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine != nil
}

// Binding returns the active binding for render-side lookups.
func (c *Controller) Binding() *rig.Binding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.binding
}

// HandleVisemeEvent ingests a viseme event. Safe to call from any
// goroutine; never blocks. Malformed or foreign-speaker events are
// counted and dropped, never surfaced as errors, because one bad event
// must not interrupt a speech stream.
func (c *Controller) HandleVisemeEvent(ev InboundViseme) {
	if !c.enabled.Load() {
		return
	}
	if c.cfg.SpeakerID != SpeakerWildcard && ev.SpeakerID != c.cfg.SpeakerID {
		metrics.RecordSpeakerFiltered()
		return
	}
	if !viseme.Class(ev.VisemeID).Valid() || ev.UtteranceID == "" || ev.AudioOffsetMs < 0 {
		metrics.RecordMalformedEvent()
		c.logger.Debug().
			Int("viseme_id", ev.VisemeID).
			Str("utterance", ev.UtteranceID).
			Msg("Dropped malformed viseme event")
		return
	}

	select {
	case c.ingest <- ingestMsg{viseme: &ev}:
		metrics.RecordEventReceived()
	default:
		metrics.RecordIngestDropped()
	}
}

// HandleAudioScheduled ingests a timing sample. Safe to call from any
// goroutine; never blocks.
func (c *Controller) HandleAudioScheduled(s AudioSync) {
	sample := clock.Sample{
		ServerTimestamp:       s.ServerTimestamp,
		ClientTimestamp:       s.ClientTimestamp,
		ScheduledPlaybackTime: s.ScheduledPlaybackTime,
		DurationMs:            s.DurationMs,
		LeadTimeMs:            s.LeadTimeMs,
	}
	select {
	case c.ingest <- ingestMsg{sample: &sample}:
	default:
		metrics.RecordIngestDropped()
	}
}

// SetEnabled toggles facial animation. Disabling also requests a decay
// to silence so the mouth does not freeze mid-shape.
func (c *Controller) SetEnabled(enabled bool) {
	was := c.enabled.Swap(enabled)
	if was && !enabled {
		c.SetSilence()
	}
}

// SetSilence aborts the current utterance: the next tick clears the
// queue and forces a decay toward silence regardless of phase.
func (c *Controller) SetSilence() {
	c.silenceReq.Store(true)
}

// SetLeadTime changes the animation lead time; pending events are
// rescheduled on the next tick.
func (c *Controller) SetLeadTime(ms float64) {
	lead := ms
	select {
	case c.ingest <- ingestMsg{lead: &lead}:
	default:
		metrics.RecordIngestDropped()
	}
}

// Status returns the diagnostics snapshot taken at the end of the most
// recent tick.
func (c *Controller) Status() QueueStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Tick advances the pipeline to now (monotonic milliseconds). It is
// total: any fault is logged and swallowed, never propagated, because
// an escaped panic would freeze the face for the rest of the session.
func (c *Controller) Tick(now float64) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("Tick recovered")
		}
	}()

	c.mu.RLock()
	engine := c.engine
	c.mu.RUnlock()
	if engine == nil {
		c.drainDiscard()
		return
	}

	c.drainIngest(now)

	if c.silenceReq.Swap(false) {
		c.queue.Clear()
		engine.ForceDecay(now)
	}

	// The engine keeps ticking while disabled so a forced decay can
	// finish instead of freezing the mouth mid-shape; new events are
	// already rejected at ingestion.
	engine.Tick(now, c.queue)

	deadline, hasDeadline := c.queue.NextDeadline()
	metrics.SetQueueDepth(c.queue.Len())

	c.mu.Lock()
	c.status = QueueStatus{
		Length:       c.queue.Len(),
		Phase:        engine.Phase().String(),
		NextDeadline: deadline,
		HasDeadline:  hasDeadline,
	}
	c.mu.Unlock()
}

// drainIngest applies everything the transport handed off since the
// previous tick. Non-blocking.
func (c *Controller) drainIngest(now float64) {
	for {
		select {
		case msg := <-c.ingest:
			switch {
			case msg.sample != nil:
				if c.clockSync.OnAudioScheduled(*msg.sample) {
					c.queue.RescheduleAll(c.clockSync)
					metrics.RecordClockResync()
					c.publish(bus.EventTypeClockResynced, map[string]any{
						"playback_time": msg.sample.ScheduledPlaybackTime,
					})
				}
			case msg.lead != nil:
				c.clockSync.SetLeadTime(*msg.lead)
				c.queue.RescheduleAll(c.clockSync)
			case msg.viseme != nil:
				c.enqueue(*msg.viseme)
			}
		default:
			return
		}
	}
}

// drainDiscard empties the handoff channel while unbound so a late
// binding does not replay minutes of stale events.
func (c *Controller) drainDiscard() {
	for {
		select {
		case <-c.ingest:
		default:
			return
		}
	}
}

func (c *Controller) enqueue(ev InboundViseme) {
	deadline, scheduled := c.clockSync.ToLocalDeadline(ev.AudioOffsetMs)
	evicted := c.queue.Push(sched.Event{
		ID:            uuid.NewString(),
		Class:         viseme.Class(ev.VisemeID),
		AuthoringTs:   ev.AudioOffsetMs,
		LocalDeadline: deadline,
		Scheduled:     scheduled,
		UtteranceID:   ev.UtteranceID,
	})
	if evicted > 0 {
		metrics.RecordEvictions(evicted)
		c.publish(bus.EventTypeQueueOverflow, map[string]any{"evicted": evicted})
	}
}

func (c *Controller) publish(t bus.EventType, data map[string]any) {
	if c.events == nil {
		return
	}
	c.events.Publish(bus.Event{Type: t, Data: data})
}

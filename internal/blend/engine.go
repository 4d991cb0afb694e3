// Package blend implements the per-frame state machine that converts
// due viseme events into morph-target intensities. One Engine exists
// per bound avatar and is only ever mutated from the tick domain.
package blend

import (
	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/metrics"
	"github.com/normanking/lipsync/internal/rig"
	"github.com/normanking/lipsync/internal/sched"
	"github.com/normanking/lipsync/internal/viseme"
)

// Phase is the engine's animation phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseTransitioning
	PhaseHolding
	PhaseDecaying
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseTransitioning:
		return "transitioning"
	case PhaseHolding:
		return "holding"
	case PhaseDecaying:
		return "decaying"
	default:
		return "unknown"
	}
}

// Config holds the blend timing windows. All durations in milliseconds.
type Config struct {
	TransitionMs  float64
	HoldMs        float64
	DecayMs       float64
	RestIntensity float64 // silence channel level at rest; a small value keeps the mouth naturally closed
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		TransitionMs:  50,
		HoldMs:        60,
		DecayMs:       120,
		RestIntensity: 0.1,
	}
}

// sanitize replaces unusable values with defaults.
func (c Config) sanitize() Config {
	def := DefaultConfig()
	if c.TransitionMs <= 0 {
		c.TransitionMs = def.TransitionMs
	}
	if c.HoldMs <= 0 {
		c.HoldMs = def.HoldMs
	}
	if c.DecayMs <= 0 {
		c.DecayMs = def.DecayMs
	}
	if c.RestIntensity < 0 || c.RestIntensity > 1 {
		c.RestIntensity = def.RestIntensity
	}
	return c
}

// Engine advances the transition/hold/decay state machine and writes
// intensities into the bound ChannelTable. Time is supplied by the
// caller as monotonic milliseconds, never read from the wall clock.
type Engine struct {
	table        *rig.ChannelTable
	useAlternate bool
	silenceSlot  int
	cfg          Config
	logger       zerolog.Logger

	phase      Phase
	phaseStart float64

	// fromSlot/toSlot describe the channel pair of the active
	// transition; curSlot is the settled channel outside transitions.
	fromSlot      int
	fromIntensity float64
	toSlot        int
	toIntensity   float64
	curSlot       int
	curIntensity  float64
	lastEased     float64

	onPhaseChange func(Phase)
}

// NewEngine creates an engine writing into table. useAlternate selects
// which naming convention viseme classes resolve through; it must match
// the convention the resolver recorded at bind time.
func NewEngine(table *rig.ChannelTable, useAlternate bool, cfg Config, logger zerolog.Logger) *Engine {
	e := &Engine{
		table:        table,
		useAlternate: useAlternate,
		silenceSlot:  -1,
		cfg:          cfg.sanitize(),
		logger:       logger.With().Str("component", "blend-engine").Logger(),
		fromSlot:     -1,
		toSlot:       -1,
		curSlot:      -1,
	}
	if slot, ok := table.Slot(viseme.SilenceChannel(useAlternate)); ok {
		e.silenceSlot = slot
	}
	return e
}

// SetPhaseCallback registers a callback invoked on every phase change.
// Called from the tick domain; keep it cheap.
func (e *Engine) SetPhaseCallback(fn func(Phase)) {
	e.onPhaseChange = fn
}

// Phase returns the current animation phase.
func (e *Engine) Phase() Phase {
	return e.phase
}

// smoothstep is the ease applied to every blend: t*t*(3-2t).
func smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

func (e *Engine) setPhase(p Phase, now float64) {
	if p == e.phase {
		return
	}
	e.phase = p
	e.phaseStart = now
	if e.onPhaseChange != nil {
		e.onPhaseChange(p)
	}
}

func (e *Engine) write(slot int, v float64) {
	if slot < 0 {
		return
	}
	e.table.SetIntensity(slot, v)
}

// Tick advances the state machine to now (monotonic ms) against the
// queue. Every phase change writes intensities immediately so the
// render step always observes the latest values.
func (e *Engine) Tick(now float64, q *sched.Queue) {
	switch e.phase {
	case PhaseIdle:
		if slot, weight, ok := e.nextDue(q, now); ok {
			e.startTransition(now, slot, weight)
		}
	case PhaseTransitioning:
		if e.advanceBlend(now, e.cfg.TransitionMs) {
			e.setPhase(PhaseHolding, now)
		}
	case PhaseHolding:
		e.write(e.curSlot, e.curIntensity)
		if now-e.phaseStart < e.cfg.HoldMs {
			return
		}
		if slot, weight, ok := e.nextDue(q, now); ok {
			e.startTransition(now, slot, weight)
			return
		}
		e.startDecay(now)
	case PhaseDecaying:
		if e.advanceBlend(now, e.cfg.DecayMs) {
			e.setPhase(PhaseIdle, now)
		}
	}
}

// nextDue drains every event due at now and returns the channel slot
// and weight of the newest one. Older due events are stale and are
// skipped rather than played late. Events whose class has no channel on
// this rig are consumed with no effect.
func (e *Engine) nextDue(q *sched.Queue, now float64) (int, float64, bool) {
	slot := -1
	weight := 0.0
	skipped := 0
	found := false

	for {
		ev, ok := q.PeekDue(now)
		if !ok {
			break
		}
		q.Pop()

		targets := viseme.Resolve(ev.Class, e.useAlternate)
		if len(targets) == 0 {
			continue
		}
		s, ok := e.table.Slot(targets[0].Channel)
		if !ok {
			continue
		}
		if found {
			skipped++
		}
		slot = s
		weight = targets[0].Weight
		found = true
	}

	if skipped > 0 {
		metrics.RecordStaleSkipped(skipped)
		e.logger.Debug().Int("skipped", skipped).Msg("Skipped stale due events")
	}
	return slot, weight, found
}

// startTransition begins blending from the settled channel toward slot.
func (e *Engine) startTransition(now float64, slot int, weight float64) {
	e.fromSlot = e.curSlot
	e.fromIntensity = e.curIntensity
	e.toSlot = slot
	e.toIntensity = weight
	e.lastEased = 0
	e.setPhase(PhaseTransitioning, now)
	e.advanceBlend(now, e.cfg.TransitionMs)
}

// startDecay begins blending toward the silence channel at the rest
// intensity. With no silence channel bound the active channel simply
// fades to zero.
func (e *Engine) startDecay(now float64) {
	e.fromSlot = e.curSlot
	e.fromIntensity = e.curIntensity
	e.toSlot = e.silenceSlot
	e.toIntensity = e.cfg.RestIntensity
	if e.toSlot < 0 {
		e.toIntensity = 0
	}
	e.lastEased = 0
	e.setPhase(PhaseDecaying, now)
	e.advanceBlend(now, e.cfg.DecayMs)
}

// advanceBlend applies the eased blend for the active channel pair and
// reports whether the blend completed. The outgoing channel fades by
// (1-eased) while the incoming one rises by eased, so both may be
// non-zero mid-blend.
func (e *Engine) advanceBlend(now, windowMs float64) bool {
	t := (now - e.phaseStart) / windowMs
	eased := smoothstep(t)
	e.lastEased = eased

	if e.fromSlot >= 0 && e.fromSlot == e.toSlot {
		e.write(e.toSlot, e.fromIntensity+(e.toIntensity-e.fromIntensity)*eased)
	} else {
		if e.fromSlot >= 0 {
			e.write(e.fromSlot, e.fromIntensity*(1-eased))
		}
		e.write(e.toSlot, e.toIntensity*eased)
	}

	if t < 1 {
		return false
	}
	if e.fromSlot >= 0 && e.fromSlot != e.toSlot {
		e.write(e.fromSlot, 0)
	}
	e.write(e.toSlot, e.toIntensity)
	e.curSlot = e.toSlot
	e.curIntensity = e.toIntensity
	return true
}

// ForceDecay aborts whatever is playing and heads for silence. Used
// when an utterance is cancelled; the caller clears the queue. Safe in
// any phase.
func (e *Engine) ForceDecay(now float64) {
	switch e.phase {
	case PhaseDecaying:
		return
	case PhaseTransitioning:
		// Snap the outgoing channel off and decay from wherever the
		// incoming one had risen to.
		if e.fromSlot >= 0 && e.fromSlot != e.toSlot {
			e.write(e.fromSlot, 0)
		}
		e.curSlot = e.toSlot
		e.curIntensity = e.toIntensity * e.lastEased
	}
	e.startDecay(now)
}

// Reset returns the engine to idle and zeroes every bound channel
// except the silence rest level. Used after a binding-level reset.
func (e *Engine) Reset(now float64) {
	for i := 0; i < e.table.Len(); i++ {
		e.table.SetIntensity(i, 0)
	}
	if e.silenceSlot >= 0 {
		e.table.SetIntensity(e.silenceSlot, e.cfg.RestIntensity)
	}
	e.fromSlot = -1
	e.toSlot = -1
	e.curSlot = e.silenceSlot
	e.curIntensity = e.cfg.RestIntensity
	if e.silenceSlot < 0 {
		e.curIntensity = 0
	}
	e.setPhase(PhaseIdle, now)
}

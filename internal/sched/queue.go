// Package sched holds the time-ordered queue of pending viseme events
// awaiting playback.
package sched

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/clock"
	"github.com/normanking/lipsync/internal/viseme"
)

// Event is one pending viseme awaiting its local deadline.
type Event struct {
	ID            string
	Class         viseme.Class
	AuthoringTs   float64 // ms, remote authoring clock
	LocalDeadline float64 // ms, local playback clock; meaningful only when Scheduled
	Scheduled     bool
	UtteranceID   string
}

// DefaultCapacity bounds the queue when the config does not.
const DefaultCapacity = 256

// DefaultEvictFraction is the share of oldest events dropped in one
// slice when a push overflows the queue. Evicting a block recovers from
// a burst at once instead of thrashing one event at a time; the dropped
// visemes are never retried, since a stale mouth shape is worse than
// silence.
const DefaultEvictFraction = 0.5

// Queue is a bounded queue of events ordered by ascending LocalDeadline.
// Unscheduled events sort last and are never returned by PeekDue. Not
// safe for concurrent use; the tick domain owns all mutation.
type Queue struct {
	events        []Event
	capacity      int
	evictFraction float64
	evicted       uint64
	logger        zerolog.Logger
}

// NewQueue creates a queue. capacity <= 0 selects DefaultCapacity;
// fractions outside (0,1] select DefaultEvictFraction.
func NewQueue(capacity int, evictFraction float64, logger zerolog.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if evictFraction <= 0 || evictFraction > 1 {
		evictFraction = DefaultEvictFraction
	}
	return &Queue{
		events:        make([]Event, 0, capacity),
		capacity:      capacity,
		evictFraction: evictFraction,
		logger:        logger.With().Str("component", "event-queue").Logger(),
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.events)
}

// EvictedCount returns how many events overflow eviction has dropped.
func (q *Queue) EvictedCount() uint64 {
	return q.evicted
}

// Push inserts an event in deadline order. When the queue is full it
// first evicts the oldest evictFraction of pending events in one slice.
// Returns the number of events evicted to make room.
func (q *Queue) Push(ev Event) int {
	evicted := 0
	if len(q.events) >= q.capacity {
		drop := int(float64(len(q.events)) * q.evictFraction)
		if drop < 1 {
			drop = 1
		}
		q.events = append(q.events[:0], q.events[drop:]...)
		q.evicted += uint64(drop)
		evicted = drop
		q.logger.Warn().
			Int("dropped", drop).
			Int("remaining", len(q.events)).
			Msg("Queue overflow, evicted oldest events")
	}

	i := sort.Search(len(q.events), func(i int) bool {
		return less(ev, q.events[i])
	})
	q.events = append(q.events, Event{})
	copy(q.events[i+1:], q.events[i:])
	q.events[i] = ev
	return evicted
}

// less orders scheduled events by deadline and sorts unscheduled events
// after every scheduled one.
func less(a, b Event) bool {
	if a.Scheduled != b.Scheduled {
		return a.Scheduled
	}
	if !a.Scheduled {
		return false
	}
	return a.LocalDeadline < b.LocalDeadline
}

// PeekDue returns the head event when its deadline has passed. Events
// without a deadline are held until RescheduleAll gives them one.
func (q *Queue) PeekDue(now float64) (Event, bool) {
	if len(q.events) == 0 {
		return Event{}, false
	}
	head := q.events[0]
	if !head.Scheduled || head.LocalDeadline > now {
		return Event{}, false
	}
	return head, true
}

// Pop removes and returns the head event.
func (q *Queue) Pop() (Event, bool) {
	if len(q.events) == 0 {
		return Event{}, false
	}
	head := q.events[0]
	q.events = append(q.events[:0], q.events[1:]...)
	return head, true
}

// NextDeadline returns the head event's deadline for diagnostics.
func (q *Queue) NextDeadline() (float64, bool) {
	if len(q.events) == 0 || !q.events[0].Scheduled {
		return 0, false
	}
	return q.events[0].LocalDeadline, true
}

// Clear drops every pending event.
func (q *Queue) Clear() {
	q.events = q.events[:0]
}

// RescheduleAll recomputes every event's deadline against the current
// clock sample and re-sorts. Must run whenever the clock receives a new
// sample or the lead time changes, so mid-stream resynchronization
// reorders pending events instead of playing them at stale deadlines.
func (q *Queue) RescheduleAll(cs *clock.Sync) {
	for i := range q.events {
		deadline, ok := cs.ToLocalDeadline(q.events[i].AuthoringTs)
		q.events[i].LocalDeadline = deadline
		q.events[i].Scheduled = ok
	}
	sort.SliceStable(q.events, func(i, j int) bool {
		return less(q.events[i], q.events[j])
	})
}

// Snapshot copies the pending events, oldest deadline first. For tests
// and diagnostics only.
func (q *Queue) Snapshot() []Event {
	out := make([]Event, len(q.events))
	copy(out, q.events)
	return out
}

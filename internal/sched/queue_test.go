package sched

import (
	"fmt"
	"sort"
	"testing"

	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/clock"
	"github.com/normanking/lipsync/internal/viseme"
)

func scheduledEvent(id int, deadline float64) Event {
	return Event{
		ID:            fmt.Sprintf("ev-%d", id),
		Class:         viseme.AA,
		AuthoringTs:   deadline,
		LocalDeadline: deadline,
		Scheduled:     true,
		UtteranceID:   "utt-1",
	}
}

func TestPush_KeepsDeadlineOrder(t *testing.T) {
	q := NewQueue(16, 0.5, zerolog.Nop())
	for _, d := range []float64{50, 10, 30, 20, 40} {
		q.Push(scheduledEvent(int(d), d))
	}

	snap := q.Snapshot()
	if !sort.SliceIsSorted(snap, func(i, j int) bool { return snap[i].LocalDeadline < snap[j].LocalDeadline }) {
		t.Errorf("queue not sorted by deadline: %+v", snap)
	}
}

func TestPush_NeverExceedsCapacity(t *testing.T) {
	q := NewQueue(30, 0.5, zerolog.Nop())
	for i := 0; i < 40; i++ {
		q.Push(scheduledEvent(i, float64(i)))
		if q.Len() > 30 {
			t.Fatalf("queue exceeded capacity after push %d: len=%d", i, q.Len())
		}
	}
}

func TestPush_OverflowEvictsOldestHalf(t *testing.T) {
	q := NewQueue(30, 0.5, zerolog.Nop())
	for i := 0; i < 40; i++ {
		q.Push(scheduledEvent(i, float64(i)))
	}

	// The 31st push evicts the oldest 15 in one slice; the
	// remaining pushes then fit.
	if q.Len() != 25 {
		t.Fatalf("expected 25 events after burst, got %d", q.Len())
	}
	if q.EvictedCount() != 15 {
		t.Errorf("expected 15 evicted, got %d", q.EvictedCount())
	}

	// Survivors are exactly the most recently pushed events, still
	// time-ordered.
	snap := q.Snapshot()
	for i, ev := range snap {
		want := float64(15 + i)
		if ev.LocalDeadline != want {
			t.Errorf("snapshot[%d].LocalDeadline = %v, want %v", i, ev.LocalDeadline, want)
		}
	}
}

func TestPush_EvictFractionTunable(t *testing.T) {
	q := NewQueue(10, 0.2, zerolog.Nop())
	for i := 0; i < 11; i++ {
		q.Push(scheduledEvent(i, float64(i)))
	}
	// 20% of 10 = 2 evicted, then one push lands.
	if q.Len() != 9 {
		t.Errorf("expected 9 events, got %d", q.Len())
	}
	if q.EvictedCount() != 2 {
		t.Errorf("expected 2 evicted, got %d", q.EvictedCount())
	}
}

func TestPeekDue_RespectsDeadline(t *testing.T) {
	q := NewQueue(8, 0.5, zerolog.Nop())
	q.Push(scheduledEvent(1, 100))

	if _, ok := q.PeekDue(99); ok {
		t.Error("event due before its deadline")
	}
	ev, ok := q.PeekDue(100)
	if !ok || ev.LocalDeadline != 100 {
		t.Errorf("expected event due at 100, got (%+v, %v)", ev, ok)
	}
	// Peek must not consume.
	if q.Len() != 1 {
		t.Errorf("peek consumed the event")
	}
}

func TestPeekDue_HoldsUnscheduledEvents(t *testing.T) {
	q := NewQueue(8, 0.5, zerolog.Nop())
	q.Push(Event{ID: "held", Class: viseme.OH, AuthoringTs: 500, UtteranceID: "utt-1"})
	q.Push(scheduledEvent(2, 40))

	// Unscheduled events sort last and are never due.
	if _, ok := q.PeekDue(1e9); !ok {
		t.Fatal("scheduled event should be due")
	}
	ev, _ := q.Pop()
	if ev.ID != "ev-2" {
		t.Fatalf("expected the scheduled event first, got %s", ev.ID)
	}
	if _, ok := q.PeekDue(1e9); ok {
		t.Error("unscheduled event must not be poppable via PeekDue")
	}
	if q.Len() != 1 {
		t.Errorf("held event was lost")
	}
}

func TestRescheduleAll_AssignsDeadlinesAndResorts(t *testing.T) {
	q := NewQueue(8, 0.5, zerolog.Nop())
	cs := clock.New(0, zerolog.Nop())

	// Arrivals before any clock sample are held unscheduled.
	for _, ts := range []float64{1300, 1100, 1200} {
		q.Push(Event{ID: fmt.Sprintf("ts-%v", ts), Class: viseme.AA, AuthoringTs: ts, UtteranceID: "utt-1"})
	}
	if _, ok := q.PeekDue(1e9); ok {
		t.Fatal("nothing should be due before a clock sample")
	}

	cs.OnAudioScheduled(clock.Sample{ServerTimestamp: 1000, ScheduledPlaybackTime: 2000, LeadTimeMs: 50})
	q.RescheduleAll(cs)

	want := []float64{2050, 2150, 2250}
	snap := q.Snapshot()
	for i, ev := range snap {
		if !ev.Scheduled || ev.LocalDeadline != want[i] {
			t.Errorf("snapshot[%d] = (%v, scheduled=%v), want deadline %v", i, ev.LocalDeadline, ev.Scheduled, want[i])
		}
	}
}

func TestRescheduleAll_ReordersOnNewSample(t *testing.T) {
	q := NewQueue(8, 0.5, zerolog.Nop())
	cs := clock.New(0, zerolog.Nop())
	cs.OnAudioScheduled(clock.Sample{ServerTimestamp: 0, ScheduledPlaybackTime: 1000, LeadTimeMs: 10})

	q.Push(Event{ID: "a", Class: viseme.AA, AuthoringTs: 100, LocalDeadline: 5000, Scheduled: true, UtteranceID: "u"})
	q.Push(Event{ID: "b", Class: viseme.E, AuthoringTs: 50, LocalDeadline: 100, Scheduled: true, UtteranceID: "u"})

	q.RescheduleAll(cs)

	snap := q.Snapshot()
	if snap[0].ID != "b" || snap[0].LocalDeadline != 1040 {
		t.Errorf("head = %+v, want b at 1040", snap[0])
	}
	if snap[1].ID != "a" || snap[1].LocalDeadline != 1090 {
		t.Errorf("tail = %+v, want a at 1090", snap[1])
	}
}

func TestClear(t *testing.T) {
	q := NewQueue(8, 0.5, zerolog.Nop())
	q.Push(scheduledEvent(1, 10))
	q.Push(scheduledEvent(2, 20))
	q.Clear()
	if q.Len() != 0 {
		t.Errorf("expected empty queue after Clear, got %d", q.Len())
	}
}

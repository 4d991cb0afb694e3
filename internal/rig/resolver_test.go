package rig

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/viseme"
)

func canonicalNode(name string) Node {
	node := Node{Name: name}
	i := 0
	for ch := range viseme.CanonicalNames() {
		node.Channels = append(node.Channels, Channel{Name: ch, Index: i})
		i++
	}
	return node
}

func TestScore_CanonicalMatchesWeighHeaviest(t *testing.T) {
	node := canonicalNode("Wolf3D_Head")
	r := Score(node)

	if len(r.CanonicalMatches) != viseme.ClassCount {
		t.Fatalf("expected %d canonical matches, got %d", viseme.ClassCount, len(r.CanonicalMatches))
	}
	if !r.NameBonus {
		t.Error("expected head-name bonus for Wolf3D_Head")
	}
	if r.Score != 10*viseme.ClassCount+5 {
		t.Errorf("unexpected score %d", r.Score)
	}
	// Canonical coverage is strong, so the fallback vocabulary must
	// not have been consulted.
	if len(r.FallbackMatches) != 0 {
		t.Errorf("expected no fallback matches, got %v", r.FallbackMatches)
	}
}

func TestScore_FallbackOnlyWhenCanonicalWeak(t *testing.T) {
	node := Node{
		Name: "Body",
		Channels: []Channel{
			{Name: "jawDrop", Index: 0},
			{Name: "lipCornerPull", Index: 1},
			{Name: "browRaise", Index: 2},
		},
	}
	r := Score(node)
	if len(r.CanonicalMatches) != 0 {
		t.Fatalf("expected no canonical matches, got %v", r.CanonicalMatches)
	}
	if len(r.FallbackMatches) != 2 {
		t.Errorf("expected 2 fallback matches (jaw, lip), got %v", r.FallbackMatches)
	}
	if r.Score != 4 {
		t.Errorf("expected score 4, got %d", r.Score)
	}
}

func TestResolve_CanonicalRigRoundTrip(t *testing.T) {
	nodes := []Node{
		{Name: "Body", Channels: []Channel{{Name: "spine_twist", Index: 0}}},
		canonicalNode("AvatarHead"),
	}

	binding, err := Resolve(nodes, zerolog.Nop())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if binding.UseAlternate {
		t.Fatal("expected canonical convention for a fully canonical rig")
	}
	if binding.Table.Len() != viseme.ClassCount {
		t.Fatalf("expected %d bound channels, got %d", viseme.ClassCount, binding.Table.Len())
	}

	// Every viseme class must land on its own distinct channel.
	slots := make(map[int]viseme.Class)
	for c := viseme.Class(0); c < viseme.ClassCount; c++ {
		targets := viseme.Resolve(c, binding.UseAlternate)
		if len(targets) == 0 {
			t.Fatalf("class %v resolved to no channel on a canonical rig", c)
		}
		slot, ok := binding.Table.Slot(targets[0].Channel)
		if !ok {
			t.Fatalf("class %v: channel %q not bound", c, targets[0].Channel)
		}
		if prev, dup := slots[slot]; dup {
			t.Errorf("classes %v and %v share slot %d", prev, c, slot)
		}
		slots[slot] = c
	}
}

func TestResolve_SelectsAlternateConvention(t *testing.T) {
	node := Node{
		Name: "Face",
		Channels: []Channel{
			{Name: "jawOpen", Index: 0},
			{Name: "mouthFunnel", Index: 1},
			{Name: "mouthPucker", Index: 2},
			{Name: "mouthClose", Index: 3},
			{Name: "mouthSmileLeft", Index: 4},
		},
	}

	binding, err := Resolve([]Node{node}, zerolog.Nop())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !binding.UseAlternate {
		t.Fatal("expected alternate convention for an ARKit-style rig")
	}
	if binding.Table.Len() != 5 {
		t.Errorf("expected 5 bound channels, got %d", binding.Table.Len())
	}
	if len(binding.Rationale.AlternateMatches) != 5 {
		t.Errorf("rationale should list 5 alternate matches, got %v", binding.Rationale.AlternateMatches)
	}
}

func TestResolve_TieBreaksTowardCanonical(t *testing.T) {
	// Two nodes with equal scores; the one with more canonical
	// matches must win.
	strong := Node{Name: "a", Channels: []Channel{
		{Name: "viseme_aa", Index: 0},
		{Name: "viseme_E", Index: 1},
	}}
	weak := Node{Name: "b", Channels: []Channel{
		{Name: "viseme_O", Index: 0},
		{Name: "mouthThing", Index: 1},
		{Name: "jawThing", Index: 2},
		{Name: "lipThing", Index: 3},
		{Name: "tongueThing", Index: 4},
		{Name: "teethThing", Index: 5},
	}}
	if Score(strong).Score != Score(weak).Score {
		t.Fatalf("test setup: scores differ (%d vs %d)", Score(strong).Score, Score(weak).Score)
	}

	binding, err := Resolve([]Node{weak, strong}, zerolog.Nop())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if binding.Rationale.Node != "a" {
		t.Errorf("expected tie to break toward higher canonical count, winner=%s", binding.Rationale.Node)
	}
}

func TestResolve_NoVisemeChannels(t *testing.T) {
	nodes := []Node{
		{Name: "Body", Channels: []Channel{{Name: "spine_twist", Index: 0}}},
		{Name: "Hands", Channels: []Channel{{Name: "fist", Index: 0}}},
	}
	_, err := Resolve(nodes, zerolog.Nop())
	if !errors.Is(err, ErrNoVisemeChannels) {
		t.Fatalf("expected ErrNoVisemeChannels, got %v", err)
	}
}

func TestChannelTable_ClampsIntensity(t *testing.T) {
	table := NewChannelTable([]Channel{{Name: "viseme_aa", Index: 7}})
	slot, _ := table.Slot("viseme_aa")

	table.SetIntensity(slot, 1.5)
	if got := table.Intensity(slot); got != 1.0 {
		t.Errorf("expected clamp to 1.0, got %v", got)
	}
	table.SetIntensity(slot, -0.2)
	if got := table.Intensity(slot); got != 0.0 {
		t.Errorf("expected clamp to 0.0, got %v", got)
	}
}

func TestChannelTable_WeightsUseAvatarIndices(t *testing.T) {
	table := NewChannelTable([]Channel{
		{Name: "viseme_sil", Index: 2},
		{Name: "viseme_aa", Index: 5},
	})
	silSlot, _ := table.Slot("viseme_sil")
	aaSlot, _ := table.Slot("viseme_aa")
	table.SetIntensity(silSlot, 0.1)
	table.SetIntensity(aaSlot, 0.9)

	weights := make([]float32, 8)
	table.Weights(weights)

	for i, want := range []float32{0, 0, 0.1, 0, 0, 0.9, 0, 0} {
		if weights[i] != want {
			t.Errorf("weights[%d] = %v, want %v", i, weights[i], want)
		}
	}
}

func TestChannelTable_StableIndices(t *testing.T) {
	var channels []Channel
	for i := 0; i < 4; i++ {
		channels = append(channels, Channel{Name: fmt.Sprintf("viseme_%d", i), Index: i * 3})
	}
	table := NewChannelTable(channels)
	for i, ch := range channels {
		if got := table.Channel(i); got != ch {
			t.Errorf("channel %d changed: got %+v want %+v", i, got, ch)
		}
	}
}

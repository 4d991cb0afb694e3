package viseme

import (
	"testing"
)

func TestResolve_CanonicalCoversEveryClass(t *testing.T) {
	seen := make(map[string]bool)
	for c := Class(0); c < ClassCount; c++ {
		targets := Resolve(c, false)
		if len(targets) != 1 {
			t.Fatalf("class %v: expected 1 canonical target, got %d", c, len(targets))
		}
		if targets[0].Weight != 1.0 {
			t.Errorf("class %v: expected weight 1.0, got %v", c, targets[0].Weight)
		}
		if seen[targets[0].Channel] {
			t.Errorf("class %v: duplicate canonical channel %q", c, targets[0].Channel)
		}
		seen[targets[0].Channel] = true
	}
}

func TestResolve_Deterministic(t *testing.T) {
	for c := Class(0); c < ClassCount; c++ {
		for _, alt := range []bool{false, true} {
			a := Resolve(c, alt)
			b := Resolve(c, alt)
			if len(a) != len(b) {
				t.Fatalf("class %v alt=%v: non-deterministic result length", c, alt)
			}
			for i := range a {
				if a[i] != b[i] {
					t.Errorf("class %v alt=%v: non-deterministic target %d", c, alt, i)
				}
			}
		}
	}
}

func TestResolve_AlternateGapsAreNoEffect(t *testing.T) {
	// PP has no ARKit-style equivalent; it must resolve to nothing
	// without being an error.
	if targets := Resolve(PP, true); len(targets) != 0 {
		t.Errorf("expected no alternate targets for PP, got %v", targets)
	}
	if targets := Resolve(AA, true); len(targets) != 1 || targets[0].Channel != "jawOpen" {
		t.Errorf("expected jawOpen for AA, got %v", targets)
	}
}

func TestResolve_OutOfRangeClass(t *testing.T) {
	if targets := Resolve(Class(-1), false); targets != nil {
		t.Errorf("expected nil for negative class, got %v", targets)
	}
	if targets := Resolve(Class(99), true); targets != nil {
		t.Errorf("expected nil for out-of-range class, got %v", targets)
	}
}

func TestClassForChannel_InverseLookup(t *testing.T) {
	for c := Class(0); c < ClassCount; c++ {
		targets := Resolve(c, false)
		got, ok := ClassForChannel(targets[0].Channel, false)
		if !ok || got != c {
			t.Errorf("canonical inverse lookup for %q: got (%v,%v), want %v", targets[0].Channel, got, ok, c)
		}
	}

	got, ok := ClassForChannel("jawOpen", true)
	if !ok || got != AA {
		t.Errorf("alternate inverse lookup for jawOpen: got (%v,%v), want AA", got, ok)
	}

	if _, ok := ClassForChannel("eyebrowRaise", true); ok {
		t.Error("expected no class for unrelated channel name")
	}
}

func TestSilenceChannel(t *testing.T) {
	if got := SilenceChannel(false); got != "viseme_sil" {
		t.Errorf("canonical silence channel: got %q", got)
	}
	if got := SilenceChannel(true); got != "mouthClose" {
		t.Errorf("alternate silence channel: got %q", got)
	}
}

// Package viseme defines the viseme class enumeration and the static
// tables that map classes onto morph-target channel names. The class set
// is the 15-entry Oculus lip-sync alphabet used by the upstream protocol.
package viseme

// Class identifies a viseme (visual phoneme class). 0 is silence.
type Class int

const (
	Sil Class = 0  // Silence
	PP  Class = 1  // p, b, m
	FF  Class = 2  // f, v
	TH  Class = 3  // th (dental)
	DD  Class = 4  // t, d
	KK  Class = 5  // k, g
	CH  Class = 6  // ch, j, sh
	SS  Class = 7  // s, z
	NN  Class = 8  // n, l
	RR  Class = 9  // r
	AA  Class = 10 // a (as in "father")
	E   Class = 11 // e (as in "bed")
	IH  Class = 12 // i (as in "sit")
	OH  Class = 13 // o (as in "go")
	OU  Class = 14 // u (as in "boot")
)

// ClassCount is the number of defined viseme classes.
const ClassCount = 15

// Valid reports whether c is a defined viseme class.
func (c Class) Valid() bool {
	return c >= Sil && c < ClassCount
}

func (c Class) String() string {
	if !c.Valid() {
		return "viseme(?)"
	}
	return classNames[c]
}

var classNames = [ClassCount]string{
	"sil", "PP", "FF", "TH", "DD", "kk", "CH", "SS", "nn", "RR",
	"aa", "E", "I", "O", "U",
}

// Target is one channel a viseme class drives, with its blend weight.
type Target struct {
	Channel string
	Weight  float64
}

// canonicalChannels maps every class to its canonical morph-target name.
// These are the standard Oculus-convention names found on most rigs.
var canonicalChannels = [ClassCount]string{
	Sil: "viseme_sil",
	PP:  "viseme_PP",
	FF:  "viseme_FF",
	TH:  "viseme_TH",
	DD:  "viseme_DD",
	KK:  "viseme_kk",
	CH:  "viseme_CH",
	SS:  "viseme_SS",
	NN:  "viseme_nn",
	RR:  "viseme_RR",
	AA:  "viseme_aa",
	E:   "viseme_E",
	IH:  "viseme_I",
	OH:  "viseme_O",
	OU:  "viseme_U",
}

// alternateChannels covers rigs that expose ARKit-style blend shapes
// instead of the canonical set. Only a subset of classes has a visual
// equivalent there; the rest intentionally resolve to no channel.
var alternateChannels = map[Class]string{
	Sil: "mouthClose",
	FF:  "mouthRollLower",
	TH:  "tongueOut",
	AA:  "jawOpen",
	E:   "mouthSmileLeft",
	IH:  "mouthStretchLeft",
	OH:  "mouthFunnel",
	OU:  "mouthPucker",
}

// Precomputed inverse tables for O(1) channel-name → class lookup.
var (
	canonicalInverse map[string]Class
	alternateInverse map[string]Class
)

func init() {
	canonicalInverse = make(map[string]Class, ClassCount)
	for c, name := range canonicalChannels {
		canonicalInverse[name] = Class(c)
	}
	alternateInverse = make(map[string]Class, len(alternateChannels))
	for c, name := range alternateChannels {
		alternateInverse[name] = c
	}
}

// Resolve returns the channel targets a viseme class should drive under
// the selected naming convention. An empty slice means the class has no
// facial effect on this rig, which is not an error. Resolve never fails
// and is safe for out-of-range classes.
func Resolve(c Class, useAlternate bool) []Target {
	if !c.Valid() {
		return nil
	}
	if useAlternate {
		name, ok := alternateChannels[c]
		if !ok {
			return nil
		}
		return []Target{{Channel: name, Weight: 1.0}}
	}
	return []Target{{Channel: canonicalChannels[c], Weight: 1.0}}
}

// SilenceChannel returns the channel representing the rest pose under
// the selected convention.
func SilenceChannel(useAlternate bool) string {
	if useAlternate {
		return alternateChannels[Sil]
	}
	return canonicalChannels[Sil]
}

// ClassForChannel performs the reverse lookup from channel name to
// viseme class for the selected convention.
func ClassForChannel(name string, useAlternate bool) (Class, bool) {
	if useAlternate {
		c, ok := alternateInverse[name]
		return c, ok
	}
	c, ok := canonicalInverse[name]
	return c, ok
}

// CanonicalNames returns the full canonical channel-name set. Used by
// the rig resolver when scoring candidate nodes.
func CanonicalNames() map[string]Class {
	return canonicalInverse
}

// AlternateNames returns the alternate channel-name set.
func AlternateNames() map[string]Class {
	return alternateInverse
}

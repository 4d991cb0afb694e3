// Package rig binds an avatar's morph-target inventory to the viseme
// channels the blend engine drives.
package rig

// Channel is one animatable morph target on the bound avatar.
type Channel struct {
	Name  string
	Index int
}

// ChannelTable holds the intensity slots for the viseme-relevant
// channels of a bound avatar. Indices are the avatar's own morph-target
// indices and stay stable for the table's lifetime. The blend engine is
// the only writer; the render step reads intensities each frame.
type ChannelTable struct {
	channels    []Channel
	byName      map[string]int // channel name -> position in channels
	intensities []float64
}

// NewChannelTable builds a table over the given channels. Intensities
// start at zero.
func NewChannelTable(channels []Channel) *ChannelTable {
	t := &ChannelTable{
		channels:    make([]Channel, len(channels)),
		byName:      make(map[string]int, len(channels)),
		intensities: make([]float64, len(channels)),
	}
	copy(t.channels, channels)
	for i, ch := range t.channels {
		t.byName[ch.Name] = i
	}
	return t
}

// Len returns the number of bound channels.
func (t *ChannelTable) Len() int {
	return len(t.channels)
}

// Slot returns the table position for a channel name.
func (t *ChannelTable) Slot(name string) (int, bool) {
	i, ok := t.byName[name]
	return i, ok
}

// Channel returns the channel at a table position.
func (t *ChannelTable) Channel(slot int) Channel {
	return t.channels[slot]
}

// Intensity returns the current intensity at a table position.
func (t *ChannelTable) Intensity(slot int) float64 {
	if slot < 0 || slot >= len(t.intensities) {
		return 0
	}
	return t.intensities[slot]
}

// SetIntensity writes an intensity, clamped to [0,1].
func (t *ChannelTable) SetIntensity(slot int, v float64) {
	if slot < 0 || slot >= len(t.intensities) {
		return
	}
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	t.intensities[slot] = v
}

// Weights copies the current intensities into dst as float32 morph
// weights indexed by the avatar's own morph-target indices. dst must be
// sized to the avatar's full target count. Channels outside dst's range
// are skipped.
func (t *ChannelTable) Weights(dst []float32) {
	for i, ch := range t.channels {
		if ch.Index < 0 || ch.Index >= len(dst) {
			continue
		}
		dst[ch.Index] = float32(t.intensities[i])
	}
}

package rig

import (
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/viseme"
)

// ErrNoVisemeChannels indicates no node in the inventory exposes any
// viseme-capable channel. The caller should run without facial
// animation rather than treat this as fatal.
var ErrNoVisemeChannels = errors.New("no viseme channels found in avatar inventory")

// Node is one channel-bearing node from the avatar inventory, as
// produced by the mesh loader.
type Node struct {
	Name     string
	MeshName string
	Channels []Channel
}

// fallbackVocab is the generic mouth vocabulary used when a rig carries
// neither naming convention in force. Substring match, case-insensitive.
var fallbackVocab = []string{"mouth", "jaw", "lip", "tongue", "teeth"}

// headNameHints mark nodes that likely own the face mesh.
var headNameHints = []string{"head", "face", "skull"}

// canonicalWeak is the canonical-match count below which fallback
// vocabulary matches are allowed to influence the score.
const canonicalWeak = 3

// ScoreRationale explains how a node scored, so callers and tests can
// see which names drove the selection instead of digging through logs.
type ScoreRationale struct {
	Node             string
	Score            int
	CanonicalMatches []string
	AlternateMatches []string
	FallbackMatches  []string
	NameBonus        bool
}

// Binding is the result of resolving an avatar inventory.
type Binding struct {
	Table        *ChannelTable
	UseAlternate bool
	Rationale    ScoreRationale
}

// Score evaluates one node. Pure: no logging, no state.
func Score(node Node) ScoreRationale {
	r := ScoreRationale{Node: node.Name}

	canonical := viseme.CanonicalNames()
	alternate := viseme.AlternateNames()

	for _, ch := range node.Channels {
		if _, ok := canonical[ch.Name]; ok {
			r.CanonicalMatches = append(r.CanonicalMatches, ch.Name)
		}
		if _, ok := alternate[ch.Name]; ok {
			r.AlternateMatches = append(r.AlternateMatches, ch.Name)
		}
	}
	if len(r.CanonicalMatches) < canonicalWeak {
		for _, ch := range node.Channels {
			lower := strings.ToLower(ch.Name)
			for _, word := range fallbackVocab {
				if strings.Contains(lower, word) {
					r.FallbackMatches = append(r.FallbackMatches, ch.Name)
					break
				}
			}
		}
	}

	owner := strings.ToLower(node.Name + " " + node.MeshName)
	for _, hint := range headNameHints {
		if strings.Contains(owner, hint) {
			r.NameBonus = true
			break
		}
	}

	r.Score = 10 * len(r.CanonicalMatches)
	if len(r.CanonicalMatches) < canonicalWeak {
		r.Score += 2 * len(r.FallbackMatches)
	}
	if r.NameBonus {
		r.Score += 5
	}
	return r
}

// Resolve scans the inventory, selects the viseme-bearing node, and
// returns a ChannelTable restricted to the channels the selected naming
// convention can drive. Ties break toward higher canonical-match count.
func Resolve(nodes []Node, logger zerolog.Logger) (*Binding, error) {
	log := logger.With().Str("component", "rig-resolver").Logger()

	var best Node
	var bestRationale ScoreRationale
	found := false

	for _, node := range nodes {
		r := Score(node)
		log.Debug().
			Str("node", node.Name).
			Int("score", r.Score).
			Int("canonical", len(r.CanonicalMatches)).
			Int("alternate", len(r.AlternateMatches)).
			Int("fallback", len(r.FallbackMatches)).
			Bool("name_bonus", r.NameBonus).
			Msg("Scored candidate node")

		if r.Score == 0 && len(r.AlternateMatches) == 0 {
			continue
		}
		if !found ||
			r.Score > bestRationale.Score ||
			(r.Score == bestRationale.Score && len(r.CanonicalMatches) > len(bestRationale.CanonicalMatches)) {
			best = node
			bestRationale = r
			found = true
		}
	}

	if !found {
		log.Warn().Int("nodes", len(nodes)).Msg("No viseme-capable node in inventory")
		return nil, ErrNoVisemeChannels
	}

	// If the winner's canonical coverage is weaker than what the
	// alternate table achieves on it, the rig uses the alternate
	// convention. Recorded here so the viseme map is consulted
	// consistently for the lifetime of the binding.
	useAlternate := len(bestRationale.AlternateMatches) > len(bestRationale.CanonicalMatches)

	want := viseme.CanonicalNames()
	if useAlternate {
		want = viseme.AlternateNames()
	}

	var bound []Channel
	for _, ch := range best.Channels {
		if _, ok := want[ch.Name]; ok {
			bound = append(bound, ch)
		}
	}
	if len(bound) == 0 {
		return nil, ErrNoVisemeChannels
	}

	log.Info().
		Str("node", best.Name).
		Int("channels", len(bound)).
		Bool("alternate_convention", useAlternate).
		Msg("Bound viseme channels")

	return &Binding{
		Table:        NewChannelTable(bound),
		UseAlternate: useAlternate,
		Rationale:    bestRationale,
	}, nil
}

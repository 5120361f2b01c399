package channel

import (
	"cmp"
	"errors"
	"math"
	"slices"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/capability"
	"github.com/radio-control/apd/internal/fault"
)

// ErrChannelInvalid is wrapped by every selection failure.
var ErrChannelInvalid = errors.New("CHANNEL_INVALID")

// Constraints limit the channels automatic selection may pick.
type Constraints struct {
	Band  capability.Band
	Width adapter.Width
	// Exclude reports frequencies that must not be used, typically the
	// radar blacklist.
	Exclude func(freqMHz int) bool
	// NoRadar skips channels that need CAC.
	NoRadar bool
}

// Candidate is a ranked channel.
type Candidate struct {
	Params adapter.ChannelParams `json:"params"`
	Factor float64               `json:"factor"`
}

// InterferenceFactor returns busy/active * 2^(noise - lowestNoise). The
// result is +Inf when the survey has no active time.
func InterferenceFactor(s adapter.Survey, lowestNoise int) float64 {
	if s.Active <= 0 {
		return math.Inf(1)
	}
	busy := float64(s.Busy) / float64(s.Active)
	return busy * math.Pow(2, float64(s.NoiseDbm-lowestNoise))
}

// LowestNoise returns the lowest noise floor among surveys with active
// time.
func LowestNoise(results []adapter.Survey) (int, bool) {
	lowest, ok := 0, false
	for _, s := range results {
		if s.Active <= 0 {
			continue
		}
		if !ok || s.NoiseDbm < lowest {
			lowest, ok = s.NoiseDbm, true
		}
	}
	return lowest, ok
}

// Rank scores every usable channel of plan, lowest factor first. Channels
// without survey data are skipped. Ties keep plan order.
func Rank(results []adapter.Survey, plan []adapter.Channel, cons Constraints) []Candidate {
	lowest, ok := LowestNoise(results)
	if !ok {
		return nil
	}
	surveys := make(map[int]adapter.Survey, len(results))
	for _, s := range results {
		if s.Active > 0 {
			surveys[s.FrequencyMHz] = s
		}
	}
	usable := make(map[int]adapter.Channel, len(plan))
	for _, ch := range plan {
		if ch.Band() != cons.Band || ch.Flags&(adapter.ChannelDisabled|adapter.ChannelNoIR) != 0 {
			continue
		}
		if cons.NoRadar && ch.Flags&adapter.ChannelRadar != 0 {
			continue
		}
		if cons.Exclude != nil && cons.Exclude(ch.FrequencyMHz) {
			continue
		}
		usable[ch.FrequencyMHz] = ch
	}

	var out []Candidate
	for _, ch := range plan {
		if _, ok := usable[ch.FrequencyMHz]; !ok {
			continue
		}
		s, ok := surveys[ch.FrequencyMHz]
		if !ok {
			continue
		}
		params := adapter.ChannelParams{Channel: ch.Number, FrequencyMHz: ch.FrequencyMHz, Width: adapter.Width20}
		factor := InterferenceFactor(s, lowest)

		if cons.Width >= adapter.Width40 {
			offset := secondaryOffset(ch)
			if offset == 0 {
				continue
			}
			secondary := ch.FrequencyMHz + offset*20
			if _, ok := usable[secondary]; !ok {
				continue
			}
			// The secondary channel counts when it was surveyed.
			if s2, ok := surveys[secondary]; ok {
				factor += InterferenceFactor(s2, lowest)
			}
			params.Width = adapter.Width40
			params.SecondaryOffset = offset
		}
		out = append(out, Candidate{Params: params, Factor: factor})
	}

	slices.SortStableFunc(out, func(a, b Candidate) int { return cmp.Compare(a.Factor, b.Factor) })
	return out
}

// Select returns the candidate with the lowest interference factor.
func Select(results []adapter.Survey, plan []adapter.Channel, cons Constraints) (adapter.ChannelParams, error) {
	ranked := Rank(results, plan, cons)
	if len(ranked) == 0 {
		return adapter.ChannelParams{}, fault.Regulatory("acs", "%w: no usable %s channel among %d surveyed",
			ErrChannelInvalid, cons.Band, len(results))
	}
	return ranked[0].Params, nil
}

func secondaryOffset(ch adapter.Channel) int {
	switch {
	case ch.Flags&adapter.ChannelHT40Plus != 0:
		return 1
	case ch.Flags&adapter.ChannelHT40Minus != 0:
		return -1
	}
	return 0
}

// Package scoring applies regime affinity to externally produced confidence
// scores.
package scoring

import (
	"strategy-lab/internal/archetype"
	"strategy-lab/internal/domain"
)

// regimeBonus holds per-archetype score adjustments for each regime.
// Missing entries are zero.
var regimeBonus = map[string]map[domain.Regime]int{
	archetype.BreakoutRetest: {
		domain.RegimeTrendingStrong: 20,
		domain.RegimeTrendingWeak:   10,
		domain.RegimeRanging:        -15,
		domain.RegimeVolatile:       5,
		domain.RegimeChoppy:         -20,
	},
	archetype.VolatilitySqueeze: {
		domain.RegimeTrendingWeak: 5,
		domain.RegimeRanging:      15,
		domain.RegimeVolatile:     -10,
		domain.RegimeChoppy:       -5,
	},
	archetype.OpeningRangeBreakout: {
		domain.RegimeTrendingStrong: 15,
		domain.RegimeTrendingWeak:   5,
		domain.RegimeRanging:        -10,
		domain.RegimeVolatile:       10,
		domain.RegimeChoppy:         -15,
	},
	archetype.LiquiditySweep: {
		domain.RegimeRanging:  10,
		domain.RegimeVolatile: 10,
		domain.RegimeChoppy:   5,
	},
	archetype.VWAPReversion: {
		domain.RegimeTrendingStrong: -15,
		domain.RegimeRanging:        15,
		domain.RegimeChoppy:         10,
	},
	archetype.GapFade: {
		domain.RegimeTrendingStrong: -10,
		domain.RegimeRanging:        10,
		domain.RegimeVolatile:       -5,
	},
	archetype.PullbackContinuation: {
		domain.RegimeTrendingStrong: 15,
		domain.RegimeTrendingWeak:   10,
		domain.RegimeRanging:        -10,
		domain.RegimeChoppy:         -15,
	},
	archetype.MeanReversion: {
		domain.RegimeTrendingStrong: -20,
		domain.RegimeTrendingWeak:   -5,
		domain.RegimeRanging:        20,
		domain.RegimeVolatile:       -10,
		domain.RegimeChoppy:         10,
	},
	archetype.TrendFollowing: {
		domain.RegimeTrendingStrong: 20,
		domain.RegimeTrendingWeak:   10,
		domain.RegimeRanging:        -20,
		domain.RegimeChoppy:         -25,
	},
	archetype.Momentum: {
		domain.RegimeTrendingStrong: 15,
		domain.RegimeTrendingWeak:   5,
		domain.RegimeRanging:        -10,
		domain.RegimeVolatile:       5,
		domain.RegimeChoppy:         -15,
	},
	archetype.RangeFade: {
		domain.RegimeTrendingStrong: -20,
		domain.RegimeRanging:        20,
		domain.RegimeChoppy:         5,
	},
	archetype.VolatilityExpansion: {
		domain.RegimeTrendingStrong: 5,
		domain.RegimeRanging:        -10,
		domain.RegimeVolatile:       15,
	},
}

// RegimeBonus returns the score adjustment for an archetype under a regime.
func RegimeBonus(archetypeName string, regime domain.Regime) int {
	return regimeBonus[archetype.Normalize(archetypeName)][regime]
}

// AdjustedScore adds the regime bonus to a confidence score and clamps the
// result to [0, 100].
func AdjustedScore(confidence, bonus int) int {
	return clamp(confidence+bonus, 0, 100)
}

// Score is the adjusted score with its components.
type Score struct {
	Confidence int
	Bonus      int
	Adjusted   int
	Tier       domain.Tier
}

// Apply computes the adjusted score of an archetype's confidence under a regime.
func Apply(archetypeName string, confidence int, regime domain.Regime) Score {
	bonus := RegimeBonus(archetypeName, regime)
	adjusted := AdjustedScore(confidence, bonus)
	return Score{
		Confidence: confidence,
		Bonus:      bonus,
		Adjusted:   adjusted,
		Tier:       domain.TierForScore(adjusted),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package domain

// Regime is a classified market condition.
type Regime string

const (
	RegimeUnknown        Regime = ""
	RegimeTrendingStrong Regime = "TRENDING_STRONG"
	RegimeTrendingWeak   Regime = "TRENDING_WEAK"
	RegimeRanging        Regime = "RANGING"
	RegimeVolatile       Regime = "VOLATILE"
	RegimeChoppy         Regime = "CHOPPY"
)

// IsKnown reports whether r is one of the classified regimes.
func (r Regime) IsKnown() bool {
	switch r {
	case RegimeTrendingStrong, RegimeTrendingWeak, RegimeRanging, RegimeVolatile, RegimeChoppy:
		return true
	}
	return false
}

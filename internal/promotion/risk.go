package promotion

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"strategy-lab/internal/archetype"
	"strategy-lab/internal/domain"
)

// ErrUnresolvableRisk is returned when candidate risk overrides cannot form a valid config.
var ErrUnresolvableRisk = errors.New("unresolvable risk config")

// Conservative caps applied to every trial bot regardless of overrides.
const (
	maxRiskPerTradePct = 1.0
	maxDailyLossPct    = 3.0
	maxPositions       = 2
)

// trialNotionalCap limits the size of any single trial position.
var trialNotionalCap = decimal.NewFromInt(10000)

var baseRisk = domain.RiskConfig{
	RiskPerTradePct: 0.5,
	StopLossPct:     1.5,
	TakeProfitPct:   3.0,
	MaxDailyLossPct: 2.0,
	MaxPositions:    1,
}

// stopTake holds per-archetype stop and target defaults in percent.
var stopTake = map[string][2]float64{
	archetype.BreakoutRetest:       {1.2, 3.0},
	archetype.VolatilitySqueeze:    {1.5, 4.0},
	archetype.OpeningRangeBreakout: {0.8, 2.0},
	archetype.LiquiditySweep:       {0.6, 1.8},
	archetype.VWAPReversion:        {0.7, 1.2},
	archetype.GapFade:              {1.0, 1.5},
	archetype.PullbackContinuation: {1.2, 2.5},
	archetype.MeanReversion:        {1.0, 1.5},
	archetype.TrendFollowing:       {2.5, 7.5},
	archetype.Momentum:             {1.5, 3.5},
	archetype.RangeFade:            {0.8, 1.2},
	archetype.VolatilityExpansion:  {2.0, 5.0},
}

// DefaultRisk returns the conservative defaults for an archetype.
func DefaultRisk(archetype string) domain.RiskConfig {
	r := baseRisk
	if st, ok := stopTake[archetype]; ok {
		r.StopLossPct, r.TakeProfitPct = st[0], st[1]
	}
	r.MaxPositionNotional = trialNotionalCap
	return r
}

// ResolveRisk merges candidate overrides over the archetype defaults and
// applies the trial caps. Non-positive overrides are rejected.
func ResolveRisk(archetype string, p *domain.RiskParams) (domain.RiskConfig, error) {
	r := DefaultRisk(archetype)
	if p == nil {
		return r, nil
	}

	overrides := []struct {
		name string
		v    *float64
		dst  *float64
	}{
		{"risk_per_trade_pct", p.RiskPerTradePct, &r.RiskPerTradePct},
		{"stop_loss_pct", p.StopLossPct, &r.StopLossPct},
		{"take_profit_pct", p.TakeProfitPct, &r.TakeProfitPct},
		{"max_daily_loss_pct", p.MaxDailyLossPct, &r.MaxDailyLossPct},
	}
	for _, o := range overrides {
		if o.v == nil {
			continue
		}
		if *o.v <= 0 {
			return domain.RiskConfig{}, fmt.Errorf("%w: %s must be positive", ErrUnresolvableRisk, o.name)
		}
		*o.dst = *o.v
	}
	if p.MaxPositions != nil {
		if *p.MaxPositions <= 0 {
			return domain.RiskConfig{}, fmt.Errorf("%w: max_positions must be positive", ErrUnresolvableRisk)
		}
		r.MaxPositions = *p.MaxPositions
	}

	if r.TakeProfitPct <= r.StopLossPct*0.5 {
		return domain.RiskConfig{}, fmt.Errorf("%w: take profit %.2f%% too tight for stop %.2f%%", ErrUnresolvableRisk, r.TakeProfitPct, r.StopLossPct)
	}

	r.RiskPerTradePct = min(r.RiskPerTradePct, maxRiskPerTradePct)
	r.MaxDailyLossPct = min(r.MaxDailyLossPct, maxDailyLossPct)
	r.MaxPositions = min(r.MaxPositions, maxPositions)
	return r, nil
}

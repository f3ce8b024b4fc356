package promotion

import (
	"errors"
	"testing"

	"strategy-lab/internal/archetype"
	"strategy-lab/internal/domain"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int { return &v }

func TestResolveRisk(t *testing.T) {
	t.Run("defaults per archetype", func(t *testing.T) {
		r, err := ResolveRisk("trend_following", nil)
		if err != nil {
			t.Fatal(err)
		}
		if r.StopLossPct != 2.5 || r.TakeProfitPct != 7.5 {
			t.Errorf("unexpected stop/target: %+v", r)
		}
		if r.MaxPositions != 1 {
			t.Errorf("MaxPositions = %d, want 1", r.MaxPositions)
		}
	})

	t.Run("overrides merge and caps apply", func(t *testing.T) {
		r, err := ResolveRisk("momentum", &domain.RiskParams{
			RiskPerTradePct: fp(4),
			StopLossPct:     fp(2),
			MaxPositions:    ip(10),
		})
		if err != nil {
			t.Fatal(err)
		}
		if r.RiskPerTradePct != maxRiskPerTradePct {
			t.Errorf("RiskPerTradePct = %v, want cap %v", r.RiskPerTradePct, maxRiskPerTradePct)
		}
		if r.StopLossPct != 2 {
			t.Errorf("StopLossPct = %v, want 2", r.StopLossPct)
		}
		if r.MaxPositions != maxPositions {
			t.Errorf("MaxPositions = %d, want cap %d", r.MaxPositions, maxPositions)
		}
	})

	t.Run("non-positive override fails", func(t *testing.T) {
		_, err := ResolveRisk("momentum", &domain.RiskParams{StopLossPct: fp(0)})
		if !errors.Is(err, ErrUnresolvableRisk) {
			t.Errorf("expected ErrUnresolvableRisk, got %v", err)
		}
	})

	t.Run("target tighter than half the stop fails", func(t *testing.T) {
		_, err := ResolveRisk("momentum", &domain.RiskParams{StopLossPct: fp(4), TakeProfitPct: fp(1)})
		if !errors.Is(err, ErrUnresolvableRisk) {
			t.Errorf("expected ErrUnresolvableRisk, got %v", err)
		}
	})
}

func TestStopTakeCoversVocabulary(t *testing.T) {
	for name := range stopTake {
		if !archetype.IsKnown(name) {
			t.Errorf("stop/target row for unknown archetype %q", name)
		}
	}
	for _, name := range []string{
		archetype.BreakoutRetest, archetype.VolatilitySqueeze, archetype.OpeningRangeBreakout,
		archetype.LiquiditySweep, archetype.VWAPReversion, archetype.GapFade,
		archetype.PullbackContinuation, archetype.MeanReversion, archetype.TrendFollowing,
		archetype.Momentum, archetype.RangeFade, archetype.VolatilityExpansion,
	} {
		if _, ok := stopTake[name]; !ok {
			t.Errorf("no stop/target row for %s", name)
		}
	}
}

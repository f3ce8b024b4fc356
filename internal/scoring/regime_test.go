package scoring

import (
	"testing"

	"strategy-lab/internal/archetype"
	"strategy-lab/internal/domain"
)

func TestApply_BreakoutRetestTrendingStrong(t *testing.T) {
	got := Apply(archetype.BreakoutRetest, 70, domain.RegimeTrendingStrong)

	if got.Bonus != 20 {
		t.Errorf("Bonus = %d, want 20", got.Bonus)
	}
	if got.Adjusted != 90 {
		t.Errorf("Adjusted = %d, want 90", got.Adjusted)
	}
	if got.Tier != domain.TierA {
		t.Errorf("Tier = %s, want A", got.Tier)
	}
}

func TestAdjustedScore_Clamped(t *testing.T) {
	tests := []struct {
		name       string
		confidence int
		bonus      int
		want       int
	}{
		{"upper clamp", 95, 20, 100},
		{"lower clamp", 10, -25, 0},
		{"negative confidence", -5, 0, 0},
		{"extreme bonus", 50, 1000, 100},
		{"extreme penalty", 50, -1000, 0},
		{"in range", 60, -15, 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AdjustedScore(tt.confidence, tt.bonus)
			if got != tt.want {
				t.Errorf("AdjustedScore(%d, %d) = %d, want %d", tt.confidence, tt.bonus, got, tt.want)
			}
			if got < 0 || got > 100 {
				t.Errorf("AdjustedScore out of range: %d", got)
			}
		})
	}
}

func TestRegimeBonus_UnknownRegimeOrArchetype(t *testing.T) {
	if got := RegimeBonus(archetype.MeanReversion, domain.RegimeUnknown); got != 0 {
		t.Errorf("unknown regime bonus = %d, want 0", got)
	}
	if got := RegimeBonus("not_real", domain.RegimeRanging); got != 0 {
		t.Errorf("unknown archetype bonus = %d, want 0", got)
	}
}

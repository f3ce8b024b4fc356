package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"strategy-lab/internal/domain"
)

func TestClamp(t *testing.T) {
	s := Default()
	s.AutoPromoteThreshold = 10
	s.AutoPromoteTier = "Z"
	s.QCDailyLimit = -3
	s.QCWeeklyLimit = 9999
	s.Research.Scanning = ResearchHints{Depth: 0, RecencyHours: 100000}
	s.FastTrack.Gates = Gates{MinTrades: 0, MinSharpe: 9, MinWinRate: 1.5, MaxDrawdownPct: 0}

	got := s.Clamp()

	if got.AutoPromoteThreshold != MinAutoPromoteThreshold {
		t.Errorf("threshold: got %d, want %d", got.AutoPromoteThreshold, MinAutoPromoteThreshold)
	}
	if got.AutoPromoteTier != domain.TierAny {
		t.Errorf("tier: got %s, want ANY", got.AutoPromoteTier)
	}
	if got.QCDailyLimit != 0 || got.QCWeeklyLimit != MaxQCWeeklyLimit {
		t.Errorf("qc limits: got %d/%d", got.QCDailyLimit, got.QCWeeklyLimit)
	}
	if got.Research.Scanning.Depth != MinResearchDepth || got.Research.Scanning.RecencyHours != MaxRecencyHours {
		t.Errorf("research hints not clamped: %+v", got.Research.Scanning)
	}
	g := got.FastTrack.Gates
	if g.MinTrades != 1 || g.MinSharpe != MaxGateSharpe || g.MinWinRate != 1 || g.MaxDrawdownPct != 0.01 {
		t.Errorf("gates not clamped: %+v", g)
	}
}

func TestStoreSetters(t *testing.T) {
	st := NewStore(Default())

	if got := st.SetAutoPromoteThreshold(120); got != MaxAutoPromoteThreshold {
		t.Errorf("SetAutoPromoteThreshold(120) = %d, want %d", got, MaxAutoPromoteThreshold)
	}
	if err := st.SetAutoPromoteTier("b"); err != nil {
		t.Fatalf("SetAutoPromoteTier: %v", err)
	}
	if st.Get().AutoPromoteTier != domain.TierB {
		t.Errorf("tier: got %s, want B", st.Get().AutoPromoteTier)
	}
	if err := st.SetAutoPromoteTier("S"); !errors.Is(err, ErrInvalidTier) {
		t.Errorf("expected ErrInvalidTier, got %v", err)
	}
	if err := st.SetResearchHints("warp", ResearchHints{}); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("expected ErrUnknownMode, got %v", err)
	}
	if err := st.SetResearchHints("deep_research", ResearchHints{Depth: 9, RecencyHours: 48}); err != nil {
		t.Fatalf("SetResearchHints: %v", err)
	}
	h, _ := st.Get().HintsFor("DEEP_RESEARCH")
	if h.Depth != MaxResearchDepth || h.RecencyHours != 48 {
		t.Errorf("hints: got %+v", h)
	}

	st.SetQCLimits(500, -1)
	if s := st.Get(); s.QCDailyLimit != MaxQCDailyLimit || s.QCWeeklyLimit != 0 {
		t.Errorf("qc limits: got %d/%d", s.QCDailyLimit, s.QCWeeklyLimit)
	}
}

func TestLoadAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := `
require_manual_approval: true
auto_promote_threshold: 99
auto_promote_tier: c
fast_track:
  enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s.RequireManualApproval {
		t.Error("require_manual_approval not loaded")
	}
	if s.AutoPromoteThreshold != MaxAutoPromoteThreshold {
		t.Errorf("threshold: got %d, want clamped %d", s.AutoPromoteThreshold, MaxAutoPromoteThreshold)
	}
	if s.AutoPromoteTier != domain.TierC {
		t.Errorf("tier: got %s, want C", s.AutoPromoteTier)
	}
	if s.FastTrack.Enabled {
		t.Error("fast_track.enabled should be false")
	}
	// Unset fields keep defaults
	if s.QCWeeklyLimit != Default().QCWeeklyLimit {
		t.Errorf("qc weekly: got %d", s.QCWeeklyLimit)
	}

	out := filepath.Join(t.TempDir(), "out.yaml")
	if err := Save(out, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	again, err := Load(out)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again != s {
		t.Errorf("round trip mismatch: %+v vs %+v", again, s)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

// Package config holds the operator settings that steer the engine: approval
// policy, promotion thresholds, research hints, QC budgets and stage gates.
// Every value is clamped to a safe range on load and on each write.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"strategy-lab/internal/domain"
)

// ErrUnknownMode is returned when research hints are set for an unknown scheduler mode.
var ErrUnknownMode = errors.New("unknown research mode")

// ErrInvalidTier is returned for a tier outside A, B, C, ANY.
var ErrInvalidTier = errors.New("invalid tier")

// Bounds for clamped settings.
const (
	MinAutoPromoteThreshold = 50
	MaxAutoPromoteThreshold = 95

	MinResearchDepth = 1
	MaxResearchDepth = 5

	MinRecencyHours = 1
	MaxRecencyHours = 24 * 30

	MaxQCDailyLimit  = 100
	MaxQCWeeklyLimit = 500

	MaxGateTrades = 1000
	MaxGateSharpe = 5.0
)

// ResearchHints bias the candidate generator for one scheduler mode.
type ResearchHints struct {
	Depth        int `yaml:"depth" json:"depth"`                 // 1 shallow .. 5 exhaustive
	RecencyHours int `yaml:"recency_hours" json:"recency_hours"` // lookback for sources
}

// ResearchSettings holds per-mode hints.
type ResearchSettings struct {
	Scanning     ResearchHints `yaml:"scanning" json:"scanning"`
	Balanced     ResearchHints `yaml:"balanced" json:"balanced"`
	DeepResearch ResearchHints `yaml:"deep_research" json:"deep_research"`
}

// Gates are numeric thresholds a trial bot must meet to advance.
type Gates struct {
	MinTrades      int     `yaml:"min_trades" json:"min_trades"`
	MinSharpe      float64 `yaml:"min_sharpe" json:"min_sharpe"`
	MinWinRate     float64 `yaml:"min_win_rate" json:"min_win_rate"`         // 0-1
	MaxDrawdownPct float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"` // 0-1
}

// TrialsAutoPromote gates the automatic TRIAL to PAPER move after the
// minimum evaluation window.
type TrialsAutoPromote struct {
	Enabled bool  `yaml:"enabled" json:"enabled"`
	Gates   Gates `yaml:"gates" json:"gates"`
}

// FastTrack gates promote exceptional bots before the evaluation window completes.
type FastTrack struct {
	Enabled bool  `yaml:"enabled" json:"enabled"`
	Gates   Gates `yaml:"gates" json:"gates"`
}

// Settings is the operator configuration.
type Settings struct {
	UserID                string            `yaml:"user_id" json:"user_id"`
	RequireManualApproval bool              `yaml:"require_manual_approval" json:"require_manual_approval"`
	AutoPromoteThreshold  int               `yaml:"auto_promote_threshold" json:"auto_promote_threshold"`
	AutoPromoteTier       domain.Tier       `yaml:"auto_promote_tier" json:"auto_promote_tier"`
	Research              ResearchSettings  `yaml:"research" json:"research"`
	QCDailyLimit          int               `yaml:"qc_daily_limit" json:"qc_daily_limit"`   // 0 disables
	QCWeeklyLimit         int               `yaml:"qc_weekly_limit" json:"qc_weekly_limit"` // 0 disables
	FastTrack             FastTrack         `yaml:"fast_track" json:"fast_track"`
	TrialsAutoPromote     TrialsAutoPromote `yaml:"trials_auto_promote" json:"trials_auto_promote"`
}

// Default returns the conservative defaults.
func Default() Settings {
	return Settings{
		UserID:                "lab",
		RequireManualApproval: false,
		AutoPromoteThreshold:  75,
		AutoPromoteTier:       domain.TierAny,
		Research: ResearchSettings{
			Scanning:     ResearchHints{Depth: 1, RecencyHours: 24},
			Balanced:     ResearchHints{Depth: 3, RecencyHours: 72},
			DeepResearch: ResearchHints{Depth: 5, RecencyHours: 24 * 14},
		},
		QCDailyLimit:  10,
		QCWeeklyLimit: 40,
		FastTrack: FastTrack{
			Enabled: true,
			Gates:   Gates{MinTrades: 20, MinSharpe: 2.0, MinWinRate: 0.6, MaxDrawdownPct: 0.08},
		},
		TrialsAutoPromote: TrialsAutoPromote{
			Enabled: true,
			Gates:   Gates{MinTrades: 30, MinSharpe: 1.0, MinWinRate: 0.45, MaxDrawdownPct: 0.15},
		},
	}
}

// Clamp forces every field into its allowed range and returns the result.
func (s Settings) Clamp() Settings {
	if strings.TrimSpace(s.UserID) == "" {
		s.UserID = Default().UserID
	}
	s.AutoPromoteThreshold = clampInt(s.AutoPromoteThreshold, MinAutoPromoteThreshold, MaxAutoPromoteThreshold)
	if tier, err := ParseTier(string(s.AutoPromoteTier)); err == nil {
		s.AutoPromoteTier = tier
	} else {
		s.AutoPromoteTier = domain.TierAny
	}
	s.Research.Scanning = s.Research.Scanning.clamp()
	s.Research.Balanced = s.Research.Balanced.clamp()
	s.Research.DeepResearch = s.Research.DeepResearch.clamp()
	s.QCDailyLimit = clampInt(s.QCDailyLimit, 0, MaxQCDailyLimit)
	s.QCWeeklyLimit = clampInt(s.QCWeeklyLimit, 0, MaxQCWeeklyLimit)
	s.FastTrack.Gates = s.FastTrack.Gates.Clamp()
	s.TrialsAutoPromote.Gates = s.TrialsAutoPromote.Gates.Clamp()
	return s
}

// HintsFor returns the research hints for a scheduler mode name.
func (s Settings) HintsFor(mode string) (ResearchHints, error) {
	switch strings.ToUpper(mode) {
	case "SCANNING":
		return s.Research.Scanning, nil
	case "BALANCED":
		return s.Research.Balanced, nil
	case "DEEP_RESEARCH":
		return s.Research.DeepResearch, nil
	}
	return ResearchHints{}, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
}

func (h ResearchHints) clamp() ResearchHints {
	h.Depth = clampInt(h.Depth, MinResearchDepth, MaxResearchDepth)
	h.RecencyHours = clampInt(h.RecencyHours, MinRecencyHours, MaxRecencyHours)
	return h
}

// Clamp forces gate values into range.
func (g Gates) Clamp() Gates {
	g.MinTrades = clampInt(g.MinTrades, 1, MaxGateTrades)
	g.MinSharpe = clampFloat(g.MinSharpe, 0, MaxGateSharpe)
	g.MinWinRate = clampFloat(g.MinWinRate, 0, 1)
	g.MaxDrawdownPct = clampFloat(g.MaxDrawdownPct, 0.01, 1)
	return g
}

// ParseTier validates an operator tier value.
func ParseTier(s string) (domain.Tier, error) {
	switch t := domain.Tier(strings.ToUpper(strings.TrimSpace(s))); t {
	case domain.TierA, domain.TierB, domain.TierC, domain.TierAny:
		return t, nil
	case "":
		return domain.TierAny, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
}

// Load reads a YAML settings file over the defaults and clamps the result.
func Load(path string) (Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings: %w", err)
	}
	return s.Clamp(), nil
}

// Save writes settings as YAML.
func Save(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

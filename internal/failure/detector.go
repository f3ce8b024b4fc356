// Package failure diagnoses underperforming trial bots.
package failure

import (
	"math"
	"sort"
	"time"

	"strategy-lab/internal/archetype"
	"strategy-lab/internal/domain"
	"strategy-lab/internal/scoring"
)

// Thresholds holds the performance limits a bot is checked against.
type Thresholds struct {
	MinSharpe            float64       // below → LOW_SHARPE
	MaxDrawdownPct       float64       // above → HIGH_DRAWDOWN
	MinWinRate           float64       // below → LOW_WIN_RATE
	MaxNetLossR          float64       // at or below → EXCESSIVE_LOSSES
	StagnationAfter      time.Duration // no trade for at least this long → STAGNATION
	DegradationPct       float64       // Sharpe decline fraction → DEGRADATION
	DegradationWindow    int           // trailing generations considered
	MaxAvgLossR          float64       // above → RISK_MISCALIBRATION
	TimingMinWinRate     float64       // with ProfitFactor < 1 → TIMING_INEFFICIENCY
	StructuralExpectancy float64       // ExpectancyR at or below → STRUCTURAL_FLAW
}

// DefaultThresholds returns the production limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSharpe:            0.5,
		MaxDrawdownPct:       0.20,
		MinWinRate:           0.40,
		MaxNetLossR:          -5,
		StagnationAfter:      5 * 24 * time.Hour,
		DegradationPct:       0.15,
		DegradationWindow:    3,
		MaxAvgLossR:          1.5,
		TimingMinWinRate:     0.5,
		StructuralExpectancy: -0.5,
	}
}

// Input is everything the detector needs about one bot.
type Input struct {
	Bot *domain.Bot

	// GenerationSharpes are backfilled generation Sharpe ratios, oldest first.
	GenerationSharpes []float64

	// Regime is the market regime at detection time.
	Regime domain.Regime

	Now time.Time
}

// Report is the diagnosis of one bot.
type Report struct {
	BotID          string
	Codes          []domain.ReasonCode
	Severity       domain.Severity
	Regime         domain.Regime
	Class          archetype.StrategyClass
	MeetsMinTrades bool
	RequiredTrades int

	// Deltas are signed distances from each breached threshold, keyed by metric.
	Deltas map[string]float64
}

// IsFailure reports whether any signal was breached.
func (r Report) IsFailure() bool {
	return r.Severity != domain.SeverityNone
}

// Detector evaluates bots against a fixed set of thresholds.
// It holds no mutable state and is safe for concurrent use.
type Detector struct {
	t Thresholds
}

// NewDetector creates a detector.
func NewDetector(t Thresholds) *Detector {
	return &Detector{t: t}
}

// Detect diagnoses a bot. Performance thresholds apply only once the bot has
// the class minimum of trades; stagnation and degradation always apply.
func (d *Detector) Detect(in Input) Report {
	b := in.Bot
	m := b.Metrics
	req := archetype.ThresholdsFor(b.ArchetypeName, b.Timeframe)

	r := Report{
		BotID:          b.ID,
		Regime:         in.Regime,
		Class:          archetype.ClassForTimeframe(b.Timeframe),
		MeetsMinTrades: m.Trades >= req.MinTrades,
		RequiredTrades: req.MinTrades,
		Deltas:         make(map[string]float64),
	}

	if m.LastTradeAt > 0 {
		idle := in.Now.Sub(time.UnixMilli(m.LastTradeAt))
		if idle >= d.t.StagnationAfter {
			r.add(domain.ReasonStagnation, "idle_hours", idle.Hours())
		}
	}
	if decline, ok := d.sharpeDecline(in.GenerationSharpes); ok && decline >= d.t.DegradationPct {
		r.add(domain.ReasonDegradation, "sharpe_decline", -decline)
	}

	if r.MeetsMinTrades {
		performance := len(r.Codes)
		if m.Sharpe < d.t.MinSharpe {
			r.add(domain.ReasonLowSharpe, "sharpe", m.Sharpe-d.t.MinSharpe)
		}
		if m.MaxDrawdownPct > d.t.MaxDrawdownPct {
			r.add(domain.ReasonHighDrawdown, "max_drawdown_pct", d.t.MaxDrawdownPct-m.MaxDrawdownPct)
		}
		if m.WinRate < d.t.MinWinRate {
			r.add(domain.ReasonLowWinRate, "win_rate", m.WinRate-d.t.MinWinRate)
		}
		if m.NetPnlR <= d.t.MaxNetLossR {
			r.add(domain.ReasonExcessiveLosses, "net_pnl_r", m.NetPnlR-d.t.MaxNetLossR)
		}
		if m.AvgLossR > d.t.MaxAvgLossR {
			r.add(domain.ReasonRiskMiscalibration, "avg_loss_r", d.t.MaxAvgLossR-m.AvgLossR)
		}
		if m.WinRate >= d.t.TimingMinWinRate && m.ProfitFactor < 1 {
			r.add(domain.ReasonTimingInefficiency, "profit_factor", m.ProfitFactor-1)
		}
		if m.ExpectancyR <= d.t.StructuralExpectancy {
			r.add(domain.ReasonStructuralFlaw, "expectancy_r", m.ExpectancyR-d.t.StructuralExpectancy)
		}
		if bonus := scoring.RegimeBonus(b.ArchetypeName, in.Regime); bonus < 0 && len(r.Codes) > performance {
			r.add(domain.ReasonRegimeMismatch, "regime_bonus", float64(bonus))
		}
	}

	r.Severity = Grade(r.Codes)
	return r
}

// Grade maps reason codes to a severity.
func Grade(codes []domain.ReasonCode) domain.Severity {
	switch {
	case len(codes) >= 3 || domain.HasReason(codes, domain.ReasonHighDrawdown):
		return domain.SeverityCritical
	case len(codes) == 2:
		return domain.SeverityMajor
	case len(codes) == 1:
		return domain.SeverityMinor
	}
	return domain.SeverityNone
}

// sharpeDecline returns the fractional decline from the first to the last
// Sharpe in the trailing window.
func (d *Detector) sharpeDecline(sharpes []float64) (float64, bool) {
	if len(sharpes) < 2 {
		return 0, false
	}
	window := sharpes
	if d.t.DegradationWindow > 1 && len(window) > d.t.DegradationWindow {
		window = window[len(window)-d.t.DegradationWindow:]
	}
	first, last := window[0], window[len(window)-1]
	if first == 0 {
		return 0, false
	}
	return (first - last) / math.Abs(first), true
}

func (r *Report) add(code domain.ReasonCode, metric string, delta float64) {
	r.Codes = append(r.Codes, code)
	r.Deltas[metric] = delta
}

// GenerationSharpes extracts backfilled Sharpe ratios ordered by generation number.
func GenerationSharpes(gens []*domain.Generation) []float64 {
	sorted := make([]*domain.Generation, len(gens))
	copy(sorted, gens)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	var out []float64
	for _, g := range sorted {
		if g.Sharpe != nil {
			out = append(out, *g.Sharpe)
		}
	}
	return out
}

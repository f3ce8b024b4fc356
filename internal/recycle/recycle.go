// Package recycle decides what to do with a failing bot.
package recycle

import (
	"fmt"

	"strategy-lab/internal/archetype"
	"strategy-lab/internal/domain"
	"strategy-lab/internal/failure"
)

// Decision is the verdict on a bot.
type Decision string

const (
	DecisionContinue         Decision = "CONTINUE"
	DecisionTweak            Decision = "TWEAK"
	DecisionReplace          Decision = "REPLACE"
	DecisionKill             Decision = "KILL"
	DecisionInsufficientData Decision = "INSUFFICIENT_DATA"
)

// CatastrophicDrawdownR is the hard drawdown ceiling in risk units. A bot
// strictly beyond it is killed regardless of evaluation window.
const CatastrophicDrawdownR = 10.0

// MaxReworkAttempts is the number of tweaks after which a bot is killed.
const MaxReworkAttempts = 2

// Decide applies the ordered recycle rules. First match wins.
func Decide(codes []domain.ReasonCode, severity domain.Severity, reworkAttempts int, regime domain.Regime) (Decision, string) {
	has := func(c domain.ReasonCode) bool { return domain.HasReason(codes, c) }
	only := func(c domain.ReasonCode) bool { return len(codes) == 1 && codes[0] == c }

	switch {
	case reworkAttempts >= MaxReworkAttempts:
		return DecisionKill, fmt.Sprintf("rework attempts exhausted (%d)", reworkAttempts)
	case has(domain.ReasonStructuralFlaw):
		return DecisionKill, "structural flaw"
	case has(domain.ReasonRegimeMismatch) && regime.IsKnown():
		return DecisionReplace, fmt.Sprintf("regime mismatch under %s", regime)
	case severity == domain.SeverityCritical && len(codes) >= 3:
		return DecisionKill, fmt.Sprintf("critical failure with %d signals", len(codes))
	case has(domain.ReasonExcessiveLosses) && has(domain.ReasonLowSharpe):
		return DecisionKill, "excessive losses with low sharpe"
	case has(domain.ReasonRegimeMismatch) && len(codes) >= 3:
		return DecisionReplace, "regime mismatch with compounding signals"
	case has(domain.ReasonTimingInefficiency) || has(domain.ReasonRiskMiscalibration):
		return DecisionTweak, "execution parameters need tuning"
	case has(domain.ReasonLowWinRate) && !has(domain.ReasonLowSharpe):
		return DecisionTweak, "win rate alone"
	case has(domain.ReasonStagnation):
		return DecisionTweak, "stagnation"
	case only(domain.ReasonHighDrawdown):
		return DecisionTweak, "drawdown alone"
	case has(domain.ReasonDegradation) && has(domain.ReasonRegimeMismatch):
		return DecisionReplace, "degradation under regime mismatch"
	case len(codes) >= 2:
		return DecisionReplace, "multiple unrelated signals"
	}
	return DecisionTweak, "default"
}

// Evaluation is the full recycle verdict for a bot. Computed fresh, never stored.
type Evaluation struct {
	Decision       Decision
	Reasons        []string
	MeetsMinEval   bool
	CurrentTrades  int
	RequiredTrades int
	CurrentDays    int
	RequiredDays   int
	Metrics        domain.BotMetrics
	IsCatastrophic bool
	IterationCount int
	Codes          []domain.ReasonCode
	Severity       domain.Severity
}

// Evaluate produces the verdict for a bot and its failure report.
//
// The catastrophic drawdown check runs first and ignores the evaluation
// window. A bot below the minimum window gets INSUFFICIENT_DATA unless it
// carries class-independent signals (stagnation or degradation).
func Evaluate(b *domain.Bot, report failure.Report) Evaluation {
	req := archetype.ThresholdsFor(b.ArchetypeName, b.Timeframe)
	m := b.Metrics

	ev := Evaluation{
		MeetsMinEval:   m.Trades >= req.MinTrades && m.Days >= req.MinDays,
		CurrentTrades:  m.Trades,
		RequiredTrades: req.MinTrades,
		CurrentDays:    m.Days,
		RequiredDays:   req.MinDays,
		Metrics:        m,
		IterationCount: b.ReworkAttempts,
		Codes:          report.Codes,
		Severity:       report.Severity,
	}

	if m.MaxDrawdownR > CatastrophicDrawdownR {
		ev.Decision = DecisionKill
		ev.IsCatastrophic = true
		ev.Reasons = []string{fmt.Sprintf("catastrophic drawdown %.1fR exceeds %.0fR ceiling", m.MaxDrawdownR, CatastrophicDrawdownR)}
		return ev
	}

	if !ev.MeetsMinEval && !classIndependent(report.Codes) {
		ev.Decision = DecisionInsufficientData
		if m.Trades < req.MinTrades {
			ev.Reasons = append(ev.Reasons, fmt.Sprintf("trades %d of %d required", m.Trades, req.MinTrades))
		}
		if m.Days < req.MinDays {
			ev.Reasons = append(ev.Reasons, fmt.Sprintf("days %d of %d required", m.Days, req.MinDays))
		}
		return ev
	}

	if !report.IsFailure() {
		ev.Decision = DecisionContinue
		ev.Reasons = []string{"no failure signals"}
		return ev
	}

	decision, reason := Decide(report.Codes, report.Severity, b.ReworkAttempts, report.Regime)
	ev.Decision = decision
	ev.Reasons = []string{reason}
	return ev
}

func classIndependent(codes []domain.ReasonCode) bool {
	if len(codes) == 0 {
		return false
	}
	for _, c := range codes {
		if c != domain.ReasonStagnation && c != domain.ReasonDegradation {
			return false
		}
	}
	return true
}

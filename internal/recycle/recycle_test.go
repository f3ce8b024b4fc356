package recycle

import (
	"testing"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/failure"
)

type codes = []domain.ReasonCode

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		codes    codes
		severity domain.Severity
		rework   int
		regime   domain.Regime
		want     Decision
	}{
		{"rework exhausted beats everything", nil, domain.SeverityNone, 2, "", DecisionKill},
		{"rework exhausted with tweakable code", codes{domain.ReasonStagnation}, domain.SeverityMinor, 2, "", DecisionKill},
		{"structural flaw", codes{domain.ReasonStructuralFlaw}, domain.SeverityMinor, 0, "", DecisionKill},
		{"regime mismatch known regime", codes{domain.ReasonLowSharpe, domain.ReasonRegimeMismatch}, domain.SeverityMajor, 0, domain.RegimeRanging, DecisionReplace},
		{"critical three codes", codes{domain.ReasonLowSharpe, domain.ReasonLowWinRate, domain.ReasonStagnation}, domain.SeverityCritical, 0, "", DecisionKill},
		{"losses with low sharpe", codes{domain.ReasonExcessiveLosses, domain.ReasonLowSharpe}, domain.SeverityMajor, 0, "", DecisionKill},
		{"timing", codes{domain.ReasonTimingInefficiency}, domain.SeverityMinor, 1, "", DecisionTweak},
		{"risk miscalibration pair", codes{domain.ReasonRiskMiscalibration, domain.ReasonLowSharpe}, domain.SeverityMajor, 0, "", DecisionTweak},
		{"win rate alone", codes{domain.ReasonLowWinRate}, domain.SeverityMinor, 0, "", DecisionTweak},
		{"win rate with sharpe", codes{domain.ReasonLowWinRate, domain.ReasonLowSharpe}, domain.SeverityMajor, 0, "", DecisionReplace},
		{"stagnation", codes{domain.ReasonStagnation}, domain.SeverityMinor, 0, "", DecisionTweak},
		{"drawdown alone", codes{domain.ReasonHighDrawdown}, domain.SeverityCritical, 0, "", DecisionTweak},
		{"degradation with mismatch unknown regime", codes{domain.ReasonDegradation, domain.ReasonRegimeMismatch}, domain.SeverityMajor, 0, domain.RegimeUnknown, DecisionReplace},
		{"two unrelated", codes{domain.ReasonHighDrawdown, domain.ReasonLowSharpe}, domain.SeverityCritical, 0, "", DecisionReplace},
		{"single low sharpe", codes{domain.ReasonLowSharpe}, domain.SeverityMinor, 0, "", DecisionTweak},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := Decide(tt.codes, tt.severity, tt.rework, tt.regime)
			if got != tt.want {
				t.Errorf("Decide() = %s (%s), want %s", got, reason, tt.want)
			}
			if reason == "" {
				t.Error("empty reason")
			}
		})
	}
}

func scalpingBot(m domain.BotMetrics) *domain.Bot {
	return &domain.Bot{ID: "bot-1", ArchetypeName: "momentum", Timeframe: "1m", Metrics: m}
}

func TestEvaluate_InsufficientData(t *testing.T) {
	b := scalpingBot(domain.BotMetrics{Trades: 45, Days: 20, Sharpe: -0.5})

	ev := Evaluate(b, failure.Report{Severity: domain.SeverityNone})

	if ev.Decision != DecisionInsufficientData {
		t.Fatalf("decision = %s, want INSUFFICIENT_DATA", ev.Decision)
	}
	if ev.MeetsMinEval {
		t.Error("MeetsMinEval = true")
	}
	if ev.RequiredTrades != 75 || ev.CurrentTrades != 45 {
		t.Errorf("trades %d/%d, want 45/75", ev.CurrentTrades, ev.RequiredTrades)
	}
}

func TestEvaluate_CatastrophicBypassesMinEval(t *testing.T) {
	b := scalpingBot(domain.BotMetrics{Trades: 0, MaxDrawdownR: 12})

	ev := Evaluate(b, failure.Report{})

	if ev.Decision != DecisionKill || !ev.IsCatastrophic {
		t.Errorf("decision = %s catastrophic=%v, want KILL true", ev.Decision, ev.IsCatastrophic)
	}
}

func TestEvaluate_CeilingIsStrict(t *testing.T) {
	b := scalpingBot(domain.BotMetrics{Trades: 0, MaxDrawdownR: CatastrophicDrawdownR})

	ev := Evaluate(b, failure.Report{})

	if ev.IsCatastrophic {
		t.Error("drawdown at the ceiling treated as catastrophic")
	}
}

func TestEvaluate_StagnationActsBelowMinEval(t *testing.T) {
	b := scalpingBot(domain.BotMetrics{Trades: 5, Days: 3})
	report := failure.Report{Codes: codes{domain.ReasonStagnation}, Severity: domain.SeverityMinor}

	ev := Evaluate(b, report)

	if ev.Decision != DecisionTweak {
		t.Errorf("decision = %s, want TWEAK", ev.Decision)
	}
}

func TestEvaluate_ContinueAndDecide(t *testing.T) {
	m := domain.BotMetrics{Trades: 100, Days: 30, Sharpe: 1.2}

	if ev := Evaluate(scalpingBot(m), failure.Report{Severity: domain.SeverityNone}); ev.Decision != DecisionContinue {
		t.Errorf("healthy decision = %s, want CONTINUE", ev.Decision)
	}

	b := scalpingBot(m)
	b.ReworkAttempts = 2
	ev := Evaluate(b, failure.Report{Codes: codes{domain.ReasonLowSharpe}, Severity: domain.SeverityMinor})
	if ev.Decision != DecisionKill || ev.IterationCount != 2 {
		t.Errorf("decision = %s iterations = %d, want KILL 2", ev.Decision, ev.IterationCount)
	}
}

package domain

// ReasonCode identifies a failure signal on a bot.
type ReasonCode string

const (
	ReasonLowSharpe          ReasonCode = "LOW_SHARPE"
	ReasonHighDrawdown       ReasonCode = "HIGH_DRAWDOWN"
	ReasonLowWinRate         ReasonCode = "LOW_WIN_RATE"
	ReasonExcessiveLosses    ReasonCode = "EXCESSIVE_LOSSES"
	ReasonStagnation         ReasonCode = "STAGNATION"
	ReasonDegradation        ReasonCode = "DEGRADATION"
	ReasonRegimeMismatch     ReasonCode = "REGIME_MISMATCH"
	ReasonTimingInefficiency ReasonCode = "TIMING_INEFFICIENCY"
	ReasonRiskMiscalibration ReasonCode = "RISK_MISCALIBRATION"
	ReasonStructuralFlaw     ReasonCode = "STRUCTURAL_FLAW"
)

// Severity grades how badly a bot is failing.
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityMinor    Severity = "MINOR"
	SeverityMajor    Severity = "MAJOR"
	SeverityCritical Severity = "CRITICAL"
)

// HasReason reports whether code is present in codes.
func HasReason(codes []ReasonCode, code ReasonCode) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

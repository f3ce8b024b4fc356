package domain

// LoopState is the state of a failure feedback loop.
type LoopState string

const (
	LoopIdle                   LoopState = "IDLE"
	LoopFailureDetected        LoopState = "FAILURE_DETECTED"
	LoopResearchingReplacement LoopState = "RESEARCHING_REPLACEMENT"
	LoopResearchingRepair      LoopState = "RESEARCHING_REPAIR"
	LoopCandidateFound         LoopState = "CANDIDATE_FOUND"
	LoopCandidateTesting       LoopState = "CANDIDATE_TESTING"
	LoopResolved               LoopState = "RESOLVED"
	LoopAbandoned              LoopState = "ABANDONED"
)

// IsTerminal reports whether the loop is closed.
func (s LoopState) IsTerminal() bool {
	return s == LoopResolved || s == LoopAbandoned
}

// IsResearching reports whether a replacement or repair is being searched for.
func (s LoopState) IsResearching() bool {
	return s == LoopResearchingReplacement || s == LoopResearchingRepair
}

// FeedbackLoop tracks one failure-to-resolution arc for a bot.
// Corresponds to feedback_loops table in PostgreSQL.
type FeedbackLoop struct {
	TrackingID         string // PRIMARY KEY, "FL-" + base58
	SourceLabBotID     string // failing bot
	State              LoopState
	FailureReasonCodes []ReasonCode
	Severity           Severity
	Regime             Regime // regime at detection
	CandidateIDs       []string
	BestCandidateID    *string
	ResolutionCode     *string
	ReplacementBotID   *string
	Note               *string
	ResearchAttempts   int
	CreatedAt          int64 // unix ms
	UpdatedAt          int64 // unix ms
}

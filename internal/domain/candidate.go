package domain

// StrategyCandidate represents a proposed trading strategy produced by a research cycle.
// Corresponds to strategy_candidates table in PostgreSQL.
type StrategyCandidate struct {
	ID            string // PRIMARY KEY, uuid
	StrategyName  string // free text from the generator
	ArchetypeName string // canonical archetype, never empty once validated
	Hypothesis    string
	Rules         Rules
	Timeframe     string // "5m", "1h", "1d", ...
	Symbol        string // instrument, e.g. "BTC/USD"

	// Scoring
	ConfidenceScore int                 // 0-100, from the external scorer
	Confidence      ConfidenceBreakdown // components behind ConfidenceScore
	AdjustedScore   int                 // 0-100, confidence + regime bonus, clamped
	RegimeBonus     int                 // signed
	NoveltyScore    int                 // 0-100
	Tier            Tier                // derived from AdjustedScore

	RulesHash         string // blake3 digest of normalized rules
	Disposition       Disposition
	DispositionReason string // reason code for the last disposition decision
	DispositionAt     int64  // unix ms of the last disposition decision; merges do not move it
	MergeCount        int    // times a duplicate was folded into this record

	Source         Source
	SourceLabBotID *string  // bot whose failure triggered generation (nullable)
	LineageChain   []string // ancestor bot ids, oldest first
	CreatedBotID   *string  // set once promoted (nullable)

	RiskParams *RiskParams // candidate-supplied risk overrides (nullable)

	CreatedAt int64 // unix ms
	UpdatedAt int64 // unix ms
}

// Rules holds the structured rule lists of a candidate.
type Rules struct {
	Entry        []string `json:"entry"`
	Exit         []string `json:"exit"`
	Risk         []string `json:"risk"`
	Filters      []string `json:"filters"`
	Invalidation []string `json:"invalidation"`
}

// ConfidenceBreakdown carries the components the external scorer used.
type ConfidenceBreakdown struct {
	ResearchConfidence  int `json:"research_confidence"`  // evidence quality, 0-25
	StructuralSoundness int `json:"structural_soundness"` // rule completeness, 0-25
}

// RiskParams are optional risk overrides proposed with a candidate.
type RiskParams struct {
	RiskPerTradePct *float64 `json:"risk_per_trade_pct,omitempty"`
	StopLossPct     *float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct   *float64 `json:"take_profit_pct,omitempty"`
	MaxDailyLossPct *float64 `json:"max_daily_loss_pct,omitempty"`
	MaxPositions    *int     `json:"max_positions,omitempty"`
}

// Disposition is the lifecycle status of a candidate.
type Disposition string

const (
	DispositionSentToLab     Disposition = "SENT_TO_LAB"
	DispositionQueued        Disposition = "QUEUED"
	DispositionPendingReview Disposition = "PENDING_REVIEW"
	DispositionRejected      Disposition = "REJECTED"
	DispositionMerged        Disposition = "MERGED"
	DispositionExpired       Disposition = "EXPIRED"
)

// IsTerminal reports whether no further transition is allowed.
func (d Disposition) IsTerminal() bool {
	return d == DispositionMerged || d == DispositionRejected || d == DispositionExpired
}

// String returns the string representation of Disposition.
func (d Disposition) String() string {
	return string(d)
}

// Tier buckets candidates by adjusted score for the operator promotion policy.
type Tier string

const (
	TierA   Tier = "A"
	TierB   Tier = "B"
	TierC   Tier = "C"
	TierD   Tier = "D"
	TierAny Tier = "ANY"
)

// TierForScore maps an adjusted score to its tier.
func TierForScore(score int) Tier {
	switch {
	case score >= 85:
		return TierA
	case score >= 70:
		return TierB
	case score >= 55:
		return TierC
	default:
		return TierD
	}
}

// Meets reports whether t satisfies the minimum tier min.
func (t Tier) Meets(min Tier) bool {
	if min == TierAny || min == "" {
		return true
	}
	return tierRank(t) >= tierRank(min)
}

func tierRank(t Tier) int {
	switch t {
	case TierA:
		return 3
	case TierB:
		return 2
	case TierC:
		return 1
	default:
		return 0
	}
}

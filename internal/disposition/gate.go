// Package disposition decides what happens to each new, non-duplicate
// candidate: promotion to the lab, the queue, human review or rejection.
package disposition

import "strategy-lab/internal/domain"

// Reason codes attached to every decision.
const (
	ReasonNoArchetype        = "NO_ARCHETYPE"
	ReasonStructuralGate     = "STRUCTURAL_GATE"
	ReasonExperimentalReview = "EXPERIMENTAL_REVIEW"
	ReasonExperimentalQueue  = "EXPERIMENTAL_QUEUED"
	ReasonAutoPromoted       = "AUTO_PROMOTED"
	ReasonAwaitingApproval   = "AWAITING_APPROVAL"
	ReasonTierBelowMinimum   = "TIER_BELOW_MINIMUM"
	ReasonBudgetExhausted    = "QC_BUDGET_EXHAUSTED"
	ReasonBelowThreshold     = "BELOW_PROMOTE_THRESHOLD"
	ReasonLowScore           = "LOW_SCORE"
	ReasonDuplicateRules     = "DUPLICATE_RULES"
	ReasonDuplicateName      = "DUPLICATE_ACTIVE_NAME"
	ReasonPromotionFailed    = "BOT_CREATION_FAILED"
	ReasonUnsupportedSymbol  = "UNSUPPORTED_SYMBOL"
	ReasonUnresolvableRisk   = "UNRESOLVABLE_RISK"
	ReasonExpired            = "EXPIRED"
)

// Gate constants.
const (
	QueueFloor = 40

	minStructuralSoundness      = 10
	experimentalMaxResearchConf = 8
	experimentalMinStructure    = 15
)

// Input is everything the gate looks at for one candidate.
type Input struct {
	Archetype           string // resolved archetype, empty if resolution failed
	ResearchConfidence  int
	StructuralSoundness int
	AdjustedScore       int
	Tier                domain.Tier
}

// Policy is the operator side of the decision.
type Policy struct {
	RequireManualApproval bool
	PromoteThreshold      int
	MinTier               domain.Tier
	BudgetAvailable       bool
}

// Decision is the gate outcome.
type Decision struct {
	Disposition domain.Disposition
	Reason      string
}

// Decide evaluates the gate. The archetype check runs before anything else
// so an unclassifiable candidate is rejected regardless of score.
func Decide(in Input, p Policy) Decision {
	if in.Archetype == "" {
		return Decision{domain.DispositionRejected, ReasonNoArchetype}
	}

	if in.StructuralSoundness < minStructuralSoundness {
		return Decision{domain.DispositionRejected, ReasonStructuralGate}
	}

	// Low evidence but high structure needs human judgment
	if in.ResearchConfidence < experimentalMaxResearchConf && in.StructuralSoundness > experimentalMinStructure {
		if p.RequireManualApproval {
			return Decision{domain.DispositionPendingReview, ReasonExperimentalReview}
		}
		return Decision{domain.DispositionQueued, ReasonExperimentalQueue}
	}

	if in.AdjustedScore >= p.PromoteThreshold {
		switch {
		case p.RequireManualApproval:
			return Decision{domain.DispositionPendingReview, ReasonAwaitingApproval}
		case !in.Tier.Meets(p.MinTier):
			return Decision{domain.DispositionQueued, ReasonTierBelowMinimum}
		case !p.BudgetAvailable:
			return Decision{domain.DispositionQueued, ReasonBudgetExhausted}
		}
		return Decision{domain.DispositionSentToLab, ReasonAutoPromoted}
	}

	if in.AdjustedScore >= QueueFloor {
		return Decision{domain.DispositionQueued, ReasonBelowThreshold}
	}

	return Decision{domain.DispositionRejected, ReasonLowScore}
}

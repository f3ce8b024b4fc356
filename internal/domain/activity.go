package domain

// ActivityKind classifies audit events.
type ActivityKind string

const (
	ActivityDisposition     ActivityKind = "DISPOSITION"
	ActivityPromotion       ActivityKind = "PROMOTION"
	ActivityStageChange     ActivityKind = "STAGE_CHANGE"
	ActivityFailureDetected ActivityKind = "FAILURE_DETECTED"
	ActivityRecycleDecision ActivityKind = "RECYCLE_DECISION"
	ActivityLoopTransition  ActivityKind = "LOOP_TRANSITION"
	ActivityCycle           ActivityKind = "CYCLE"
)

// ActivityEvent is one structured audit record.
// Corresponds to activity_events table in ClickHouse.
type ActivityEvent struct {
	ID         string
	TraceID    string
	Kind       ActivityKind
	EntityID   string // candidate, bot or loop id
	Message    string
	Attributes map[string]string
	CreatedAt  int64 // unix ms
}

package domain

// Source is the provenance tag of a strategy candidate.
type Source string

const (
	SourceResearchCycle Source = "RESEARCH_CYCLE"
	SourceRegimeTrigger Source = "REGIME_TRIGGER"
	SourceFeedbackLoop  Source = "FEEDBACK_LOOP"
	SourceManual        Source = "MANUAL"
)

// String returns the string representation of Source.
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is a valid value.
func (s Source) IsValid() bool {
	switch s {
	case SourceResearchCycle, SourceRegimeTrigger, SourceFeedbackLoop, SourceManual:
		return true
	}
	return false
}

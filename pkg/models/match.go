package models

// MatchMethod identifies which strategy produced a match
type MatchMethod string

const (
	MatchMethodExact      MatchMethod = "exact"
	MatchMethodFuzzy      MatchMethod = "fuzzy"
	MatchMethodSemantic   MatchMethod = "semantic"
	MatchMethodClustering MatchMethod = "clustering"
	MatchMethodHybrid     MatchMethod = "hybrid"
)

// IsValid reports whether the match method is a recognized value
func (m MatchMethod) IsValid() bool {
	switch m {
	case MatchMethodExact, MatchMethodFuzzy, MatchMethodSemantic, MatchMethodClustering, MatchMethodHybrid:
		return true
	}
	return false
}

// Priority orders methods for tie-breaking when two strategies report the
// same confidence for the same entity. Lower is better.
func (m MatchMethod) Priority() int {
	switch m {
	case MatchMethodExact:
		return 0
	case MatchMethodSemantic:
		return 1
	case MatchMethodFuzzy:
		return 2
	case MatchMethodClustering:
		return 3
	}
	return 4
}

// EntityMatch is one strategy's claim that a candidate refers to a persisted
// entity. Produced per strategy, consumed by the aggregator, never persisted.
type EntityMatch struct {
	CandidateID     string         `json:"candidate_id"`
	MatchedEntityID string         `json:"matched_entity_id"`
	ConfidenceScore float64        `json:"confidence_score"`
	Method          MatchMethod    `json:"method"`
	Details         map[string]any `json:"details,omitempty"`
}

// ResolutionAction says what the resolution engine decided to do
type ResolutionAction string

const (
	ResolutionActionMatched ResolutionAction = "matched"
	ResolutionActionCreated ResolutionAction = "created"
	ResolutionActionNoMatch ResolutionAction = "no_match"
	ResolutionActionError   ResolutionAction = "error"
)

// ResolutionOutcome is the single result type returned to callers. Expected
// conditions (matched, created, no match) never surface as hard failures.
type ResolutionOutcome struct {
	Action          ResolutionAction `json:"action"`
	Entity          *PersistedEntity `json:"entity,omitempty"`
	MatchConfidence float64          `json:"match_confidence,omitempty"`
	MatchMethod     MatchMethod      `json:"match_method,omitempty"`
	Alternatives    []EntityMatch    `json:"alternatives,omitempty"`
	Error           string           `json:"error,omitempty"`
}

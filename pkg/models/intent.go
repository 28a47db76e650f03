package models

// IntentType enumerates the classified intents the agent acts on.
type IntentType string

const (
	IntentReadAggregate       IntentType = "read_aggregate"
	IntentReadDetail          IntentType = "read_detail"
	IntentSearchFuzzy         IntentType = "search_fuzzy"
	IntentCreateRequest       IntentType = "create_request"
	IntentUpdateRequest       IntentType = "update_request"
	IntentStatusChangeRequest IntentType = "status_change_request"
	IntentOutOfScope          IntentType = "out_of_scope"
	IntentClarificationNeeded IntentType = "clarification_needed"
)

// Intent is the classifier's typed verdict with its confidence in [0,1].
type Intent struct {
	Type       IntentType `json:"type"`
	Confidence float64    `json:"confidence"`
}

// Mutating reports whether the intent implies a write.
func (t IntentType) Mutating() bool {
	switch t {
	case IntentCreateRequest, IntentUpdateRequest, IntentStatusChangeRequest:
		return true
	}
	return false
}

// Actionable reports whether the intent reaches the planner at all.
func (t IntentType) Actionable() bool {
	switch t {
	case IntentOutOfScope, IntentClarificationNeeded:
		return false
	}
	return true
}

// Provenance records whether a slot value was quoted verbatim from the user
// or inferred by the classifier.
type Provenance string

const (
	ProvenanceVerbatim Provenance = "verbatim"
	ProvenanceInferred Provenance = "inferred"
)

// EntityValue is the value(s) extracted for one slot.
type EntityValue struct {
	Values     []string   `json:"values"`
	Provenance Provenance `json:"provenance"`
}

// EntitySet maps slot names to extracted values.
type EntitySet map[string]EntityValue

// First returns the first value for a slot, or "" when the slot is absent.
func (e EntitySet) First(slot string) string {
	v, ok := e[slot]
	if !ok || len(v.Values) == 0 {
		return ""
	}
	return v.Values[0]
}

// Has reports whether the slot holds at least one value.
func (e EntitySet) Has(slot string) bool {
	return e.First(slot) != ""
}

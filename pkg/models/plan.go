package models

// LogicalDB names one of the independently connected stores. Statements
// never join across logical databases; results merge only in process.
type LogicalDB string

const (
	DBIdentity   LogicalDB = "identity"
	DBClinical   LogicalDB = "clinical"
	DBOperations LogicalDB = "operations"
)

// ResourceCategory buckets resources for the role matrix.
type ResourceCategory string

const (
	CategoryIdentity   ResourceCategory = "identity"
	CategoryClinical   ResourceCategory = "clinical"
	CategoryScheduling ResourceCategory = "scheduling"
	CategoryFinance    ResourceCategory = "finance"
)

// ResultShape describes what a template's execution produces.
type ResultShape string

const (
	ShapeRows     ResultShape = "rows"
	ShapeCount    ResultShape = "count"
	ShapeAffected ResultShape = "affected"
)

// QueryPlan is a validated, parameterized single-database statement drawn
// from the approved template catalog. Statement text is never synthesized;
// the classifier only selects a template and supplies parameter values.
type QueryPlan struct {
	TemplateID string         `json:"template_id"`
	TargetDB   LogicalDB      `json:"target_db"`
	Statement  string         `json:"statement"` // positional-parameter SQL, $1..$N
	Args       []any          `json:"-"`
	Params     map[string]any `json:"params"` // named values, for audit
	Shape      ResultShape    `json:"shape"`
	Mutating   bool           `json:"mutating"`
	Summary    string         `json:"-"` // formatter copy, e.g. "%d patients registered"
}

// PlanSet is the planner's output: one plan per logical database, executed
// independently and merged in memory on MergeKey. Single-database intents
// produce a set of one with an empty merge key.
type PlanSet struct {
	Plans    []QueryPlan `json:"plans"`
	MergeKey string      `json:"merge_key,omitempty"`
}

// Mutating reports whether any constituent plan writes.
func (s PlanSet) Mutating() bool {
	for _, p := range s.Plans {
		if p.Mutating {
			return true
		}
	}
	return false
}

// FuzzyResolutionRequest asks the Fuzzy Resolver to pin a name-like slot to
// a concrete record before the plan can be built.
type FuzzyResolutionRequest struct {
	Slot       string `json:"slot"`
	EntityKind string `json:"entity_kind"`
	Term       string `json:"term"`
}

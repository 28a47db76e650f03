package models

// RiskLevel grades a request for downstream escalation handling.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrder = map[RiskLevel]int{
	RiskSafe:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// MaxRisk returns the higher of two risk levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if riskOrder[b] > riskOrder[a] {
		return b
	}
	return a
}

// DecisionKind is the Permission Guard's verdict.
type DecisionKind string

const (
	DecisionAllow               DecisionKind = "allow"
	DecisionDeny                DecisionKind = "deny"
	DecisionRequireConfirmation DecisionKind = "require_confirmation"
	DecisionRequireHumanReview  DecisionKind = "require_human_review"
)

var decisionStrictness = map[DecisionKind]int{
	DecisionAllow:               0,
	DecisionRequireConfirmation: 1,
	DecisionRequireHumanReview:  2,
	DecisionDeny:                3,
}

// Stricter reports whether a is a stricter verdict than b.
// Deny beats escalation, escalation beats confirmation, confirmation beats allow.
func (a DecisionKind) Stricter(b DecisionKind) bool {
	return decisionStrictness[a] > decisionStrictness[b]
}

// Reason codes attached to permission decisions.
const (
	ReasonClinicalDataRestricted = "clinical_data_restricted"
	ReasonSensitiveKeyword       = "sensitive_keyword"
	ReasonRoleLacksRead          = "role_lacks_read"
	ReasonRoleLacksWrite         = "role_lacks_write"
	ReasonUnknownRole            = "unknown_role"
	ReasonOriginForbidsMutation  = "origin_forbids_mutation"
	ReasonMutationNeedsConfirm   = "mutation_needs_confirmation"
	ReasonClinicalEscalation     = "clinical_escalation"
	ReasonAllowed                = "allowed"
)

// PermissionDecision is the guard's combined verdict. It is computed before
// any query plan exists; a deny or escalation blocks plan construction.
type PermissionDecision struct {
	Kind       DecisionKind `json:"kind"`
	ReasonCode string       `json:"reason_code"`
	RuleID     string       `json:"rule_id,omitempty"`
	Risk       RiskLevel    `json:"risk"`
}

// Allows reports whether planning may proceed at all in this turn.
func (d PermissionDecision) Allows() bool {
	return d.Kind == DecisionAllow || d.Kind == DecisionRequireConfirmation
}

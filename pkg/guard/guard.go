package guard

import (
	"strings"

	"github.com/podoskin/agent-core/pkg/models"
	"github.com/podoskin/agent-core/pkg/origin"
)

// Input is everything a decision depends on. Evaluate never reads anything
// outside this struct.
type Input struct {
	Text     string
	Role     models.Role
	Flow     origin.FlowConfig
	Intent   models.Intent
	Category models.ResourceCategory
}

// Guard evaluates guardrail rules and the role matrix against a turn.
type Guard struct {
	rules *Rules
}

// New creates a guard over a loaded policy.
func New(rules *Rules) *Guard {
	return &Guard{rules: rules}
}

// Evaluate computes the permission decision for a turn. Keyword rules and the
// role matrix are evaluated independently; the stricter verdict wins and the
// risk tiers accumulate. The decision is computed before any plan exists.
func (g *Guard) Evaluate(in Input) models.PermissionDecision {
	if !models.KnownRole(in.Role) {
		return models.PermissionDecision{
			Kind:       models.DecisionDeny,
			ReasonCode: models.ReasonUnknownRole,
			Risk:       models.RiskHigh,
		}
	}

	decision := models.PermissionDecision{
		Kind:       models.DecisionAllow,
		ReasonCode: models.ReasonAllowed,
		Risk:       models.RiskSafe,
	}

	text := strings.ToLower(in.Text)
	for _, rule := range g.rules.Rules {
		if !rule.matches(text, in.Role) {
			continue
		}
		decision.Risk = models.MaxRisk(decision.Risk, rule.Risk)
		if rule.Action.Stricter(decision.Kind) {
			decision.Kind = rule.Action
			decision.ReasonCode = rule.Reason
			decision.RuleID = rule.ID
		}
	}

	mutating := in.Intent.Type.Mutating()

	if mutating && !in.Flow.AllowMutations {
		decision = stricten(decision, models.PermissionDecision{
			Kind:       models.DecisionDeny,
			ReasonCode: models.ReasonOriginForbidsMutation,
			RuleID:     "origin-mutation",
			Risk:       models.RiskMedium,
		})
	}
	if in.Category == models.CategoryClinical && !in.Flow.AllowClinicalReads {
		decision = stricten(decision, models.PermissionDecision{
			Kind:       models.DecisionDeny,
			ReasonCode: models.ReasonClinicalDataRestricted,
			RuleID:     "origin-clinical",
			Risk:       models.RiskMedium,
		})
	}

	if in.Category != "" && !g.rules.Matrix.allows(in.Role, in.Category, mutating) {
		reason := models.ReasonRoleLacksRead
		if mutating {
			reason = models.ReasonRoleLacksWrite
		}
		decision = stricten(decision, models.PermissionDecision{
			Kind:       models.DecisionDeny,
			ReasonCode: reason,
			RuleID:     "role-matrix",
			Risk:       models.RiskMedium,
		})
	}

	// Mutations that survive every check still need an explicit confirmation
	// turn before execution.
	if mutating {
		decision = stricten(decision, models.PermissionDecision{
			Kind:       models.DecisionRequireConfirmation,
			ReasonCode: models.ReasonMutationNeedsConfirm,
			RuleID:     "mutation-confirm",
			Risk:       models.RiskLow,
		})
	}

	return decision
}

// stricten merges a candidate verdict into the running decision: the stricter
// kind wins, risk tiers always accumulate.
func stricten(cur, candidate models.PermissionDecision) models.PermissionDecision {
	cur.Risk = models.MaxRisk(cur.Risk, candidate.Risk)
	if candidate.Kind.Stricter(cur.Kind) {
		cur.Kind = candidate.Kind
		cur.ReasonCode = candidate.ReasonCode
		cur.RuleID = candidate.RuleID
	}
	return cur
}

// matches reports whether the rule triggers for this text and role.
func (r Rule) matches(lowerText string, role models.Role) bool {
	for _, exempt := range r.ExemptRoles {
		if exempt == role {
			return false
		}
	}
	for _, kw := range r.Keywords {
		if strings.Contains(lowerText, kw) {
			return true
		}
	}
	return false
}

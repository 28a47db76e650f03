// Package guard computes permission decisions from declarative guardrail
// rules and a role by resource-category matrix. Evaluation is a pure function
// of its inputs; identical inputs always yield identical decisions.
package guard

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/podoskin/agent-core/pkg/models"
)

// Rule is one keyword guardrail: a pattern set mapped to a risk tier and a
// verdict, with an optional role whitelist that exempts trusted roles.
type Rule struct {
	ID          string              `yaml:"id"`
	Keywords    []string            `yaml:"keywords"`
	Risk        models.RiskLevel    `yaml:"risk"`
	Action      models.DecisionKind `yaml:"action"`
	Reason      string              `yaml:"reason"`
	ExemptRoles []models.Role       `yaml:"exempt_roles"`
}

// Matrix lists, per role, the resource categories it may read and write.
type Matrix struct {
	Read  map[models.Role][]models.ResourceCategory `yaml:"read"`
	Write map[models.Role][]models.ResourceCategory `yaml:"write"`
}

// Rules is the full guardrail policy, loaded once at startup.
type Rules struct {
	Rules  []Rule `yaml:"rules"`
	Matrix Matrix `yaml:"matrix"`
}

// LoadRules reads and validates the guardrail policy file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guardrails file: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse guardrails file: %w", err)
	}

	if err := rules.validate(); err != nil {
		return nil, fmt.Errorf("invalid guardrails file %s: %w", path, err)
	}
	return &rules, nil
}

func (r *Rules) validate() error {
	seen := make(map[string]bool, len(r.Rules))
	for i, rule := range r.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d has no id", i)
		}
		if seen[rule.ID] {
			return fmt.Errorf("duplicate rule id %q", rule.ID)
		}
		seen[rule.ID] = true
		if len(rule.Keywords) == 0 {
			return fmt.Errorf("rule %q has no keywords", rule.ID)
		}
		switch rule.Action {
		case models.DecisionDeny, models.DecisionRequireHumanReview, models.DecisionRequireConfirmation:
		default:
			return fmt.Errorf("rule %q has invalid action %q", rule.ID, rule.Action)
		}
		switch rule.Risk {
		case models.RiskLow, models.RiskMedium, models.RiskHigh, models.RiskCritical:
		default:
			return fmt.Errorf("rule %q has invalid risk %q", rule.ID, rule.Risk)
		}
		if rule.Reason == "" {
			return fmt.Errorf("rule %q has no reason code", rule.ID)
		}
	}

	if len(r.Matrix.Read) == 0 || len(r.Matrix.Write) == 0 {
		return fmt.Errorf("role matrix must define both read and write permissions")
	}
	for role := range r.Matrix.Read {
		if !models.KnownRole(role) {
			return fmt.Errorf("read matrix names unknown role %q", role)
		}
	}
	for role := range r.Matrix.Write {
		if !models.KnownRole(role) {
			return fmt.Errorf("write matrix names unknown role %q", role)
		}
	}
	return nil
}

// allows reports whether role may perform the operation on category.
func (m Matrix) allows(role models.Role, category models.ResourceCategory, write bool) bool {
	table := m.Read
	if write {
		table = m.Write
	}
	for _, c := range table[role] {
		if c == category {
			return true
		}
	}
	return false
}

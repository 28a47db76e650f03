package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podoskin/agent-core/pkg/models"
	"github.com/podoskin/agent-core/pkg/origin"
)

func testRules(t *testing.T) *Rules {
	t.Helper()
	rules, err := LoadRules("../../guardrails.yaml")
	require.NoError(t, err)
	return rules
}

func staffWebFlow() origin.FlowConfig {
	return origin.FlowConfig{
		Origin:             models.OriginStaffWeb,
		AllowMutations:     true,
		AllowClinicalReads: true,
		MaxListItems:       20,
	}
}

func patientFlow() origin.FlowConfig {
	return origin.FlowConfig{
		Origin:             models.OriginPatientMessaging,
		AllowMutations:     false,
		AllowClinicalReads: false,
		MaxListItems:       5,
	}
}

func TestEvaluateUnknownRoleDenies(t *testing.T) {
	g := New(testRules(t))

	d := g.Evaluate(Input{
		Text:   "cuántos pacientes hay",
		Role:   "Gerente",
		Flow:   staffWebFlow(),
		Intent: models.Intent{Type: models.IntentReadAggregate, Confidence: 0.9},
	})

	assert.Equal(t, models.DecisionDeny, d.Kind)
	assert.Equal(t, models.ReasonUnknownRole, d.ReasonCode)
	assert.Equal(t, models.RiskHigh, d.Risk)
}

func TestEvaluateReceptionClinicalRead(t *testing.T) {
	g := New(testRules(t))

	// Reception may read the clinical category; field-level redaction happens
	// at formatting, not here.
	d := g.Evaluate(Input{
		Text:     "dame la ficha de juan perez",
		Role:     models.RoleReception,
		Flow:     staffWebFlow(),
		Intent:   models.Intent{Type: models.IntentReadDetail, Confidence: 0.9},
		Category: models.CategoryClinical,
	})

	assert.Equal(t, models.DecisionAllow, d.Kind)
}

func TestEvaluateReceptionClinicalKeywordDenied(t *testing.T) {
	g := New(testRules(t))

	d := g.Evaluate(Input{
		Text:     "qué diagnóstico tiene juan perez",
		Role:     models.RoleReception,
		Flow:     staffWebFlow(),
		Intent:   models.Intent{Type: models.IntentReadDetail, Confidence: 0.9},
		Category: models.CategoryClinical,
	})

	assert.Equal(t, models.DecisionDeny, d.Kind)
	assert.Equal(t, models.ReasonClinicalDataRestricted, d.ReasonCode)
	assert.Equal(t, "clinical-terms", d.RuleID)
}

func TestEvaluateClinicalKeywordExemptForPodiatrist(t *testing.T) {
	g := New(testRules(t))

	d := g.Evaluate(Input{
		Text:     "qué diagnóstico tiene juan perez",
		Role:     models.RolePodiatrist,
		Flow:     staffWebFlow(),
		Intent:   models.Intent{Type: models.IntentReadDetail, Confidence: 0.9},
		Category: models.CategoryClinical,
	})

	assert.Equal(t, models.DecisionAllow, d.Kind)
}

func TestEvaluateSensitiveKeywordDeniesEveryone(t *testing.T) {
	g := New(testRules(t))

	d := g.Evaluate(Input{
		Text:     "dame la contraseña del sistema",
		Role:     models.RoleAdmin,
		Flow:     staffWebFlow(),
		Intent:   models.Intent{Type: models.IntentReadDetail, Confidence: 0.9},
		Category: models.CategoryIdentity,
	})

	assert.Equal(t, models.DecisionDeny, d.Kind)
	assert.Equal(t, models.ReasonSensitiveKeyword, d.ReasonCode)
	assert.Equal(t, models.RiskHigh, d.Risk)
}

func TestEvaluateOriginForbidsMutation(t *testing.T) {
	g := New(testRules(t))

	d := g.Evaluate(Input{
		Text:     "agenda una cita para mañana",
		Role:     models.RoleAdmin,
		Flow:     patientFlow(),
		Intent:   models.Intent{Type: models.IntentCreateRequest, Confidence: 0.9},
		Category: models.CategoryScheduling,
	})

	assert.Equal(t, models.DecisionDeny, d.Kind)
	assert.Equal(t, models.ReasonOriginForbidsMutation, d.ReasonCode)
}

func TestEvaluateOriginForbidsClinicalReads(t *testing.T) {
	g := New(testRules(t))

	d := g.Evaluate(Input{
		Text:     "dame la ficha de juan perez",
		Role:     models.RolePodiatrist,
		Flow:     patientFlow(),
		Intent:   models.Intent{Type: models.IntentReadDetail, Confidence: 0.9},
		Category: models.CategoryClinical,
	})

	assert.Equal(t, models.DecisionDeny, d.Kind)
	assert.Equal(t, models.ReasonClinicalDataRestricted, d.ReasonCode)
}

func TestEvaluateRoleMatrix(t *testing.T) {
	g := New(testRules(t))

	t.Run("reception cannot read finance", func(t *testing.T) {
		d := g.Evaluate(Input{
			Text:     "cuánto se cobró este mes",
			Role:     models.RoleReception,
			Flow:     staffWebFlow(),
			Intent:   models.Intent{Type: models.IntentReadAggregate, Confidence: 0.9},
			Category: models.CategoryFinance,
		})
		assert.Equal(t, models.DecisionDeny, d.Kind)
		assert.Equal(t, models.ReasonRoleLacksRead, d.ReasonCode)
	})

	t.Run("reception cannot write clinical", func(t *testing.T) {
		d := g.Evaluate(Input{
			Text:     "actualiza el teléfono de juan perez",
			Role:     models.RoleReception,
			Flow:     staffWebFlow(),
			Intent:   models.Intent{Type: models.IntentUpdateRequest, Confidence: 0.9},
			Category: models.CategoryClinical,
		})
		assert.Equal(t, models.DecisionDeny, d.Kind)
		assert.Equal(t, models.ReasonRoleLacksWrite, d.ReasonCode)
	})

	t.Run("reception can write scheduling", func(t *testing.T) {
		d := g.Evaluate(Input{
			Text:     "agenda una cita para mañana a las tres",
			Role:     models.RoleReception,
			Flow:     staffWebFlow(),
			Intent:   models.Intent{Type: models.IntentCreateRequest, Confidence: 0.9},
			Category: models.CategoryScheduling,
		})
		assert.Equal(t, models.DecisionRequireConfirmation, d.Kind)
		assert.Equal(t, models.ReasonMutationNeedsConfirm, d.ReasonCode)
	})
}

func TestEvaluateMutationRequiresConfirmation(t *testing.T) {
	g := New(testRules(t))

	d := g.Evaluate(Input{
		Text:     "cancela la cita de mañana",
		Role:     models.RoleAdmin,
		Flow:     staffWebFlow(),
		Intent:   models.Intent{Type: models.IntentStatusChangeRequest, Confidence: 0.9},
		Category: models.CategoryScheduling,
	})

	assert.Equal(t, models.DecisionRequireConfirmation, d.Kind)
}

func TestEvaluateEscalationKeyword(t *testing.T) {
	g := New(testRules(t))

	d := g.Evaluate(Input{
		Text:     "prescribir antibióticos al paciente",
		Role:     models.RolePodiatrist,
		Flow:     staffWebFlow(),
		Intent:   models.Intent{Type: models.IntentReadDetail, Confidence: 0.9},
		Category: models.CategoryClinical,
	})

	assert.Equal(t, models.DecisionRequireHumanReview, d.Kind)
	assert.Equal(t, models.ReasonClinicalEscalation, d.ReasonCode)
	assert.Equal(t, models.RiskHigh, d.Risk)
}

func TestEvaluateRiskAccumulates(t *testing.T) {
	g := New(testRules(t))

	// Sensitive keyword (high, deny) plus a mutating intent: deny wins the
	// kind, risk stays at the highest tier seen.
	d := g.Evaluate(Input{
		Text:     "cambia la contraseña del paciente",
		Role:     models.RoleAdmin,
		Flow:     staffWebFlow(),
		Intent:   models.Intent{Type: models.IntentUpdateRequest, Confidence: 0.9},
		Category: models.CategoryIdentity,
	})

	assert.Equal(t, models.DecisionDeny, d.Kind)
	assert.Equal(t, models.RiskHigh, d.Risk)
}

func TestDecisionIsPureFunctionOfInput(t *testing.T) {
	g := New(testRules(t))

	in := Input{
		Text:     "cuántos pacientes tenemos",
		Role:     models.RoleAdmin,
		Flow:     staffWebFlow(),
		Intent:   models.Intent{Type: models.IntentReadAggregate, Confidence: 0.95},
		Category: models.CategoryClinical,
	}

	first := g.Evaluate(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, g.Evaluate(in))
	}
}

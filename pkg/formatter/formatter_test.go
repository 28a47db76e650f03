package formatter

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podoskin/agent-core/pkg/executor"
	"github.com/podoskin/agent-core/pkg/models"
)

func TestResultCountUsesSummary(t *testing.T) {
	f := New()

	r := f.Result(&executor.Result{
		Shape:   models.ShapeCount,
		Count:   int64(42),
		Summary: "La clínica tiene %v pacientes registrados.",
	}, models.RoleAdmin, 20)

	assert.Equal(t, "La clínica tiene 42 pacientes registrados.", r.Message)
}

func TestResultAffectedZeroMeansNoChanges(t *testing.T) {
	f := New()

	r := f.Result(&executor.Result{
		Shape:    models.ShapeAffected,
		Affected: 0,
		Summary:  "Cita agendada.",
	}, models.RoleAdmin, 20)

	// The double-booking guard surfaces as zero rows affected; the reply
	// must not claim success.
	assert.NotEqual(t, "Cita agendada.", r.Message)
	assert.Contains(t, r.Message, "No se realizaron cambios")
}

func TestResultAffectedSuccess(t *testing.T) {
	f := New()

	r := f.Result(&executor.Result{
		Shape:    models.ShapeAffected,
		Affected: 1,
		Summary:  "Cita cancelada.",
	}, models.RoleAdmin, 20)

	assert.Equal(t, "Cita cancelada.", r.Message)
}

func TestResultRedactsClinicalFieldsForReception(t *testing.T) {
	f := New()
	rows := []map[string]any{{
		"nombre_completo":          "Juan Perez",
		"telefono":                 "555-0101",
		"antecedentes_patologicos": "diabetes",
		"alergias":                 "penicilina",
	}}

	r := f.Result(&executor.Result{Shape: models.ShapeRows, Rows: rows}, models.RoleReception, 20)

	structured := r.Structured.(map[string]any)
	out := structured["rows"].([]map[string]any)
	require.Len(t, out, 1)
	assert.NotContains(t, out[0], "antecedentes_patologicos")
	assert.NotContains(t, out[0], "alergias")
	assert.Contains(t, out[0], "telefono")

	// The source rows are untouched.
	assert.Contains(t, rows[0], "antecedentes_patologicos")
}

func TestResultKeepsClinicalFieldsForPodiatrist(t *testing.T) {
	f := New()
	rows := []map[string]any{{
		"nombre_completo": "Juan Perez",
		"alergias":        "penicilina",
	}}

	r := f.Result(&executor.Result{Shape: models.ShapeRows, Rows: rows}, models.RolePodiatrist, 20)

	structured := r.Structured.(map[string]any)
	out := structured["rows"].([]map[string]any)
	assert.Contains(t, out[0], "alergias")
}

func TestResultTruncatesLongLists(t *testing.T) {
	f := New()
	rows := make([]map[string]any, 8)
	for i := range rows {
		rows[i] = map[string]any{"nombre_completo": "Paciente"}
	}

	r := f.Result(&executor.Result{Shape: models.ShapeRows, Rows: rows}, models.RoleAdmin, 5)

	assert.Contains(t, r.Message, "… y 3 más.")
	structured := r.Structured.(map[string]any)
	assert.Len(t, structured["rows"], 5)
	assert.Equal(t, 8, structured["total"])
}

func TestResultEmptyRows(t *testing.T) {
	f := New()

	r := f.Result(&executor.Result{Shape: models.ShapeRows}, models.RoleAdmin, 20)

	assert.Contains(t, r.Message, "No se encontraron registros")
}

func TestRefusalMessages(t *testing.T) {
	f := New()

	tests := []struct {
		reason   string
		fragment string
	}{
		{models.ReasonClinicalDataRestricted, "profesional autorizado"},
		{models.ReasonSensitiveKeyword, "información sensible"},
		{models.ReasonRoleLacksWrite, "Solo puedes consultar"},
		{models.ReasonOriginForbidsMutation, "Este canal no permite"},
		{models.ReasonClinicalEscalation, "revisión humana"},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			r := f.Refusal(models.PermissionDecision{Kind: models.DecisionDeny, ReasonCode: tt.reason})
			assert.Contains(t, r.Message, tt.fragment)
			// Rule ids and internals stay out of user copy.
			assert.NotContains(t, r.Message, "rule")
		})
	}
}

func TestConfirmationPrompt(t *testing.T) {
	f := New()
	action := &models.PendingAction{
		TemplateID: "create_appointment",
		Intent:     models.IntentCreateRequest,
		ExpiresAt:  time.Now().Add(10 * time.Minute),
	}

	r := f.Confirmation(action, "crear la cita solicitada")

	assert.Contains(t, r.Message, "crear la cita solicitada")
	assert.Contains(t, strings.ToLower(r.Message), "confirma")
}

func TestDisambiguationListsCandidates(t *testing.T) {
	f := New()
	choices := &models.PendingChoices{
		Term: "jon perez",
		Candidates: []models.Candidate{
			{ID: "p2", Display: "Jon Perez Garcia"},
			{ID: "p1", Display: "Juan Perez"},
		},
	}

	r := f.Disambiguation(choices)

	assert.Contains(t, r.Message, "1.")
	assert.Contains(t, r.Message, "Jon Perez Garcia")
	assert.Contains(t, r.Message, "2.")
	assert.Contains(t, r.Message, "Juan Perez")
	// Internal ids never reach the reply.
	assert.NotContains(t, r.Message, "p1")
}

func TestFixedCopy(t *testing.T) {
	f := New()

	assert.NotEmpty(t, f.Greeting().Message)
	assert.NotEmpty(t, f.OutOfScope().Message)
	assert.NotEmpty(t, f.Clarification().Message)
	assert.NotEmpty(t, f.TransientError().Message)
	assert.NotEmpty(t, f.IntegrityError().Message)
	assert.NotEmpty(t, f.RateLimited().Message)
	assert.NotEmpty(t, f.NothingToConfirm().Message)
	assert.NotEmpty(t, f.Cancelled().Message)

	// Storage and model errors never leak through fixed copy.
	assert.NotContains(t, f.TransientError().Message, "SQL")
	assert.NotContains(t, f.IntegrityError().Message, "constraint")
}

func TestValidationFailureNamesField(t *testing.T) {
	f := New()
	r := f.ValidationFailure("day")
	assert.Contains(t, r.Message, "day")
}

func TestNoMatchesNamesTerm(t *testing.T) {
	f := New()
	r := f.NoMatches("juan perez")
	assert.Contains(t, r.Message, "juan perez")
}

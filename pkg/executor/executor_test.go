package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/podoskin/agent-core/pkg/apperrors"
	"github.com/podoskin/agent-core/pkg/audit"
	"github.com/podoskin/agent-core/pkg/database"
	"github.com/podoskin/agent-core/pkg/models"
)

// fakeQuerier plays one logical database in tests.
type fakeQuerier struct {
	rows     []map[string]any
	affected int64
	err      error
	failures int // fail this many calls before succeeding

	queryCalls int
	execCalls  int
}

func (f *fakeQuerier) QueryRows(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	f.queryCalls++
	if f.failures > 0 {
		f.failures--
		return nil, apperrors.Transient(errors.New("connection reset"))
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *fakeQuerier) ExecStatement(ctx context.Context, sql string, args ...any) (int64, error) {
	f.execCalls++
	if f.err != nil {
		return 0, f.err
	}
	return f.affected, nil
}

func testCoordinator(pools database.Pools, sink audit.Sink) *Coordinator {
	return New(pools, time.Second, sink, zap.NewNop())
}

func countPlan() models.QueryPlan {
	return models.QueryPlan{
		TemplateID: "count_patients",
		TargetDB:   models.DBClinical,
		Statement:  "SELECT COUNT(*) AS count FROM pacientes WHERE clinica_id = $1",
		Args:       []any{"c1"},
		Shape:      models.ShapeCount,
		Summary:    "La clínica tiene %v pacientes registrados.",
	}
}

func TestExecuteCountPlan(t *testing.T) {
	clinical := &fakeQuerier{rows: []map[string]any{{"count": int64(42)}}}
	pools := database.Pools{models.DBClinical: clinical}
	c := testCoordinator(pools, audit.NewCollectingSink())

	set := &models.PlanSet{Plans: []models.QueryPlan{countPlan()}}
	res, err := c.Execute(context.Background(), set, "trace-1", false)
	require.NoError(t, err)

	assert.Equal(t, models.ShapeCount, res.Shape)
	assert.Equal(t, int64(42), res.Count)
	assert.Equal(t, "La clínica tiene %v pacientes registrados.", res.Summary)
}

func TestExecuteMutatingRequiresConfirmation(t *testing.T) {
	ops := &fakeQuerier{affected: 1}
	pools := database.Pools{models.DBOperations: ops}
	c := testCoordinator(pools, audit.NewCollectingSink())

	set := &models.PlanSet{Plans: []models.QueryPlan{{
		TemplateID: "create_appointment",
		TargetDB:   models.DBOperations,
		Statement:  "INSERT INTO citas ...",
		Shape:      models.ShapeAffected,
		Mutating:   true,
	}}}

	_, err := c.Execute(context.Background(), set, "trace-1", false)
	assert.ErrorIs(t, err, apperrors.ErrConfirmationRequired)
	assert.Zero(t, ops.execCalls)

	res, err := c.Execute(context.Background(), set, "trace-1", true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)
	assert.Equal(t, 1, ops.execCalls)
}

func TestExecuteRetriesTransientReadFailures(t *testing.T) {
	clinical := &fakeQuerier{
		rows:     []map[string]any{{"count": int64(7)}},
		failures: 2,
	}
	pools := database.Pools{models.DBClinical: clinical}
	sink := audit.NewCollectingSink()
	c := testCoordinator(pools, sink)

	set := &models.PlanSet{Plans: []models.QueryPlan{countPlan()}}
	res, err := c.Execute(context.Background(), set, "trace-1", false)
	require.NoError(t, err)

	assert.Equal(t, int64(7), res.Count)
	assert.Equal(t, 3, clinical.queryCalls)
}

func TestExecuteIntegrityFailureDoesNotRetry(t *testing.T) {
	clinical := &fakeQuerier{err: apperrors.Integrity(errors.New("undefined column"))}
	pools := database.Pools{models.DBClinical: clinical}
	sink := audit.NewCollectingSink()
	c := testCoordinator(pools, sink)

	set := &models.PlanSet{Plans: []models.QueryPlan{countPlan()}}
	_, err := c.Execute(context.Background(), set, "trace-1", false)
	require.Error(t, err)
	assert.Equal(t, 1, clinical.queryCalls)

	events := sink.ByType(audit.EventPlanExecution)
	require.Len(t, events, 1)
	details := events[0].Details.(audit.PlanDetails)
	assert.Equal(t, "integrity", details.Outcome)
}

func TestExecuteFailsWholeSetOnPartialFailure(t *testing.T) {
	ops := &fakeQuerier{rows: []map[string]any{{"patient_id": "p1", "inicio": "10:00"}}}
	clinical := &fakeQuerier{err: apperrors.Integrity(errors.New("boom"))}
	pools := database.Pools{
		models.DBOperations: ops,
		models.DBClinical:   clinical,
	}
	c := testCoordinator(pools, audit.NewCollectingSink())

	set := &models.PlanSet{
		MergeKey: "patient_id",
		Plans: []models.QueryPlan{
			{TemplateID: "list_appointments_day", TargetDB: models.DBOperations, Shape: models.ShapeRows},
			{TemplateID: "patient_contacts", TargetDB: models.DBClinical, Shape: models.ShapeRows},
		},
	}

	// A partial cross-database result is never presented as complete.
	_, err := c.Execute(context.Background(), set, "trace-1", false)
	require.Error(t, err)
}

func TestExecuteMergesOnDeclaredKey(t *testing.T) {
	ops := &fakeQuerier{rows: []map[string]any{
		{"patient_id": "p1", "inicio": "10:00"},
		{"patient_id": "p2", "inicio": "11:00"},
		{"patient_id": "p9", "inicio": "12:00"},
	}}
	clinical := &fakeQuerier{rows: []map[string]any{
		{"patient_id": "p1", "nombre_completo": "Juan Perez", "telefono": "555-0101"},
		{"patient_id": "p2", "nombre_completo": "Ana Lopez", "telefono": "555-0102"},
	}}
	pools := database.Pools{
		models.DBOperations: ops,
		models.DBClinical:   clinical,
	}
	c := testCoordinator(pools, audit.NewCollectingSink())

	set := &models.PlanSet{
		MergeKey: "patient_id",
		Plans: []models.QueryPlan{
			{TemplateID: "list_appointments_day", TargetDB: models.DBOperations, Shape: models.ShapeRows, Summary: "Citas del día."},
			{TemplateID: "patient_contacts", TargetDB: models.DBClinical, Shape: models.ShapeRows},
		},
	}

	res, err := c.Execute(context.Background(), set, "trace-1", false)
	require.NoError(t, err)

	require.Len(t, res.Rows, 3)
	assert.Equal(t, "Juan Perez", res.Rows[0]["nombre_completo"])
	assert.Equal(t, "Ana Lopez", res.Rows[1]["nombre_completo"])
	// Leading rows without a match pass through unenriched.
	assert.NotContains(t, res.Rows[2], "nombre_completo")
	// Leading columns are never overwritten by the enriching side.
	assert.Equal(t, "10:00", res.Rows[0]["inicio"])
}

func TestExecuteEmptySet(t *testing.T) {
	c := testCoordinator(database.Pools{}, audit.NewCollectingSink())
	_, err := c.Execute(context.Background(), &models.PlanSet{}, "trace-1", false)
	assert.Error(t, err)
}

func TestExecuteUnknownDatabase(t *testing.T) {
	c := testCoordinator(database.Pools{}, audit.NewCollectingSink())
	set := &models.PlanSet{Plans: []models.QueryPlan{countPlan()}}
	_, err := c.Execute(context.Background(), set, "trace-1", false)
	assert.Error(t, err)
}

package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractParameters(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected []string
	}{
		{
			name:     "no parameters",
			sql:      "SELECT COUNT(*) FROM pacientes",
			expected: nil,
		},
		{
			name:     "single parameter",
			sql:      "SELECT * FROM pacientes WHERE clinica_id = {{clinic_id}}",
			expected: []string{"clinic_id"},
		},
		{
			name:     "repeated parameter counted once",
			sql:      "SELECT * FROM citas WHERE clinica_id = {{clinic_id}} AND id = {{clinic_id}}",
			expected: []string{"clinic_id"},
		},
		{
			name:     "multiple parameters in order",
			sql:      "SELECT * FROM citas WHERE clinica_id = {{clinic_id}} AND inicio::date = {{day}}",
			expected: []string{"clinic_id", "day"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractParameters(tt.sql))
		})
	}
}

func TestSubstituteParameters(t *testing.T) {
	defs := []Parameter{
		{Name: "clinic_id", Type: TypeUUID, Required: true},
		{Name: "day", Type: TypeDate, Required: true},
	}

	sql := "SELECT * FROM citas WHERE clinica_id = {{clinic_id}} AND inicio::date = {{day}}"
	stmt, args := SubstituteParameters(sql, defs, map[string]any{
		"clinic_id": "abc",
		"day":       "2026-08-26",
	})

	assert.Equal(t, "SELECT * FROM citas WHERE clinica_id = $1 AND inicio::date = $2", stmt)
	assert.Equal(t, []any{"abc", "2026-08-26"}, args)
}

func TestSubstituteParametersReusesPosition(t *testing.T) {
	defs := []Parameter{
		{Name: "clinic_id", Type: TypeUUID, Required: true},
		{Name: "patient_id", Type: TypeUUID, Required: true},
	}

	sql := "INSERT INTO citas SELECT {{clinic_id}}, {{patient_id}} WHERE NOT EXISTS " +
		"(SELECT 1 FROM citas WHERE clinica_id = {{clinic_id}} AND paciente_id = {{patient_id}})"
	stmt, args := SubstituteParameters(sql, defs, map[string]any{
		"clinic_id":  "c1",
		"patient_id": "p1",
	})

	assert.Equal(t, "INSERT INTO citas SELECT $1, $2 WHERE NOT EXISTS "+
		"(SELECT 1 FROM citas WHERE clinica_id = $1 AND paciente_id = $2)", stmt)
	assert.Len(t, args, 2)
}

func TestSubstituteParametersAppliesDefault(t *testing.T) {
	defs := []Parameter{
		{Name: "limit", Type: TypeInteger, Required: false, Default: 10},
	}

	stmt, args := SubstituteParameters("SELECT 1 LIMIT {{limit}}", defs, map[string]any{})

	assert.Equal(t, "SELECT 1 LIMIT $1", stmt)
	assert.Equal(t, []any{10}, args)
}

func TestValidateParameterDefinitions(t *testing.T) {
	defs := []Parameter{{Name: "clinic_id", Type: TypeUUID, Required: true}}

	err := ValidateParameterDefinitions("SELECT 1 WHERE a = {{clinic_id}}", defs)
	require.NoError(t, err)

	err = ValidateParameterDefinitions("SELECT 1 WHERE a = {{clinic_id}} AND b = {{other}}", defs)
	require.Error(t, err)
}

func TestFindParametersInStringLiterals(t *testing.T) {
	hits := FindParametersInStringLiterals("SELECT * FROM t WHERE name = '{{term}}'")
	assert.NotEmpty(t, hits)

	hits = FindParametersInStringLiterals("SELECT * FROM t WHERE name = {{term}}")
	assert.Empty(t, hits)
}

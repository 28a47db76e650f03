package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/podoskin/agent-core/pkg/apperrors"
	"github.com/podoskin/agent-core/pkg/audit"
	"github.com/podoskin/agent-core/pkg/config"
	"github.com/podoskin/agent-core/pkg/llm"
	"github.com/podoskin/agent-core/pkg/models"
)

var testResources = []string{"patients", "appointments", "payments", "agenda"}

func testLLMConfig() *config.LLMConfig {
	return &config.LLMConfig{
		Provider:       "anthropic",
		Model:          "test-model",
		TimeoutSeconds: 5,
		MaxAttempts:    3,
		Temperature:    0,
	}
}

func testInput(text string) Input {
	return Input{
		Text:    text,
		Role:    models.RoleAdmin,
		TraceID: "trace-1",
		Now:     time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC),
	}
}

const validOutput = `{
	"intent": "read_aggregate",
	"confidence": 0.92,
	"resource": "patients",
	"entities": {},
	"reasoning": "count query"
}`

func TestClassifyValidOutput(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, system, user string, temp float64) (string, error) {
		return validOutput, nil
	}
	c := New(mock, testLLMConfig(), testResources, audit.NewCollectingSink(), zap.NewNop())

	result, err := c.Classify(context.Background(), testInput("cuántos pacientes tenemos"))
	require.NoError(t, err)

	assert.Equal(t, models.IntentReadAggregate, result.Intent.Type)
	assert.InDelta(t, 0.92, result.Intent.Confidence, 0.001)
	assert.Equal(t, "patients", result.Entities.First("resource"))
}

func TestClassifyEntityValuesToleratesNumbers(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, system, user string, temp float64) (string, error) {
		return `{
			"intent": "search_fuzzy",
			"confidence": 0.85,
			"resource": "patients",
			"entities": {
				"term": {"values": ["garcia"], "provenance": "verbatim"},
				"limit": {"values": [5], "provenance": "inferred"}
			}
		}`, nil
	}
	c := New(mock, testLLMConfig(), testResources, audit.NewCollectingSink(), zap.NewNop())

	result, err := c.Classify(context.Background(), testInput("busca pacientes garcia"))
	require.NoError(t, err)

	assert.Equal(t, "garcia", result.Entities.First("term"))
	assert.Equal(t, "5", result.Entities.First("limit"))
	assert.Equal(t, models.ProvenanceVerbatim, result.Entities["term"].Provenance)
}

func TestClassifyRetriesTransientFailures(t *testing.T) {
	sink := audit.NewCollectingSink()
	mock := llm.NewMockClient()
	calls := 0
	mock.CompleteFunc = func(ctx context.Context, system, user string, temp float64) (string, error) {
		calls++
		if calls < 3 {
			return "", llm.NewError(llm.ErrorTypeEndpoint, "server error", true, nil)
		}
		return validOutput, nil
	}
	c := New(mock, testLLMConfig(), testResources, sink, zap.NewNop())

	result, err := c.Classify(context.Background(), testInput("cuántos pacientes tenemos"))
	require.NoError(t, err)
	assert.Equal(t, models.IntentReadAggregate, result.Intent.Type)

	// Every attempt, including the failed ones, is recorded.
	attempts := sink.ByType(audit.EventLLMAttempt)
	require.Len(t, attempts, 3)
}

func TestClassifyExhaustedRetriesSurfaceTransient(t *testing.T) {
	sink := audit.NewCollectingSink()
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, system, user string, temp float64) (string, error) {
		return "", llm.NewError(llm.ErrorTypeEndpoint, "server error", true, nil)
	}
	c := New(mock, testLLMConfig(), testResources, sink, zap.NewNop())

	_, err := c.Classify(context.Background(), testInput("cuántos pacientes tenemos"))
	require.Error(t, err)

	var classified *apperrors.Classified
	require.ErrorAs(t, err, &classified)
	assert.True(t, classified.Retryable)

	// MaxAttempts bounds the calls: 3 attempts, no more.
	assert.Equal(t, 3, mock.CompleteCalls)
	assert.Len(t, sink.ByType(audit.EventLLMAttempt), 3)
}

func TestClassifyFatalErrorDoesNotRetry(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, system, user string, temp float64) (string, error) {
		return "", llm.NewError(llm.ErrorTypeAuth, "authentication failed", false, nil)
	}
	c := New(mock, testLLMConfig(), testResources, audit.NewCollectingSink(), zap.NewNop())

	_, err := c.Classify(context.Background(), testInput("cuántos pacientes tenemos"))
	require.Error(t, err)
	assert.Equal(t, 1, mock.CompleteCalls)
}

func TestClassifyMalformedOutputDegrades(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, system, user string, temp float64) (string, error) {
		return "no soy JSON", nil
	}
	c := New(mock, testLLMConfig(), testResources, audit.NewCollectingSink(), zap.NewNop())

	result, err := c.Classify(context.Background(), testInput("cuántos pacientes tenemos"))
	require.NoError(t, err)

	// One parse retry, then the degraded verdict.
	assert.Equal(t, 2, mock.CompleteCalls)
	assert.Equal(t, models.IntentClarificationNeeded, result.Intent.Type)
	assert.Zero(t, result.Intent.Confidence)
}

func TestClassifyRejectsUnknownIntent(t *testing.T) {
	mock := llm.NewMockClient()
	outputs := []string{
		`{"intent": "delete_everything", "confidence": 0.9, "entities": {}}`,
		validOutput,
	}
	call := 0
	mock.CompleteFunc = func(ctx context.Context, system, user string, temp float64) (string, error) {
		out := outputs[call]
		call++
		return out, nil
	}
	c := New(mock, testLLMConfig(), testResources, audit.NewCollectingSink(), zap.NewNop())

	// The invalid intent burns the parse retry; the second call succeeds.
	result, err := c.Classify(context.Background(), testInput("cuántos pacientes tenemos"))
	require.NoError(t, err)
	assert.Equal(t, models.IntentReadAggregate, result.Intent.Type)
}

func TestClassifyConfidenceOutOfRangeRejected(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, system, user string, temp float64) (string, error) {
		return `{"intent": "read_detail", "confidence": 1.7, "entities": {}}`, nil
	}
	c := New(mock, testLLMConfig(), testResources, audit.NewCollectingSink(), zap.NewNop())

	result, err := c.Classify(context.Background(), testInput("dame la ficha de juan"))
	require.NoError(t, err)
	assert.Equal(t, models.IntentClarificationNeeded, result.Intent.Type)
}

func TestQuickGreetingSkipsLLM(t *testing.T) {
	mock := llm.NewMockClient()
	c := New(mock, testLLMConfig(), testResources, audit.NewCollectingSink(), zap.NewNop())

	result, err := c.Classify(context.Background(), testInput("qué es el clima"))
	require.NoError(t, err)
	assert.Equal(t, models.IntentOutOfScope, result.Intent.Type)
	assert.Zero(t, mock.CompleteCalls)
}

func TestIsGreeting(t *testing.T) {
	assert.True(t, IsGreeting("hola"))
	assert.True(t, IsGreeting("Buenos días"))
	assert.False(t, IsGreeting("hola, necesito la ficha completa de juan perez con antecedentes"))
	assert.False(t, IsGreeting("cuántos pacientes hay"))
}

func TestPolicyBoundaries(t *testing.T) {
	p := Policy{ClarifyBelow: 0.4, FuzzyShortcutAt: 0.7}

	// Both boundaries are inclusive on the proceed side.
	assert.True(t, p.ForcesClarification(0.39))
	assert.False(t, p.ForcesClarification(0.4))
	assert.False(t, p.AllowsFuzzyAuto(0.69))
	assert.True(t, p.AllowsFuzzyAuto(0.7))
	assert.True(t, p.AllowsFuzzyAuto(0.9))
}

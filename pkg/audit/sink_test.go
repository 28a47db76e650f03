package audit

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapSinkSeverityMapping(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))

	traceID := uuid.NewString()
	sink.Record(Event{
		EventType: EventSQLInjectionAttempt,
		TraceID:   traceID,
		Severity:  "critical",
		Details: InjectionDetails{
			ParamName:   "term",
			ParamValue:  "x' OR '1'='1",
			Fingerprint: "s&1c",
			TemplateID:  "search_patients",
		},
	})
	sink.Record(Event{
		EventType: EventPermissionDecision,
		TraceID:   traceID,
		Severity:  "warning",
		Details:   DecisionDetails{Decision: "deny", ReasonCode: "origin_forbids_mutation"},
	})
	sink.Record(Event{
		EventType: EventTurnCompleted,
		TraceID:   traceID,
		Severity:  "info",
	})

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[2].Level)

	for _, e := range entries {
		assert.Equal(t, "Audit event", e.Message)
	}
}

func TestZapSinkEmitsParseableJSON(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Record(Event{
		EventType: EventPlanExecution,
		TraceID:   uuid.NewString(),
		Severity:  "info",
		Details:   PlanDetails{TemplateID: "count_patients", TargetDB: "clinical", Outcome: "ok"},
	})

	entries := logs.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	raw, ok := fields["event_json"].(string)
	require.True(t, ok)

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, EventPlanExecution, decoded.EventType)
	assert.False(t, decoded.Timestamp.IsZero(), "sink fills the timestamp when absent")
}

func TestCollectingSink(t *testing.T) {
	sink := NewCollectingSink()

	sink.Record(Event{EventType: EventLLMAttempt, Severity: "info"})
	sink.Record(Event{EventType: EventLLMAttempt, Severity: "info"})
	sink.Record(Event{EventType: EventTurnCompleted, Severity: "info"})

	assert.Len(t, sink.Events(), 3)
	assert.Len(t, sink.ByType(EventLLMAttempt), 2)
	assert.Len(t, sink.ByType(EventPermissionDecision), 0)

	// Events() returns a copy; mutating it must not affect the sink.
	events := sink.Events()
	events[0].EventType = EventSQLInjectionAttempt
	assert.Len(t, sink.ByType(EventSQLInjectionAttempt), 0)
}

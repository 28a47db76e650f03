// Package audit records agent decisions and security-relevant events in
// structured JSON format for SIEM consumption. Every event carries the trace
// id of the turn that produced it.
package audit

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType categorizes auditable events for filtering and alerting.
type EventType string

const (
	// EventPermissionDecision is logged for every permission guard decision,
	// allow or otherwise, with the winning rule id.
	EventPermissionDecision EventType = "permission_decision"
	// EventLLMAttempt is logged once per classifier call attempt, including
	// retries after transient failures.
	EventLLMAttempt EventType = "llm_attempt"
	// EventSQLInjectionAttempt is logged when libinjection flags a bound
	// parameter value.
	EventSQLInjectionAttempt EventType = "sql_injection_attempt"
	// EventParameterValidation is logged when a template parameter fails
	// type or length checks.
	EventParameterValidation EventType = "parameter_validation_failure"
	// EventPlanExecution is logged for each executed query plan.
	EventPlanExecution EventType = "plan_execution"
	// EventFuzzyResolution is logged for each similarity lookup on a
	// name-like slot: auto-selection, shortlist, or no matches.
	EventFuzzyResolution EventType = "fuzzy_resolution"
	// EventPersistenceFailure is logged when a turn checkpoint could not be
	// durably written and the reply went out flagged unconfirmed.
	EventPersistenceFailure EventType = "persistence_failure"
	// EventTurnCompleted is logged once per turn with its terminal outcome.
	EventTurnCompleted EventType = "turn_completed"
)

// Event is one auditable occurrence with the context a SIEM needs to
// correlate it back to a conversation turn.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	TraceID   string    `json:"trace_id"`
	ThreadID  uuid.UUID `json:"thread_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	Details   any       `json:"details"`
	Severity  string    `json:"severity"` // info, warning, critical
}

// DecisionDetails describes a permission guard outcome.
type DecisionDetails struct {
	Decision   string `json:"decision"`
	ReasonCode string `json:"reason_code"`
	RuleID     string `json:"rule_id,omitempty"`
	Risk       string `json:"risk"`
	Intent     string `json:"intent"`
	Role       string `json:"role"`
}

// AttemptDetails describes one classifier call attempt.
type AttemptDetails struct {
	Attempt int    `json:"attempt"`
	Model   string `json:"model"`
	Outcome string `json:"outcome"` // ok, parse_failure, transient, fatal
	Error   string `json:"error,omitempty"`
}

// InjectionDetails contains specifics of a flagged parameter value.
type InjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"`
	TemplateID  string `json:"template_id"`
}

// FuzzyDetails describes the outcome of one similarity resolution.
type FuzzyDetails struct {
	Slot       string `json:"slot"`
	EntityKind string `json:"entity_kind"`
	Term       string `json:"term"`
	Outcome    string `json:"outcome"` // auto_selected, shortlist, no_matches
	Candidates int    `json:"candidates"`
	SelectedID string `json:"selected_id,omitempty"`
}

// PlanDetails describes one executed query plan.
type PlanDetails struct {
	TemplateID string `json:"template_id"`
	TargetDB   string `json:"target_db"`
	Mutating   bool   `json:"mutating"`
	Outcome    string `json:"outcome"` // ok, transient, integrity
	DurationMS int64  `json:"duration_ms"`
}

// Sink receives audit events. Implementations must be safe for concurrent
// use by multiple turns.
type Sink interface {
	Record(event Event)
}

// ZapSink writes events to a dedicated logger namespace as structured JSON.
type ZapSink struct {
	logger *zap.Logger
}

var _ Sink = (*ZapSink)(nil)

// NewZapSink creates a sink with an "observability" namespace so SIEM
// pipelines can filter audit events from operational logs.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("observability")}
}

// Record serializes the event and logs it at a level matching its severity.
func (s *ZapSink) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Marshaling known types should never fail
	eventJSON, _ := json.Marshal(event)

	fields := []zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("event_type", string(event.EventType)),
		zap.String("trace_id", event.TraceID),
		zap.String("severity", event.Severity),
	}

	switch event.Severity {
	case "critical":
		s.logger.Error("Audit event", fields...)
	case "warning":
		s.logger.Warn("Audit event", fields...)
	default:
		s.logger.Info("Audit event", fields...)
	}
}

// CollectingSink retains events in memory for inspection in tests.
type CollectingSink struct {
	mu     sync.Mutex
	events []Event
}

var _ Sink = (*CollectingSink)(nil)

// NewCollectingSink creates an empty in-memory sink.
func NewCollectingSink() *CollectingSink {
	return &CollectingSink{}
}

// Record appends the event.
func (s *CollectingSink) Record(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.events = append(s.events, event)
}

// Events returns a copy of all recorded events.
func (s *CollectingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByType returns recorded events matching the given type.
func (s *CollectingSink) ByType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

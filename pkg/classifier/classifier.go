// Package classifier turns a raw message into a typed intent and entity set
// via one external LLM call. The model is an untrusted structured-output
// generator: its JSON is schema-checked, malformed output gets exactly one
// retry, and persistent failure degrades to clarification_needed.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/podoskin/agent-core/pkg/apperrors"
	"github.com/podoskin/agent-core/pkg/audit"
	"github.com/podoskin/agent-core/pkg/config"
	"github.com/podoskin/agent-core/pkg/jsonutil"
	"github.com/podoskin/agent-core/pkg/llm"
	"github.com/podoskin/agent-core/pkg/models"
	"github.com/podoskin/agent-core/pkg/retry"
)

// Result is the classifier's verdict for one turn.
type Result struct {
	Intent   models.Intent
	Entities models.EntitySet
}

// Policy applies the confidence thresholds. Both boundaries are inclusive on
// the proceed side: exactly 0.40 proceeds, exactly 0.70 allows the fuzzy
// auto-select shortcut.
type Policy struct {
	ClarifyBelow    float64
	FuzzyShortcutAt float64
}

// ForcesClarification reports whether the confidence is too low to act.
func (p Policy) ForcesClarification(confidence float64) bool {
	return confidence < p.ClarifyBelow
}

// AllowsFuzzyAuto reports whether fuzzy resolution may auto-select.
func (p Policy) AllowsFuzzyAuto(confidence float64) bool {
	return confidence >= p.FuzzyShortcutAt
}

// Input carries everything one classification depends on.
type Input struct {
	Text    string
	Role    models.Role
	TraceID string
	History []HistoryEntry
	Memory  []string
	Now     time.Time
}

// classifierOutput is the JSON schema the model must produce.
type classifierOutput struct {
	Intent     string                `json:"intent"`
	Confidence float64               `json:"confidence"`
	Resource   string                `json:"resource"`
	Entities   map[string]slotOutput `json:"entities"`
	Reasoning  string                `json:"reasoning"`
}

// slotOutput keeps values as raw JSON: models return numbers and booleans
// for slots like limit despite the schema asking for strings.
type slotOutput struct {
	Values     []json.RawMessage `json:"values"`
	Provenance string            `json:"provenance"`
}

// Classifier wraps the LLM client with retries, a circuit breaker and
// per-attempt audit recording.
type Classifier struct {
	client       llm.Client
	breaker      *llm.CircuitBreaker
	sink         audit.Sink
	systemPrompt string
	temperature  float64
	timeout      time.Duration
	retryCfg     *retry.Config
	logger       *zap.Logger
}

// New creates a classifier. resources is the catalog's resource list for the
// system prompt.
func New(client llm.Client, cfg *config.LLMConfig, resources []string, sink audit.Sink, logger *zap.Logger) *Classifier {
	retryCfg := retry.DefaultConfig()
	if cfg.MaxAttempts > 0 {
		retryCfg.MaxRetries = cfg.MaxAttempts - 1
	}

	return &Classifier{
		client:       client,
		breaker:      llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig()),
		sink:         sink,
		systemPrompt: SystemPrompt(resources),
		temperature:  cfg.Temperature,
		timeout:      cfg.Timeout(),
		retryCfg:     retryCfg,
		logger:       logger.Named("classifier"),
	}
}

// Classify runs the LLM call for one turn. Transient call failures retry up
// to the configured attempt bound, each attempt recorded in the audit sink;
// after the bound the error surfaces as a transient execution failure.
// Malformed output retries once, then degrades to clarification_needed with
// confidence 0.
func (c *Classifier) Classify(ctx context.Context, in Input) (*Result, error) {
	if quick := Quick(in.Text); quick != nil {
		c.logger.Debug("Quick classification", zap.String("intent", string(quick.Intent.Type)))
		return quick, nil
	}

	userPrompt := UserPrompt(in.Text, in.Role, in.Now, in.History, in.Memory)

	parseFailures := 0
	for {
		raw, err := c.complete(ctx, userPrompt, in.TraceID)
		if err != nil {
			return nil, err
		}

		out, perr := llm.ParseJSONResponse[classifierOutput](raw)
		if perr == nil {
			if result, verr := c.toResult(out); verr == nil {
				return result, nil
			} else {
				perr = verr
			}
		}

		parseFailures++
		c.logger.Warn("Classifier output unparseable",
			zap.String("trace_id", in.TraceID),
			zap.Int("parse_failures", parseFailures),
			zap.Error(perr))
		if parseFailures > 1 {
			// Degraded verdict, not an error: the turn continues as a
			// clarification request.
			return &Result{
				Intent:   models.Intent{Type: models.IntentClarificationNeeded, Confidence: 0},
				Entities: models.EntitySet{},
			}, nil
		}
	}
}

// complete performs one classifier call with bounded retry on transient LLM
// failures. Every attempt is recorded in the audit sink.
func (c *Classifier) complete(ctx context.Context, userPrompt, traceID string) (string, error) {
	attempt := 0
	var raw string

	err := retry.DoIfRetryable(ctx, c.retryCfg, func() error {
		attempt++

		if ok, berr := c.breaker.Allow(); !ok {
			c.record(traceID, attempt, "circuit_open", berr)
			return berr
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		text, err := c.client.Complete(callCtx, c.systemPrompt, userPrompt, c.temperature)
		if err != nil {
			c.breaker.RecordFailure()
			outcome := "fatal"
			if llm.IsRetryable(err) {
				outcome = "transient"
			}
			c.record(traceID, attempt, outcome, err)
			return err
		}

		c.breaker.RecordSuccess()
		c.record(traceID, attempt, "ok", nil)
		raw = text
		return nil
	})
	if err != nil {
		return "", apperrors.Transient(err)
	}
	return raw, nil
}

func (c *Classifier) record(traceID string, attempt int, outcome string, err error) {
	details := audit.AttemptDetails{
		Attempt: attempt,
		Model:   c.client.Model(),
		Outcome: outcome,
	}
	if err != nil {
		details.Error = err.Error()
	}
	severity := "info"
	if outcome != "ok" {
		severity = "warning"
	}
	c.sink.Record(audit.Event{
		EventType: audit.EventLLMAttempt,
		TraceID:   traceID,
		Details:   details,
		Severity:  severity,
	})
}

// toResult validates the model's output against the intent schema.
func (c *Classifier) toResult(out classifierOutput) (*Result, error) {
	intentType := models.IntentType(out.Intent)
	switch intentType {
	case models.IntentReadAggregate, models.IntentReadDetail, models.IntentSearchFuzzy,
		models.IntentCreateRequest, models.IntentUpdateRequest, models.IntentStatusChangeRequest,
		models.IntentOutOfScope, models.IntentClarificationNeeded:
	default:
		return nil, fmt.Errorf("%w: unknown intent %q", apperrors.ErrClassificationParse, out.Intent)
	}

	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", apperrors.ErrClassificationParse, out.Confidence)
	}

	entities := make(models.EntitySet, len(out.Entities)+1)
	for slot, v := range out.Entities {
		values := make([]string, 0, len(v.Values))
		for _, raw := range v.Values {
			if s := jsonutil.CoerceString(raw); s != "" {
				values = append(values, s)
			}
		}
		if len(values) == 0 {
			continue
		}
		prov := models.ProvenanceInferred
		if v.Provenance == string(models.ProvenanceVerbatim) {
			prov = models.ProvenanceVerbatim
		}
		entities[slot] = models.EntityValue{Values: values, Provenance: prov}
	}
	if out.Resource != "" {
		entities["resource"] = models.EntityValue{
			Values:     []string{out.Resource},
			Provenance: models.ProvenanceInferred,
		}
	}

	return &Result{
		Intent:   models.Intent{Type: intentType, Confidence: out.Confidence},
		Entities: entities,
	}, nil
}

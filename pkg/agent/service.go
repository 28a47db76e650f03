// Package agent orchestrates one turn through the full pipeline: limiter,
// thread resolution, routing, classification, permission guard, planning,
// fuzzy resolution, execution, formatting and checkpointing.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/podoskin/agent-core/pkg/apperrors"
	"github.com/podoskin/agent-core/pkg/audit"
	"github.com/podoskin/agent-core/pkg/classifier"
	"github.com/podoskin/agent-core/pkg/config"
	"github.com/podoskin/agent-core/pkg/executor"
	"github.com/podoskin/agent-core/pkg/formatter"
	"github.com/podoskin/agent-core/pkg/fuzzy"
	"github.com/podoskin/agent-core/pkg/guard"
	"github.com/podoskin/agent-core/pkg/memory"
	"github.com/podoskin/agent-core/pkg/models"
	"github.com/podoskin/agent-core/pkg/origin"
	"github.com/podoskin/agent-core/pkg/planner"
	"github.com/podoskin/agent-core/pkg/ratelimit"
	"github.com/podoskin/agent-core/pkg/state"
)

// recallLimit bounds how many memory snippets feed the classifier prompt.
const recallLimit = 3

// Service wires the pipeline components. All dependencies are constructed
// once and passed in; the service holds no hidden global state.
type Service struct {
	cfg         *config.AgentConfig
	router      *origin.Router
	classifier  *classifier.Classifier
	policy      classifier.Policy
	guard       *guard.Guard
	planner     *planner.Planner
	resolver    *fuzzy.Resolver
	coordinator *executor.Coordinator
	formatter   *formatter.Formatter
	store       state.Store
	locks       *state.Locks
	latch       *state.ResolveLatch
	limiter     *ratelimit.Limiter
	sink        audit.Sink
	mem         memory.Index
	logger      *zap.Logger

	now func() time.Time
}

// Deps collects the service's constructor dependencies.
type Deps struct {
	Config      *config.AgentConfig
	Router      *origin.Router
	Classifier  *classifier.Classifier
	Guard       *guard.Guard
	Planner     *planner.Planner
	Resolver    *fuzzy.Resolver
	Coordinator *executor.Coordinator
	Store       state.Store
	Limiter     *ratelimit.Limiter
	Sink        audit.Sink
	Memory      memory.Index
	Logger      *zap.Logger
}

// NewService creates the turn pipeline.
func NewService(d Deps) *Service {
	return &Service{
		cfg:         d.Config,
		router:      d.Router,
		classifier:  d.Classifier,
		policy:      classifier.Policy{ClarifyBelow: d.Config.ClarifyBelow, FuzzyShortcutAt: d.Config.FuzzyShortcutAt},
		guard:       d.Guard,
		planner:     d.Planner,
		resolver:    d.Resolver,
		coordinator: d.Coordinator,
		formatter:   formatter.New(),
		store:       d.Store,
		locks:       state.NewLocks(),
		latch:       state.NewResolveLatch(),
		limiter:     d.Limiter,
		sink:        d.Sink,
		mem:         d.Memory,
		logger:      d.Logger.Named("agent"),
		now:         time.Now,
	}
}

// turnOutcome carries everything the reply assembly and checkpoint need.
type turnOutcome struct {
	rendered       formatter.Rendered
	success        bool
	decision       models.PermissionDecision
	intent         models.Intent
	entities       models.EntitySet
	planIDs        []string
	resultSummary  string
	awaitingChoice bool
	humanReview    bool
	escalation     string
	// pendingUpdate, when set, replaces the thread's pending state as part of
	// the checkpoint. clearPending wipes it instead.
	pendingUpdate *models.Pending
	clearPending  bool
}

// HandleMessage runs one turn end to end. The reply is always returned;
// persistence failure marks it unconfirmed instead of dropping it.
func (s *Service) HandleMessage(ctx context.Context, in models.Inbound) models.Outbound {
	traceID := uuid.New()

	if !s.limiter.Allow(in.UserID, in.Origin) {
		rendered := s.formatter.RateLimited()
		s.recordTurnEvent(traceID, uuid.Nil, in, "rate_limited")
		return models.Outbound{
			Success:   false,
			Message:   rendered.Message,
			RiskLevel: models.RiskSafe,
			TraceID:   traceID.String(),
		}
	}

	thread, err := s.resolveThread(ctx, in)
	if err != nil {
		s.logger.Error("Thread resolution failed", zap.String("trace_id", traceID.String()), zap.Error(err))
		rendered := s.formatter.TransientError()
		return models.Outbound{
			Success:   false,
			Message:   rendered.Message,
			RiskLevel: models.RiskSafe,
			TraceID:   traceID.String(),
		}
	}

	// Turns within a thread are strictly serialized; the lock spans the
	// whole turn including the checkpoint write.
	lock := s.locks.For(thread.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent turn may have consumed pending
	// state between resolution and acquisition.
	if fresh, ferr := s.store.GetThread(ctx, thread.ID); ferr == nil {
		thread = fresh
	}

	received := s.now()
	flow := s.router.Resolve(in.Origin)

	outcome := s.runTurn(ctx, in, thread, flow, traceID)

	return s.finish(ctx, in, thread, traceID, received, outcome)
}

// runTurn executes the pipeline after thread resolution and locking.
func (s *Service) runTurn(ctx context.Context, in models.Inbound, thread *models.Thread, flow origin.FlowConfig, traceID uuid.UUID) turnOutcome {
	if thread.Pending != nil {
		if out, handled := s.handlePending(ctx, in, thread, flow, traceID); handled {
			return out
		}
	}

	if flow.GreetingEnabled && classifier.IsGreeting(in.Text) {
		return turnOutcome{
			rendered: s.formatter.Greeting(),
			success:  true,
			decision: allowDecision(),
			intent:   models.Intent{Type: models.IntentOutOfScope, Confidence: 1},
		}
	}

	result, err := s.classify(ctx, in, thread, traceID)
	if err != nil {
		return s.executionFailure(err)
	}

	return s.actOn(ctx, in, flow, traceID, result, nil)
}

// actOn takes a classification through guard, planning and execution.
// resolved carries fuzzy resolutions accumulated in this or earlier turns.
func (s *Service) actOn(ctx context.Context, in models.Inbound, flow origin.FlowConfig, traceID uuid.UUID, result *classifier.Result, resolved map[string]string) turnOutcome {
	intent := result.Intent
	entities := result.Entities

	switch {
	case intent.Type == models.IntentOutOfScope:
		return turnOutcome{
			rendered: s.formatter.OutOfScope(),
			success:  true,
			decision: allowDecision(),
			intent:   intent,
			entities: entities,
		}
	case intent.Type == models.IntentClarificationNeeded && intent.Confidence == 0:
		return turnOutcome{
			rendered: s.formatter.CouldNotUnderstand(),
			success:  false,
			decision: allowDecision(),
			intent:   intent,
			entities: entities,
		}
	case intent.Type == models.IntentClarificationNeeded || s.policy.ForcesClarification(intent.Confidence):
		return turnOutcome{
			rendered: s.formatter.Clarification(),
			success:  false,
			decision: allowDecision(),
			intent:   intent,
			entities: entities,
		}
	}

	// The guard runs on every actionable turn, even when the resource maps to
	// no catalog entry: keyword rules depend only on (text, role), and their
	// decision is always recorded. CategoryFor reports "" for uncataloged
	// resources, which skips the role matrix but nothing else.
	resource := entities.First("resource")
	category, known := s.planner.CategoryFor(intent.Type, resource)

	decision := s.guard.Evaluate(guard.Input{
		Text:     in.Text,
		Role:     in.Role,
		Flow:     flow,
		Intent:   intent,
		Category: category,
	})
	s.recordDecision(traceID, in, intent, decision)

	if !decision.Allows() {
		out := turnOutcome{
			rendered: s.formatter.Refusal(decision),
			success:  false,
			decision: decision,
			intent:   intent,
			entities: entities,
		}
		if decision.Kind == models.DecisionRequireHumanReview {
			out.humanReview = true
			out.escalation = decision.ReasonCode
		}
		return out
	}

	if !known {
		return turnOutcome{
			rendered: s.formatter.OutOfScope(),
			success:  false,
			decision: decision,
			intent:   intent,
			entities: entities,
		}
	}

	return s.plan(ctx, in, flow, traceID, intent, entities, decision, resolved, false)
}

// plan builds and runs the plan set, resolving fuzzy slots as needed.
// reextracted marks the single allowed re-extraction after a validation
// failure.
func (s *Service) plan(ctx context.Context, in models.Inbound, flow origin.FlowConfig, traceID uuid.UUID, intent models.Intent, entities models.EntitySet, decision models.PermissionDecision, resolved map[string]string, reextracted bool) turnOutcome {
	scope := planner.Scope{ClinicID: in.ClinicID, UserID: in.UserID}
	if resolved == nil {
		resolved = make(map[string]string)
	}

	for {
		outcome, err := s.planner.Plan(intent, entities, scope, resolved)
		if err != nil {
			return s.planFailure(ctx, in, flow, traceID, intent, decision, err, resolved, reextracted)
		}

		if len(outcome.Fuzzy) == 0 {
			return s.execute(ctx, in, flow, traceID, intent, entities, decision, outcome.Plans)
		}

		req := outcome.Fuzzy[0]
		allowAuto := s.policy.AllowsFuzzyAuto(intent.Confidence)
		resolution, rerr := s.resolver.Resolve(ctx, req, in.ClinicID, allowAuto)
		if rerr != nil {
			return s.executionFailure(rerr)
		}

		if resolution.Auto != nil {
			s.recordFuzzy(traceID, in, req, "auto_selected", 1, resolution.Auto.ID)
			resolved[req.Slot] = resolution.Auto.ID
			continue
		}

		if len(resolution.Shortlist) == 0 {
			s.recordFuzzy(traceID, in, req, "no_matches", 0, "")
			return turnOutcome{
				rendered: s.formatter.NoMatches(req.Term),
				success:  false,
				decision: decision,
				intent:   intent,
				entities: entities,
			}
		}

		s.recordFuzzy(traceID, in, req, "shortlist", len(resolution.Shortlist), "")
		choices := &models.PendingChoices{
			Slot:       req.Slot,
			EntityKind: req.EntityKind,
			Term:       req.Term,
			Candidates: resolution.Shortlist,
			Intent:     intent,
			Entities:   entities,
			Resolved:   resolved,
		}
		return turnOutcome{
			rendered:       s.formatter.Disambiguation(choices),
			success:        false,
			decision:       decision,
			intent:         intent,
			entities:       entities,
			awaitingChoice: true,
			// finish persists the pending state with the turn
			pendingUpdate: &models.Pending{Disambiguation: choices},
		}
	}
}

// execute runs a ready plan set, or parks a mutating one behind a
// confirmation prompt.
func (s *Service) execute(ctx context.Context, in models.Inbound, flow origin.FlowConfig, traceID uuid.UUID, intent models.Intent, entities models.EntitySet, decision models.PermissionDecision, plans *models.PlanSet) turnOutcome {
	planIDs := make([]string, 0, len(plans.Plans))
	for _, p := range plans.Plans {
		planIDs = append(planIDs, p.TemplateID)
	}

	if plans.Mutating() {
		lead := plans.Plans[0]
		now := s.now()
		action := &models.PendingAction{
			TemplateID:  lead.TemplateID,
			Intent:      intent.Type,
			Params:      lead.Params,
			Description: describeAction(intent.Type),
			Risk:        decision.Risk,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.cfg.ConfirmTTL()),
		}
		return turnOutcome{
			rendered:      s.formatter.Confirmation(action, action.Description),
			success:       true,
			decision:      decision,
			intent:        intent,
			entities:      entities,
			planIDs:       planIDs,
			pendingUpdate: &models.Pending{Confirmation: action},
		}
	}

	res, err := s.coordinator.Execute(ctx, plans, traceID.String(), false)
	if err != nil {
		return s.executionFailure(err)
	}

	rendered := s.formatter.Result(res, in.Role, flow.MaxListItems)
	return turnOutcome{
		rendered:      rendered,
		success:       true,
		decision:      decision,
		intent:        intent,
		entities:      entities,
		planIDs:       planIDs,
		resultSummary: rendered.Message,
	}
}

// planFailure maps planner errors to replies, honoring the single
// re-extraction retry for validation failures.
func (s *Service) planFailure(ctx context.Context, in models.Inbound, flow origin.FlowConfig, traceID uuid.UUID, intent models.Intent, decision models.PermissionDecision, err error, resolved map[string]string, reextracted bool) turnOutcome {
	var inj *planner.InjectionError
	if errors.As(err, &inj) {
		s.sink.Record(audit.Event{
			EventType: audit.EventSQLInjectionAttempt,
			TraceID:   traceID.String(),
			UserID:    in.UserID,
			Origin:    string(in.Origin),
			Details: audit.InjectionDetails{
				ParamName:   inj.Param,
				ParamValue:  inj.Value,
				Fingerprint: inj.Fingerprint,
				TemplateID:  inj.TemplateID,
			},
			Severity: "critical",
		})
		return turnOutcome{
			rendered: s.formatter.ValidationFailure(inj.Param),
			success:  false,
			decision: decision,
			intent:   intent,
		}
	}

	var ve *apperrors.ValidationError
	if errors.As(err, &ve) {
		s.sink.Record(audit.Event{
			EventType: audit.EventParameterValidation,
			TraceID:   traceID.String(),
			UserID:    in.UserID,
			Origin:    string(in.Origin),
			Details:   map[string]string{"field": ve.Field, "detail": ve.Detail},
			Severity:  "warning",
		})
		if !reextracted {
			// One fresh extraction pass, then give up and ask the user.
			result, cerr := s.classifyBare(ctx, in, traceID)
			if cerr == nil && result.Intent.Type == intent.Type {
				return s.plan(ctx, in, flow, traceID, result.Intent, result.Entities, decision, resolved, true)
			}
		}
		return turnOutcome{
			rendered: s.formatter.ValidationFailure(ve.Field),
			success:  false,
			decision: decision,
			intent:   intent,
		}
	}

	if errors.Is(err, apperrors.ErrUnknownIntentTemplate) {
		return turnOutcome{
			rendered: s.formatter.OutOfScope(),
			success:  false,
			decision: decision,
			intent:   intent,
		}
	}

	return s.executionFailure(err)
}

// executionFailure maps transient and integrity errors to their fixed copy.
func (s *Service) executionFailure(err error) turnOutcome {
	s.logger.Warn("Turn failed during execution", zap.Error(err))

	var classified *apperrors.Classified
	if errors.As(err, &classified) && !classified.Retryable {
		return turnOutcome{
			rendered: s.formatter.IntegrityError(),
			success:  false,
			decision: allowDecision(),
		}
	}
	return turnOutcome{
		rendered: s.formatter.TransientError(),
		success:  false,
		decision: allowDecision(),
	}
}

// classify runs the classifier with history and recalled memory.
func (s *Service) classify(ctx context.Context, in models.Inbound, thread *models.Thread, traceID uuid.UUID) (*classifier.Result, error) {
	var history []classifier.HistoryEntry
	turns, err := s.store.RecentTurns(ctx, thread.ID, s.cfg.HistoryWindowTurns)
	if err == nil {
		for _, t := range turns {
			history = append(history, classifier.HistoryEntry{UserText: t.Text, ResponseText: t.ResponseText})
		}
	}

	var snippets []string
	if recalled, rerr := s.mem.Recall(ctx, in.UserID, in.Origin, in.Text, recallLimit); rerr == nil {
		for _, sn := range recalled {
			snippets = append(snippets, sn.Text)
		}
	}

	return s.classifier.Classify(ctx, classifier.Input{
		Text:    in.Text,
		Role:    in.Role,
		TraceID: traceID.String(),
		History: history,
		Memory:  snippets,
		Now:     s.now(),
	})
}

// classifyBare reruns extraction without history, for the validation retry.
func (s *Service) classifyBare(ctx context.Context, in models.Inbound, traceID uuid.UUID) (*classifier.Result, error) {
	return s.classifier.Classify(ctx, classifier.Input{
		Text:    in.Text,
		Role:    in.Role,
		TraceID: traceID.String(),
		Now:     s.now(),
	})
}

func allowDecision() models.PermissionDecision {
	return models.PermissionDecision{
		Kind:       models.DecisionAllow,
		ReasonCode: models.ReasonAllowed,
		Risk:       models.RiskSafe,
	}
}

func describeAction(intent models.IntentType) string {
	switch intent {
	case models.IntentCreateRequest:
		return "crear el registro solicitado"
	case models.IntentUpdateRequest:
		return "actualizar el registro solicitado"
	case models.IntentStatusChangeRequest:
		return "cambiar el estado del registro solicitado"
	}
	return "realizar la acción solicitada"
}

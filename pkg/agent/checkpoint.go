package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/podoskin/agent-core/pkg/audit"
	"github.com/podoskin/agent-core/pkg/logging"
	"github.com/podoskin/agent-core/pkg/models"
)

// resolveThread finds or creates the thread for this message. An explicit
// thread id belonging to another user is ignored rather than hijacked.
func (s *Service) resolveThread(ctx context.Context, in models.Inbound) (*models.Thread, error) {
	if in.ThreadID != nil {
		thread, err := s.store.GetThread(ctx, *in.ThreadID)
		if err == nil && thread.UserID == in.UserID {
			return thread, nil
		}
		if err != nil {
			s.logger.Debug("Explicit thread id did not resolve",
				zap.String("thread_id", in.ThreadID.String()), zap.Error(err))
		}
	}

	// Find-or-create runs under a per-(user, origin) latch so concurrent
	// first messages converge on one thread instead of creating two.
	latch := s.latch.For(in.UserID, string(in.Origin))
	latch.Lock()
	defer latch.Unlock()

	thread, err := s.store.FindOpenThread(ctx, in.UserID, in.Origin)
	if err != nil {
		return nil, err
	}
	if thread != nil {
		return thread, nil
	}

	now := s.now()
	thread = &models.Thread{
		ID:             uuid.New(),
		Origin:         in.Origin,
		UserID:         in.UserID,
		Role:           in.Role,
		State:          models.ThreadOpen,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.store.CreateThread(ctx, thread); err != nil {
		return nil, err
	}
	return thread, nil
}

// finish persists the turn checkpoint and assembles the reply. The reply is
// returned even when persistence fails; Unconfirmed flags the gap.
func (s *Service) finish(ctx context.Context, in models.Inbound, thread *models.Thread, traceID uuid.UUID, received time.Time, out turnOutcome) models.Outbound {
	responded := s.now()

	reply := models.Outbound{
		Success:             out.success,
		Message:             out.rendered.Message,
		StructuredData:      out.rendered.Structured,
		RequiresHumanReview: out.humanReview,
		EscalationReason:    out.escalation,
		RiskLevel:           out.decision.Risk,
		TraceID:             traceID.String(),
		ThreadID:            thread.ID,
	}

	if out.pendingUpdate != nil || out.clearPending {
		if err := s.store.SetPending(ctx, thread.ID, out.pendingUpdate); err != nil {
			s.logger.Error("Failed to persist pending state", zap.Error(err))
			reply.Unconfirmed = true
			s.recordPersistenceFailure(traceID, thread.ID, in, "set_pending", err)
		}
	}

	turn := &models.Turn{
		ID:             uuid.New(),
		ThreadID:       thread.ID,
		TraceID:        traceID,
		Text:           in.Text,
		Intent:         out.intent,
		Entities:       out.entities,
		Decision:       out.decision,
		PlanIDs:        out.planIDs,
		ResultSummary:  out.resultSummary,
		ResponseText:   out.rendered.Message,
		AwaitingChoice: out.awaitingChoice,
		ReceivedAt:     received,
		RespondedAt:    responded,
	}
	if err := s.store.AppendTurn(ctx, turn); err != nil {
		s.logger.Error("Failed to append turn", zap.String("trace_id", traceID.String()), zap.Error(err))
		reply.Unconfirmed = true
		s.recordPersistenceFailure(traceID, thread.ID, in, "append_turn", err)
	}
	if err := s.store.Touch(ctx, thread.ID, responded); err != nil {
		s.logger.Warn("Failed to touch thread", zap.Error(err))
	}

	if out.success && out.resultSummary != "" {
		// Best effort; memory never blocks the reply.
		if err := s.mem.Remember(ctx, in.UserID, in.Origin, in.Text); err != nil {
			s.logger.Debug("Memory write failed", zap.Error(err))
		}
	}

	s.sink.Record(audit.Event{
		EventType: audit.EventTurnCompleted,
		TraceID:   traceID.String(),
		ThreadID:  thread.ID,
		UserID:    in.UserID,
		Origin:    string(in.Origin),
		Details: map[string]any{
			"intent":      out.intent.Type,
			"decision":    out.decision.Kind,
			"success":     out.success,
			"duration_ms": responded.Sub(received).Milliseconds(),
		},
		Severity: "info",
	})

	return reply
}

// recordDecision emits the mandatory per-turn permission decision event.
func (s *Service) recordDecision(traceID uuid.UUID, in models.Inbound, intent models.Intent, decision models.PermissionDecision) {
	severity := "info"
	if decision.Kind == models.DecisionDeny || decision.Kind == models.DecisionRequireHumanReview {
		severity = "warning"
	}
	s.sink.Record(audit.Event{
		EventType: audit.EventPermissionDecision,
		TraceID:   traceID.String(),
		UserID:    in.UserID,
		Origin:    string(in.Origin),
		Details: audit.DecisionDetails{
			Decision:   string(decision.Kind),
			ReasonCode: decision.ReasonCode,
			RuleID:     decision.RuleID,
			Risk:       string(decision.Risk),
			Intent:     string(intent.Type),
			Role:       string(in.Role),
		},
		Severity: severity,
	})
}

// recordFuzzy emits one event per similarity lookup so disambiguation
// behavior is reconstructible from the audit trail alone.
func (s *Service) recordFuzzy(traceID uuid.UUID, in models.Inbound, req models.FuzzyResolutionRequest, outcome string, candidates int, selectedID string) {
	s.sink.Record(audit.Event{
		EventType: audit.EventFuzzyResolution,
		TraceID:   traceID.String(),
		UserID:    in.UserID,
		Origin:    string(in.Origin),
		Details: audit.FuzzyDetails{
			Slot:       req.Slot,
			EntityKind: req.EntityKind,
			Term:       req.Term,
			Outcome:    outcome,
			Candidates: candidates,
			SelectedID: selectedID,
		},
		Severity: "info",
	})
}

// recordPersistenceFailure flags a checkpoint write that did not land; the
// reply already went out unconfirmed.
func (s *Service) recordPersistenceFailure(traceID, threadID uuid.UUID, in models.Inbound, stage string, err error) {
	s.sink.Record(audit.Event{
		EventType: audit.EventPersistenceFailure,
		TraceID:   traceID.String(),
		ThreadID:  threadID,
		UserID:    in.UserID,
		Origin:    string(in.Origin),
		Details:   map[string]string{"stage": stage, "error": logging.SanitizeError(err)},
		Severity:  "critical",
	})
}

// recordTurnEvent covers terminal outcomes that never reach finish, such as
// rate limiting before thread resolution.
func (s *Service) recordTurnEvent(traceID, threadID uuid.UUID, in models.Inbound, outcome string) {
	s.sink.Record(audit.Event{
		EventType: audit.EventTurnCompleted,
		TraceID:   traceID.String(),
		ThreadID:  threadID,
		UserID:    in.UserID,
		Origin:    string(in.Origin),
		Details:   map[string]any{"outcome": outcome},
		Severity:  "info",
	})
}

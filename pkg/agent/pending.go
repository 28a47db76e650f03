package agent

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/podoskin/agent-core/pkg/apperrors"
	"github.com/podoskin/agent-core/pkg/classifier"
	"github.com/podoskin/agent-core/pkg/models"
	"github.com/podoskin/agent-core/pkg/origin"
)

var (
	affirmatives = []string{"sí", "si", "yes", "confirmo", "confirmar", "ok", "dale", "claro"}
	negatives    = []string{"no", "cancelar", "cancela", "cancel", "mejor no"}
)

func matchesAny(text string, words []string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".!¡")
	for _, w := range words {
		if t == w {
			return true
		}
	}
	return false
}

// handlePending consumes the thread's pending state. It returns handled=false
// when the message neither confirms, declines, nor picks a candidate; the
// caller then processes it as a fresh request (pending is still cleared —
// changing the subject abandons the interrupted action).
func (s *Service) handlePending(ctx context.Context, in models.Inbound, thread *models.Thread, flow origin.FlowConfig, traceID uuid.UUID) (turnOutcome, bool) {
	pending := thread.Pending

	if action := pending.Confirmation; action != nil {
		if s.now().After(action.ExpiresAt) {
			thread.Pending = nil
			return turnOutcome{
				rendered:     s.formatter.NothingToConfirm(),
				success:      false,
				decision:     allowDecision(),
				clearPending: true,
			}, true
		}

		if matchesAny(in.Text, affirmatives) {
			return s.confirmPending(ctx, in, thread, flow, traceID, action), true
		}

		if matchesAny(in.Text, negatives) {
			thread.Pending = nil
			return turnOutcome{
				rendered:     s.formatter.Cancelled(),
				success:      true,
				decision:     allowDecision(),
				clearPending: true,
			}, true
		}

		// Anything else abandons the pending action.
		thread.Pending = nil
		if err := s.store.SetPending(ctx, thread.ID, nil); err != nil {
			s.logger.Warn("Failed to clear abandoned confirmation", zap.Error(err))
		}
		return turnOutcome{}, false
	}

	if choices := pending.Disambiguation; choices != nil {
		picked, ok := pickCandidate(in.Text, choices.Candidates)
		thread.Pending = nil
		if !ok {
			// Not a recognizable choice; treat as a new request.
			if err := s.store.SetPending(ctx, thread.ID, nil); err != nil {
				s.logger.Warn("Failed to clear stale disambiguation", zap.Error(err))
			}
			return turnOutcome{}, false
		}

		resolved := choices.Resolved
		if resolved == nil {
			resolved = make(map[string]string)
		}
		resolved[choices.Slot] = picked.ID

		out := s.actOn(ctx, in, flow, traceID, &classifier.Result{Intent: choices.Intent, Entities: choices.Entities}, resolved)
		if out.pendingUpdate == nil {
			out.clearPending = true
		}
		return out, true
	}

	return turnOutcome{}, false
}

// confirmPending clears the pending action first, then executes it. Clearing
// under the thread lock before execution means a racing duplicate "sí" finds
// nothing to confirm rather than double-executing.
func (s *Service) confirmPending(ctx context.Context, in models.Inbound, thread *models.Thread, flow origin.FlowConfig, traceID uuid.UUID, action *models.PendingAction) turnOutcome {
	thread.Pending = nil
	if err := s.store.SetPending(ctx, thread.ID, nil); err != nil {
		s.logger.Error("Failed to clear pending before execution", zap.Error(err))
		return s.executionFailure(apperrors.Transient(err))
	}

	plan, err := s.planner.BindStored(action.TemplateID, action.Params)
	if err != nil {
		s.logger.Error("Stored action no longer binds", zap.String("template_id", action.TemplateID), zap.Error(err))
		return s.executionFailure(err)
	}

	set := &models.PlanSet{Plans: []models.QueryPlan{*plan}}
	res, err := s.coordinator.Execute(ctx, set, traceID.String(), true)
	if err != nil {
		return s.executionFailure(err)
	}

	rendered := s.formatter.Result(res, in.Role, flow.MaxListItems)
	return turnOutcome{
		rendered:      rendered,
		success:       true,
		decision:      models.PermissionDecision{Kind: models.DecisionAllow, ReasonCode: models.ReasonAllowed, Risk: action.Risk},
		intent:        models.Intent{Type: action.Intent, Confidence: 1},
		planIDs:       []string{plan.TemplateID},
		resultSummary: rendered.Message,
	}
}

// pickCandidate matches the reply against a shortlist by ordinal ("1", "la
// 2") or by candidate name substring.
func pickCandidate(text string, candidates []models.Candidate) (models.Candidate, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".!")

	for _, prefix := range []string{"el ", "la ", "opción ", "opcion ", "número ", "numero "} {
		t = strings.TrimPrefix(t, prefix)
	}
	if n, err := strconv.Atoi(t); err == nil {
		if n >= 1 && n <= len(candidates) {
			return candidates[n-1], true
		}
		return models.Candidate{}, false
	}

	var match models.Candidate
	var found bool
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.Display), t) {
			if found {
				// Ambiguous across candidates; not a usable pick.
				return models.Candidate{}, false
			}
			match, found = c, true
		}
	}
	return match, found
}


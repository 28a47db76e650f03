package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/podoskin/agent-core/pkg/database"
	"github.com/podoskin/agent-core/pkg/models"
)

// PGStore persists threads and turns in the identity/audit database.
type PGStore struct {
	db     database.Querier
	logger *zap.Logger
}

var _ Store = (*PGStore)(nil)

// NewPGStore creates a store over the identity database's querier.
func NewPGStore(db database.Querier, logger *zap.Logger) *PGStore {
	return &PGStore{db: db, logger: logger.Named("state")}
}

func (s *PGStore) CreateThread(ctx context.Context, t *models.Thread) error {
	pending, err := encodeJSON(t.Pending)
	if err != nil {
		return err
	}
	_, err = s.db.ExecStatement(ctx, `
		INSERT INTO agent_threads (id, origin, user_id, role, state, pending, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, string(t.Origin), t.UserID, string(t.Role), string(t.State),
		pending, t.CreatedAt, t.LastActivityAt)
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	return nil
}

func (s *PGStore) GetThread(ctx context.Context, id uuid.UUID) (*models.Thread, error) {
	rows, err := s.db.QueryRows(ctx, `
		SELECT id, origin, user_id, role, state, pending, created_at, last_activity_at
		FROM agent_threads WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrThreadNotFound
	}
	return decodeThread(rows[0])
}

func (s *PGStore) FindOpenThread(ctx context.Context, userID string, origin models.Origin) (*models.Thread, error) {
	rows, err := s.db.QueryRows(ctx, `
		SELECT id, origin, user_id, role, state, pending, created_at, last_activity_at
		FROM agent_threads
		WHERE user_id = $1 AND origin = $2 AND state <> 'archived'
		ORDER BY last_activity_at DESC
		LIMIT 1`, userID, string(origin))
	if err != nil {
		return nil, fmt.Errorf("find open thread: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return decodeThread(rows[0])
}

func (s *PGStore) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecStatement(ctx, `
		UPDATE agent_threads
		SET last_activity_at = $2, state = 'open'
		WHERE id = $1 AND state <> 'archived'`, id, at)
	if err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return nil
}

func (s *PGStore) SetPending(ctx context.Context, id uuid.UUID, p *models.Pending) error {
	pending, err := encodeJSON(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecStatement(ctx,
		`UPDATE agent_threads SET pending = $2 WHERE id = $1`, id, pending)
	if err != nil {
		return fmt.Errorf("set pending: %w", err)
	}
	return nil
}

func (s *PGStore) AppendTurn(ctx context.Context, turn *models.Turn) error {
	intent, err := encodeJSON(turn.Intent)
	if err != nil {
		return err
	}
	entities, err := encodeJSON(turn.Entities)
	if err != nil {
		return err
	}
	decision, err := encodeJSON(turn.Decision)
	if err != nil {
		return err
	}
	planIDs, err := encodeJSON(turn.PlanIDs)
	if err != nil {
		return err
	}

	rows, err := s.db.QueryRows(ctx, `
		INSERT INTO agent_turns
			(id, thread_id, seq, trace_id, message_text, intent, entities, decision,
			 plan_ids, result_summary, response_text, awaiting_choice, received_at, responded_at)
		VALUES
			($1, $2,
			 (SELECT COALESCE(MAX(seq), 0) + 1 FROM agent_turns WHERE thread_id = $2),
			 $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING seq`,
		turn.ID, turn.ThreadID, turn.TraceID, turn.Text, intent, entities, decision,
		planIDs, turn.ResultSummary, turn.ResponseText, turn.AwaitingChoice,
		turn.ReceivedAt, turn.RespondedAt)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if len(rows) == 1 {
		if seq, ok := rows[0]["seq"].(int64); ok {
			turn.Seq = int(seq)
		} else if seq, ok := rows[0]["seq"].(int32); ok {
			turn.Seq = int(seq)
		}
	}
	return nil
}

func (s *PGStore) RecentTurns(ctx context.Context, threadID uuid.UUID, limit int) ([]models.Turn, error) {
	rows, err := s.db.QueryRows(ctx, `
		SELECT id, thread_id, seq, trace_id, message_text, intent, entities, decision,
		       plan_ids, result_summary, response_text, awaiting_choice, received_at, responded_at
		FROM agent_turns
		WHERE thread_id = $1
		ORDER BY seq DESC
		LIMIT $2`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}

	turns := make([]models.Turn, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- { // oldest first
		turn, derr := decodeTurn(rows[i])
		if derr != nil {
			return nil, derr
		}
		turns = append(turns, *turn)
	}
	return turns, nil
}

func (s *PGStore) Sweep(ctx context.Context, idleBefore, archiveBefore time.Time) (int64, error) {
	idled, err := s.db.ExecStatement(ctx, `
		UPDATE agent_threads SET state = 'idle'
		WHERE state = 'open' AND last_activity_at < $1`, idleBefore)
	if err != nil {
		return 0, fmt.Errorf("sweep idle: %w", err)
	}

	archived, err := s.db.ExecStatement(ctx, `
		UPDATE agent_threads SET state = 'archived', pending = NULL
		WHERE state = 'idle' AND last_activity_at < $1`, archiveBefore)
	if err != nil {
		return idled, fmt.Errorf("sweep archive: %w", err)
	}

	if idled+archived > 0 {
		s.logger.Info("Thread sweep complete",
			zap.Int64("idled", idled),
			zap.Int64("archived", archived))
	}
	return idled + archived, nil
}

func decodeThread(row map[string]any) (*models.Thread, error) {
	t := &models.Thread{
		Origin: models.Origin(asString(row["origin"])),
		UserID: asString(row["user_id"]),
		Role:   models.Role(asString(row["role"])),
		State:  models.ThreadState(asString(row["state"])),
	}

	id, err := asUUID(row["id"])
	if err != nil {
		return nil, fmt.Errorf("decode thread id: %w", err)
	}
	t.ID = id

	if ts, ok := row["created_at"].(time.Time); ok {
		t.CreatedAt = ts
	}
	if ts, ok := row["last_activity_at"].(time.Time); ok {
		t.LastActivityAt = ts
	}
	if row["pending"] != nil {
		var pending models.Pending
		if err := rebind(row["pending"], &pending); err != nil {
			return nil, fmt.Errorf("decode thread pending: %w", err)
		}
		if pending.Confirmation != nil || pending.Disambiguation != nil {
			t.Pending = &pending
		}
	}
	return t, nil
}

func decodeTurn(row map[string]any) (*models.Turn, error) {
	turn := &models.Turn{
		Text:           asString(row["message_text"]),
		ResultSummary:  asString(row["result_summary"]),
		ResponseText:   asString(row["response_text"]),
		AwaitingChoice: row["awaiting_choice"] == true,
	}

	id, err := asUUID(row["id"])
	if err != nil {
		return nil, fmt.Errorf("decode turn id: %w", err)
	}
	turn.ID = id

	threadID, err := asUUID(row["thread_id"])
	if err != nil {
		return nil, fmt.Errorf("decode turn thread id: %w", err)
	}
	turn.ThreadID = threadID

	traceID, err := asUUID(row["trace_id"])
	if err != nil {
		return nil, fmt.Errorf("decode turn trace id: %w", err)
	}
	turn.TraceID = traceID

	switch seq := row["seq"].(type) {
	case int64:
		turn.Seq = int(seq)
	case int32:
		turn.Seq = int(seq)
	}

	if err := rebind(row["intent"], &turn.Intent); err != nil {
		return nil, fmt.Errorf("decode turn intent: %w", err)
	}
	if err := rebind(row["entities"], &turn.Entities); err != nil {
		return nil, fmt.Errorf("decode turn entities: %w", err)
	}
	if err := rebind(row["decision"], &turn.Decision); err != nil {
		return nil, fmt.Errorf("decode turn decision: %w", err)
	}
	if err := rebind(row["plan_ids"], &turn.PlanIDs); err != nil {
		return nil, fmt.Errorf("decode turn plan ids: %w", err)
	}

	if ts, ok := row["received_at"].(time.Time); ok {
		turn.ReceivedAt = ts
	}
	if ts, ok := row["responded_at"].(time.Time); ok {
		turn.RespondedAt = ts
	}
	return turn, nil
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// asUUID handles both the pgx uuid byte representation and plain strings.
func asUUID(v any) (uuid.UUID, error) {
	switch val := v.(type) {
	case uuid.UUID:
		return val, nil
	case [16]byte:
		return uuid.UUID(val), nil
	case []byte:
		return uuid.FromBytes(val)
	case string:
		return uuid.Parse(val)
	}
	return uuid.Nil, fmt.Errorf("unsupported uuid representation %T", v)
}

// Package state persists conversation threads and their append-only turns.
// Turn N's record is durably written before turn N+1 begins; the per-thread
// lock registry enforces that ordering.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/podoskin/agent-core/pkg/models"
)

// ErrThreadNotFound is returned when a thread id resolves to nothing.
var ErrThreadNotFound = errors.New("thread not found")

// Store is the conversation persistence contract. Implementations must keep
// turns immutable once appended.
type Store interface {
	// CreateThread inserts a new thread.
	CreateThread(ctx context.Context, t *models.Thread) error

	// GetThread fetches a thread by id.
	GetThread(ctx context.Context, id uuid.UUID) (*models.Thread, error)

	// FindOpenThread returns the most recently active non-archived thread for
	// (user, origin), or nil when none exists.
	FindOpenThread(ctx context.Context, userID string, origin models.Origin) (*models.Thread, error)

	// Touch updates last activity and reopens an idle thread.
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error

	// SetPending replaces the thread's pending cross-turn state. nil clears it.
	SetPending(ctx context.Context, id uuid.UUID, p *models.Pending) error

	// AppendTurn durably appends a turn, assigning the next sequence number.
	AppendTurn(ctx context.Context, turn *models.Turn) error

	// RecentTurns returns up to limit most recent turns, oldest first.
	RecentTurns(ctx context.Context, threadID uuid.UUID, limit int) ([]models.Turn, error)

	// Sweep transitions open threads to idle and idle threads to archived
	// based on inactivity cutoffs. It is an explicit call for the host's
	// scheduler, not a background loop.
	Sweep(ctx context.Context, idleBefore, archiveBefore time.Time) (int64, error)
}

// rebind converts between database-decoded values and typed structs through
// a JSON round trip. JSONB columns come back as generic maps; this keeps the
// decode in one place.
func rebind(src, dst any) error {
	if src == nil {
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode for rebind: %w", err)
		}
		data = encoded
	}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode for rebind: %w", err)
	}
	return nil
}

// encodeJSON marshals a value for a JSONB column, mapping nil to SQL NULL.
func encodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode jsonb: %w", err)
	}
	return data, nil
}

package state

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/podoskin/agent-core/pkg/apperrors"
	"github.com/podoskin/agent-core/pkg/models"
)

// MemoryStore is an in-process Store for tests and local development. It
// round-trips records through JSON so stored state behaves like the database
// implementation (no shared references, same serialization rules).
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[uuid.UUID]*models.Thread
	turns   map[uuid.UUID][]models.Turn
	// FailAppends makes AppendTurn fail, for unconfirmed-reply tests.
	FailAppends bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[uuid.UUID]*models.Thread),
		turns:   make(map[uuid.UUID][]models.Turn),
	}
}

func (s *MemoryStore) CreateThread(_ context.Context, t *models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[t.ID] = cloneThread(t)
	return nil
}

func (s *MemoryStore) GetThread(_ context.Context, id uuid.UUID) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return cloneThread(t), nil
}

func (s *MemoryStore) FindOpenThread(_ context.Context, userID string, origin models.Origin) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.Thread
	for _, t := range s.threads {
		if t.UserID != userID || t.Origin != origin || t.State == models.ThreadArchived {
			continue
		}
		if best == nil || t.LastActivityAt.After(best.LastActivityAt) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneThread(best), nil
}

func (s *MemoryStore) Touch(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return ErrThreadNotFound
	}
	if t.State != models.ThreadArchived {
		t.LastActivityAt = at
		t.State = models.ThreadOpen
	}
	return nil
}

func (s *MemoryStore) SetPending(_ context.Context, id uuid.UUID, p *models.Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return ErrThreadNotFound
	}
	if p == nil {
		t.Pending = nil
		return nil
	}
	clone := clonePending(p)
	t.Pending = clone
	return nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, turn *models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppends {
		return apperrors.ErrPersistenceFailure
	}
	existing := s.turns[turn.ThreadID]
	turn.Seq = len(existing) + 1
	s.turns[turn.ThreadID] = append(existing, *cloneTurn(turn))
	return nil
}

func (s *MemoryStore) RecentTurns(_ context.Context, threadID uuid.UUID, limit int) ([]models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.turns[threadID]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}
	out := make([]models.Turn, 0, len(all)-start)
	for _, t := range all[start:] {
		out = append(out, *cloneTurn(&t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) Sweep(_ context.Context, idleBefore, archiveBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.threads {
		switch {
		case t.State == models.ThreadOpen && t.LastActivityAt.Before(idleBefore):
			t.State = models.ThreadIdle
			n++
		case t.State == models.ThreadIdle && t.LastActivityAt.Before(archiveBefore):
			t.State = models.ThreadArchived
			t.Pending = nil
			n++
		}
	}
	return n, nil
}

func cloneThread(t *models.Thread) *models.Thread {
	var out models.Thread
	mustRoundTrip(t, &out)
	return &out
}

func cloneTurn(t *models.Turn) *models.Turn {
	var out models.Turn
	mustRoundTrip(t, &out)
	return &out
}

func clonePending(p *models.Pending) *models.Pending {
	var out models.Pending
	mustRoundTrip(p, &out)
	return &out
}

func mustRoundTrip(src, dst any) {
	data, err := json.Marshal(src)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		panic(err)
	}
}

package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/podoskin/agent-core/pkg/llm"
	"github.com/podoskin/agent-core/pkg/models"
)

// EmbeddingIndex is an in-process vector index over past messages, scored by
// cosine similarity. Vectors come from the LLM provider's embedding
// endpoint; recall failures degrade to no context rather than failing the
// turn.
type EmbeddingIndex struct {
	client llm.Client
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[indexKey][]entry
}

type indexKey struct {
	userID string
	origin models.Origin
}

type entry struct {
	text   string
	vector []float32
}

var _ Index = (*EmbeddingIndex)(nil)

// NewEmbeddingIndex creates an index backed by the client's Embed call.
func NewEmbeddingIndex(client llm.Client, logger *zap.Logger) *EmbeddingIndex {
	return &EmbeddingIndex{
		client:  client,
		logger:  logger.Named("memory"),
		entries: make(map[indexKey][]entry),
	}
}

func (i *EmbeddingIndex) Recall(ctx context.Context, userID string, origin models.Origin, text string, limit int) ([]Snippet, error) {
	vector, err := i.client.Embed(ctx, text)
	if err != nil {
		i.logger.Debug("Recall embedding failed, continuing without context", zap.Error(err))
		return nil, nil
	}

	i.mu.RLock()
	stored := i.entries[indexKey{userID, origin}]
	i.mu.RUnlock()

	snippets := make([]Snippet, 0, len(stored))
	for _, e := range stored {
		snippets = append(snippets, Snippet{Text: e.text, Score: cosine(vector, e.vector)})
	}
	sort.Slice(snippets, func(a, b int) bool { return snippets[a].Score > snippets[b].Score })
	if limit > 0 && len(snippets) > limit {
		snippets = snippets[:limit]
	}
	return snippets, nil
}

func (i *EmbeddingIndex) Remember(ctx context.Context, userID string, origin models.Origin, text string) error {
	vector, err := i.client.Embed(ctx, text)
	if err != nil {
		i.logger.Debug("Remember embedding failed, dropping entry", zap.Error(err))
		return nil
	}

	i.mu.Lock()
	key := indexKey{userID, origin}
	i.entries[key] = append(i.entries[key], entry{text: text, vector: vector})
	i.mu.Unlock()
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for idx := range a {
		dot += float64(a[idx]) * float64(b[idx])
		normA += float64(a[idx]) * float64(a[idx])
		normB += float64(b[idx]) * float64(b[idx])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

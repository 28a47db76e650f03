// Package memory is the optional semantic-recall collaborator. Its output
// feeds the classifier prompt as background context only; it is never
// treated as authoritative data.
package memory

import (
	"context"

	"github.com/podoskin/agent-core/pkg/models"
)

// Snippet is one recalled fragment of past conversation.
type Snippet struct {
	Text  string
	Score float64
}

// Index recalls and records conversation fragments keyed by (user, origin).
type Index interface {
	Recall(ctx context.Context, userID string, origin models.Origin, text string, limit int) ([]Snippet, error)
	Remember(ctx context.Context, userID string, origin models.Origin, text string) error
}

// NoopIndex is the default: recall nothing, remember nothing.
type NoopIndex struct{}

var _ Index = (*NoopIndex)(nil)

// NewNoopIndex creates the no-op index.
func NewNoopIndex() *NoopIndex { return &NoopIndex{} }

func (*NoopIndex) Recall(context.Context, string, models.Origin, string, int) ([]Snippet, error) {
	return nil, nil
}

func (*NoopIndex) Remember(context.Context, string, models.Origin, string) error {
	return nil
}

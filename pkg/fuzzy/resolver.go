package fuzzy

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/podoskin/agent-core/pkg/models"
)

// minScore drops candidates that barely resemble the term; auto-selecting a
// poor match is worse than asking.
const minScore = 0.45

// fetchLimit bounds how many candidates the source returns for re-ranking.
const fetchLimit = 25

// Config tunes resolution behavior.
type Config struct {
	// SimilarityMargin is how far the top candidate must lead the runner-up
	// before auto-selection.
	SimilarityMargin float64
	// MaxShortlist bounds the disambiguation list shown to the user.
	MaxShortlist int
}

// Resolution is the outcome for one request: either one auto-selected
// candidate or a ranked shortlist the user must choose from. An empty
// shortlist means nothing in scope matched.
type Resolution struct {
	Request   models.FuzzyResolutionRequest
	Auto      *models.Candidate
	Shortlist []models.Candidate
}

// Resolver ranks tenant-scoped candidates for free-text entity references.
type Resolver struct {
	source CandidateSource
	cfg    Config
	logger *zap.Logger
}

// NewResolver creates a resolver over a candidate source.
func NewResolver(source CandidateSource, cfg Config, logger *zap.Logger) *Resolver {
	return &Resolver{source: source, cfg: cfg, logger: logger.Named("fuzzy")}
}

// Resolve fetches and ranks candidates for one request. allowAuto disables
// auto-selection when the classifier's confidence was middling; the ranked
// shortlist is returned instead.
func (r *Resolver) Resolve(ctx context.Context, req models.FuzzyResolutionRequest, clinicID string, allowAuto bool) (*Resolution, error) {
	raw, err := r.source.Candidates(ctx, req.EntityKind, req.Term, clinicID, fetchLimit)
	if err != nil {
		return nil, err
	}

	ranked := Rank(req.Term, raw)
	if len(ranked) > r.cfg.MaxShortlist {
		ranked = ranked[:r.cfg.MaxShortlist]
	}

	res := &Resolution{Request: req, Shortlist: ranked}

	if len(ranked) == 0 {
		r.logger.Debug("No fuzzy candidates in scope",
			zap.String("entity_kind", req.EntityKind),
			zap.String("term", req.Term))
		return res, nil
	}

	if allowAuto && r.autoSelectable(ranked) {
		res.Auto = &ranked[0]
		res.Shortlist = nil
	}

	return res, nil
}

// autoSelectable applies the margin rule: a single candidate, or a top
// candidate leading the runner-up by more than the configured margin.
func (r *Resolver) autoSelectable(ranked []models.Candidate) bool {
	if len(ranked) == 1 {
		return true
	}
	return ranked[0].Score-ranked[1].Score > r.cfg.SimilarityMargin
}

// Rank scores candidates against the term and orders them descending,
// ties broken by most recent activity. Candidates scoring below the floor
// are dropped.
func Rank(term string, candidates []models.Candidate) []models.Candidate {
	ranked := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		c.Score = Score(term, c.Display)
		if c.Score >= minScore {
			ranked = append(ranked, c)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].LastActiveAt.After(ranked[j].LastActiveAt)
	})

	return ranked
}

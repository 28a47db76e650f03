package fuzzy

import (
	"context"
	"fmt"
	"time"

	"github.com/podoskin/agent-core/pkg/database"
	"github.com/podoskin/agent-core/pkg/models"
)

// CandidateSource produces the candidate universe for one entity kind,
// already restricted to the caller's tenant.
type CandidateSource interface {
	Candidates(ctx context.Context, kind, term, clinicID string, limit int) ([]models.Candidate, error)
}

// sourceQuery is one approved trigram lookup. Like catalog templates, these
// are fixed at compile time; only the term, tenant and limit bind.
type sourceQuery struct {
	db  models.LogicalDB
	sql string
}

// sourceQueries keys the approved lookups by entity kind. Each returns
// id, display, last_active, pre-filtered by pg_trgm word similarity.
var sourceQueries = map[string]sourceQuery{
	"patient": {
		db: models.DBClinical,
		sql: `SELECT id::text AS id, nombre_completo AS display, updated_at AS last_active
FROM pacientes
WHERE clinica_id = $2 AND deleted_at IS NULL AND nombre_completo % $1
ORDER BY similarity(nombre_completo, $1) DESC, updated_at DESC
LIMIT $3`,
	},
	"podiatrist": {
		db: models.DBOperations,
		sql: `SELECT id::text AS id, nombre_completo AS display, updated_at AS last_active
FROM podologos
WHERE clinica_id = $2 AND deleted_at IS NULL AND nombre_completo % $1
ORDER BY similarity(nombre_completo, $1) DESC, updated_at DESC
LIMIT $3`,
	},
	"service": {
		db: models.DBOperations,
		sql: `SELECT id::text AS id, nombre_servicio AS display, updated_at AS last_active
FROM catalogo_servicios
WHERE clinica_id = $2 AND deleted_at IS NULL AND nombre_servicio % $1
ORDER BY similarity(nombre_servicio, $1) DESC, updated_at DESC
LIMIT $3`,
	},
}

// PGSource runs the approved pg_trgm lookups against the logical databases.
type PGSource struct {
	pools database.Pools
}

var _ CandidateSource = (*PGSource)(nil)

// NewPGSource creates a source over the connected pools.
func NewPGSource(pools database.Pools) *PGSource {
	return &PGSource{pools: pools}
}

// Candidates fetches tenant-scoped candidates for the entity kind.
func (s *PGSource) Candidates(ctx context.Context, kind, term, clinicID string, limit int) ([]models.Candidate, error) {
	q, ok := sourceQueries[kind]
	if !ok {
		return nil, fmt.Errorf("entity kind %q is not fuzzy-searchable", kind)
	}

	querier, err := s.pools.For(q.db)
	if err != nil {
		return nil, err
	}

	rows, err := querier.QueryRows(ctx, q.sql, term, clinicID, limit)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.Candidate, 0, len(rows))
	for _, row := range rows {
		c := models.Candidate{
			ID:      asString(row["id"]),
			Display: asString(row["display"]),
		}
		if ts, ok := row["last_active"].(time.Time); ok {
			c.LastActiveAt = ts
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

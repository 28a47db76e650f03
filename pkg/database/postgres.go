// Package database manages connections to the three logical databases and
// the generic statement execution the coordinator runs plans through.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podoskin/agent-core/pkg/config"
	"github.com/podoskin/agent-core/pkg/models"
	"github.com/podoskin/agent-core/pkg/retry"
)

// DB wraps a pgxpool connection pool for one logical database.
type DB struct {
	*pgxpool.Pool
	Logical models.LogicalDB
}

// NewConnection creates a connection pool for one logical database.
// Pool creation retries transient failures so a briefly unavailable
// database does not fail startup.
func NewConnection(ctx context.Context, logical models.LogicalDB, cfg *config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse %s database config: %w", logical, err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 10
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := retry.DoWithResult(ctx, nil, func() (*pgxpool.Pool, error) {
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s database: %w", logical, err)
	}

	return &DB{Pool: pool, Logical: logical}, nil
}

// Pools holds one querier per logical database.
type Pools map[models.LogicalDB]Querier

// For returns the querier for a logical database.
func (p Pools) For(db models.LogicalDB) (Querier, error) {
	q, ok := p[db]
	if !ok {
		return nil, fmt.Errorf("no pool for logical database %q", db)
	}
	return q, nil
}

// Close closes every pool that is backed by a real connection.
func (p Pools) Close() {
	for _, q := range p {
		if db, ok := q.(*DB); ok {
			db.Pool.Close()
		}
	}
}

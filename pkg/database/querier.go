package database

import (
	"context"
	"fmt"
)

// Querier executes one statement against one logical database and returns
// generic results. The coordinator depends on this interface so tests can
// substitute in-memory fakes.
type Querier interface {
	// QueryRows runs a read statement and returns each row as a column→value map.
	QueryRows(ctx context.Context, sql string, args ...any) ([]map[string]any, error)

	// ExecStatement runs a mutating statement and returns rows affected.
	ExecStatement(ctx context.Context, sql string, args ...any) (int64, error)
}

// QueryRows implements Querier on the pgx pool.
func (db *DB) QueryRows(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	result := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col] = values[i]
		}
		result = append(result, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyPgError(err)
	}
	return result, nil
}

// ExecStatement implements Querier on the pgx pool.
func (db *DB) ExecStatement(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, classifyPgError(err)
	}
	return tag.RowsAffected(), nil
}

var _ Querier = (*DB)(nil)

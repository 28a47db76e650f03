package database

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/podoskin/agent-core/pkg/apperrors"
)

// classifyPgError maps a pgx error to the agent's taxonomy: connection and
// timeout failures are transient (retryable), constraint violations are
// integrity failures (never retried).
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.Transient(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.Transient(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "23": // integrity constraint violations (unique, FK, check)
			return apperrors.Integrity(err)
		case "08": // connection exceptions
			return apperrors.Transient(err)
		case "57": // operator intervention (shutdown, cancel)
			return apperrors.Transient(err)
		case "53": // insufficient resources (too many connections)
			return apperrors.Transient(err)
		}
		return apperrors.Integrity(err)
	}

	// Non-pg errors at this layer are driver or network level.
	return apperrors.Transient(err)
}

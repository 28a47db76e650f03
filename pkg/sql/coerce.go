package sql

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/podoskin/agent-core/pkg/apperrors"
)

// defaultMaxLength caps string parameters that declare no explicit limit.
const defaultMaxLength = 500

// CoerceValue converts a supplied value to its declared parameter type and
// enforces length limits. Classifier output arrives as JSON, so numbers may
// come in as float64 and everything else as string.
func CoerceValue(def Parameter, raw any) (any, error) {
	if raw == nil {
		if def.Required {
			return nil, apperrors.NewValidationError(def.Name, "required but not provided")
		}
		return def.Default, nil
	}

	switch def.Type {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			s = fmt.Sprintf("%v", raw)
		}
		limit := def.MaxLength
		if limit <= 0 {
			limit = defaultMaxLength
		}
		if len(s) > limit {
			return nil, apperrors.NewValidationError(def.Name,
				fmt.Sprintf("exceeds maximum length of %d characters", limit))
		}
		return s, nil

	case TypeInteger:
		switch v := raw.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != float64(int64(v)) {
				return nil, apperrors.NewValidationError(def.Name, "expected integer, got fractional number")
			}
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, apperrors.NewValidationError(def.Name, "expected integer")
			}
			return n, nil
		}
		return nil, apperrors.NewValidationError(def.Name, "expected integer")

	case TypeDecimal:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, apperrors.NewValidationError(def.Name, "expected decimal number")
			}
			return f, nil
		}
		return nil, apperrors.NewValidationError(def.Name, "expected decimal number")

	case TypeBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, apperrors.NewValidationError(def.Name, "expected boolean")
			}
			return b, nil
		}
		return nil, apperrors.NewValidationError(def.Name, "expected boolean")

	case TypeDate:
		s, ok := raw.(string)
		if !ok {
			return nil, apperrors.NewValidationError(def.Name, "expected ISO date string")
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return nil, apperrors.NewValidationError(def.Name, "expected date in YYYY-MM-DD format")
		}
		return s, nil

	case TypeTimestamp:
		s, ok := raw.(string)
		if !ok {
			return nil, apperrors.NewValidationError(def.Name, "expected RFC 3339 timestamp string")
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return nil, apperrors.NewValidationError(def.Name, "expected RFC 3339 timestamp")
		}
		return s, nil

	case TypeUUID:
		s, ok := raw.(string)
		if !ok {
			return nil, apperrors.NewValidationError(def.Name, "expected UUID string")
		}
		if _, err := uuid.Parse(s); err != nil {
			return nil, apperrors.NewValidationError(def.Name, "expected valid UUID")
		}
		return s, nil
	}

	return nil, apperrors.NewValidationError(def.Name,
		fmt.Sprintf("unsupported parameter type %q", def.Type))
}

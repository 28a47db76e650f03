// Package jsonutil coerces loosely-typed JSON values from model output.
// Classifier responses put appointment ids, phone numbers and dates into
// slot values as whatever JSON type the model felt like, so slot decoding
// cannot assume strings.
package jsonutil

import (
	"encoding/json"
	"fmt"
)

// CoerceString renders a raw slot value as a string. Numbers keep their
// integer form when they have one ("42", not "42.000000"), booleans render
// as "true"/"false", and null or empty input yields "". Anything else comes
// back verbatim for the parameter validator to reject.
func CoerceString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%g", n)
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return fmt.Sprintf("%t", b)
	}

	return string(raw)
}

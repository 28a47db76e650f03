package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a parameter value flagged by libinjection.
type InjectionCheckResult struct {
	IsSQLi      bool
	Fingerprint string
	ParamName   string
	ParamValue  any
}

// CheckParameterForInjection runs libinjection over a parameter value.
// Only string values are checked; typed values cannot carry SQL text.
// Returns nil when the value is clean.
func CheckParameterForInjection(paramName string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if isSQLi {
		return &InjectionCheckResult{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			ParamName:   paramName,
			ParamValue:  value,
		}
	}

	return nil
}

// CheckAllParameters screens every bound value and returns one result per
// flagged parameter. An empty slice means all values are clean.
func CheckAllParameters(params map[string]any) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for name, value := range params {
		if result := CheckParameterForInjection(name, value); result != nil {
			results = append(results, result)
		}
	}
	return results
}

// Package logging scrubs values that must never reach log output: database
// credentials from pgx errors and connection strings, and provider API keys
// that LLM client errors occasionally echo back.
package logging

import (
	"regexp"
)

const (
	// MaxStatementLogLength caps how much of a SQL statement is logged.
	MaxStatementLogLength = 120
	// RedactedText replaces sensitive data.
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until the next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// api_key=xxx and friends, as LLM provider errors sometimes include them
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`)

	// user:pass@host credentials inside connection URLs
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from a connection string so it
// can be logged.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// SanitizeError scrubs an error message before logging. Database driver
// errors can embed the DSN they failed to connect with, and provider client
// errors can embed the key they authenticated with.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// SanitizeStatement truncates a SQL statement for logging. Statements come
// from the approved catalog so they hold no secrets, but bound previews can
// be long.
func SanitizeStatement(statement string) string {
	if statement == "" {
		return ""
	}
	sanitized := statement
	if len(sanitized) > MaxStatementLogLength {
		sanitized = sanitized[:MaxStatementLogLength] + "..."
	}
	return passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
}

// TruncateString truncates a string to maxLen, appending an ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

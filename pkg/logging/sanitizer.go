// Package logging holds the helpers that keep credentials and question contents out of logs.
package logging

import (
	"fmt"
	"regexp"
	"time"
)

const (
	// MaxQueryLogLength is the maximum length of a query to log
	MaxQueryLogLength = 100
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host in postgres:// and redis:// URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]*:[^@\s]+@[^/\s]+`)

	// Redis AUTH failures echo the command
	redisAuthPattern = regexp.MustCompile(`(?i)\bAUTH\s+\S+(\s+\S+)?`)

	// Single-quoted SQL literals, including doubled quotes inside them
	sqlLiteralPattern = regexp.MustCompile(`'(?:[^']|'')*'`)
)

// SanitizeConnectionString removes sensitive data from connection strings.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError sanitizes error messages from the data store and cache.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = redisAuthPattern.ReplaceAllString(sanitized, "AUTH "+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeQuery masks string literals and truncates a SQL statement for logging.
// Synthesized statements bind every value, so a literal here means something unexpected
// reached the SQL text; it could carry a client name and is never logged.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	sanitized := sqlLiteralPattern.ReplaceAllString(query, "'?'")
	return TruncateString(sanitized, MaxQueryLogLength)
}

// ParamKinds describes bound parameters by type only. Values are names, cities and
// amounts taken from the question and stay out of logs.
func ParamKinds(params []any) []string {
	if len(params) == 0 {
		return nil
	}
	kinds := make([]string, len(params))
	for i, p := range params {
		switch p.(type) {
		case nil:
			kinds[i] = "null"
		case string:
			kinds[i] = "text"
		case []string:
			kinds[i] = "text[]"
		case int, int32, int64:
			kinds[i] = "int"
		case float32, float64:
			kinds[i] = "numeric"
		case bool:
			kinds[i] = "bool"
		case time.Time:
			kinds[i] = "timestamp"
		default:
			kinds[i] = fmt.Sprintf("%T", p)
		}
	}
	return kinds
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

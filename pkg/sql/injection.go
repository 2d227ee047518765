package sql

import (
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a parameter value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string // Placeholder of the parameter that failed the check, e.g. "$2"
	ParamValue  any    // The value that was checked
}

// CheckParameterForInjection uses libinjection to detect SQL injection patterns
// in a parameter value.
//
// Only string values are checked; []string values are checked element by element.
// Numbers, booleans and times cannot carry injection and return nil.
func CheckParameterForInjection(paramName string, value any) *InjectionCheckResult {
	switch v := value.(type) {
	case string:
		if isSQLi, fingerprint := libinjection.IsSQLi(v); isSQLi {
			return &InjectionCheckResult{
				IsSQLi:      true,
				Fingerprint: string(fingerprint),
				ParamName:   paramName,
				ParamValue:  value,
			}
		}
	case []string:
		for _, s := range v {
			if r := CheckParameterForInjection(paramName, s); r != nil {
				return r
			}
		}
	}
	return nil
}

// CheckParameters checks positional parameters. Results are named by placeholder ($1, $2, ...).
// Returns nil when every parameter is clean.
//
// Example:
//
//	results := CheckParameters([]any{"%Smith%", "'; DROP TABLE users--", 50})
//	// len(results) == 1
//	// results[0].ParamName == "$2"
func CheckParameters(params []any) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for i, value := range params {
		if result := CheckParameterForInjection(fmt.Sprintf("$%d", i+1), value); result != nil {
			results = append(results, result)
		}
	}
	return results
}

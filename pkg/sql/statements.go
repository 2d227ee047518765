package sql

import (
	"errors"
	"strings"
	"unicode"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrUnterminatedLiteral indicates a quote was opened and never closed.
	ErrUnterminatedLiteral = errors.New("unterminated string literal or quoted identifier")
)

// ValidationResult contains the normalized SQL and any structural error.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize trims the statement, strips one trailing semicolon, and rejects
// anything that still contains a statement separator outside a literal.
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return ValidationResult{NormalizedSQL: sqlQuery}
	}

	normalized := stripTrailingSemicolon(sqlQuery)
	code, err := maskLiterals(normalized)
	if err != nil {
		return ValidationResult{Error: err}
	}
	if strings.ContainsRune(code, ';') {
		return ValidationResult{Error: ErrMultipleStatements}
	}
	return ValidationResult{NormalizedSQL: normalized}
}

// maskLiterals returns sqlQuery with the contents of single-quoted strings and
// double-quoted identifiers replaced by spaces, so keyword and token checks only see code.
// Quotes themselves are kept. With standard_conforming_strings on, a backslash is an
// ordinary character in '...' and only a doubled quote escapes; E'...' strings also
// honor backslash escapes.
func maskLiterals(sqlQuery string) (string, error) {
	const (
		stateNormal = iota
		stateSingleQuote
		stateEscapeString
		stateDoubleQuote
	)

	runes := []rune(sqlQuery)
	var out strings.Builder
	out.Grow(len(sqlQuery))
	state := stateNormal
	escaped := false
	closedEscapeString := false

	for i, ch := range runes {
		// E'it''s' reopens the escape string on the quote right after it closed.
		reopen := closedEscapeString
		closedEscapeString = false
		switch state {
		case stateNormal:
			switch ch {
			case '\'':
				state = stateSingleQuote
				if reopen || isEscapeStringPrefix(runes, i) {
					state = stateEscapeString
				}
			case '"':
				state = stateDoubleQuote
			}
			out.WriteRune(ch)
		case stateSingleQuote:
			// A doubled quote ('') exits and immediately re-enters, which keeps us in the string.
			if ch == '\'' {
				state = stateNormal
				out.WriteRune(ch)
			} else {
				out.WriteRune(' ')
			}
		case stateEscapeString:
			switch {
			case escaped:
				escaped = false
				out.WriteRune(' ')
			case ch == '\\':
				escaped = true
				out.WriteRune(' ')
			case ch == '\'':
				state = stateNormal
				closedEscapeString = true
				out.WriteRune(ch)
			default:
				out.WriteRune(' ')
			}
		case stateDoubleQuote:
			if ch == '"' {
				state = stateNormal
				out.WriteRune(ch)
			} else {
				out.WriteRune(' ')
			}
		}
	}

	if state != stateNormal {
		return "", ErrUnterminatedLiteral
	}
	return out.String(), nil
}

// isEscapeStringPrefix reports whether the quote at i opens an E'...' string.
func isEscapeStringPrefix(runes []rune, i int) bool {
	if i == 0 || (runes[i-1] != 'E' && runes[i-1] != 'e') {
		return false
	}
	if i == 1 {
		return true
	}
	p := runes[i-2]
	return !(unicode.IsLetter(p) || unicode.IsDigit(p) || p == '_' || p == '$')
}

// hasSemicolonOutsideStrings returns true if the SQL contains a semicolon outside literals.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	code, err := maskLiterals(sqlQuery)
	if err != nil {
		return strings.ContainsRune(sqlQuery, ';')
	}
	return strings.ContainsRune(code, ';')
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace around it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}

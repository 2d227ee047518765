// Package sql is the safety boundary between query synthesis and execution.
//
// Validator is the only constructor of ApprovedQuery, and the execution gateway accepts
// nothing else, so no SQL string reaches the data store without passing Validate.
package sql

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

// Rule names reported in violations.
const (
	RuleEmpty            = "empty_query"
	RuleSelectOnly       = "select_only"
	RuleDeniedKeyword    = "denied_keyword"
	RuleDeniedToken      = "denied_token"
	RuleMultipleStmt     = "multiple_statements"
	RuleMalformed        = "malformed"
	RuleTableNotAllowed  = "table_not_allowed"
	RuleNoTables         = "no_tables"
	RuleParameterMissing = "parameter_missing"
)

// deniedKeywords are rejected wherever they appear outside literals.
var deniedKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE", "GRANT", "REVOKE",
	"EXEC", "EXECUTE", "CALL", "COPY", "MERGE", "VACUUM", "INTO", "UNION", "PG_SLEEP",
	"LO_IMPORT", "LO_EXPORT", "PG_READ_FILE", "DBLINK",
}

// deniedTokens are comment openers and closers. The separator is handled by ValidateAndNormalize.
var deniedTokens = []string{"--", "/*", "*/"}

var (
	deniedKeywordPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(deniedKeywords, "|") + `)\b`)
	tablePattern         = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+("?[A-Za-z_][A-Za-z0-9_.]*"?)`)
	placeholderPattern   = regexp.MustCompile(`\$(\d+)`)
	limitPattern         = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
	aggregatePattern     = regexp.MustCompile(`(?i)\b(?:COUNT|SUM|AVG|MIN|MAX)\s*\(`)
	selectStarPattern    = regexp.MustCompile(`(?i)^SELECT\s+(?:DISTINCT\s+)?\*`)
)

// Validator checks synthesized SQL against a fixed table allowlist and keyword denylist.
type Validator struct {
	allowed map[string]bool
}

// NewValidator creates a validator for the given table allowlist. With no tables it uses
// every table of the case-management schema.
func NewValidator(allowedTables ...string) *Validator {
	if len(allowedTables) == 0 {
		allowedTables = models.AllowedTables()
	}
	allowed := make(map[string]bool, len(allowedTables))
	for _, t := range allowedTables {
		allowed[strings.ToLower(t)] = true
	}
	return &Validator{allowed: allowed}
}

// Validate returns the verdict for sqlQuery with its bound parameters.
func (v *Validator) Validate(sqlQuery string, params []any) models.ValidationVerdict {
	verdict := models.ValidationVerdict{}
	fail := func(rule, format string, args ...any) {
		verdict.Violations = append(verdict.Violations, models.Violation{Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	normalized := ValidateAndNormalize(sqlQuery)
	switch {
	case errors.Is(normalized.Error, ErrMultipleStatements):
		fail(RuleMultipleStmt, "statement separator found before the end of the query")
	case normalized.Error != nil:
		fail(RuleMalformed, "%s", normalized.Error.Error())
	case normalized.NormalizedSQL == "":
		fail(RuleEmpty, "query is empty")
	}
	if len(verdict.Violations) > 0 {
		return verdict
	}

	stmt := normalized.NormalizedSQL
	verdict.NormalizedSQL = stmt
	code, _ := maskLiterals(stmt)

	if first := strings.Fields(code); len(first) == 0 || !strings.EqualFold(first[0], "SELECT") {
		fail(RuleSelectOnly, "only SELECT statements are allowed")
	}

	seen := map[string]bool{}
	for _, kw := range deniedKeywordPattern.FindAllString(code, -1) {
		kw = strings.ToUpper(kw)
		if !seen[kw] {
			seen[kw] = true
			fail(RuleDeniedKeyword, "keyword %s is not allowed", kw)
		}
	}
	for _, tok := range deniedTokens {
		if strings.Contains(code, tok) {
			fail(RuleDeniedToken, "token %q is not allowed", tok)
		}
	}

	// Quoted identifiers are masked in code, so tables come from the raw statement.
	verdict.Tables = ExtractTables(stmt)
	if len(verdict.Tables) == 0 {
		fail(RuleNoTables, "query does not reference a table")
	}
	for _, t := range verdict.Tables {
		if !v.allowed[t] {
			fail(RuleTableNotAllowed, "table %s is not queryable", t)
		}
	}

	if highest := maxPlaceholder(code); highest > len(params) {
		fail(RuleParameterMissing, "query references $%d but %d parameters were bound", highest, len(params))
	}

	if cols, err := ParseSelectColumns(stmt); err == nil {
		for _, c := range cols {
			verdict.Columns = append(verdict.Columns, c.Name)
		}
	}

	if selectStarPattern.MatchString(strings.TrimSpace(code)) {
		verdict.Suggestions = append(verdict.Suggestions, "select explicit columns instead of SELECT *")
	}
	if !limitPattern.MatchString(code) && !isSingleRowAggregate(code) {
		verdict.Suggestions = append(verdict.Suggestions, "add a LIMIT clause to bound the result size")
	}

	for _, r := range CheckParameters(params) {
		verdict.Injections = append(verdict.Injections, models.InjectionFinding{Param: r.ParamName, Fingerprint: r.Fingerprint})
		verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("parameter %s resembles SQL injection (fingerprint %s)", r.ParamName, r.Fingerprint))
	}

	verdict.Valid = len(verdict.Violations) == 0
	return verdict
}

// Approve validates q and, when it passes, returns the only form of it the gateway will run.
func (v *Validator) Approve(q *models.SynthesizedQuery) (ApprovedQuery, models.ValidationVerdict) {
	if q == nil {
		return ApprovedQuery{}, models.ValidationVerdict{
			Violations: []models.Violation{{Rule: RuleEmpty, Message: "no query to validate"}},
		}
	}
	verdict := v.Validate(q.SQL, q.Params)
	if !verdict.Valid {
		return ApprovedQuery{}, verdict
	}
	params := make([]any, len(q.Params))
	copy(params, q.Params)
	return ApprovedQuery{sql: verdict.NormalizedSQL, params: params, query: q, approved: true}, verdict
}

// ApprovedQuery is a statement that passed validation. The zero value is not approved.
type ApprovedQuery struct {
	sql      string
	params   []any
	query    *models.SynthesizedQuery
	approved bool
}

// SQL returns the normalized statement.
func (a ApprovedQuery) SQL() string { return a.sql }

// Params returns a copy of the bound parameters.
func (a ApprovedQuery) Params() []any {
	out := make([]any, len(a.params))
	copy(out, a.params)
	return out
}

// Query returns the synthesized query, including its structured intent.
func (a ApprovedQuery) Query() *models.SynthesizedQuery { return a.query }

// Approved reports whether this value came from Validator.Approve.
func (a ApprovedQuery) Approved() bool { return a.approved }

// ExtractTables returns the lowercase, de-duplicated tables named after FROM or JOIN.
func ExtractTables(sqlQuery string) []string {
	seen := map[string]bool{}
	for _, m := range tablePattern.FindAllStringSubmatch(sqlQuery, -1) {
		name := strings.ToLower(strings.Trim(m[1], `"`))
		if i := strings.LastIndex(name, "."); i >= 0 {
			if schema := name[:i]; schema != "public" {
				// Other schemas are never allowlisted; keep the qualified name so it fails.
				seen[name] = true
				continue
			}
			name = name[i+1:]
		}
		seen[name] = true
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func maxPlaceholder(sqlQuery string) int {
	highest := 0
	for _, m := range placeholderPattern.FindAllStringSubmatch(sqlQuery, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

// isSingleRowAggregate reports whether the statement aggregates without grouping.
func isSingleRowAggregate(sqlQuery string) bool {
	upper := strings.ToUpper(sqlQuery)
	return aggregatePattern.MatchString(sqlQuery) && !strings.Contains(upper, "GROUP BY")
}

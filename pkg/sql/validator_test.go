package sql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

func rules(v models.ValidationVerdict) []string {
	var out []string
	for _, violation := range v.Violations {
		out = append(out, violation.Rule)
	}
	return out
}

func TestValidator_Accepts(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		params  []any
		tables  []string
		columns []string
	}{
		{
			name:    "count",
			sql:     "SELECT COUNT(*) AS count FROM exchanges e",
			tables:  []string{"exchanges"},
			columns: []string{"count"},
		},
		{
			name:    "list with joins and patterns",
			sql:     "SELECT e.id, e.name, c.display_name AS client_name FROM exchanges e LEFT JOIN contacts c ON c.id = e.client_id WHERE (c.last_name ILIKE $1) ORDER BY e.created_at DESC, e.id LIMIT 50",
			params:  []any{"%Smith%"},
			tables:  []string{"contacts", "exchanges"},
			columns: []string{"id", "name", "client_name"},
		},
		{
			name:    "lowercase with trailing semicolon",
			sql:     "select u.id from users u where u.is_active = $1 limit 10;",
			params:  []any{true},
			tables:  []string{"users"},
			columns: []string{"id"},
		},
		{
			name:    "created and updated columns are not verbs",
			sql:     "SELECT t.created_at, t.updated_at FROM tasks t LIMIT 5",
			tables:  []string{"tasks"},
			columns: []string{"created_at", "updated_at"},
		},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.sql, tt.params)
			assert.True(t, verdict.Valid, "violations: %v", verdict.Violations)
			assert.Equal(t, tt.tables, verdict.Tables)
			assert.Equal(t, tt.columns, verdict.Columns)
			assert.False(t, strings.HasSuffix(verdict.NormalizedSQL, ";"))
		})
	}
}

func TestValidator_Rejects(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		rule string
	}{
		{"empty", "  ", RuleEmpty},
		{"update", "UPDATE exchanges SET status = 'completed'", RuleSelectOnly},
		{"with clause", "WITH x AS (SELECT 1) SELECT * FROM x", RuleSelectOnly},
		{"delete keyword", "SELECT id FROM exchanges WHERE id IN (DELETE FROM tasks RETURNING id)", RuleDeniedKeyword},
		{"union", "SELECT id FROM exchanges UNION SELECT id FROM users", RuleDeniedKeyword},
		{"select into", "SELECT * INTO backup FROM exchanges", RuleDeniedKeyword},
		{"sleep", "SELECT pg_sleep(10) FROM exchanges", RuleDeniedKeyword},
		{"line comment", "SELECT id FROM exchanges -- WHERE coordinator_id = $1", RuleDeniedToken},
		{"block comment", "SELECT id /* hidden */ FROM exchanges", RuleDeniedToken},
		{"stacked", "SELECT 1 FROM exchanges; DROP TABLE exchanges", RuleMultipleStmt},
		{"unknown table", "SELECT * FROM audit_log", RuleTableNotAllowed},
		{"system catalog", "SELECT usename FROM pg_catalog.pg_user", RuleTableNotAllowed},
		{"quoted system table", `SELECT * FROM "pg_shadow"`, RuleTableNotAllowed},
		{"no table", "SELECT 1", RuleNoTables},
		{"unbound placeholder", "SELECT id FROM exchanges WHERE name ILIKE $2 LIMIT 5", RuleParameterMissing},
		{"unterminated literal", "SELECT id FROM exchanges WHERE name = 'x", RuleMalformed},
		{"backslash does not escape a quote", `SELECT e.id FROM exchanges e WHERE e.name = '\' UNION SELECT u.email FROM users u --'`, RuleMalformed},
		{"backslash then stacked delete", `SELECT e.id FROM exchanges e WHERE e.name = '\'; DELETE FROM exchanges; --'`, RuleMalformed},
		{"union after backslash literal", `SELECT e.id FROM exchanges e WHERE e.name = '\' UNION SELECT u.email FROM users u`, RuleDeniedKeyword},
		{"comment after backslash literal", `SELECT e.id FROM exchanges e WHERE e.name = 'a\' -- LIMIT 5`, RuleDeniedToken},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.sql, nil)
			assert.False(t, verdict.Valid)
			assert.Contains(t, rules(verdict), tt.rule)
		})
	}
}

func TestValidator_NeverApprovesNonSelect(t *testing.T) {
	v := NewValidator()
	prefixes := []string{"", " ", "\n", "(", "EXPLAIN ", "/**/", "WITH q AS (SELECT 1) ", "VALUES (1) ", "SHOW ", "TABLE ", "-- \n"}
	bodies := []string{
		"SELECT id FROM exchanges LIMIT 1",
		"DELETE FROM exchanges",
		"exchanges",
		"INSERT INTO exchanges (id) VALUES ($1)",
	}
	for _, prefix := range prefixes {
		for _, body := range bodies {
			sql := prefix + body
			verdict := v.Validate(sql, []any{"x"})
			trimmed := strings.TrimSpace(sql)
			if verdict.Valid {
				assert.True(t, strings.HasPrefix(strings.ToUpper(trimmed), "SELECT"), "approved %q", sql)
			}
		}
	}
}

func TestValidator_Suggestions(t *testing.T) {
	v := NewValidator()

	verdict := v.Validate("SELECT * FROM exchanges", nil)
	assert.True(t, verdict.Valid)
	assert.Len(t, verdict.Suggestions, 2)

	verdict = v.Validate("SELECT COUNT(*) AS count FROM exchanges e", nil)
	assert.Empty(t, verdict.Suggestions)

	verdict = v.Validate("SELECT u.display_name AS coordinator_name, COUNT(e.id) AS n FROM exchanges e JOIN users u ON u.id = e.coordinator_id GROUP BY u.id, u.display_name", nil)
	assert.Equal(t, []string{"add a LIMIT clause to bound the result size"}, verdict.Suggestions)
}

func TestValidator_InjectionIsWarningOnly(t *testing.T) {
	v := NewValidator()
	verdict := v.Validate("SELECT e.id FROM exchanges e WHERE e.name ILIKE $1 LIMIT 5", []any{"'; DROP TABLE users--"})
	assert.True(t, verdict.Valid)
	require.Len(t, verdict.Injections, 1)
	assert.Equal(t, "$1", verdict.Injections[0].Param)
	assert.NotEmpty(t, verdict.Injections[0].Fingerprint)
	assert.Len(t, verdict.Warnings, 1)
}

func TestValidator_CustomAllowlist(t *testing.T) {
	v := NewValidator("exchanges")
	assert.True(t, v.Validate("SELECT id FROM exchanges LIMIT 1", nil).Valid)
	assert.Contains(t, rules(v.Validate("SELECT id FROM users LIMIT 1", nil)), RuleTableNotAllowed)
}

func TestValidator_Approve(t *testing.T) {
	v := NewValidator()

	q := &models.SynthesizedQuery{
		SQL:    "SELECT COUNT(*) AS count FROM exchanges e WHERE e.status = $1;",
		Params: []any{"active"},
		Entity: models.EntityExchanges,
		Shape:  models.ShapeCount,
	}
	approved, verdict := v.Approve(q)
	require.True(t, verdict.Valid)
	assert.True(t, approved.Approved())
	assert.Equal(t, "SELECT COUNT(*) AS count FROM exchanges e WHERE e.status = $1", approved.SQL())
	assert.Equal(t, []any{"active"}, approved.Params())
	assert.Same(t, q, approved.Query())

	// Params are copied; mutating the result does not change the approved statement.
	p := approved.Params()
	p[0] = "cancelled"
	assert.Equal(t, []any{"active"}, approved.Params())

	rejected, verdict := v.Approve(&models.SynthesizedQuery{SQL: "DROP TABLE exchanges"})
	assert.False(t, verdict.Valid)
	assert.False(t, rejected.Approved())

	none, verdict := v.Approve(nil)
	assert.False(t, verdict.Valid)
	assert.False(t, none.Approved())

	var zero ApprovedQuery
	assert.False(t, zero.Approved())
}

func TestExtractTables(t *testing.T) {
	assert.Equal(t, []string{"contacts", "exchanges", "users"},
		ExtractTables("SELECT 1 FROM exchanges e LEFT JOIN contacts c ON c.id = e.client_id JOIN public.users u ON u.id = e.coordinator_id"))
	assert.Equal(t, []string{"pg_catalog.pg_user"}, ExtractTables("select * from pg_catalog.pg_user"))
	assert.Empty(t, ExtractTables("SELECT 1"))
}

package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSelectColumns(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected []ParsedColumn
	}{
		{
			name: "qualified list columns",
			sql:  "SELECT e.id, e.name, e.status FROM exchanges e LIMIT 50",
			expected: []ParsedColumn{
				{Name: "id", Table: "e", Expr: "e.id"},
				{Name: "name", Table: "e", Expr: "e.name"},
				{Name: "status", Table: "e", Expr: "e.status"},
			},
		},
		{
			name: "joined person names",
			sql:  "SELECT t.title, u.display_name AS assignee_name FROM tasks t LEFT JOIN users u ON u.id = t.assigned_to",
			expected: []ParsedColumn{
				{Name: "title", Table: "t", Expr: "t.title"},
				{Name: "assignee_name", Expr: "u.display_name AS assignee_name"},
			},
		},
		{
			name: "value aggregate",
			sql:  "SELECT COUNT(*) AS count, SUM(e.exchange_value) AS total_value, AVG(e.exchange_value) AS average_value FROM exchanges e",
			expected: []ParsedColumn{
				{Name: "count", Expr: "COUNT(*) AS count"},
				{Name: "total_value", Expr: "SUM(e.exchange_value) AS total_value"},
				{Name: "average_value", Expr: "AVG(e.exchange_value) AS average_value"},
			},
		},
		{
			name: "distinct",
			sql:  "SELECT DISTINCT c.state FROM contacts c",
			expected: []ParsedColumn{
				{Name: "state", Table: "c", Expr: "c.state"},
			},
		},
		{
			name: "lowercase keywords",
			sql:  "select m.body from messages m where m.sender_id = $1",
			expected: []ParsedColumn{
				{Name: "body", Table: "m", Expr: "m.body"},
			},
		},
		{
			name:     "select star",
			sql:      "SELECT * FROM documents",
			expected: nil,
		},
		{
			name:     "not a select",
			sql:      "VALUES (1)",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseSelectColumns(tt.sql)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSplitSelectColumns(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"simple columns", "e.id, e.name", []string{"e.id", " e.name"}},
		{"function with comma inside", "e.id, COALESCE(e.name, 'a,b')", []string{"e.id", " COALESCE(e.name, 'a,b')"}},
		{"nested functions", "ROUND(AVG(e.exchange_value), 2), COUNT(*)", []string{"ROUND(AVG(e.exchange_value), 2)", " COUNT(*)"}},
		{"single column", "id", []string{"id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, splitSelectColumns(tt.input))
		})
	}
}

func TestParseColumnExpression(t *testing.T) {
	tests := []struct {
		expr  string
		name  string
		table string
	}{
		{"name", "name", ""},
		{"e.name", "name", "e"},
		{"c.display_name AS client_name", "client_name", ""},
		{"u.display_name as coordinator_name", "coordinator_name", ""},
		{"COUNT(*)", "count", ""},
		{"COUNT(e.id) n", "n", ""},
		{"COALESCE(SUM(e.exchange_value), 0)", "coalesce", ""},
		{"CASE WHEN e.status = 'active' THEN 1 ELSE 0 END", "case_result", ""},
		{"CASE WHEN e.status = 'active' THEN 1 ELSE 0 END AS is_active", "is_active", ""},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			pc := parseColumnExpression(tt.expr)
			assert.Equal(t, tt.name, pc.Name)
			assert.Equal(t, tt.table, pc.Table)
			assert.Equal(t, tt.expr, pc.Expr)
		})
	}
}

func TestExtractColumnName(t *testing.T) {
	tests := []struct {
		expr     string
		expected string
	}{
		{"status", "status"},
		{"e.status", "status"},
		{"`status`", "status"},
		{`"status"`, "status"},
		{"SUM(e.exchange_value)", "sum"},
		{"CASE WHEN e.status = 'active' THEN 1 ELSE 0 END", "case_result"},
		{"case when t.priority > 2 then 'high' end", "case_result"},
		{"e.casework_notes", "casework_notes"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractColumnName(tt.expr))
		})
	}
}

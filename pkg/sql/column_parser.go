package sql

import (
	"regexp"
	"strings"
)

// ParsedColumn represents a column extracted from a SELECT statement.
type ParsedColumn struct {
	Name  string // The column name or alias
	Table string // Table alias qualifier, if any (e.g. "e" for "e.name")
	Expr  string // The full expression (e.g., "SUM(e.exchange_value)")
}

var (
	aliasPattern    = regexp.MustCompile(`(?i)\s+as\s+(\w+)\s*$`)
	funcPattern     = regexp.MustCompile(`^(\w+)\s*\(`)
	qualifiedColumn = regexp.MustCompile(`^(\w+)\.(\w+)$`)
	nonWordPattern  = regexp.MustCompile(`[^\w]`)
	selectListEnds  = []string{" from ", " where ", " group ", " order ", " limit ", " union ", " intersect ", " except ", ";"}
	aliasStopWords  = map[string]bool{"from": true, "where": true, "group": true, "order": true, "limit": true, "and": true, "or": true, "as": true, "end": true}
)

// ParseSelectColumns extracts output column names from a SELECT statement. It is a
// regex-based parser for the shapes the synthesizer produces: plain and qualified
// columns, AS aliases, and aggregate calls. SELECT * yields no columns.
func ParseSelectColumns(sql string) ([]ParsedColumn, error) {
	sql = strings.TrimSpace(sql)
	sqlLower := strings.ToLower(sql)

	selectIdx := strings.Index(sqlLower, "select")
	if selectIdx == -1 {
		return nil, nil
	}

	endIdx := len(sql)
	for _, keyword := range selectListEnds {
		if idx := strings.Index(sqlLower[selectIdx:], keyword); idx != -1 && selectIdx+idx < endIdx {
			endIdx = selectIdx + idx
		}
	}

	selectClause := strings.TrimSpace(sql[selectIdx+len("select") : endIdx])
	if lower := strings.ToLower(selectClause); strings.HasPrefix(lower, "distinct ") {
		selectClause = strings.TrimSpace(selectClause[len("distinct "):])
	}
	if strings.HasPrefix(selectClause, "*") {
		return nil, nil
	}

	var result []ParsedColumn
	for _, col := range splitSelectColumns(selectClause) {
		if col = strings.TrimSpace(col); col != "" {
			result = append(result, parseColumnExpression(col))
		}
	}
	return result, nil
}

// splitSelectColumns splits a SELECT column list by commas outside parentheses and quotes.
func splitSelectColumns(selectClause string) []string {
	var columns []string
	var current strings.Builder
	depth := 0
	inQuote := false

	for _, ch := range selectClause {
		switch {
		case ch == '\'':
			inQuote = !inQuote
		case inQuote:
		case ch == '(':
			depth++
		case ch == ')':
			depth--
		case ch == ',' && depth == 0:
			columns = append(columns, current.String())
			current.Reset()
			continue
		}
		current.WriteRune(ch)
	}
	if current.Len() > 0 {
		columns = append(columns, current.String())
	}
	return columns
}

// parseColumnExpression resolves the output name of one select-list expression:
// "e.name" → name, "name AS client" → client, "COUNT(*)" → count, "COUNT(*) n" → n.
func parseColumnExpression(expr string) ParsedColumn {
	expr = strings.TrimSpace(expr)
	pc := ParsedColumn{Expr: expr}

	if m := aliasPattern.FindStringSubmatch(expr); m != nil {
		pc.Name = strings.ToLower(m[1])
		return pc
	}

	if isCaseExpression(expr) {
		pc.Name = "case_result"
		return pc
	}

	if strings.Count(expr, "(") == strings.Count(expr, ")") {
		if parts := strings.Fields(expr); len(parts) > 1 {
			last := parts[len(parts)-1]
			if !strings.ContainsAny(last, "()") && !aliasStopWords[strings.ToLower(last)] {
				pc.Name = last
				return pc
			}
		}
	}

	if m := qualifiedColumn.FindStringSubmatch(expr); m != nil {
		pc.Table = m[1]
	}
	pc.Name = extractColumnName(expr)
	return pc
}

// extractColumnName extracts a column name from an expression without an alias.
func extractColumnName(expr string) string {
	expr = strings.TrimSpace(expr)

	if m := funcPattern.FindStringSubmatch(expr); m != nil {
		return strings.ToLower(m[1])
	}
	if isCaseExpression(expr) {
		return "case_result"
	}
	if dot := strings.LastIndex(expr, "."); dot != -1 {
		expr = expr[dot+1:]
	}

	name := strings.TrimSpace(strings.Trim(expr, "`\"[]"))
	return strings.ToLower(nonWordPattern.ReplaceAllString(name, ""))
}

func isCaseExpression(expr string) bool {
	fields := strings.Fields(expr)
	return len(fields) > 0 && strings.EqualFold(fields[0], "case")
}

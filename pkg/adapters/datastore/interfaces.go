// Package datastore defines the external data store the query engine reads from: a privileged
// entry point for validated SELECTs, typed per-entity accessors for the degraded path, and
// schema introspection for the catalog.
package datastore

import (
	"context"

	sqlvalidator "github.com/ekaya-inc/exchange-query-engine/pkg/sql"
)

// MaxRows is the hard cap on rows returned by any data store call.
const MaxRows = 1000

// SafeQueryExecutor runs statements the safety validator approved.
// It is the only path that can run joins and pattern filters.
type SafeQueryExecutor interface {
	// Execute runs an approved statement in a read-only transaction.
	// Returns apperrors.ErrNotApproved for a zero-value ApprovedQuery.
	Execute(ctx context.Context, q sqlvalidator.ApprovedQuery) (*QueryResult, error)
}

// Accessors are the typed list calls available when the privileged path is down.
// Every call is single-table; a nil or zero filter lists the most recent rows.
type Accessors interface {
	ListExchanges(ctx context.Context, filter ListFilter) ([]map[string]any, error)
	ListUsers(ctx context.Context, filter ListFilter) ([]map[string]any, error)
	ListTasks(ctx context.Context, filter ListFilter) ([]map[string]any, error)
	ListContacts(ctx context.Context, filter ListFilter) ([]map[string]any, error)
	ListDocuments(ctx context.Context, limit int) ([]map[string]any, error)
	ListMessages(ctx context.Context, limit int) ([]map[string]any, error)
}

// SchemaIntrospector reads live table metadata for the schema catalog.
type SchemaIntrospector interface {
	// DiscoverColumns returns the columns of the named tables in the public schema, keyed by table.
	DiscoverColumns(ctx context.Context, tables []string) (map[string][]Column, error)

	// DiscoverForeignKeys returns every foreign key between tables in the public schema.
	DiscoverForeignKeys(ctx context.Context) ([]ForeignKey, error)
}

// ListFilter narrows a typed accessor call. Statuses are matched exactly; Active applies to users.
type ListFilter struct {
	Statuses []string
	Active   *bool
	Limit    int
}

// EffectiveLimit clamps Limit to (0, MaxRows].
func (f ListFilter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > MaxRows {
		return MaxRows
	}
	return f.Limit
}

// ColumnInfo describes one result column.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult contains the rows of one executed statement.
type QueryResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	// Truncated is set when the statement produced more than MaxRows rows.
	Truncated bool `json:"truncated,omitempty"`
}

// Column is one introspected table column.
type Column struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	IsNullable bool   `json:"is_nullable"`
	IsPrimary  bool   `json:"is_primary"`
}

// ForeignKey is one introspected foreign key.
type ForeignKey struct {
	Table            string `json:"table"`
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

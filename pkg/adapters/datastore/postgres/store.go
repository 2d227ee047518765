// Package postgres implements the data store on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/exchange-query-engine/pkg/adapters/datastore"
)

// DefaultStatementTimeout bounds a single statement on the server side.
const DefaultStatementTimeout = 10 * time.Second

// Pool is the subset of *pgxpool.Pool the store needs.
type Pool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store reads the case-management database. Every statement runs in a read-only
// transaction with a local statement_timeout.
type Store struct {
	pool             Pool
	statementTimeout time.Duration
	logger           *zap.Logger
}

// NewStore creates a Store. A non-positive timeout uses DefaultStatementTimeout.
// If logger is nil, a no-op logger is used.
func NewStore(pool Pool, statementTimeout time.Duration, logger *zap.Logger) *Store {
	if statementTimeout <= 0 {
		statementTimeout = DefaultStatementTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:             pool,
		statementTimeout: statementTimeout,
		logger:           logger.Named("datastore"),
	}
}

// readOnly runs fn inside a read-only transaction that is always rolled back.
func (s *Store) readOnly(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("Rollback after read failed", zap.Error(rbErr))
		}
	}()

	// SET does not accept bind parameters; the value is an integer we format ourselves.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", s.statementTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set statement timeout: %w", err)
	}

	return fn(tx)
}

// collectRows reads at most MaxRows rows into maps keyed by column name.
func collectRows(rows pgx.Rows) (*datastore.QueryResult, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]datastore.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = datastore.ColumnInfo{
			Name: fd.Name,
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	result := &datastore.QueryResult{
		Columns: columns,
		Rows:    make([]map[string]any, 0),
	}
	for rows.Next() {
		if len(result.Rows) == datastore.MaxRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col.Name] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

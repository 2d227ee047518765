package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/exchange-query-engine/pkg/adapters/datastore"
	"github.com/ekaya-inc/exchange-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/exchange-query-engine/pkg/logging"
	sqlvalidator "github.com/ekaya-inc/exchange-query-engine/pkg/sql"
)

// Execute runs an approved statement with its bound parameters.
// pgx sends parameters separately from the statement text, so user-derived values never reach the parser.
func (s *Store) Execute(ctx context.Context, q sqlvalidator.ApprovedQuery) (*datastore.QueryResult, error) {
	if !q.Approved() {
		return nil, apperrors.ErrNotApproved
	}

	params := q.Params()
	s.logger.Debug("Executing approved query",
		zap.String("sql", logging.SanitizeQuery(q.SQL())),
		zap.Strings("param_kinds", logging.ParamKinds(params)))

	var result *datastore.QueryResult
	err := s.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, q.SQL(), params...)
		if err != nil {
			return fmt.Errorf("execute query: %w", err)
		}
		result, err = collectRows(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

var _ datastore.SafeQueryExecutor = (*Store)(nil)

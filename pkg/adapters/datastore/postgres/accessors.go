package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/exchange-query-engine/pkg/adapters/datastore"
	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

type accessorSpec struct {
	table        string
	columns      string
	statusColumn string
}

// Fixed single-table statements for the degraded path. Only filter values are parameters.
var accessorSpecs = map[models.Entity]accessorSpec{
	models.EntityExchanges: {
		table:        "exchanges",
		columns:      "id, exchange_number, name, status, property_city, property_state, exchange_value, identification_deadline, completion_deadline, created_at",
		statusColumn: "status",
	},
	models.EntityUsers: {
		table:   "users",
		columns: "id, first_name, last_name, display_name, email, role, is_active, created_at",
	},
	models.EntityTasks: {
		table:        "tasks",
		columns:      "id, title, status, priority, exchange_id, due_date, created_at",
		statusColumn: "status",
	},
	models.EntityContacts: {
		table:   "contacts",
		columns: "id, first_name, last_name, company, display_name, email, city, state, created_at",
	},
	models.EntityDocuments: {
		table:   "documents",
		columns: "id, exchange_id, file_name, category, created_at",
	},
	models.EntityMessages: {
		table:   "messages",
		columns: "id, exchange_id, content, created_at",
	},
}

// listStatement builds the accessor SELECT for an entity. Filters the entity cannot
// apply are an error rather than silently dropped.
func listStatement(entity models.Entity, filter datastore.ListFilter) (string, []any, error) {
	spec, ok := accessorSpecs[entity]
	if !ok {
		return "", nil, fmt.Errorf("no accessor for %q", entity)
	}

	var where []string
	var params []any
	if len(filter.Statuses) > 0 {
		if spec.statusColumn == "" {
			return "", nil, fmt.Errorf("%s has no status column", entity)
		}
		params = append(params, filter.Statuses)
		where = append(where, fmt.Sprintf("%s = ANY($%d)", spec.statusColumn, len(params)))
	}
	if filter.Active != nil {
		if entity != models.EntityUsers {
			return "", nil, fmt.Errorf("%s has no active flag", entity)
		}
		params = append(params, *filter.Active)
		where = append(where, fmt.Sprintf("is_active = $%d", len(params)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", spec.columns, spec.table)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id LIMIT %d", filter.EffectiveLimit())
	return b.String(), params, nil
}

func (s *Store) list(ctx context.Context, entity models.Entity, filter datastore.ListFilter) ([]map[string]any, error) {
	stmt, params, err := listStatement(entity, filter)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Listing through typed accessor",
		zap.String("entity", string(entity)),
		zap.Int("param_count", len(params)))

	var result *datastore.QueryResult
	err = s.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, stmt, params...)
		if err != nil {
			return fmt.Errorf("list %s: %w", entity, err)
		}
		result, err = collectRows(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result.Rows, nil
}

func (s *Store) ListExchanges(ctx context.Context, filter datastore.ListFilter) ([]map[string]any, error) {
	return s.list(ctx, models.EntityExchanges, filter)
}

func (s *Store) ListUsers(ctx context.Context, filter datastore.ListFilter) ([]map[string]any, error) {
	return s.list(ctx, models.EntityUsers, filter)
}

func (s *Store) ListTasks(ctx context.Context, filter datastore.ListFilter) ([]map[string]any, error) {
	return s.list(ctx, models.EntityTasks, filter)
}

func (s *Store) ListContacts(ctx context.Context, filter datastore.ListFilter) ([]map[string]any, error) {
	return s.list(ctx, models.EntityContacts, filter)
}

func (s *Store) ListDocuments(ctx context.Context, limit int) ([]map[string]any, error) {
	return s.list(ctx, models.EntityDocuments, datastore.ListFilter{Limit: limit})
}

func (s *Store) ListMessages(ctx context.Context, limit int) ([]map[string]any, error) {
	return s.list(ctx, models.EntityMessages, datastore.ListFilter{Limit: limit})
}

var _ datastore.Accessors = (*Store)(nil)

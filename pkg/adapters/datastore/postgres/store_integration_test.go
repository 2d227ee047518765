//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/exchange-query-engine/pkg/adapters/datastore"
	"github.com/ekaya-inc/exchange-query-engine/pkg/extract"
	sqlvalidator "github.com/ekaya-inc/exchange-query-engine/pkg/sql"
	"github.com/ekaya-inc/exchange-query-engine/pkg/synth"
	"github.com/ekaya-inc/exchange-query-engine/pkg/testhelpers"
)

func seed(t *testing.T, tdb *testhelpers.TestDB) {
	t.Helper()
	tdb.Reset(t)
	ctx := context.Background()

	stmts := []string{
		`INSERT INTO users (id, first_name, last_name, display_name, email, is_active) VALUES
			('11111111-1111-4111-8111-111111111111', 'Dana', 'Reyes', 'Dana Reyes', 'dana@example.com', true),
			('22222222-2222-4222-8222-222222222222', 'Sam', 'Ortiz', 'Sam Ortiz', 'sam@example.com', false)`,
		`INSERT INTO contacts (id, first_name, last_name, display_name, city, state) VALUES
			('33333333-3333-4333-8333-333333333333', 'Yechiel', 'Katzovitz', 'Yechiel Katzovitz', 'Austin', 'TX'),
			('44444444-4444-4444-8444-444444444444', 'Ana', 'Lopez', 'Ana Lopez', 'Denver', 'CO')`,
		`INSERT INTO exchanges (exchange_number, name, status, client_id, coordinator_id, property_state, exchange_value) VALUES
			('EX-1001', 'Katzovitz Duplex', 'active', '33333333-3333-4333-8333-333333333333', '11111111-1111-4111-8111-111111111111', 'TX', 1500000),
			('EX-1002', 'Lopez Retail', 'on_hold', '44444444-4444-4444-8444-444444444444', '11111111-1111-4111-8111-111111111111', 'CO', 3000000),
			('EX-1003', 'Katzovitz Land', 'completed', '33333333-3333-4333-8333-333333333333', '11111111-1111-4111-8111-111111111111', 'TX', 500000)`,
		`INSERT INTO tasks (title, status, assigned_to) VALUES
			('Collect 45-day ID letter', 'BLOCKED', '11111111-1111-4111-8111-111111111111'),
			('Order title', 'PENDING', '11111111-1111-4111-8111-111111111111')`,
	}
	for _, s := range stmts {
		_, err := tdb.DB.Exec(ctx, s)
		require.NoError(t, err)
	}
}

func approveText(t *testing.T, text string) sqlvalidator.ApprovedQuery {
	t.Helper()
	now := func() time.Time { return time.Now() }
	m := extract.NewPipeline(extract.DefaultRules(now)...).Extract(text)
	s := synth.New(synth.DefaultListLimit)
	in, ok := s.DetectIntent(text, m)
	require.True(t, ok)
	q, err := s.Synthesize(in, m, "")
	require.NoError(t, err)
	approved, verdict := sqlvalidator.NewValidator().Approve(q)
	require.True(t, verdict.Valid, "violations: %v", verdict.Violations)
	return approved
}

func TestStore_ExecuteApprovedQueries(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	seed(t, tdb)
	store := NewStore(tdb.DB.Pool, 5*time.Second, zap.NewNop())
	ctx := context.Background()

	res, err := store.Execute(ctx, approveText(t, "How many exchanges are in the system?"))
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(3), res.Rows[0]["count"])

	res, err = store.Execute(ctx, approveText(t, "How many exchanges are with Katzovitz, Yechiel?"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows[0]["count"])

	res, err = store.Execute(ctx, approveText(t, "exchanges on hold"))
	require.NoError(t, err)
	require.Equal(t, 1, res.RowCount)
	assert.Equal(t, "EX-1002", res.Rows[0]["exchange_number"])
	assert.NotEmpty(t, res.Columns)
}

func TestStore_Accessors(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	seed(t, tdb)
	store := NewStore(tdb.DB.Pool, 5*time.Second, zap.NewNop())
	ctx := context.Background()

	rows, err := store.ListExchanges(ctx, datastore.ListFilter{Statuses: []string{"active", "in_progress"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "active", rows[0]["status"])
	assert.IsType(t, "", rows[0]["id"], "uuids are returned as strings")
	assert.Equal(t, 1500000.0, rows[0]["exchange_value"])

	inactive := false
	users, err := store.ListUsers(ctx, datastore.ListFilter{Active: &inactive})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Sam Ortiz", users[0]["display_name"])

	tasks, err := store.ListTasks(ctx, datastore.ListFilter{Statuses: []string{"BLOCKED"}, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	contacts, err := store.ListContacts(ctx, datastore.ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, contacts, 1)

	docs, err := store.ListDocuments(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestStore_SchemaIntrospection(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	store := NewStore(tdb.DB.Pool, 5*time.Second, zap.NewNop())
	ctx := context.Background()

	cols, err := store.DiscoverColumns(ctx, []string{"exchanges", "tasks"})
	require.NoError(t, err)
	require.Contains(t, cols, "exchanges")

	var sawPK bool
	for _, c := range cols["exchanges"] {
		if c.Name == "id" {
			sawPK = c.IsPrimary
		}
	}
	assert.True(t, sawPK, "exchanges.id is the primary key")

	fks, err := store.DiscoverForeignKeys(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, fks)
}

package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/exchange-query-engine/pkg/adapters/datastore"
	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

type mockIntrospector struct {
	columns    map[string][]datastore.Column
	fks        []datastore.ForeignKey
	columnsErr error
	fkErr      error
	calls      int
}

func (m *mockIntrospector) DiscoverColumns(_ context.Context, _ []string) (map[string][]datastore.Column, error) {
	m.calls++
	return m.columns, m.columnsErr
}

func (m *mockIntrospector) DiscoverForeignKeys(_ context.Context) ([]datastore.ForeignKey, error) {
	return m.fks, m.fkErr
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestCachedCatalog_DeclaredSchemaWithoutIntrospector(t *testing.T) {
	c := NewCachedCatalog(Options{}, zap.NewNop())
	ctx := context.Background()

	tables, err := c.GetTables(ctx)
	require.NoError(t, err)
	assert.Len(t, tables, len(models.CaseTables))
	assert.Contains(t, tables, "exchanges")
	assert.NotEmpty(t, tables["exchanges"].Description)

	rels, err := c.GetRelationships(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.CaseRelationships, rels)

	rules, err := c.GetBusinessRules(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, rules.Rules)
	assert.Contains(t, rules.Text(), "identification_deadline: ")
}

func TestCachedCatalog_MergesLiveColumns(t *testing.T) {
	intro := &mockIntrospector{
		columns: map[string][]datastore.Column{
			"exchanges": {
				{Name: "id", DataType: "uuid", IsPrimary: true},
				{Name: "identification_deadline", DataType: "date"},
				{Name: "escrow_officer", DataType: "text"},
			},
			"audit_log": {{Name: "id", DataType: "bigint"}},
		},
		fks: []datastore.ForeignKey{
			{Table: "tasks", Column: "exchange_id", ReferencedTable: "exchanges", ReferencedColumn: "id"},
			{Table: "exchanges", Column: "client_id", ReferencedTable: "contacts", ReferencedColumn: "id"},
			{Table: "audit_log", Column: "user_id", ReferencedTable: "users", ReferencedColumn: "id"},
		},
	}
	c := NewCachedCatalog(Options{Introspector: intro}, zap.NewNop())
	ctx := context.Background()

	tables, err := c.GetTables(ctx)
	require.NoError(t, err)
	assert.NotContains(t, tables, "audit_log")
	require.Len(t, tables["exchanges"].Columns, 3)
	assert.Equal(t, "45 days after sale_date", tables["exchanges"].Columns[1].Description)
	assert.Equal(t, "escrow_officer", tables["exchanges"].Columns[2].Name)
	assert.Len(t, tables["users"].Columns, len(models.CaseTables[2].Columns), "tables missing from introspection keep declared columns")

	rels, err := c.GetRelationships(ctx)
	require.NoError(t, err)
	require.Len(t, rels, 2)
	assert.Equal(t, "exchanges", rels[0].FromTable)
	assert.Equal(t, "tasks", rels[1].FromTable)
}

func TestCachedCatalog_FallsBackWhenIntrospectionFails(t *testing.T) {
	intro := &mockIntrospector{columnsErr: errors.New("connection refused")}
	c := NewCachedCatalog(Options{Introspector: intro}, zap.NewNop())

	tables, err := c.GetTables(context.Background())
	require.NoError(t, err)
	assert.Len(t, tables["exchanges"].Columns, len(models.CaseTables[0].Columns))
}

func TestCachedCatalog_RetriesIntrospectionSoonAfterFailure(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)}
	intro := &mockIntrospector{columnsErr: errors.New("connection refused")}
	c := NewCachedCatalog(Options{Introspector: intro, TTL: 30 * time.Minute, RetryTTL: time.Minute, Now: clock.now}, zap.NewNop())
	ctx := context.Background()

	tables, err := c.GetTables(ctx)
	require.NoError(t, err)
	assert.Len(t, tables["exchanges"].Columns, len(models.CaseTables[0].Columns))
	assert.Equal(t, 1, intro.calls)

	clock.t = clock.t.Add(30 * time.Second)
	_, err = c.GetTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, intro.calls, "fallback is still served inside the retry window")

	intro.columnsErr = nil
	intro.columns = map[string][]datastore.Column{
		"exchanges": {{Name: "id", DataType: "uuid", IsPrimary: true}},
	}
	clock.t = clock.t.Add(time.Minute)
	tables, err = c.GetTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, intro.calls)
	assert.Len(t, tables["exchanges"].Columns, 1)

	// A good snapshot keeps the full TTL.
	clock.t = clock.t.Add(10 * time.Minute)
	_, err = c.GetTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, intro.calls)
}

func TestCachedCatalog_ForeignKeyFailureAlsoRetriesSoon(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)}
	intro := &mockIntrospector{fkErr: errors.New("timeout")}
	c := NewCachedCatalog(Options{Introspector: intro, Now: clock.now}, zap.NewNop())
	ctx := context.Background()

	_, err := c.GetRelationships(ctx)
	require.NoError(t, err)
	clock.t = clock.t.Add(DefaultRetryTTL)
	_, err = c.GetRelationships(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, intro.calls)
}

func TestCachedCatalog_RebuildsAfterTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)}
	intro := &mockIntrospector{}
	c := NewCachedCatalog(Options{Introspector: intro, TTL: 30 * time.Minute, Now: clock.now}, zap.NewNop())
	ctx := context.Background()

	_, err := c.GetTables(ctx)
	require.NoError(t, err)
	_, err = c.GetRelationships(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, intro.calls)

	clock.t = clock.t.Add(29 * time.Minute)
	_, err = c.GetTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, intro.calls)

	clock.t = clock.t.Add(2 * time.Minute)
	_, err = c.GetTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, intro.calls)
}

func TestCachedCatalog_BusinessRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: custom\n    tables: [tasks]\n    description: Custom rule.\n"), 0o644))

	c := NewCachedCatalog(Options{BusinessRulesPath: path}, zap.NewNop())
	rules, err := c.GetBusinessRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules.Rules, 1)
	assert.Equal(t, "custom: Custom rule.\n", rules.Text())

	missing := NewCachedCatalog(Options{BusinessRulesPath: filepath.Join(t.TempDir(), "none.yaml")}, zap.NewNop())
	_, err = missing.GetTables(context.Background())
	assert.Error(t, err)
}

func TestParseBusinessRules(t *testing.T) {
	_, err := ParseBusinessRules([]byte("rules:\n  - description: no name\n"))
	assert.Error(t, err)

	_, err = ParseBusinessRules([]byte("rules: [\n"))
	assert.Error(t, err)

	rules, err := ParseBusinessRules(defaultBusinessRules)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(rules.Rules), 5)
}

package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/exchange-query-engine/pkg/adapters/datastore"
	"github.com/ekaya-inc/exchange-query-engine/pkg/extract"
	"github.com/ekaya-inc/exchange-query-engine/pkg/learning"
	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
	sqlvalidator "github.com/ekaya-inc/exchange-query-engine/pkg/sql"
	"github.com/ekaya-inc/exchange-query-engine/pkg/synth"
)

var testNow = time.Date(2025, time.March, 12, 15, 4, 5, 0, time.UTC)

func testClock() time.Time { return testNow }

// mockExecutor is the privileged entry point.
type mockExecutor struct {
	mu          sync.Mutex
	result      *datastore.QueryResult
	err         error
	calls       int
	lastSQL     string
	hadDeadline bool
}

func (m *mockExecutor) Execute(ctx context.Context, q sqlvalidator.ApprovedQuery) (*datastore.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastSQL = q.SQL()
	_, m.hadDeadline = ctx.Deadline()
	if m.err != nil {
		return nil, m.err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return m.result, nil
}

// mockAccessors records the typed accessor calls made by the degraded path.
type mockAccessors struct {
	rows       []map[string]any
	err        error
	calls      []string
	lastFilter datastore.ListFilter
	lastLimit  int
}

func (m *mockAccessors) list(name string, filter datastore.ListFilter) ([]map[string]any, error) {
	m.calls = append(m.calls, name)
	m.lastFilter = filter
	if m.err != nil {
		return nil, m.err
	}
	return m.rows, nil
}

func (m *mockAccessors) ListExchanges(_ context.Context, filter datastore.ListFilter) ([]map[string]any, error) {
	return m.list("exchanges", filter)
}

func (m *mockAccessors) ListUsers(_ context.Context, filter datastore.ListFilter) ([]map[string]any, error) {
	return m.list("users", filter)
}

func (m *mockAccessors) ListTasks(_ context.Context, filter datastore.ListFilter) ([]map[string]any, error) {
	return m.list("tasks", filter)
}

func (m *mockAccessors) ListContacts(_ context.Context, filter datastore.ListFilter) ([]map[string]any, error) {
	return m.list("contacts", filter)
}

func (m *mockAccessors) ListDocuments(_ context.Context, limit int) ([]map[string]any, error) {
	m.lastLimit = limit
	return m.list("documents", datastore.ListFilter{Limit: limit})
}

func (m *mockAccessors) ListMessages(_ context.Context, limit int) ([]map[string]any, error) {
	m.lastLimit = limit
	return m.list("messages", datastore.ListFilter{Limit: limit})
}

// mockLearner keeps every recorded outcome.
type mockLearner struct {
	mu          sync.Mutex
	outcomes    []models.QueryOutcome
	suggestions []learning.Suggestion
}

func (m *mockLearner) Record(o *models.QueryOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, *o)
}

func (m *mockLearner) Suggest(_, _ string, limit int) []learning.Suggestion {
	if len(m.suggestions) > limit {
		return m.suggestions[:limit]
	}
	return m.suggestions
}

func (m *mockLearner) Stats() learning.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return learning.Stats{TotalQueries: len(m.outcomes)}
}

func (m *mockLearner) recorded() []models.QueryOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.QueryOutcome(nil), m.outcomes...)
}

// approve runs text through extraction, synthesis and validation.
func approve(t *testing.T, text string) sqlvalidator.ApprovedQuery {
	t.Helper()
	p := extract.NewPipeline(extract.DefaultRules(testClock)...)
	s := synth.New(synth.DefaultListLimit)
	m := p.Extract(text)
	in, ok := s.DetectIntent(text, m)
	require.True(t, ok, "no intent for %q", text)
	q, err := s.Synthesize(in, m, "")
	require.NoError(t, err)
	approved, verdict := sqlvalidator.NewValidator().Approve(q)
	require.True(t, verdict.Valid, "violations: %v", verdict.Violations)
	return approved
}

func rowsOf(n int) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{"id": i + 1}
	}
	return rows
}

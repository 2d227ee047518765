package synth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/exchange-query-engine/pkg/extract"
	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

var testNow = time.Date(2025, time.March, 12, 15, 4, 5, 0, time.UTC)

func build(t *testing.T, text, userID string) (*models.SynthesizedQuery, error) {
	t.Helper()
	p := extract.NewPipeline(extract.DefaultRules(func() time.Time { return testNow })...)
	s := New(50)
	m := p.Extract(text)
	in, ok := s.DetectIntent(text, m)
	require.True(t, ok, "no intent for %q", text)
	return s.Synthesize(in, m, userID)
}

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		text   string
		entity models.Entity
		shape  models.Shape
		limit  int
	}{
		{"How many exchanges are in the system?", models.EntityExchanges, models.ShapeCount, 50},
		{"Show me all exchanges", models.EntityExchanges, models.ShapeList, 50},
		{"top 10 exchanges", models.EntityExchanges, models.ShapeList, 10},
		{"latest five tasks", models.EntityTasks, models.ShapeList, 5},
		{"top 500 contacts", models.EntityContacts, models.ShapeList, 50},
		{"latest 3 months of documents", models.EntityDocuments, models.ShapeList, 50},
		{"what is the total value of exchanges", models.EntityExchanges, models.ShapeAggregate, 50},
		{"count of open tasks", models.EntityTasks, models.ShapeCount, 50},
	}

	s := New(50)
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			in, ok := s.DetectIntent(tt.text, nil)
			require.True(t, ok)
			assert.Equal(t, tt.entity, in.Entity)
			assert.Equal(t, tt.shape, in.Shape)
			assert.Equal(t, tt.limit, in.Limit)
		})
	}

	_, ok := s.DetectIntent("what is going on", nil)
	assert.False(t, ok)
}

func TestSynthesize_CountVersusList(t *testing.T) {
	count, err := build(t, "How many exchanges are in the system?", "")
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) AS count FROM exchanges e", count.SQL)
	assert.Equal(t, models.ShapeCount, count.Shape)
	assert.Empty(t, count.Params)
	assert.False(t, count.HasJoin)

	list, err := build(t, "Show me all exchanges", "")
	require.NoError(t, err)
	assert.Equal(t, models.ShapeList, list.Shape)
	assert.True(t, strings.HasPrefix(list.SQL, "SELECT e.id, e.exchange_number"))
	assert.Contains(t, list.SQL, "ORDER BY e.created_at DESC, e.id LIMIT 50")
	assert.Equal(t, 50, list.Limit)
	assert.Equal(t, []string{"exchanges"}, list.Tables)
	assert.Equal(t, "exchanges.list.all", list.Template)
}

func TestSynthesize_NameFilter(t *testing.T) {
	q, err := build(t, "How many exchanges are with Katzovitz, Yechiel?", "")
	require.NoError(t, err)

	assert.Equal(t, models.ShapeCount, q.Shape)
	assert.True(t, q.HasJoin)
	assert.True(t, q.HasPatternFilter)
	assert.Equal(t, []string{"contacts", "exchanges", "users"}, q.Tables)
	assert.Equal(t, []any{"%Katzovitz%", "%Yechiel%"}, q.Params)
	assert.Contains(t, q.SQL, "LEFT JOIN contacts c ON c.id = e.client_id")
	assert.Contains(t, q.SQL, "LEFT JOIN users u ON u.id = e.coordinator_id")
	assert.Contains(t, q.SQL, "CONCAT(c.first_name, ' ', c.last_name) ILIKE $1")
	assert.Contains(t, q.SQL, "u.last_name ILIKE $2")
	assert.NotContains(t, q.SQL, "Katzovitz")
}

func TestSynthesize_LastNameOnly(t *testing.T) {
	q, err := build(t, "contacts where last name contains 'smith'", "")
	require.NoError(t, err)
	assert.Equal(t, models.EntityContacts, q.Entity)
	assert.False(t, q.HasJoin)
	assert.Contains(t, q.SQL, "WHERE (c.last_name ILIKE $1)")
	assert.Equal(t, []any{"%Smith%"}, q.Params)
}

func TestSynthesize_QuotedLastNameOnExchanges(t *testing.T) {
	q, err := build(t, "Show exchanges with last name contains 'smith'", "")
	require.NoError(t, err)
	assert.Equal(t, models.EntityExchanges, q.Entity)
	require.Len(t, q.Params, 1)
	assert.Equal(t, "%Smith%", q.Params[0])
	assert.Contains(t, q.SQL, "c.last_name ILIKE $1")
	assert.NotContains(t, q.SQL, "Smith")
}

func TestSynthesize_DeadlineWithCoordinator(t *testing.T) {
	q, err := build(t, "exchanges approaching their 45-day deadline where the coordinator is named Johnson", "")
	require.NoError(t, err)
	assert.Equal(t, "exchanges.list.deadline", q.Template)
	assert.Contains(t, q.SQL, "e.identification_deadline BETWEEN $2 AND $3")
	assert.Contains(t, q.SQL, "u.last_name ILIKE $4")
	assert.NotContains(t, q.SQL, "contacts")
	assert.Equal(t, "e.identification_deadline ASC", q.OrderBy)
	assert.Contains(t, q.SQL, "u.display_name AS coordinator_name")
	require.Len(t, q.Params, 4)
	assert.Equal(t, []string{"completed", "cancelled"}, q.Params[0])
	assert.Equal(t, "%Johnson%", q.Params[3])
}

func TestSynthesize_Filters(t *testing.T) {
	tests := []struct {
		text     string
		contains []string
		params   int
		orderBy  string
	}{
		{"exchanges in Texas", []string{"UPPER(e.property_state) = $1"}, 1, "e.created_at DESC"},
		{"contacts in Austin", []string{"UPPER(c.state) = $1", "LOWER(c.city) = $2"}, 2, "c.created_at DESC"},
		{"exchanges over $2 million", []string{"e.exchange_value >= $1"}, 1, "e.exchange_value DESC"},
		{"active exchanges", []string{"e.status = ANY($1)"}, 1, "e.created_at DESC"},
		{"blocked tasks", []string{"t.status = $1"}, 1, "t.created_at DESC"},
		{"inactive users", []string{"u.is_active = $1"}, 1, "u.created_at DESC"},
		{"exchanges created in the last 30 days", []string{"e.created_at >= $1", "e.created_at < $2"}, 2, "e.created_at DESC"},
		{"tasks due this week", []string{"t.due_date >= $1"}, 2, "t.due_date ASC"},
		{"show overdue tasks", []string{"t.status <> $1", "t.due_date < $2"}, 2, "t.due_date ASC"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			q, err := build(t, tt.text, "")
			require.NoError(t, err)
			for _, c := range tt.contains {
				assert.Contains(t, q.SQL, c)
			}
			assert.Len(t, q.Params, tt.params)
			assert.Equal(t, tt.orderBy, q.OrderBy)
			assert.False(t, q.HasJoin)
		})
	}
}

func TestSynthesize_Relationship(t *testing.T) {
	q, err := build(t, "how many exchanges per coordinator", "")
	require.NoError(t, err)
	assert.Equal(t, models.ShapeAggregate, q.Shape)
	assert.Contains(t, q.SQL, "SELECT u.display_name AS coordinator_name, COUNT(e.id) AS exchanges_count")
	assert.Contains(t, q.SQL, " JOIN users u ON u.id = e.coordinator_id")
	assert.NotContains(t, q.SQL, "LEFT JOIN")
	assert.Contains(t, q.SQL, "GROUP BY u.id, u.display_name")

	mine, err := build(t, "show my exchanges", "0b9a7c52-4a5e-4a57-a9de-0fe1a0b6d0b4")
	require.NoError(t, err)
	assert.Contains(t, mine.SQL, "WHERE e.coordinator_id = $1")
	assert.Equal(t, []any{"0b9a7c52-4a5e-4a57-a9de-0fe1a0b6d0b4"}, mine.Params)

	_, err = build(t, "show my exchanges", "")
	assert.ErrorIs(t, err, ErrUserRequired)
}

func TestSynthesize_RelationshipGroupPhrasings(t *testing.T) {
	for _, text := range []string{
		"How many exchanges does each coordinator have?",
		"count exchanges by coordinator",
		"number of exchanges for every coordinator",
	} {
		t.Run(text, func(t *testing.T) {
			q, err := build(t, text, "")
			require.NoError(t, err)
			assert.Equal(t, models.ShapeAggregate, q.Shape)
			assert.Contains(t, q.SQL, "GROUP BY u.id, u.display_name")
		})
	}

	q, err := build(t, "how many exchanges have a coordinator", "")
	require.NoError(t, err)
	assert.Equal(t, models.ShapeCount, q.Shape)
}

func TestSynthesize_ValueAggregate(t *testing.T) {
	q, err := build(t, "total value of exchanges in Florida", "")
	require.NoError(t, err)
	assert.Equal(t, models.ShapeAggregate, q.Shape)
	assert.True(t, strings.HasPrefix(q.SQL, "SELECT COUNT(*) AS count, COALESCE(SUM(e.exchange_value), 0) AS total_value"))
	assert.Contains(t, q.SQL, "WHERE UPPER(e.property_state) = $1")
}

func TestSynthesize_NoTemplate(t *testing.T) {
	for _, text := range []string{
		"documents over $5 million",
		"messages in Texas",
		"documents named Smith",
		"contacts approaching the 180-day deadline",
	} {
		t.Run(text, func(t *testing.T) {
			p := extract.NewPipeline(extract.DefaultRules(func() time.Time { return testNow })...)
			s := New(50)
			m := p.Extract(text)
			require.NotNil(t, m)
			in, ok := s.DetectIntent(text, m)
			require.True(t, ok)
			// The deadline rule always targets exchanges or tasks; force the entity the user named.
			if e, found := extract.DetectEntity(text); found {
				in.Entity = e
			}
			q, err := s.Synthesize(in, m, "")
			assert.Nil(t, q)
			assert.True(t, errors.Is(err, ErrNoTemplate), "got %v", err)
		})
	}
}

func TestSynthesize_TablesAlwaysAllowlisted(t *testing.T) {
	allowed := map[string]bool{}
	for _, name := range models.AllowedTables() {
		allowed[name] = true
	}

	subjects := []string{"exchanges", "contacts", "users", "tasks", "documents", "messages", "clients", "coordinators"}
	phrasings := []string{
		"how many %s", "show %s", "top 7 %s", "%s named Smith", "%s with John Smith",
		"%s approaching the 45-day deadline", "%s that missed the 180 day deadline",
		"%s created this quarter", "%s before January 2024", "%s in Ohio", "%s in Dallas, TX",
		"%s over 500k", "%s between $1M and $3M", "active %s", "inactive %s", "completed %s",
		"my %s", "%s per coordinator", "how many %s per client", "total value of %s",
	}

	p := extract.NewPipeline(extract.DefaultRules(func() time.Time { return testNow })...)
	s := New(50)
	for _, subject := range subjects {
		for _, phrasing := range phrasings {
			text := strings.Replace(phrasing, "%s", subject, 1)
			m := p.Extract(text)
			in, ok := s.DetectIntent(text, m)
			if !ok {
				continue
			}
			q, err := s.Synthesize(in, m, "5d1f6a1e-1111-4222-8333-944455556666")
			if err != nil {
				assert.ErrorIs(t, err, ErrNoTemplate, text)
				continue
			}
			assert.True(t, strings.HasPrefix(q.SQL, "SELECT "), text)
			for _, table := range q.Tables {
				assert.True(t, allowed[table], "%q referenced %s", text, table)
			}
			assert.Equal(t, strings.Count(q.SQL, "$"), countPlaceholders(q.SQL), text)
			assert.NotContains(t, q.SQL, ";", text)
		}
	}
}

// countPlaceholders counts $n occurrences in sql.
func countPlaceholders(sql string) int {
	n := 0
	for i := 0; i < len(sql)-1; i++ {
		if sql[i] == '$' && sql[i+1] >= '0' && sql[i+1] <= '9' {
			n++
		}
	}
	return n
}

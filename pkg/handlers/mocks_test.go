package handlers

import (
	"context"

	"github.com/ekaya-inc/exchange-query-engine/pkg/catalog"
	"github.com/ekaya-inc/exchange-query-engine/pkg/learning"
	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

// mockEngine is a configurable QueryEngine.
type mockEngine struct {
	resp        *models.QueryResponse
	err         error
	suggestions []learning.Suggestion
	stats       learning.Stats

	lastReq          models.QueryRequest
	lastCtx          context.Context
	lastSuggestQuery string
	lastSuggestLimit int
	askCalls         int
}

func (m *mockEngine) Ask(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error) {
	m.askCalls++
	m.lastReq = req
	m.lastCtx = ctx
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func (m *mockEngine) Suggest(partial string, limit int) []learning.Suggestion {
	m.lastSuggestQuery = partial
	m.lastSuggestLimit = limit
	return m.suggestions
}

func (m *mockEngine) Stats() learning.Stats {
	return m.stats
}

// mockCatalog serves fixed catalog content.
type mockCatalog struct {
	tables map[string]models.TableInfo
	rels   []models.Relationship
	rules  *catalog.BusinessRules
	err    error
}

func (m *mockCatalog) GetTables(context.Context) (map[string]models.TableInfo, error) {
	return m.tables, m.err
}

func (m *mockCatalog) GetRelationships(context.Context) ([]models.Relationship, error) {
	return m.rels, m.err
}

func (m *mockCatalog) GetBusinessRules(context.Context) (*catalog.BusinessRules, error) {
	return m.rules, m.err
}


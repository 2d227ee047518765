package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/exchange-query-engine/pkg/catalog"
	"github.com/ekaya-inc/exchange-query-engine/pkg/learning"
	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

type mockEngine struct {
	resp        *models.QueryResponse
	err         error
	suggestions []learning.Suggestion

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

func (m *mockEngine) Stats() learning.Stats { return learning.Stats{} }

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

func newTestServer() *server.MCPServer {
	return server.NewMCPServer("test", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false))
}

// toolResponse is the JSON-RPC envelope of a tools/call answer.
type toolResponse struct {
	Result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// callTool sends a tools/call message through the server and decodes the reply.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) toolResponse {
	t.Helper()
	msg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	raw, err := json.Marshal(s.HandleMessage(context.Background(), msg))
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}
	var resp toolResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return resp
}

// text returns the first text content, failing if there is none.
func (r toolResponse) text(t *testing.T) string {
	t.Helper()
	if r.Error != nil {
		t.Fatalf("unexpected JSON-RPC error: %d %s", r.Error.Code, r.Error.Message)
	}
	if len(r.Result.Content) == 0 {
		t.Fatal("expected content in response")
	}
	return r.Result.Content[0].Text
}

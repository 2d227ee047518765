package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/exchange-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/exchange-query-engine/pkg/audit"
	"github.com/ekaya-inc/exchange-query-engine/pkg/catalog"
	"github.com/ekaya-inc/exchange-query-engine/pkg/learning"
	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
	"github.com/ekaya-inc/exchange-query-engine/pkg/services"
)

const (
	maxSuggestions   = 20
	businessRulesURI = "exchange://business-rules"
)

// NLQToolDeps contains dependencies for the natural-language query tools.
type NLQToolDeps struct {
	Engine          services.QueryEngine
	Catalog         catalog.Catalog
	SuggestionLimit int
	Logger          *zap.Logger
}

type suggestionsResult struct {
	Query       string                `json:"query"`
	Suggestions []learning.Suggestion `json:"suggestions"`
}

type schemaResult struct {
	Tables        []models.TableInfo     `json:"tables"`
	Relationships []models.Relationship  `json:"relationships"`
	BusinessRules []catalog.BusinessRule `json:"businessRules,omitempty"`
}

// RegisterNLQTools registers the question, suggestion and schema tools and the
// business rules resource.
func RegisterNLQTools(s *server.MCPServer, deps *NLQToolDeps) {
	if deps.SuggestionLimit <= 0 {
		deps.SuggestionLimit = 5
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	s.AddTool(mcp.NewTool(
		"ask_exchange_question",
		mcp.WithDescription(
			"Answer a natural-language question about 1031 exchange cases, their clients, "+
				"properties, tasks and deadlines. Only read-only, pre-validated queries are run. "+
				"Examples: \"How many exchanges are with Katzovitz, Yechiel?\", "+
				"\"Show exchanges on hold\", \"Tasks due this week\".",
		),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question, in plain English")),
		mcp.WithString("user_id", mcp.Description("UUID of the asking user, for audit and learning")),
		mcp.WithArray("context_hints", mcp.Description("Optional hints such as the current exchange number")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	), askHandler(deps))

	s.AddTool(mcp.NewTool(
		"suggest_exchange_queries",
		mcp.WithDescription("Suggest previously successful questions that match a partial question."),
		mcp.WithString("partial", mcp.Description("Partial question text; empty ranks by usage")),
		mcp.WithNumber("limit", mcp.Description(fmt.Sprintf("Max suggestions (default: %d, max: %d)", deps.SuggestionLimit, maxSuggestions))),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	), suggestHandler(deps))

	s.AddTool(mcp.NewTool(
		"describe_exchange_schema",
		mcp.WithDescription("Describe the case-management tables, their relationships and business rules."),
		mcp.WithString("table", mcp.Description("Limit the description to one table")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	), schemaHandler(deps))

	s.AddResource(mcp.NewResource(
		businessRulesURI,
		"Exchange business rules",
		mcp.WithResourceDescription("Domain rules for 1031 exchange cases, one per line"),
		mcp.WithMIMEType("text/plain"),
	), businessRulesHandler(deps))
}

func askHandler(deps *NLQToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question := strings.TrimSpace(req.GetString("question", ""))
		if question == "" {
			return NewErrorResult("invalid_request", "question is required"), nil
		}
		if utf8.RuneCountInString(question) > models.MaxQuestionLength {
			return NewErrorResult("invalid_request",
				fmt.Sprintf("question exceeds %d characters", models.MaxQuestionLength)), nil
		}

		userID := strings.TrimSpace(req.GetString("user_id", ""))
		if userID != "" {
			if _, err := uuid.Parse(userID); err != nil {
				return NewErrorResult("invalid_user_id", "user_id must be a UUID"), nil
			}
		}

		resp, err := deps.Engine.Ask(audit.WithUser(ctx, userID), models.QueryRequest{
			Text:         question,
			UserID:       userID,
			ContextHints: req.GetStringSlice("context_hints", nil),
		})
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidRequest) {
				return NewErrorResult("invalid_request", "question is required"), nil
			}
			deps.Logger.Error("Failed to answer question", zap.Error(err))
			return nil, fmt.Errorf("failed to answer question: %w", err)
		}

		result, err := jsonResult(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal answer: %w", err)
		}
		result.IsError = resp.ErrorCode != ""
		return result, nil
	}
}

func suggestHandler(deps *NLQToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		partial := strings.TrimSpace(req.GetString("partial", ""))
		limit := req.GetInt("limit", deps.SuggestionLimit)
		if limit <= 0 {
			limit = deps.SuggestionLimit
		}
		if limit > maxSuggestions {
			limit = maxSuggestions
		}

		suggestions := deps.Engine.Suggest(partial, limit)
		if suggestions == nil {
			suggestions = []learning.Suggestion{}
		}
		return jsonResult(suggestionsResult{Query: partial, Suggestions: suggestions})
	}
}

func schemaHandler(deps *NLQToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Catalog == nil {
			return NewErrorResult("catalog_unavailable", "schema catalog is not configured"), nil
		}

		tables, err := deps.Catalog.GetTables(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load tables: %w", err)
		}
		rels, err := deps.Catalog.GetRelationships(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load relationships: %w", err)
		}
		rules, err := deps.Catalog.GetBusinessRules(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load business rules: %w", err)
		}

		names := make([]string, 0, len(tables))
		for name := range tables {
			names = append(names, name)
		}
		sort.Strings(names)

		res := schemaResult{Tables: []models.TableInfo{}, Relationships: []models.Relationship{}}

		if table := strings.ToLower(strings.TrimSpace(req.GetString("table", ""))); table != "" {
			info, ok := tables[table]
			if !ok {
				return NewErrorResultWithDetails("table_not_found",
					fmt.Sprintf("no table named %q", table),
					map[string]any{"valid_tables": names}), nil
			}
			res.Tables = append(res.Tables, info)
			for _, r := range rels {
				if r.FromTable == table || r.ToTable == table {
					res.Relationships = append(res.Relationships, r)
				}
			}
			if rules != nil {
				for _, rule := range rules.Rules {
					if mentionsTable(rule, table) {
						res.BusinessRules = append(res.BusinessRules, rule)
					}
				}
			}
			return jsonResult(res)
		}

		for _, name := range names {
			res.Tables = append(res.Tables, tables[name])
		}
		res.Relationships = append(res.Relationships, rels...)
		if rules != nil {
			res.BusinessRules = rules.Rules
		}
		return jsonResult(res)
	}
}

func businessRulesHandler(deps *NLQToolDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if deps.Catalog == nil {
			return nil, errors.New("schema catalog is not configured")
		}
		rules, err := deps.Catalog.GetBusinessRules(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load business rules: %w", err)
		}
		text := ""
		if rules != nil {
			text = rules.Text()
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      businessRulesURI,
				MIMEType: "text/plain",
				Text:     text,
			},
		}, nil
	}
}

func mentionsTable(rule catalog.BusinessRule, table string) bool {
	for _, t := range rule.Tables {
		if t == table {
			return true
		}
	}
	return false
}

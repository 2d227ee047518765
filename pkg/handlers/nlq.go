package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/exchange-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/exchange-query-engine/pkg/audit"
	"github.com/ekaya-inc/exchange-query-engine/pkg/catalog"
	"github.com/ekaya-inc/exchange-query-engine/pkg/learning"
	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
	"github.com/ekaya-inc/exchange-query-engine/pkg/services"
)

const (
	MaxQuestionLength = models.MaxQuestionLength
	maxRequestBytes   = 64 << 10
	maxSuggestions    = 20
)

// AskRequest is the POST /api/nlq/query body.
type AskRequest struct {
	Text         string   `json:"text"`
	UserID       string   `json:"userId,omitempty"`
	ContextHints []string `json:"contextHints,omitempty"`
}

// SuggestionsResponse wraps learned suggestions.
type SuggestionsResponse struct {
	Query       string                `json:"query"`
	Suggestions []learning.Suggestion `json:"suggestions"`
}

// SchemaResponse is the catalog as served to callers.
type SchemaResponse struct {
	Tables        []models.TableInfo     `json:"tables"`
	Relationships []models.Relationship  `json:"relationships"`
	BusinessRules []catalog.BusinessRule `json:"businessRules"`
}

// NLQHandler serves the natural-language query API.
type NLQHandler struct {
	engine          services.QueryEngine
	catalog         catalog.Catalog
	suggestionLimit int
	logger          *zap.Logger
}

// NewNLQHandler creates a new natural-language query handler.
func NewNLQHandler(engine services.QueryEngine, cat catalog.Catalog, suggestionLimit int, logger *zap.Logger) *NLQHandler {
	if suggestionLimit <= 0 {
		suggestionLimit = 5
	}
	return &NLQHandler{
		engine:          engine,
		catalog:         cat,
		suggestionLimit: suggestionLimit,
		logger:          logger.Named("nlq-handler"),
	}
}

// RegisterRoutes registers the NLQ routes on the given mux.
func (h *NLQHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/nlq"
	mux.HandleFunc("POST "+base+"/query", h.Query)
	mux.HandleFunc("GET "+base+"/suggestions", h.Suggestions)
	mux.HandleFunc("GET "+base+"/stats", h.Stats)
	mux.HandleFunc("GET "+base+"/schema", h.Schema)
}

// Query handles POST /api/nlq/query.
// Classification, validation and rejection failures are answered with 200 and the error in the body.
func (h *NLQHandler) Query(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	if utf8.RuneCountInString(req.Text) > MaxQuestionLength {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "text is too long")
		return
	}
	if req.UserID != "" {
		if _, err := uuid.Parse(req.UserID); err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "invalid_user_id", "Invalid user ID format")
			return
		}
	}

	ctx := audit.WithRequest(r.Context(), clientIP(r), req.UserID)
	resp, err := h.engine.Ask(ctx, models.QueryRequest{
		Text:         req.Text,
		UserID:       req.UserID,
		ContextHints: req.ContextHints,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidRequest) {
			writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "text is required")
			return
		}
		if ctx.Err() != nil {
			// Client went away; nothing useful to write.
			h.logger.Debug("Question abandoned by client", zap.Error(err))
			return
		}
		h.logger.Error("Failed to answer question", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "query_failed", "Failed to answer the question")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}

// Suggestions handles GET /api/nlq/suggestions?q=&limit=.
func (h *NLQHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := queryLimit(r, h.suggestionLimit, maxSuggestions)

	suggestions := h.engine.Suggest(q, limit)
	if suggestions == nil {
		suggestions = []learning.Suggestion{}
	}
	writeJSON(w, h.logger, http.StatusOK, SuggestionsResponse{Query: q, Suggestions: suggestions})
}

// Stats handles GET /api/nlq/stats.
func (h *NLQHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.engine.Stats())
}

// Schema handles GET /api/nlq/schema.
func (h *NLQHandler) Schema(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "catalog_unavailable", "Schema catalog is not configured")
		return
	}

	ctx := r.Context()
	tables, err := h.catalog.GetTables(ctx)
	if err != nil {
		h.logger.Error("Failed to load catalog tables", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "catalog_failed", "Failed to load the schema")
		return
	}
	rels, err := h.catalog.GetRelationships(ctx)
	if err != nil {
		h.logger.Error("Failed to load catalog relationships", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "catalog_failed", "Failed to load the schema")
		return
	}
	rules, err := h.catalog.GetBusinessRules(ctx)
	if err != nil {
		h.logger.Error("Failed to load business rules", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "catalog_failed", "Failed to load the schema")
		return
	}

	resp := SchemaResponse{
		Tables:        make([]models.TableInfo, 0, len(tables)),
		Relationships: rels,
		BusinessRules: []catalog.BusinessRule{},
	}
	for _, t := range tables {
		resp.Tables = append(resp.Tables, t)
	}
	sort.Slice(resp.Tables, func(i, j int) bool { return resp.Tables[i].Name < resp.Tables[j].Name })
	if resp.Relationships == nil {
		resp.Relationships = []models.Relationship{}
	}
	if rules != nil && rules.Rules != nil {
		resp.BusinessRules = rules.Rules
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}

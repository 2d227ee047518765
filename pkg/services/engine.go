package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/exchange-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/exchange-query-engine/pkg/audit"
	"github.com/ekaya-inc/exchange-query-engine/pkg/cache"
	"github.com/ekaya-inc/exchange-query-engine/pkg/extract"
	"github.com/ekaya-inc/exchange-query-engine/pkg/learning"
	"github.com/ekaya-inc/exchange-query-engine/pkg/logging"
	"github.com/ekaya-inc/exchange-query-engine/pkg/metrics"
	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
	sqlvalidator "github.com/ekaya-inc/exchange-query-engine/pkg/sql"
	"github.com/ekaya-inc/exchange-query-engine/pkg/synth"
)

// Error codes returned to callers alongside the error message.
const (
	CodeClassification = "classification_failure"
	CodeValidation     = "validation_failure"
)

// learnedFallbackSuggestions is how many learned questions are offered after a classification failure.
const learnedFallbackSuggestions = 2

// Learner is the part of the learning store the engine uses.
type Learner interface {
	Record(outcome *models.QueryOutcome)
	Suggest(partial, intentType string, limit int) []learning.Suggestion
	Stats() learning.Stats
}

// QueryEngine answers natural-language questions about the case-management data.
type QueryEngine interface {
	// Ask answers one question. Classification, validation and rejection failures are
	// reported inside the response; an error means the request itself could not be served.
	Ask(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error)
	// Suggest ranks learned questions against a partial question.
	Suggest(partial string, limit int) []learning.Suggestion
	Stats() learning.Stats
}

// EngineDeps wires a QueryEngine. Cache, Metrics and Auditor may be nil.
type EngineDeps struct {
	Pipeline    *extract.Pipeline
	Synthesizer *synth.Synthesizer
	Validator   *sqlvalidator.Validator
	Gateway     ExecutionGateway
	Composer    *ResponseComposer
	Learner     Learner
	Cache       cache.Cache
	Metrics     *metrics.Metrics
	Auditor     *audit.SecurityAuditor
	Now         func() time.Time
}

type queryEngine struct {
	pipeline  *extract.Pipeline
	synth     *synth.Synthesizer
	validator *sqlvalidator.Validator
	gateway   ExecutionGateway
	composer  *ResponseComposer
	learner   Learner
	cache     cache.Cache
	metrics   *metrics.Metrics
	auditor   *audit.SecurityAuditor
	now       func() time.Time
	logger    *zap.Logger
}

func NewQueryEngine(deps EngineDeps, logger *zap.Logger) QueryEngine {
	if deps.Composer == nil {
		deps.Composer = NewResponseComposer()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Auditor == nil {
		deps.Auditor = audit.NewSecurityAuditor(zap.NewNop())
	}
	return &queryEngine{
		pipeline:  deps.Pipeline,
		synth:     deps.Synthesizer,
		validator: deps.Validator,
		gateway:   deps.Gateway,
		composer:  deps.Composer,
		learner:   deps.Learner,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		auditor:   deps.Auditor,
		now:       deps.Now,
		logger:    logger.Named("query-engine"),
	}
}

var _ QueryEngine = (*queryEngine)(nil)

// attempt carries one request through the pipeline.
type attempt struct {
	outcome  *models.QueryOutcome
	start    time.Time
	cached   bool
	code     string
	cacheKey string
}

func (e *queryEngine) Ask(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: question text is required", apperrors.ErrInvalidRequest)
	}

	start := e.now()
	a := &attempt{
		start: start,
		outcome: &models.QueryOutcome{
			ID:              uuid.New(),
			OriginalQuery:   req.Text,
			NormalizedQuery: cache.Normalize(text),
			UserID:          req.UserID,
			Source:          models.SourceNone,
			Timestamp:       start,
		},
		cacheKey: cache.Key(text, req.UserID),
	}

	if entry, ok := e.lookup(ctx, a.cacheKey); ok {
		e.answerFromCache(a, text, entry)
		return e.finish(a), nil
	}

	match := e.pipeline.Extract(text)
	intent, ok := e.synth.DetectIntent(text, match)
	if !ok {
		e.classificationFailure(a, text, "I couldn't tell which records the question is about.")
		return e.finish(a), nil
	}
	a.outcome.Entity = intent.Entity
	a.outcome.Shape = intent.Shape
	if match != nil {
		a.outcome.MatchKind = match.Kind
	}

	q, err := e.synth.Synthesize(intent, match, req.UserID)
	if err != nil {
		msg := "I couldn't turn that question into a query. Try rephrasing it."
		if errors.Is(err, synth.ErrUserRequired) {
			msg = "This question is about your own records, but no user was given."
		}
		e.logger.Debug("Synthesis failed",
			zap.String("query_id", a.outcome.ID.String()),
			zap.String("entity", string(intent.Entity)),
			zap.Error(err))
		e.classificationFailure(a, text, msg)
		return e.finish(a), nil
	}
	a.outcome.Shape = q.Shape

	approved, verdict := e.validator.Approve(q)
	for _, inj := range verdict.Injections {
		e.auditor.LogInjectionAttempt(ctx, a.outcome.ID, audit.SQLInjectionDetails{
			Param:       inj.Param,
			Fingerprint: inj.Fingerprint,
			Template:    q.Template,
		})
	}
	if !verdict.Valid {
		rules := make([]string, len(verdict.Violations))
		for i, v := range verdict.Violations {
			rules[i] = v.Rule
		}
		e.auditor.LogValidationFailure(ctx, a.outcome.ID, audit.ValidationFailureDetails{
			Template: q.Template,
			Rules:    rules,
			SQL:      q.SQL,
		})
		e.fail(a, models.ErrorKindValidation, CodeValidation,
			"Something went wrong while preparing this question. It has been logged.")
		return e.finish(a), nil
	}
	sqlText := approved.SQL()
	a.outcome.GeneratedSQL = &sqlText

	result, err := e.gateway.Execute(ctx, approved)
	if err != nil {
		var rejected *RejectedError
		if !errors.As(err, &rejected) {
			e.fail(a, models.ErrorKindRejected, string(ReasonInfrastructureUnavailable), "The question could not be answered right now.")
			e.finish(a)
			return nil, fmt.Errorf("execute query: %w", err)
		}
		e.auditor.LogRejection(ctx, a.outcome.ID, audit.RejectionDetails{
			Reason:   string(rejected.Reason),
			Entity:   string(q.Entity),
			Shape:    string(q.Shape),
			Template: q.Template,
		})
		e.fail(a, models.ErrorKindRejected, string(rejected.Reason), rejected.UserMessage())
		return e.finish(a), nil
	}

	a.outcome.Source = result.Source
	a.outcome.PrivilegedFailed = result.PrivilegedErr != nil
	a.outcome.DataFetchMs = result.Duration.Milliseconds()
	e.auditor.LogQueryExecution(ctx, a.outcome.ID, q.Template, string(result.Source), result.RowCount)

	filterDesc := ""
	if match != nil && match.Filter != nil {
		filterDesc = match.Filter.Describe()
	}
	e.answer(a, ComposeInput{
		Text:              text,
		Entity:            q.Entity,
		Shape:             q.Shape,
		FilterDescription: filterDesc,
		Limit:             q.Limit,
		Rows:              result.Rows,
		Truncated:         result.Truncated,
	})
	e.store(ctx, a, &cache.Entry{
		GeneratedSQL:      sqlText,
		Results:           result.Rows,
		RowCount:          result.RowCount,
		Truncated:         result.Truncated,
		Entity:            q.Entity,
		Shape:             q.Shape,
		MatchKind:         a.outcome.MatchKind,
		FilterDescription: filterDesc,
		Limit:             q.Limit,
		StoredAt:          e.now(),
	})
	return e.finish(a), nil
}

func (e *queryEngine) Suggest(partial string, limit int) []learning.Suggestion {
	intentType := ""
	if in, ok := e.synth.DetectIntent(partial, e.pipeline.Extract(partial)); ok {
		intentType = string(in.Shape)
	}
	return e.learner.Suggest(partial, intentType, limit)
}

func (e *queryEngine) Stats() learning.Stats {
	return e.learner.Stats()
}

// lookup reads the answer cache. Cache errors are treated as misses.
func (e *queryEngine) lookup(ctx context.Context, key string) (*cache.Entry, bool) {
	if e.cache == nil {
		return nil, false
	}
	entry, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("Answer cache read failed", zap.String("error", logging.SanitizeError(err)))
		ok = false
	}
	e.metrics.ObserveCache(ok)
	return entry, ok
}

func (e *queryEngine) store(ctx context.Context, a *attempt, entry *cache.Entry) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, a.cacheKey, entry); err != nil {
		e.logger.Warn("Answer cache write failed", zap.String("error", logging.SanitizeError(err)))
	}
}

func (e *queryEngine) answerFromCache(a *attempt, text string, entry *cache.Entry) {
	a.cached = true
	o := a.outcome
	o.Source = models.SourceCache
	o.Entity = entry.Entity
	o.Shape = entry.Shape
	o.MatchKind = entry.MatchKind
	sqlText := entry.GeneratedSQL
	o.GeneratedSQL = &sqlText
	e.answer(a, ComposeInput{
		Text:              text,
		Entity:            entry.Entity,
		Shape:             entry.Shape,
		FilterDescription: entry.FilterDescription,
		Limit:             entry.Limit,
		Rows:              entry.Results,
		Truncated:         entry.Truncated,
	})
}

func (e *queryEngine) answer(a *attempt, in ComposeInput) {
	c := e.composer.Compose(in)
	o := a.outcome
	o.Results = in.Rows
	o.RowCount = c.RowCount
	o.Explanation = c.Explanation
	o.SuggestedActions = c.SuggestedActions
}

func (e *queryEngine) classificationFailure(a *attempt, text, msg string) {
	e.fail(a, models.ErrorKindClassification, CodeClassification, msg)

	// Questions that worked before are better guidance than the fixed catalog.
	var learned []string
	for _, s := range e.learner.Suggest(text, "", learnedFallbackSuggestions) {
		learned = append(learned, fmt.Sprintf("Try %q", s.Query))
	}
	actions := append(learned, a.outcome.SuggestedActions...)
	if len(actions) > MaxSuggestedActions {
		actions = actions[:MaxSuggestedActions]
	}
	a.outcome.SuggestedActions = actions
}

func (e *queryEngine) fail(a *attempt, kind models.ErrorKind, code, msg string) {
	o := a.outcome
	o.ErrorKind = kind
	o.ErrorMessage = msg
	o.Explanation = msg
	o.Results = nil
	o.RowCount = 0
	o.SuggestedActions = e.composer.FailureActions(kind)
	a.code = code
}

// finish stamps timing, records the attempt in the learning store and metrics, and
// builds the response.
func (e *queryEngine) finish(a *attempt) *models.QueryResponse {
	o := a.outcome
	elapsed := e.now().Sub(a.start)
	o.ExecutionTimeMs = elapsed.Milliseconds()

	e.learner.Record(o)

	label := "success"
	if !o.Succeeded() {
		label = string(o.ErrorKind)
	}
	e.metrics.ObserveQuery(label, string(o.Source), string(o.Shape), o.RowCount, elapsed)

	e.logger.Info("Question answered",
		zap.String("query_id", o.ID.String()),
		zap.String("source", string(o.Source)),
		zap.String("entity", string(o.Entity)),
		zap.String("shape", string(o.Shape)),
		zap.String("outcome", label),
		zap.Int("row_count", o.RowCount),
		zap.Int64("execution_time_ms", o.ExecutionTimeMs))

	resp := &models.QueryResponse{
		ID:               o.ID.String(),
		OriginalQuery:    o.OriginalQuery,
		GeneratedSQL:     o.GeneratedSQL,
		Results:          o.Results,
		Explanation:      o.Explanation,
		SuggestedActions: o.SuggestedActions,
		ExecutionTimeMs:  o.ExecutionTimeMs,
		RowCount:         o.RowCount,
		Source:           o.Source,
		Cached:           a.cached,
	}
	if resp.Results == nil {
		resp.Results = []map[string]any{}
	}
	if resp.SuggestedActions == nil {
		resp.SuggestedActions = []string{}
	}
	if !o.Succeeded() {
		resp.Error = o.ErrorMessage
		resp.ErrorCode = a.code
	}
	return resp
}

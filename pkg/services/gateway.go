package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/exchange-query-engine/pkg/adapters/datastore"
	"github.com/ekaya-inc/exchange-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/exchange-query-engine/pkg/logging"
	"github.com/ekaya-inc/exchange-query-engine/pkg/metrics"
	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
	sqlvalidator "github.com/ekaya-inc/exchange-query-engine/pkg/sql"
)

// DefaultExecutionTimeout bounds each data store call made by the gateway.
const DefaultExecutionTimeout = 10 * time.Second

// GatewayState is the terminal state of one execution.
type GatewayState string

const (
	StatePrivileged GatewayState = "privileged"
	StateDegraded   GatewayState = "degraded"
	StateRejected   GatewayState = "rejected"
)

// RejectionReason tells the operator whether to rephrase or whether the system is degraded.
type RejectionReason string

const (
	ReasonInfrastructureUnavailable RejectionReason = "infrastructure_unavailable"
	ReasonQueryNotRecognized        RejectionReason = "query_not_recognized"
)

// RejectedError is returned when neither execution path can safely answer a query.
type RejectedError struct {
	Reason RejectionReason
	Cause  error
}

func (e *RejectedError) Error() string {
	if e.Cause == nil {
		return "query rejected: " + string(e.Reason)
	}
	return fmt.Sprintf("query rejected: %s: %v", e.Reason, e.Cause)
}

// Unwrap exposes the reason's sentinel error alongside the cause.
func (e *RejectedError) Unwrap() []error {
	sentinel := apperrors.ErrQueryNotRecognized
	if e.Reason == ReasonInfrastructureUnavailable {
		sentinel = apperrors.ErrExecutionUnavailable
	}
	if e.Cause == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Cause}
}

// UserMessage is the caller-facing text for the rejection. It never includes SQL.
func (e *RejectedError) UserMessage() string {
	if e.Reason == ReasonInfrastructureUnavailable {
		return "The query service is temporarily unavailable and this question needs it. Please try again shortly."
	}
	return "The query service is temporarily limited and this question is not one the fallback can answer. Try a simpler question, such as a count or list of one record type."
}

// ExecutionResult is what the gateway returns for an executed query.
type ExecutionResult struct {
	Rows      []map[string]any
	RowCount  int
	Truncated bool
	Source    models.ExecutionSource
	State     GatewayState
	// PrivilegedErr is set when the privileged path failed and the degraded path answered.
	PrivilegedErr error
	Duration      time.Duration
}

// ExecutionGateway runs approved queries: privileged first, the typed accessors after a
// privileged failure, otherwise a RejectedError.
type ExecutionGateway interface {
	Execute(ctx context.Context, q sqlvalidator.ApprovedQuery) (*ExecutionResult, error)
}

type executionGateway struct {
	executor  datastore.SafeQueryExecutor
	accessors datastore.Accessors
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewExecutionGateway creates the gateway. executor or accessors may be nil when that path
// is not configured; a nil executor behaves like a failed privileged path.
func NewExecutionGateway(
	executor datastore.SafeQueryExecutor,
	accessors datastore.Accessors,
	timeout time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) ExecutionGateway {
	if timeout <= 0 {
		timeout = DefaultExecutionTimeout
	}
	return &executionGateway{
		executor:  executor,
		accessors: accessors,
		timeout:   timeout,
		metrics:   m,
		logger:    logger.Named("execution-gateway"),
	}
}

var _ ExecutionGateway = (*executionGateway)(nil)

func (g *executionGateway) Execute(ctx context.Context, q sqlvalidator.ApprovedQuery) (*ExecutionResult, error) {
	if !q.Approved() {
		return nil, apperrors.ErrNotApproved
	}
	start := time.Now()

	privErr := errPrivilegedNotConfigured
	if g.executor != nil {
		result, err := g.executePrivileged(ctx, q)
		if err == nil {
			g.metrics.ObserveGateway(string(StatePrivileged))
			return &ExecutionResult{
				Rows:      result.Rows,
				RowCount:  result.RowCount,
				Truncated: result.Truncated,
				Source:    models.SourcePrivileged,
				State:     StatePrivileged,
				Duration:  time.Since(start),
			}, nil
		}
		// The caller went away; there is nothing to fall back for.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		privErr = err
	}

	g.logger.Warn("Privileged execution failed, trying typed accessors",
		zap.String("template", q.Query().Template),
		zap.String("error", logging.SanitizeError(privErr)))

	result, err := g.executeDegraded(ctx, q.Query(), privErr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			g.metrics.ObserveGateway(string(StateRejected))
			g.metrics.ObserveRejection(string(rejected.Reason))
			g.logger.Warn("Query rejected",
				zap.String("template", q.Query().Template),
				zap.String("reason", string(rejected.Reason)))
		}
		return nil, err
	}

	g.metrics.ObserveGateway(string(StateDegraded))
	result.Duration = time.Since(start)
	return result, nil
}

var errPrivilegedNotConfigured = errors.New("privileged execution path not configured")

func (g *executionGateway) executePrivileged(ctx context.Context, q sqlvalidator.ApprovedQuery) (*datastore.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.executor.Execute(ctx, q)
}

// degradedCall is one typed accessor invocation that answers a query.
type degradedCall func(ctx context.Context) ([]map[string]any, error)

// executeDegraded answers q through the typed accessors. Joins and pattern filters are
// always rejected: a single-table accessor would silently drop the filter.
func (g *executionGateway) executeDegraded(ctx context.Context, q *models.SynthesizedQuery, privErr error) (*ExecutionResult, error) {
	if q.HasJoin || q.HasPatternFilter {
		return nil, &RejectedError{
			Reason: ReasonInfrastructureUnavailable,
			Cause:  errors.Join(apperrors.ErrUnsupportedShape, privErr),
		}
	}
	if g.accessors == nil {
		return nil, &RejectedError{Reason: ReasonInfrastructureUnavailable, Cause: privErr}
	}

	call, err := g.plan(q)
	if err != nil {
		return nil, &RejectedError{Reason: ReasonQueryNotRecognized, Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	rows, err := call(ctx)
	if err != nil {
		return nil, &RejectedError{
			Reason: ReasonInfrastructureUnavailable,
			Cause:  errors.Join(privErr, fmt.Errorf("typed accessor: %w", err)),
		}
	}

	result := &ExecutionResult{
		Source:        models.SourceDegraded,
		State:         StateDegraded,
		PrivilegedErr: privErr,
	}
	if q.Shape == models.ShapeCount {
		// Counting listed rows is exact only below the accessor cap.
		if len(rows) >= datastore.MaxRows {
			return nil, &RejectedError{
				Reason: ReasonInfrastructureUnavailable,
				Cause:  fmt.Errorf("%w: count reaches the fallback row cap", apperrors.ErrUnsupportedShape),
			}
		}
		result.Rows = []map[string]any{{"count": int64(len(rows))}}
		result.RowCount = 1
		return result, nil
	}
	result.Rows = rows
	result.RowCount = len(rows)
	return result, nil
}

// plan maps the typed intent onto an accessor call. It never looks at SQL text.
func (g *executionGateway) plan(q *models.SynthesizedQuery) (degradedCall, error) {
	if q.Shape != models.ShapeCount && q.Shape != models.ShapeList {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrQueryNotRecognized, q.Shape)
	}

	filter := datastore.ListFilter{Limit: q.Limit}
	if q.Shape == models.ShapeCount {
		filter.Limit = datastore.MaxRows
	}
	if q.Match != nil && q.Match.Filter != nil {
		status, ok := q.Match.Filter.(*models.StatusFilter)
		if !ok {
			return nil, fmt.Errorf("%w: %s filter", apperrors.ErrQueryNotRecognized, q.Match.Filter.Kind())
		}
		switch {
		case status.Active != nil && q.Entity == models.EntityUsers:
			filter.Active = status.Active
		case len(status.Values) > 0 && q.Entity != models.EntityUsers:
			filter.Statuses = status.Values
		default:
			return nil, fmt.Errorf("%w: status filter on %s", apperrors.ErrQueryNotRecognized, q.Entity)
		}
	}

	unfiltered := len(filter.Statuses) == 0 && filter.Active == nil
	switch q.Entity {
	case models.EntityExchanges:
		return func(ctx context.Context) ([]map[string]any, error) { return g.accessors.ListExchanges(ctx, filter) }, nil
	case models.EntityUsers:
		return func(ctx context.Context) ([]map[string]any, error) { return g.accessors.ListUsers(ctx, filter) }, nil
	case models.EntityTasks:
		return func(ctx context.Context) ([]map[string]any, error) { return g.accessors.ListTasks(ctx, filter) }, nil
	case models.EntityContacts:
		if !unfiltered {
			return nil, fmt.Errorf("%w: contacts have no status", apperrors.ErrQueryNotRecognized)
		}
		return func(ctx context.Context) ([]map[string]any, error) { return g.accessors.ListContacts(ctx, filter) }, nil
	case models.EntityDocuments:
		if !unfiltered {
			return nil, fmt.Errorf("%w: documents cannot be filtered", apperrors.ErrQueryNotRecognized)
		}
		return func(ctx context.Context) ([]map[string]any, error) {
			return g.accessors.ListDocuments(ctx, filter.Limit)
		}, nil
	case models.EntityMessages:
		if !unfiltered {
			return nil, fmt.Errorf("%w: messages cannot be filtered", apperrors.ErrQueryNotRecognized)
		}
		return func(ctx context.Context) ([]map[string]any, error) {
			return g.accessors.ListMessages(ctx, filter.Limit)
		}, nil
	}
	return nil, fmt.Errorf("%w: entity %q", apperrors.ErrQueryNotRecognized, q.Entity)
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/exchange-query-engine/pkg/adapters/datastore"
	"github.com/ekaya-inc/exchange-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/exchange-query-engine/pkg/metrics"
	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
	sqlvalidator "github.com/ekaya-inc/exchange-query-engine/pkg/sql"
)

var errStoreDown = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")

func TestGateway_PrivilegedSuccess(t *testing.T) {
	exec := &mockExecutor{result: &datastore.QueryResult{Rows: []map[string]any{{"count": int64(42)}}, RowCount: 1}}
	acc := &mockAccessors{}
	g := NewExecutionGateway(exec, acc, time.Second, nil, zap.NewNop())

	res, err := g.Execute(context.Background(), approve(t, "How many exchanges are in the system?"))
	require.NoError(t, err)

	assert.Equal(t, StatePrivileged, res.State)
	assert.Equal(t, models.SourcePrivileged, res.Source)
	assert.Equal(t, 1, res.RowCount)
	assert.Nil(t, res.PrivilegedErr)
	assert.True(t, exec.hadDeadline, "privileged call runs under a deadline")
	assert.Empty(t, acc.calls)
}

func TestGateway_JoinWithPatternFilterIsRejected(t *testing.T) {
	exec := &mockExecutor{err: errStoreDown}
	acc := &mockAccessors{rows: rowsOf(3)}
	g := NewExecutionGateway(exec, acc, time.Second, nil, zap.NewNop())

	q := approve(t, "How many exchanges are with Katzovitz, Yechiel?")
	require.True(t, q.Query().HasJoin)
	require.True(t, q.Query().HasPatternFilter)

	res, err := g.Execute(context.Background(), q)
	require.Error(t, err)
	assert.Nil(t, res)

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, ReasonInfrastructureUnavailable, rejected.Reason)
	assert.ErrorIs(t, err, apperrors.ErrExecutionUnavailable)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedShape)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Empty(t, acc.calls, "a single-table accessor must never answer a join query")
}

func TestGateway_DegradedStatusList(t *testing.T) {
	exec := &mockExecutor{err: errStoreDown}
	acc := &mockAccessors{rows: rowsOf(2)}
	g := NewExecutionGateway(exec, acc, time.Second, nil, zap.NewNop())

	res, err := g.Execute(context.Background(), approve(t, "active exchanges"))
	require.NoError(t, err)

	assert.Equal(t, StateDegraded, res.State)
	assert.Equal(t, models.SourceDegraded, res.Source)
	assert.Equal(t, 2, res.RowCount)
	assert.ErrorIs(t, res.PrivilegedErr, errStoreDown)
	assert.Equal(t, []string{"exchanges"}, acc.calls)
	assert.Equal(t, []string{"active", "in_progress"}, acc.lastFilter.Statuses)
	assert.Equal(t, 50, acc.lastFilter.Limit)
}

func TestGateway_DegradedPlans(t *testing.T) {
	tests := []struct {
		text     string
		accessor string
		check    func(t *testing.T, acc *mockAccessors)
	}{
		{"blocked tasks", "tasks", func(t *testing.T, acc *mockAccessors) {
			assert.Equal(t, []string{"BLOCKED"}, acc.lastFilter.Statuses)
		}},
		{"inactive users", "users", func(t *testing.T, acc *mockAccessors) {
			require.NotNil(t, acc.lastFilter.Active)
			assert.False(t, *acc.lastFilter.Active)
		}},
		{"Show me all contacts", "contacts", nil},
		{"top 10 documents", "documents", func(t *testing.T, acc *mockAccessors) {
			assert.Equal(t, 10, acc.lastLimit)
		}},
		{"list messages", "messages", nil},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			acc := &mockAccessors{rows: rowsOf(1)}
			g := NewExecutionGateway(&mockExecutor{err: errStoreDown}, acc, time.Second, nil, zap.NewNop())

			res, err := g.Execute(context.Background(), approve(t, tt.text))
			require.NoError(t, err)
			assert.Equal(t, StateDegraded, res.State)
			assert.Equal(t, []string{tt.accessor}, acc.calls)
			if tt.check != nil {
				tt.check(t, acc)
			}
		})
	}
}

func TestGateway_DegradedCount(t *testing.T) {
	acc := &mockAccessors{rows: rowsOf(7)}
	g := NewExecutionGateway(&mockExecutor{err: errStoreDown}, acc, time.Second, nil, zap.NewNop())

	res, err := g.Execute(context.Background(), approve(t, "How many exchanges are in the system?"))
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"count": int64(7)}}, res.Rows)
	assert.Equal(t, 1, res.RowCount)
	assert.Equal(t, datastore.MaxRows, acc.lastFilter.Limit)
}

func TestGateway_DegradedCountAtCapIsRejected(t *testing.T) {
	acc := &mockAccessors{rows: rowsOf(datastore.MaxRows)}
	g := NewExecutionGateway(&mockExecutor{err: errStoreDown}, acc, time.Second, nil, zap.NewNop())

	_, err := g.Execute(context.Background(), approve(t, "How many exchanges are in the system?"))
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, ReasonInfrastructureUnavailable, rejected.Reason)
}

func TestGateway_UnrecognizedShapes(t *testing.T) {
	for _, text := range []string{
		"exchanges in Texas",
		"exchanges over $2 million",
		"what is the total value of exchanges",
		"tasks due this week",
	} {
		t.Run(text, func(t *testing.T) {
			acc := &mockAccessors{rows: rowsOf(1)}
			g := NewExecutionGateway(&mockExecutor{err: errStoreDown}, acc, time.Second, nil, zap.NewNop())

			_, err := g.Execute(context.Background(), approve(t, text))
			var rejected *RejectedError
			require.True(t, errors.As(err, &rejected))
			assert.Equal(t, ReasonQueryNotRecognized, rejected.Reason)
			assert.ErrorIs(t, err, apperrors.ErrQueryNotRecognized)
			assert.Empty(t, acc.calls)
		})
	}
}

func TestGateway_AccessorFailure(t *testing.T) {
	acc := &mockAccessors{err: errors.New("pool closed")}
	g := NewExecutionGateway(&mockExecutor{err: errStoreDown}, acc, time.Second, nil, zap.NewNop())

	_, err := g.Execute(context.Background(), approve(t, "Show me all exchanges"))
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, ReasonInfrastructureUnavailable, rejected.Reason)
	assert.NotEqual(t, rejected.UserMessage(), (&RejectedError{Reason: ReasonQueryNotRecognized}).UserMessage())
}

func TestGateway_NoExecutorConfigured(t *testing.T) {
	acc := &mockAccessors{rows: rowsOf(4)}
	g := NewExecutionGateway(nil, acc, time.Second, nil, zap.NewNop())

	res, err := g.Execute(context.Background(), approve(t, "Show me all exchanges"))
	require.NoError(t, err)
	assert.Equal(t, StateDegraded, res.State)

	none := NewExecutionGateway(nil, nil, time.Second, nil, zap.NewNop())
	_, err = none.Execute(context.Background(), approve(t, "Show me all exchanges"))
	assert.ErrorIs(t, err, apperrors.ErrExecutionUnavailable)
}

func TestGateway_CancelledContextDoesNotFallBack(t *testing.T) {
	exec := &mockExecutor{}
	acc := &mockAccessors{rows: rowsOf(1)}
	g := NewExecutionGateway(exec, acc, time.Second, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Execute(ctx, approve(t, "Show me all exchanges"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, acc.calls)
}

func TestGateway_RequiresApproval(t *testing.T) {
	exec := &mockExecutor{}
	g := NewExecutionGateway(exec, &mockAccessors{}, time.Second, nil, zap.NewNop())

	_, err := g.Execute(context.Background(), sqlvalidator.ApprovedQuery{})
	assert.ErrorIs(t, err, apperrors.ErrNotApproved)
	assert.Equal(t, 0, exec.calls)
}

func TestGateway_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	g := NewExecutionGateway(&mockExecutor{err: errStoreDown}, &mockAccessors{rows: rowsOf(1)}, time.Second, m, zap.NewNop())

	_, err := g.Execute(context.Background(), approve(t, "Show me all exchanges"))
	require.NoError(t, err)
	_, err = g.Execute(context.Background(), approve(t, "exchanges in Texas"))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayState.WithLabelValues("degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayState.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues("query_not_recognized")))
}

// blockingExecutor never answers until its context ends.
type blockingExecutor struct{}

func (blockingExecutor) Execute(ctx context.Context, _ sqlvalidator.ApprovedQuery) (*datastore.QueryResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGateway_HungPrivilegedCallTimesOutIntoDegraded(t *testing.T) {
	acc := &mockAccessors{rows: rowsOf(1)}
	g := NewExecutionGateway(blockingExecutor{}, acc, 20*time.Millisecond, nil, zap.NewNop())

	res, err := g.Execute(context.Background(), approve(t, "active exchanges"))
	require.NoError(t, err)

	assert.Equal(t, StateDegraded, res.State)
	assert.ErrorIs(t, res.PrivilegedErr, context.DeadlineExceeded)
	assert.Equal(t, []string{"exchanges"}, acc.calls)
}

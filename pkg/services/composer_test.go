package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

func TestComposer_Explanation(t *testing.T) {
	tests := []struct {
		name     string
		in       ComposeInput
		expected string
	}{
		{
			name: "count",
			in: ComposeInput{
				Text: "How many exchanges are in the system?", Entity: models.EntityExchanges, Shape: models.ShapeCount,
				Rows: []map[string]any{{"count": int64(42)}},
			},
			expected: "There are 42 exchanges.",
		},
		{
			name: "count of one with filter",
			in: ComposeInput{
				Text: "how many exchanges are on hold", Entity: models.EntityExchanges, Shape: models.ShapeCount,
				FilterDescription: "with status on_hold", Rows: []map[string]any{{"count": float64(1)}},
			},
			expected: "There is 1 exchange with status on_hold.",
		},
		{
			name: "list under the cap",
			in: ComposeInput{
				Text: "Show me all tasks", Entity: models.EntityTasks, Shape: models.ShapeList, Limit: 50,
				Rows: rowsOf(3),
			},
			expected: "Found 3 tasks.",
		},
		{
			name: "list at the cap",
			in: ComposeInput{
				Text: "top 2 contacts", Entity: models.EntityContacts, Shape: models.ShapeList, Limit: 2,
				FilterDescription: "located in Austin", Rows: rowsOf(2),
			},
			expected: "Found 2 contacts located in Austin. Showing the first 2; there may be more.",
		},
		{
			name: "single row list",
			in: ComposeInput{
				Text: "show messages", Entity: models.EntityMessages, Shape: models.ShapeList, Limit: 50,
				Rows: rowsOf(1),
			},
			expected: "Found 1 message.",
		},
		{
			name: "truncated",
			in: ComposeInput{
				Text: "show documents", Entity: models.EntityDocuments, Shape: models.ShapeList,
				Rows: rowsOf(4), Truncated: true,
			},
			expected: "Found 4 documents. The result was cut off at 4 rows.",
		},
		{
			name: "empty list",
			in: ComposeInput{
				Text: "exchanges in Vermont", Entity: models.EntityExchanges, Shape: models.ShapeList,
				FilterDescription: "located in VT",
			},
			expected: "No exchanges located in VT were found.",
		},
		{
			name: "value aggregate",
			in: ComposeInput{
				Text: "total value of exchanges", Entity: models.EntityExchanges, Shape: models.ShapeAggregate,
				Rows: []map[string]any{{"count": int64(3), "total_value": 4500000.0, "average_value": 1500000.0}},
			},
			expected: "Across 3 exchanges, the total value is $4,500,000 and the average is $1,500,000.",
		},
		{
			name: "grouped aggregate",
			in: ComposeInput{
				Text: "exchanges per coordinator", Entity: models.EntityExchanges, Shape: models.ShapeAggregate,
				Rows: []map[string]any{
					{"coordinator_name": "Dana Reyes", "exchanges_count": int64(4)},
					{"coordinator_name": "Sam Ortiz", "exchanges_count": int64(2)},
				},
			},
			expected: "Found 2 groups of exchanges, largest first.",
		},
	}

	c := NewResponseComposer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Compose(tt.in)
			assert.Equal(t, tt.expected, got.Explanation)
			assert.Equal(t, len(tt.in.Rows), got.RowCount)
		})
	}
}

func TestComposer_Actions(t *testing.T) {
	c := NewResponseComposer()

	withRows := c.Compose(ComposeInput{Text: "Show me all exchanges", Shape: models.ShapeList, Rows: rowsOf(2)})
	assert.Equal(t, []string{
		"Review upcoming 45-day and 180-day deadlines",
		"Open the exchange timeline",
		"Export these results to CSV",
		"Save this question for later",
		"Set up an alert when these results change",
	}, withRows.SuggestedActions)

	empty := c.Compose(ComposeInput{Text: "tasks assigned to Jordan", Shape: models.ShapeList})
	assert.Equal(t, []string{
		"Show overdue tasks",
		"Reassign blocked tasks",
		"Broaden the date range or remove a filter",
		"Check the spelling of names",
		"Try rephrasing the question",
	}, empty.SuggestedActions)

	zero := c.Compose(ComposeInput{Text: "how many documents", Shape: models.ShapeCount, Rows: []map[string]any{{"count": int64(0)}}})
	assert.Contains(t, zero.SuggestedActions, "Broaden the date range or remove a filter")

	everything := c.Compose(ComposeInput{Text: "tasks for coordinators on exchanges", Shape: models.ShapeList, Rows: rowsOf(1)})
	assert.Len(t, everything.SuggestedActions, MaxSuggestedActions)
	assert.Equal(t, "Export these results to CSV", everything.SuggestedActions[MaxSuggestedActions-1])
}

func TestComposer_FailureActions(t *testing.T) {
	c := NewResponseComposer()
	rephrase := c.FailureActions(models.ErrorKindClassification)
	assert.Contains(t, rephrase, `Try "How many exchanges are active?"`)

	retry := c.FailureActions(models.ErrorKindRejected)
	assert.Contains(t, retry, "Try again in a few minutes")

	rephrase[0] = "mutated"
	assert.NotEqual(t, "mutated", c.FailureActions(models.ErrorKindClassification)[0])
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "$0", formatMoney(0))
	assert.Equal(t, "$999", formatMoney(999))
	assert.Equal(t, "$1,000", formatMoney(1000))
	assert.Equal(t, "$12,345,678", formatMoney(12345678.4))
}

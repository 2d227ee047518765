package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

// MaxSuggestedActions caps the follow-up actions in a response.
const MaxSuggestedActions = 5

// ComposeInput is everything the composer needs about one answered question.
type ComposeInput struct {
	Text              string
	Entity            models.Entity
	Shape             models.Shape
	FilterDescription string
	Limit             int
	Rows              []map[string]any
	Truncated         bool
}

// Composition is the prose part of a response.
type Composition struct {
	RowCount         int
	Explanation      string
	SuggestedActions []string
}

var countQuestion = regexp.MustCompile(`(?i)\b(?:how many|count|number of)\b`)

// Keyword groups select entries from the action catalog.
var (
	exchangeKeywords = regexp.MustCompile(`(?i)\b(?:exchanges?|1031|deadlines?|propert(?:y|ies)|relinquished|replacement|escrow|closing)\b`)
	userKeywords     = regexp.MustCompile(`(?i)\b(?:users?|coordinators?|staff|team|agents?|employees?)\b`)
	taskKeywords     = regexp.MustCompile(`(?i)\b(?:tasks?|to-?dos?|assignments?|assigned|due|overdue)\b`)
)

var (
	exchangeActions = []string{
		"Review upcoming 45-day and 180-day deadlines",
		"Open the exchange timeline",
	}
	userActions = []string{
		"Compare coordinator workloads",
		"Review each user's open exchanges",
	}
	taskActions = []string{
		"Show overdue tasks",
		"Reassign blocked tasks",
	}
	resultActions = []string{
		"Export these results to CSV",
		"Save this question for later",
		"Set up an alert when these results change",
	}
	emptyActions = []string{
		"Broaden the date range or remove a filter",
		"Check the spelling of names",
		"Try rephrasing the question",
	}
	rephraseActions = []string{
		`Try "How many exchanges are active?"`,
		`Try "Show exchanges approaching their 45-day deadline"`,
		`Try "List tasks due this week"`,
		"Name the record type you are asking about: exchanges, contacts, users, tasks, documents or messages",
	}
	retryActions = []string{
		"Try again in a few minutes",
		"Ask a simpler question, such as a count of one record type",
	}
)

// ResponseComposer turns executed rows into an explanation and follow-up actions.
type ResponseComposer struct{}

func NewResponseComposer() *ResponseComposer {
	return &ResponseComposer{}
}

// Compose explains rows for the question in in.Text.
func (c *ResponseComposer) Compose(in ComposeInput) Composition {
	return Composition{
		RowCount:         len(in.Rows),
		Explanation:      c.explain(in),
		SuggestedActions: c.actions(in.Text, len(in.Rows) > 0 && !isZeroCount(in)),
	}
}

// FailureActions returns the follow-ups for a question that produced no answer.
func (c *ResponseComposer) FailureActions(kind models.ErrorKind) []string {
	if kind == models.ErrorKindClassification {
		return append([]string(nil), rephraseActions...)
	}
	return append([]string(nil), retryActions...)
}

func (c *ResponseComposer) explain(in ComposeInput) string {
	noun := entityNoun(in.Entity)
	filter := ""
	if in.FilterDescription != "" {
		filter = " " + in.FilterDescription
	}

	if in.Shape == models.ShapeCount || (countQuestion.MatchString(in.Text) && isSingleCountRow(in.Rows)) {
		if n, ok := countValue(in.Rows); ok {
			if n == 1 {
				return fmt.Sprintf("There is 1 %s%s.", singular(noun), filter)
			}
			return fmt.Sprintf("There are %d %s%s.", n, noun, filter)
		}
	}

	if in.Shape == models.ShapeAggregate && len(in.Rows) == 1 {
		if sentence, ok := valueSentence(in.Rows[0], noun, filter); ok {
			return sentence
		}
	}

	if len(in.Rows) == 0 {
		return fmt.Sprintf("No %s%s were found.", noun, filter)
	}

	var sb strings.Builder
	if in.Shape == models.ShapeAggregate {
		fmt.Fprintf(&sb, "Found %d groups of %s%s, largest first.", len(in.Rows), noun, filter)
	} else {
		fmt.Fprintf(&sb, "Found %d %s%s.", len(in.Rows), pluralFor(noun, len(in.Rows)), filter)
	}
	switch {
	case in.Truncated:
		fmt.Fprintf(&sb, " The result was cut off at %d rows.", len(in.Rows))
	case in.Limit > 0 && len(in.Rows) >= in.Limit:
		fmt.Fprintf(&sb, " Showing the first %d; there may be more.", in.Limit)
	}
	return sb.String()
}

// actions picks up to MaxSuggestedActions from the catalog: entity groups in the order
// exchange, user, task, then the results-dependent branch.
func (c *ResponseComposer) actions(text string, hasResults bool) []string {
	var out []string
	if exchangeKeywords.MatchString(text) {
		out = append(out, exchangeActions...)
	}
	if userKeywords.MatchString(text) {
		out = append(out, userActions...)
	}
	if taskKeywords.MatchString(text) {
		out = append(out, taskActions...)
	}

	branch := emptyActions
	if hasResults {
		branch = resultActions
	}
	// The results branch always gets at least one slot.
	if len(out) > MaxSuggestedActions-1 {
		out = out[:MaxSuggestedActions-1]
	}
	for _, a := range branch {
		if len(out) == MaxSuggestedActions {
			break
		}
		out = append(out, a)
	}
	return out
}

func isSingleCountRow(rows []map[string]any) bool {
	if len(rows) != 1 {
		return false
	}
	_, ok := rows[0]["count"]
	return ok && len(rows[0]) == 1
}

func isZeroCount(in ComposeInput) bool {
	if in.Shape != models.ShapeCount {
		return false
	}
	n, ok := countValue(in.Rows)
	return ok && n == 0
}

func countValue(rows []map[string]any) (int64, bool) {
	if len(rows) != 1 {
		return 0, false
	}
	return toInt64(rows[0]["count"])
}

func valueSentence(row map[string]any, noun, filter string) (string, bool) {
	n, ok := toInt64(row["count"])
	if !ok {
		return "", false
	}
	total, okTotal := toFloat64(row["total_value"])
	avg, okAvg := toFloat64(row["average_value"])
	if !okTotal || !okAvg {
		return fmt.Sprintf("There are %d %s%s.", n, noun, filter), true
	}
	return fmt.Sprintf("Across %d %s%s, the total value is %s and the average is %s.",
		n, noun, filter, formatMoney(total), formatMoney(avg)), true
}

// toInt64 accepts the integer types pgx returns and the float64 a JSON round trip produces.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func formatMoney(v float64) string {
	whole := fmt.Sprintf("%.0f", v)
	var sb strings.Builder
	sb.WriteString("$")
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 && whole[i-1] != '-' {
			sb.WriteString(",")
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func entityNoun(e models.Entity) string {
	if e == "" {
		return "records"
	}
	return string(e)
}

func singular(noun string) string {
	return inflection.Singular(noun)
}

func pluralFor(noun string, n int) string {
	if n == 1 {
		return singular(noun)
	}
	return noun
}

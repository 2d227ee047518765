package models

import (
	"time"

	"github.com/google/uuid"
)

// Entity is a target table of the case-management schema that the query engine can address.
type Entity string

const (
	EntityExchanges Entity = "exchanges"
	EntityContacts  Entity = "contacts"
	EntityUsers     Entity = "users"
	EntityTasks     Entity = "tasks"
	EntityDocuments Entity = "documents"
	EntityMessages  Entity = "messages"
)

// AllEntities lists the addressable entities in declaration order.
var AllEntities = []Entity{
	EntityExchanges,
	EntityContacts,
	EntityUsers,
	EntityTasks,
	EntityDocuments,
	EntityMessages,
}

// Shape is the result form a question asks for.
type Shape string

const (
	ShapeCount     Shape = "count"
	ShapeList      Shape = "list"
	ShapeAggregate Shape = "aggregate"
)

// MaxQuestionLength bounds question text in runes on every surface.
const MaxQuestionLength = 1000

// QueryRequest is a single natural-language question. It is never mutated after receipt.
type QueryRequest struct {
	Text         string   `json:"text"`
	UserID       string   `json:"userId,omitempty"`
	ContextHints []string `json:"contextHints,omitempty"`
}

// SynthesizedQuery is a parameterized SELECT plus the structured intent it was built from.
// The intent travels with the SQL so the degraded execution path never has to parse SQL text.
type SynthesizedQuery struct {
	SQL      string   `json:"sql"`
	Params   []any    `json:"-"`
	Entity   Entity   `json:"entity"`
	Shape    Shape    `json:"shape"`
	Tables   []string `json:"tables"`
	OrderBy  string   `json:"order_by,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Template string   `json:"template"`

	// HasJoin is true when the SQL references more than one table.
	HasJoin bool `json:"has_join"`
	// HasPatternFilter is true when the SQL filters with ILIKE patterns.
	HasPatternFilter bool `json:"has_pattern_filter"`

	Match *Match `json:"match,omitempty"`
}

// Violation is a single failed safety rule.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// InjectionFinding is a bound parameter that libinjection flagged. Parameters are never
// spliced into SQL, so a finding is a warning for the audit log, not a violation.
type InjectionFinding struct {
	Param       string `json:"param"`
	Fingerprint string `json:"fingerprint"`
}

// ValidationVerdict is the Safety Validator's decision for one SQL string.
// A verdict with Valid == false must prevent execution.
type ValidationVerdict struct {
	Valid         bool               `json:"valid"`
	Violations    []Violation        `json:"violations,omitempty"`
	Suggestions   []string           `json:"suggestions,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
	Injections    []InjectionFinding `json:"injections,omitempty"`
	Tables        []string           `json:"tables,omitempty"`
	Columns       []string           `json:"columns,omitempty"`
	NormalizedSQL string             `json:"normalized_sql,omitempty"`
}

// ExecutionSource records where an outcome's rows came from.
type ExecutionSource string

const (
	SourcePrivileged ExecutionSource = "privileged"
	SourceDegraded   ExecutionSource = "degraded"
	SourceCache      ExecutionSource = "cache"
	SourceNone       ExecutionSource = "none"
)

// ErrorKind classifies a failed query attempt for the learning store.
type ErrorKind string

const (
	ErrorKindNone                ErrorKind = ""
	ErrorKindClassification      ErrorKind = "classification_failure"
	ErrorKindValidation          ErrorKind = "validation_failure"
	ErrorKindPrivilegedExecution ErrorKind = "execution_failure_privileged"
	ErrorKindRejected            ErrorKind = "execution_failure_rejected"
)

// QueryOutcome is the terminal record for one request and the unit persisted by the learning store.
type QueryOutcome struct {
	ID               uuid.UUID        `json:"id"`
	OriginalQuery    string           `json:"original_query"`
	NormalizedQuery  string           `json:"normalized_query"`
	UserID           string           `json:"user_id,omitempty"`
	GeneratedSQL     *string          `json:"generated_sql"`
	Results          []map[string]any `json:"-"`
	RowCount         int              `json:"row_count"`
	Explanation      string           `json:"explanation"`
	SuggestedActions []string         `json:"suggested_actions"`
	ExecutionTimeMs  int64            `json:"execution_time_ms"`
	DataFetchMs      int64            `json:"data_fetch_ms"`
	Source           ExecutionSource  `json:"source"`
	Entity           Entity           `json:"entity,omitempty"`
	Shape            Shape            `json:"shape,omitempty"`
	MatchKind        MatchKind        `json:"match_kind,omitempty"`
	ErrorKind        ErrorKind        `json:"error_kind,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	// PrivilegedFailed is set when the privileged path errored, even if the degraded path recovered.
	PrivilegedFailed bool      `json:"privileged_failed,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Succeeded reports whether the attempt produced an answer. A degraded-path answer
// succeeds; its privileged failure is recorded separately via PrivilegedFailed.
func (o *QueryOutcome) Succeeded() bool {
	return o.ErrorKind == ErrorKindNone
}

// IntentType is the learning-store intent label for this outcome.
func (o *QueryOutcome) IntentType() string {
	if o.Shape == "" {
		return "unknown"
	}
	return string(o.Shape)
}

// LearnedPattern is a keyed aggregate over observed queries with the same intent and leading keywords.
type LearnedPattern struct {
	Key           string    `json:"key"`
	IntentType    string    `json:"intent_type"`
	Keywords      []string  `json:"keywords"`
	TargetTable   string    `json:"target_table,omitempty"`
	ExampleQuery  string    `json:"example_query"`
	SuccessfulSQL string    `json:"successful_sql,omitempty"`
	Count         int       `json:"count"`
	SuccessRate   float64   `json:"success_rate"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}

// QueryResponse is the caller-facing answer for one question.
type QueryResponse struct {
	ID               string           `json:"id"`
	OriginalQuery    string           `json:"originalQuery"`
	GeneratedSQL     *string          `json:"generatedSQL"`
	Results          []map[string]any `json:"results"`
	Explanation      string           `json:"explanation"`
	SuggestedActions []string         `json:"suggestedActions"`
	ExecutionTimeMs  int64            `json:"executionTimeMs"`
	RowCount         int              `json:"rowCount"`
	Error            string           `json:"error,omitempty"`
	ErrorCode        string           `json:"errorCode,omitempty"`
	Source           ExecutionSource  `json:"source"`
	Cached           bool             `json:"cached"`
}

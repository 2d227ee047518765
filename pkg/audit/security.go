// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/exchange-query-engine/pkg/logging"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a bound parameter.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventValidationFailure is logged when synthesized SQL fails the safety validator.
	// The synthesizer only emits templates, so this points at a synthesis defect.
	EventValidationFailure SecurityEventType = "validation_failure"
	// EventExecutionRejected is logged when the execution gateway refuses a query.
	EventExecutionRejected SecurityEventType = "execution_rejected"
	// EventQueryExecution is logged for successful query execution (optional, can be high volume).
	EventQueryExecution SecurityEventType = "query_execution"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	QueryID   uuid.UUID         `json:"query_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a flagged parameter. The value itself is
// not logged; names and amounts from questions stay out of the audit stream.
type SQLInjectionDetails struct {
	Param       string `json:"param"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
	Template    string `json:"template"`
}

// ValidationFailureDetails lists the violated validator rules.
type ValidationFailureDetails struct {
	Template string   `json:"template"`
	Rules    []string `json:"rules"`
	SQL      string   `json:"sql"`
}

// RejectionDetails explains why the gateway refused a query.
type RejectionDetails struct {
	Reason   string `json:"reason"`
	Entity   string `json:"entity,omitempty"`
	Shape    string `json:"shape,omitempty"`
	Template string `json:"template,omitempty"`
}

type ctxKey int

const (
	clientIPKey ctxKey = iota
	userIDKey
)

// WithRequest stores the caller's address and user ID for audit events.
func WithRequest(ctx context.Context, clientIP, userID string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey, clientIP)
	return context.WithValue(ctx, userIDKey, userID)
}

// WithUser sets the user ID on a context that may already carry a client address.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func fromContext(ctx context.Context) (clientIP, userID string) {
	clientIP, _ = ctx.Value(clientIPKey).(string)
	userID, _ = ctx.Value(userIDKey).(string)
	return clientIP, userID
}

// SecurityAuditor logs security events for SIEM consumption.
// Events are logged in structured JSON format with appropriate severity levels.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// The logger is automatically configured with "security_audit" namespace for easy
// filtering in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

func (a *SecurityAuditor) event(ctx context.Context, eventType SecurityEventType, queryID uuid.UUID, severity string, details any) (SecurityEvent, string) {
	clientIP, userID := fromContext(ctx)
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		QueryID:   queryID,
		UserID:    userID,
		ClientIP:  clientIP,
		Details:   details,
		Severity:  severity,
	}
	// Marshaling known types does not fail.
	eventJSON, _ := json.Marshal(event)
	return event, string(eventJSON)
}

// LogInjectionAttempt records a bound parameter that libinjection flagged.
// Parameters never reach the SQL text, so this is an attempt, not a breach; it is still
// logged at ERROR with "critical" severity for alerting.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, queryID uuid.UUID, details SQLInjectionDetails) {
	event, eventJSON := a.event(ctx, EventSQLInjectionAttempt, queryID, "critical", details)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", eventJSON),
		zap.String("query_id", queryID.String()),
		zap.String("param", details.Param),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_ip", event.ClientIP),
		zap.String("user_id", event.UserID),
		zap.String("severity", event.Severity),
	)
}

// LogValidationFailure records synthesized SQL that the validator refused.
// The SQL is truncated; it is never returned to the caller.
func (a *SecurityAuditor) LogValidationFailure(ctx context.Context, queryID uuid.UUID, details ValidationFailureDetails) {
	details.SQL = logging.SanitizeQuery(details.SQL)
	event, eventJSON := a.event(ctx, EventValidationFailure, queryID, "warning", details)

	a.logger.Warn("Synthesized query failed validation",
		zap.String("event_json", eventJSON),
		zap.String("query_id", queryID.String()),
		zap.String("template", details.Template),
		zap.Strings("rules", details.Rules),
		zap.String("user_id", event.UserID),
		zap.String("severity", event.Severity),
	)
}

// LogRejection records a query the execution gateway refused.
func (a *SecurityAuditor) LogRejection(ctx context.Context, queryID uuid.UUID, details RejectionDetails) {
	event, eventJSON := a.event(ctx, EventExecutionRejected, queryID, "warning", details)

	a.logger.Warn("Query execution rejected",
		zap.String("event_json", eventJSON),
		zap.String("query_id", queryID.String()),
		zap.String("reason", details.Reason),
		zap.String("entity", details.Entity),
		zap.String("user_id", event.UserID),
		zap.String("severity", event.Severity),
	)
}

// LogQueryExecution records a successful query execution for audit trail.
// This is logged at INFO level and can generate high log volume in production.
func (a *SecurityAuditor) LogQueryExecution(ctx context.Context, queryID uuid.UUID, template, source string, rowCount int) {
	event, eventJSON := a.event(ctx, EventQueryExecution, queryID, "info", map[string]any{
		"template":  template,
		"source":    source,
		"row_count": rowCount,
	})

	a.logger.Info("Query executed",
		zap.String("event_json", eventJSON),
		zap.String("query_id", queryID.String()),
		zap.String("template", template),
		zap.String("source", source),
		zap.Int("row_count", rowCount),
		zap.String("user_id", event.UserID),
		zap.String("severity", event.Severity),
	)
}

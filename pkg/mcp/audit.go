package mcp

import (
	"context"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// ToolObserver counts tool calls. *metrics.Metrics satisfies it.
type ToolObserver interface {
	ObserveTool(tool, outcome string)
}

// Tool call outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeToolError = "tool_error"
	OutcomeError     = "error"
)

// AuditLogger logs every MCP tool call with its duration and outcome.
// Argument values are never logged; questions can carry client names.
type AuditLogger struct {
	observer ToolObserver
	logger   *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewAuditLogger creates an AuditLogger. observer may be nil.
func NewAuditLogger(observer ToolObserver, logger *zap.Logger) *AuditLogger {
	return &AuditLogger{
		observer: observer,
		logger:   logger.Named("mcp-audit"),
	}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *AuditLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *AuditLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *AuditLogger) afterCallTool(_ context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	outcome := OutcomeOK
	if result != nil && result.IsError {
		outcome = OutcomeToolError
	}

	fields := []zap.Field{
		zap.String("tool", req.Params.Name),
		zap.String("outcome", outcome),
		zap.Duration("duration", a.elapsed(id)),
	}
	if result != nil {
		fields = append(fields, zap.Int("content_count", len(result.Content)))
	}
	a.logger.Info("MCP tool call", fields...)
	a.observe(req.Params.Name, outcome)
}

func (a *AuditLogger) onError(_ context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	a.logger.Warn("MCP tool call failed",
		zap.String("tool", req.Params.Name),
		zap.Duration("duration", a.elapsed(id)),
		zap.Error(err))
	a.observe(req.Params.Name, OutcomeError)
}

func (a *AuditLogger) elapsed(id any) time.Duration {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return time.Since(v.(time.Time))
	}
	return 0
}

func (a *AuditLogger) observe(tool, outcome string) {
	if a.observer != nil {
		a.observer.ObserveTool(tool, outcome)
	}
}

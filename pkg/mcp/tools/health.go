package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type healthResult struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool runs each dependency check and reports "degraded" if any fails;
// the engine still answers in that state, from the degraded path.
func RegisterHealthTool(s *server.MCPServer, version string, checks map[string]func(context.Context) error) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status, version and dependency checks"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := healthResult{Status: "ok", Version: version}

		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)
		if len(names) > 0 {
			res.Checks = make(map[string]string, len(names))
		}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				res.Checks[name] = "unavailable"
				res.Status = "degraded"
				continue
			}
			res.Checks[name] = "ok"
		}

		result, err := jsonResult(res)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return result, nil
	})
}

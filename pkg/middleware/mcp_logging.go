package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// maxMCPCapture bounds how much of an MCP request or response body is buffered for logging.
const maxMCPCapture = 64 << 10

// MCPRequestLogger returns middleware that logs MCP JSON-RPC calls at DEBUG level.
// Argument values are never logged: questions carry client names and amounts. Only the
// argument keys and, for strings, their length are recorded.
// Pass nil logger to disable logging.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.Body == nil {
				next.ServeHTTP(w, r)
				return
			}

			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxMCPCapture+1))
			if err != nil {
				logger.Error("Failed to read MCP request body", zap.Error(err))
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			// Reattach what was read plus anything past the capture limit.
			r.Body = struct {
				io.Reader
				io.Closer
			}{io.MultiReader(bytes.NewReader(bodyBytes), r.Body), r.Body}

			var rpcReq jsonRPCRequest
			if err := json.Unmarshal(bodyBytes, &rpcReq); err != nil {
				logger.Debug("Failed to parse MCP request JSON", zap.Error(err))
			}

			logger.Debug("MCP request",
				zap.String("method", rpcReq.Method),
				zap.String("tool", rpcReq.Params.Name),
				zap.Any("arguments", summarizeArguments(rpcReq.Params.Arguments)),
			)

			recorder := &mcpResponseRecorder{responseWriter: responseWriter{ResponseWriter: w, statusCode: http.StatusOK}}
			start := time.Now()

			next.ServeHTTP(recorder, r)

			duration := time.Since(start)

			var rpcResp jsonRPCResponse
			if err := json.Unmarshal(recorder.body.Bytes(), &rpcResp); err != nil {
				// Streamed (SSE) or truncated responses are not JSON documents.
				logger.Debug("MCP response",
					zap.String("tool", rpcReq.Params.Name),
					zap.Int("status", recorder.statusCode),
					zap.Duration("duration", duration),
				)
				return
			}

			switch {
			case rpcResp.Error != nil:
				logger.Debug("MCP response error",
					zap.String("tool", rpcReq.Params.Name),
					zap.Int("error_code", rpcResp.Error.Code),
					zap.String("error_message", rpcResp.Error.Message),
					zap.Duration("duration", duration),
				)
			case rpcResp.Result.IsError:
				logger.Debug("MCP tool error",
					zap.String("tool", rpcReq.Params.Name),
					zap.Duration("duration", duration),
				)
			default:
				logger.Debug("MCP response success",
					zap.String("tool", rpcReq.Params.Name),
					zap.Duration("duration", duration),
				)
			}
		})
	}
}

type jsonRPCRequest struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

type jsonRPCResponse struct {
	Result struct {
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *jsonRPCError `json:"error"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// mcpResponseRecorder captures up to maxMCPCapture bytes of the response body.
type mcpResponseRecorder struct {
	responseWriter
	body bytes.Buffer
}

func (r *mcpResponseRecorder) Write(b []byte) (int, error) {
	if room := maxMCPCapture - r.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		r.body.Write(b[:room])
	}
	return r.responseWriter.Write(b)
}

// summarizeArguments replaces each argument value with a description of its shape.
func summarizeArguments(args map[string]any) map[string]string {
	if args == nil {
		return nil
	}

	out := make(map[string]string, len(args))
	for k, arg := range args {
		switch v := arg.(type) {
		case string:
			out[k] = "string(" + strconv.Itoa(utf8.RuneCountInString(v)) + ")"
		case float64:
			out[k] = "number"
		case bool:
			out[k] = "bool"
		case nil:
			out[k] = "null"
		case []any:
			out[k] = "array(" + strconv.Itoa(len(v)) + ")"
		default:
			out[k] = "object"
		}
	}
	return out
}

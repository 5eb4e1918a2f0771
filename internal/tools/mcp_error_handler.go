package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ikhwanand/gemini-ai-chatbot/internal/metrics"
	"github.com/Ikhwanand/gemini-ai-chatbot/pkg/logger"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
)

// MCPErrorResult MCP 工具失败时返回给模型的统一格式
type MCPErrorResult struct {
	Success      bool   `json:"success"`
	Error        bool   `json:"error"`
	ErrorMessage string `json:"error_message"`
	ToolName     string `json:"tool_name"`
	Server       string `json:"server,omitempty"`
}

// NewMCPResultHandler 把工具执行错误转换成普通结果，避免中断代理的图执行
func NewMCPResultHandler(server string) func(ctx context.Context, name string, result *mcp.CallToolResult) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, name string, result *mcp.CallToolResult) (*mcp.CallToolResult, error) {
		if result == nil {
			result = &mcp.CallToolResult{IsError: true}
		}
		if !result.IsError {
			metrics.SearchToolCallsTotal.WithLabelValues(name, "ok").Inc()
			return result, nil
		}

		metrics.SearchToolCallsTotal.WithLabelValues(name, "error").Inc()
		msg := extractErrorMessage(result)
		logger.WithFields(logrus.Fields{
			"server": server,
			"tool":   name,
		}).Warnf("mcp tool failed: %s", msg)

		data, err := json.Marshal(MCPErrorResult{
			Success:      false,
			Error:        true,
			ErrorMessage: msg,
			ToolName:     name,
			Server:       server,
		})
		if err != nil {
			data = []byte(fmt.Sprintf(`{"success": false, "error": true, "tool_name": %q}`, name))
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(data))},
			IsError: false,
		}, nil
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			if tc.Text != "" {
				return hintErrorMessage(tc.Text)
			}
		case *mcp.TextContent:
			if tc.Text != "" {
				return hintErrorMessage(tc.Text)
			}
		}
	}
	return "mcp tool execution failed"
}

// hintErrorMessage 鉴权和限流错误附带提示
func hintErrorMessage(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "unauthorized", "forbidden", "invalid api key", "access denied"):
		return msg + " (the retrieval server rejected the credentials, try another tool)"
	case containsAny(lower, "rate limit", "too many requests", "429"):
		return msg + " (the retrieval server is rate limited, try another tool)"
	default:
		return msg
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

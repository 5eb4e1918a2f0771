package tools

import (
	"context"

	"github.com/Ikhwanand/gemini-ai-chatbot/internal/config"

	"github.com/cloudwego/eino/components/tool"
)

// NewSearchToolset 返回检索代理的工具集构造函数，每次调用都生成新的工具实例。
// mcpTools 可以为 nil。
func NewSearchToolset(cfg config.SearchConfig, mcpTools *MCPToolset) func(ctx context.Context) ([]tool.BaseTool, error) {
	return func(ctx context.Context) ([]tool.BaseTool, error) {
		provider, err := NewSearchProvider(cfg.Web)
		if err != nil {
			return nil, err
		}

		tools := []tool.BaseTool{
			NewWebSearchTool(provider, cfg.Web.MaxResults),
			NewArxivTool(cfg.Arxiv),
		}
		return append(tools, mcpTools.Tools()...), nil
	}
}

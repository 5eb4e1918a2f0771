package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/Ikhwanand/gemini-ai-chatbot/internal/metrics"
	"github.com/Ikhwanand/gemini-ai-chatbot/pkg/logger"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

const WebSearchToolName = "web_search"

// WebSearchTool implements tool.InvokableTool on top of a SearchProvider
type WebSearchTool struct {
	provider   SearchProvider
	maxResults int
}

var _ tool.InvokableTool = (*WebSearchTool)(nil)

func NewWebSearchTool(provider SearchProvider, maxResults int) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &WebSearchTool{provider: provider, maxResults: maxResults}
}

func (t *WebSearchTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: WebSearchToolName,
		Desc: "Search the web for up-to-date information. Returns a JSON array of results with title, url and snippet.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "The search query",
				Required: true,
			},
			"max_results": {
				Type:     schema.Integer,
				Desc:     "Maximum number of results to return",
				Required: false,
			},
		}),
	}, nil
}

func (t *WebSearchTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	args, err := parseToolArgs(argumentsInJSON)
	if err != nil {
		metrics.SearchToolCallsTotal.WithLabelValues(WebSearchToolName, "error").Inc()
		return errorResult(WebSearchToolName, err), nil
	}
	if strings.TrimSpace(args.Query) == "" {
		metrics.SearchToolCallsTotal.WithLabelValues(WebSearchToolName, "error").Inc()
		return errorResult(WebSearchToolName, errors.New("query is required")), nil
	}

	limit := t.maxResults
	if args.MaxResults > 0 && args.MaxResults < limit {
		limit = args.MaxResults
	}

	results, err := t.provider.Search(ctx, args.Query, limit)
	if err != nil {
		logger.Warnf("web_search via %s failed: %v", t.provider.Name(), err)
		metrics.SearchToolCallsTotal.WithLabelValues(WebSearchToolName, "error").Inc()
		return errorResult(WebSearchToolName, err), nil
	}
	if results == nil {
		results = []Result{}
	}

	data, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	metrics.SearchToolCallsTotal.WithLabelValues(WebSearchToolName, "ok").Inc()
	return string(data), nil
}

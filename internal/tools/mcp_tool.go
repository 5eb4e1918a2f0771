package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/Ikhwanand/gemini-ai-chatbot/internal/config"
	"github.com/Ikhwanand/gemini-ai-chatbot/pkg/logger"

	einoMcp "github.com/cloudwego/eino-ext/components/tool/mcp"
	"github.com/cloudwego/eino/components/tool"
	"github.com/hashicorp/go-multierror"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const mcpInitTimeout = 30 * time.Second

// MCPToolset 启动时连接的 MCP 检索服务及其工具
type MCPToolset struct {
	clients map[string]*client.Client
	tools   []tool.BaseTool
}

// NewMCPToolset 逐个连接配置的服务。单个服务失败不影响其他服务，
// 失败信息合并后与可用的工具集一起返回。
func NewMCPToolset(ctx context.Context, servers []config.MCPServerConfig) (*MCPToolset, error) {
	ts := &MCPToolset{clients: make(map[string]*client.Client)}

	var result *multierror.Error
	for i, srv := range servers {
		name := srv.Name
		if name == "" {
			name = fmt.Sprintf("mcp-%d", i)
		}

		cli, tools, err := loadMCPServer(ctx, name, srv)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("mcp server %s: %w", name, err))
			continue
		}

		logger.Infof("MCP server %s loaded: %d tools", name, len(tools))
		ts.clients[name] = cli
		ts.tools = append(ts.tools, tools...)
	}

	return ts, result.ErrorOrNil()
}

func loadMCPServer(ctx context.Context, name string, srv config.MCPServerConfig) (*client.Client, []tool.BaseTool, error) {
	ctx, cancel := context.WithTimeout(ctx, mcpInitTimeout)
	defer cancel()

	var cli *client.Client
	var err error
	switch srv.Transport {
	case "", "sse":
		cli, err = client.NewSSEMCPClient(srv.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("create sse client: %w", err)
		}
		if err = cli.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("start sse client: %w", err)
		}
	case "stdio":
		// stdio 客户端创建时即启动子进程，无需 Start
		cli, err = client.NewStdioMCPClient(srv.Command, srv.Env, srv.Args...)
		if err != nil {
			return nil, nil, fmt.Errorf("create stdio client: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported transport %q", srv.Transport)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "gemini-ai-chatbot-" + name,
		Version: "1.0.0",
	}
	if _, err = cli.Initialize(ctx, initRequest); err != nil {
		_ = cli.Close()
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}

	tools, err := einoMcp.GetTools(ctx, &einoMcp.Config{
		Cli:                   cli,
		ToolCallResultHandler: NewMCPResultHandler(name),
	})
	if err != nil {
		_ = cli.Close()
		return nil, nil, fmt.Errorf("list tools: %w", err)
	}
	return cli, tools, nil
}

// Tools 返回所有已连接服务的工具，nil 接收者返回空
func (t *MCPToolset) Tools() []tool.BaseTool {
	if t == nil {
		return nil
	}
	out := make([]tool.BaseTool, len(t.tools))
	copy(out, t.tools)
	return out
}

func (t *MCPToolset) Close() error {
	if t == nil {
		return nil
	}
	var result *multierror.Error
	for name, cli := range t.clients {
		if err := cli.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close mcp server %s: %w", name, err))
		}
	}
	t.clients = nil
	t.tools = nil
	return result.ErrorOrNil()
}

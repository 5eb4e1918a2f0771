package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Ikhwanand/gemini-ai-chatbot/internal/metrics"
	"github.com/Ikhwanand/gemini-ai-chatbot/pkg/logger"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"
)

const (
	nodeQueryToMap = "QueryToMap"
	nodeTemplate   = "AgentTemplate"
	nodeModel      = "AgentModel"
	nodeTools      = "ToolsNode"

	defaultMaxSteps = 5
)

// SearchAgentSpec 检索代理的声明式配置
type SearchAgentSpec struct {
	Description  string
	Instructions []string
	// Fallback 模型没有给出内容时返回的文本
	Fallback string
	// MaxSteps 最多允许的工具调用轮数
	MaxSteps int
}

// SystemPrompt 由描述和编号指令拼出系统提示词
func (s SearchAgentSpec) SystemPrompt() string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(s.Description))
	if len(s.Instructions) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("Instructions:\n")
		for i, ins := range s.Instructions {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.TrimSpace(ins))
		}
	}
	return strings.TrimSpace(sb.String())
}

func (s SearchAgentSpec) maxRunSteps() int {
	steps := s.MaxSteps
	if steps <= 0 {
		steps = defaultMaxSteps
	}
	// 入口三个节点，每轮工具调用再走 ToolsNode 与 AgentModel
	return 2*steps + 4
}

// SearchAgent 接收查询，自行决定调用哪些检索工具，返回带来源的回答
type SearchAgent interface {
	Run(ctx context.Context, query string) (string, error)
}

// SearchAgentFactory 每次调用构建一个全新的代理，不在请求之间复用
type SearchAgentFactory func(ctx context.Context) (SearchAgent, error)

// ToolsetFunc 返回代理可用的检索工具
type ToolsetFunc func(ctx context.Context) ([]tool.BaseTool, error)

func NewSearchAgentFactory(cm einoModel.ToolCallingChatModel, spec SearchAgentSpec, toolset ToolsetFunc) SearchAgentFactory {
	return func(ctx context.Context) (SearchAgent, error) {
		return newSearchAgent(ctx, cm, spec, toolset)
	}
}

type searchAgent struct {
	runnable compose.Runnable[string, *schema.Message]
	fallback string
}

func newSearchAgent(ctx context.Context, cm einoModel.ToolCallingChatModel, spec SearchAgentSpec, toolset ToolsetFunc) (*searchAgent, error) {
	if cm == nil {
		return nil, errors.New("search agent: nil chat model")
	}

	var tools []tool.BaseTool
	if toolset != nil {
		var err error
		if tools, err = toolset(ctx); err != nil {
			return nil, fmt.Errorf("search agent tools: %w", err)
		}
	}

	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("search agent tool info: %w", err)
		}
		infos = append(infos, info)
	}

	agentModel := cm
	var tn *compose.ToolsNode
	if len(infos) > 0 {
		bound, err := cm.WithTools(infos)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
		agentModel = bound

		tn, err = compose.NewToolNode(ctx, &compose.ToolsNodeConfig{Tools: tools})
		if err != nil {
			return nil, fmt.Errorf("create tools node: %w", err)
		}
	}

	runnable, err := composeSearchGraph(ctx, agentModel, tn, spec)
	if err != nil {
		return nil, fmt.Errorf("compose search graph: %w", err)
	}

	return &searchAgent{runnable: runnable, fallback: spec.Fallback}, nil
}

// Run 同步执行到结束，模型最终没有内容或工具轮数用尽时返回 fallback
func (a *searchAgent) Run(ctx context.Context, query string) (string, error) {
	if query == "" {
		return "", ErrEmptyMessage
	}

	out, err := a.runnable.Invoke(ctx, query)
	if isMaxStepsError(err) {
		logger.Warnf("search agent exceeded max steps, returning fallback: %v", err)
		return a.fallback, nil
	}
	if err != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues("search").Inc()
		return "", fmt.Errorf("search agent: %w", err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return a.fallback, nil
	}
	return out.Content, nil
}

type searchState struct {
	history []*schema.Message
}

func composeSearchGraph(ctx context.Context, cm einoModel.BaseChatModel, tn *compose.ToolsNode, spec SearchAgentSpec) (compose.Runnable[string, *schema.Message], error) {
	g := compose.NewGraph[string, *schema.Message](compose.WithGenLocalState(func(ctx context.Context) *searchState {
		return &searchState{}
	}))

	queryToMap := compose.InvokableLambda(func(ctx context.Context, query string) (map[string]any, error) {
		return map[string]any{"query": query}, nil
	})
	if err := g.AddLambdaNode(nodeQueryToMap, queryToMap); err != nil {
		return nil, err
	}

	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage(escapeFString(spec.SystemPrompt())),
		schema.UserMessage("{query}"),
	)
	if err := g.AddChatTemplateNode(nodeTemplate, tpl); err != nil {
		return nil, err
	}

	err := g.AddChatModelNode(
		nodeModel,
		cm,
		compose.WithStatePreHandler(func(ctx context.Context, in []*schema.Message, state *searchState) ([]*schema.Message, error) {
			state.history = append(state.history, in...)
			return state.history, nil
		}),
		compose.WithStatePostHandler(func(ctx context.Context, out *schema.Message, state *searchState) (*schema.Message, error) {
			state.history = append(state.history, out)
			return out, nil
		}),
	)
	if err != nil {
		return nil, err
	}

	if err := g.AddEdge(compose.START, nodeQueryToMap); err != nil {
		return nil, err
	}
	if err := g.AddEdge(nodeQueryToMap, nodeTemplate); err != nil {
		return nil, err
	}
	if err := g.AddEdge(nodeTemplate, nodeModel); err != nil {
		return nil, err
	}

	if tn == nil {
		if err := g.AddEdge(nodeModel, compose.END); err != nil {
			return nil, err
		}
		return g.Compile(ctx, compose.WithGraphName("SearchAgent"), compose.WithMaxRunSteps(spec.maxRunSteps()))
	}

	if err := g.AddToolsNode(nodeTools, tn); err != nil {
		return nil, err
	}
	if err := g.AddEdge(nodeTools, nodeModel); err != nil {
		return nil, err
	}

	err = g.AddBranch(nodeModel, compose.NewGraphBranch(func(ctx context.Context, in *schema.Message) (string, error) {
		if len(in.ToolCalls) == 0 {
			return compose.END, nil
		}
		for _, tc := range in.ToolCalls {
			logger.WithFields(logrus.Fields{
				"tool":      tc.Function.Name,
				"arguments": tc.Function.Arguments,
			}).Info("search agent tool call")
		}
		return nodeTools, nil
	}, map[string]bool{nodeTools: true, compose.END: true}))
	if err != nil {
		return nil, err
	}

	return g.Compile(ctx, compose.WithGraphName("SearchAgent"), compose.WithMaxRunSteps(spec.maxRunSteps()))
}

// isMaxStepsError 工具轮数用尽视为没有找到信息
func isMaxStepsError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, compose.ErrExceedMaxSteps) || strings.Contains(err.Error(), "exceeds max steps")
}

// escapeFString 转义花括号，避免被模板当作变量
func escapeFString(s string) string {
	return strings.NewReplacer("{", "{{", "}", "}}").Replace(s)
}

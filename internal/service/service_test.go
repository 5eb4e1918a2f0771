package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel 按顺序返回预置回复，并记录每次调用的输入
type scriptedModel struct {
	script *script
	tools  []*schema.ToolInfo
}

type script struct {
	mu      sync.Mutex
	replies []*schema.Message
	repeat  *schema.Message
	err     error
	inputs  [][]*schema.Message
	bound   [][]*schema.ToolInfo
}

func newScriptedModel(replies ...*schema.Message) *scriptedModel {
	return &scriptedModel{script: &script{replies: replies}}
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	s := m.script
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]*schema.Message, len(input))
	copy(cp, input)
	s.inputs = append(s.inputs, cp)

	if s.err != nil {
		return nil, s.err
	}
	if s.repeat != nil {
		return s.repeat, nil
	}
	if len(s.replies) == 0 {
		return schema.AssistantMessage("", nil), nil
	}
	out := s.replies[0]
	s.replies = s.replies[1:]
	return out, nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	out, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{out}), nil
}

func (m *scriptedModel) WithTools(tools []*schema.ToolInfo) (einoModel.ToolCallingChatModel, error) {
	m.script.mu.Lock()
	m.script.bound = append(m.script.bound, tools)
	m.script.mu.Unlock()
	return &scriptedModel{script: m.script, tools: tools}, nil
}

type fakeTool struct {
	name   string
	result string
	mu     sync.Mutex
	args   []string
}

func (t *fakeTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.name,
		Desc: "fake " + t.name,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Required: true},
		}),
	}, nil
}

func (t *fakeTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	t.mu.Lock()
	t.args = append(t.args, argumentsInJSON)
	t.mu.Unlock()
	return t.result, nil
}

func toolCall(id, name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})
}

func testSpec() SearchAgentSpec {
	return SearchAgentSpec{
		Description: "You are a helpful assistant that helps users find information on the web.",
		Instructions: []string{
			"Use the web_search tool to search for information on the web.",
			"If no information is found, return 'No information found.'",
		},
		Fallback: "No information found.",
		MaxSteps: 3,
	}
}

func staticToolset(tools ...tool.BaseTool) ToolsetFunc {
	return func(ctx context.Context) ([]tool.BaseTool, error) {
		return tools, nil
	}
}

func TestChatServiceGenerate(t *testing.T) {
	m := newScriptedModel(schema.AssistantMessage("hi there", nil))
	svc := NewChatService(m)

	out, err := svc.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)

	require.Len(t, m.script.inputs, 1)
	require.Len(t, m.script.inputs[0], 1)
	assert.Equal(t, schema.User, m.script.inputs[0][0].Role)
	assert.Equal(t, "hello", m.script.inputs[0][0].Content)

	_, err = svc.Generate(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestChatServiceGenerateError(t *testing.T) {
	m := newScriptedModel()
	m.script.err = errors.New("quota exceeded")

	_, err := NewChatService(m).Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

// fragmentModel 流式返回预置片段，可在末尾注入错误
type fragmentModel struct {
	fragments []string
	tailErr   error
	lastInput []*schema.Message
}

func (m *fragmentModel) Generate(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	m.lastInput = input
	return schema.AssistantMessage(strings.Join(m.fragments, ""), nil), nil
}

func (m *fragmentModel) Stream(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	m.lastInput = input
	sr, sw := schema.Pipe[*schema.Message](len(m.fragments) + 2)
	go func() {
		defer sw.Close()
		for _, f := range m.fragments {
			sw.Send(schema.AssistantMessage(f, nil), nil)
		}
		if m.tailErr != nil {
			sw.Send(nil, m.tailErr)
		}
	}()
	return sr, nil
}

func TestChatServiceStreamChat(t *testing.T) {
	m := &fragmentModel{fragments: []string{"1", "", "2", "3"}}
	svc := NewChatService(m)

	history := []*schema.Message{schema.UserMessage("hi"), schema.AssistantMessage("hello", nil)}
	sr, err := svc.StreamChat(context.Background(), history, "count")
	require.NoError(t, err)
	defer sr.Close()

	var got []string
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk)
	}

	assert.Equal(t, []string{"1", "2", "3"}, got)
	require.Len(t, m.lastInput, 3)
	assert.Equal(t, "hi", m.lastInput[0].Content)
	assert.Equal(t, "count", m.lastInput[2].Content)
	assert.Equal(t, schema.User, m.lastInput[2].Role)
}

func TestChatServiceStreamChatMidStreamError(t *testing.T) {
	m := &fragmentModel{fragments: []string{"partial"}, tailErr: errors.New("connection reset")}
	sr, err := NewChatService(m).StreamChat(context.Background(), nil, "count")
	require.NoError(t, err)
	defer sr.Close()

	chunk, err := sr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "partial", chunk)

	_, err = sr.Recv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestSearchAgentSpecSystemPrompt(t *testing.T) {
	p := testSpec().SystemPrompt()
	assert.True(t, strings.HasPrefix(p, "You are a helpful assistant"))
	assert.Contains(t, p, "1. Use the web_search tool")
	assert.Contains(t, p, "2. If no information is found, return 'No information found.'")
}

func TestSearchAgentRunsToolLoop(t *testing.T) {
	web := &fakeTool{name: "web_search", result: `[{"title":"X","url":"http://example.com/x"}]`}
	arxiv := &fakeTool{name: "arxiv_search", result: `[]`}
	m := newScriptedModel(
		toolCall("call-1", "web_search", `{"query":"paper X"}`),
		schema.AssistantMessage("Found: http://example.com/x", nil),
	)

	factory := NewSearchAgentFactory(m, testSpec(), staticToolset(web, arxiv))
	agent, err := factory(context.Background())
	require.NoError(t, err)

	out, err := agent.Run(context.Background(), "find paper X")
	require.NoError(t, err)
	assert.Equal(t, "Found: http://example.com/x", out)

	require.Len(t, m.script.bound, 1)
	assert.Len(t, m.script.bound[0], 2)
	assert.Equal(t, []string{`{"query":"paper X"}`}, web.args)
	assert.Empty(t, arxiv.args)

	require.Len(t, m.script.inputs, 2)
	first := m.script.inputs[0]
	require.Len(t, first, 2)
	assert.Equal(t, schema.System, first[0].Role)
	assert.Contains(t, first[0].Content, "Use the web_search tool")
	assert.Equal(t, "find paper X", first[1].Content)

	second := m.script.inputs[1]
	require.Len(t, second, 4)
	assert.Equal(t, schema.Tool, second[3].Role)
	assert.Equal(t, "call-1", second[3].ToolCallID)
	assert.Equal(t, web.result, second[3].Content)
}

func TestSearchAgentFallbackOnEmptyAnswer(t *testing.T) {
	m := newScriptedModel(schema.AssistantMessage("  ", nil))
	agent, err := NewSearchAgentFactory(m, testSpec(), staticToolset(&fakeTool{name: "web_search"}))(context.Background())
	require.NoError(t, err)

	out, err := agent.Run(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "No information found.", out)
}

func TestSearchAgentWithoutTools(t *testing.T) {
	m := newScriptedModel(schema.AssistantMessage("plain answer", nil))
	agent, err := NewSearchAgentFactory(m, testSpec(), staticToolset())(context.Background())
	require.NoError(t, err)

	out, err := agent.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "plain answer", out)
	assert.Empty(t, m.script.bound)
}

func TestSearchAgentModelError(t *testing.T) {
	m := newScriptedModel()
	m.script.err = errors.New("upstream unavailable")
	agent, err := NewSearchAgentFactory(m, testSpec(), staticToolset(&fakeTool{name: "web_search"}))(context.Background())
	require.NoError(t, err)

	_, err = agent.Run(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream unavailable")
}

func TestSearchAgentStopsAfterMaxSteps(t *testing.T) {
	m := newScriptedModel()
	m.script.repeat = toolCall("loop", "web_search", `{"query":"again"}`)
	spec := testSpec()
	spec.MaxSteps = 1

	agent, err := NewSearchAgentFactory(m, spec, staticToolset(&fakeTool{name: "web_search", result: "[]"}))(context.Background())
	require.NoError(t, err)

	answer, err := agent.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, spec.Fallback, answer)
}

func TestIsMaxStepsError(t *testing.T) {
	assert.False(t, isMaxStepsError(nil))
	assert.False(t, isMaxStepsError(errors.New("upstream unavailable")))
	assert.True(t, isMaxStepsError(fmt.Errorf("run graph: %w", compose.ErrExceedMaxSteps)))
}

func TestSearchAgentFactoryToolsetError(t *testing.T) {
	m := newScriptedModel()
	factory := NewSearchAgentFactory(m, testSpec(), func(ctx context.Context) ([]tool.BaseTool, error) {
		return nil, errors.New("mcp unavailable")
	})

	_, err := factory(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mcp unavailable")
}

func TestSearchAgentFactoryBuildsFreshAgents(t *testing.T) {
	calls := 0
	m := newScriptedModel()
	factory := NewSearchAgentFactory(m, testSpec(), func(ctx context.Context) ([]tool.BaseTool, error) {
		calls++
		return []tool.BaseTool{&fakeTool{name: "web_search"}}, nil
	})

	a1, err := factory(context.Background())
	require.NoError(t, err)
	a2, err := factory(context.Background())
	require.NoError(t, err)

	assert.NotSame(t, a1, a2)
	assert.Equal(t, 2, calls)
	assert.Len(t, m.script.bound, 2)
}

func TestEscapeFString(t *testing.T) {
	assert.Equal(t, "use {{json}}", escapeFString("use {json}"))
}

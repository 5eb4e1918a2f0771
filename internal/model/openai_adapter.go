package model

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Ikhwanand/gemini-ai-chatbot/internal/config"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/utils"
	"github.com/Ikhwanand/gemini-ai-chatbot/pkg/logger"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"
)

var _ einoModel.ToolCallingChatModel = (*openaiChatModel)(nil)

type openaiChatModel struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	tools       []openai.Tool
}

func newOpenAIChatModel(ctx context.Context, cfg config.OpenAIConfig) (*openaiChatModel, error) {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = utils.NewHTTPClient(cfg.Timeout)
	}

	return &openaiChatModel{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (m *openaiChatModel) GetType() string {
	return "OpenAI"
}

// 实现eino.ChatModel接口
func (m *openaiChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	req := m.buildRequest(messages, opts)
	logger.Debugf("OpenAI Generate - model: %s, messages: %d", req.Model, len(req.Messages))

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no response from OpenAI")
	}

	choice := resp.Choices[0].Message
	out := &schema.Message{
		Role:    schema.Assistant,
		Content: choice.Content,
	}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
			Index: tc.Index,
			ID:    tc.ID,
			Type:  string(tc.Type),
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out, nil
}

func (m *openaiChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	req := m.buildRequest(messages, opts)
	req.Stream = true

	stream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	reader, writer := schema.Pipe[*schema.Message](16)

	go func() {
		defer writer.Close()
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				writer.Send(nil, fmt.Errorf("openai stream: %w", err))
				return
			}
			if len(response.Choices) == 0 {
				continue
			}

			delta := response.Choices[0].Delta
			if delta.Content == "" && len(delta.ToolCalls) == 0 {
				continue
			}

			msg := &schema.Message{
				Role:    schema.Assistant,
				Content: delta.Content,
			}
			for _, tc := range delta.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
					Index: tc.Index,
					ID:    tc.ID,
					Type:  string(tc.Type),
					Function: schema.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}

			if closed := writer.Send(msg, nil); closed {
				return
			}
		}
	}()

	return reader, nil
}

// WithTools 返回绑定了工具的副本
func (m *openaiChatModel) WithTools(tools []*schema.ToolInfo) (einoModel.ToolCallingChatModel, error) {
	converted := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		if t == nil {
			return nil, errors.New("nil tool info")
		}
		def := &openai.FunctionDefinition{
			Name:        t.Name,
			Description: t.Desc,
		}
		if t.ParamsOneOf != nil {
			params, err := t.ParamsOneOf.ToOpenAPIV3()
			if err != nil {
				return nil, fmt.Errorf("tool %s parameters: %w", t.Name, err)
			}
			def.Parameters = params
		}
		converted = append(converted, openai.Tool{Type: openai.ToolTypeFunction, Function: def})
	}

	cp := *m
	cp.tools = converted
	return &cp, nil
}

func (m *openaiChatModel) buildRequest(messages []*schema.Message, opts []einoModel.Option) openai.ChatCompletionRequest {
	defaults := &einoModel.Options{Model: &m.model}
	if m.maxTokens > 0 {
		maxTokens := m.maxTokens
		defaults.MaxTokens = &maxTokens
	}
	if m.temperature > 0 {
		temperature := m.temperature
		defaults.Temperature = &temperature
	}
	o := einoModel.GetCommonOptions(defaults, opts...)

	req := openai.ChatCompletionRequest{
		Model:    m.model,
		Messages: convertOpenAIMessages(messages),
		Tools:    m.tools,
	}
	if o.Model != nil && *o.Model != "" {
		req.Model = *o.Model
	}
	if o.MaxTokens != nil {
		req.MaxTokens = *o.MaxTokens
	}
	if o.Temperature != nil {
		req.Temperature = *o.Temperature
	}
	return req
}

// 消息格式转换
func convertOpenAIMessages(messages []*schema.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}

		out := openai.ChatCompletionMessage{Content: msg.Content}
		switch msg.Role {
		case schema.System:
			out.Role = openai.ChatMessageRoleSystem
		case schema.Assistant:
			out.Role = openai.ChatMessageRoleAssistant
			for _, tc := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			// 跳过空的assistant消息，这些消息可能导致API错误
			if out.Content == "" && len(out.ToolCalls) == 0 {
				continue
			}
		case schema.Tool:
			out.Role = openai.ChatMessageRoleTool
			out.ToolCallID = msg.ToolCallID
		default:
			out.Role = openai.ChatMessageRoleUser
		}

		result = append(result, out)
	}
	return result
}

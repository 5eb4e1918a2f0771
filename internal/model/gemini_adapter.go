package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Ikhwanand/gemini-ai-chatbot/internal/config"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/utils"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errNoCandidates = errors.New("gemini returned no candidates")

var _ einoModel.ToolCallingChatModel = (*geminiChatModel)(nil)

type geminiChatModel struct {
	client      *genai.Client
	model       string
	maxTokens   int
	temperature *float32
	tools       []*genai.Tool
}

func newGeminiChatModel(ctx context.Context, cfg config.GeminiConfig) (*geminiChatModel, error) {
	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = utils.NewHTTPClient(cfg.Timeout)
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &geminiChatModel{
		client:      client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (m *geminiChatModel) GetType() string {
	return "Gemini"
}

func (m *geminiChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	contents, system, err := toGeminiContents(input)
	if err != nil {
		return nil, err
	}

	modelName, conf := m.generateConfig(system, opts)
	resp, err := m.client.Models.GenerateContent(ctx, modelName, contents, conf)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if err := blockedError(resp); err != nil {
		return nil, err
	}

	msg := messageFromResponse(resp)
	if msg == nil {
		if err := finishError(resp); err != nil {
			return nil, err
		}
		return nil, errNoCandidates
	}
	return msg, nil
}

func (m *geminiChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	contents, system, err := toGeminiContents(input)
	if err != nil {
		return nil, err
	}
	modelName, conf := m.generateConfig(system, opts)

	reader, writer := schema.Pipe[*schema.Message](16)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				writer.Send(nil, fmt.Errorf("gemini stream panic: %v", p))
			}
			writer.Close()
		}()

		for resp, err := range m.client.Models.GenerateContentStream(ctx, modelName, contents, conf) {
			if err != nil {
				writer.Send(nil, fmt.Errorf("gemini stream: %w", err))
				return
			}
			if err := blockedError(resp); err != nil {
				writer.Send(nil, err)
				return
			}

			msg := messageFromResponse(resp)
			if msg == nil {
				// 候选被中途拦截时没有内容，不能当作正常结束
				if err := finishError(resp); err != nil {
					writer.Send(nil, err)
					return
				}
				continue
			}
			// 读端已关闭，停止拉取上游
			if closed := writer.Send(msg, nil); closed {
				return
			}
		}
	}()

	return reader, nil
}

// WithTools 返回绑定了工具的副本，不修改共享实例
func (m *geminiChatModel) WithTools(tools []*schema.ToolInfo) (einoModel.ToolCallingChatModel, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl, err := functionDeclaration(t)
		if err != nil {
			return nil, err
		}
		decls = append(decls, decl)
	}

	cp := *m
	cp.tools = nil
	if len(decls) > 0 {
		cp.tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return &cp, nil
}

func (m *geminiChatModel) generateConfig(system *genai.Content, opts []einoModel.Option) (string, *genai.GenerateContentConfig) {
	defaults := &einoModel.Options{
		Model:       &m.model,
		Temperature: m.temperature,
	}
	if m.maxTokens > 0 {
		maxTokens := m.maxTokens
		defaults.MaxTokens = &maxTokens
	}
	o := einoModel.GetCommonOptions(defaults, opts...)

	conf := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       o.Temperature,
		Tools:             m.tools,
	}
	if o.MaxTokens != nil && *o.MaxTokens > 0 {
		conf.MaxOutputTokens = int32(*o.MaxTokens)
	}

	modelName := m.model
	if o.Model != nil && *o.Model != "" {
		modelName = *o.Model
	}
	return modelName, conf
}

func functionDeclaration(t *schema.ToolInfo) (*genai.FunctionDeclaration, error) {
	if t == nil {
		return nil, errors.New("nil tool info")
	}
	decl := &genai.FunctionDeclaration{
		Name:        t.Name,
		Description: t.Desc,
	}
	if t.ParamsOneOf != nil {
		params, err := t.ParamsOneOf.ToOpenAPIV3()
		if err != nil {
			return nil, fmt.Errorf("tool %s parameters: %w", t.Name, err)
		}
		if params != nil {
			decl.ParametersJsonSchema = params
		}
	}
	return decl, nil
}

// toGeminiContents 转换消息，system 消息合并为 SystemInstruction
func toGeminiContents(msgs []*schema.Message) ([]*genai.Content, *genai.Content, error) {
	var (
		contents []*genai.Content
		system   *genai.Content
		toolTurn *genai.Content
	)
	calls := make(map[string]*genai.FunctionCall)

	for _, msg := range msgs {
		if msg == nil {
			continue
		}

		if c, ok := msg.Extra[geminiContentKey].(*genai.Content); ok && c != nil {
			contents = append(contents, c)
			toolTurn = nil
			continue
		}

		switch msg.Role {
		case schema.System:
			if msg.Content == "" {
				continue
			}
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, &genai.Part{Text: msg.Content})

		case schema.Tool:
			resp := &genai.FunctionResponse{
				ID:       msg.ToolCallID,
				Response: map[string]any{"output": msg.Content},
			}
			if fc, ok := calls[msg.ToolCallID]; ok {
				resp.ID = fc.ID
				resp.Name = fc.Name
			}
			part := &genai.Part{FunctionResponse: resp}
			// 连续的工具结果合并为同一轮
			if toolTurn != nil {
				toolTurn.Parts = append(toolTurn.Parts, part)
				continue
			}
			toolTurn = &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{part}}
			contents = append(contents, toolTurn)

		case schema.Assistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				fc, err := functionCallFromToolCall(tc)
				if err != nil {
					return nil, nil, err
				}
				calls[tc.ID] = fc
				parts = append(parts, &genai.Part{FunctionCall: fc})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: string(genai.RoleModel), Parts: parts})
			toolTurn = nil

		default:
			if msg.Content == "" {
				continue
			}
			contents = append(contents, &genai.Content{
				Role:  string(genai.RoleUser),
				Parts: []*genai.Part{{Text: msg.Content}},
			})
			toolTurn = nil
		}
	}

	return contents, system, nil
}

func functionCallFromToolCall(tc schema.ToolCall) (*genai.FunctionCall, error) {
	if fc, ok := tc.Extra[geminiFunctionCallKey].(*genai.FunctionCall); ok && fc != nil {
		return fc, nil
	}

	var args map[string]any
	if strings.TrimSpace(tc.Function.Arguments) != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("tool call %s arguments: %w", tc.Function.Name, err)
		}
	}
	return &genai.FunctionCall{Name: tc.Function.Name, Args: args}, nil
}

// messageFromResponse 取第一个候选的文本与函数调用，无内容时返回 nil
func messageFromResponse(resp *genai.GenerateContentResponse) *schema.Message {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return nil
	}

	var (
		sb        strings.Builder
		toolCalls []schema.ToolCall
	)
	for _, p := range cand.Content.Parts {
		if p == nil {
			continue
		}
		if p.Text != "" && !p.Thought {
			sb.WriteString(p.Text)
		}
		if p.FunctionCall != nil {
			toolCalls = append(toolCalls, toolCallFromFunctionCall(p.FunctionCall))
		}
	}

	if sb.Len() == 0 && len(toolCalls) == 0 {
		return nil
	}
	return &schema.Message{
		Role:      schema.Assistant,
		Content:   sb.String(),
		ToolCalls: toolCalls,
	}
}

func toolCallFromFunctionCall(fc *genai.FunctionCall) schema.ToolCall {
	id := fc.ID
	if id == "" {
		// Gemini 通常不返回调用 ID，这里补一个用于关联工具结果
		id = uuid.NewString()
	}
	args := "{}"
	if len(fc.Args) > 0 {
		if b, err := json.Marshal(fc.Args); err == nil {
			args = string(b)
		}
	}
	return schema.ToolCall{
		ID:   id,
		Type: "function",
		Function: schema.FunctionCall{
			Name:      fc.Name,
			Arguments: args,
		},
		Extra: map[string]any{geminiFunctionCallKey: fc},
	}
}

func blockedError(resp *genai.GenerateContentResponse) error {
	if resp == nil || len(resp.Candidates) > 0 || resp.PromptFeedback == nil {
		return nil
	}
	if resp.PromptFeedback.BlockReason == "" {
		return nil
	}
	if resp.PromptFeedback.BlockReasonMessage != "" {
		return fmt.Errorf("gemini blocked prompt: %s (%s)", resp.PromptFeedback.BlockReason, resp.PromptFeedback.BlockReasonMessage)
	}
	return fmt.Errorf("gemini blocked prompt: %s", resp.PromptFeedback.BlockReason)
}

// finishError 候选以非正常原因结束（SAFETY、RECITATION 等）
func finishError(resp *genai.GenerateContentResponse) error {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	switch reason := resp.Candidates[0].FinishReason; reason {
	case "", genai.FinishReasonUnspecified, genai.FinishReasonStop, genai.FinishReasonMaxTokens:
		return nil
	default:
		return fmt.Errorf("gemini stopped: %s", reason)
	}
}

package model

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Ikhwanand/gemini-ai-chatbot/internal/config"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/utils"
	"github.com/Ikhwanand/gemini-ai-chatbot/pkg/logger"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
)

// NewChatModel 按 model.provider 创建对话模型。
// 绑定工具时返回副本，同一实例可在对话接口与 /search 代理之间共享。
func NewChatModel(ctx context.Context, cfg *config.Config) (einoModel.ToolCallingChatModel, error) {
	switch cfg.Model.Provider {
	case config.ProviderGemini, "":
		return createGeminiModel(ctx, cfg.Gemini)
	case config.ProviderOpenAI:
		return createOpenAIModel(ctx, cfg.OpenAI)
	case config.ProviderDoubao:
		return createDoubaoModel(ctx, cfg.Doubao)
	case config.ProviderQwen:
		return createQwenModel(ctx, cfg.Qwen)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Model.Provider)
	}
}

func createGeminiModel(ctx context.Context, cfg config.GeminiConfig) (einoModel.ToolCallingChatModel, error) {
	logger.Infof("Using Gemini API Key: %s, Model: %s", maskKey(cfg.APIKey), cfg.Model)

	chatModel, err := newGeminiChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini model: %w", err)
	}
	return chatModel, nil
}

func createOpenAIModel(ctx context.Context, cfg config.OpenAIConfig) (einoModel.ToolCallingChatModel, error) {
	logger.Infof("Using OpenAI Model: %s", cfg.Model)

	chatModel, err := newOpenAIChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}
	return chatModel, nil
}

func createDoubaoModel(ctx context.Context, cfg config.DoubaoConfig) (einoModel.ToolCallingChatModel, error) {
	logger.Infof("Using Doubao API Key: %s, Model: %s", maskKey(cfg.APIKey), cfg.Model)

	arkCfg := &ark.ChatModelConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
		CustomHeader: map[string]string{
			"X-Ark-Thinking-Mode": "disable",
		},
	}
	if cfg.BaseURL != "" {
		arkCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		timeout := cfg.Timeout
		arkCfg.Timeout = &timeout
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		arkCfg.MaxTokens = &maxTokens
	}
	if cfg.Temperature > 0 {
		temperature := cfg.Temperature
		arkCfg.Temperature = &temperature
	}

	chatModel, err := ark.NewChatModel(ctx, arkCfg)
	if err != nil {
		return nil, fmt.Errorf("create doubao model: %w", err)
	}
	return chatModel, nil
}

func createQwenModel(ctx context.Context, cfg config.QwenConfig) (einoModel.ToolCallingChatModel, error) {
	logger.Infof("Using Qwen API Key: %s, Model: %s, BaseURL: %s", maskKey(cfg.APIKey), cfg.Model, cfg.BaseURL)

	// 带调试功能的 HTTPClient，debug_request 关闭时只做透传
	httpClient := utils.NewHTTPClientWithTransport(cfg.Timeout, func(rt http.RoundTripper) http.RoundTripper {
		return utils.NewDebugTransport(rt, "qwen", cfg.DebugRequest)
	})

	maxTokens := cfg.MaxTokens
	temperature := cfg.Temperature
	topP := cfg.TopP
	chatModel, err := qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		TopP:        &topP,
		Timeout:     cfg.Timeout,
		HTTPClient:  httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("create qwen model: %w", err)
	}
	return chatModel, nil
}

func maskKey(key string) string {
	if len(key) > 10 {
		return key[:10] + "..."
	}
	if key == "" {
		return "(empty)"
	}
	return "***"
}

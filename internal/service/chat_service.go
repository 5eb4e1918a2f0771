package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ikhwanand/gemini-ai-chatbot/internal/metrics"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrEmptyMessage 请求中缺少消息内容
var ErrEmptyMessage = errors.New("empty message")

// ChatService 封装对话模型的单次生成与流式生成
type ChatService struct {
	chatModel einoModel.BaseChatModel
}

func NewChatService(chatModel einoModel.BaseChatModel) *ChatService {
	return &ChatService{chatModel: chatModel}
}

// Generate 以 message 作为唯一输入，返回完整回复文本
func (s *ChatService) Generate(ctx context.Context, message string) (string, error) {
	if message == "" {
		return "", ErrEmptyMessage
	}

	out, err := s.chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(message)})
	if err != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues("generate").Inc()
		return "", fmt.Errorf("generate: %w", err)
	}
	if out == nil {
		return "", nil
	}
	return out.Content, nil
}

// StreamChat 以 history 作为对话上下文、message 作为新一轮用户输入，返回文本片段流。
// 打开流之后发生的错误通过 Recv 返回。调用方负责 Close。
func (s *ChatService) StreamChat(ctx context.Context, history []*schema.Message, message string) (*schema.StreamReader[string], error) {
	if message == "" {
		return nil, ErrEmptyMessage
	}

	msgs := make([]*schema.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, schema.UserMessage(message))

	sr, err := s.chatModel.Stream(ctx, msgs)
	if err != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues("stream").Inc()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	return schema.StreamReaderWithConvert(sr, func(msg *schema.Message) (string, error) {
		if msg == nil || msg.Content == "" {
			return "", schema.ErrNoValue
		}
		metrics.StreamFragmentsTotal.Inc()
		return msg.Content, nil
	}), nil
}

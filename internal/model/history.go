package model

import (
	"strings"

	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const (
	// geminiContentKey Message.Extra 中保存的原始 *genai.Content
	geminiContentKey = "gemini_content"
	// geminiFunctionCallKey ToolCall.Extra 中保存的原始 *genai.FunctionCall
	geminiFunctionCallKey = "gemini_function_call"
)

// MessagesFromHistory 将前端传来的对话历史转换为 eino 消息。
// 原始 Content 保存在 Extra 中，Gemini 适配器会原样回传；其他模型只看到文本。
func MessagesFromHistory(history []*genai.Content) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history))
	for _, c := range history {
		if c == nil {
			continue
		}

		role := schema.User
		if c.Role == string(genai.RoleModel) {
			role = schema.Assistant
		}

		var sb strings.Builder
		for _, p := range c.Parts {
			if p == nil || p.Thought {
				continue
			}
			sb.WriteString(p.Text)
		}

		msgs = append(msgs, &schema.Message{
			Role:    role,
			Content: sb.String(),
			Extra:   map[string]any{geminiContentKey: c},
		})
	}
	return msgs
}

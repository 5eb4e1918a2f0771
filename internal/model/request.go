package model

import "google.golang.org/genai"

type ChatRequest struct {
	Message string `json:"message"`
}

// StreamRequest history 沿用前端 Gemini 对话格式 {"role": "user"|"model", "parts": [{"text": ...}]}
type StreamRequest struct {
	Chat    string           `json:"chat"`
	History []*genai.Content `json:"history"`
}

type ToggleStreamRequest struct {
	Streaming bool `json:"streaming"`
}

type SearchRequest struct {
	Message string `json:"message"`
}

package model

type ChatResponse struct {
	Message string `json:"message"`
}

type SearchResponse struct {
	Message string `json:"message"`
}

type ToggleStreamResponse struct {
	Streaming bool `json:"streaming"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

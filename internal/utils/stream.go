package utils

import (
	"fmt"
	"net/http"
	"strings"
)

const (
	FramingRaw = "raw"
	FramingSSE = "sse"
)

// StreamWriter 将文本片段逐个写出并立即 flush。
// raw 模式下响应体即片段的直接拼接；sse 模式下每个片段是一个 message 事件。
type StreamWriter struct {
	w       http.ResponseWriter
	framing string
}

func NewStreamWriter(w http.ResponseWriter, framing string) *StreamWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if framing != FramingSSE {
		framing = FramingRaw
	}
	return &StreamWriter{w: w, framing: framing}
}

func (s *StreamWriter) WriteFragment(text string) error {
	if s.framing == FramingSSE {
		return s.writeEvent("message", text)
	}
	return s.writeRaw(text)
}

// WriteError 写出带内错误标记，调用方随后应结束响应
func (s *StreamWriter) WriteError(payload string) error {
	if s.framing == FramingSSE {
		return s.writeEvent("error", payload)
	}
	return s.writeRaw(payload)
}

func (s *StreamWriter) Close() error {
	if s.framing == FramingSSE {
		return s.writeEvent("", "[DONE]")
	}
	return nil
}

func (s *StreamWriter) writeRaw(text string) error {
	if _, err := s.w.Write([]byte(text)); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *StreamWriter) writeEvent(event, data string) error {
	var sb strings.Builder
	if event != "" {
		fmt.Fprintf(&sb, "event: %s\n", event)
	}
	// 多行数据每行一个 data 字段
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&sb, "data: %s\n", line)
	}
	sb.WriteString("\n")

	if _, err := s.w.Write([]byte(sb.String())); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *StreamWriter) flush() {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

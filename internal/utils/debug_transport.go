package utils

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/Ikhwanand/gemini-ai-chatbot/pkg/logger"

	"github.com/sirupsen/logrus"
)

var (
	sensitiveHeaders = []string{"authorization", "x-api-key", "x-goog-api-key", "x-auth-token", "x-subscription-token", "cookie"}
	sensitiveFields  = regexp.MustCompile(`"(api_key|apiKey|password|secret|token)"\s*:\s*"[^"]*"`)
)

// DebugTransport 记录出站 POST 请求的请求头和请求体，敏感字段脱敏
type DebugTransport struct {
	base    http.RoundTripper
	name    string
	enabled bool
}

// NewDebugTransport 创建调试传输层，name 用作日志前缀
func NewDebugTransport(base http.RoundTripper, name string, enabled bool) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{base: base, name: name, enabled: enabled}
}

// RoundTrip 实现 http.RoundTripper 接口
func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.enabled && req.Method == http.MethodPost {
		t.logRequest(req)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil && t.enabled {
		logger.WithFields(logrus.Fields{"upstream": t.name, "url": req.URL.String()}).
			WithError(err).Error("debug transport: request failed")
	}
	return resp, err
}

func (t *DebugTransport) logRequest(req *http.Request) {
	headers := make(map[string]string, len(req.Header))
	for name, values := range req.Header {
		if isSensitiveHeader(name) {
			headers[name] = "[REDACTED]"
			continue
		}
		headers[name] = strings.Join(values, ", ")
	}

	fields := logrus.Fields{
		"upstream": t.name,
		"method":   req.Method,
		"url":      req.URL.String(),
		"headers":  headers,
	}

	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			logger.WithFields(fields).WithError(err).Error("debug transport: read request body failed")
			return
		}
		// 恢复请求体，以免影响实际请求
		req.Body = io.NopCloser(bytes.NewReader(body))
		fields["body_size"] = len(body)
		fields["body"] = RedactBody(body)
	}

	logger.WithFields(fields).Info("debug transport: outbound request")
}

// RedactBody 隐藏 JSON 请求体中的敏感字段值
func RedactBody(body []byte) string {
	return sensitiveFields.ReplaceAllString(string(body), `"$1": "[REDACTED]"`)
}

func isSensitiveHeader(name string) bool {
	for _, h := range sensitiveHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

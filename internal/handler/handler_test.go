package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Ikhwanand/gemini-ai-chatbot/internal/config"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/service"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/utils"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubModel 单次生成返回片段拼接结果，流式生成逐个返回片段
type stubModel struct {
	mu        sync.Mutex
	fragments []string
	genErr    error
	openErr   error
	tailErr   error
	afterErr  []string
	calls     int
	lastInput []*schema.Message
}

func (m *stubModel) record(input []*schema.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastInput = input
}

func (m *stubModel) Generate(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	m.record(input)
	if m.genErr != nil {
		return nil, m.genErr
	}
	return schema.AssistantMessage(strings.Join(m.fragments, ""), nil), nil
}

func (m *stubModel) Stream(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	m.record(input)
	if m.openErr != nil {
		return nil, m.openErr
	}
	sr, sw := schema.Pipe[*schema.Message](len(m.fragments) + len(m.afterErr) + 1)
	go func() {
		defer sw.Close()
		for _, f := range m.fragments {
			sw.Send(schema.AssistantMessage(f, nil), nil)
		}
		if m.tailErr != nil {
			sw.Send(nil, m.tailErr)
		}
		for _, f := range m.afterErr {
			sw.Send(schema.AssistantMessage(f, nil), nil)
		}
	}()
	return sr, nil
}

type stubAgent struct {
	answer string
	err    error
	query  string
}

func (a *stubAgent) Run(ctx context.Context, query string) (string, error) {
	a.query = query
	return a.answer, a.err
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.CORS.AllowedOrigins = []string{"*"}
	cfg.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.CORS.AllowedHeaders = []string{"Content-Type"}
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	return cfg
}

type testServer struct {
	router       *gin.Engine
	model        *stubModel
	agent        *stubAgent
	factoryErr   error
	factoryCalls int
}

func newTestServer(t *testing.T, framing string) *testServer {
	t.Helper()
	ts := &testServer{
		model: &stubModel{},
		agent: &stubAgent{},
	}
	factory := func(ctx context.Context) (service.SearchAgent, error) {
		ts.factoryCalls++
		if ts.factoryErr != nil {
			return nil, ts.factoryErr
		}
		return ts.agent, nil
	}
	ts.router = SetupRouter(
		testConfig(),
		NewChatHandler(service.NewChatService(ts.model), framing),
		NewSearchHandler(factory),
	)
	return ts
}

func (ts *testServer) post(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestChatReturnsModelText(t *testing.T) {
	ts := newTestServer(t, utils.FramingRaw)
	ts.model.fragments = []string{"hi there"}

	w := ts.post("/chat", `{"message":"hello"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"hi there"}`, w.Body.String())

	require.Len(t, ts.model.lastInput, 1)
	assert.Equal(t, "hello", ts.model.lastInput[0].Content)
}

func TestChatRejectsMissingMessage(t *testing.T) {
	ts := newTestServer(t, utils.FramingRaw)

	for _, body := range []string{`{}`, `{"message":""}`, ``} {
		w := ts.post("/chat", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.JSONEq(t, `{"message":"No message provided"}`, w.Body.String(), body)
	}
	assert.Equal(t, 0, ts.model.calls)
}

func TestChatMalformedJSON(t *testing.T) {
	ts := newTestServer(t, utils.FramingRaw)

	w := ts.post("/chat", `{"message":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)
	assert.Equal(t, 0, ts.model.calls)
}

func TestChatUpstreamFailure(t *testing.T) {
	ts := newTestServer(t, utils.FramingRaw)
	ts.model.genErr = errors.New("quota exceeded")

	w := ts.post("/chat", `{"message":"hello"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "quota exceeded")
}

func TestStreamConcatenatesFragments(t *testing.T) {
	ts := newTestServer(t, utils.FramingRaw)
	ts.model.fragments = []string{"1", "2", "3"}

	w := ts.post("/stream", `{"chat":"count","history":[]}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "123", w.Body.String())
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.True(t, w.Flushed)

	// 与同样输入的单次生成结果一致
	c := ts.post("/chat", `{"message":"count"}`)
	assert.JSONEq(t, `{"message":"`+w.Body.String()+`"}`, c.Body.String())
}

func TestStreamSeedsHistory(t *testing.T) {
	ts := newTestServer(t, utils.FramingRaw)
	ts.model.fragments = []string{"ok"}

	w := ts.post("/stream", `{
		"chat": "and again",
		"history": [
			{"role": "user", "parts": [{"text": "count"}]},
			{"role": "model", "parts": [{"text": "1 2 3"}]}
		]
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	in := ts.model.lastInput
	require.Len(t, in, 3)
	assert.Equal(t, schema.User, in[0].Role)
	assert.Equal(t, "count", in[0].Content)
	assert.Equal(t, schema.Assistant, in[1].Role)
	assert.Equal(t, "1 2 3", in[1].Content)
	assert.Equal(t, "and again", in[2].Content)
}

func TestStreamEmptyMessage(t *testing.T) {
	ts := newTestServer(t, utils.FramingRaw)
	ts.model.fragments = []string{"should not appear"}

	for _, body := range []string{`{"chat":"","history":[]}`, `{}`, ``} {
		w := ts.post("/stream", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, `{"error": "Empty message"}`, w.Body.String(), body)
	}
	assert.Equal(t, 0, ts.model.calls)
}

func TestStreamMidStreamError(t *testing.T) {
	ts := newTestServer(t, utils.FramingRaw)
	ts.model.fragments = []string{"1", "2"}
	ts.model.tailErr = errors.New("boom")
	ts.model.afterErr = []string{"3"}

	w := ts.post("/stream", `{"chat":"count"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	// 错误片段之后不再输出
	assert.Equal(t, `12{"error": "boom"}`, w.Body.String())
}

func TestStreamOpenFailure(t *testing.T) {
	ts := newTestServer(t, utils.FramingRaw)
	ts.model.openErr = errors.New("unavailable")

	w := ts.post("/stream", `{"chat":"count"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "unavailable")
}

func TestStreamSSEFraming(t *testing.T) {
	ts := newTestServer(t, utils.FramingSSE)
	ts.model.fragments = []string{"1", "2"}

	w := ts.post("/stream", `{"chat":"count"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "event: message\ndata: 1\n\nevent: message\ndata: 2\n\ndata: [DONE]\n\n", w.Body.String())
}

func TestStreamNotCompressed(t *testing.T) {
	ts := newTestServer(t, utils.FramingRaw)
	ts.model.fragments = []string{"1", "2", "3"}

	req := httptest.NewRequest(http.MethodPost, "/stream", strings.NewReader(`{"chat":"count"}`))
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "123", w.Body.String())
}

func TestToggleStreamEchoes(t *testing.T) {
	ts := newTestServer(t, utils.FramingRaw)

	for _, v := range []string{"true", "false"} {
		w := ts.post("/toggle-stream", `{"streaming":`+v+`}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"streaming":`+v+`}`, w.Body.String())
	}

	w := ts.post("/toggle-stream", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"streaming":false}`, w.Body.String())

	w = ts.post("/toggle-stream", `{"streaming":"yes"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)
}

func TestSearchReturnsAgentAnswer(t *testing.T) {
	ts := newTestServer(t, utils.FramingRaw)
	ts.agent.answer = "Found: http://example.com/x"

	w := ts.post("/search", `{"message":"find paper X"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Found: http://example.com/x"}`, w.Body.String())
	assert.Equal(t, "find paper X", ts.agent.query)
	assert.Equal(t, 1, ts.factoryCalls)
}

func TestSearchRejectsMissingMessage(t *testing.T) {
	ts := newTestServer(t, utils.FramingRaw)

	w := ts.post("/search", `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"message":"No message provided"}`, w.Body.String())
	assert.Equal(t, 0, ts.factoryCalls)
}

func TestSearchFailures(t *testing.T) {
	ts := newTestServer(t, utils.FramingRaw)
	ts.factoryErr = errors.New("no tools")

	w := ts.post("/search", `{"message":"q"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"no tools"}`, w.Body.String())

	ts.factoryErr = nil
	ts.agent.err = errors.New("model down")
	w = ts.post("/search", `{"message":"q"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"model down"}`, w.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, utils.FramingRaw)

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, utils.FramingRaw)

	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestErrorFragment(t *testing.T) {
	assert.Equal(t, `{"error": "Empty message"}`, errorFragment("Empty message"))
	assert.Equal(t, `{"error": "say \"hi\""}`, errorFragment(`say "hi"`))
}

package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultMaxResults = 5
	userAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// 429 重试的起始间隔与上限，测试中会调小
var (
	backoffBase = time.Second
	backoffMax  = 30 * time.Second
)

// Result 一条检索结果
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// toolErrorResult 工具失败时返回给模型的结构化结果，不中断图的执行
type toolErrorResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	ToolName string `json:"tool_name"`
}

func errorResult(toolName string, err error) string {
	data, mErr := json.Marshal(toolErrorResult{Success: false, Error: err.Error(), ToolName: toolName})
	if mErr != nil {
		return fmt.Sprintf(`{"success": false, "tool_name": %q}`, toolName)
	}
	return string(data)
}

// doWithBackoff 发送请求，遇到 429 时按指数退避重试，直到成功或 ctx 结束。
// newReq 每次重试都会被调用，以便重新构造请求体。
func doWithBackoff(ctx context.Context, client *http.Client, newReq func() (*http.Request, error)) (*http.Response, error) {
	delay := backoffBase
	for {
		req, err := newReq()
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < backoffMax {
			delay *= 2
			if delay > backoffMax {
				delay = backoffMax
			}
		}
	}
}

func capResults(results []Result, max int) []Result {
	if max <= 0 {
		max = defaultMaxResults
	}
	if len(results) > max {
		return results[:max]
	}
	return results
}

// toolArgs web_search 与 arxiv_search 共用的参数
type toolArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

func parseToolArgs(argumentsInJSON string) (toolArgs, error) {
	var args toolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return args, fmt.Errorf("failed to parse arguments: %w", err)
	}
	return args, nil
}

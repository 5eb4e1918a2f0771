package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Ikhwanand/gemini-ai-chatbot/internal/config"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/utils"

	"golang.org/x/time/rate"
)

const (
	duckDuckGoEndpoint = "https://lite.duckduckgo.com/lite/"
	braveEndpoint      = "https://api.search.brave.com/res/v1/web/search"
	tavilyEndpoint     = "https://api.tavily.com/search"
)

// SearchProvider 网页检索后端
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// NewSearchProvider 按配置选择网页检索后端
func NewSearchProvider(cfg config.WebSearchConfig) (SearchProvider, error) {
	client := utils.NewHTTPClient(cfg.Timeout)
	switch cfg.Provider {
	case config.WebSearchDuckDuckGo, "":
		return NewDuckDuckGo(client, cfg.BaseURL), nil
	case config.WebSearchBrave:
		return NewBrave(client, cfg.BaseURL, cfg.APIKey), nil
	case config.WebSearchTavily:
		return NewTavily(client, cfg.BaseURL, cfg.APIKey, cfg.Depth), nil
	default:
		return nil, fmt.Errorf("unsupported web search provider: %s", cfg.Provider)
	}
}

// DuckDuckGo 进程内所有实例共享 1 QPS 限制
var ddgLimiter = rate.NewLimiter(rate.Every(time.Second), 1)

// DuckDuckGo 抓取 lite 版 HTML 页面，无需 key
type DuckDuckGo struct {
	client   *http.Client
	endpoint string
	limiter  *rate.Limiter
}

func NewDuckDuckGo(client *http.Client, endpoint string) *DuckDuckGo {
	if endpoint == "" {
		endpoint = duckDuckGoEndpoint
	}
	return &DuckDuckGo{client: client, endpoint: endpoint, limiter: ddgLimiter}
}

func (d *DuckDuckGo) Name() string { return config.WebSearchDuckDuckGo }

func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("q", query)

	resp, err := doWithBackoff(ctx, d.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return capResults(parseDuckDuckGoHTML(string(body)), maxResults), nil
}

var (
	ddgLinkPattern    = regexp.MustCompile(`<a[^>]*class=['"]result-link['"][^>]*href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
	ddgLinkPattern2   = regexp.MustCompile(`<a[^>]*href=['"]([^'"]+)['"][^>]*class=['"]result-link['"][^>]*>([^<]+)</a>`)
	ddgSnippetPattern = regexp.MustCompile(`<td[^>]*class=['"]result-snippet['"][^>]*>([^<]+(?:<[^>]+>[^<]*</[^>]+>)*[^<]*)</td>`)
	anyLinkPattern    = regexp.MustCompile(`<a[^>]+href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	entityReplacer    = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&#x27;", "'",
		"&nbsp;", " ",
	)
)

func parseDuckDuckGoHTML(html string) []Result {
	matches := ddgLinkPattern.FindAllStringSubmatch(html, -1)
	if len(matches) == 0 {
		matches = ddgLinkPattern2.FindAllStringSubmatch(html, -1)
	}
	snippets := ddgSnippetPattern.FindAllStringSubmatch(html, -1)

	var results []Result
	for i, m := range matches {
		link := strings.TrimSpace(m[1])
		title := cleanHTML(m[2])
		if link == "" || title == "" {
			continue
		}
		snippet := ""
		if i < len(snippets) {
			snippet = cleanHTML(snippets[i][1])
		}
		results = append(results, Result{Title: title, URL: link, Snippet: snippet})
	}

	if len(results) == 0 {
		return fallbackParse(html)
	}
	return results
}

// fallbackParse 页面结构变化时退化为抓取所有外部链接
func fallbackParse(html string) []Result {
	var results []Result
	seen := make(map[string]bool)
	for _, m := range anyLinkPattern.FindAllStringSubmatch(html, -1) {
		link := strings.TrimSpace(m[1])
		title := cleanHTML(m[2])

		if strings.Contains(link, "duckduckgo.com") ||
			strings.HasPrefix(link, "/") ||
			strings.HasPrefix(link, "#") ||
			strings.HasPrefix(link, "javascript:") {
			continue
		}
		if len(title) < 5 || seen[link] {
			continue
		}
		seen[link] = true
		results = append(results, Result{Title: title, URL: link})
	}
	return results
}

func cleanHTML(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(entityReplacer.Replace(s))
}

// Brave 同一个 key 的请求共享一个 1 QPS 的限流器
type Brave struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

var (
	braveLimitersMu sync.Mutex
	braveLimiters   = map[string]*rate.Limiter{}
)

func braveLimiterFor(apiKey string) *rate.Limiter {
	braveLimitersMu.Lock()
	defer braveLimitersMu.Unlock()
	l, ok := braveLimiters[apiKey]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Second), 1)
		braveLimiters[apiKey] = l
	}
	return l
}

func NewBrave(client *http.Client, endpoint, apiKey string) *Brave {
	if endpoint == "" {
		endpoint = braveEndpoint
	}
	return &Brave{client: client, endpoint: endpoint, apiKey: apiKey}
}

func (b *Brave) Name() string { return config.WebSearchBrave }

func (b *Brave) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if strings.TrimSpace(b.apiKey) == "" {
		return nil, errors.New("brave: API key is missing")
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if err := braveLimiterFor(b.apiKey).Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(maxResults))
	endpoint := b.endpoint + "?" + params.Encode()

	resp, err := doWithBackoff(ctx, b.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Subscription-Token", b.apiKey)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave http %d", resp.StatusCode)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("brave decode: %w", err)
	}

	results := make([]Result, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: cleanHTML(r.Description)})
	}
	return capResults(results, maxResults), nil
}

// Tavily depth 为 basic 或 advanced
type Tavily struct {
	client   *http.Client
	endpoint string
	apiKey   string
	depth    string
}

func NewTavily(client *http.Client, endpoint, apiKey, depth string) *Tavily {
	if endpoint == "" {
		endpoint = tavilyEndpoint
	}
	if depth == "" {
		depth = "basic"
	}
	return &Tavily{client: client, endpoint: endpoint, apiKey: apiKey, depth: depth}
}

func (t *Tavily) Name() string { return config.WebSearchTavily }

func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if strings.TrimSpace(t.apiKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	payload, err := json.Marshal(map[string]any{
		"query":        query,
		"api_key":      t.apiKey,
		"search_depth": t.depth,
		"max_results":  maxResults,
	})
	if err != nil {
		return nil, err
	}

	resp, err := doWithBackoff(ctx, t.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily http %d", resp.StatusCode)
	}

	var response struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("tavily decode: %w", err)
	}

	results := make([]Result, 0, len(response.Results))
	for _, r := range response.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return capResults(results, maxResults), nil
}

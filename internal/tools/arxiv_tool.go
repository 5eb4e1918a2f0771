package tools

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Ikhwanand/gemini-ai-chatbot/internal/config"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/metrics"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/utils"
	"github.com/Ikhwanand/gemini-ai-chatbot/pkg/logger"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

const (
	ArxivToolName = "arxiv_search"

	arxivEndpoint = "http://export.arxiv.org/api/query"
)

// ArxivPaper 返回给模型的论文条目
type ArxivPaper struct {
	Title           string   `json:"title"`
	ID              string   `json:"id"`
	EntryID         string   `json:"entry_id"`
	Authors         []string `json:"authors"`
	PrimaryCategory string   `json:"primary_category"`
	Categories      []string `json:"categories"`
	Published       string   `json:"published"`
	PDFURL          string   `json:"pdf_url"`
	Links           []string `json:"links"`
	Summary         string   `json:"summary"`
	Comment         string   `json:"comment,omitempty"`
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href  string `xml:"href,attr"`
		Rel   string `xml:"rel,attr"`
		Type  string `xml:"type,attr"`
		Title string `xml:"title,attr"`
	} `xml:"link"`
	PrimaryCategory struct {
		Term string `xml:"term,attr"`
	} `xml:"http://arxiv.org/schemas/atom primary_category"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
	Comment string `xml:"http://arxiv.org/schemas/atom comment"`
}

// ArxivTool 查询 arXiv Atom API
type ArxivTool struct {
	client     *http.Client
	endpoint   string
	maxResults int
}

var _ tool.InvokableTool = (*ArxivTool)(nil)

func NewArxivTool(cfg config.ArxivConfig) *ArxivTool {
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = arxivEndpoint
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &ArxivTool{
		client:     utils.NewHTTPClient(cfg.Timeout),
		endpoint:   endpoint,
		maxResults: maxResults,
	}
}

func (t *ArxivTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ArxivToolName,
		Desc: "Search arxiv.org for research papers. Returns a JSON array of papers with title, authors, summary, pdf_url and links.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "Keywords or title of the paper to search for",
				Required: true,
			},
			"max_results": {
				Type:     schema.Integer,
				Desc:     "Maximum number of papers to return",
				Required: false,
			},
		}),
	}, nil
}

func (t *ArxivTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	args, err := parseToolArgs(argumentsInJSON)
	if err != nil {
		metrics.SearchToolCallsTotal.WithLabelValues(ArxivToolName, "error").Inc()
		return errorResult(ArxivToolName, err), nil
	}
	if strings.TrimSpace(args.Query) == "" {
		metrics.SearchToolCallsTotal.WithLabelValues(ArxivToolName, "error").Inc()
		return errorResult(ArxivToolName, errors.New("query is required")), nil
	}

	limit := t.maxResults
	if args.MaxResults > 0 && args.MaxResults < limit {
		limit = args.MaxResults
	}

	papers, err := t.Search(ctx, args.Query, limit)
	if err != nil {
		logger.Warnf("arxiv_search failed: %v", err)
		metrics.SearchToolCallsTotal.WithLabelValues(ArxivToolName, "error").Inc()
		return errorResult(ArxivToolName, err), nil
	}

	data, err := json.Marshal(papers)
	if err != nil {
		return "", err
	}
	metrics.SearchToolCallsTotal.WithLabelValues(ArxivToolName, "ok").Inc()
	return string(data), nil
}

// Search 按相关度查询，最多返回 maxResults 篇
func (t *ArxivTool) Search(ctx context.Context, query string, maxResults int) ([]ArxivPaper, error) {
	params := url.Values{}
	params.Set("search_query", "all:"+query)
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("sortBy", "relevance")
	params.Set("sortOrder", "descending")
	endpoint := t.endpoint + "?" + params.Encode()

	resp, err := doWithBackoff(ctx, t.client, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	papers, err := parseArxivFeed(body)
	if err != nil {
		return nil, err
	}
	if len(papers) > maxResults {
		papers = papers[:maxResults]
	}
	return papers, nil
}

func parseArxivFeed(data []byte) ([]ArxivPaper, error) {
	var feed atomFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("arxiv decode: %w", err)
	}

	papers := make([]ArxivPaper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		p := ArxivPaper{
			Title:           collapseSpace(e.Title),
			ID:              shortArxivID(e.ID),
			EntryID:         strings.TrimSpace(e.ID),
			PrimaryCategory: e.PrimaryCategory.Term,
			Published:       strings.TrimSpace(e.Published),
			Summary:         collapseSpace(e.Summary),
			Comment:         collapseSpace(e.Comment),
			Authors:         []string{},
			Categories:      []string{},
			Links:           []string{},
		}
		for _, a := range e.Authors {
			p.Authors = append(p.Authors, strings.TrimSpace(a.Name))
		}
		for _, c := range e.Categories {
			p.Categories = append(p.Categories, c.Term)
		}
		for _, l := range e.Links {
			p.Links = append(p.Links, l.Href)
			if l.Title == "pdf" || l.Type == "application/pdf" {
				p.PDFURL = l.Href
			}
		}
		papers = append(papers, p)
	}
	return papers, nil
}

// shortArxivID http://arxiv.org/abs/2101.00001v1 -> 2101.00001v1
func shortArxivID(entryID string) string {
	entryID = strings.TrimSpace(entryID)
	if i := strings.Index(entryID, "/abs/"); i >= 0 {
		return entryID[i+len("/abs/"):]
	}
	return entryID
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

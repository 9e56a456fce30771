package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const tavilyBaseURL = "https://api.tavily.com/search"

// WebSearchInput is a free-text web query.
type WebSearchInput struct {
	Query string `json:"query" jsonschema:"description=The search query"`
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type tavilyResponse struct {
	Answer  string         `json:"answer"`
	Results []tavilyResult `json:"results"`
}

// TavilyClient calls the Tavily search API.
type TavilyClient struct {
	apiKey     string
	baseURL    string
	maxResults int
	httpClient *http.Client
}

type TavilyOption func(*TavilyClient)

func WithTavilyBaseURL(baseURL string) TavilyOption {
	return func(c *TavilyClient) {
		c.baseURL = baseURL
	}
}

func WithTavilyMaxResults(maxResults int) TavilyOption {
	return func(c *TavilyClient) {
		c.maxResults = maxResults
	}
}

func NewTavilyClient(apiKey string, options ...TavilyOption) *TavilyClient {
	c := &TavilyClient{
		apiKey:     apiKey,
		baseURL:    tavilyBaseURL,
		maxResults: 5,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range options {
		o(c)
	}
	return c
}

func (c *TavilyClient) Search(ctx context.Context, query string) (*tavilyResponse, error) {
	body, err := json.Marshal(tavilyRequest{
		APIKey:        c.apiKey,
		Query:         query,
		MaxResults:    c.maxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal search request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create search request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "execute search request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Errorf("search API returned %d: %s", resp.StatusCode, string(b))
	}

	var result tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "decode search response")
	}
	return &result, nil
}

// NewWebSearchTool searches the web and returns an answer summary followed by
// the top results.
func NewWebSearchTool(client *TavilyClient) Definition {
	return NewTool("web_search", "Search the web for current information.",
		func(ctx context.Context, input WebSearchInput) (interface{}, error) {
			resp, err := client.Search(ctx, input.Query)
			if err != nil {
				return nil, err
			}

			var sb bytes.Buffer
			if resp.Answer != "" {
				fmt.Fprintf(&sb, "%s\n\n", resp.Answer)
			}
			for i, r := range resp.Results {
				fmt.Fprintf(&sb, "%d. %s (%s)\n%s\n", i+1, r.Title, r.URL, r.Content)
			}
			if sb.Len() == 0 {
				return "no results found", nil
			}
			return sb.String(), nil
		})
}

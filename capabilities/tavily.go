package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const tavilyBaseURL = "https://api.tavily.com"

// TavilyClient calls the Tavily search and extract HTTP API.
type TavilyClient struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewTavilyClient creates a client against the public Tavily endpoint.
func NewTavilyClient(apiKey string, httpClient *http.Client) *TavilyClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TavilyClient{APIKey: apiKey, BaseURL: tavilyBaseURL, HTTPClient: httpClient}
}

// SearchResult is one hit from a search query.
type SearchResult struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchResponse is the answer to a search query.
type SearchResponse struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer"`
	Results []SearchResult `json:"results"`
}

// Search runs a web search. includeAnswer asks the API to compose a short
// synthesized answer across the hits.
func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int, includeAnswer bool) (*SearchResponse, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	body := map[string]any{
		"query":          query,
		"max_results":    maxResults,
		"search_depth":   "basic",
		"include_answer": includeAnswer,
	}
	var resp SearchResponse
	if err := c.post(ctx, "/search", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExtractedPage is the raw content of one fetched URL.
type ExtractedPage struct {
	URL        string `json:"url"`
	RawContent string `json:"raw_content"`
}

// FailedExtract records a URL the API could not fetch.
type FailedExtract struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// ExtractResponse is the answer to an extract request.
type ExtractResponse struct {
	Results       []ExtractedPage `json:"results"`
	FailedResults []FailedExtract `json:"failed_results"`
}

// Extract fetches raw page content for up to 20 URLs per request.
func (c *TavilyClient) Extract(ctx context.Context, urls []string) (*ExtractResponse, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("tavily extract: no urls")
	}
	if len(urls) > 20 {
		return nil, fmt.Errorf("tavily extract: at most 20 urls per request, got %d", len(urls))
	}
	body := map[string]any{
		"urls":   urls,
		"format": "markdown",
	}
	var resp ExtractResponse
	if err := c.post(ctx, "/extract", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *TavilyClient) post(ctx context.Context, path string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("tavily %s: status %d: %s", path, resp.StatusCode, msg)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

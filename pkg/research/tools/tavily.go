package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultSearchURL is the Tavily search endpoint.
const DefaultSearchURL = "https://api.tavily.com/search"

// ErrSearchStatus is returned when the search provider answers with a
// non-200 status.
var ErrSearchStatus = errors.New("search provider returned an error status")

// SearchResult is the part of a search hit the pipeline keeps as evidence.
type SearchResult struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

type tavilyRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Results []SearchResult `json:"results"`
}

// TavilyClient queries a Tavily-compatible search endpoint.
type TavilyClient struct {
	apiKey string
	url    string
	depth  string
	client *http.Client
}

func NewTavilyClient(apiKey, url, depth string) *TavilyClient {
	if url == "" {
		url = DefaultSearchURL
	}
	if depth == "" {
		depth = "basic"
	}
	return &TavilyClient{
		apiKey: apiKey,
		url:    url,
		depth:  depth,
		client: http.DefaultClient,
	}
}

// Search runs one query and returns up to maxResults hits. Timeouts are
// taken from ctx.
func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	payload, err := json.Marshal(tavilyRequest{
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: c.depth,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s, body: %s", ErrSearchStatus, resp.Status, string(body))
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search response: %w", err)
	}

	if maxResults > 0 && len(parsed.Results) > maxResults {
		parsed.Results = parsed.Results[:maxResults]
	}
	return parsed.Results, nil
}

// Package websearch fetches current information from the web for general
// questions.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/models"
)

var ErrNotConfigured = errors.New("websearch: api key not configured")

// Searcher is the web search backend.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) (*models.WebSearchResult, error)
	Available() bool
}

type Config struct {
	APIKey     string
	BaseURL    string
	MaxResults int
	Timeout    time.Duration
}

// TavilyClient calls the Tavily search API.
type TavilyClient struct {
	apiKey     string
	baseURL    string
	maxResults int
	client     *http.Client
	logger     *zap.Logger
}

func NewTavilyClient(cfg Config, logger *zap.Logger) *TavilyClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.tavily.com"
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TavilyClient{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		maxResults: maxResults,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Available reports whether an API key is configured.
func (c *TavilyClient) Available() bool {
	return c != nil && c.apiKey != ""
}

type tavilyRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth"`
	MaxResults        int    `json:"max_results"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int) (*models.WebSearchResult, error) {
	if !c.Available() {
		return nil, ErrNotConfigured
	}
	if maxResults <= 0 {
		maxResults = c.maxResults
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:        c.apiKey,
		Query:         query,
		SearchDepth:   "basic",
		MaxResults:    maxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("web search failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	result := &models.WebSearchResult{
		Query:    query,
		Answer:   decoded.Answer,
		Snippets: make([]models.Snippet, 0, len(decoded.Results)),
	}
	for _, r := range decoded.Results {
		result.Snippets = append(result.Snippets, models.Snippet{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
			Score:   r.Score,
		})
	}

	c.logger.Debug("Web search completed",
		zap.String("query", query),
		zap.Int("results", len(result.Snippets)),
		zap.Duration("latency", time.Since(start)))
	return result, nil
}

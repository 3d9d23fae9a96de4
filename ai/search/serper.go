// Package search provides the web search tool backing the chat agent,
// implemented against the Serper.dev Google search API.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const defaultBaseURL = "https://google.serper.dev"

// Result is one organic search hit, trimmed to the fields the agent cites.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Date    string `json:"date,omitempty"`
}

// Service performs web searches.
type Service interface {
	Search(ctx context.Context, query string, num int) ([]Result, error)
}

// Config represents search service configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout int // request timeout in seconds (default: 15)
}

type service struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewService creates a Serper-backed search service.
func NewService(cfg *Config) (Service, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("search api key required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15
	}

	return &service{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}, nil
}

type searchRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
}

type searchResponse struct {
	Organic []Result `json:"organic"`
}

func (s *service) Search(ctx context.Context, query string, num int) ([]Result, error) {
	if num <= 0 {
		num = 10
	}

	body, err := json.Marshal(searchRequest{Q: query, Num: num})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build search request")
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "search request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Errorf("search returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "failed to decode search response")
	}

	slog.Debug("web search completed",
		"query", query,
		"results", len(parsed.Organic),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return parsed.Organic, nil
}

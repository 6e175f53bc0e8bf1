package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/aishell/internal/config"
	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
	"github.com/abdul-hamid-achik/aishell/internal/logging"
)

const defaultTavilyURL = "https://api.tavily.com"

// Tavily searches through the Tavily REST API.
type Tavily struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	throttle   *throttle
}

type tavilyRequest struct {
	APIKey            string   `json:"api_key"`
	Query             string   `json:"query"`
	MaxResults        int      `json:"max_results,omitempty"`
	SearchDepth       string   `json:"search_depth,omitempty"`
	IncludeAnswer     bool     `json:"include_answer"`
	IncludeRawContent bool     `json:"include_raw_content"`
	IncludeDomains    []string `json:"include_domains,omitempty"`
	ExcludeDomains    []string `json:"exclude_domains,omitempty"`
}

// NewTavily creates a Tavily client from config.
func NewTavily(cfg config.TavilyConfig) *Tavily {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := cfg.APIURL
	if baseURL == "" {
		baseURL = defaultTavilyURL
	}
	return &Tavily{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		throttle:   newThrottle(cfg.MinDelay),
	}
}

// Search runs query against Tavily.
func (t *Tavily) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if err := t.throttle.wait(ctx); err != nil {
		return nil, shellerr.UserAbort(err)
	}

	opts = opts.normalized()
	start := time.Now()
	logging.LogEvent(logging.EventSearchQuery, logging.Query(query), logging.F("provider", "tavily"))

	resp, err := t.call(ctx, tavilyRequest{
		APIKey:            t.apiKey,
		Query:             query,
		MaxResults:        opts.MaxResults,
		SearchDepth:       opts.SearchDepth,
		IncludeAnswer:     opts.IncludeAnswer,
		IncludeRawContent: opts.IncludeRawContent,
		IncludeDomains:    opts.IncludeDomains,
		ExcludeDomains:    opts.ExcludeDomains,
	})
	logging.GlobalMetrics().RecordSearch(err != nil)
	if err != nil {
		return nil, err
	}
	logging.Debug("tavily search done", logging.Query(query), logging.Count(len(resp.Results)), logging.DurationSince(start))
	if resp.Query == "" {
		resp.Query = query
	}
	return resp, nil
}

func (t *Tavily) call(ctx context.Context, req tavilyRequest) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, shellerr.UserAbort(err)
		}
		return nil, shellerr.APIRequestFailed(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, shellerr.APIRequestFailed(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, shellerr.APIStatus(resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, shellerr.APIMalformed(err)
	}
	return &out, nil
}

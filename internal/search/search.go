// Package search provides web search for the shell, either through the
// Tavily API or through a search-capable model.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/abdul-hamid-achik/aishell/internal/config"
	"github.com/abdul-hamid-achik/aishell/internal/llm"
	"github.com/abdul-hamid-achik/aishell/internal/logging"
)

// snippet length in Format
const maxSnippet = 300

// Result is one search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Response is the outcome of one query.
type Response struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer,omitempty"`
	Results []Result `json:"results"`
}

// Options tunes a single search.
type Options struct {
	MaxResults        int
	SearchDepth       string // "basic" or "advanced"
	IncludeAnswer     bool
	IncludeRawContent bool
	IncludeDomains    []string
	ExcludeDomains    []string
}

// OptionsFromConfig returns the configured Tavily defaults.
func OptionsFromConfig(cfg config.TavilyConfig) Options {
	return Options{
		MaxResults:        cfg.MaxResults,
		SearchDepth:       cfg.SearchDepth,
		IncludeAnswer:     cfg.IncludeAnswer,
		IncludeRawContent: cfg.IncludeRawContent,
		IncludeDomains:    cfg.IncludeDomains,
		ExcludeDomains:    cfg.ExcludeDomains,
	}
}

func (o Options) normalized() Options {
	if o.MaxResults < 1 {
		o.MaxResults = 5
	} else if o.MaxResults > 20 {
		o.MaxResults = 20
	}
	if o.SearchDepth != "advanced" {
		o.SearchDepth = "basic"
	}
	return o
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string, opts Options) (*Response, error)
}

// BestEffort runs s and swallows failures: any error is logged and
// yields nil.
func BestEffort(ctx context.Context, s Searcher, query string, opts Options) *Response {
	if s == nil {
		return nil
	}
	resp, err := s.Search(ctx, query, opts)
	if err != nil {
		logging.Warn("web search failed", logging.Query(query), logging.Error(err))
		logging.LogEvent(logging.EventSearchFailed, logging.Query(query), logging.Error(err))
		return nil
	}
	return resp
}

// Format renders resp as markdown for the model and the terminal.
func Format(resp *Response) string {
	if resp == nil || (resp.Answer == "" && len(resp.Results) == 0) {
		return "No search results available."
	}

	var lines []string
	if resp.Answer != "" {
		lines = append(lines, fmt.Sprintf("**Answer:** %s\n", resp.Answer))
	}
	if len(resp.Results) > 0 {
		lines = append(lines, "**Search Results:**")
		for i, r := range resp.Results {
			title := r.Title
			if title == "" {
				title = "No title"
			}
			content := r.Content
			if content == "" {
				content = "No content available"
			}
			lines = append(lines,
				fmt.Sprintf("\n%d. **%s**", i+1, title),
				fmt.Sprintf("   URL: %s", r.URL),
				fmt.Sprintf("   %s", snip(content)),
			)
		}
	}
	return strings.Join(lines, "\n")
}

// Snippets renders resp as the compact context block used for
// auto-augment. A search model's answer comes before the numbered hits.
func Snippets(resp *Response) string {
	if resp == nil || (strings.TrimSpace(resp.Answer) == "" && len(resp.Results) == 0) {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Web search results:\n")
	if answer := strings.TrimSpace(resp.Answer); answer != "" {
		sb.WriteString(answer)
		sb.WriteString("\n")
	}
	for i, r := range resp.Results {
		fmt.Fprintf(&sb, "[%d] %s (%s)\n%s\n", i+1, r.Title, r.URL, snip(r.Content))
	}
	return sb.String()
}

// snip cuts s to maxSnippet runes.
func snip(s string) string {
	r := []rune(s)
	if len(r) <= maxSnippet {
		return s
	}
	return string(r[:maxSnippet]) + "..."
}

// throttle enforces a minimum delay between requests.
type throttle struct {
	limiter *rate.Limiter
}

func newThrottle(minDelay time.Duration) *throttle {
	if minDelay <= 0 {
		return &throttle{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &throttle{limiter: rate.NewLimiter(rate.Every(minDelay), 1)}
}

func (t *throttle) wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// New returns the searcher configured in cfg, or nil when search is off.
// A search model takes precedence over Tavily.
func New(cfg *config.Config) Searcher {
	if !cfg.SearchEnabled() {
		return nil
	}
	if cfg.WebSearch.Model != "" {
		return NewModelSearcher(llm.New(modelEndpoint(cfg), cfg.WebSearch.Model),
			cfg.WebSearch.SystemPrompt, cfg.Tavily.MinDelay)
	}
	if cfg.Tavily.APIKey == "" {
		return nil
	}
	return NewTavily(cfg.Tavily)
}

// modelEndpoint is the main API endpoint unless web_search overrides it.
func modelEndpoint(cfg *config.Config) llm.Endpoint {
	ep := llm.Endpoint{
		URL:      cfg.API.URL,
		APIKey:   cfg.API.APIKey,
		Provider: config.ProviderOpenAI,
		Timeout:  cfg.Tavily.Timeout,
	}
	if cfg.WebSearch.APIURL != "" {
		ep.URL = cfg.WebSearch.APIURL
	}
	if cfg.WebSearch.APIKey != "" {
		ep.APIKey = cfg.WebSearch.APIKey
	}
	return ep
}

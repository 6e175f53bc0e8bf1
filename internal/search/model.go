package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/aishell/internal/llm"
	"github.com/abdul-hamid-achik/aishell/internal/logging"
)

// DefaultSearchPrompt is the system prompt for search models.
const DefaultSearchPrompt = "You are a web search assistant. Search the web for the user's query and " +
	"answer with a concise, factual summary. Cite the source URLs you used."

// ModelSearcher answers queries with an online (search-capable) model,
// such as perplexity/sonar or an ":online" OpenRouter variant.
type ModelSearcher struct {
	client       llm.LLMClient
	systemPrompt string
	throttle     *throttle
}

// NewModelSearcher creates a searcher backed by client.
func NewModelSearcher(client llm.LLMClient, systemPrompt string, minDelay time.Duration) *ModelSearcher {
	if systemPrompt == "" {
		systemPrompt = DefaultSearchPrompt
	}
	return &ModelSearcher{
		client:       client,
		systemPrompt: systemPrompt,
		throttle:     newThrottle(minDelay),
	}
}

// Search sends query to the search model. The reply becomes the answer;
// there are no individual results.
func (m *ModelSearcher) Search(ctx context.Context, query string, _ Options) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if err := m.throttle.wait(ctx); err != nil {
		return nil, err
	}

	logging.LogEvent(logging.EventSearchQuery, logging.Query(query), logging.Model(m.client.GetModel()))
	resp, err := m.client.Chat(ctx, []llm.Message{{Role: "user", Content: query}}, m.systemPrompt)
	if err != nil {
		logging.GlobalMetrics().RecordSearch(true)
		return nil, fmt.Errorf("search model: %w", err)
	}
	answer := strings.TrimSpace(resp.Content)
	logging.GlobalMetrics().RecordSearch(answer == "")
	if answer == "" {
		return nil, fmt.Errorf("search model returned an empty answer")
	}
	return &Response{Query: query, Answer: answer}, nil
}

package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
)

// Message represents a conversation message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token counts when the provider returns them.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response represents a complete (non-streamed) reply
type Response struct {
	Content    string
	Reasoning  string
	StopReason string
	Usage      *Usage
}

// Chunk types carried by StreamChunk.Type
const (
	ChunkText      = "text"
	ChunkReasoning = "reasoning"
	ChunkDone      = "done"
	ChunkError     = "error"
)

// StreamChunk represents a chunk of streamed response
type StreamChunk struct {
	Type  string
	Text  string
	Error error
	Usage *Usage
}

// LLMClient is the interface every provider implements.
// systemPrompt, when non-empty, is sent ahead of messages.
type LLMClient interface {
	Chat(ctx context.Context, messages []Message, systemPrompt string) (*Response, error)
	ChatStream(ctx context.Context, messages []Message, systemPrompt string) <-chan StreamChunk
	SetModel(model string)
	GetModel() string
}

// Endpoint describes where and how to reach a provider.
type Endpoint struct {
	URL       string
	APIKey    string
	Provider  string // "openai" (default) or "anthropic"
	Timeout   time.Duration
	MaxTokens int
}

// New returns the client for ep.Provider, set to model.
func New(ep Endpoint, model string) LLMClient {
	if ep.Provider == "anthropic" {
		return NewAnthropicClient(ep, model)
	}
	return NewOpenAIClient(ep, model)
}

// Collect drains a stream into a Response. onText, if set, sees every
// text chunk as it arrives. The first error chunk aborts collection.
func Collect(ch <-chan StreamChunk, onText func(chunk StreamChunk)) (*Response, error) {
	resp := &Response{}
	for chunk := range ch {
		switch chunk.Type {
		case ChunkText:
			resp.Content += chunk.Text
		case ChunkReasoning:
			resp.Reasoning += chunk.Text
		case ChunkDone:
			resp.Usage = chunk.Usage
		case ChunkError:
			// drain so the producer goroutine can exit
			go func() {
				for range ch {
				}
			}()
			return resp, chunk.Error
		}
		if onText != nil && (chunk.Type == ChunkText || chunk.Type == ChunkReasoning) {
			onText(chunk)
		}
	}
	return resp, nil
}

// classifyTransportError maps an http.Client error onto the error taxonomy.
// Cancellation becomes a user abort; everything else is a retryable request failure.
func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return shellerr.UserAbort(err)
	}
	return shellerr.APIRequestFailed(err)
}

func httpClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

package llm

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
	"github.com/abdul-hamid-achik/aishell/internal/logging"
)

// DefaultAnthropicMaxTokens is used when the endpoint sets no limit;
// the Messages API requires one.
const DefaultAnthropicMaxTokens = 4096

// AnthropicClient wraps the Anthropic SDK
type AnthropicClient struct {
	client    *anthropic.Client
	maxTokens int64
	idle      time.Duration
	model     string
	modelMu   sync.RWMutex
}

// NewAnthropicClient creates a client for the Anthropic Messages API.
// An empty ep.APIKey falls back to ANTHROPIC_API_KEY.
func NewAnthropicClient(ep Endpoint, model string) *AnthropicClient {
	key := ep.APIKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		// retries are handled by ResilientClient
		option.WithMaxRetries(0),
	}
	if ep.URL != "" {
		opts = append(opts, option.WithBaseURL(ep.URL))
	}
	if ep.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(ep.Timeout))
	}
	client := anthropic.NewClient(opts...)

	maxTokens := int64(ep.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}
	return &AnthropicClient{
		client:    &client,
		maxTokens: maxTokens,
		idle:      ep.Timeout,
		model:     model,
	}
}

// SetModel changes the current model
func (c *AnthropicClient) SetModel(model string) {
	c.modelMu.Lock()
	defer c.modelMu.Unlock()
	c.model = model
}

// GetModel returns the current model
func (c *AnthropicClient) GetModel() string {
	c.modelMu.RLock()
	defer c.modelMu.RUnlock()
	return c.model
}

// Chat sends a message and returns the response
func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, systemPrompt string) (*Response, error) {
	log := logging.Global()
	requestID := log.BeginRequest()
	start := time.Now()
	log.Event(logging.EventLLMRequest,
		logging.RequestID(requestID),
		logging.Model(c.GetModel()),
		logging.MessageCount(len(messages)),
	)

	msg, err := c.client.Messages.New(ctx, c.buildParams(messages, systemPrompt))
	if err != nil {
		err = classifyAnthropicError(ctx, err)
		log.Warn("LLM request failed", logging.RequestID(requestID), logging.Error(err))
		log.Event(logging.EventLLMError, logging.RequestID(requestID), logging.Error(err))
		log.Metrics().RecordLLMRequest(0, 0, err)
		return nil, err
	}

	resp := parseAnthropicMessage(msg)
	log.Event(logging.EventLLMResponse,
		logging.RequestID(requestID),
		logging.DurationSince(start),
		logging.F("stop_reason", resp.StopReason),
		logging.Success(true),
	)
	log.Metrics().RecordLLMRequest(int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens), nil)
	return resp, nil
}

// ChatStream sends a message and streams the response
func (c *AnthropicClient) ChatStream(ctx context.Context, messages []Message, systemPrompt string) <-chan StreamChunk {
	ch := make(chan StreamChunk, 100)
	log := logging.Global()
	requestID := log.BeginRequest()

	go func() {
		defer close(ch)
		start := time.Now()
		log.Event(logging.EventLLMStreamStart,
			logging.RequestID(requestID),
			logging.Model(c.GetModel()),
			logging.MessageCount(len(messages)),
		)

		stream := newEventStream(ctx, c.client.Messages.NewStreaming(ctx, c.buildParams(messages, systemPrompt)), c.idle)
		usage := &Usage{}
		for {
			event, more, err := stream.Next()
			if err != nil {
				err = classifyAnthropicError(ctx, err)
				log.Event(logging.EventLLMError, logging.RequestID(requestID), logging.Error(err))
				log.Metrics().RecordLLMRequest(0, 0, err)
				ch <- StreamChunk{Type: ChunkError, Error: err}
				return
			}
			if !more {
				break
			}

			switch e := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.InputTokens = e.Message.Usage.InputTokens
			case anthropic.ContentBlockDeltaEvent:
				switch delta := e.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					ch <- StreamChunk{Type: ChunkText, Text: delta.Text}
				case anthropic.ThinkingDelta:
					ch <- StreamChunk{Type: ChunkReasoning, Text: delta.Thinking}
				}
			case anthropic.MessageDeltaEvent:
				usage.OutputTokens = e.Usage.OutputTokens
			}
		}

		log.Event(logging.EventLLMStreamEnd, logging.RequestID(requestID), logging.DurationSince(start))
		log.Metrics().RecordLLMRequest(int(usage.InputTokens), int(usage.OutputTokens), nil)
		ch <- StreamChunk{Type: ChunkDone, Usage: usage}
	}()

	return ch
}

func (c *AnthropicClient) buildParams(messages []Message, systemPrompt string) anthropic.MessageNewParams {
	var apiMessages []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case "user":
			apiMessages = append(apiMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case "assistant":
			apiMessages = append(apiMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.GetModel()),
		MaxTokens: c.maxTokens,
		Messages:  apiMessages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	return params
}

func parseAnthropicMessage(msg *anthropic.Message) *Response {
	resp := &Response{
		StopReason: string(msg.StopReason),
		Usage: &Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += b.Text
		case anthropic.ThinkingBlock:
			resp.Reasoning += b.Thinking
		}
	}
	return resp
}

func classifyAnthropicError(ctx context.Context, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return shellerr.APIStatus(apiErr.StatusCode, apiErr.Error())
	}
	if errors.Is(err, ErrChunkTimeout) {
		return shellerr.APIUnavailable(err)
	}
	return classifyTransportError(ctx, err)
}

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
	"github.com/abdul-hamid-achik/aishell/internal/logging"
)

const (
	sseDataPrefix = "data: "
	sseDone       = "[DONE]"
	// max size of one SSE line
	maxSSELine = 1 << 20
)

// OpenAIClient implements LLMClient for any OpenAI-compatible
// /chat/completions endpoint (OpenAI, OpenRouter, vLLM, Ollama's /v1, ...)
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	maxTokens  int
	model      string
	modelMu    sync.RWMutex // Protects model field from concurrent access
	httpClient *http.Client
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model         string          `json:"model"`
	Messages      []openAIMessage `json:"messages"`
	Stream        bool            `json:"stream"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	StreamOptions *streamOptions  `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type openAIDelta struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
	Reasoning        string `json:"reasoning"`
}

type openAIChoice struct {
	Message      openAIDelta `json:"message"`
	Delta        openAIDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage,omitempty"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint
func NewOpenAIClient(ep Endpoint, model string) *OpenAIClient {
	return &OpenAIClient{
		baseURL:    strings.TrimRight(ep.URL, "/"),
		apiKey:     ep.APIKey,
		maxTokens:  ep.MaxTokens,
		model:      model,
		httpClient: httpClient(ep.Timeout),
	}
}

// SetModel changes the current model (thread-safe)
func (c *OpenAIClient) SetModel(model string) {
	c.modelMu.Lock()
	defer c.modelMu.Unlock()
	c.model = model
}

// GetModel returns the current model (thread-safe)
func (c *OpenAIClient) GetModel() string {
	c.modelMu.RLock()
	defer c.modelMu.RUnlock()
	return c.model
}

func (c *OpenAIClient) buildMessages(messages []Message, systemPrompt string) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openAIMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		out = append(out, openAIMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func (c *OpenAIClient) newRequest(ctx context.Context, body openAIRequest) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

func (c *OpenAIClient) do(ctx context.Context, body openAIRequest) (*http.Response, error) {
	req, err := c.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, shellerr.APIStatus(resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return resp, nil
}

// Chat sends the conversation and returns the complete reply
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, systemPrompt string) (*Response, error) {
	currentModel := c.GetModel()
	log := logging.Global()
	requestID := log.BeginRequest()
	startTime := time.Now()

	log.Event(logging.EventLLMRequest,
		logging.RequestID(requestID),
		logging.Model(currentModel),
		logging.MessageCount(len(messages)),
	)

	request := openAIRequest{
		Model:     currentModel,
		Messages:  c.buildMessages(messages, systemPrompt),
		MaxTokens: c.maxTokens,
	}
	log.RequestPayload(requestID, map[string]any{
		"model":    currentModel,
		"messages": request.Messages,
	})

	resp, err := c.do(ctx, request)
	if err != nil {
		c.logFailure(log, requestID, startTime, err)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		err = shellerr.APIMalformed(err)
		c.logFailure(log, requestID, startTime, err)
		return nil, err
	}
	result, err := parseOpenAIResponse(&parsed)
	if err != nil {
		c.logFailure(log, requestID, startTime, err)
		return nil, err
	}

	log.ResponsePayload(requestID, map[string]any{"content": result.Content, "stop_reason": result.StopReason})
	c.logSuccess(log, requestID, startTime, result.Usage)
	return result, nil
}

func parseOpenAIResponse(r *openAIResponse) (*Response, error) {
	if r.Error != nil {
		return nil, shellerr.APIMalformed(fmt.Errorf("provider error: %s", r.Error.Message))
	}
	if len(r.Choices) == 0 {
		return nil, shellerr.APIMalformed(fmt.Errorf("response has no choices"))
	}
	choice := r.Choices[0]
	out := &Response{
		Content:    choice.Message.Content,
		Reasoning:  firstNonEmpty(choice.Message.ReasoningContent, choice.Message.Reasoning),
		StopReason: choice.FinishReason,
	}
	if r.Usage != nil {
		out.Usage = &Usage{InputTokens: r.Usage.PromptTokens, OutputTokens: r.Usage.CompletionTokens}
	}
	return out, nil
}

// ChatStream sends the conversation and streams the reply as it arrives
func (c *OpenAIClient) ChatStream(ctx context.Context, messages []Message, systemPrompt string) <-chan StreamChunk {
	ch := make(chan StreamChunk, 100)
	currentModel := c.GetModel()
	log := logging.Global()
	requestID := log.BeginRequest()

	go func() {
		defer close(ch)
		startTime := time.Now()

		log.Event(logging.EventLLMStreamStart,
			logging.RequestID(requestID),
			logging.Model(currentModel),
			logging.MessageCount(len(messages)),
		)

		request := openAIRequest{
			Model:         currentModel,
			Messages:      c.buildMessages(messages, systemPrompt),
			Stream:        true,
			MaxTokens:     c.maxTokens,
			StreamOptions: &streamOptions{IncludeUsage: true},
		}
		log.RequestPayload(requestID, map[string]any{
			"model":    currentModel,
			"messages": request.Messages,
			"stream":   true,
		})

		resp, err := c.do(ctx, request)
		if err != nil {
			c.logFailure(log, requestID, startTime, err)
			ch <- StreamChunk{Type: ChunkError, Error: err}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		usage, err := processSSE(ctx, resp.Body, ch)
		if err != nil {
			c.logFailure(log, requestID, startTime, err)
			ch <- StreamChunk{Type: ChunkError, Error: err}
			return
		}
		log.Event(logging.EventLLMStreamEnd, logging.RequestID(requestID), logging.DurationSince(startTime))
		c.logSuccess(log, requestID, startTime, usage)
		ch <- StreamChunk{Type: ChunkDone, Usage: usage}
	}()

	return ch
}

// processSSE reads "data: " lines until [DONE] or EOF, forwarding content
// and reasoning deltas to ch.
func processSSE(ctx context.Context, r io.Reader, ch chan<- StreamChunk) (*Usage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxSSELine)

	var usage *Usage
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return usage, shellerr.UserAbort(err)
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		payload := strings.TrimPrefix(line, sseDataPrefix)
		if payload == sseDone {
			return usage, nil
		}

		var event openAIResponse
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return usage, shellerr.APIMalformed(err)
		}
		if event.Error != nil {
			return usage, shellerr.APIMalformed(fmt.Errorf("provider error: %s", event.Error.Message))
		}
		if event.Usage != nil {
			usage = &Usage{InputTokens: event.Usage.PromptTokens, OutputTokens: event.Usage.CompletionTokens}
		}
		for _, choice := range event.Choices {
			if r := firstNonEmpty(choice.Delta.ReasoningContent, choice.Delta.Reasoning); r != "" {
				ch <- StreamChunk{Type: ChunkReasoning, Text: r}
			}
			if choice.Delta.Content != "" {
				ch <- StreamChunk{Type: ChunkText, Text: choice.Delta.Content}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return usage, classifyTransportError(ctx, err)
	}
	return usage, nil
}

func (c *OpenAIClient) logFailure(log *logging.Logger, requestID string, start time.Time, err error) {
	log.Warn("LLM request failed", logging.RequestID(requestID), logging.Error(err), logging.DurationSince(start))
	log.Event(logging.EventLLMError, logging.RequestID(requestID), logging.Error(err))
	log.Metrics().RecordLLMRequest(0, 0, err)
}

func (c *OpenAIClient) logSuccess(log *logging.Logger, requestID string, start time.Time, usage *Usage) {
	var in, out int
	if usage != nil {
		in, out = int(usage.InputTokens), int(usage.OutputTokens)
	}
	log.Debug("received LLM response", logging.RequestID(requestID), logging.DurationSince(start))
	log.Event(logging.EventLLMResponse,
		logging.RequestID(requestID),
		logging.DurationSince(start),
		logging.F("input_tokens", in),
		logging.F("output_tokens", out),
		logging.Success(true),
	)
	log.Metrics().RecordLLMRequest(in, out, nil)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

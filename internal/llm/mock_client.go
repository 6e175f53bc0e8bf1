package llm

import (
	"context"
	"sync"
)

// MockLLMClient implements LLMClient for testing.
type MockLLMClient struct {
	// Injectable behavior
	ChatFunc       func(ctx context.Context, messages []Message, systemPrompt string) (*Response, error)
	ChatStreamFunc func(ctx context.Context, messages []Message, systemPrompt string) <-chan StreamChunk

	// Replies are consumed in order by Chat and ChatStream when no func
	// is injected. Once exhausted, "mock response" is returned.
	Replies []string

	model string
	mu    sync.Mutex

	// Call recording
	ChatCalls       []ChatCall
	ChatStreamCalls []ChatCall
}

// ChatCall records the arguments of a Chat or ChatStream invocation.
type ChatCall struct {
	Model        string
	Messages     []Message
	SystemPrompt string
}

// NewMockLLMClient creates a mock client with sensible defaults.
func NewMockLLMClient(replies ...string) *MockLLMClient {
	return &MockLLMClient{
		model:   "mock-model",
		Replies: replies,
	}
}

func (m *MockLLMClient) nextReply() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Replies) == 0 {
		return "mock response"
	}
	r := m.Replies[0]
	m.Replies = m.Replies[1:]
	return r
}

func (m *MockLLMClient) record(calls *[]ChatCall, messages []Message, systemPrompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]Message, len(messages))
	copy(copied, messages)
	*calls = append(*calls, ChatCall{Model: m.model, Messages: copied, SystemPrompt: systemPrompt})
}

// Chat calls the injected ChatFunc or returns the next scripted reply.
func (m *MockLLMClient) Chat(ctx context.Context, messages []Message, systemPrompt string) (*Response, error) {
	m.record(&m.ChatCalls, messages, systemPrompt)
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, messages, systemPrompt)
	}
	return &Response{Content: m.nextReply(), StopReason: "stop"}, nil
}

// ChatStream calls the injected ChatStreamFunc or streams the next scripted reply.
func (m *MockLLMClient) ChatStream(ctx context.Context, messages []Message, systemPrompt string) <-chan StreamChunk {
	m.record(&m.ChatStreamCalls, messages, systemPrompt)
	if m.ChatStreamFunc != nil {
		return m.ChatStreamFunc(ctx, messages, systemPrompt)
	}

	reply := m.nextReply()
	ch := make(chan StreamChunk, 2)
	go func() {
		defer close(ch)
		ch <- StreamChunk{Type: ChunkText, Text: reply}
		ch <- StreamChunk{Type: ChunkDone}
	}()
	return ch
}

// SetModel sets the model name.
func (m *MockLLMClient) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
}

// GetModel returns the current model name.
func (m *MockLLMClient) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// Calls returns every recorded Chat and ChatStream call, Chat first.
func (m *MockLLMClient) Calls() []ChatCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]ChatCall{}, m.ChatCalls...)
	return append(out, m.ChatStreamCalls...)
}

// ErrorStream returns a closed-after-one-chunk stream carrying err.
func ErrorStream(err error) <-chan StreamChunk {
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Type: ChunkError, Error: err}
	close(ch)
	return ch
}

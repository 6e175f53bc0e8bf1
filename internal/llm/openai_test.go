package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(Endpoint{URL: srv.URL + "/", APIKey: "sk-test"}, "gpt-test")
}

func TestOpenAIBuildMessages_SystemPrompt(t *testing.T) {
	c := NewOpenAIClient(Endpoint{}, "m")

	msgs := c.buildMessages([]Message{{Role: "user", Content: "hi"}}, "You are helpful.")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "You are helpful." {
		t.Errorf("unexpected system message: %+v", msgs[0])
	}
	if msgs[1].Role != "user" {
		t.Errorf("expected role user, got %q", msgs[1].Role)
	}
}

func TestOpenAIBuildMessages_NoSystemPrompt(t *testing.T) {
	c := NewOpenAIClient(Endpoint{}, "m")
	msgs := c.buildMessages([]Message{{Role: "user", Content: "hi"}}, "")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}

func TestOpenAIChat_Success(t *testing.T) {
	var got openAIRequest
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("unexpected Authorization %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hello there","reasoning_content":"thinking"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`)
	})

	resp, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "sys")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello there" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Reasoning != "thinking" {
		t.Errorf("Reasoning = %q", resp.Reasoning)
	}
	if resp.StopReason != "stop" {
		t.Errorf("StopReason = %q", resp.StopReason)
	}
	if resp.Usage == nil || resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 3 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
	if got.Model != "gpt-test" || got.Stream {
		t.Errorf("unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("system prompt not sent first: %+v", got.Messages)
	}
}

func TestOpenAIChat_StatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{status: http.StatusUnauthorized, retryable: false},
		{status: http.StatusTooManyRequests, retryable: true},
		{status: http.StatusBadGateway, retryable: true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			_, err := c.Chat(context.Background(), nil, "")
			if err == nil {
				t.Fatal("expected error")
			}
			if !shellerr.IsCategory(err, shellerr.CategoryAPI) {
				t.Errorf("expected api category, got %v", err)
			}
			if shellerr.IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", shellerr.IsRetryable(err), tt.retryable)
			}
			if !strings.Contains(err.Error(), fmt.Sprint(tt.status)) {
				t.Errorf("error should mention status: %v", err)
			}
		})
	}
}

func TestOpenAIChat_MalformedBody(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": [`)
	})
	_, err := c.Chat(context.Background(), nil, "")
	if !errors.Is(err, shellerr.APIMalformed(nil)) {
		t.Errorf("expected malformed error, got %v", err)
	}
}

func TestOpenAIChat_NoChoices(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": []}`)
	})
	if _, err := c.Chat(context.Background(), nil, ""); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestOpenAIChat_Unreachable(t *testing.T) {
	c := NewOpenAIClient(Endpoint{URL: "http://127.0.0.1:1"}, "m")
	_, err := c.Chat(context.Background(), nil, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !shellerr.IsRetryable(err) {
		t.Errorf("network failures should be retryable: %v", err)
	}
}

func TestOpenAIChatStream(t *testing.T) {
	var got openAIRequest
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`: keep-alive`,
			`data: {"choices":[{"delta":{"reasoning":"hmm"}}]}`,
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			``,
			`data: {"choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
			`data: {"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2}}`,
			`data: [DONE]`,
		}
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
	})

	var streamed []string
	resp, err := Collect(c.ChatStream(context.Background(), []Message{{Role: "user", Content: "hi"}}, ""), func(chunk StreamChunk) {
		streamed = append(streamed, chunk.Type+":"+chunk.Text)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Hello" {
		t.Errorf("Content = %q, want Hello", resp.Content)
	}
	if resp.Reasoning != "hmm" {
		t.Errorf("Reasoning = %q", resp.Reasoning)
	}
	if resp.Usage == nil || resp.Usage.OutputTokens != 2 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
	want := []string{"reasoning:hmm", "text:Hel", "text:lo"}
	if strings.Join(streamed, ",") != strings.Join(want, ",") {
		t.Errorf("streamed %v, want %v", streamed, want)
	}
	if !got.Stream || got.StreamOptions == nil || !got.StreamOptions.IncludeUsage {
		t.Errorf("stream request flags not set: %+v", got)
	}
}

func TestOpenAIChatStream_BadEvent(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"ok"}}]}`)
		fmt.Fprintln(w, `data: {not json`)
	})
	resp, err := Collect(c.ChatStream(context.Background(), nil, ""), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if resp.Content != "ok" {
		t.Errorf("partial content lost: %q", resp.Content)
	}
}

func TestOpenAIChatStream_Cancelled(t *testing.T) {
	release := make(chan struct{})
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"first"}}]}`)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := Collect(c.ChatStream(ctx, nil, ""), func(StreamChunk) { cancel() })
	if !shellerr.IsCategory(err, shellerr.CategoryAbort) {
		t.Errorf("expected abort, got %v", err)
	}
}

func TestNew_SelectsProvider(t *testing.T) {
	if _, ok := New(Endpoint{Provider: "anthropic", APIKey: "k"}, "claude").(*AnthropicClient); !ok {
		t.Error("anthropic provider should build an AnthropicClient")
	}
	if _, ok := New(Endpoint{}, "gpt").(*OpenAIClient); !ok {
		t.Error("default provider should build an OpenAIClient")
	}
}

package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/abdul-hamid-achik/aishell/internal/llm"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		completed bool
		reason    string
	}{
		{"json true", `{"completed": true, "reason": "nginx is running"}`, true, "nginx is running"},
		{"json false", `{"completed": false, "reason": "port busy"}`, false, "port busy"},
		{"json in fence", "```json\n{\"completed\": true, \"reason\": \"ok\"}\n```", true, "ok"},
		{"json with prose", `Sure. {"completed": false, "reason": "needs {restart}"} hope that helps`, false, "needs {restart}"},
		{"json no reason", `{"completed": true}`, true, "No reason provided"},
		{"keyword done", "The task is done.", true, "The task is done."},
		{"keyword negated", "The task was not completed.", false, "The task was not completed."},
		{"no signal", "I cannot tell.", false, "I cannot tell."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := ParseStatus(tt.reply)
			if !st.Known {
				t.Fatal("expected a known status")
			}
			if st.Completed != tt.completed {
				t.Errorf("Completed = %v, want %v", st.Completed, tt.completed)
			}
			if st.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", st.Reason, tt.reason)
			}
		})
	}
}

func TestTaskCheckerPrompt(t *testing.T) {
	mock := llm.NewMockLLMClient(`{"completed": true, "reason": "listed"}`)
	st := NewTaskChecker(mock).Check(context.Background(), "list files", "a.txt\nb.txt")
	if !st.Known || !st.Completed {
		t.Fatalf("unexpected status %+v", st)
	}
	if len(mock.ChatCalls) != 1 {
		t.Fatalf("expected 1 Chat call, got %d", len(mock.ChatCalls))
	}
	msg := mock.ChatCalls[0].Messages[0].Content
	for _, want := range []string{"Original request: list files", "a.txt\nb.txt", `{"completed": true/false`} {
		if !strings.Contains(msg, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestTaskCheckerUnavailable(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.ChatFunc = func(ctx context.Context, messages []llm.Message, systemPrompt string) (*llm.Response, error) {
		return nil, errors.New("connection refused")
	}
	st := NewTaskChecker(mock).Check(context.Background(), "req", "out")
	if st.Known || st.Reason != StatusUnavailable {
		t.Errorf("unexpected status %+v", st)
	}
}

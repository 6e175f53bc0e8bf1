package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abdul-hamid-achik/aishell/internal/llm"
	"github.com/abdul-hamid-achik/aishell/internal/logging"
)

const checkerPrompt = `You are a task completion checker. Analyze the command output and determine if the user's original request was successfully completed.

Original request: %s

Command output:
%s

Respond with ONLY a JSON object in this exact format:
{"completed": true/false, "reason": "brief explanation"}

Do not include any other text or formatting.`

// StatusUnavailable is the reason reported when the checker call fails.
const StatusUnavailable = "Task status check unavailable"

var (
	doneWords    = []string{"completed", "success", "done", "finished"}
	notDoneWords = []string{"not completed", "incomplete", "not done", "not finished", "unsuccessful", "failed"}
)

// Status is the checker's verdict. Known is false when no verdict could
// be obtained.
type Status struct {
	Known     bool
	Completed bool
	Reason    string
}

// TaskChecker asks a model whether a command finished the user's request.
type TaskChecker struct {
	client llm.LLMClient
}

// NewTaskChecker creates a checker using client.
func NewTaskChecker(client llm.LLMClient) *TaskChecker {
	return &TaskChecker{client: client}
}

// Check runs one non-streaming call. API failures are not returned; they
// yield an unknown status.
func (c *TaskChecker) Check(ctx context.Context, request, output string) Status {
	logging.GlobalMetrics().RecordTaskCheck()
	resp, err := c.client.Chat(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(checkerPrompt, request, output)},
	}, "")
	if err != nil {
		logging.Warn("task status check failed", logging.Model(c.client.GetModel()), logging.Error(err))
		return Status{Reason: StatusUnavailable}
	}

	st := ParseStatus(resp.Content)
	logging.LogEvent(logging.EventTaskCheck,
		logging.Model(c.client.GetModel()),
		logging.F("completed", st.Completed),
		logging.Reason(st.Reason))
	return st
}

// ParseStatus reads the first JSON object in reply. Without one it falls
// back to looking for completion words.
func ParseStatus(reply string) Status {
	reply = strings.TrimSpace(reply)
	if obj, ok := firstObject(reply); ok {
		var v struct {
			Completed *bool  `json:"completed"`
			Reason    string `json:"reason"`
		}
		if err := json.Unmarshal([]byte(obj), &v); err == nil && v.Completed != nil {
			if v.Reason == "" {
				v.Reason = "No reason provided"
			}
			return Status{Known: true, Completed: *v.Completed, Reason: v.Reason}
		}
	}

	lower := strings.ToLower(reply)
	for _, w := range notDoneWords {
		if strings.Contains(lower, w) {
			return Status{Known: true, Completed: false, Reason: reply}
		}
	}
	for _, w := range doneWords {
		if strings.Contains(lower, w) {
			return Status{Known: true, Completed: true, Reason: reply}
		}
	}
	return Status{Known: true, Completed: false, Reason: reply}
}

// firstObject returns the first balanced {...} in s, skipping braces
// inside JSON strings.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth, inString, escaped := 0, false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

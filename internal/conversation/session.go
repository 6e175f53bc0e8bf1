// Package conversation persists chat sessions as JSON files.
package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abdul-hamid-achik/aishell/internal/llm"
)

// Session statuses
const (
	StatusActive   = "active"
	StatusResumed  = "resumed"
	StatusLoaded   = "loaded"
	StatusSaved    = "saved"
	StatusRecent   = "recent"
	StatusArchived = "archived"
)

// Turn roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn context states
const (
	StateNormal    = "normal"
	StateTruncated = "truncated"
	StateDistilled = "distilled"
	StatePruned    = "pruned"
)

// CommandRecord is the structured result attached to a command turn.
type CommandRecord struct {
	Command   string `json:"command"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
	Directory string `json:"directory"`
}

// Turn is one message in a session.
type Turn struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Command   *CommandRecord `json:"command,omitempty"`
	// Direct marks a command the user typed, whose output is not in Content.
	Direct bool `json:"direct,omitempty"`

	// Context-management bookkeeping. Original keeps the full content
	// whenever Content has been truncated, distilled or pruned.
	ID       int    `json:"id,omitempty"`
	Label    string `json:"label,omitempty"`
	State    string `json:"state,omitempty"`
	Original string `json:"original,omitempty"`
}

// Metadata describes a session.
type Metadata struct {
	Model           string `json:"model"`
	Directory       string `json:"directory"`
	OriginalRequest string `json:"original_request"`
	Status          string `json:"status"`
	SavedName       string `json:"saved_name,omitempty"`
}

// Session is a persisted conversation.
type Session struct {
	ID           string    `json:"session_id"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
	Summary      string    `json:"summary"`
	MessageCount int       `json:"message_count"`
	Messages     []Turn    `json:"messages"`
	Metadata     Metadata  `json:"metadata"`
}

// NewSession starts an empty session.
func NewSession(model, dir string) *Session {
	now := time.Now()
	return &Session{
		ID:       uuid.NewString(),
		Created:  now,
		Updated:  now,
		Messages: []Turn{},
		Metadata: Metadata{
			Model:     model,
			Directory: dir,
			Status:    StatusActive,
		},
	}
}

// Append adds t, stamping it when needed, and refreshes the derived fields.
func (s *Session) Append(t Turn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	s.Messages = append(s.Messages, t)
	s.refresh()
}

// Clear drops every turn and the original request.
func (s *Session) Clear() {
	s.Messages = []Turn{}
	s.Metadata.OriginalRequest = ""
	s.refresh()
}

// Empty reports whether the session has no turns.
func (s *Session) Empty() bool {
	return len(s.Messages) == 0
}

// History converts the trailing n turns (all when n <= 0) to model messages.
func (s *Session) History(n int) []llm.Message {
	turns := s.Messages
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := t.Role
		if role == RoleSystem {
			role = RoleUser
		}
		content := t.Content
		if t.Direct && t.Command != nil {
			content = directContent(t)
		}
		out = append(out, llm.Message{Role: role, Content: content})
	}
	return out
}

// directContent shows the model what a user-typed command printed.
func directContent(t Turn) string {
	var b strings.Builder
	b.WriteString(t.Content)
	fmt.Fprintf(&b, "\n\nOutput (exit code %d):\n", t.Command.ExitCode)
	out := strings.TrimRight(t.Command.Stdout+t.Command.Stderr, "\n")
	if out == "" {
		out = "(no output)"
	}
	b.WriteString(out)
	return b.String()
}

func (s *Session) refresh() {
	s.Updated = time.Now()
	s.MessageCount = len(s.Messages)
	s.Summary = summarize(s.Messages)
}

// summarize returns the first user turn, cut to 50 characters.
func summarize(turns []Turn) string {
	if len(turns) == 0 {
		return "Empty conversation"
	}
	for _, t := range turns {
		if t.Role != RoleUser {
			continue
		}
		content := strings.TrimSpace(strings.ReplaceAll(t.Content, "\n", " "))
		r := []rune(content)
		if len(r) > 50 {
			return string(r[:47]) + "..."
		}
		return content
	}
	return "System conversation"
}

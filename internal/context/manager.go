// Package context manages the message payload sent to the model: it gives
// system-message turns ids and labels, truncates long command output, and
// applies the prune, distill and untruncate operations the model asks for.
package context

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/abdul-hamid-achik/aishell/internal/conversation"
	"github.com/abdul-hamid-achik/aishell/internal/logging"
)

const (
	// DefaultTruncateThreshold is the content length above which output is truncated.
	DefaultTruncateThreshold = 10000
	// DefaultHeadLines and DefaultTailLines are kept around the omitted middle.
	DefaultHeadLines = 50
	DefaultTailLines = 50
	// DefaultContextWindow is used for the usage warning.
	DefaultContextWindow = 128000

	systemPrefix = "SYSTEM MESSAGE:"
)

// Config holds context management settings.
type Config struct {
	TruncateThreshold int
	HeadLines         int
	TailLines         int
	ContextWindow     int
	WarnThreshold     float64
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		TruncateThreshold: DefaultTruncateThreshold,
		HeadLines:         DefaultHeadLines,
		TailLines:         DefaultTailLines,
		ContextWindow:     DefaultContextWindow,
		WarnThreshold:     0.80,
	}
}

// Stats describes payload usage.
type Stats struct {
	UsedTokens    int
	ContextWindow int
	UsagePercent  float64
	Prunable      int
	NeedsWarning  bool
}

// Applied identifies a turn an operation changed.
type Applied struct {
	ID    int
	Label string
}

// Manager hands out turn ids and performs context operations in place on
// a session's turns.
type Manager struct {
	mu         sync.Mutex
	nextID     int
	cfg        Config
	calibrator *Calibrator
}

// NewManager creates a manager. Zero fields in cfg take their defaults.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.TruncateThreshold <= 0 {
		cfg.TruncateThreshold = def.TruncateThreshold
	}
	if cfg.HeadLines <= 0 {
		cfg.HeadLines = def.HeadLines
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = def.TailLines
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = def.ContextWindow
	}
	if cfg.WarnThreshold <= 0 {
		cfg.WarnThreshold = def.WarnThreshold
	}
	return &Manager{nextID: 1, cfg: cfg, calibrator: NewCalibrator(50)}
}

// Reset restarts id numbering, used when the conversation is cleared.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.nextID = 1
	m.mu.Unlock()
}

// Assign makes t prunable: it gets the next id, a label (derived from its
// content when label is empty) and the normal state unless it already
// carries one.
func (m *Manager) Assign(t *conversation.Turn, label string) {
	m.mu.Lock()
	t.ID = m.nextID
	m.nextID++
	m.mu.Unlock()

	if label == "" {
		label = LabelFor(t.Content)
	}
	t.Label = label
	if t.State == "" {
		t.State = conversation.StateNormal
	}
}

// RestoreIDs continues numbering after the highest id in turns.
func (m *Manager) RestoreIDs(turns []conversation.Turn) {
	maxID := 0
	for _, t := range turns {
		if t.ID > maxID {
			maxID = t.ID
		}
	}
	m.mu.Lock()
	m.nextID = maxID + 1
	m.mu.Unlock()
}

// NextID reports the id the next Assign will hand out.
func (m *Manager) NextID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID
}

var (
	commandLabelRe = regexp.MustCompile(`Command executed:\s*(.+?)(?:\n|$)`)
	searchLabelRe  = regexp.MustCompile(`Web search executed for:\s*(.+?)(?:\n|$)`)
	declineLabelRe = regexp.MustCompile(`User declined to run the command:\s*(.+?)(?:\n|$)`)
	searchFailedRe = regexp.MustCompile(`failed for query:\s*(.+?)(?:\n|$)`)
)

// LabelFor derives a short label from a SYSTEM MESSAGE.
func LabelFor(content string) string {
	if content == "" {
		return "System message"
	}
	if m := commandLabelRe.FindStringSubmatch(content); m != nil {
		return "Command output: " + Shorten(strings.TrimSpace(m[1]), 60)
	}
	if m := searchLabelRe.FindStringSubmatch(content); m != nil {
		return "Web search: " + Shorten(strings.TrimSpace(m[1]), 60)
	}
	if m := declineLabelRe.FindStringSubmatch(content); m != nil {
		return "User declined: " + Shorten(strings.TrimSpace(m[1]), 50)
	}

	lower := strings.ToLower(content)
	switch {
	case strings.Contains(content, "Task completed"):
		return "Task completion"
	case strings.Contains(content, "Task failed") || strings.Contains(lower, "task status check failed"):
		return "Task failure"
	case strings.Contains(lower, "empty response") || strings.Contains(lower, "response was empty"):
		return "Empty response handling"
	case strings.Contains(lower, "not yet complete"):
		return "Task continuation"
	case strings.Contains(lower, "action blocks"),
		strings.Contains(lower, "multiple") && (strings.Contains(lower, "commands") || strings.Contains(lower, "actions")):
		return "Multiple actions error"
	case strings.Contains(content, "Web search failed"):
		if m := searchFailedRe.FindStringSubmatch(content); m != nil {
			return "Search failed: " + Shorten(strings.TrimSpace(m[1]), 50)
		}
		return "Search failed"
	case strings.Contains(content, "Context management"):
		return "Context management confirmation"
	}

	preview := strings.TrimSpace(strings.ReplaceAll(Shorten(content, 50), "\n", " "))
	preview = strings.TrimPrefix(preview, systemPrefix)
	return "System message: " + strings.TrimSpace(preview)
}

// Shorten cuts s to n characters, ending in "..." when cut.
func Shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// AutoTruncate shortens content over the threshold to its first and last
// lines. It reports whether anything was cut.
func (m *Manager) AutoTruncate(content string) (string, bool) {
	if len(content) <= m.cfg.TruncateThreshold {
		return content, false
	}
	lines := strings.Split(content, "\n")
	if len(lines) <= m.cfg.HeadLines+m.cfg.TailLines {
		return content, false
	}

	omitted := len(lines) - m.cfg.HeadLines - m.cfg.TailLines
	var b strings.Builder
	b.WriteString(strings.Join(lines[:m.cfg.HeadLines], "\n"))
	fmt.Fprintf(&b, "\n\n... [%d lines omitted - use context_untruncate to view full output] ...\n\n", omitted)
	b.WriteString(strings.Join(lines[len(lines)-m.cfg.TailLines:], "\n"))
	return b.String(), true
}

// Prune replaces the content of every listed prunable turn with a marker.
// Turns already pruned are skipped.
func (m *Manager) Prune(turns []conversation.Turn, ids []int) []Applied {
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	var applied []Applied
	for i := range turns {
		t := &turns[i]
		if t.ID == 0 || !want[t.ID] || t.State == conversation.StatePruned {
			continue
		}
		keepOriginal(t)
		t.Content = "[PRUNED] " + t.Label
		t.State = conversation.StatePruned
		applied = append(applied, Applied{ID: t.ID, Label: t.Label})
	}
	if len(applied) > 0 {
		logging.LogEvent(logging.EventContextPrune, logging.Count(len(applied)))
		logging.GlobalMetrics().RecordContextOp()
	}
	return applied
}

// Distill replaces a prunable turn's content with summary. Pruned turns
// cannot be distilled.
func (m *Manager) Distill(turns []conversation.Turn, id int, summary string) (Applied, bool) {
	for i := range turns {
		t := &turns[i]
		if t.ID == 0 || t.ID != id {
			continue
		}
		if t.State == conversation.StatePruned {
			return Applied{}, false
		}
		keepOriginal(t)
		t.Content = "[DISTILLED] " + t.Label + "\nSummary: " + summary
		t.State = conversation.StateDistilled
		logging.LogEvent(logging.EventContextDistill, logging.F("id", id))
		logging.GlobalMetrics().RecordContextOp()
		return Applied{ID: id, Label: t.Label}, true
	}
	return Applied{}, false
}

// Untruncate restores the full content of a truncated turn.
func (m *Manager) Untruncate(turns []conversation.Turn, id int) (Applied, bool) {
	for i := range turns {
		t := &turns[i]
		if t.ID == 0 || t.ID != id {
			continue
		}
		if t.State != conversation.StateTruncated || t.Original == "" {
			return Applied{}, false
		}
		t.Content = t.Original
		t.Original = ""
		t.State = conversation.StateNormal
		logging.LogEvent(logging.EventContextUntruncate, logging.F("id", id))
		logging.GlobalMetrics().RecordContextOp()
		return Applied{ID: id, Label: t.Label}, true
	}
	return Applied{}, false
}

func keepOriginal(t *conversation.Turn) {
	if t.Original == "" {
		t.Original = t.Content
	}
}

// EstimateTokens is a rough count: one token per four characters.
func EstimateTokens(s string) int {
	return len(s) / 4
}

// TotalTokens estimates the tokens of every turn.
func TotalTokens(turns []conversation.Turn) int {
	total := 0
	for _, t := range turns {
		total += EstimateTokens(t.Content)
	}
	return total
}

// Block renders the <prunable-messages> list appended to the system
// prompt. It is empty when nothing can be managed.
func Block(turns []conversation.Turn) string {
	var lines []string
	for _, t := range turns {
		if t.ID == 0 || t.State == conversation.StatePruned {
			continue
		}
		info := ""
		switch t.State {
		case conversation.StateTruncated:
			info = " [truncated, can untruncate]"
		case conversation.StateDistilled:
			info = " [already distilled]"
		}
		lines = append(lines, fmt.Sprintf("%d: %s%s (~%d tokens)", t.ID, t.Label, info, EstimateTokens(t.Content)))
	}
	if len(lines) == 0 {
		return ""
	}
	return fmt.Sprintf("<prunable-messages>\nTotal estimated context: ~%d tokens\n%s\n</prunable-messages>",
		TotalTokens(turns), strings.Join(lines, "\n"))
}

// Stats reports how much of the context window the payload uses, with the
// estimate corrected by observed usage.
func (m *Manager) Stats(systemPrompt string, turns []conversation.Turn) Stats {
	used := m.calibrator.Adjust(EstimateTokens(systemPrompt) + TotalTokens(turns))
	prunable := 0
	for _, t := range turns {
		if t.ID != 0 && t.State != conversation.StatePruned {
			prunable++
		}
	}
	pct := float64(used) / float64(m.cfg.ContextWindow)
	return Stats{
		UsedTokens:    used,
		ContextWindow: m.cfg.ContextWindow,
		UsagePercent:  pct,
		Prunable:      prunable,
		NeedsWarning:  pct >= m.cfg.WarnThreshold,
	}
}

// Observe records the provider's input token count for a payload whose
// estimate was estimated.
func (m *Manager) Observe(estimated, actual int) {
	m.calibrator.Record(estimated, actual)
}

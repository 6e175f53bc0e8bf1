package context

import (
	"strings"

	"github.com/abdul-hamid-achik/aishell/internal/conversation"
	"github.com/abdul-hamid-achik/aishell/internal/logging"
)

// CompactOutputLength is the longest Output: section /compact keeps.
const CompactOutputLength = 500

const compactMarker = "\n... [truncated by /compact command]"

// Compact shortens the Output: sections of every SYSTEM MESSAGE user turn
// and returns how many turns changed. The full content stays in Original,
// and managed turns become untruncatable.
func Compact(turns []conversation.Turn) int {
	changed := 0
	for i := range turns {
		t := &turns[i]
		if t.Role != conversation.RoleUser || !strings.Contains(t.Content, systemPrefix) {
			continue
		}
		short := compactOutputs(t.Content, CompactOutputLength)
		if len(short) >= len(t.Content) {
			continue
		}
		keepOriginal(t)
		t.Content = short
		if t.ID != 0 && t.State == conversation.StateNormal {
			t.State = conversation.StateTruncated
		}
		changed++
	}
	if changed > 0 {
		logging.LogEvent(logging.EventContextCompact, logging.Count(changed))
		logging.GlobalMetrics().RecordContextOp()
	}
	return changed
}

// compactOutputs cuts each "Output:" section, which runs until a
// "Success:" or "Command output:" line or a blank line.
func compactOutputs(content string, maxLen int) string {
	if !strings.Contains(content, "Output:") {
		return content
	}

	var (
		out     []string
		section []string
		inOut   bool
	)
	flush := func() {
		text := strings.Join(section, "\n")
		if len(text) > maxLen {
			cut := text[:maxLen]
			if nl := strings.LastIndex(cut, "\n"); float64(nl) > float64(maxLen)*0.7 {
				cut = text[:nl]
			}
			out = append(out, cut+compactMarker)
		} else {
			out = append(out, section...)
		}
		section = nil
	}

	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, "Output:"):
			inOut = true
			section = []string{line}
		case inOut && (strings.HasPrefix(line, "Success:") || strings.HasPrefix(line, "Command output:") || line == ""):
			flush()
			inOut = false
			out = append(out, line)
		case inOut:
			section = append(section, line)
		default:
			out = append(out, line)
		}
	}
	if inOut && len(section) > 0 {
		flush()
	}
	return strings.Join(out, "\n")
}

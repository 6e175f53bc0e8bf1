package agent

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies a model reply.
type Kind int

const (
	KindText Kind = iota
	KindEmpty
	KindMultiple
	KindCommand
	KindSearch
	KindDistill
	KindPrune
	KindUntruncate
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindEmpty:
		return "empty"
	case KindMultiple:
		return "multiple"
	case KindCommand:
		return "command"
	case KindSearch:
		return "websearch"
	case KindDistill:
		return "context_distill"
	case KindPrune:
		return "context_prune"
	case KindUntruncate:
		return "context_untruncate"
	default:
		return "unknown"
	}
}

// Tag is the response-type marker a reply may end with.
type Tag int

const (
	TagNone Tag = iota
	TagQuestion
	TagComplete
)

// Parsed is a classified reply.
type Parsed struct {
	Kind    Kind
	Tag     Tag
	Text    string // reply with the trailing tag removed
	Body    string // command or search query
	Actions int    // action blocks found

	// context operations
	ID      int
	IDs     []int
	Summary string
	Invalid bool // block body could not be parsed
}

var (
	blockRe = regexp.MustCompile("(?s)```(command|websearch|context_distill|context_prune|context_untruncate)\\s*(.*?)\\s*```")
	tagRe   = regexp.MustCompile(`(?i)\[(question|complete)\]\s*$`)
)

// priority order of action kinds
var blockPriority = []struct {
	name string
	kind Kind
}{
	{"context_distill", KindDistill},
	{"context_prune", KindPrune},
	{"context_untruncate", KindUntruncate},
	{"command", KindCommand},
	{"websearch", KindSearch},
}

// ParseResponse classifies a reply. More than one action block is a
// violation regardless of kind.
func ParseResponse(reply string) Parsed {
	p := Parsed{Text: reply}
	if strings.TrimSpace(reply) == "" {
		p.Kind = KindEmpty
		return p
	}

	if m := tagRe.FindStringSubmatch(reply); m != nil {
		if strings.EqualFold(m[1], "question") {
			p.Tag = TagQuestion
		} else {
			p.Tag = TagComplete
		}
		p.Text = strings.TrimRight(reply[:len(reply)-len(m[0])], " \t\r\n")
	}

	matches := blockRe.FindAllStringSubmatch(reply, -1)
	p.Actions = len(matches)
	switch {
	case p.Actions == 0:
		p.Kind = KindText
		return p
	case p.Actions > 1:
		p.Kind = KindMultiple
		return p
	}

	bodies := make(map[string]string, len(matches))
	for _, m := range matches {
		if _, ok := bodies[m[1]]; !ok {
			bodies[m[1]] = m[2]
		}
	}
	for _, bp := range blockPriority {
		body, ok := bodies[bp.name]
		if !ok {
			continue
		}
		p.Kind = bp.kind
		p.Body = strings.TrimSpace(body)
		switch bp.kind {
		case KindDistill:
			p.ID, p.Summary, p.Invalid = parseDistill(body)
		case KindPrune:
			p.IDs, p.Invalid = parsePrune(body)
		case KindUntruncate:
			var ok bool
			p.ID, ok = parseID(body, "id:")
			p.Invalid = !ok
		}
		return p
	}
	return p
}

// StripBlocks removes action blocks and the tag, leaving the prose shown
// to the user around them.
func StripBlocks(reply string) string {
	text := blockRe.ReplaceAllString(reply, "")
	text = tagRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func parseID(body, key string) (int, bool) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := cutKey(line, key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(rest))
			return n, err == nil
		}
	}
	return 0, false
}

// parseDistill reads "id: N" and "summary: ..." where the summary runs
// on over the following lines.
func parseDistill(body string) (id int, summary string, invalid bool) {
	haveID, inSummary := false, false
	var parts []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := cutKey(trimmed, "id:"); ok && !inSummary {
			n, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				return 0, "", true
			}
			id, haveID = n, true
			continue
		}
		if rest, ok := cutKey(trimmed, "summary:"); ok {
			inSummary = true
			parts = append(parts, strings.TrimSpace(rest))
			continue
		}
		if inSummary {
			parts = append(parts, trimmed)
		}
	}
	summary = strings.TrimSpace(strings.Join(parts, "\n"))
	return id, summary, !haveID || summary == ""
}

// parsePrune reads "ids: 1, 2, 3" or a single "id: N".
func parsePrune(body string) ([]int, bool) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := cutKey(line, "ids:"); ok {
			var ids []int
			for _, f := range strings.Split(rest, ",") {
				f = strings.TrimSpace(f)
				if f == "" {
					continue
				}
				n, err := strconv.Atoi(f)
				if err != nil {
					return nil, true
				}
				ids = append(ids, n)
			}
			return ids, len(ids) == 0
		}
	}
	if id, ok := parseID(body, "id:"); ok {
		return []int{id}, false
	}
	return nil, true
}

func cutKey(line, key string) (string, bool) {
	if len(line) < len(key) || !strings.EqualFold(line[:len(key)], key) {
		return "", false
	}
	return line[len(key):], true
}

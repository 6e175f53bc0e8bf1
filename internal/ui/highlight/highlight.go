package highlight

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// DefaultStyle is the chroma style used when none is configured.
const DefaultStyle = "monokai"

// Highlighter provides syntax highlighting for commands and code blocks
type Highlighter struct {
	enabled   bool
	formatter chroma.Formatter
	style     *chroma.Style
}

// New creates a new Highlighter. An unknown style falls back to chroma's
// default.
func New(enabled bool, style string) *Highlighter {
	if style == "" {
		style = DefaultStyle
	}
	return &Highlighter{
		enabled:   enabled,
		formatter: formatters.Get("terminal256"),
		style:     styles.Get(style),
	}
}

// Enabled reports whether output is colored.
func (h *Highlighter) Enabled() bool { return h.enabled }

// Highlight applies syntax highlighting to a code string
func (h *Highlighter) Highlight(code, language string) string {
	if !h.enabled {
		return code
	}

	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf bytes.Buffer
	if err := h.formatter.Format(&buf, h.style, iterator); err != nil {
		return code
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Shell highlights a shell command.
func (h *Highlighter) Shell(command string) string {
	return h.Highlight(command, "bash")
}

// fenceRe matches fenced blocks with an optional info string
var fenceRe = regexp.MustCompile("(?s)```([\\w-]*)\\n(.*?)```")

// actionLanguage maps the assistant's action fences onto a lexer.
var actionLanguage = map[string]string{
	"command":            "bash",
	"websearch":          "text",
	"context_distill":    "yaml",
	"context_prune":      "yaml",
	"context_untruncate": "yaml",
}

// CodeBlocks highlights the body of every fenced block in text, keeping
// the fences so action blocks stay recognisable.
func (h *Highlighter) CodeBlocks(text string) string {
	if !h.enabled {
		return text
	}

	return fenceRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := fenceRe.FindStringSubmatch(match)
		if len(parts) != 3 {
			return match
		}
		lang := parts[1]
		if mapped, ok := actionLanguage[lang]; ok {
			lang = mapped
		}
		code := strings.TrimSuffix(parts[2], "\n")
		return "```" + parts[1] + "\n" + h.Highlight(code, lang) + "\n```"
	})
}

package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/abdul-hamid-achik/aishell/internal/config"
	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
	"github.com/abdul-hamid-achik/aishell/internal/ui/highlight"
)

// ANSI cursor control codes
const (
	CursorStart = "\r"      // Move cursor to start of line
	ClearLine   = "\033[2K" // Clear entire line
)

const (
	defaultWidth   = 80
	maxMarkdownCol = 100
	maxTableCol    = 48
	safePanelWidth = 80
)

// Palette
var (
	colorAccent  = lipgloss.Color("6")
	colorWarn    = lipgloss.Color("3")
	colorError   = lipgloss.Color("1")
	colorSuccess = lipgloss.Color("2")
	colorInfo    = lipgloss.Color("4")
	colorMuted   = lipgloss.Color("8")
	colorDirect  = lipgloss.Color("5")
)

// OutputHandler handles console output with colors
type OutputHandler struct {
	out         io.Writer
	errOut      io.Writer
	useColors   bool
	width       int
	r           *lipgloss.Renderer
	highlighter *highlight.Highlighter

	mdOnce   sync.Once
	markdown *glamour.TermRenderer
}

// NewOutputHandler writes to the process's stdout and stderr, with colors
// when stdout is a terminal and NO_COLOR is unset.
func NewOutputHandler() *OutputHandler {
	colors := ColorsEnabled(os.Stdout)
	h := NewOutputHandlerTo(os.Stdout, os.Stderr, colors)
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		h.width = w
	}
	return h
}

// NewOutputHandlerTo writes to out and errOut.
func NewOutputHandlerTo(out, errOut io.Writer, colors bool) *OutputHandler {
	r := lipgloss.NewRenderer(out)
	if colors {
		r.SetColorProfile(termenv.ColorProfile())
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	return &OutputHandler{
		out:         out,
		errOut:      errOut,
		useColors:   colors,
		width:       defaultWidth,
		r:           r,
		highlighter: highlight.New(colors, ""),
	}
}

// ColorsEnabled reports whether f is a terminal and NO_COLOR is unset.
func ColorsEnabled(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func (o *OutputHandler) style(c lipgloss.Color) lipgloss.Style {
	return o.r.NewStyle().Foreground(c)
}

// IsTTY returns true if the output is a terminal (not piped/redirected)
func (o *OutputHandler) IsTTY() bool {
	return o.useColors
}

// UseColors returns true if colors are enabled
func (o *OutputHandler) UseColors() bool {
	return o.useColors
}

// Writer returns the stdout writer, for live command output.
func (o *OutputHandler) Writer() io.Writer { return o.out }

// ErrWriter returns the stderr writer.
func (o *OutputHandler) ErrWriter() io.Writer { return o.errOut }

// Text outputs regular text
func (o *OutputHandler) Text(text string) {
	fmt.Fprint(o.out, text)
}

// TextLn outputs regular text with newline
func (o *OutputHandler) TextLn(text string) {
	fmt.Fprintln(o.out, text)
}

// Dim outputs muted text with newline
func (o *OutputHandler) Dim(text string) {
	fmt.Fprintln(o.out, o.style(colorMuted).Render(text))
}

// Error outputs an error message
func (o *OutputHandler) Error(err error) {
	o.ErrorStr(shellerr.GetUserMessage(err))
}

// ErrorStr outputs an error string
func (o *OutputHandler) ErrorStr(msg string) {
	fmt.Fprintln(o.errOut, o.style(colorError).Bold(true).Render("Error: ")+msg)
}

// Warning outputs a warning message
func (o *OutputHandler) Warning(msg string) {
	fmt.Fprintln(o.errOut, o.style(colorWarn).Bold(true).Render("Warning: ")+msg)
}

// Success outputs a success message
func (o *OutputHandler) Success(msg string) {
	fmt.Fprintln(o.out, o.style(colorSuccess).Bold(true).Render("✓ ")+msg)
}

// Info outputs an info message
func (o *OutputHandler) Info(msg string) {
	fmt.Fprintln(o.out, o.style(colorInfo).Render("ℹ ")+msg)
}

// Header outputs a header
func (o *OutputHandler) Header(text string) {
	fmt.Fprintln(o.out)
	fmt.Fprintln(o.out, o.r.NewStyle().Bold(true).Underline(true).Render(text))
	fmt.Fprintln(o.out)
}

// Separator outputs a horizontal line
func (o *OutputHandler) Separator() {
	fmt.Fprintln(o.out, o.style(colorMuted).Render(strings.Repeat("─", 40)))
}

// ModelInfo outputs the current model info
func (o *OutputHandler) ModelInfo(model string) {
	fmt.Fprintln(o.out, o.style(colorMuted).Render("Using model: ")+o.style(colorAccent).Render(model))
}

// PromptVars are substituted into prompt sections.
type PromptVars struct {
	Model string
	Dir   string
	Mode  string
	User  string
	Host  string
}

// Prompt renders sections with vars substituted. Every section but the
// last forms a styled header line; the last is returned plain as the
// line-editor prompt, since liner measures the prompt by bytes.
func (o *OutputHandler) Prompt(sections []config.PromptSection, vars PromptVars) (header, prompt string) {
	if len(sections) == 0 {
		return "", "> "
	}
	// $model before $mode so the longer name wins
	rep := strings.NewReplacer(
		"$model", vars.Model,
		"$mode", vars.Mode,
		"$dir", ShortenHome(vars.Dir),
		"$user", vars.User,
		"$host", vars.Host,
	)

	var b strings.Builder
	for _, s := range sections[:len(sections)-1] {
		st := o.r.NewStyle()
		if s.FG != "" {
			st = st.Foreground(lipgloss.Color(s.FG))
		}
		if s.BG != "" {
			st = st.Background(lipgloss.Color(s.BG))
		}
		b.WriteString(st.Render(rep.Replace(s.Text)))
	}
	prompt = strings.TrimLeft(rep.Replace(sections[len(sections)-1].Text), " ")
	return strings.TrimRight(b.String(), " "), prompt
}

// ShortenHome replaces the home directory prefix of dir with "~".
func ShortenHome(dir string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return dir
	}
	if dir == home {
		return "~"
	}
	if rest, ok := strings.CutPrefix(dir, home+string(os.PathSeparator)); ok {
		return "~" + string(os.PathSeparator) + rest
	}
	return dir
}

// Panel draws body in a rounded box titled title.
func (o *OutputHandler) Panel(title, body string, c lipgloss.Color) {
	head := o.style(c).Bold(true).Render(title)
	box := o.r.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(c).
		Padding(0, 1)
	fmt.Fprintln(o.out, box.Render(head+"\n"+body))
}

// ProposedCommand shows a command awaiting confirmation.
func (o *OutputHandler) ProposedCommand(command, warning string) {
	body := o.highlighter.Shell(command)
	if warning != "" {
		body += "\n\n" + o.style(colorWarn).Render("⚠ "+warning)
	}
	o.Panel("Proposed Command", body, colorWarn)
}

// SafeCommand shows a command that runs without confirmation.
func (o *OutputHandler) SafeCommand(command string) {
	text := runewidth.Truncate("Auto-executing safe command: `"+command+"`", safePanelWidth, "...")
	o.Panel("Safe Command", text, colorSuccess)
}

// DirectCommand shows a command run in direct mode or with "!".
func (o *OutputHandler) DirectCommand(command string) {
	o.Panel("Direct Command", o.highlighter.Shell(command), colorDirect)
}

// CommandStatus prints the exit status after a command's live output.
func (o *OutputHandler) CommandStatus(exitCode int, d time.Duration) {
	took := d.Round(10 * time.Millisecond).String()
	if exitCode == 0 {
		fmt.Fprintln(o.out, o.style(colorMuted).Render("✓ done in "+took))
		return
	}
	fmt.Fprintln(o.out, o.style(colorError).Render(fmt.Sprintf("✗ exit code %d after %s", exitCode, took)))
}

// SearchResults summarises a web search for the user.
func (o *OutputHandler) SearchResults(query string, n int) {
	o.Panel("Web Search", fmt.Sprintf("%s\n%d result(s)", query, n), colorInfo)
}

// StreamText outputs streaming text without newline
func (o *OutputHandler) StreamText(text string) {
	fmt.Fprint(o.out, text)
}

// StreamThinking outputs streaming reasoning text, dimmed
func (o *OutputHandler) StreamThinking(text string) {
	fmt.Fprint(o.out, o.r.NewStyle().Faint(true).Italic(true).Render(text))
}

// StreamDone signals end of streaming
func (o *OutputHandler) StreamDone() {
	fmt.Fprintln(o.out)
}

// Reply prints a complete assistant reply, rendered as markdown when
// asked and possible, otherwise with fenced code highlighted.
func (o *OutputHandler) Reply(text string, markdown bool) {
	if markdown && o.useColors {
		if rendered, ok := o.renderMarkdown(text); ok {
			fmt.Fprint(o.out, rendered)
			return
		}
	}
	fmt.Fprintln(o.out, o.highlighter.CodeBlocks(text))
}

func (o *OutputHandler) renderMarkdown(text string) (string, bool) {
	o.mdOnce.Do(func() {
		wrap := min(o.width-4, maxMarkdownCol)
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(wrap),
		)
		if err == nil {
			o.markdown = r
		}
	})
	if o.markdown == nil {
		return "", false
	}
	out, err := o.markdown.Render(text)
	if err != nil {
		return "", false
	}
	return out, true
}

// Table prints rows under headers. Cells wider than the column limit are
// cut by display width.
func (o *OutputHandler) Table(headers []string, rows [][]string) {
	fmt.Fprint(o.out, FormatTable(headers, rows, maxTableCol))
	if len(rows) == 0 {
		o.Dim("  (none)")
	}
}

// FormatTable lays out a plain-text table. It is separate from Table so
// layout can be tested without a terminal.
func FormatTable(headers []string, rows [][]string, maxCol int) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], min(runewidth.StringWidth(row[i]), maxCol))
		}
	}

	var b strings.Builder
	line := func(cells []string) {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = runewidth.Truncate(strings.ReplaceAll(cells[i], "\n", " "), widths[i], "…")
			}
			if i == len(widths)-1 {
				parts[i] = cell
			} else {
				parts[i] = runewidth.FillRight(cell, widths[i])
			}
		}
		b.WriteString("  " + strings.TrimRight(strings.Join(parts, "  "), " ") + "\n")
	}

	line(headers)
	rules := make([]string, len(widths))
	for i, w := range widths {
		rules[i] = strings.Repeat("─", w)
	}
	line(rules)
	for _, row := range rows {
		line(row)
	}
	return b.String()
}

// Welcome prints the startup banner.
func (o *OutputHandler) Welcome(version, model, mode string) {
	title := o.style(colorAccent).Bold(true).Render("AI Shell " + version)
	body := fmt.Sprintf("%s\nModel: %s\nMode:  %s\n\nType /help for commands, !<cmd> to run a command directly, /exit to quit.",
		title, model, mode)
	box := o.r.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorAccent).
		Padding(0, 1)
	fmt.Fprintln(o.out, box.Render(body))
}

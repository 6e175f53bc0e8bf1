package ui

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"golang.org/x/term"
)

// InputHandler handles user input with line editing, a persistent history
// and tab completion.
type InputHandler struct {
	line        *liner.State
	historyFile string
	completer   *Completer
}

// NewInputHandler creates a new input handler. An empty historyFile keeps
// history in memory only.
func NewInputHandler(historyFile string) *InputHandler {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetTabCompletionStyle(liner.TabPrints)

	h := &InputHandler{
		line:        line,
		historyFile: historyFile,
		completer:   NewCompleter(nil, nil),
	}
	line.SetCompleter(h.completer.Complete)
	h.loadHistory()
	return h
}

// Completer returns the tab completer so callers can update its words.
func (h *InputHandler) Completer() *Completer { return h.completer }

func (h *InputHandler) loadHistory() {
	if h.historyFile == "" {
		return
	}
	if f, err := os.Open(h.historyFile); err == nil {
		_, _ = h.line.ReadHistory(f)
		f.Close()
	}
}

func (h *InputHandler) saveHistory() {
	if h.historyFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(h.historyFile), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(h.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = h.line.WriteHistory(f)
}

// ReadInput reads a REPL line and records it in history.
func (h *InputHandler) ReadInput(prompt string) (string, error) {
	input, err := h.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		h.line.AppendHistory(input)
	}
	return input, nil
}

// ReadLine reads a single line of input without touching history
func (h *InputHandler) ReadLine(prompt string) (string, error) {
	line, err := h.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Confirm asks for a yes/no confirmation
func (h *InputHandler) Confirm(prompt string, defaultYes bool) (bool, error) {
	suffix := " [y/N]: "
	if defaultYes {
		suffix = " [Y/n]: "
	}

	response, err := h.ReadLine(prompt + suffix)
	if err != nil {
		return false, err
	}
	return ParseYesNo(response, defaultYes), nil
}

// ParseYesNo interprets a y/n answer; empty input gives def.
func ParseYesNo(response string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(response)) {
	case "":
		return def
	case "y", "yes":
		return true
	default:
		return false
	}
}

// ReadPassword reads a secret without echoing when stdin is a terminal.
func (h *InputHandler) ReadPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return h.ReadLine(prompt)
	}
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Close saves history and restores the terminal.
func (h *InputHandler) Close() error {
	h.saveHistory()
	return h.line.Close()
}

// IsInterrupt reports whether err came from Ctrl-C at a prompt.
func IsInterrupt(err error) bool {
	return errors.Is(err, liner.ErrPromptAborted)
}

// IsEOF reports whether err came from Ctrl-D or closed input.
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

// Completer completes slash commands and model aliases after "/model ".
type Completer struct {
	mu       sync.RWMutex
	commands []string
	aliases  []string
}

// NewCompleter creates a completer over commands and aliases.
func NewCompleter(commands, aliases []string) *Completer {
	c := &Completer{}
	c.SetCommands(commands)
	c.SetAliases(aliases)
	return c
}

// SetCommands replaces the slash command list.
func (c *Completer) SetCommands(commands []string) {
	sorted := append([]string(nil), commands...)
	sort.Strings(sorted)
	c.mu.Lock()
	c.commands = sorted
	c.mu.Unlock()
}

// SetAliases replaces the model alias list.
func (c *Completer) SetAliases(aliases []string) {
	sorted := append([]string(nil), aliases...)
	sort.Strings(sorted)
	c.mu.Lock()
	c.aliases = sorted
	c.mu.Unlock()
}

// Complete returns the candidates for line.
func (c *Completer) Complete(line string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if rest, ok := strings.CutPrefix(line, "/model "); ok {
		rest = strings.TrimLeft(rest, " ")
		var out []string
		for _, a := range c.aliases {
			if strings.HasPrefix(a, rest) {
				out = append(out, "/model "+a)
			}
		}
		return out
	}
	if !strings.HasPrefix(line, "/") || strings.Contains(line, " ") {
		return nil
	}
	var out []string
	for _, cmd := range c.commands {
		if strings.HasPrefix(cmd, line) {
			out = append(out, cmd)
		}
	}
	return out
}

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var levelStyles = map[Level]lipgloss.Style{
	LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
	LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
	LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
}

// ConsoleWriter writes human-readable log messages to stderr.
type ConsoleWriter struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
	color    bool
}

// NewConsoleWriter creates a new console writer with the given minimum level.
func NewConsoleWriter(minLevel Level) *ConsoleWriter {
	return &ConsoleWriter{
		output:   os.Stderr,
		minLevel: minLevel,
		color:    os.Getenv("NO_COLOR") == "",
	}
}

// SetOutput sets the output destination and disables colour (mainly for testing).
func (c *ConsoleWriter) SetOutput(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output = w
	c.color = false
}

// SetLevel sets the minimum log level.
func (c *ConsoleWriter) SetLevel(level Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minLevel = level
}

// Write prints "15:04:05 LEVEL message key=value ..." when level is enabled.
func (c *ConsoleWriter) Write(level Level, msg string, fields ...Field) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if level < c.minLevel {
		return
	}

	lvl := fmt.Sprintf("%-5s", level.String())
	if c.color {
		lvl = levelStyles[level].Render(lvl)
	}

	_, _ = io.WriteString(c.output, formatLine(time.Now().Format("15:04:05"), lvl, msg, fields))
}

// Enabled returns true if the given level would be logged.
func (c *ConsoleWriter) Enabled(level Level) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return level >= c.minLevel
}

func formatLine(ts, level, msg string, fields []Field) string {
	var sb strings.Builder
	sb.WriteString(ts)
	sb.WriteString(" ")
	sb.WriteString(level)
	sb.WriteString(" ")
	sb.WriteString(msg)
	for _, f := range fields {
		sb.WriteString(" ")
		sb.WriteString(f.Key)
		sb.WriteString("=")
		sb.WriteString(formatValue(f.Value))
	}
	sb.WriteString("\n")
	return sb.String()
}

// formatValue formats a value for log output.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if strings.ContainsAny(val, " \t\n") {
			return fmt.Sprintf("%q", val)
		}
		return val
	case error:
		if val == nil {
			return "<nil>"
		}
		return fmt.Sprintf("%q", val.Error())
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("%v", val)
	}
}

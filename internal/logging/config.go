// Package logging provides the logging system for aishell.
// It writes a human console stream, per-session log files, and optional JSONL traces.
package logging

import (
	"os"
	"path/filepath"
	"strings"
)

// Level represents log severity levels.
type Level int

const (
	// LevelDebug logs everything, including verbose debugging information.
	LevelDebug Level = iota
	// LevelInfo logs informational messages and above.
	LevelInfo
	// LevelWarn logs warnings and errors only.
	LevelWarn
	// LevelError logs only error messages.
	LevelError
)

// String returns the string representation of a log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level written to the session log file.
	Level Level

	// ConsoleLevel is the minimum level echoed to stderr. The chat owns
	// the terminal, so only warnings reach it unless Verbose is set.
	ConsoleLevel Level

	// DebugMode enables full debug tracing to JSONL files.
	DebugMode bool

	// DebugLLM enables logging of full LLM request/response payloads.
	DebugLLM bool

	// DebugDir is the directory for debug trace files.
	DebugDir string

	// LogDir is the directory for session log files.
	LogDir string

	// Verbose enables debug-level console output without full tracing.
	Verbose bool
}

// DefaultDebugDir is the default directory for debug traces.
const DefaultDebugDir = "/tmp/aishell-debug"

// DefaultLogDir returns ~/.ai-shell/logs, or .ai-shell/logs when the home
// directory cannot be resolved.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".ai-shell", "logs")
	}
	return filepath.Join(home, ".ai-shell", "logs")
}

// ConfigFromEnv creates a Config from environment variables.
//
// Environment variables:
//   - AISHELL_DEBUG: Set to "1" to enable debug tracing
//   - AISHELL_DEBUG_LLM: Set to "1" to log full LLM payloads
//   - AISHELL_DEBUG_DIR: Override debug trace directory
//   - AISHELL_LOG_LEVEL: File log level (debug, info, warn, error)
func ConfigFromEnv() Config {
	cfg := Config{
		Level:        LevelInfo,
		ConsoleLevel: LevelWarn,
		DebugDir:     DefaultDebugDir,
		LogDir:       DefaultLogDir(),
	}

	if os.Getenv("AISHELL_DEBUG") == "1" {
		cfg.DebugMode = true
		cfg.Level = LevelDebug
	}

	if os.Getenv("AISHELL_DEBUG_LLM") == "1" {
		cfg.DebugLLM = true
	}

	if dir := os.Getenv("AISHELL_DEBUG_DIR"); dir != "" {
		cfg.DebugDir = dir
	}

	if level := os.Getenv("AISHELL_LOG_LEVEL"); level != "" {
		cfg.Level = ParseLevel(level)
	}

	return cfg
}

// WithDebugMode returns a copy of the config with debug mode enabled.
func (c Config) WithDebugMode(enabled bool) Config {
	c.DebugMode = enabled
	if enabled {
		c.Level = LevelDebug
	}
	return c
}

// WithVerbose returns a copy of the config with verbose mode enabled.
func (c Config) WithVerbose(enabled bool) Config {
	c.Verbose = enabled
	if enabled {
		c.Level = LevelDebug
		c.ConsoleLevel = LevelDebug
	}
	return c
}

// WithLevel returns a copy of the config with the specified level.
func (c Config) WithLevel(level Level) Config {
	c.Level = level
	return c
}

// WithLogDir returns a copy of the config writing session logs to dir.
func (c Config) WithLogDir(dir string) Config {
	if dir != "" {
		c.LogDir = dir
	}
	return c
}

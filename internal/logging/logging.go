// Package logging writes aishell's diagnostics.
//
// A Logger sends each line to stderr (warnings only, unless --verbose) and
// to a per-session file under ~/.ai-shell/logs. With --debug or
// AISHELL_DEBUG=1 it also keeps a JSONL trace of shell events, and with
// AISHELL_DEBUG_LLM=1 the raw model payloads.
//
// The package-level helpers use the logger installed by Init and do
// nothing before it:
//
//	logging.Init(logging.ConfigFromEnv())
//	defer logging.Close()
//	logging.LogEvent(logging.EventCommandExec, logging.Command("ls -la"))
package logging

import (
	"errors"
	"sync"
)

// Logger is safe for concurrent use. A nil *Logger discards everything.
type Logger struct {
	console *ConsoleWriter
	file    *FileWriter
	trace   *Tracer
	metrics *Metrics
}

var (
	mu     sync.RWMutex
	global *Logger
)

// New builds a logger from cfg without installing it.
func New(cfg Config) (*Logger, error) {
	trace, err := NewTracer(cfg.DebugDir, cfg.DebugMode, cfg.DebugLLM)
	if err != nil {
		return nil, err
	}
	level := cfg.ConsoleLevel
	if cfg.Verbose {
		level = LevelDebug
	}
	return &Logger{
		console: NewConsoleWriter(level),
		file:    NewFileWriter(cfg.LogDir, cfg.Level),
		trace:   trace,
		metrics: NewMetrics(),
	}, nil
}

// Init builds a logger and makes it the one behind the package helpers.
func Init(cfg Config) (*Logger, error) {
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	global = l
	mu.Unlock()
	return l, nil
}

// Global returns the installed logger, or nil.
func Global() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Close shuts down the installed logger and uninstalls it.
func Close() error {
	mu.Lock()
	l := global
	global = nil
	mu.Unlock()
	return l.Close()
}

// Log writes msg at level to the console and the session file.
func (l *Logger) Log(level Level, msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.console.Write(level, msg, fields...)
	_ = l.file.Write(level, msg, fields...)
}

func (l *Logger) Debug(msg string, fields ...Field) { l.Log(LevelDebug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.Log(LevelInfo, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.Log(LevelWarn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.Log(LevelError, msg, fields...) }

// Event appends a trace record. Without --debug it does nothing.
func (l *Logger) Event(name string, fields ...Field) {
	if l == nil {
		return
	}
	l.trace.Record(name, fieldMap(fields))
}

// BeginRequest starts a model call. Later trace records carry the
// returned id until the next call begins.
func (l *Logger) BeginRequest() string {
	if l == nil {
		return newID("req_")
	}
	return l.trace.BeginRequest()
}

// RequestPayload and ResponsePayload keep the raw model traffic for
// AISHELL_DEBUG_LLM=1.
func (l *Logger) RequestPayload(requestID string, payload map[string]any) {
	if l != nil {
		l.trace.Payload("request", requestID, payload)
	}
}

func (l *Logger) ResponsePayload(requestID string, payload map[string]any) {
	if l != nil {
		l.trace.Payload("response", requestID, payload)
	}
}

// Metrics returns the session counters. Nil for a nil logger; the
// counters accept a nil receiver.
func (l *Logger) Metrics() *Metrics {
	if l == nil {
		return nil
	}
	return l.metrics
}

// TraceSession is the id shared by every record of this trace.
func (l *Logger) TraceSession() string {
	if l == nil {
		return ""
	}
	return l.trace.Session()
}

// Tracing reports whether trace records are being written.
func (l *Logger) Tracing() bool {
	return l != nil && l.trace.Enabled()
}

// LogPath is the session log, empty until the first line is written.
func (l *Logger) LogPath() string {
	if l == nil {
		return ""
	}
	return l.file.GetPath()
}

// IsDebugEnabled reports whether debug lines reach the console.
func (l *Logger) IsDebugEnabled() bool {
	return l != nil && l.console.Enabled(LevelDebug)
}

// Close writes the final counters to the trace and closes both files.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	if l.trace.Enabled() {
		l.trace.Record(EventSessionEnd, l.metrics.GetSnapshot())
	}
	return errors.Join(l.file.Close(), l.trace.Close())
}

// Debug, Warn, LogError and LogEvent go to the installed logger.

func Debug(msg string, fields ...Field)     { Global().Debug(msg, fields...) }
func Warn(msg string, fields ...Field)      { Global().Warn(msg, fields...) }
func LogError(msg string, fields ...Field)  { Global().Error(msg, fields...) }
func LogEvent(name string, fields ...Field) { Global().Event(name, fields...) }

// GlobalMetrics returns the installed logger's counters, or nil.
func GlobalMetrics() *Metrics {
	return Global().Metrics()
}

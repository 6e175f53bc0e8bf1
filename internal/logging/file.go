package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// maxSessionLogs is how many session_*.log files are kept in the log directory.
const maxSessionLogs = 20

// FileWriter writes log messages to a per-session log file.
// The file is created lazily on the first write.
type FileWriter struct {
	mu       sync.Mutex
	file     *os.File
	logDir   string
	logPath  string
	minLevel Level
	initOnce sync.Once
	initErr  error
}

// NewFileWriter creates a new file writer for logDir.
func NewFileWriter(logDir string, minLevel Level) *FileWriter {
	return &FileWriter{
		logDir:   logDir,
		minLevel: minLevel,
	}
}

func (f *FileWriter) init() error {
	f.initOnce.Do(func() {
		f.initErr = f.doInit()
	})
	return f.initErr
}

func (f *FileWriter) doInit() error {
	if f.logDir == "" {
		return fmt.Errorf("no log directory configured")
	}
	if err := os.MkdirAll(f.logDir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(f.logDir, fmt.Sprintf("session_%s.log", timestamp))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("create log file: %w", err)
	}

	f.file = file
	f.logPath = logPath

	cwd, _ := os.Getwd()
	_, _ = fmt.Fprintf(file, "=== aishell started at %s ===\n", time.Now().Format("2006-01-02 15:04:05"))
	_, _ = fmt.Fprintf(file, "Working directory: %s\n---\n", cwd)

	latestPath := filepath.Join(f.logDir, "latest.log")
	_ = os.Remove(latestPath)
	_ = os.Symlink(filepath.Base(logPath), latestPath)

	pruneSessionLogs(f.logDir, maxSessionLogs)
	return nil
}

// pruneSessionLogs removes the oldest session logs beyond keep.
// Names embed a sortable timestamp, so lexical order is chronological.
func pruneSessionLogs(dir string, keep int) {
	matches, err := filepath.Glob(filepath.Join(dir, "session_*.log"))
	if err != nil || len(matches) <= keep {
		return
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-keep] {
		_ = os.Remove(old)
	}
}

// Write appends a log line if level meets the file's minimum.
func (f *FileWriter) Write(level Level, msg string, fields ...Field) error {
	if level < f.minLevel {
		return nil
	}
	if err := f.init(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}

	line := formatLine(time.Now().Format("15:04:05"), fmt.Sprintf("%-5s", level.String()), msg, fields)
	_, err := f.file.WriteString(line)
	return err
}

// GetPath returns the path to the current log file.
// Returns empty string if not initialized.
func (f *FileWriter) GetPath() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logPath
}

// Close closes the file writer.
func (f *FileWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file != nil {
		_, _ = fmt.Fprintf(f.file, "---\n=== aishell exited at %s ===\n", time.Now().Format("2006-01-02 15:04:05"))
		err := f.file.Close()
		f.file = nil
		return err
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/abdul-hamid-achik/aishell/internal/logging"
)

// LoadContext reads the user's context.md. A missing file yields "".
func LoadContext(path string) (string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxContextSize {
		return "", fmt.Errorf("%s is larger than %d bytes", path, MaxContextSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Watcher keeps the contents of context.md current while the shell runs.
type Watcher struct {
	path string

	mu      sync.RWMutex
	content string

	watcher *fsnotify.Watcher
	done    chan struct{}
	onLoad  func(string)
}

// NewWatcher loads path once and, if the directory can be watched,
// reloads it whenever it is written or recreated. onLoad may be nil.
func NewWatcher(path string, onLoad func(string)) (*Watcher, error) {
	w := &Watcher{
		path:   path,
		done:   make(chan struct{}),
		onLoad: onLoad,
	}
	w.reload()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return w, fmt.Errorf("create watcher: %w", err)
	}
	// Editors often replace files, so watch the directory and filter by name.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return w, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	w.watcher = fw
	go w.loop()
	return w, nil
}

// Content returns the latest context.md text.
func (w *Watcher) Content() string {
	if w == nil {
		return ""
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.content
}

func (w *Watcher) reload() {
	content, err := LoadContext(w.path)
	if err != nil {
		logging.Warn("could not load context file", logging.Path(w.path), logging.Error(err))
		return
	}
	w.mu.Lock()
	changed := content != w.content
	w.content = content
	w.mu.Unlock()
	if changed && w.onLoad != nil {
		w.onLoad(content)
	}
}

func (w *Watcher) loop() {
	name := filepath.Clean(w.path)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.reload()
				logging.LogEvent(logging.EventConfigReload, logging.Path(w.path))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("context watcher error", logging.Error(err))
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	if w == nil || w.watcher == nil {
		return nil
	}
	close(w.done)
	return w.watcher.Close()
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadContext(t *testing.T) {
	dir := t.TempDir()

	got, err := LoadContext(filepath.Join(dir, "missing.md"))
	if err != nil || got != "" {
		t.Fatalf("missing file should give empty content, got %q, %v", got, err)
	}

	path := filepath.Join(dir, "context.md")
	if err := os.WriteFile(path, []byte("\n# System\nArch Linux, pacman\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = LoadContext(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "# System\nArch Linux, pacman" {
		t.Errorf("content should be trimmed, got %q", got)
	}

	if err := os.WriteFile(path, []byte(strings.Repeat("a", MaxContextSize+1)), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadContext(path); err == nil {
		t.Error("oversized context file should be rejected")
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "context.md")
	if err := os.WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded := make(chan string, 4)
	w, err := NewWatcher(path, func(s string) { loaded <- s })
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	if got := <-loaded; got != "first" {
		t.Fatalf("initial load = %q", got)
	}

	if err := os.WriteFile(path, []byte("second"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-loaded:
		if got != "second" {
			t.Errorf("reload = %q, want second", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not pick up the change")
	}
	if w.Content() != "second" {
		t.Errorf("Content() = %q", w.Content())
	}
}

func TestNilWatcher(t *testing.T) {
	var w *Watcher
	if w.Content() != "" {
		t.Error("nil watcher should have no content")
	}
	if err := w.Close(); err != nil {
		t.Error(err)
	}
}

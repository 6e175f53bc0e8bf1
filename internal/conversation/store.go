package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
	"github.com/abdul-hamid-achik/aishell/internal/logging"
)

const (
	activeFile = "active.json"
	recentDir  = "recent"
	savedDir   = "saved"
	archiveDir = "archive"

	// ResumeWindow is how old active.json may be and still be offered for resume.
	ResumeWindow = 24 * time.Hour
)

// ErrExists is returned by SaveAs when the name is taken and overwrite is false.
var ErrExists = errors.New("conversation already exists")

// Info summarizes a stored session for listings.
type Info struct {
	Name     string
	Path     string
	Summary  string
	Messages int
	Updated  time.Time
}

// Store persists sessions.
type Store interface {
	// Save writes s to active.json.
	Save(s *Session) error
	// AutoSave is Save with failures logged instead of returned.
	AutoSave(s *Session)
	// Touch records one appended turn and auto-saves every K turns.
	Touch(s *Session)
	// Interactions is the number of Touch calls since the last Reset.
	Interactions() int
	// Resume returns the active session if it is recent and non-empty, else nil.
	Resume() (*Session, error)
	SaveAs(s *Session, name string, overwrite bool) (string, error)
	Exists(name string) bool
	Load(name string) (*Session, error)
	ListSaved() ([]Info, error)
	ListRecent(n int) ([]Info, error)
	MoveToRecent(s *Session) error
	Archive(s *Session) error
	Delete(name string) error
	ClearActive() error
	Reset()
}

// Options configures a FileStore.
type Options struct {
	Dir              string
	AutoSaveInterval int
	MaxRecent        int
	ResumeOnStartup  bool
}

// FileStore keeps sessions under one directory:
// active.json, recent/, saved/ and archive/.
type FileStore struct {
	opts Options

	mu           sync.Mutex
	interactions int
	now          func() time.Time
}

// NewFileStore creates the directory layout and returns the store.
func NewFileStore(opts Options) (*FileStore, error) {
	if opts.AutoSaveInterval < 1 {
		opts.AutoSaveInterval = 5
	}
	if opts.MaxRecent < 1 {
		opts.MaxRecent = 10
	}
	for _, d := range []string{opts.Dir, filepath.Join(opts.Dir, recentDir), filepath.Join(opts.Dir, savedDir), filepath.Join(opts.Dir, archiveDir)} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, shellerr.SessionWrite(d, err)
		}
	}
	return &FileStore{opts: opts, now: time.Now}, nil
}

func (f *FileStore) activePath() string {
	return filepath.Join(f.opts.Dir, activeFile)
}

func (f *FileStore) savedPath(name string) string {
	return filepath.Join(f.opts.Dir, savedDir, name+".json")
}

// Save writes s to active.json.
func (f *FileStore) Save(s *Session) error {
	if err := writeJSON(f.activePath(), s); err != nil {
		return err
	}
	logging.LogEvent(logging.EventSessionSave, logging.SessionID(s.ID), logging.MessageCount(len(s.Messages)))
	return nil
}

// AutoSave writes s to active.json, logging any failure.
func (f *FileStore) AutoSave(s *Session) {
	if err := f.Save(s); err != nil {
		logging.Warn("auto-save failed", logging.SessionID(s.ID), logging.Error(err))
	}
}

// Touch counts one appended turn and auto-saves on every K-th.
func (f *FileStore) Touch(s *Session) {
	f.mu.Lock()
	f.interactions++
	due := f.interactions%f.opts.AutoSaveInterval == 0
	f.mu.Unlock()
	if due {
		f.AutoSave(s)
	}
}

// Interactions returns the number of Touch calls since the last Reset.
func (f *FileStore) Interactions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interactions
}

// Reset zeroes the interaction counter for a fresh session.
func (f *FileStore) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interactions = 0
}

// Resume returns the active session when resume is enabled, it has turns
// and was updated within ResumeWindow. Otherwise it returns nil, nil.
func (f *FileStore) Resume() (*Session, error) {
	if !f.opts.ResumeOnStartup {
		return nil, nil
	}
	s, err := readJSON(f.activePath(), activeFile)
	if err != nil {
		if errors.Is(err, shellerr.SessionNotFound(activeFile)) {
			return nil, nil
		}
		return nil, err
	}
	if s.Empty() || f.now().Sub(s.Updated) > ResumeWindow {
		return nil, nil
	}
	return s, nil
}

// SaveAs writes s to saved/<name>.json. The sanitized name is returned.
func (f *FileStore) SaveAs(s *Session, name string, overwrite bool) (string, error) {
	safe, err := SanitizeName(name)
	if err != nil {
		return "", err
	}
	path := f.savedPath(safe)
	if !overwrite && fileExists(path) {
		return safe, ErrExists
	}

	cp := *s
	cp.Metadata.Status = StatusSaved
	cp.Metadata.SavedName = safe
	if err := writeJSON(path, &cp); err != nil {
		return safe, err
	}
	s.Metadata.SavedName = safe
	logging.LogEvent(logging.EventSessionSave, logging.SessionID(s.ID), logging.F("name", safe))
	return safe, nil
}

// Exists reports whether a saved conversation called name exists.
func (f *FileStore) Exists(name string) bool {
	safe, err := SanitizeName(name)
	if err != nil {
		return false
	}
	return fileExists(f.savedPath(safe))
}

// Load reads saved/<name>.json and marks it loaded.
func (f *FileStore) Load(name string) (*Session, error) {
	safe, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}
	s, err := readJSON(f.savedPath(safe), name)
	if err != nil {
		return nil, err
	}
	s.Metadata.Status = StatusLoaded
	s.Updated = f.now()
	logging.LogEvent(logging.EventSessionLoad, logging.SessionID(s.ID), logging.F("name", safe))
	return s, nil
}

// ListSaved lists saved conversations, newest first.
func (f *FileStore) ListSaved() ([]Info, error) {
	return f.list(filepath.Join(f.opts.Dir, savedDir), 0)
}

// ListRecent lists up to n recent sessions (all when n <= 0), newest first.
func (f *FileStore) ListRecent(n int) ([]Info, error) {
	return f.list(filepath.Join(f.opts.Dir, recentDir), n)
}

func (f *FileStore) list(dir string, n int) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		fi, err := e.Info()
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		s, err := readJSON(path, name)
		if err != nil {
			// corrupt files are listed so they can be deleted
			infos = append(infos, Info{Name: name, Path: path, Summary: "(unreadable)", Updated: fi.ModTime()})
			continue
		}
		infos = append(infos, Info{
			Name:     name,
			Path:     path,
			Summary:  s.Summary,
			Messages: len(s.Messages),
			Updated:  fi.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Updated.After(infos[j].Updated) })
	if n > 0 && len(infos) > n {
		infos = infos[:n]
	}
	return infos, nil
}

// MoveToRecent copies a non-empty s to recent/ and prunes recent/ to MaxRecent.
func (f *FileStore) MoveToRecent(s *Session) error {
	if s == nil || s.Empty() {
		return nil
	}
	cp := *s
	cp.Metadata.Status = StatusRecent
	if err := writeJSON(filepath.Join(f.opts.Dir, recentDir, s.ID+".json"), &cp); err != nil {
		return err
	}
	f.pruneRecent()
	return nil
}

func (f *FileStore) pruneRecent() {
	dir := filepath.Join(f.opts.Dir, recentDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	type file struct {
		path string
		mod  time.Time
	}
	var files []file
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if fi, err := e.Info(); err == nil {
			files = append(files, file{path: filepath.Join(dir, e.Name()), mod: fi.ModTime()})
		}
	}
	if len(files) <= f.opts.MaxRecent {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	for _, old := range files[:len(files)-f.opts.MaxRecent] {
		_ = os.Remove(old.path)
	}
}

// Archive copies s to archive/.
func (f *FileStore) Archive(s *Session) error {
	if s == nil || s.Empty() {
		return nil
	}
	cp := *s
	cp.Metadata.Status = StatusArchived
	if err := writeJSON(filepath.Join(f.opts.Dir, archiveDir, s.ID+".json"), &cp); err != nil {
		return err
	}
	logging.LogEvent(logging.EventSessionArchive, logging.SessionID(s.ID))
	return nil
}

// Delete removes saved/<name>.json.
func (f *FileStore) Delete(name string) error {
	safe, err := SanitizeName(name)
	if err != nil {
		return err
	}
	if err := os.Remove(f.savedPath(safe)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return shellerr.SessionNotFound(name)
		}
		return shellerr.SessionWrite(f.savedPath(safe), err)
	}
	return nil
}

// ClearActive removes active.json.
func (f *FileStore) ClearActive() error {
	if err := os.Remove(f.activePath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return shellerr.SessionWrite(f.activePath(), err)
	}
	return nil
}

// SanitizeName keeps letters, digits, '-', '_' and spaces, trims, and
// turns spaces into underscores.
func SanitizeName(name string) (string, error) {
	var sb strings.Builder
	for _, r := range name {
		if r == '-' || r == '_' || r == ' ' || isAlnum(r) {
			sb.WriteRune(r)
		}
	}
	safe := strings.ReplaceAll(strings.TrimSpace(sb.String()), " ", "_")
	if safe == "" {
		return "", shellerr.InvalidName(name)
	}
	return safe, nil
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// writeJSON writes v atomically: temp file in the same directory, fsync, rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return shellerr.SessionWrite(path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return shellerr.SessionWrite(path, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return shellerr.SessionWrite(path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return shellerr.SessionWrite(path, err)
	}
	if err := tmp.Close(); err != nil {
		return shellerr.SessionWrite(path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return shellerr.SessionWrite(path, err)
	}
	return nil
}

func readJSON(path, name string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, shellerr.SessionNotFound(name)
		}
		return nil, shellerr.SessionParse(name, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, shellerr.SessionParse(name, err)
	}
	if s.Messages == nil {
		s.Messages = []Turn{}
	}
	return &s, nil
}

// NopStore is used in incognito mode: nothing is read or written.
type NopStore struct{}

func (NopStore) Save(*Session) error { return nil }
func (NopStore) AutoSave(*Session) {}
func (NopStore) Touch(*Session) {}
func (NopStore) Interactions() int { return 0 }
func (NopStore) Resume() (*Session, error) { return nil, nil }
func (NopStore) SaveAs(*Session, string, bool) (string, error) { return "", errIncognito }
func (NopStore) Exists(string) bool { return false }
func (NopStore) Load(name string) (*Session, error) { return nil, shellerr.SessionNotFound(name) }
func (NopStore) ListSaved() ([]Info, error) { return nil, nil }
func (NopStore) ListRecent(int) ([]Info, error) { return nil, nil }
func (NopStore) MoveToRecent(*Session) error { return nil }
func (NopStore) Archive(*Session) error { return nil }
func (NopStore) Delete(name string) error { return shellerr.SessionNotFound(name) }
func (NopStore) ClearActive() error { return nil }
func (NopStore) Reset() {}

var errIncognito = errors.New("conversations are not saved in incognito mode")

var (
	_ Store = (*FileStore)(nil)
	_ Store = NopStore{}
)

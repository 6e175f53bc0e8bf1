package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// traceRecord is one line of session_<stamp>.jsonl.
type traceRecord struct {
	Time      string         `json:"ts"`
	Event     string         `json:"event"`
	Session   string         `json:"session"`
	RequestID string         `json:"request_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// payloadRecord is one line of llm_<stamp>.jsonl.
type payloadRecord struct {
	Time      string         `json:"ts"`
	Kind      string         `json:"type"`
	Session   string         `json:"session"`
	RequestID string         `json:"request_id"`
	Data      map[string]any `json:"data"`
}

// jsonl appends JSON values to a file, one per line.
type jsonl struct {
	path string
	f    *os.File
}

func openJSONL(path string) (*jsonl, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &jsonl{path: path, f: f}, nil
}

func (j *jsonl) put(v any) {
	if j == nil || j.f == nil {
		return
	}
	if line, err := json.Marshal(v); err == nil {
		_, _ = j.f.Write(append(line, '\n'))
	}
}

func (j *jsonl) close() error {
	if j == nil || j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// Tracer keeps the debug trace. A disabled or nil Tracer ignores every call.
type Tracer struct {
	mu       sync.Mutex
	session  string
	request  string
	events   *jsonl
	payloads *jsonl
}

// NewTracer opens the trace files in dir when enabled. Model payloads
// get their own file when payloads is also set.
func NewTracer(dir string, enabled, payloads bool) (*Tracer, error) {
	t := &Tracer{}
	if !enabled {
		return t, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create debug directory: %w", err)
	}

	stamp := time.Now().Format("2006-01-02_15-04-05")
	events, err := openJSONL(filepath.Join(dir, "session_"+stamp+".jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	t.events = events
	t.session = newID("sess_")

	if payloads {
		if t.payloads, err = openJSONL(filepath.Join(dir, "llm_"+stamp+".jsonl")); err != nil {
			_ = events.close()
			return nil, fmt.Errorf("open payload trace: %w", err)
		}
	}

	latest := filepath.Join(dir, "latest.jsonl")
	_ = os.Remove(latest)
	_ = os.Symlink(events.path, latest)

	t.Record(EventSessionStart, map[string]any{
		"session_id": t.session,
		"debug_dir":  dir,
		"llm_trace":  payloads,
	})
	return t, nil
}

// Enabled reports whether records are written.
func (t *Tracer) Enabled() bool {
	return t != nil && t.events != nil
}

// Session returns the trace's session id; empty when disabled.
func (t *Tracer) Session() string {
	if t == nil {
		return ""
	}
	return t.session
}

// Path returns the event file, empty when disabled.
func (t *Tracer) Path() string {
	if !t.Enabled() {
		return ""
	}
	return t.events.path
}

// BeginRequest sets a fresh request id for subsequent records.
func (t *Tracer) BeginRequest() string {
	id := newID("req_")
	if t != nil {
		t.mu.Lock()
		t.request = id
		t.mu.Unlock()
	}
	return id
}

// Record appends one event.
func (t *Tracer) Record(event string, data map[string]any) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events.put(traceRecord{
		Time:      now(),
		Event:     event,
		Session:   t.session,
		RequestID: t.request,
		Data:      data,
	})
}

// Payload appends a raw model request or response.
func (t *Tracer) Payload(kind, requestID string, data map[string]any) {
	if t == nil || t.payloads == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.payloads.put(payloadRecord{
		Time:      now(),
		Kind:      kind,
		Session:   t.session,
		RequestID: requestID,
		Data:      data,
	})
}

// Close ends the trace.
func (t *Tracer) Close() error {
	if !t.Enabled() {
		return nil
	}
	t.Record(EventSessionEnd, map[string]any{"session_id": t.session})

	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.events.close()
	if perr := t.payloads.close(); err == nil {
		err = perr
	}
	return err
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func newID(prefix string) string {
	return prefix + uuid.NewString()[:18]
}

package logging

import (
	"sync"
	"time"
)

// CommandMetrics tracks shell command outcomes.
type CommandMetrics struct {
	Executed     int           `json:"executed"`
	Failed       int           `json:"failed"`
	Declined     int           `json:"declined"`
	AutoApproved int           `json:"auto_approved"`
	TotalTime    time.Duration `json:"total_time_ms"`
}

// LLMMetrics tracks metrics for LLM operations.
type LLMMetrics struct {
	Requests     int `json:"requests"`
	Errors       int `json:"errors"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TaskChecks   int `json:"task_checks"`
}

// Metrics collects runtime counters for one shell session.
type Metrics struct {
	mu sync.Mutex

	SessionStart time.Time `json:"session_start"`

	Requests       int            `json:"requests"`
	Commands       CommandMetrics `json:"commands"`
	LLM            LLMMetrics     `json:"llm"`
	Searches       int            `json:"searches"`
	SearchFailures int            `json:"search_failures"`
	ContextOps     int            `json:"context_ops"`
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{SessionStart: time.Now()}
}

// RecordRequest counts a natural-language request sent to the model.
func (m *Metrics) RecordRequest() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests++
}

// RecordCommand records an executed command.
func (m *Metrics) RecordCommand(duration time.Duration, exitCode int, autoApproved bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commands.Executed++
	m.Commands.TotalTime += duration
	if exitCode != 0 {
		m.Commands.Failed++
	}
	if autoApproved {
		m.Commands.AutoApproved++
	}
}

// RecordDeclined records a command the user refused.
func (m *Metrics) RecordDeclined() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commands.Declined++
}

// RecordLLMRequest records an LLM request.
func (m *Metrics) RecordLLMRequest(inputTokens, outputTokens int, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LLM.Requests++
	m.LLM.InputTokens += inputTokens
	m.LLM.OutputTokens += outputTokens
	if err != nil {
		m.LLM.Errors++
	}
}

// RecordTaskCheck records a task checker call.
func (m *Metrics) RecordTaskCheck() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LLM.TaskChecks++
}

// RecordSearch records a web search and whether it failed.
func (m *Metrics) RecordSearch(failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Searches++
	if failed {
		m.SearchFailures++
	}
}

// RecordContextOp records a prune, distill, untruncate or compact.
func (m *Metrics) RecordContextOp() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ContextOps++
}

// MetricsSummary is a point-in-time copy of Metrics.
type MetricsSummary struct {
	SessionDuration time.Duration
	Requests        int
	Commands        CommandMetrics
	LLM             LLMMetrics
	Searches        int
	SearchFailures  int
	ContextOps      int
}

// Summary returns a copy of the counters.
func (m *Metrics) Summary() MetricsSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSummary{
		SessionDuration: time.Since(m.SessionStart),
		Requests:        m.Requests,
		Commands:        m.Commands,
		LLM:             m.LLM,
		Searches:        m.Searches,
		SearchFailures:  m.SearchFailures,
		ContextOps:      m.ContextOps,
	}
}

// GetSnapshot returns the counters as a flat map for the trace file.
func (m *Metrics) GetSnapshot() map[string]any {
	s := m.Summary()
	return map[string]any{
		"session_duration_ms": s.SessionDuration.Milliseconds(),
		"requests":            s.Requests,
		"commands_executed":   s.Commands.Executed,
		"commands_failed":     s.Commands.Failed,
		"commands_declined":   s.Commands.Declined,
		"commands_auto":       s.Commands.AutoApproved,
		"command_time_ms":     s.Commands.TotalTime.Milliseconds(),
		"llm_requests":        s.LLM.Requests,
		"llm_errors":          s.LLM.Errors,
		"llm_input_tokens":    s.LLM.InputTokens,
		"llm_output_tokens":   s.LLM.OutputTokens,
		"task_checks":         s.LLM.TaskChecks,
		"searches":            s.Searches,
		"search_failures":     s.SearchFailures,
		"context_ops":         s.ContextOps,
	}
}

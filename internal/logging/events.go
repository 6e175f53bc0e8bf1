package logging

// Event types for structured logging.
// These constants define the event names used in JSONL traces.
const (
	// Session events
	EventSessionStart   = "session.start"
	EventSessionEnd     = "session.end"
	EventSessionLoad    = "session.load"
	EventSessionResume  = "session.resume"
	EventSessionSave    = "session.save"
	EventSessionArchive = "session.archive"
	EventSessionClear   = "session.clear"

	// Orchestrator events
	EventModeChange     = "agent.mode.change"
	EventModelSwitch    = "agent.model.switch"
	EventRequestStart   = "agent.request.start"
	EventRequestDone    = "agent.request.done"
	EventRequestAborted = "agent.request.aborted"
	EventRetryLimit     = "agent.retry.limit"
	EventViolation      = "agent.violation"

	// Context events
	EventContextPrune      = "context.prune"
	EventContextDistill    = "context.distill"
	EventContextUntruncate = "context.untruncate"
	EventContextCompact    = "context.compact"

	// LLM events
	EventLLMRequest     = "llm.request"
	EventLLMResponse    = "llm.response"
	EventLLMError       = "llm.error"
	EventLLMStreamStart = "llm.stream.start"
	EventLLMStreamEnd   = "llm.stream.end"
	EventTaskCheck      = "llm.task_check"

	// Command events
	EventCommandProposed = "command.proposed"
	EventCommandApproved = "command.approved"
	EventCommandDeclined = "command.declined"
	EventCommandExec     = "command.exec"

	// Search events
	EventSearchQuery  = "search.query"
	EventSearchFailed = "search.failed"

	// Config events
	EventConfigReload = "config.reload"

	// Error events
	EventError = "error"
)

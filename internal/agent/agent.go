// Package agent runs the chat loop: it dispatches user input, talks to the
// model and executes the commands the model proposes.
package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/aishell/internal/config"
	ctxmgr "github.com/abdul-hamid-achik/aishell/internal/context"
	"github.com/abdul-hamid-achik/aishell/internal/conversation"
	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
	"github.com/abdul-hamid-achik/aishell/internal/history"
	"github.com/abdul-hamid-achik/aishell/internal/llm"
	"github.com/abdul-hamid-achik/aishell/internal/logging"
	"github.com/abdul-hamid-achik/aishell/internal/models"
	"github.com/abdul-hamid-achik/aishell/internal/permissions"
	"github.com/abdul-hamid-achik/aishell/internal/search"
	"github.com/abdul-hamid-achik/aishell/internal/shell"
	"github.com/abdul-hamid-achik/aishell/internal/ui"
)

// Outcome reports what HandleInput did with a line.
type Outcome int

const (
	OutcomeContinue Outcome = iota
	OutcomeExit
	OutcomeCommandRun
	OutcomeModelReply
	OutcomeAborted
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeExit:
		return "exit"
	case OutcomeCommandRun:
		return "command"
	case OutcomeModelReply:
		return "reply"
	case OutcomeAborted:
		return "aborted"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// State is the position of the request loop.
type State int

const (
	StateIdle State = iota
	StateAwaitingModelResponse
	StateClassifyingResponse
	StateAwaitingConfirmation
	StateExecuting
	StateCheckingTaskStatus
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModelResponse:
		return "awaiting model response"
	case StateClassifyingResponse:
		return "classifying response"
	case StateAwaitingConfirmation:
		return "awaiting confirmation"
	case StateExecuting:
		return "executing"
	case StateCheckingTaskStatus:
		return "checking task status"
	default:
		return "unknown"
	}
}

// Mode selects what plain input means.
type Mode int

const (
	ModeAI Mode = iota
	ModeDirect
)

// maxViolations is the number of multi-action replies after which the
// conversation is reset.
const maxViolations = 3

// exitWords end the shell.
var exitWords = map[string]bool{"exit": true, "quit": true, ":q": true, ";q": true, "/exit": true, "/q": true}

// Input reads answers from the user.
type Input interface {
	ReadLine(prompt string) (string, error)
	Confirm(prompt string, defaultYes bool) (bool, error)
}

// ClientFactory returns the client that talks to m.
type ClientFactory func(m models.ModelConfig) llm.LLMClient

// Config holds agent dependencies. Nil optional fields get working defaults.
type Config struct {
	Config     *config.Config
	Registry   *models.Registry
	Store      conversation.Store // nil: nothing is persisted
	Executor   shell.Runner
	Searcher   search.Searcher // nil: web search off
	History    history.Recorder
	Policy     *permissions.Policy
	Output     *ui.OutputHandler
	Input      Input
	NewClient  ClientFactory
	Guidelines func() string         // current context.md text
	Session    *conversation.Session // resumed session; nil starts fresh
	Direct     bool
}

// Agent is the chat orchestrator. All mutable state lives here.
type Agent struct {
	cfg        *config.Config
	registry   *models.Registry
	store      conversation.Store
	history    history.Recorder
	exec       shell.Runner
	searcher   search.Searcher
	policy     *permissions.Policy
	out        *ui.OutputHandler
	in         Input
	spinner    *ui.Spinner
	newClient  ClientFactory
	clients    map[string]llm.LLMClient
	guidelines func() string
	ctx        *ctxmgr.Manager

	// persistent store and history, parked while incognito
	savedStore   conversation.Store
	savedHistory history.Recorder

	session *conversation.Session
	mode    Mode
	state   State

	request    string // current model request
	pending    bool   // request not yet reported complete
	retries    int
	violations int
	warned     bool // context-size warning shown for this request
}

// New creates an agent.
func New(c Config) *Agent {
	a := &Agent{
		cfg:        c.Config,
		registry:   c.Registry,
		store:      c.Store,
		history:    c.History,
		exec:       c.Executor,
		searcher:   c.Searcher,
		policy:     c.Policy,
		out:        c.Output,
		in:         c.Input,
		newClient:  c.NewClient,
		guidelines: c.Guidelines,
		clients:    make(map[string]llm.LLMClient),
		ctx:        ctxmgr.NewManager(ctxmgr.Config{}),
	}
	if a.store == nil {
		a.store = conversation.NopStore{}
	}
	if a.history == nil {
		a.history = history.Nop{}
	}
	if a.out == nil {
		a.out = ui.NewOutputHandler()
	}
	a.spinner = ui.NewSpinner(a.out)
	if a.newClient == nil {
		a.newClient = DefaultClientFactory(a.cfg, a.registry, a.spinner)
	}
	if a.guidelines == nil {
		a.guidelines = func() string { return "" }
	}
	if a.policy == nil {
		a.policy = permissions.NewPolicy(
			permissions.ModeFromSettings(a.cfg.Settings.ConfirmCommands, a.cfg.Settings.StrictMode),
			shell.NewSafeList(a.cfg.Settings.SafeCommands...),
			a.in, a.out)
	}

	if c.Direct || a.cfg.Settings.DefaultMode == config.ModeDirect {
		a.mode = ModeDirect
	}
	if c.Session != nil {
		a.session = c.Session
		a.ctx.RestoreIDs(a.session.Messages)
		a.request = a.session.Metadata.OriginalRequest
	} else {
		a.session = conversation.NewSession(a.registry.CurrentAlias(), a.exec.Cwd())
	}
	return a
}

// DefaultClientFactory builds the configured client chain for a model:
// provider client, optional token-bucket limiter, then retries with a
// circuit breaker. Waits are shown as a countdown.
func DefaultClientFactory(cfg *config.Config, reg *models.Registry, spinner *ui.Spinner) ClientFactory {
	wait := func(ctx context.Context, info llm.WaitInfo) error {
		return spinner.Start(ctx, ui.SpinnerConfig{
			Message:     "Waiting",
			Reason:      info.Reason,
			Duration:    info.Duration,
			Attempt:     info.Attempt,
			MaxAttempts: info.MaxAttempts,
		})
	}
	return func(m models.ModelConfig) llm.LLMClient {
		c := llm.New(reg.Endpoint(m), m.Name)
		if cfg.RateLimit.EnableRateLimiting {
			rl := llm.NewRateLimitedClient(c, cfg.RateLimit.TokensPerMinute)
			rl.SetWaitCallback(wait)
			c = rl
		}
		rc := llm.NewResilientClient(c, cfg.RateLimit)
		rc.SetWaitCallback(wait)
		return rc
	}
}

// client returns the cached client for m.
func (a *Agent) client(m models.ModelConfig) llm.LLMClient {
	key := m.Alias + "\x00" + m.Name
	if c, ok := a.clients[key]; ok {
		return c
	}
	c := a.newClient(m)
	a.clients[key] = c
	return c
}

// State returns the loop state.
func (a *Agent) State() State { return a.state }

// Mode returns the input mode.
func (a *Agent) Mode() Mode { return a.mode }

// ModeName is the mode shown in the prompt: "ai", "direct" or "incognito".
func (a *Agent) ModeName() string {
	switch {
	case a.mode == ModeDirect:
		return "direct"
	case a.registry.Incognito():
		return "incognito"
	default:
		return "ai"
	}
}

// Session returns the current session.
func (a *Agent) Session() *conversation.Session { return a.session }

// Cwd returns the tracked working directory.
func (a *Agent) Cwd() string { return a.exec.Cwd() }

// ModelLabel is the display name of the current model.
func (a *Agent) ModelLabel() string { return a.registry.Current().Label() }

// SaveActive writes the session to active.json.
func (a *Agent) SaveActive() {
	if !a.session.Empty() {
		a.store.AutoSave(a.session)
	}
}

// HandleInput processes one line of user input. Errors returned with
// OutcomeError or OutcomeAborted have already been shown to the user.
func (a *Agent) HandleInput(ctx context.Context, line string) (Outcome, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return OutcomeContinue, nil
	}
	if exitWords[strings.ToLower(line)] {
		return a.exit(), nil
	}
	if strings.HasPrefix(line, "/") {
		return a.command(ctx, line)
	}
	if strings.HasPrefix(line, "!") {
		cmd := strings.TrimSpace(line[1:])
		if cmd == "" {
			return OutcomeContinue, nil
		}
		a.out.DirectCommand(cmd)
		return a.runDirect(ctx, line, cmd)
	}
	if a.mode == ModeDirect {
		return a.runDirect(ctx, line, line)
	}
	return a.runRequest(ctx, line)
}

// runDirect executes a command the user typed, without confirmation.
func (a *Agent) runDirect(ctx context.Context, line, cmd string) (Outcome, error) {
	a.state = StateExecuting
	defer func() { a.state = StateIdle }()

	res, err := a.exec.Run(ctx, cmd)
	if err != nil {
		if shellerr.IsCategory(err, shellerr.CategoryAbort) {
			a.out.Dim("Interrupted")
			return OutcomeAborted, err
		}
		a.out.Error(err)
		return OutcomeError, err
	}
	a.out.CommandStatus(res.ExitCode, res.Duration)

	a.appendTurn(conversation.Turn{
		Role:    conversation.RoleUser,
		Content: line,
		Direct:  true,
		Command: commandRecord(res),
	})
	a.session.Metadata.Directory = res.Directory
	a.record(ctx, res, history.ApprovedByDirect)
	logging.GlobalMetrics().RecordCommand(res.Duration, res.ExitCode, false)
	return OutcomeCommandRun, nil
}

// appendTurn adds t to the session and counts it for auto-save.
func (a *Agent) appendTurn(t conversation.Turn) {
	a.session.Append(t)
	a.store.Touch(a.session)
}

// addSystem appends a SYSTEM MESSAGE turn that the context protocol can
// manage. An empty label is derived from the content.
func (a *Agent) addSystem(content, label string) *conversation.Turn {
	t := conversation.Turn{Role: conversation.RoleUser, Content: content}
	a.ctx.Assign(&t, label)
	a.appendTurn(t)
	return &a.session.Messages[len(a.session.Messages)-1]
}

func (a *Agent) record(ctx context.Context, res shell.Result, approvedBy string) {
	err := a.history.Record(ctx, history.Entry{
		SessionID:  a.session.ID,
		Command:    res.Command,
		Directory:  res.Directory,
		ExitCode:   res.ExitCode,
		ApprovedBy: approvedBy,
		Duration:   res.Duration,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		logging.Warn("failed to record command history", logging.Command(res.Command), logging.Error(err))
	}
}

func commandRecord(res shell.Result) *conversation.CommandRecord {
	return &conversation.CommandRecord{
		Command:   res.Command,
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		ExitCode:  res.ExitCode,
		Directory: res.Directory,
	}
}

// approvedBy maps a permission source onto the history column.
func approvedBy(src permissions.Source) string {
	switch src {
	case permissions.SourceSafe:
		return history.ApprovedBySafe
	case permissions.SourceUser:
		return history.ApprovedByUser
	default:
		return history.ApprovedByAuto
	}
}

// exit moves the session to recent and removes active.json.
func (a *Agent) exit() Outcome {
	if err := a.store.MoveToRecent(a.session); err != nil {
		a.out.Error(err)
	}
	if err := a.store.ClearActive(); err != nil {
		logging.Warn("failed to clear active session", logging.Error(err))
	}
	logging.LogEvent(logging.EventSessionEnd,
		logging.SessionID(a.session.ID),
		logging.MessageCount(len(a.session.Messages)))
	return OutcomeExit
}

// resetConversation starts a fresh session, keeping the old one in recent.
func (a *Agent) resetConversation() {
	if err := a.store.MoveToRecent(a.session); err != nil {
		a.out.Error(err)
	}
	if err := a.store.ClearActive(); err != nil {
		logging.Warn("failed to clear active session", logging.Error(err))
	}
	a.startFresh()
	logging.LogEvent(logging.EventSessionClear, logging.SessionID(a.session.ID))
}

// startFresh replaces the session without touching the store's files.
func (a *Agent) startFresh() {
	a.session = conversation.NewSession(a.registry.CurrentAlias(), a.exec.Cwd())
	a.ctx.Reset()
	a.store.Reset()
	a.policy.ResetRequest()
	a.request, a.pending = "", false
	a.retries, a.violations = 0, 0
}

// isAbort reports an interrupted blocking call.
func isAbort(err error) bool {
	return shellerr.IsCategory(err, shellerr.CategoryAbort) ||
		errors.Is(err, context.Canceled) || ui.IsInterrupt(err)
}

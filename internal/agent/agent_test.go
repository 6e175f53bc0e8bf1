package agent

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/aishell/internal/config"
	"github.com/abdul-hamid-achik/aishell/internal/conversation"
	"github.com/abdul-hamid-achik/aishell/internal/history"
	"github.com/abdul-hamid-achik/aishell/internal/llm"
	"github.com/abdul-hamid-achik/aishell/internal/logging"
	"github.com/abdul-hamid-achik/aishell/internal/models"
	"github.com/abdul-hamid-achik/aishell/internal/search"
	"github.com/abdul-hamid-achik/aishell/internal/shell"
	"github.com/abdul-hamid-achik/aishell/internal/ui"
)

// scriptedInput answers prompts from fixed queues.
type scriptedInput struct {
	lines    []string
	confirms []bool
}

func (s *scriptedInput) ReadLine(prompt string) (string, error) {
	if len(s.lines) == 0 {
		return "", errors.New("no scripted input for " + prompt)
	}
	l := s.lines[0]
	s.lines = s.lines[1:]
	return l, nil
}

func (s *scriptedInput) Confirm(prompt string, defaultYes bool) (bool, error) {
	if len(s.confirms) == 0 {
		return defaultYes, nil
	}
	c := s.confirms[0]
	s.confirms = s.confirms[1:]
	return c, nil
}

// fakeRunner records commands instead of running them.
type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	exitCode int
	stdout   string
	cwd      string
}

func (r *fakeRunner) Run(ctx context.Context, command string) (shell.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
	stdout := r.stdout
	if stdout == "" {
		stdout = "a.txt\nb.txt\n"
	}
	return shell.Result{
		Command:   command,
		Stdout:    stdout,
		ExitCode:  r.exitCode,
		Directory: r.cwd,
		Duration:  5 * time.Millisecond,
	}, nil
}

func (r *fakeRunner) Cwd() string { return r.cwd }

func (r *fakeRunner) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

type failingSearcher struct{}

func (failingSearcher) Search(ctx context.Context, query string, opts search.Options) (*search.Response, error) {
	return nil, errors.New("tavily: 503")
}

// recordingHistory keeps entries in memory.
type recordingHistory struct {
	entries []history.Entry
}

func (h *recordingHistory) Record(ctx context.Context, e history.Entry) error {
	h.entries = append(h.entries, e)
	return nil
}

func (h *recordingHistory) Recent(ctx context.Context, n int) ([]history.Entry, error) {
	return h.entries, nil
}

func (h *recordingHistory) Close() error { return nil }

type testEnv struct {
	agent   *Agent
	mock    *llm.MockLLMClient
	runner  *fakeRunner
	input   *scriptedInput
	history *recordingHistory
	store   *conversation.FileStore
	dir     string
	out     *bytes.Buffer
}

func (e *testEnv) output() string { return e.out.String() }

func newTestEnv(t *testing.T, replies ...string) *testEnv {
	t.Helper()
	return newTestEnvWith(t, func(*config.Config) {}, nil, replies...)
}

func newTestEnvWith(t *testing.T, tweak func(*config.Config), searcher search.Searcher, replies ...string) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Settings.RenderMarkdown = false
	cfg.Settings.MaxRetries = 5
	tweak(cfg)

	dir := t.TempDir()
	store, err := conversation.NewFileStore(conversation.Options{Dir: dir, AutoSaveInterval: 5})
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	var out bytes.Buffer
	env := &testEnv{
		mock:    llm.NewMockLLMClient(replies...),
		runner:  &fakeRunner{cwd: "/tmp/project"},
		input:   &scriptedInput{},
		history: &recordingHistory{},
		store:   store,
		dir:     dir,
		out:     &out,
	}
	env.mock.ChatFunc = func(ctx context.Context, messages []llm.Message, systemPrompt string) (*llm.Response, error) {
		return &llm.Response{Content: `{"completed": false, "reason": "more to do"}`}, nil
	}

	env.agent = New(Config{
		Config:    cfg,
		Registry:  models.NewRegistry(cfg),
		Store:     store,
		Executor:  env.runner,
		Searcher:  searcher,
		History:   env.history,
		Output:    ui.NewOutputHandlerTo(&out, &out, false),
		Input:     env.input,
		NewClient: func(models.ModelConfig) llm.LLMClient { return env.mock },
	})
	return env
}

func findTurn(s *conversation.Session, substr string) *conversation.Turn {
	for i := range s.Messages {
		if strings.Contains(s.Messages[i].Content, substr) {
			return &s.Messages[i]
		}
	}
	return nil
}

func TestNew_Defaults(t *testing.T) {
	env := newTestEnv(t)
	a := env.agent
	if a.State() != StateIdle {
		t.Errorf("State = %v, want idle", a.State())
	}
	if a.Mode() != ModeAI || a.ModeName() != "ai" {
		t.Errorf("unexpected mode %v / %q", a.Mode(), a.ModeName())
	}
	if !a.Session().Empty() {
		t.Error("new agent should start with an empty session")
	}
	if a.Session().Metadata.Directory != "/tmp/project" {
		t.Errorf("Directory = %q", a.Session().Metadata.Directory)
	}
}

func TestHandleInput_Ignored(t *testing.T) {
	env := newTestEnv(t)
	outcome, err := env.agent.HandleInput(context.Background(), "   ")
	if err != nil || outcome != OutcomeContinue {
		t.Fatalf("got %v, %v", outcome, err)
	}
	if len(env.mock.ChatStreamCalls) != 0 {
		t.Error("blank input must not reach the model")
	}
}

func TestHandleInput_Exit(t *testing.T) {
	for _, word := range []string{"exit", "quit", ":q", "/q", "EXIT"} {
		env := newTestEnv(t)
		outcome, err := env.agent.HandleInput(context.Background(), word)
		if err != nil || outcome != OutcomeExit {
			t.Errorf("%q: got %v, %v", word, outcome, err)
		}
	}
}

func TestHandleInput_BangCommand(t *testing.T) {
	env := newTestEnv(t)
	outcome, err := env.agent.HandleInput(context.Background(), "!ls")
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if outcome != OutcomeCommandRun {
		t.Errorf("outcome = %v, want command", outcome)
	}
	if got := env.runner.ran(); len(got) != 1 || got[0] != "ls" {
		t.Fatalf("ran %v, want [ls]", got)
	}

	s := env.agent.Session()
	if len(s.Messages) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(s.Messages))
	}
	turn := s.Messages[0]
	if turn.Content != "!ls" || !turn.Direct || turn.Command == nil || turn.Command.ExitCode != 0 {
		t.Errorf("unexpected turn %+v", turn)
	}
	if len(env.history.entries) != 1 || env.history.entries[0].ApprovedBy != history.ApprovedByDirect {
		t.Errorf("unexpected history %+v", env.history.entries)
	}
	if len(env.mock.ChatStreamCalls) != 0 {
		t.Error("direct commands must not call the model")
	}
}

func TestHandleInput_DirectMode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.agent.HandleInput(ctx, "/dr"); err != nil {
		t.Fatal(err)
	}
	if env.agent.ModeName() != "direct" {
		t.Fatalf("mode = %q", env.agent.ModeName())
	}
	outcome, err := env.agent.HandleInput(ctx, "git status")
	if err != nil || outcome != OutcomeCommandRun {
		t.Fatalf("got %v, %v", outcome, err)
	}
	if got := env.runner.ran(); len(got) != 1 || got[0] != "git status" {
		t.Errorf("ran %v", got)
	}

	if _, err := env.agent.HandleInput(ctx, "/ai"); err != nil {
		t.Fatal(err)
	}
	if env.agent.Mode() != ModeAI {
		t.Error("expected AI mode after /ai")
	}
}

func TestRequest_DeclinedCommand(t *testing.T) {
	env := newTestEnv(t,
		"I'll clear the cache.\n```command\nrm -rf /tmp/cache\n```",
		"Fine. Should I look for large files instead? [question]",
	)
	env.input.lines = []string{"n", "not now"}

	outcome, err := env.agent.HandleInput(context.Background(), "free some disk space")
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if outcome != OutcomeModelReply {
		t.Errorf("outcome = %v", outcome)
	}
	if got := env.runner.ran(); len(got) != 0 {
		t.Fatalf("declined command ran: %v", got)
	}

	s := env.agent.Session()
	decline := findTurn(s, "User declined to run the command: rm -rf /tmp/cache")
	if decline == nil {
		t.Fatal("missing decline message")
	}
	if !strings.Contains(decline.Content, "Reason: not now") {
		t.Errorf("decline message lacks reason: %q", decline.Content)
	}
	if decline.ID == 0 || decline.Label == "" {
		t.Error("decline message should carry a context id and label")
	}
	for _, turn := range s.Messages {
		if turn.Command != nil {
			t.Errorf("unexpected command turn %+v", turn)
		}
	}
	if len(env.mock.ChatStreamCalls) != 2 {
		t.Errorf("expected 2 model calls, got %d", len(env.mock.ChatStreamCalls))
	}
}

func TestRequest_CommandCompleted(t *testing.T) {
	env := newTestEnv(t,
		"Listing files.\n```command\nls\n```",
		"There are two files: a.txt and b.txt.",
	)
	env.mock.ChatFunc = func(ctx context.Context, messages []llm.Message, systemPrompt string) (*llm.Response, error) {
		return &llm.Response{Content: `{"completed": true, "reason": "files listed"}`}, nil
	}

	outcome, err := env.agent.HandleInput(context.Background(), "list files")
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if outcome != OutcomeModelReply {
		t.Errorf("outcome = %v", outcome)
	}
	if got := env.runner.ran(); len(got) != 1 || got[0] != "ls" {
		t.Fatalf("ran %v, want [ls]", got)
	}
	if len(env.mock.ChatCalls) != 1 {
		t.Errorf("expected one task check, got %d", len(env.mock.ChatCalls))
	}

	s := env.agent.Session()
	done := findTurn(s, "Task completed successfully. Command executed: ls")
	if done == nil {
		t.Fatal("missing completion message")
	}
	if done.Command == nil || done.Command.Command != "ls" {
		t.Errorf("completion turn lacks command record: %+v", done)
	}
	if s.Metadata.OriginalRequest != "" {
		t.Errorf("OriginalRequest = %q, want cleared", s.Metadata.OriginalRequest)
	}
	if len(env.history.entries) != 1 || env.history.entries[0].ApprovedBy != history.ApprovedBySafe {
		t.Errorf("unexpected history %+v", env.history.entries)
	}
}

func TestRequest_CommandNotComplete(t *testing.T) {
	env := newTestEnv(t,
		"```command\nls\n```",
		"Done listing. [complete]",
	)

	if _, err := env.agent.HandleInput(context.Background(), "list then count"); err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	s := env.agent.Session()
	if findTurn(s, "Command executed: ls\nOutput:") == nil {
		t.Error("missing progress message")
	}
	if env.agent.pending {
		t.Error("[complete] should end the pending request")
	}
}

func TestRequest_FailedSearchStillReplies(t *testing.T) {
	env := newTestEnvWith(t, func(*config.Config) {}, failingSearcher{},
		"```websearch\nlatest go release\n```",
		"I could not search, but Go 1.25 is the latest I know of. [complete]",
	)

	outcome, err := env.agent.HandleInput(context.Background(), "what is the latest go?")
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if outcome != OutcomeModelReply {
		t.Errorf("outcome = %v", outcome)
	}
	s := env.agent.Session()
	if findTurn(s, "Web search failed for query: latest go release") == nil {
		t.Error("missing search failure message")
	}
	last := s.Messages[len(s.Messages)-1]
	if last.Role != conversation.RoleAssistant || !strings.Contains(last.Content, "Go 1.25") {
		t.Errorf("last turn = %+v", last)
	}
	if !strings.Contains(env.output(), "Web search failed") {
		t.Error("user was not told the search failed")
	}
}

func TestRequest_AutoAugmentFailureStillReplies(t *testing.T) {
	env := newTestEnvWith(t, func(c *config.Config) { c.WebSearch.AutoAugment = true }, failingSearcher{},
		"Go 1.25 is the latest release I know of. [complete]",
	)

	outcome, err := env.agent.HandleInput(context.Background(), "what is the latest go?")
	if err != nil || outcome != OutcomeModelReply {
		t.Fatalf("got %v, %v", outcome, err)
	}
	s := env.agent.Session()
	if s.Messages[0].Content != "what is the latest go?" {
		t.Errorf("user turn should carry no search block, got %q", s.Messages[0].Content)
	}
	last := s.Messages[len(s.Messages)-1]
	if last.Role != conversation.RoleAssistant || !strings.Contains(last.Content, "Go 1.25") {
		t.Errorf("last turn = %+v", last)
	}
}

func TestRequest_AutoAugmentAppendsSnippets(t *testing.T) {
	tmp := t.TempDir()
	if _, err := logging.Init(logging.Config{
		Level:        logging.LevelInfo,
		ConsoleLevel: logging.LevelError,
		LogDir:       filepath.Join(tmp, "logs"),
		DebugDir:     tmp,
	}); err != nil {
		t.Fatalf("logging.Init: %v", err)
	}
	defer func() { _ = logging.Close() }()

	searcher := search.NewModelSearcher(llm.NewMockLLMClient("Go 1.25 was released in August 2025."), "", 0)
	env := newTestEnvWith(t, func(c *config.Config) { c.WebSearch.AutoAugment = true }, searcher,
		"Go 1.25 is the latest. [complete]",
	)

	if _, err := env.agent.HandleInput(context.Background(), "what is the latest go?"); err != nil {
		t.Fatal(err)
	}
	user := env.agent.Session().Messages[0]
	if !strings.HasPrefix(user.Content, "what is the latest go?\n\nWeb search results:\n") ||
		!strings.Contains(user.Content, "Go 1.25 was released in August 2025.") {
		t.Errorf("user turn missing search context: %q", user.Content)
	}
	calls := env.mock.ChatStreamCalls
	if len(calls) == 0 || !strings.Contains(calls[0].Messages[len(calls[0].Messages)-1].Content, "August 2025") {
		t.Error("search context was not sent to the model")
	}
	if got := logging.GlobalMetrics().Summary().Searches; got != 1 {
		t.Errorf("Searches = %d, want 1", got)
	}
}

func TestRequest_SearchWithoutSearcher(t *testing.T) {
	env := newTestEnv(t,
		"```websearch\nweather\n```",
		"I cannot search the web here. [question]",
	)
	if _, err := env.agent.HandleInput(context.Background(), "weather?"); err != nil {
		t.Fatal(err)
	}
	if findTurn(env.agent.Session(), "Web search failed for query: weather") == nil {
		t.Error("missing search failure message")
	}
}

func TestRequest_ViolationsResetConversation(t *testing.T) {
	multi := "```command\nls\n```\n```command\npwd\n```"
	env := newTestEnv(t, multi, multi, multi)
	oldID := env.agent.Session().ID

	outcome, err := env.agent.HandleInput(context.Background(), "show me where I am")
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if outcome != OutcomeModelReply {
		t.Errorf("outcome = %v", outcome)
	}
	if got := env.runner.ran(); len(got) != 0 {
		t.Errorf("multi-action replies must not run commands: %v", got)
	}
	if env.agent.Session().ID == oldID || !env.agent.Session().Empty() {
		t.Error("expected a fresh conversation after three violations")
	}
	if len(env.mock.ChatStreamCalls) != 3 {
		t.Errorf("expected 3 model calls, got %d", len(env.mock.ChatStreamCalls))
	}
	recent, err := env.store.ListRecent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 {
		t.Errorf("old conversation should be in recent, got %d", len(recent))
	}
}

func TestRequest_ViolationCorrected(t *testing.T) {
	multi := "```command\nls\n```\n```websearch\nls flags\n```"
	env := newTestEnv(t, multi, "Sorry, one at a time. What next? [question]")

	if _, err := env.agent.HandleInput(context.Background(), "look around"); err != nil {
		t.Fatal(err)
	}
	if findTurn(env.agent.Session(), "You provided 2 action blocks") == nil {
		t.Error("missing correction message")
	}
	if env.agent.violations != 0 {
		t.Errorf("violations = %d, want reset after a valid reply", env.agent.violations)
	}
}

func TestRequest_RetryLimitStop(t *testing.T) {
	env := newTestEnvWith(t, func(c *config.Config) { c.Settings.MaxRetries = 1 }, nil,
		"Working on it.",
		"Still working.",
		"Summary: nothing was changed. Try a smaller step.",
	)
	env.input.confirms = []bool{false}

	outcome, err := env.agent.HandleInput(context.Background(), "refactor everything")
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if outcome != OutcomeModelReply {
		t.Errorf("outcome = %v", outcome)
	}
	s := env.agent.Session()
	if findTurn(s, "not yet complete") == nil {
		t.Error("missing continuation message")
	}
	stop := findTurn(s, "Task failed after 1 attempts")
	if stop == nil || stop.Label != "Task stopped" {
		t.Fatalf("missing stop message: %+v", stop)
	}
	if len(env.mock.ChatStreamCalls) != 3 {
		t.Errorf("expected 3 model calls, got %d", len(env.mock.ChatStreamCalls))
	}
	if env.agent.pending {
		t.Error("request should not be pending after stop")
	}
}

func TestRequest_RetryLimitContinue(t *testing.T) {
	env := newTestEnvWith(t, func(c *config.Config) { c.Settings.MaxRetries = 1 }, nil,
		"Working on it.",
		"Still working.",
		"All done. [complete]",
	)
	env.input.confirms = []bool{true}

	if _, err := env.agent.HandleInput(context.Background(), "refactor everything"); err != nil {
		t.Fatal(err)
	}
	if findTurn(env.agent.Session(), "Task failed after") != nil {
		t.Error("request should have continued")
	}
	if env.agent.retries != 0 {
		t.Errorf("retries = %d, want 0", env.agent.retries)
	}
}

func TestRequest_ModelError(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ChatStreamFunc = func(ctx context.Context, messages []llm.Message, systemPrompt string) <-chan llm.StreamChunk {
		return llm.ErrorStream(errors.New("502 bad gateway"))
	}

	outcome, err := env.agent.HandleInput(context.Background(), "hello")
	if err == nil || outcome != OutcomeError {
		t.Fatalf("got %v, %v", outcome, err)
	}
	s := env.agent.Session()
	if len(s.Messages) != 1 || s.Messages[0].Role != conversation.RoleUser {
		t.Errorf("only the user turn should remain, got %+v", s.Messages)
	}
}

func TestRequest_UserAbort(t *testing.T) {
	env := newTestEnv(t, "Hi, what would you like to do? [question]")
	if _, err := env.agent.HandleInput(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	before := len(env.agent.Session().Messages)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.mock.ChatStreamFunc = func(context.Context, []llm.Message, string) <-chan llm.StreamChunk {
		ch := make(chan llm.StreamChunk, 1)
		go func() {
			defer close(ch)
			ch <- llm.StreamChunk{Type: llm.ChunkText, Text: "Let me look into"}
			cancel()
		}()
		return ch
	}

	outcome, err := env.agent.HandleInput(ctx, "list the big files")
	if outcome != OutcomeAborted || !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, %v", outcome, err)
	}
	s := env.agent.Session()
	if len(s.Messages) != before+1 {
		t.Fatalf("want only the new user turn appended, got %+v", s.Messages)
	}
	if last := s.Messages[len(s.Messages)-1]; last.Role != conversation.RoleUser || last.Content != "list the big files" {
		t.Errorf("last turn = %+v", last)
	}
	if s.Messages[0].Content != "hello" {
		t.Errorf("earlier turns should be kept, got %+v", s.Messages[0])
	}
	if findTurn(s, "Let me look into") != nil {
		t.Error("partial reply must not be stored")
	}
	if env.agent.State() != StateIdle {
		t.Errorf("State = %v, want idle", env.agent.State())
	}
}

func TestRequest_ContextPrune(t *testing.T) {
	env := newTestEnv(t,
		"```websearch\nfirst\n```",
		"```context_prune\nids: 1\n```",
		"Cleaned up. What now? [question]",
	)
	env.agent.searcher = failingSearcher{}

	if _, err := env.agent.HandleInput(context.Background(), "tidy"); err != nil {
		t.Fatal(err)
	}
	s := env.agent.Session()
	var failed *conversation.Turn
	for i := range s.Messages {
		if s.Messages[i].ID == 1 {
			failed = &s.Messages[i]
		}
	}
	if failed == nil || failed.State != conversation.StatePruned {
		t.Fatalf("search failure turn should be pruned: %+v", failed)
	}
	if !strings.Contains(failed.Original, "Web search failed for query: first") {
		t.Errorf("Original = %q", failed.Original)
	}
	if findTurn(s, "Context management applied") == nil {
		t.Error("missing confirmation message")
	}
}

func TestAutoSaveEveryFiveTurns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	active := filepath.Join(env.dir, "active.json")

	for i := 0; i < 4; i++ {
		if _, err := env.agent.HandleInput(ctx, "!ls"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := os.Stat(active); err == nil {
		t.Fatal("active.json written before the fifth turn")
	}
	if _, err := env.agent.HandleInput(ctx, "!ls"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(active); err != nil {
		t.Fatalf("active.json missing after five turns: %v", err)
	}
}

func TestCommand_ModelSwitch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.agent.HandleInput(ctx, "/model claude-haiku"); err != nil {
		t.Fatalf("first switch: %v", err)
	}
	if got := env.agent.registry.CurrentAlias(); got != "claude-haiku" {
		t.Fatalf("CurrentAlias = %q", got)
	}
	if env.agent.Session().Metadata.Model != "claude-haiku" {
		t.Error("session model not updated")
	}

	env.out.Reset()
	outcome, err := env.agent.HandleInput(ctx, "/model claude-haiku")
	if err != nil || outcome != OutcomeContinue {
		t.Fatalf("second switch: %v, %v", outcome, err)
	}
	if !strings.Contains(env.output(), "already selected") {
		t.Errorf("output = %q", env.output())
	}
}

func TestCommand_UnknownModel(t *testing.T) {
	env := newTestEnv(t)
	before := env.agent.registry.CurrentAlias()

	outcome, err := env.agent.HandleInput(context.Background(), "/model nope")
	if err == nil || outcome != OutcomeError {
		t.Fatalf("got %v, %v", outcome, err)
	}
	if env.agent.registry.CurrentAlias() != before {
		t.Error("selection changed after an unknown alias")
	}
}

func TestCommand_Unknown(t *testing.T) {
	env := newTestEnv(t)
	outcome, err := env.agent.HandleInput(context.Background(), "/frobnicate")
	if err == nil || outcome != OutcomeError {
		t.Fatalf("got %v, %v", outcome, err)
	}
	if len(env.mock.ChatStreamCalls) != 0 {
		t.Error("slash commands must not reach the model")
	}
}

func TestCommand_Clear(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.agent.HandleInput(ctx, "!ls"); err != nil {
		t.Fatal(err)
	}
	oldID := env.agent.Session().ID

	if _, err := env.agent.HandleInput(ctx, "/clear"); err != nil {
		t.Fatal(err)
	}
	if env.agent.Session().ID == oldID || !env.agent.Session().Empty() {
		t.Error("expected a new empty session")
	}
}

func TestCommand_SaveAndLoad(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.agent.HandleInput(ctx, "!ls"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.agent.HandleInput(ctx, "/save demo"); err != nil {
		t.Fatalf("/save: %v", err)
	}
	if !env.store.Exists("demo") {
		t.Fatal("saved conversation missing")
	}

	// same name again: decline the overwrite
	env.input.confirms = []bool{false}
	if _, err := env.agent.HandleInput(ctx, "/save demo"); err != nil {
		t.Fatalf("second /save: %v", err)
	}

	if _, err := env.agent.HandleInput(ctx, "/clear"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.agent.HandleInput(ctx, "/load 1"); err != nil {
		t.Fatalf("/load: %v", err)
	}
	s := env.agent.Session()
	if len(s.Messages) != 1 || s.Messages[0].Content != "!ls" {
		t.Errorf("loaded session = %+v", s.Messages)
	}
	if s.Metadata.Status != conversation.StatusLoaded {
		t.Errorf("Status = %q, want loaded", s.Metadata.Status)
	}

	outcome, err := env.agent.HandleInput(ctx, "/load 9")
	if err == nil || outcome != OutcomeError {
		t.Errorf("out of range load: %v, %v", outcome, err)
	}
}

func TestCommand_Delete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.agent.HandleInput(ctx, "!ls"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.agent.HandleInput(ctx, "/save old"); err != nil {
		t.Fatal(err)
	}

	env.input.confirms = []bool{true}
	if _, err := env.agent.HandleInput(ctx, "/cv -r old"); err != nil {
		t.Fatalf("/cv -r: %v", err)
	}
	if env.store.Exists("old") {
		t.Error("conversation not deleted")
	}
}

func TestCommand_Incognito(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.agent.HandleInput(ctx, "/inc"); err != nil {
		t.Fatal(err)
	}
	if env.agent.ModeName() != "incognito" {
		t.Fatalf("mode = %q", env.agent.ModeName())
	}
	if _, err := env.agent.HandleInput(ctx, "!ls"); err != nil {
		t.Fatal(err)
	}
	if len(env.history.entries) != 0 {
		t.Error("incognito commands must not be recorded")
	}
	if _, err := env.agent.HandleInput(ctx, "/save secret"); err != nil {
		t.Fatal(err)
	}
	if env.store.Exists("secret") {
		t.Error("incognito conversation was saved")
	}

	if _, err := env.agent.HandleInput(ctx, "/inc"); err != nil {
		t.Fatal(err)
	}
	if env.agent.ModeName() != "ai" {
		t.Errorf("mode = %q after toggling off", env.agent.ModeName())
	}
	if _, err := env.agent.HandleInput(ctx, "!pwd"); err != nil {
		t.Fatal(err)
	}
	if len(env.history.entries) != 1 {
		t.Errorf("history entries = %d, want 1", len(env.history.entries))
	}
}

func TestCommand_Compact(t *testing.T) {
	env := newTestEnv(t,
		"```command\nls\n```",
		"Listed. [complete]",
	)
	env.runner.stdout = strings.Repeat("x", 800)
	ctx := context.Background()
	if _, err := env.agent.HandleInput(ctx, "list"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.agent.HandleInput(ctx, "/compact"); err != nil {
		t.Fatal(err)
	}
	turn := findTurn(env.agent.Session(), "Command executed: ls")
	if turn == nil || turn.State != conversation.StateTruncated {
		t.Errorf("command turn not compacted: %+v", turn)
	}
}

func TestCommand_History(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.agent.HandleInput(ctx, "!make build"); err != nil {
		t.Fatal(err)
	}
	env.out.Reset()
	if _, err := env.agent.HandleInput(ctx, "/history 5"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(env.output(), "make build") {
		t.Errorf("history output = %q", env.output())
	}

	outcome, err := env.agent.HandleInput(ctx, "/history zero")
	if err == nil || outcome != OutcomeError {
		t.Errorf("bad count: %v, %v", outcome, err)
	}
}

func TestCommandNames(t *testing.T) {
	names := CommandNames()
	for _, want := range []string{"/help", "/h", "/model", "/inc", "/cv", "/conversations", "/resetconfig"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("CommandNames missing %s", want)
		}
	}
}

func TestOutcomeAndStateStrings(t *testing.T) {
	if OutcomeExit.String() != "exit" || Outcome(99).String() != "unknown" {
		t.Error("unexpected Outcome strings")
	}
	if StateAwaitingConfirmation.String() != "awaiting confirmation" || State(99).String() != "unknown" {
		t.Error("unexpected State strings")
	}
}

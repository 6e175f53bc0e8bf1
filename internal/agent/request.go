package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	ctxmgr "github.com/abdul-hamid-achik/aishell/internal/context"
	"github.com/abdul-hamid-achik/aishell/internal/conversation"
	"github.com/abdul-hamid-achik/aishell/internal/llm"
	"github.com/abdul-hamid-achik/aishell/internal/logging"
	"github.com/abdul-hamid-achik/aishell/internal/permissions"
	"github.com/abdul-hamid-achik/aishell/internal/search"
	"github.com/abdul-hamid-achik/aishell/internal/shell"
)

// step is what the loop does after handling one reply.
type step int

const (
	stepReprompt step = iota
	stepDone
)

// retryChoice is the outcome of counting a failed step.
type retryChoice int

const (
	retryGoOn  retryChoice = iota // under the limit
	retryReset                    // limit reached, user chose to keep going
	retryStop                     // limit reached, user chose to stop
)

// runRequest starts a model request for text and drives it until the
// model asks a question, reports completion, or the user stops it.
func (a *Agent) runRequest(ctx context.Context, text string) (Outcome, error) {
	a.request, a.pending = text, true
	a.retries, a.violations, a.warned = 0, 0, false
	a.policy.ResetRequest()
	defer func() { a.state = StateIdle }()

	logging.GlobalMetrics().RecordRequest()
	logging.LogEvent(logging.EventRequestStart,
		logging.SessionID(a.session.ID),
		logging.Model(a.registry.Current().Name),
		logging.Query(text))

	content := text
	if a.cfg.WebSearch.AutoAugment && a.searcher != nil {
		stop := a.spinner.Begin("Searching the web...")
		resp := search.BestEffort(ctx, a.searcher, text, search.OptionsFromConfig(a.cfg.Tavily))
		stop()
		if snippets := search.Snippets(resp); snippets != "" {
			content = text + "\n\n" + snippets
		}
	}
	a.session.Metadata.OriginalRequest = text
	a.appendTurn(conversation.Turn{Role: conversation.RoleUser, Content: content})

	for {
		reply, err := a.callModel(ctx)
		if err != nil {
			return a.failed(err)
		}
		next, err := a.handleReply(ctx, reply)
		if err != nil {
			return a.failed(err)
		}
		if next == stepDone {
			logging.LogEvent(logging.EventRequestDone,
				logging.SessionID(a.session.ID),
				logging.F("pending", a.pending),
				logging.MessageCount(len(a.session.Messages)))
			return OutcomeModelReply, nil
		}
	}
}

// failed ends the request after an API error or interrupt. Turns already
// appended stay.
func (a *Agent) failed(err error) (Outcome, error) {
	a.store.AutoSave(a.session)
	if isAbort(err) {
		a.out.Dim("Interrupted")
		logging.LogEvent(logging.EventRequestAborted, logging.SessionID(a.session.ID))
		return OutcomeAborted, err
	}
	a.out.Error(err)
	logging.LogEvent(logging.EventError, logging.Error(err))
	return OutcomeError, err
}

// systemPrompt is the base prompt plus the prunable-messages block.
func (a *Agent) systemPrompt() string {
	sp := SystemPrompt(a.searcher != nil, a.guidelines())
	if block := ctxmgr.Block(a.session.Messages); block != "" {
		sp += "\n\n" + block
	}
	return sp
}

// payload returns the messages sent to the model: the trailing
// max_history turns, always including the newest.
func (a *Agent) payload() []llm.Message {
	return a.session.History(a.cfg.Settings.MaxHistory)
}

// callModel streams one reply and appends it as an assistant turn. On
// error nothing is appended and partial text is discarded.
func (a *Agent) callModel(ctx context.Context) (string, error) {
	a.state = StateAwaitingModelResponse
	model := a.registry.Current()
	client := a.client(model)
	system := a.systemPrompt()
	messages := a.payload()

	stats := a.ctx.Stats(system, a.session.Messages)
	if stats.NeedsWarning && !a.warned {
		a.warned = true
		a.out.Warning(fmt.Sprintf("Context is at %.0f%% of the %d-token window. Consider /compact.",
			stats.UsagePercent*100, stats.ContextWindow))
	}

	logging.LogEvent(logging.EventLLMRequest,
		logging.Model(model.Name),
		logging.MessageCount(len(messages)),
		logging.Tokens(stats.UsedTokens))
	start := time.Now()

	markdown := a.cfg.Settings.RenderMarkdown && a.out.IsTTY()
	stop := a.spinner.Begin("Thinking...")
	defer stop()
	streamed := false
	resp, err := llm.Collect(client.ChatStream(ctx, messages, system), func(chunk llm.StreamChunk) {
		if markdown {
			return
		}
		stop()
		streamed = true
		if chunk.Type == llm.ChunkReasoning {
			a.out.StreamThinking(chunk.Text)
			return
		}
		a.out.StreamText(chunk.Text)
	})
	stop()
	if streamed {
		a.out.StreamDone()
	}

	if err != nil {
		logging.LogEvent(logging.EventLLMError, logging.Model(model.Name), logging.Error(err))
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	var in, out int
	if resp.Usage != nil {
		in, out = int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
		a.ctx.Observe(ctxmgr.EstimateTokens(system)+ctxmgr.TotalTokens(a.session.Messages), in)
	}
	logging.LogEvent(logging.EventLLMResponse,
		logging.Model(model.Name),
		logging.DurationSince(start),
		logging.F("input_tokens", in),
		logging.F("output_tokens", out),
		logging.F("stop_reason", resp.StopReason))

	if markdown {
		if prose := StripBlocks(resp.Content); prose != "" {
			a.out.Reply(prose, true)
		}
	}

	if strings.TrimSpace(resp.Content) != "" {
		a.appendTurn(conversation.Turn{Role: conversation.RoleAssistant, Content: resp.Content})
	}
	return resp.Content, nil
}

// handleReply classifies reply and performs what it asks for.
func (a *Agent) handleReply(ctx context.Context, reply string) (step, error) {
	a.state = StateClassifyingResponse
	p := ParseResponse(reply)
	if p.Kind != KindMultiple {
		a.violations = 0
	}

	switch p.Kind {
	case KindEmpty:
		return a.onEmpty(ctx)
	case KindMultiple:
		return a.onMultiple(p.Actions), nil
	case KindDistill, KindPrune, KindUntruncate:
		a.onContextOp(p)
		return stepReprompt, nil
	case KindCommand:
		return a.onCommand(ctx, p.Body)
	case KindSearch:
		return a.onSearch(ctx, p.Body), nil
	default:
		return a.onText(ctx, p)
	}
}

func (a *Agent) onEmpty(ctx context.Context) (step, error) {
	if !a.pending {
		return stepDone, nil
	}
	a.out.Warning("The model returned an empty response")
	switch choice, err := a.countRetry(); {
	case err != nil:
		return stepDone, err
	case choice == retryStop:
		return a.stopRequest(ctx)
	}
	a.addSystem(fmt.Sprintf("SYSTEM MESSAGE: Your previous response was empty. Please continue with the original request: %s",
		a.request), "Empty response handling")
	return stepReprompt, nil
}

func (a *Agent) onMultiple(n int) step {
	a.violations++
	logging.LogEvent(logging.EventViolation, logging.Count(n), logging.Attempt(a.violations))
	if a.violations >= maxViolations {
		a.out.ErrorStr("Too many multiple-action violations. Resetting conversation.")
		a.resetConversation()
		return stepDone
	}
	a.out.Warning(fmt.Sprintf("Multiple actions detected (%d actions). Asking the model to correct.", n))
	a.addSystem(fmt.Sprintf("SYSTEM MESSAGE: You provided %d action blocks in one response, which is forbidden. "+
		"You must provide EXACTLY ONE command, search, or context management block per response. "+
		"Please choose the FIRST action you need to take and provide it alone with explanation.", n),
		"Multiple actions error")
	return stepReprompt
}

func (a *Agent) onContextOp(p Parsed) {
	const (
		applied     = "SYSTEM MESSAGE: Context management applied. Continue with your task."
		errorLabel  = "Context management error"
		appliedName = "Context management confirmation"
	)
	turns := a.session.Messages

	switch p.Kind {
	case KindDistill:
		if p.Invalid {
			a.out.Dim("  ✗ Invalid context_distill format")
			a.addSystem("SYSTEM MESSAGE: Invalid context_distill format. Use: id: <number> and summary: <text>. Continue with your task.", errorLabel)
			return
		}
		done, ok := a.ctx.Distill(turns, p.ID, p.Summary)
		if !ok {
			a.out.Dim(fmt.Sprintf("  ✗ Could not distill message #%d", p.ID))
			a.addSystem(fmt.Sprintf("SYSTEM MESSAGE: Could not distill message #%d. It may not exist, may already be pruned, "+
				"or is not a prunable message. Continue with your task.", p.ID), errorLabel)
			return
		}
		a.out.Dim(fmt.Sprintf("  ✓ Distilled #%d: %s", done.ID, done.Label))
		a.addSystem(applied, appliedName)

	case KindPrune:
		if p.Invalid {
			a.out.Dim("  ✗ Invalid context_prune format")
			a.addSystem("SYSTEM MESSAGE: Invalid context_prune format. Use: ids: <id1>, <id2>, ... Continue with your task.", errorLabel)
			return
		}
		done := a.ctx.Prune(turns, p.IDs)
		if len(done) == 0 {
			a.out.Dim("  ✗ No messages were pruned")
			a.addSystem(fmt.Sprintf("SYSTEM MESSAGE: Could not prune messages with IDs %v. They may not exist or are already pruned. "+
				"Continue with your task.", p.IDs), errorLabel)
			return
		}
		for _, d := range done {
			a.out.Dim(fmt.Sprintf("  ✓ Pruned #%d: %s", d.ID, d.Label))
		}
		a.addSystem(applied, appliedName)

	case KindUntruncate:
		if p.Invalid {
			a.out.Dim("  ✗ Invalid context_untruncate format")
			a.addSystem("SYSTEM MESSAGE: Invalid context_untruncate format. Use: id: <number>. Continue with your task.", errorLabel)
			return
		}
		done, ok := a.ctx.Untruncate(turns, p.ID)
		if !ok {
			a.out.Dim(fmt.Sprintf("  ✗ Could not untruncate message #%d", p.ID))
			a.addSystem(fmt.Sprintf("SYSTEM MESSAGE: Could not untruncate message #%d. It may not be truncated or does not exist. "+
				"Continue with your task.", p.ID), errorLabel)
			return
		}
		a.out.Dim(fmt.Sprintf("  ✓ Untruncated #%d: %s", done.ID, done.Label))
		a.addSystem("SYSTEM MESSAGE: Message untruncated - full content is now visible. Continue with your task.", appliedName)
	}
}

func (a *Agent) onSearch(ctx context.Context, query string) step {
	if query == "" {
		a.out.Warning("Empty web search block")
		return stepDone
	}
	label := ctxmgr.Shorten(query, 60)
	failed := func() step {
		a.out.ErrorStr("Web search failed. The model will try another approach.")
		a.addSystem(fmt.Sprintf("SYSTEM MESSAGE: Web search failed for query: %s\n\n"+
			"Please try a different approach or rephrase the search query.", query), "Search failed: "+label)
		return stepReprompt
	}
	if a.searcher == nil {
		a.out.Warning("Web search is not configured")
		return failed()
	}

	stop := a.spinner.Begin("Searching the web...")
	resp, err := a.searcher.Search(ctx, query, search.OptionsFromConfig(a.cfg.Tavily))
	stop()
	if err != nil || resp == nil {
		logging.Warn("web search failed", logging.Query(query), logging.Error(err))
		return failed()
	}

	a.out.SearchResults(query, len(resp.Results))
	a.addSystem(fmt.Sprintf("SYSTEM MESSAGE: Web search executed for: %s\n\nSearch Results:\n%s",
		query, search.Format(resp)), "Web search: "+label)
	return stepReprompt
}

func (a *Agent) onText(ctx context.Context, p Parsed) (step, error) {
	switch {
	case !a.pending:
		return stepDone, nil
	case p.Tag == TagQuestion:
		return stepDone, nil
	case p.Tag == TagComplete:
		a.pending = false
		a.session.Metadata.OriginalRequest = ""
		a.policy.ResetRequest()
		return stepDone, nil
	}

	switch choice, err := a.countRetry(); {
	case err != nil:
		return stepDone, err
	case choice == retryStop:
		return a.stopRequest(ctx)
	}
	a.addSystem(fmt.Sprintf("SYSTEM MESSAGE: The original request (%s) is not yet complete. Please continue with the next step.",
		a.request), "Task continuation")
	return stepReprompt, nil
}

// onCommand confirms, runs and evaluates one proposed command.
func (a *Agent) onCommand(ctx context.Context, command string) (step, error) {
	if command == "" {
		a.out.Warning("Empty command block")
		return stepDone, nil
	}
	label := ctxmgr.Shorten(command, 60)

	a.state = StateAwaitingConfirmation
	logging.LogEvent(logging.EventCommandProposed, logging.Command(command))
	decision, err := a.policy.Check(command)
	if err != nil {
		return stepDone, err
	}
	if !decision.Approved {
		a.addSystem(fmt.Sprintf("SYSTEM MESSAGE: User declined to run the command: %s\nReason: %s\n\n"+
			"Please provide an alternative approach to complete the original request: %s",
			command, decision.Reason, a.request), "User declined: "+label)
		return stepReprompt, nil
	}

	a.state = StateExecuting
	res, err := a.exec.Run(ctx, command)
	if err != nil {
		if isAbort(err) {
			return stepDone, err
		}
		// could not start; report it like a failed run
		res.ExitCode = -1
		res.Stderr = err.Error()
	}
	a.out.CommandStatus(res.ExitCode, res.Duration)
	a.session.Metadata.Directory = res.Directory
	a.record(ctx, res, approvedBy(decision.Source))
	logging.GlobalMetrics().RecordCommand(res.Duration, res.ExitCode, decision.Source != permissions.SourceUser)

	full := shell.Format(res)
	output, truncated := a.ctx.AutoTruncate(full)
	if truncated {
		a.out.Dim(fmt.Sprintf("  Output auto-truncated (%d chars → %d chars)", len(full), len(output)))
	}
	success := res.Success()

	a.state = StateCheckingTaskStatus
	checker := NewTaskChecker(a.client(a.registry.TaskChecker()))
	status := checker.Check(ctx, a.request, output)
	if !status.Known {
		a.out.Warning(status.Reason)
	}

	if status.Completed {
		text := func(out string) string {
			return fmt.Sprintf("SYSTEM MESSAGE: Task completed successfully. Command executed: %s\nCommand output: %s\nSuccess: %t\n\n"+
				"Please provide a brief summary of what was accomplished based on the command output, "+
				"or answer if the original request was a question.", command, out, success)
		}
		a.addCommandTurn(res, label, text(output), text(full), truncated)
		a.pending = false
		a.retries = 0
		a.session.Metadata.OriginalRequest = ""
		a.policy.ResetRequest()
		return stepReprompt, nil
	}

	progress := func(out string) string {
		return fmt.Sprintf("SYSTEM MESSAGE: Command executed: %s\nOutput: %s\nSuccess: %t\n\n"+
			"The original request is not yet complete. Please continue with the next step.", command, out, success)
	}
	choice, err := a.countRetry()
	if err != nil {
		return stepDone, err
	}
	switch choice {
	case retryReset:
		retry := func(out string) string {
			return fmt.Sprintf("SYSTEM MESSAGE: Command executed but failed.\nCommand: %s\nOutput: %s\nSuccess: %t\n\n"+
				"User requested to continue trying. Please try a different approach to complete: %s",
				command, out, success, a.request)
		}
		a.addCommandTurn(res, "Task failure retry: "+label, retry(output), retry(full), truncated)
		return stepReprompt, nil
	case retryStop:
		a.addCommandTurn(res, "Command output: "+label, progress(output), progress(full), truncated)
		return a.stopRequest(ctx)
	}
	a.addCommandTurn(res, "Command output: "+label, progress(output), progress(full), truncated)
	return stepReprompt, nil
}

// addCommandTurn appends a command result turn. When the output was
// truncated the full text is kept for context_untruncate.
func (a *Agent) addCommandTurn(res shell.Result, label, content, full string, truncated bool) {
	t := conversation.Turn{
		Role:    conversation.RoleUser,
		Content: content,
		Command: commandRecord(res),
	}
	if truncated {
		t.State = conversation.StateTruncated
		t.Original = full
	}
	a.ctx.Assign(&t, label)
	a.appendTurn(t)
}

// countRetry counts one unsuccessful step. At the limit the user decides
// whether to keep going.
func (a *Agent) countRetry() (retryChoice, error) {
	limit := a.cfg.Settings.MaxRetries
	if a.retries < limit {
		a.retries++
		return retryGoOn, nil
	}

	logging.LogEvent(logging.EventRetryLimit, logging.Count(limit))
	a.out.Warning(fmt.Sprintf("Maximum retry attempts (%d) reached.", limit))
	a.state = StateAwaitingConfirmation
	goOn, err := a.in.Confirm("Do you want to continue trying?", false)
	if err != nil {
		return retryStop, err
	}
	if goOn {
		a.retries = 0
		return retryReset, nil
	}
	return retryStop, nil
}

// stopRequest asks the model for a closing summary and ends the request.
func (a *Agent) stopRequest(ctx context.Context) (step, error) {
	a.addSystem(fmt.Sprintf("SYSTEM MESSAGE: Task failed after %d attempts and user chose to stop. "+
		"Please provide a summary of what was attempted and suggest alternatives.", a.cfg.Settings.MaxRetries),
		"Task stopped")
	a.pending = false
	a.retries = 0
	a.session.Metadata.OriginalRequest = ""
	if _, err := a.callModel(ctx); err != nil {
		return stepDone, err
	}
	return stepDone, nil
}

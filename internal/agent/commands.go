package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/aishell/internal/config"
	ctxmgr "github.com/abdul-hamid-achik/aishell/internal/context"
	"github.com/abdul-hamid-achik/aishell/internal/conversation"
	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
	"github.com/abdul-hamid-achik/aishell/internal/history"
	"github.com/abdul-hamid-achik/aishell/internal/logging"
	"github.com/abdul-hamid-achik/aishell/internal/models"
	"github.com/abdul-hamid-achik/aishell/internal/ui"
	"github.com/charmbracelet/lipgloss"
)

// defaultHistoryRows is how many commands /history shows without an argument.
const defaultHistoryRows = 20

// slashCommand is one entry of the /help table.
type slashCommand struct {
	name    string
	aliases []string
	usage   string
}

var slashCommands = []slashCommand{
	{"/help", []string{"/h"}, "Show this help"},
	{"/clear", []string{"/new", "/reset", "/c"}, "Start a new conversation"},
	{"/exit", []string{"/q"}, "Save the conversation and quit"},
	{"/models", []string{"/m"}, "List available models"},
	{"/model", nil, "/model <alias>: switch model"},
	{"/ai", nil, "AI mode: send input to the model"},
	{"/dr", nil, "Direct mode: run input as shell commands"},
	{"/inc", nil, "Toggle incognito mode (local model, nothing saved)"},
	{"/save", nil, "/save [name]: save the conversation"},
	{"/load", nil, "/load [index|name]: load a saved conversation"},
	{"/cv", []string{"/conversations"}, "List conversations; /cv -r <name> deletes one"},
	{"/recent", []string{"/r"}, "List recent conversations"},
	{"/archive", nil, "Archive the conversation and start a new one"},
	{"/delete", nil, "/delete <name>: delete a saved conversation"},
	{"/status", nil, "Show session status"},
	{"/payload", []string{"/p"}, "Show the message payload"},
	{"/compact", nil, "Shorten command output in the payload"},
	{"/context", nil, "Show the prunable messages"},
	{"/history", nil, "/history [n]: show recently executed commands"},
	{"/resetconfig", nil, "Rewrite the config file with defaults"},
}

// CommandNames returns every slash command and alias, for completion.
func CommandNames() []string {
	var names []string
	for _, c := range slashCommands {
		names = append(names, c.name)
		names = append(names, c.aliases...)
	}
	return names
}

// command runs a slash command. Slash commands never reach the model.
func (a *Agent) command(ctx context.Context, line string) (Outcome, error) {
	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])
	arg := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch name {
	case "/help", "/h":
		a.help()
	case "/clear", "/new", "/reset", "/c":
		a.resetConversation()
		a.out.Success("Started a new conversation")
	case "/exit", "/q":
		return a.exit(), nil
	case "/models", "/m":
		a.listModels()
	case "/model":
		if arg == "" {
			a.listModels()
			break
		}
		return a.switchModel(arg)
	case "/ai":
		a.setMode(ModeAI)
	case "/dr":
		a.setMode(ModeDirect)
	case "/inc":
		a.toggleIncognito()
	case "/save":
		return a.save(arg)
	case "/load":
		return a.load(arg)
	case "/cv", "/conversations", "/conversation":
		if len(fields) > 1 && fields[1] == "-r" {
			return a.deleteSaved(strings.TrimSpace(strings.Join(fields[2:], " ")))
		}
		a.listRecent()
		a.listSaved()
	case "/recent", "/r":
		a.listRecent()
	case "/archive":
		return a.archive()
	case "/delete":
		return a.deleteSaved(arg)
	case "/status":
		a.status()
	case "/payload", "/p":
		a.showPayload()
	case "/compact":
		a.compact()
	case "/context":
		a.showContext()
	case "/history":
		return a.showHistory(ctx, arg)
	case "/resetconfig":
		return a.resetConfig()
	default:
		a.out.ErrorStr(fmt.Sprintf("Unknown command %s. Type /help for the list.", fields[0]))
		return OutcomeError, shellerr.UnknownCommand(fields[0])
	}
	return OutcomeContinue, nil
}

func (a *Agent) help() {
	rows := make([][]string, 0, len(slashCommands)+1)
	for _, c := range slashCommands {
		rows = append(rows, []string{c.name, strings.Join(c.aliases, " "), c.usage})
	}
	rows = append(rows, []string{"!<cmd>", "", "Run a shell command directly"})
	a.out.Header("Commands")
	a.out.Table([]string{"Command", "Aliases", "Description"}, rows)
}

func (a *Agent) listModels() {
	current := a.registry.CurrentAlias()
	rows := [][]string{}
	for _, m := range a.registry.List() {
		mark := ""
		if m.Alias == current {
			mark = "*"
		}
		rows = append(rows, []string{mark, m.Alias, m.Label(), m.Name})
	}
	a.out.Header("Models")
	a.out.Table([]string{"", "Alias", "Display name", "Model"}, rows)
	if a.registry.Incognito() {
		a.out.Dim("Incognito override active: " + a.registry.Current().Label())
	}
}

func (a *Agent) switchModel(alias string) (Outcome, error) {
	from := a.registry.CurrentAlias()
	m, err := a.registry.Switch(alias)
	switch {
	case errors.Is(err, models.ErrAlreadySelected):
		a.out.Info(fmt.Sprintf("Model %s is already selected", m.Label()))
		return OutcomeContinue, nil
	case err != nil:
		a.out.Error(err)
		return OutcomeError, err
	}
	a.session.Metadata.Model = alias
	logging.LogEvent(logging.EventModelSwitch, logging.From(from), logging.To(alias))
	a.out.Success(fmt.Sprintf("Switched to %s (%s)", m.Label(), m.Name))
	if a.registry.Incognito() {
		a.out.Dim("Incognito is on; the local model stays in use until /inc")
	}
	return OutcomeContinue, nil
}

func (a *Agent) setMode(m Mode) {
	if a.mode == m {
		return
	}
	a.mode = m
	logging.LogEvent(logging.EventModeChange, logging.Mode(a.ModeName()))
	if m == ModeDirect {
		a.out.Info("Direct mode: input runs as shell commands. /ai to return.")
		return
	}
	a.out.Info("AI mode: input goes to " + a.ModelLabel())
}

// toggleIncognito switches to the local model and parks the persistent
// store and history until it is turned off.
func (a *Agent) toggleIncognito() {
	if a.registry.Incognito() {
		a.registry.SetIncognito(false)
		if a.savedStore != nil {
			a.store, a.savedStore = a.savedStore, nil
		}
		if a.savedHistory != nil {
			a.history, a.savedHistory = a.savedHistory, nil
		}
		logging.LogEvent(logging.EventModeChange, logging.Mode(a.ModeName()))
		a.out.Info("Incognito mode OFF - using " + a.ModelLabel())
		return
	}
	if !a.registry.IncognitoAvailable() {
		a.out.Warning("Incognito mode is not configured. Set incognito.enabled, incognito.api.url and incognito.model.name.")
		return
	}

	a.SaveActive()
	a.registry.SetIncognito(true)
	a.savedStore, a.store = a.store, conversation.NopStore{}
	a.savedHistory, a.history = a.history, history.Nop{}
	logging.LogEvent(logging.EventModeChange, logging.Mode(a.ModeName()))
	a.out.Info("Incognito mode ON - using " + a.ModelLabel())
	a.out.Dim("Conversations and commands will not be saved")
}

// EnableIncognito turns incognito on at startup.
func (a *Agent) EnableIncognito() bool {
	if a.registry.Incognito() {
		return true
	}
	a.toggleIncognito()
	return a.registry.Incognito()
}

func (a *Agent) save(name string) (Outcome, error) {
	if a.registry.Incognito() {
		a.out.Warning("Conversations cannot be saved in incognito mode")
		return OutcomeContinue, nil
	}
	if a.session.Empty() {
		a.out.Warning("Nothing to save yet")
		return OutcomeContinue, nil
	}
	if name == "" {
		var err error
		name, err = a.in.ReadLine("Conversation name: ")
		if err != nil {
			return OutcomeAborted, err
		}
		if name = strings.TrimSpace(name); name == "" {
			a.out.Warning("Save cancelled")
			return OutcomeContinue, nil
		}
	}

	saved, err := a.store.SaveAs(a.session, name, false)
	if errors.Is(err, conversation.ErrExists) {
		ok, cerr := a.in.Confirm(fmt.Sprintf("Conversation %q exists. Overwrite?", saved), false)
		if cerr != nil {
			return OutcomeAborted, cerr
		}
		if !ok {
			a.out.Warning("Save cancelled")
			return OutcomeContinue, nil
		}
		saved, err = a.store.SaveAs(a.session, name, true)
	}
	if err != nil {
		a.out.Error(err)
		return OutcomeError, err
	}
	a.session.Metadata.Status = conversation.StatusSaved
	a.out.Success(fmt.Sprintf("Conversation saved as %q", saved))
	return OutcomeContinue, nil
}

func (a *Agent) load(arg string) (Outcome, error) {
	saved, err := a.store.ListSaved()
	if err != nil {
		a.out.Error(err)
		return OutcomeError, err
	}
	if arg == "" {
		if len(saved) == 0 {
			a.out.Warning("No saved conversations")
			return OutcomeContinue, nil
		}
		a.listSaved()
		arg, err = a.in.ReadLine("Load which conversation (number or name)? ")
		if err != nil {
			return OutcomeAborted, err
		}
		if arg = strings.TrimSpace(arg); arg == "" {
			return OutcomeContinue, nil
		}
	}

	name := arg
	if n, convErr := strconv.Atoi(arg); convErr == nil {
		if n < 1 || n > len(saved) {
			err := shellerr.InvalidArgument("/load", arg)
			a.out.ErrorStr(fmt.Sprintf("No conversation number %d (1-%d)", n, len(saved)))
			return OutcomeError, err
		}
		name = saved[n-1].Name
	}

	s, err := a.store.Load(name)
	if err != nil {
		a.out.Error(err)
		return OutcomeError, err
	}

	if err := a.store.MoveToRecent(a.session); err != nil {
		logging.Warn("failed to keep current session", logging.Error(err))
	}
	a.adopt(s)
	a.store.AutoSave(a.session)
	a.out.Success(fmt.Sprintf("Loaded %q (%d messages)", name, len(s.Messages)))
	return OutcomeContinue, nil
}

// adopt makes s the current session, restoring its model and directory
// when they are still valid.
func (a *Agent) adopt(s *conversation.Session) {
	a.session = s
	a.ctx.RestoreIDs(s.Messages)
	a.store.Reset()
	a.policy.ResetRequest()
	a.request, a.pending = s.Metadata.OriginalRequest, false
	a.retries, a.violations = 0, 0

	if alias := s.Metadata.Model; alias != "" && alias != a.registry.CurrentAlias() {
		if _, err := a.registry.Switch(alias); err == nil {
			a.out.Dim("Model: " + a.ModelLabel())
		}
	}
	if dir := s.Metadata.Directory; dir != "" {
		if cd, ok := a.exec.(interface{ SetCwd(string) bool }); ok {
			cd.SetCwd(dir)
		}
	}
}

// Resume continues s, as offered on startup.
func (a *Agent) Resume(s *conversation.Session) {
	s.Metadata.Status = conversation.StatusResumed
	a.adopt(s)
	logging.LogEvent(logging.EventSessionResume, logging.SessionID(s.ID), logging.MessageCount(len(s.Messages)))
}

// InfoRows formats conversation listings for a table.
func InfoRows(infos []conversation.Info) [][]string {
	rows := make([][]string, 0, len(infos))
	for i, in := range infos {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			in.Name,
			in.Summary,
			strconv.Itoa(in.Messages),
			in.Updated.Format("2006-01-02 15:04"),
		})
	}
	return rows
}

func (a *Agent) listSaved() {
	infos, err := a.store.ListSaved()
	if err != nil {
		a.out.Error(err)
		return
	}
	a.out.Header("Saved conversations")
	a.out.Table([]string{"#", "Name", "Summary", "Messages", "Updated"}, InfoRows(infos))
}

func (a *Agent) listRecent() {
	infos, err := a.store.ListRecent(0)
	if err != nil {
		a.out.Error(err)
		return
	}
	a.out.Header("Recent conversations")
	a.out.Table([]string{"#", "Session", "Summary", "Messages", "Updated"}, InfoRows(infos))
}

func (a *Agent) archive() (Outcome, error) {
	if a.session.Empty() {
		a.out.Warning("Nothing to archive")
		return OutcomeContinue, nil
	}
	if err := a.store.Archive(a.session); err != nil {
		a.out.Error(err)
		return OutcomeError, err
	}
	if err := a.store.ClearActive(); err != nil {
		logging.Warn("failed to clear active session", logging.Error(err))
	}
	a.startFresh()
	a.out.Success("Conversation archived. Started a new one.")
	return OutcomeContinue, nil
}

func (a *Agent) deleteSaved(name string) (Outcome, error) {
	if name == "" {
		a.listSaved()
		var err error
		name, err = a.in.ReadLine("Delete which conversation? ")
		if err != nil {
			return OutcomeAborted, err
		}
		if name = strings.TrimSpace(name); name == "" {
			return OutcomeContinue, nil
		}
	}
	if !a.store.Exists(name) {
		err := shellerr.SessionNotFound(name)
		a.out.Error(err)
		return OutcomeError, err
	}
	ok, err := a.in.Confirm(fmt.Sprintf("Delete conversation %q?", name), false)
	if err != nil {
		return OutcomeAborted, err
	}
	if !ok {
		a.out.Dim("Kept " + name)
		return OutcomeContinue, nil
	}
	if err := a.store.Delete(name); err != nil {
		a.out.Error(err)
		return OutcomeError, err
	}
	a.out.Success(fmt.Sprintf("Deleted %q", name))
	return OutcomeContinue, nil
}

func (a *Agent) status() {
	s := a.session
	stats := a.ctx.Stats(a.systemPrompt(), s.Messages)
	var pruned, distilled int
	for _, t := range s.Messages {
		switch t.State {
		case conversation.StatePruned:
			pruned++
		case conversation.StateDistilled:
			distilled++
		}
	}

	a.out.Header("Conversation status")
	rows := [][]string{
		{"Session ID", s.ID},
		{"Started", s.Created.Format("2006-01-02 15:04:05")},
		{"Messages", strconv.Itoa(len(s.Messages))},
		{"Interactions", strconv.Itoa(a.store.Interactions())},
		{"Status", s.Metadata.Status},
		{"Mode", a.ModeName()},
		{"Model", fmt.Sprintf("%s (%s)", a.ModelLabel(), a.registry.Current().Name)},
		{"Directory", ui.ShortenHome(a.exec.Cwd())},
		{"State", a.state.String()},
	}
	if s.Metadata.OriginalRequest != "" {
		rows = append(rows, []string{"Original request", s.Metadata.OriginalRequest})
	}
	rows = append(rows,
		[]string{"Estimated tokens", fmt.Sprintf("~%d (%.0f%% of %d)", stats.UsedTokens, stats.UsagePercent*100, stats.ContextWindow)},
		[]string{"Prunable messages", strconv.Itoa(stats.Prunable)},
		[]string{"Pruned / distilled", fmt.Sprintf("%d / %d", pruned, distilled)},
	)

	if logging.Global() != nil && logging.Global().IsDebugEnabled() {
		m := logging.GlobalMetrics().Summary()
		rows = append(rows,
			[]string{"Requests", strconv.Itoa(m.Requests)},
			[]string{"LLM calls / errors", fmt.Sprintf("%d / %d", m.LLM.Requests, m.LLM.Errors)},
			[]string{"Tokens in / out", fmt.Sprintf("%d / %d", m.LLM.InputTokens, m.LLM.OutputTokens)},
			[]string{"Commands run / declined", fmt.Sprintf("%d / %d", m.Commands.Executed, m.Commands.Declined)},
			[]string{"Searches / failed", fmt.Sprintf("%d / %d", m.Searches, m.SearchFailures)},
		)
		if path := logging.Global().LogPath(); path != "" {
			rows = append(rows, []string{"Log file", path})
		}
	}
	a.out.Table([]string{"Field", "Value"}, rows)
}

func (a *Agent) showPayload() {
	limit := a.cfg.Settings.PayloadTruncateLength
	cut := func(s string) string {
		if limit > 0 && len(s) > limit {
			return s[:limit] + "... [truncated]"
		}
		return s
	}

	a.out.Header("Current conversation payload")
	system := a.systemPrompt()
	a.out.Panel("[0] SYSTEM", cut(system), lipgloss.Color("3"))
	for i, t := range a.session.Messages {
		title := fmt.Sprintf("[%d]", i+1)
		if t.ID != 0 {
			title += fmt.Sprintf(" (ctx #%d)", t.ID)
		}
		if t.State != "" && t.State != conversation.StateNormal {
			title += " [" + t.State + "]"
		}
		title += " " + strings.ToUpper(t.Role)
		color := lipgloss.Color("2")
		if t.Role == conversation.RoleAssistant {
			color = lipgloss.Color("4")
		}
		a.out.Panel(title, cut(t.Content), color)
	}
	a.out.Dim(fmt.Sprintf("Total messages: %d | Estimated tokens: ~%d",
		len(a.session.Messages), ctxmgr.EstimateTokens(system)+ctxmgr.TotalTokens(a.session.Messages)))
}

func (a *Agent) compact() {
	n := ctxmgr.Compact(a.session.Messages)
	if n == 0 {
		a.out.Warning("No command output messages found to compact")
		return
	}
	a.store.AutoSave(a.session)
	a.out.Success(fmt.Sprintf("Compacted %d command output messages in the payload", n))
}

func (a *Agent) showContext() {
	block := ctxmgr.Block(a.session.Messages)
	if block == "" {
		a.out.Dim("No prunable messages")
		return
	}
	a.out.TextLn(block)
}

func (a *Agent) showHistory(ctx context.Context, arg string) (Outcome, error) {
	n := defaultHistoryRows
	if arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v < 1 {
			err := shellerr.InvalidArgument("/history", arg)
			a.out.ErrorStr("Usage: /history [n], with n a positive number")
			return OutcomeError, err
		}
		n = v
	}
	entries, err := a.history.Recent(ctx, n)
	if err != nil {
		a.out.Error(err)
		return OutcomeError, err
	}
	a.out.Header("Command history")
	a.out.Table([]string{"When", "Exit", "By", "Directory", "Command"}, HistoryRows(entries))
	return OutcomeContinue, nil
}

// HistoryRows formats audit entries for a table.
func HistoryRows(entries []history.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			strconv.Itoa(e.ExitCode),
			e.ApprovedBy,
			ui.ShortenHome(e.Directory),
			e.Command,
		})
	}
	return rows
}

func (a *Agent) resetConfig() (Outcome, error) {
	path := a.cfg.ConfigPath()
	ok, err := a.in.Confirm(fmt.Sprintf("Overwrite %s with the default configuration?", path), false)
	if err != nil {
		return OutcomeAborted, err
	}
	if !ok {
		a.out.Dim("Configuration unchanged")
		return OutcomeContinue, nil
	}
	if err := config.Save(config.DefaultConfig(), path); err != nil {
		a.out.Error(err)
		return OutcomeError, err
	}
	a.out.Success("Configuration reset: " + path)
	a.out.Info("Edit the file (or run `aishell setup`) to set your API key, then start aishell again.")
	return a.exit(), nil
}

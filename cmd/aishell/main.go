package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/aishell/internal/agent"
	"github.com/abdul-hamid-achik/aishell/internal/config"
	"github.com/abdul-hamid-achik/aishell/internal/conversation"
	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
	"github.com/abdul-hamid-achik/aishell/internal/history"
	"github.com/abdul-hamid-achik/aishell/internal/logging"
	"github.com/abdul-hamid-achik/aishell/internal/models"
	"github.com/abdul-hamid-achik/aishell/internal/search"
	"github.com/abdul-hamid-achik/aishell/internal/shell"
	"github.com/abdul-hamid-achik/aishell/internal/ui"
)

var Version = "dev"

type options struct {
	configPath string
	model      string
	direct     bool
	incognito  bool
	noResume   bool
	debug      bool
	verbose    bool
}

var opts options

func main() {
	root := &cobra.Command{
		Use:   "aishell",
		Short: "AI Shell - a terminal chat that can run commands for you",
		Long: `AI Shell is a terminal chat with an LLM that proposes shell commands,
runs them after confirmation and checks whether your request is done.

Inside the shell:
  !<cmd>        run a command directly
  /help         list slash commands
  /exit         save and quit`,
		Args:          cobra.NoArgs,
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runShell,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default ~/.config/ai-shell/config.yaml)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Write debug traces (also AISHELL_DEBUG=1)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print debug logs to stderr")
	root.Flags().StringVarP(&opts.model, "model", "m", "", "Model alias to start with")
	root.Flags().BoolVarP(&opts.direct, "direct", "d", false, "Start in Direct mode")
	root.Flags().BoolVarP(&opts.incognito, "incognito", "i", false, "Start in incognito mode")
	root.Flags().BoolVar(&opts.noResume, "no-resume", false, "Start a new conversation instead of resuming")

	root.AddCommand(setupCmd(), modelsCmd(), historyCmd(), conversationsCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", shellerr.GetUserMessage(err))
		logging.Close()
		os.Exit(1)
	}
}

// initLogging sets up the global logger. Failure only costs the log file.
func initLogging(cfg *config.Config) {
	lc := logging.ConfigFromEnv().WithLogDir(cfg.Logging.Dir)
	if cfg.Logging.Level != "" {
		lc = lc.WithLevel(logging.ParseLevel(cfg.Logging.Level))
	}
	lc = lc.WithDebugMode(opts.debug || lc.DebugMode).WithVerbose(opts.verbose)
	if _, err := logging.Init(lc); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.LoadOptions{Path: opts.configPath, CreateIfMissing: true})
}

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)
	defer logging.Close()

	registry := models.NewRegistry(cfg)
	if opts.model != "" {
		if _, err := registry.Switch(opts.model); err != nil && !errors.Is(err, models.ErrAlreadySelected) {
			return err
		}
	}

	store, err := conversation.NewFileStore(conversation.Options{
		Dir:              cfg.StoragePath(),
		AutoSaveInterval: cfg.Conversations.AutoSaveInterval,
		MaxRecent:        cfg.Conversations.MaxRecent,
		ResumeOnStartup:  cfg.Conversations.ResumeOnStartup && !opts.noResume,
	})
	if err != nil {
		return err
	}

	var recorder history.Recorder = history.Nop{}
	if cfg.History.Enabled {
		recorder = history.OpenOrDisable(cfg.HistoryPath())
	}
	defer recorder.Close()

	output := ui.NewOutputHandler()
	input := ui.NewInputHandler(filepath.Join(config.DataDir(), "input_history"))
	defer input.Close()

	guidelines, err := config.NewWatcher(cfg.ContextPath(), func(string) {
		logging.LogEvent(logging.EventConfigReload, logging.Path(cfg.ContextPath()))
	})
	if err != nil {
		logging.Warn("context.md will not be reloaded", logging.Error(err))
	}
	defer guidelines.Close()

	executor := shell.NewExecutor(shell.Options{
		Stdin:  os.Stdin,
		Stdout: output.Writer(),
		Stderr: output.ErrWriter(),
	})

	a := agent.New(agent.Config{
		Config:     cfg,
		Registry:   registry,
		Store:      store,
		Executor:   executor,
		Searcher:   search.New(cfg),
		History:    recorder,
		Output:     output,
		Input:      input,
		Guidelines: guidelines.Content,
		Direct:     opts.direct,
	})

	logging.LogEvent(logging.EventSessionStart,
		logging.SessionID(a.Session().ID),
		logging.Model(registry.Current().Name),
		logging.Mode(a.ModeName()))

	if s, err := store.Resume(); err != nil {
		output.Warning("Could not resume the last conversation: " + shellerr.GetUserMessage(err))
	} else if s != nil {
		a.Resume(s)
		output.Info(fmt.Sprintf("Resumed conversation from %s (%d messages). /clear starts a new one.",
			s.Updated.Format("15:04"), len(s.Messages)))
	}

	if opts.incognito && !a.EnableIncognito() {
		output.Warning("Starting without incognito mode")
	}

	completer := input.Completer()
	completer.SetCommands(agent.CommandNames())
	completer.SetAliases(registry.Aliases())

	if cfg.Settings.ShowWelcomeMessage {
		output.Welcome(Version, a.ModelLabel(), a.ModeName())
	}

	return repl(cfg, a, input, output)
}

// repl reads lines until /exit or end of input. Each line gets its own
// interruptible context so Ctrl-C stops the current request only.
func repl(cfg *config.Config, a *agent.Agent, input *ui.InputHandler, output *ui.OutputHandler) error {
	vars := ui.PromptVars{}
	if u, err := user.Current(); err == nil {
		vars.User = u.Username
	}
	vars.Host, _ = os.Hostname()

	for {
		vars.Model, vars.Dir, vars.Mode = a.ModelLabel(), a.Cwd(), a.ModeName()
		header, prompt := output.Prompt(cfg.Prompt.ForMode(a.ModeName()), vars)
		if header != "" {
			fmt.Fprintln(output.Writer(), header)
		}

		line, err := input.ReadInput(prompt)
		switch {
		case ui.IsInterrupt(err):
			output.Dim("Type /exit to quit")
			continue
		case ui.IsEOF(err):
			a.HandleInput(context.Background(), "/exit")
			return nil
		case err != nil:
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		outcome, _ := a.HandleInput(ctx, line)
		stop()
		if outcome == agent.OutcomeExit {
			output.Dim("Goodbye!")
			return nil
		}
	}
}

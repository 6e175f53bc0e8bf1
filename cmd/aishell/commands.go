package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/aishell/internal/agent"
	"github.com/abdul-hamid-achik/aishell/internal/config"
	"github.com/abdul-hamid-achik/aishell/internal/conversation"
	"github.com/abdul-hamid-achik/aishell/internal/history"
	"github.com/abdul-hamid-achik/aishell/internal/models"
	"github.com/abdul-hamid-achik/aishell/internal/ui"
)

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactively write the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath(opts.configPath)
			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}

			output := ui.NewOutputHandler()
			input := ui.NewInputHandler("")
			defer input.Close()

			output.Header("AI Shell setup")
			output.Dim("Press Enter to keep the value in brackets.")

			ask := func(label, current string) (string, error) {
				v, err := input.ReadLine(fmt.Sprintf("%s [%s]: ", label, current))
				if err != nil || v == "" {
					return current, err
				}
				return v, nil
			}

			if cfg.API.URL, err = ask("API URL", cfg.API.URL); err != nil {
				return err
			}
			key, err := input.ReadPassword("API key (hidden, Enter to keep): ")
			if err != nil {
				return err
			}
			if key = strings.TrimSpace(key); key != "" {
				cfg.API.APIKey = key
			}

			output.Table([]string{"Alias", "Display name", "Model"}, modelRows(models.NewRegistry(cfg)))
			alias, err := ask("Default model alias", cfg.Models.ResponseModel)
			if err != nil {
				return err
			}
			if _, ok := cfg.Models.Available[alias]; !ok {
				output.Warning(fmt.Sprintf("Unknown alias %q, keeping %s", alias, cfg.Models.ResponseModel))
			} else {
				cfg.Models.ResponseModel = alias
			}

			tavily, err := input.ReadPassword("Tavily API key for web search (hidden, optional): ")
			if err != nil {
				return err
			}
			if tavily = strings.TrimSpace(tavily); tavily != "" {
				cfg.Tavily.APIKey = tavily
				cfg.WebSearch.Enabled = true
			}

			if err := cfg.Validate(); err != nil {
				output.Warning("The config is incomplete: " + err.Error())
			}
			if err := config.Save(cfg, path); err != nil {
				return err
			}
			output.Success("Configuration written to " + path)
			return nil
		},
	}
}

func modelRows(reg *models.Registry) [][]string {
	current := reg.CurrentAlias()
	var rows [][]string
	for _, m := range reg.List() {
		alias := m.Alias
		if alias == current {
			alias += " *"
		}
		rows = append(rows, []string{alias, m.Label(), m.Name})
	}
	return rows
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg := models.NewRegistry(cfg)
			output := ui.NewOutputHandler()
			output.Table([]string{"Alias", "Display name", "Model"}, modelRows(reg))
			if cfg.Models.TaskCheckerModel != "" {
				output.Dim("Task checker: " + reg.TaskChecker().Label())
			}
			if reg.IncognitoAvailable() {
				output.Dim(fmt.Sprintf("Incognito: %s at %s", cfg.Incognito.Model.Name, cfg.Incognito.API.URL))
			}
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently executed commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(context.Background(), n)
			if err != nil {
				return err
			}
			output := ui.NewOutputHandler()
			if len(entries) == 0 {
				output.Dim("No commands recorded yet")
				return nil
			}
			output.Table([]string{"When", "Exit", "By", "Directory", "Command"}, agent.HistoryRows(entries))
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "number", "n", 20, "Number of commands to show")
	return cmd
}

func conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"cv"},
		Short:   "List saved and recent conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := conversation.NewFileStore(conversation.Options{
				Dir:       cfg.StoragePath(),
				MaxRecent: cfg.Conversations.MaxRecent,
			})
			if err != nil {
				return err
			}
			output := ui.NewOutputHandler()

			saved, err := store.ListSaved()
			if err != nil {
				return err
			}
			output.Header("Saved conversations")
			output.Table([]string{"#", "Name", "Summary", "Messages", "Updated"}, agent.InfoRows(saved))

			recent, err := store.ListRecent(0)
			if err != nil {
				return err
			}
			output.Header("Recent conversations")
			output.Table([]string{"#", "Session", "Summary", "Messages", "Updated"}, agent.InfoRows(recent))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aishell version %s\n", Version)
		},
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
)

const (
	// MaxConfigSize is the largest config file that will be parsed.
	MaxConfigSize = 1024 * 1024
	// MaxContextSize is the largest context.md that will be loaded.
	MaxContextSize = 100 * 1024

	placeholderKey = "your_api_key_here"
)

// Provider names accepted for api.provider and per-model overrides
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Modes accepted for settings.default_mode
const (
	ModeAI     = "ai"
	ModeDirect = "direct"
)

// APIConfig is the main chat-completion endpoint.
type APIConfig struct {
	URL       string        `yaml:"url" toml:"url"`
	APIKey    string        `yaml:"api_key" toml:"api_key"`
	Provider  string        `yaml:"provider,omitempty" toml:"provider,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"` // 0 = no overall timeout
	MaxTokens int           `yaml:"max_tokens,omitempty" toml:"max_tokens,omitempty"`

	// AnthropicKey is used for models whose provider is "anthropic" when the
	// main endpoint is OpenAI-compatible. Falls back to ANTHROPIC_API_KEY.
	AnthropicKey string `yaml:"anthropic_api_key,omitempty" toml:"anthropic_api_key,omitempty"`

	// Model is the legacy single-model field, folded into Models on load.
	Model string `yaml:"model,omitempty" toml:"model,omitempty"`
}

// WebSearchConfig selects and configures web search.
// When Model is set, searches go to that model on the main endpoint
// (or APIURL/APIKey when given); otherwise Tavily is used.
type WebSearchConfig struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled"`
	Model        string `yaml:"model" toml:"model"`
	APIURL       string `yaml:"api_url" toml:"api_url"`
	APIKey       string `yaml:"api_key" toml:"api_key"`
	SystemPrompt string `yaml:"system_prompt" toml:"system_prompt"`
	AutoAugment  bool   `yaml:"auto_augment" toml:"auto_augment"`
}

// TavilyConfig holds Tavily search options.
type TavilyConfig struct {
	APIKey            string        `yaml:"api_key" toml:"api_key"`
	APIURL            string        `yaml:"api_url,omitempty" toml:"api_url,omitempty"`
	MaxResults        int           `yaml:"max_results" toml:"max_results"`
	SearchDepth       string        `yaml:"search_depth" toml:"search_depth"`
	IncludeAnswer     bool          `yaml:"include_answer" toml:"include_answer"`
	IncludeRawContent bool          `yaml:"include_raw_content" toml:"include_raw_content"`
	IncludeDomains    []string      `yaml:"include_domains" toml:"include_domains"`
	ExcludeDomains    []string      `yaml:"exclude_domains" toml:"exclude_domains"`
	Timeout           time.Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	MinDelay          time.Duration `yaml:"min_delay,omitempty" toml:"min_delay,omitempty"`
}

// ModelEntry is one configured model alias.
type ModelEntry struct {
	Name        string `yaml:"name" toml:"name"`
	Alias       string `yaml:"alias" toml:"alias"`
	DisplayName string `yaml:"display_name" toml:"display_name"`
	Provider    string `yaml:"provider,omitempty" toml:"provider,omitempty"`
}

// ModelsConfig lists model aliases and which ones are in use.
type ModelsConfig struct {
	ResponseModel    string                `yaml:"response_model" toml:"response_model"`
	TaskCheckerModel string                `yaml:"task_checker_model,omitempty" toml:"task_checker_model,omitempty"`
	Available        map[string]ModelEntry `yaml:"available" toml:"available"`

	// Default is the legacy name of ResponseModel.
	Default string `yaml:"default,omitempty" toml:"default,omitempty"`
}

// SettingsConfig holds loop behaviour.
type SettingsConfig struct {
	MaxRetries            int      `yaml:"max_retries" toml:"max_retries"`
	MaxHistory            int      `yaml:"max_history" toml:"max_history"` // 0 = unlimited
	PayloadTruncateLength int      `yaml:"payload_truncate_length" toml:"payload_truncate_length"`
	DefaultMode           string   `yaml:"default_mode" toml:"default_mode"`
	ShowWelcomeMessage    bool     `yaml:"show_welcome_message" toml:"show_welcome_message"`
	ConfirmCommands       bool     `yaml:"confirm_commands" toml:"confirm_commands"`
	StrictMode            bool     `yaml:"strict_mode,omitempty" toml:"strict_mode,omitempty"`
	SafeCommands          []string `yaml:"safe_commands,omitempty" toml:"safe_commands,omitempty"`
	RenderMarkdown        bool     `yaml:"render_markdown" toml:"render_markdown"`
}

// ConversationsConfig controls session persistence.
type ConversationsConfig struct {
	AutoSaveInterval int    `yaml:"auto_save_interval" toml:"auto_save_interval"`
	MaxRecent        int    `yaml:"max_recent" toml:"max_recent"`
	ResumeOnStartup  bool   `yaml:"resume_on_startup" toml:"resume_on_startup"`
	StoragePath      string `yaml:"storage_path" toml:"storage_path"`
}

// IncognitoConfig is the local provider used by /inc.
type IncognitoConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	API     struct {
		URL    string `yaml:"url" toml:"url"`
		APIKey string `yaml:"api_key" toml:"api_key"`
	} `yaml:"api" toml:"api"`
	Model struct {
		Name        string `yaml:"name" toml:"name"`
		DisplayName string `yaml:"display_name" toml:"display_name"`
	} `yaml:"model" toml:"model"`
}

// RateLimitConfig holds client-side rate limiting and retry configuration
type RateLimitConfig struct {
	MaxRetries         int           `yaml:"max_retries" toml:"max_retries"`
	BaseDelay          time.Duration `yaml:"base_delay" toml:"base_delay"`
	MaxDelay           time.Duration `yaml:"max_delay" toml:"max_delay"`
	TokensPerMinute    int           `yaml:"tokens_per_minute" toml:"tokens_per_minute"`
	EnableRateLimiting bool          `yaml:"enable_rate_limiting" toml:"enable_rate_limiting"`
}

// HistoryConfig controls the command audit log.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// LoggingConfig overrides the log level and directory.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty" toml:"level,omitempty"`
	Dir   string `yaml:"dir,omitempty" toml:"dir,omitempty"`
}

// Config holds the application configuration
type Config struct {
	API           APIConfig           `yaml:"api" toml:"api"`
	WebSearch     WebSearchConfig     `yaml:"web_search" toml:"web_search"`
	Tavily        TavilyConfig        `yaml:"tavily" toml:"tavily"`
	Models        ModelsConfig        `yaml:"models" toml:"models"`
	Settings      SettingsConfig      `yaml:"settings" toml:"settings"`
	Conversations ConversationsConfig `yaml:"conversations" toml:"conversations"`
	Incognito     IncognitoConfig     `yaml:"incognito" toml:"incognito"`
	Prompt        PromptConfig        `yaml:"prompt" toml:"prompt"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" toml:"rate_limit"`
	History       HistoryConfig       `yaml:"history" toml:"history"`
	Logging       LoggingConfig       `yaml:"logging,omitempty" toml:"logging,omitempty"`

	configPath string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	cfg := &Config{
		API: APIConfig{
			URL:       "https://openrouter.ai/api/v1",
			APIKey:    placeholderKey,
			Provider:  ProviderOpenAI,
			MaxTokens: 4096,
		},
		Tavily: TavilyConfig{
			APIURL:        "https://api.tavily.com",
			MaxResults:    5,
			SearchDepth:   "basic",
			IncludeAnswer: true,
			Timeout:       30 * time.Second,
			MinDelay:      500 * time.Millisecond,
		},
		Models: ModelsConfig{
			ResponseModel: "gpt",
			Available: map[string]ModelEntry{
				"gpt": {Name: "openai/gpt-4o", Alias: "gpt", DisplayName: "GPT-4o"},
				"claude-sonnet": {Name: "anthropic/claude-sonnet-4.5", Alias: "claude-sonnet",
					DisplayName: "Claude Sonnet 4.5"},
				"claude-haiku": {Name: "anthropic/claude-haiku-4.5", Alias: "claude-haiku",
					DisplayName: "Claude Haiku 4.5"},
			},
		},
		Settings: SettingsConfig{
			MaxRetries:            30,
			MaxHistory:            0,
			PayloadTruncateLength: 1500,
			DefaultMode:           ModeAI,
			ShowWelcomeMessage:    true,
			ConfirmCommands:       true,
			RenderMarkdown:        true,
		},
		Conversations: ConversationsConfig{
			AutoSaveInterval: 5,
			MaxRecent:        10,
			ResumeOnStartup:  true,
			StoragePath:      "~/.ai-shell/conversations",
		},
		RateLimit: RateLimitConfig{
			MaxRetries:         3,
			BaseDelay:          1 * time.Second,
			MaxDelay:           30 * time.Second,
			TokensPerMinute:    100000,
			EnableRateLimiting: false,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "~/.ai-shell/history.db",
		},
	}
	cfg.Incognito.Enabled = true
	cfg.Incognito.API.URL = "http://localhost:11434/v1"
	cfg.Incognito.API.APIKey = "ollama"
	cfg.Incognito.Model.Name = "llama3.2:latest"
	cfg.Incognito.Model.DisplayName = "Llama 3.2"
	cfg.Prompt = DefaultPromptConfig()
	return cfg
}

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// Path overrides the search path list (the --config flag).
	Path string
	// CreateIfMissing writes a default config when none exists.
	CreateIfMissing bool
}

// Load loads configuration from the first config file found, applies
// environment overrides, normalizes legacy layouts and validates.
// Every failure is a config-category error.
func Load(opts LoadOptions) (*Config, error) {
	cfg := DefaultConfig()

	paths := getConfigPaths(opts.Path)
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := cfg.loadFromFile(path); err != nil {
				return nil, shellerr.ConfigLoadFailed(path, err)
			}
			cfg.configPath = path
			break
		}
	}

	if cfg.configPath == "" {
		path := paths[0]
		if opts.CreateIfMissing {
			if err := Save(cfg, path); err != nil {
				return nil, shellerr.ConfigLoadFailed(path, err)
			}
		}
		cfg.configPath = path
		cfg.applyEnv()
		if cfg.API.APIKey == placeholderKey {
			return nil, shellerr.ConfigInvalid("api.api_key",
				fmt.Sprintf("is not set: edit %s or run 'aishell setup'", path))
		}
	} else {
		cfg.applyEnv()
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads path over the defaults without environment overrides or
// validation. A missing file yields the defaults. Used by the setup wizard.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.configPath = path
	if _, err := os.Stat(path); err != nil {
		return cfg, nil
	}
	if err := cfg.loadFromFile(path); err != nil {
		return nil, shellerr.ConfigLoadFailed(path, err)
	}
	cfg.normalize()
	return cfg, nil
}

// DefaultPath is the first config path Load would try.
func DefaultPath(explicit string) string {
	paths := getConfigPaths(explicit)
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return paths[0]
}

// getConfigPaths returns config file paths in priority order
func getConfigPaths(explicit string) []string {
	if explicit != "" {
		return []string{expandHome(explicit)}
	}
	if env := os.Getenv("AISHELL_CONFIG"); env != "" {
		return []string{expandHome(env)}
	}
	dir := Dir()
	return []string{
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "config.yml"),
		filepath.Join(dir, "config.toml"),
	}
}

// Dir is ~/.config/ai-shell.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "ai-shell")
	}
	return filepath.Join(home, ".config", "ai-shell")
}

// DataDir is ~/.ai-shell, home of conversations, logs and history.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ai-shell"
	}
	return filepath.Join(home, ".ai-shell")
}

// loadFromFile loads config from a YAML or TOML file, chosen by extension
func (c *Config) loadFromFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() > MaxConfigSize {
		return fmt.Errorf("file is larger than %d bytes", MaxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Start from an empty model map so configured aliases replace the defaults.
	c.Models.Available = nil
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err = toml.Decode(string(data), c)
		return err
	}
	return yaml.Unmarshal(data, c)
}

// applyEnv lets environment variables override secrets and endpoints.
func (c *Config) applyEnv() {
	if v := os.Getenv("AISHELL_API_KEY"); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv("AISHELL_API_URL"); v != "" {
		c.API.URL = v
	}
	if v := os.Getenv("TAVILY_API_KEY"); v != "" {
		c.Tavily.APIKey = v
	}
}

// normalize folds legacy layouts into the current one and fills gaps.
func (c *Config) normalize() {
	if c.Models.ResponseModel == "" && c.Models.Default != "" {
		c.Models.ResponseModel = c.Models.Default
	}
	if len(c.Models.Available) == 0 && c.API.Model != "" {
		parts := strings.Split(c.API.Model, "/")
		c.Models.Available = map[string]ModelEntry{
			"default": {Name: c.API.Model, Alias: "default", DisplayName: parts[len(parts)-1]},
		}
		c.Models.ResponseModel = "default"
	}
	c.Models.Default = ""
	c.API.Model = ""

	for alias, m := range c.Models.Available {
		if m.Alias == "" {
			m.Alias = alias
		}
		if m.DisplayName == "" {
			m.DisplayName = m.Name
		}
		c.Models.Available[alias] = m
	}
	if c.Models.TaskCheckerModel == "" {
		c.Models.TaskCheckerModel = c.Models.ResponseModel
	}
	if c.API.Provider == "" {
		c.API.Provider = ProviderOpenAI
	}
	c.API.URL = strings.TrimRight(c.API.URL, "/")
	c.Prompt.fill()
}

// Validate checks that required settings are present and coherent.
func (c *Config) Validate() error {
	if c.API.URL == "" {
		return shellerr.ConfigInvalid("api.url", "is required")
	}
	if c.API.APIKey == "" || c.API.APIKey == placeholderKey {
		return shellerr.ConfigInvalid("api.api_key", "must be set to a real key")
	}
	if c.API.Provider != ProviderOpenAI && c.API.Provider != ProviderAnthropic {
		return shellerr.ConfigInvalid("api.provider", fmt.Sprintf("%q is not openai or anthropic", c.API.Provider))
	}
	if len(c.Models.Available) == 0 {
		return shellerr.ConfigInvalid("models.available", "must list at least one model")
	}
	if _, ok := c.Models.Available[c.Models.ResponseModel]; !ok {
		return shellerr.ConfigInvalid("models.response_model",
			fmt.Sprintf("%q is not in models.available", c.Models.ResponseModel))
	}
	if _, ok := c.Models.Available[c.Models.TaskCheckerModel]; !ok {
		return shellerr.ConfigInvalid("models.task_checker_model",
			fmt.Sprintf("%q is not in models.available", c.Models.TaskCheckerModel))
	}
	for alias, m := range c.Models.Available {
		if m.Name == "" {
			return shellerr.ConfigInvalid("models.available."+alias+".name", "is required")
		}
	}
	if c.Settings.MaxRetries < 1 {
		return shellerr.ConfigInvalid("settings.max_retries", "must be at least 1")
	}
	if c.Settings.MaxHistory < 0 {
		return shellerr.ConfigInvalid("settings.max_history", "must not be negative")
	}
	if c.Settings.DefaultMode != ModeAI && c.Settings.DefaultMode != ModeDirect {
		return shellerr.ConfigInvalid("settings.default_mode", "must be \"ai\" or \"direct\"")
	}
	if c.Conversations.AutoSaveInterval < 1 {
		return shellerr.ConfigInvalid("conversations.auto_save_interval", "must be at least 1")
	}
	if c.Conversations.MaxRecent < 1 {
		return shellerr.ConfigInvalid("conversations.max_recent", "must be at least 1")
	}
	return nil
}

// Save writes cfg to path as YAML or TOML depending on the extension.
// The write goes through a temp file so an interrupted save leaves the old file intact.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var data []byte
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var sb strings.Builder
		if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
			return err
		}
		data = []byte("# aishell configuration\n\n" + sb.String())
	} else {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		data = append([]byte("# aishell configuration\n\n"), out...)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ConfigPath returns where the config was loaded from
func (c *Config) ConfigPath() string {
	return c.configPath
}

// ContextPath is context.md next to the config file.
func (c *Config) ContextPath() string {
	if c.configPath == "" {
		return filepath.Join(Dir(), "context.md")
	}
	return filepath.Join(filepath.Dir(c.configPath), "context.md")
}

// StoragePath is the expanded conversations directory.
func (c *Config) StoragePath() string {
	return expandHome(c.Conversations.StoragePath)
}

// HistoryPath is the expanded audit log path.
func (c *Config) HistoryPath() string {
	return expandHome(c.History.Path)
}

// ModelAliases returns the configured aliases in sorted order.
func (c *Config) ModelAliases() []string {
	aliases := make([]string, 0, len(c.Models.Available))
	for a := range c.Models.Available {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	return aliases
}

// SearchEnabled reports whether any search backend is configured.
func (c *Config) SearchEnabled() bool {
	if c.WebSearch.Model != "" {
		return c.WebSearch.Enabled
	}
	return c.Tavily.APIKey != "" && c.Tavily.APIKey != placeholderKey
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

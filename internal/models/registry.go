// Package models tracks the configured model aliases and which one is active.
package models

import (
	"errors"
	"sort"
	"sync"

	"github.com/abdul-hamid-achik/aishell/internal/config"
	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
	"github.com/abdul-hamid-achik/aishell/internal/llm"
)

// ErrAlreadySelected is returned by Switch when the alias is already current.
var ErrAlreadySelected = errors.New("model already selected")

// IncognitoAlias is the alias reported while the incognito override is active.
const IncognitoAlias = "incognito"

// ModelConfig describes one selectable model.
type ModelConfig struct {
	Alias       string
	Name        string // provider-facing model name
	DisplayName string
	Provider    string // "openai" or "anthropic"
}

// Label is the name shown to the user.
func (m ModelConfig) Label() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Name
}

// Registry holds the available models and the current selection.
type Registry struct {
	mu          sync.RWMutex
	models      map[string]ModelConfig
	current     string
	taskChecker string
	override    *ModelConfig

	api       config.APIConfig
	incognito config.IncognitoConfig
}

// NewRegistry builds a registry from cfg. cfg must have passed Validate.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		models:      make(map[string]ModelConfig, len(cfg.Models.Available)),
		current:     cfg.Models.ResponseModel,
		taskChecker: cfg.Models.TaskCheckerModel,
		api:         cfg.API,
		incognito:   cfg.Incognito,
	}
	for alias, m := range cfg.Models.Available {
		provider := m.Provider
		if provider == "" {
			provider = cfg.API.Provider
		}
		r.models[alias] = ModelConfig{
			Alias:       alias,
			Name:        m.Name,
			DisplayName: m.DisplayName,
			Provider:    provider,
		}
	}
	if r.taskChecker == "" {
		r.taskChecker = r.current
	}
	return r
}

// Current returns the active model, or the incognito override while it is set.
func (r *Registry) Current() ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.override != nil {
		return *r.override
	}
	return r.models[r.current]
}

// CurrentAlias returns the alias of the selected (non-override) model.
func (r *Registry) CurrentAlias() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// TaskChecker returns the model used for task completion checks.
// While incognito is active the override is used so nothing leaves the machine.
func (r *Registry) TaskChecker() ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.override != nil {
		return *r.override
	}
	return r.models[r.taskChecker]
}

// Switch makes alias the current model. The match is exact and case-sensitive.
// An unknown alias leaves the selection unchanged.
func (r *Registry) Switch(alias string) (ModelConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[alias]
	if !ok {
		return ModelConfig{}, shellerr.ModelNotFound(alias)
	}
	if alias == r.current {
		return m, ErrAlreadySelected
	}
	r.current = alias
	return m, nil
}

// Lookup returns the model for alias.
func (r *Registry) Lookup(alias string) (ModelConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[alias]
	return m, ok
}

// List returns all models sorted by alias.
func (r *Registry) List() []ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelConfig, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// Aliases returns the sorted alias list, for completion.
func (r *Registry) Aliases() []string {
	list := r.List()
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.Alias
	}
	return out
}

// IncognitoAvailable reports whether a local incognito provider is configured.
func (r *Registry) IncognitoAvailable() bool {
	return r.incognito.Enabled && r.incognito.API.URL != "" && r.incognito.Model.Name != ""
}

// SetIncognito installs or removes the incognito override.
func (r *Registry) SetIncognito(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !on {
		r.override = nil
		return
	}
	r.override = &ModelConfig{
		Alias:       IncognitoAlias,
		Name:        r.incognito.Model.Name,
		DisplayName: r.incognito.Model.DisplayName,
		Provider:    config.ProviderOpenAI,
	}
}

// Incognito reports whether the override is active.
func (r *Registry) Incognito() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.override != nil
}

// Endpoint returns the transport settings for m.
func (r *Registry) Endpoint(m ModelConfig) llm.Endpoint {
	if m.Alias == IncognitoAlias {
		return llm.Endpoint{
			URL:       r.incognito.API.URL,
			APIKey:    r.incognito.API.APIKey,
			Provider:  config.ProviderOpenAI,
			Timeout:   r.api.Timeout,
			MaxTokens: r.api.MaxTokens,
		}
	}
	ep := llm.Endpoint{
		URL:       r.api.URL,
		APIKey:    r.api.APIKey,
		Provider:  m.Provider,
		Timeout:   r.api.Timeout,
		MaxTokens: r.api.MaxTokens,
	}
	// a per-model anthropic override on an OpenAI-compatible gateway talks
	// to Anthropic directly
	if m.Provider == config.ProviderAnthropic && r.api.Provider != config.ProviderAnthropic {
		ep.URL = ""
		ep.APIKey = r.api.AnthropicKey
	}
	return ep
}

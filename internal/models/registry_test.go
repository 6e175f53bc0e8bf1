package models

import (
	"errors"
	"testing"

	"github.com/abdul-hamid-achik/aishell/internal/config"
	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.API.APIKey = "sk-test"
	cfg.API.AnthropicKey = "ant-test"
	cfg.Models.ResponseModel = "gpt"
	cfg.Models.TaskCheckerModel = "mini"
	cfg.Models.Available = map[string]config.ModelEntry{
		"gpt":    {Name: "openai/gpt-4o", DisplayName: "GPT-4o"},
		"mini":   {Name: "openai/gpt-4o-mini"},
		"sonnet": {Name: "claude-sonnet-4-5", DisplayName: "Sonnet", Provider: config.ProviderAnthropic},
	}
	return cfg
}

func TestRegistry_Current(t *testing.T) {
	r := NewRegistry(testConfig())
	if got := r.Current().Alias; got != "gpt" {
		t.Errorf("Current() = %q, want gpt", got)
	}
	if got := r.TaskChecker().Alias; got != "mini" {
		t.Errorf("TaskChecker() = %q, want mini", got)
	}
}

func TestRegistry_Switch(t *testing.T) {
	tests := []struct {
		name      string
		alias     string
		wantErr   error
		wantAlias string
	}{
		{name: "known alias", alias: "sonnet", wantAlias: "sonnet"},
		{name: "same alias", alias: "gpt", wantErr: ErrAlreadySelected, wantAlias: "gpt"},
		{name: "unknown alias", alias: "nope", wantErr: shellerr.ModelNotFound("nope"), wantAlias: "gpt"},
		{name: "case sensitive", alias: "GPT", wantErr: shellerr.ModelNotFound("GPT"), wantAlias: "gpt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(testConfig())
			_, err := r.Switch(tt.alias)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got := r.Current().Alias; got != tt.wantAlias {
				t.Errorf("Current() = %q, want %q", got, tt.wantAlias)
			}
		})
	}
}

func TestRegistry_SwitchTwiceReportsAlreadySelected(t *testing.T) {
	r := NewRegistry(testConfig())
	if _, err := r.Switch("mini"); err != nil {
		t.Fatalf("first switch: %v", err)
	}
	if _, err := r.Switch("mini"); !errors.Is(err, ErrAlreadySelected) {
		t.Errorf("second switch error = %v, want ErrAlreadySelected", err)
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry(testConfig())
	got := r.Aliases()
	want := []string{"gpt", "mini", "sonnet"}
	if len(got) != len(want) {
		t.Fatalf("Aliases() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Aliases()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistry_ProviderInheritance(t *testing.T) {
	r := NewRegistry(testConfig())
	gpt, _ := r.Lookup("gpt")
	if gpt.Provider != config.ProviderOpenAI {
		t.Errorf("gpt provider = %q, want openai", gpt.Provider)
	}
	if gpt.Label() != "GPT-4o" {
		t.Errorf("Label() = %q", gpt.Label())
	}
	mini, _ := r.Lookup("mini")
	if mini.Label() != "openai/gpt-4o-mini" {
		t.Errorf("Label() without display name = %q", mini.Label())
	}
}

func TestRegistry_Endpoint(t *testing.T) {
	r := NewRegistry(testConfig())

	gpt, _ := r.Lookup("gpt")
	ep := r.Endpoint(gpt)
	if ep.URL != "https://openrouter.ai/api/v1" || ep.APIKey != "sk-test" || ep.Provider != "openai" {
		t.Errorf("unexpected gpt endpoint %+v", ep)
	}

	sonnet, _ := r.Lookup("sonnet")
	ep = r.Endpoint(sonnet)
	if ep.URL != "" || ep.APIKey != "ant-test" || ep.Provider != "anthropic" {
		t.Errorf("unexpected anthropic endpoint %+v", ep)
	}
}

func TestRegistry_Incognito(t *testing.T) {
	r := NewRegistry(testConfig())
	if !r.IncognitoAvailable() {
		t.Fatal("default config should provide an incognito model")
	}

	r.SetIncognito(true)
	if !r.Incognito() {
		t.Error("Incognito() = false after enabling")
	}
	cur := r.Current()
	if cur.Alias != IncognitoAlias || cur.Name != "llama3.2:latest" {
		t.Errorf("unexpected override %+v", cur)
	}
	if r.TaskChecker().Alias != IncognitoAlias {
		t.Error("task checker should use the override while incognito")
	}
	if ep := r.Endpoint(cur); ep.URL != "http://localhost:11434/v1" {
		t.Errorf("incognito endpoint URL = %q", ep.URL)
	}
	if r.CurrentAlias() != "gpt" {
		t.Errorf("selection should survive incognito, got %q", r.CurrentAlias())
	}

	r.SetIncognito(false)
	if r.Current().Alias != "gpt" {
		t.Errorf("Current() after disabling = %q, want gpt", r.Current().Alias)
	}
}

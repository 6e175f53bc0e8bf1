package config

// PromptSection is one coloured piece of the input prompt.
// Text may contain $model, $dir, $mode, $user and $host.
type PromptSection struct {
	Text string `yaml:"text" toml:"text"`
	FG   string `yaml:"fg,omitempty" toml:"fg,omitempty"`
	BG   string `yaml:"bg,omitempty" toml:"bg,omitempty"`
}

// PromptConfig holds per-mode prompt layouts. Sections, when set,
// applies to every mode that has no explicit layout.
type PromptConfig struct {
	Sections  []PromptSection `yaml:"sections,omitempty" toml:"sections,omitempty"`
	AI        []PromptSection `yaml:"ai,omitempty" toml:"ai,omitempty"`
	Direct    []PromptSection `yaml:"direct,omitempty" toml:"direct,omitempty"`
	Incognito []PromptSection `yaml:"incognito,omitempty" toml:"incognito,omitempty"`
}

// DefaultPromptConfig returns the built-in prompt layouts.
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		AI: []PromptSection{
			{Text: "AI Shell ", FG: "#0066cc"},
			{Text: "[$mode - $model] ", FG: "#0066cc"},
			{Text: "$dir", FG: "#666666"},
			{Text: " > ", FG: "#0066cc"},
		},
		Direct: []PromptSection{
			{Text: "AI Shell ", FG: "#00cc66"},
			{Text: "[Direct] ", FG: "#00cc66"},
			{Text: "$dir", FG: "#666666"},
			{Text: " > ", FG: "#00cc66"},
		},
		Incognito: []PromptSection{
			{Text: "AI Shell ", FG: "#8b3fbb"},
			{Text: "[Incognito - $model] ", FG: "#8b3fbb"},
			{Text: "$dir", FG: "#666666"},
			{Text: " > ", FG: "#8b3fbb"},
		},
	}
}

// ForMode returns the sections for "ai", "direct" or "incognito".
func (p PromptConfig) ForMode(mode string) []PromptSection {
	switch mode {
	case ModeDirect:
		return p.Direct
	case "incognito":
		return p.Incognito
	default:
		return p.AI
	}
}

func (p *PromptConfig) fill() {
	defaults := DefaultPromptConfig()
	pick := func(cur, def []PromptSection) []PromptSection {
		if len(cur) > 0 {
			return cur
		}
		if len(p.Sections) > 0 {
			return p.Sections
		}
		return def
	}
	p.AI = pick(p.AI, defaults.AI)
	p.Direct = pick(p.Direct, defaults.Direct)
	p.Incognito = pick(p.Incognito, defaults.Incognito)
}

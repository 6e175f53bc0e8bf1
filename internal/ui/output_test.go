package ui

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/aishell/internal/config"
	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
)

func TestSafeCommandPanel(t *testing.T) {
	output, out, _ := plainOutput()

	output.SafeCommand("ls -la")
	got := out.String()
	if !strings.Contains(got, "Safe Command") {
		t.Errorf("missing title: %q", got)
	}
	if !strings.Contains(got, "Auto-executing safe command: `ls -la`") {
		t.Errorf("missing body: %q", got)
	}
	if strings.Contains(got, "\x1b[") {
		t.Errorf("colors disabled but escapes present: %q", got)
	}
}

func TestSafeCommandPanelTruncates(t *testing.T) {
	output, out, _ := plainOutput()

	output.SafeCommand("grep -r " + strings.Repeat("x", 200) + " .")
	if strings.Contains(out.String(), strings.Repeat("x", 100)) {
		t.Error("long safe command should be cut")
	}
	if !strings.Contains(out.String(), "...") {
		t.Error("cut command should end in ...")
	}
}

func TestProposedCommandWarning(t *testing.T) {
	output, out, _ := plainOutput()

	output.ProposedCommand("rm -rf /tmp/cache", "recursive delete")
	got := out.String()
	if !strings.Contains(got, "Proposed Command") || !strings.Contains(got, "rm -rf /tmp/cache") {
		t.Errorf("unexpected panel: %q", got)
	}
	if !strings.Contains(got, "⚠ recursive delete") {
		t.Errorf("missing warning: %q", got)
	}
}

func TestErrorUsesUserMessage(t *testing.T) {
	output, _, errOut := plainOutput()

	output.Error(shellerr.ModelNotFound("gpt9"))
	if !strings.HasPrefix(errOut.String(), "Error: ") {
		t.Errorf("unexpected error line: %q", errOut.String())
	}

	errOut.Reset()
	output.Error(errors.New("plain failure"))
	if !strings.Contains(errOut.String(), "plain failure") {
		t.Errorf("unexpected error line: %q", errOut.String())
	}
}

func TestCommandStatus(t *testing.T) {
	output, out, _ := plainOutput()

	output.CommandStatus(0, 1234*time.Millisecond)
	output.CommandStatus(2, 50*time.Millisecond)
	got := out.String()
	if !strings.Contains(got, "✓ done in 1.23s") {
		t.Errorf("missing success line: %q", got)
	}
	if !strings.Contains(got, "✗ exit code 2 after 50ms") {
		t.Errorf("missing failure line: %q", got)
	}
}

func TestReplyPlainKeepsText(t *testing.T) {
	output, out, _ := plainOutput()

	output.Reply("# Title\n\n```command\nls\n```", true)
	if out.String() != "# Title\n\n```command\nls\n```\n" {
		t.Errorf("plain reply changed: %q", out.String())
	}
}

func TestFormatTable(t *testing.T) {
	got := FormatTable(
		[]string{"Alias", "Name"},
		[][]string{
			{"fast", "gpt-4o-mini"},
			{"日本", strings.Repeat("n", 30)},
		},
		12,
	)
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %q", len(lines), got)
	}
	if lines[0] != "  Alias  Name" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[2] != "  fast   gpt-4o-mini" {
		t.Errorf("row = %q", lines[2])
	}
	if lines[3] != "  日本   nnnnnnnnnnn…" {
		t.Errorf("wide row = %q", lines[3])
	}
}

func TestPrompt(t *testing.T) {
	output, _, _ := plainOutput()
	sections := []config.PromptSection{
		{Text: "AI Shell ", FG: "#0066cc"},
		{Text: "[$mode - $model] ", FG: "#0066cc"},
		{Text: "$dir", FG: "#666666"},
		{Text: " > ", FG: "#0066cc"},
	}

	header, prompt := output.Prompt(sections, PromptVars{Model: "gpt4", Mode: "ai", Dir: "/srv/app"})
	if header != "AI Shell [ai - gpt4] /srv/app" {
		t.Errorf("header = %q", header)
	}
	if prompt != "> " {
		t.Errorf("prompt = %q", prompt)
	}

	header, prompt = output.Prompt(nil, PromptVars{})
	if header != "" || prompt != "> " {
		t.Errorf("empty sections gave %q, %q", header, prompt)
	}
}

func TestShortenHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ShortenHome(home); got != "~" {
		t.Errorf("ShortenHome(home) = %q", got)
	}
	if got := ShortenHome(filepath.Join(home, "src")); got != filepath.Join("~", "src") {
		t.Errorf("ShortenHome(home/src) = %q", got)
	}
	if got := ShortenHome("/nonexistent-root/x"); got != "/nonexistent-root/x" {
		t.Errorf("unrelated path changed: %q", got)
	}
}

package permissions

import (
	"fmt"
	"strings"
	"sync"

	"github.com/abdul-hamid-achik/aishell/internal/logging"
	"github.com/abdul-hamid-achik/aishell/internal/shell"
)

// Mode defines the permission checking mode
type Mode int

const (
	ModeAsk    Mode = iota // Prompt, auto-approve safe commands
	ModeAuto               // Approve everything without asking
	ModeStrict             // Run safe commands only
)

func (m Mode) String() string {
	switch m {
	case ModeAsk:
		return "ask"
	case ModeAuto:
		return "auto"
	case ModeStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// ModeFromSettings maps settings.confirm_commands and settings.strict_mode
// to a Mode. Strict wins.
func ModeFromSettings(confirm, strict bool) Mode {
	switch {
	case strict:
		return ModeStrict
	case !confirm:
		return ModeAuto
	default:
		return ModeAsk
	}
}

// Source records who approved or denied a command.
type Source string

const (
	SourceUser   Source = "user"
	SourceAuto   Source = "auto"
	SourceSafe   Source = "safe"
	SourceConfig Source = "config"
)

// NoReason is recorded when a decline comes without a reason.
const NoReason = "No reason provided"

// Decision is the outcome of a permission check.
type Decision struct {
	Approved bool
	Reason   string
	Source   Source
}

// InputHandler interface for getting user input
type InputHandler interface {
	ReadLine(prompt string) (string, error)
}

// OutputHandler shows what is about to run.
type OutputHandler interface {
	ProposedCommand(command, warning string)
	SafeCommand(command string)
	Info(msg string)
}

// Policy decides whether a proposed command may run.
type Policy struct {
	mu          sync.Mutex
	mode        Mode
	safe        shell.SafeList
	input       InputHandler
	output      OutputHandler
	autoApprove bool
}

// NewPolicy creates a new permission policy. A nil safe list means no
// command is considered safe.
func NewPolicy(mode Mode, safe shell.SafeList, input InputHandler, output OutputHandler) *Policy {
	return &Policy{
		mode:   mode,
		safe:   safe,
		input:  input,
		output: output,
	}
}

// Check decides whether command may run, prompting when needed. Commands
// matching a danger pattern are always confirmed, even in auto mode or
// after "a". An error means the prompt itself failed.
func (p *Policy) Check(command string) (Decision, error) {
	p.mu.Lock()
	mode, auto := p.mode, p.autoApprove
	p.mu.Unlock()

	warning := shell.Danger(command)
	safe := p.safe != nil && p.safe.IsSafe(command)

	switch {
	case mode == ModeStrict && safe:
		p.output.SafeCommand(command)
		return p.allow(command, SourceSafe), nil
	case mode == ModeStrict:
		return p.deny(command, "strict mode allows only safe commands", SourceConfig), nil
	case warning == "" && mode == ModeAuto:
		return p.allow(command, SourceConfig), nil
	case warning == "" && auto:
		return p.allow(command, SourceAuto), nil
	case warning == "" && safe:
		p.output.SafeCommand(command)
		return p.allow(command, SourceSafe), nil
	}

	return p.promptUser(command, warning)
}

// promptUser asks the user for permission
func (p *Policy) promptUser(command, warning string) (Decision, error) {
	p.output.ProposedCommand(command, warning)

	response, err := p.input.ReadLine("Execute? [Y/n/a] ")
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read response: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(response)) {
	case "", "y", "yes":
		return p.allow(command, SourceUser), nil

	case "a", "all", "always":
		p.mu.Lock()
		p.autoApprove = true
		p.mu.Unlock()
		p.output.Info("Auto-approving commands for this request")
		return p.allow(command, SourceUser), nil

	case "n", "no":
		reason, err := p.input.ReadLine("Reason for decline (optional): ")
		if err != nil {
			return Decision{}, fmt.Errorf("failed to read reason: %w", err)
		}
		reason = strings.TrimSpace(reason)
		if reason == "" {
			reason = NoReason
		}
		return p.deny(command, reason, SourceUser), nil

	default:
		return p.deny(command, fmt.Sprintf("unrecognized response %q", response), SourceUser), nil
	}
}

func (p *Policy) allow(command string, src Source) Decision {
	logging.LogEvent(logging.EventCommandApproved, logging.Command(command), logging.F("source", string(src)))
	return Decision{Approved: true, Source: src}
}

func (p *Policy) deny(command, reason string, src Source) Decision {
	logging.LogEvent(logging.EventCommandDeclined, logging.Command(command), logging.Reason(reason))
	logging.GlobalMetrics().RecordDeclined()
	return Decision{Approved: false, Reason: reason, Source: src}
}

// ResetRequest clears the per-request auto-approve set by "a".
func (p *Policy) ResetRequest() {
	p.mu.Lock()
	p.autoApprove = false
	p.mu.Unlock()
}

// AutoApproving reports whether "a" was answered during this request.
func (p *Policy) AutoApproving() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoApprove
}

// IsSafe reports whether command is on the safe list.
func (p *Policy) IsSafe(command string) bool {
	return p.safe != nil && p.safe.IsSafe(command)
}

// GetMode returns the current permission mode
func (p *Policy) GetMode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// SetMode changes the permission mode
func (p *Policy) SetMode(mode Mode) {
	p.mu.Lock()
	p.mode = mode
	p.mu.Unlock()
}

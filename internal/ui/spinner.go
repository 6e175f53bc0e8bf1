package ui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Braille spinner animation frames
var spinnerFrames = []rune{'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏'}

// SpinnerConfig holds configuration for a countdown display
type SpinnerConfig struct {
	Message     string        // Main message (e.g., "Rate limited")
	Reason      string        // Reason for waiting (e.g., "API returned 429")
	Duration    time.Duration // Total wait duration
	Attempt     int           // Current attempt number (1-based)
	MaxAttempts int           // Maximum number of attempts
}

// Spinner provides animated terminal feedback
type Spinner struct {
	output *OutputHandler
}

// NewSpinner creates a new spinner attached to an output handler
func NewSpinner(output *OutputHandler) *Spinner {
	return &Spinner{output: output}
}

// Begin shows an activity spinner with message on stderr and returns the
// function that removes it. The stop function is safe to call more than
// once. Nothing is drawn when output is not a terminal.
func (s *Spinner) Begin(message string) (stop func()) {
	if !s.output.IsTTY() {
		return func() {}
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = s.output.style(colorAccent)

	m := activityModel{
		spinner: sp,
		message: s.output.style(colorMuted).Render(message),
	}
	p := tea.NewProgram(m,
		tea.WithOutput(s.output.ErrWriter()),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Run()
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.Send(stopActivity{})
			<-done
		})
	}
}

type stopActivity struct{}

type activityModel struct {
	spinner  spinner.Model
	message  string
	quitting bool
}

func (m activityModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m activityModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stopActivity:
		m.quitting = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m activityModel) View() string {
	if m.quitting {
		return ""
	}
	return m.spinner.View() + " " + m.message
}

// Start displays a countdown until duration elapses or context is cancelled.
// It blocks until complete.
func (s *Spinner) Start(ctx context.Context, cfg SpinnerConfig) error {
	// Skip spinner for very short waits to avoid flicker
	if cfg.Duration < 500*time.Millisecond {
		return wait(ctx, cfg.Duration)
	}

	if !s.output.IsTTY() {
		fmt.Fprintln(s.output.ErrWriter(), "ℹ "+staticLine(cfg))
		return wait(ctx, cfg.Duration)
	}
	return s.animatedWait(ctx, cfg)
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// staticLine formats a single status line for non-TTY output:
// "Rate limited: waiting 45s (retry 2/5, API returned 429)"
func staticLine(cfg SpinnerConfig) string {
	msg := fmt.Sprintf("%s: waiting %s", cfg.Message, formatDuration(cfg.Duration))
	switch {
	case cfg.MaxAttempts > 0 && cfg.Reason != "":
		msg += fmt.Sprintf(" (retry %d/%d, %s)", cfg.Attempt, cfg.MaxAttempts, cfg.Reason)
	case cfg.MaxAttempts > 0:
		msg += fmt.Sprintf(" (retry %d/%d)", cfg.Attempt, cfg.MaxAttempts)
	case cfg.Reason != "":
		msg += fmt.Sprintf(" (%s)", cfg.Reason)
	}
	return msg
}

// animatedWait redraws a countdown line every 100ms on stderr
func (s *Spinner) animatedWait(ctx context.Context, cfg SpinnerConfig) error {
	start := time.Now()
	frame := 0
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	defer fmt.Fprint(s.output.ErrWriter(), ClearLine+CursorStart)

	for {
		remaining := max(cfg.Duration-time.Since(start), 0)
		line := s.statusLine(spinnerFrames[frame], cfg, remaining)
		fmt.Fprint(s.output.ErrWriter(), ClearLine+CursorStart+line)

		if remaining == 0 {
			return nil
		}

		select {
		case <-ticker.C:
			frame = (frame + 1) % len(spinnerFrames)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// statusLine builds "⠹ Rate limited | Retry 2/5 | API returned 429 | 45s remaining"
func (s *Spinner) statusLine(frame rune, cfg SpinnerConfig, remaining time.Duration) string {
	sep := s.output.style(colorMuted).Render(" | ")
	line := s.output.style(colorAccent).Render(string(frame)) + " " + s.output.style(colorWarn).Render(cfg.Message)
	if cfg.MaxAttempts > 0 {
		line += sep + fmt.Sprintf("Retry %d/%d", cfg.Attempt, cfg.MaxAttempts)
	}
	if cfg.Reason != "" {
		line += sep + cfg.Reason
	}
	return line + sep + s.output.r.NewStyle().Bold(true).Render(formatDuration(remaining)+" remaining")
}

// formatDuration formats a duration for display (45s, 1m30s, 5m00s)
func formatDuration(d time.Duration) string {
	d = max(d.Round(time.Second), 0)

	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60

	if minutes == 0 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm%02ds", minutes, seconds)
}

package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
	"github.com/abdul-hamid-achik/aishell/internal/logging"
)

const (
	// MaxOutput caps each captured stream.
	MaxOutput = 50000

	truncatedSuffix = "\n... (output truncated)"
	// waitDelay bounds how long a cancelled command may hold its pipes open.
	waitDelay = 500 * time.Millisecond
)

// dirCommands change the working directory of the shell they run in.
var dirCommands = map[string]bool{"cd": true, "pushd": true, "popd": true}

// colorEnv keeps child programs producing colored output.
var colorEnv = []string{"TERM=xterm-256color", "FORCE_COLOR=1", "COLORTERM=truecolor"}

// Result is the outcome of one command.
type Result struct {
	Command   string
	Stdout    string
	Stderr    string
	ExitCode  int
	Directory string
	Duration  time.Duration
}

// Success reports a zero exit status.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Err returns a command-category error for a non-zero exit.
func (r Result) Err() error {
	if r.Success() {
		return nil
	}
	return shellerr.CommandFailed(r.Command, r.ExitCode)
}

// Output joins stdout and stderr the way they are shown to the model.
func (r Result) Output() string {
	var b strings.Builder
	b.WriteString(r.Stdout)
	if r.Stderr != "" {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
		b.WriteString(r.Stderr)
	}
	out := strings.TrimRight(b.String(), "\n")
	if out == "" {
		return "(no output)"
	}
	return out
}

// Format renders a result as the text fed back to the model.
func Format(r Result) string {
	var b strings.Builder
	b.WriteString(r.Output())
	if !r.Success() {
		fmt.Fprintf(&b, "\nExit code: %d", r.ExitCode)
	}
	return b.String()
}

// Runner executes shell commands. The orchestrator depends on this
// interface so tests can record calls.
type Runner interface {
	Run(ctx context.Context, command string) (Result, error)
	Cwd() string
}

// Options configures an Executor.
type Options struct {
	// Dir is the starting directory; empty means the process cwd.
	Dir string
	// Stdin, Stdout and Stderr are attached to the child in addition to the
	// capture buffers. Nil streams are not attached.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Shell defaults to bash.
	Shell string
}

// Executor runs commands through bash and tracks the working directory
// across calls.
type Executor struct {
	mu    sync.Mutex
	cwd   string
	opts  Options
	shell string
}

// NewExecutor creates an executor starting in opts.Dir.
func NewExecutor(opts Options) *Executor {
	dir := opts.Dir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	sh := opts.Shell
	if sh == "" {
		sh = "bash"
	}
	return &Executor{cwd: dir, opts: opts, shell: sh}
}

// Cwd returns the tracked working directory. If it no longer exists the
// process working directory is used instead.
func (e *Executor) Cwd() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validCwdLocked()
}

// SetCwd replaces the tracked directory, used when a saved session is loaded.
func (e *Executor) SetCwd(dir string) bool {
	if !isDir(dir) {
		return false
	}
	e.mu.Lock()
	e.cwd = dir
	e.mu.Unlock()
	return true
}

func (e *Executor) validCwdLocked() string {
	if isDir(e.cwd) {
		return e.cwd
	}
	wd, err := os.Getwd()
	if err != nil {
		return e.cwd
	}
	logging.Warn("tracked directory missing, falling back", logging.From(e.cwd), logging.To(wd))
	e.cwd = wd
	return wd
}

// Run executes command from the tracked directory. A non-zero exit is not
// an error; errors are returned only when the command could not run or
// was interrupted.
func (e *Executor) Run(ctx context.Context, command string) (Result, error) {
	command = strings.TrimSpace(command)
	e.mu.Lock()
	start := e.validCwdLocked()
	e.mu.Unlock()

	res := Result{Command: command, Directory: start}
	if command == "" {
		return res, fmt.Errorf("empty command")
	}

	script := wrap(start, command)
	var dirFile string
	if changesDir(command) {
		f, err := os.CreateTemp("", "aishell-cwd-*")
		if err != nil {
			logging.Warn("directory tracking disabled for command", logging.Command(command), logging.Error(err))
		} else {
			dirFile = f.Name()
			f.Close()
			defer os.Remove(dirFile)
			script = wrapTracked(start, command, dirFile)
		}
	}

	began := time.Now()
	cmd := exec.CommandContext(ctx, e.shell, "-c", script)
	cmd.Dir = start
	cmd.Env = append(os.Environ(), colorEnv...)
	cmd.WaitDelay = waitDelay

	stdout := &cappedBuffer{limit: MaxOutput}
	stderr := &cappedBuffer{limit: MaxOutput}
	cmd.Stdout = tee(stdout, e.opts.Stdout)
	cmd.Stderr = tee(stderr, e.opts.Stderr)
	if e.opts.Stdin != nil {
		cmd.Stdin = e.opts.Stdin
	}

	err := cmd.Run()
	res.Duration = time.Since(began)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if err != nil {
		if ctx.Err() != nil {
			res.ExitCode = -1
			return res, shellerr.UserAbort(ctx.Err())
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			res.ExitCode = -1
			logging.LogError("command failed to start", logging.Command(command), logging.Error(err))
			return res, fmt.Errorf("run %q: %w", command, err)
		}
		res.ExitCode = exitErr.ExitCode()
	}

	if dirFile != "" {
		if dir, ok := finalDir(dirFile); ok {
			e.mu.Lock()
			if dir != e.cwd {
				logging.Debug("directory changed", logging.From(e.cwd), logging.To(dir))
			}
			e.cwd = dir
			e.mu.Unlock()
		}
	}
	res.Directory = e.Cwd()

	logging.LogEvent(logging.EventCommandExec,
		logging.Command(command),
		logging.ExitCode(res.ExitCode),
		logging.Dir(res.Directory),
		logging.Duration(res.Duration),
	)
	return res, nil
}

// finalDir reads the directory the command's shell ended in. The file
// is empty when the shell exited before reaching the trailing pwd.
func finalDir(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	dir := strings.TrimSpace(string(data))
	if dir == "" || !isDir(dir) {
		return "", false
	}
	return dir, true
}

// changesDir reports whether command may move the shell, which is any
// cd/pushd/popd word outside a sudo invocation.
func changesDir(command string) bool {
	if strings.HasPrefix(command, "sudo") {
		return false
	}
	for _, f := range strings.FieldsFunc(command, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ';' || r == '&' || r == '|' || r == '(' || r == ')'
	}) {
		if dirCommands[f] {
			return true
		}
	}
	return false
}

func wrap(dir, command string) string {
	return "cd " + quote(dir) + " && " + command
}

// wrapTracked runs command once and records the shell's final directory
// in dirFile while keeping the command's exit status.
func wrapTracked(dir, command, dirFile string) string {
	return "cd " + quote(dir) + " && {\n" + command + "\n}\n" +
		"__aishell_rc=$?\npwd > " + quote(dirFile) + " 2>/dev/null\nexit $__aishell_rc"
}

// quote single-quotes s for bash.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isDir(p string) bool {
	if p == "" {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

func tee(buf *cappedBuffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

// cappedBuffer keeps the first limit bytes and discards the rest while
// still reporting full writes, so the child never blocks on a full pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room <= 0 {
		c.truncated = c.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + truncatedSuffix
	}
	return c.buf.String()
}

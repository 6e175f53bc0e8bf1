package shell

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
)

func newTestExecutor(t *testing.T) (*Executor, string) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return NewExecutor(Options{Dir: dir}), dir
}

func TestExecutor_RunCapturesOutput(t *testing.T) {
	e, dir := newTestExecutor(t)

	res, err := e.Run(context.Background(), "echo hello; echo oops >&2")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
	assert.True(t, res.Success())
	assert.NoError(t, res.Err())
	assert.Equal(t, dir, res.Directory)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestExecutor_RunsInTrackedDir(t *testing.T) {
	e, dir := newTestExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o644))

	res, err := e.Run(context.Background(), "ls")
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "marker.txt")
}

func TestExecutor_NonZeroExitIsNotAnError(t *testing.T) {
	e, _ := newTestExecutor(t)

	res, err := e.Run(context.Background(), "exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Success())
	assert.True(t, shellerr.IsCategory(res.Err(), shellerr.CategoryCommand))
	assert.Contains(t, Format(res), "Exit code: 3")
}

func TestExecutor_ColorEnvironment(t *testing.T) {
	e, _ := newTestExecutor(t)

	res, err := e.Run(context.Background(), `echo "$TERM $FORCE_COLOR $COLORTERM"`)
	require.NoError(t, err)
	assert.Equal(t, "xterm-256color 1 truecolor\n", res.Stdout)
}

func TestExecutor_CdUpdatesCwd(t *testing.T) {
	e, dir := newTestExecutor(t)
	sub := filepath.Join(dir, "sub dir")
	require.NoError(t, os.Mkdir(sub, 0o755))

	res, err := e.Run(context.Background(), "cd 'sub dir'")
	require.NoError(t, err)
	assert.Equal(t, sub, res.Directory)
	assert.Equal(t, sub, e.Cwd())

	res, err = e.Run(context.Background(), "pwd")
	require.NoError(t, err)
	assert.Equal(t, sub+"\n", res.Stdout)

	_, err = e.Run(context.Background(), "cd ..")
	require.NoError(t, err)
	assert.Equal(t, dir, e.Cwd())
}

func TestExecutor_FailedCdKeepsCwd(t *testing.T) {
	e, dir := newTestExecutor(t)

	res, err := e.Run(context.Background(), "cd does-not-exist")
	require.NoError(t, err)
	assert.NotEqual(t, 0, res.ExitCode)
	assert.Equal(t, dir, e.Cwd())
}

func TestExecutor_CdRunsCommandOnce(t *testing.T) {
	e, dir := newTestExecutor(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	res, err := e.Run(context.Background(), "echo hit >> counter.txt && cd sub")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	data, err := os.ReadFile(filepath.Join(dir, "counter.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hit\n", string(data))
	assert.Equal(t, filepath.Join(dir, "sub"), e.Cwd())
}

func TestExecutor_CdAfterSideEffect(t *testing.T) {
	e, dir := newTestExecutor(t)

	res, err := e.Run(context.Background(), "mkdir newdir && cd newdir")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, filepath.Join(dir, "newdir"), e.Cwd())
	assert.Equal(t, filepath.Join(dir, "newdir"), res.Directory)
}

func TestExecutor_CdKeepsExitCodeAndOutput(t *testing.T) {
	e, dir := newTestExecutor(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	res, err := e.Run(context.Background(), "cd sub && echo here && exit 4")
	require.NoError(t, err)
	assert.Equal(t, 4, res.ExitCode)
	assert.Equal(t, "here\n", res.Stdout)
	// the shell exited before recording its directory
	assert.Equal(t, dir, e.Cwd())

	res, err = e.Run(context.Background(), "cd sub && false")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, filepath.Join(dir, "sub"), e.Cwd())
}

func TestExecutor_CdWithTrailingComment(t *testing.T) {
	e, dir := newTestExecutor(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	res, err := e.Run(context.Background(), "cd sub # go there")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, filepath.Join(dir, "sub"), e.Cwd())
}

func TestExecutor_MissingCwdFallsBack(t *testing.T) {
	e, dir := newTestExecutor(t)
	gone := filepath.Join(dir, "gone")
	require.NoError(t, os.Mkdir(gone, 0o755))
	require.True(t, e.SetCwd(gone))
	require.NoError(t, os.Remove(gone))

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, e.Cwd())
}

func TestExecutor_SetCwdRejectsMissing(t *testing.T) {
	e, dir := newTestExecutor(t)
	assert.False(t, e.SetCwd(filepath.Join(dir, "nope")))
	assert.Equal(t, dir, e.Cwd())
}

func TestExecutor_OutputCapped(t *testing.T) {
	e, _ := newTestExecutor(t)

	res, err := e.Run(context.Background(), "head -c 60000 /dev/zero | tr '\\0' a")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Stdout, truncatedSuffix))
	assert.Len(t, res.Stdout, MaxOutput+len(truncatedSuffix))
}

func TestExecutor_TeesToWriters(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	var out bytes.Buffer
	e := NewExecutor(Options{Dir: t.TempDir(), Stdout: &out})

	res, err := e.Run(context.Background(), "echo live")
	require.NoError(t, err)
	assert.Equal(t, "live\n", out.String())
	assert.Equal(t, "live\n", res.Stdout)
}

func TestExecutor_Cancel(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := e.Run(ctx, "sleep 5")
	require.Error(t, err)
	assert.True(t, shellerr.IsCategory(err, shellerr.CategoryAbort))
}

func TestExecutor_EmptyCommand(t *testing.T) {
	e, _ := newTestExecutor(t)
	_, err := e.Run(context.Background(), "   ")
	assert.Error(t, err)
}

func TestChangesDir(t *testing.T) {
	tests := map[string]bool{
		"cd /tmp":          true,
		"pushd src":        true,
		"ls && cd ..":      true,
		"(cd sub; ls)":     true,
		"popd":             true,
		"echo cd":          true,
		"sudo cd /root":    false,
		"ls -la":           false,
		"cdrecord --help":  false,
		"grep -r cdn src/": false,
	}
	for cmd, want := range tests {
		assert.Equal(t, want, changesDir(cmd), cmd)
	}
}

func TestResultOutput(t *testing.T) {
	assert.Equal(t, "(no output)", Result{}.Output())
	assert.Equal(t, "a\nb", Result{Stdout: "a", Stderr: "b\n"}.Output())
	assert.Equal(t, "a\nb", Result{Stdout: "a\n", Stderr: "b"}.Output())
	assert.Equal(t, "a", Format(Result{Stdout: "a\n"}))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'/tmp/it'\''s'`, quote("/tmp/it's"))
}

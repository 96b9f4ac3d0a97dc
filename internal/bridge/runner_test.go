package bridge

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}
}

func TestExecRunnerNonZeroExitIsNotAnError(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(0, utils.NopLogger())

	res, err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo '{\"results\":[]}'; exit 1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, string(res.Stdout), "results")
}

func TestExecRunnerTimeout(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(0, utils.NopLogger())

	start := time.Now()
	_, err := r.Run(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", "sleep 5"},
		Timeout: 100 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutionTimeout)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestExecRunnerParentCancel(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(0, utils.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := r.Run(ctx, Command{Name: "sh", Args: []string{"-c", "sleep 5"}, Timeout: time.Minute})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrExecutionTimeout))
}

func TestExecRunnerMissingBinary(t *testing.T) {
	r := NewExecRunner(0, utils.NopLogger())
	_, err := r.Run(context.Background(), Command{Name: "codelynx-no-such-binary"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrExecutionTimeout))
}

func TestExecRunnerEmptyCommand(t *testing.T) {
	r := NewExecRunner(0, utils.NopLogger())
	_, err := r.Run(context.Background(), Command{})
	assert.Error(t, err)
}

func TestFakeRunner(t *testing.T) {
	f := NewFakeRunner().On("semgrep", &Result{Stdout: []byte("ok")}, nil)

	res, err := f.Run(context.Background(), Command{Name: "semgrep"})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(res.Stdout))

	_, err = f.Run(context.Background(), Command{Name: "trivy"})
	assert.ErrorIs(t, err, exec.ErrNotFound)

	assert.Equal(t, 1, f.CallCount("semgrep"))
	assert.Equal(t, 1, f.CallCount("trivy"))
}

package bridge

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/codelynx/pkg/models"
	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

const semgrepOutput = `{"results":[
 {"check_id":"python.lang.security.audit.formatted-sql-query","path":"/src/app/db.py","start":{"line":12},
  "extra":{"message":"SQL built with format","severity":"ERROR","metadata":{"cwe":["CWE-89: SQL Injection"],"references":["https://owasp.org/Top10/A03"]}}}
]}`

func newTestBridge(spec ToolSpec, runner CommandRunner, goos string) *ToolBridge {
	return NewToolBridge(spec, ToolOptions{
		Runner: runner,
		GOOS:   goos,
		Logger: utils.NopLogger(),
	})
}

func TestAvailabilityProbedOnce(t *testing.T) {
	runner := NewFakeRunner().On("trivy", &Result{Stdout: []byte("Version: 0.50.1")}, nil)
	b := newTestBridge(TrivySpec(), runner, "linux")

	assert.True(t, b.IsAvailable(context.Background()))
	assert.True(t, b.IsAvailable(context.Background()))
	assert.Equal(t, 1, runner.CallCount("trivy"))
	assert.Equal(t, []string{"--version"}, runner.Calls[0].Args)

	info := b.Info(context.Background())
	assert.Equal(t, "0.50.1", info.Version)
	assert.True(t, info.Available)
}

func TestAvailabilityPlatformGateSkipsProbe(t *testing.T) {
	runner := NewFakeRunner().On("semgrep", &Result{Stdout: []byte("1.70.0")}, nil)
	b := newTestBridge(SemgrepSpec(), runner, "windows")

	assert.False(t, b.IsAvailable(context.Background()))
	assert.Equal(t, 0, runner.CallCount("semgrep"))

	_, reason := b.avail.Details()
	assert.Contains(t, reason, "windows")
}

func TestAvailabilityMissingBinary(t *testing.T) {
	b := newTestBridge(GosecSpec(), NewFakeRunner(), "linux")
	assert.False(t, b.IsAvailable(context.Background()))
}

func TestAvailabilityNotCachedAfterCancel(t *testing.T) {
	requireShell(t)
	spec := ToolSpec{Name: "echo", Binary: "sh", VersionArgs: []string{"-c", "echo 1.2.3"}}
	b := newTestBridge(spec, NewExecRunner(5, utils.NopLogger()), "linux")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, b.IsAvailable(ctx))

	assert.True(t, b.IsAvailable(context.Background()))
	info := b.Info(context.Background())
	assert.Equal(t, "1.2.3", info.Version)
	assert.Empty(t, info.Reason)
}

func TestAvailabilityCachesToolFailure(t *testing.T) {
	runner := NewFakeRunner().On("gosec", nil, errors.New("exec: not found"))
	b := newTestBridge(GosecSpec(), runner, "linux")

	assert.False(t, b.IsAvailable(context.Background()))
	assert.False(t, b.IsAvailable(context.Background()))
	assert.Equal(t, 1, runner.CallCount("gosec"))
}

func TestAvailabilityMinVersion(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		minimum string
		want    bool
	}{
		{"newer", "semgrep 1.70.0", "1.60.0", true},
		{"equal", "v1.60.0", "1.60.0", true},
		{"older", "1.50.2", "1.60.0", false},
		{"no version", "semgrep", "1.0.0", false},
		{"no minimum", "whatever", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := SemgrepSpec()
			spec.MinVersion = tt.minimum
			runner := NewFakeRunner().On("semgrep", &Result{Stdout: []byte(tt.output)}, nil)
			b := newTestBridge(spec, runner, "linux")
			assert.Equal(t, tt.want, b.IsAvailable(context.Background()))
		})
	}
}

func TestRunUnavailable(t *testing.T) {
	runner := NewFakeRunner()
	b := newTestBridge(SemgrepSpec(), runner, "linux")
	b.SetAvailable(false)

	findings, err := b.Run(context.Background(), "/src/app")
	require.Error(t, err)
	assert.NotNil(t, findings)
	assert.Empty(t, findings)
	assert.ErrorIs(t, err, ErrToolUnavailable)
	assert.Empty(t, runner.Calls)

	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "semgrep", te.Tool)
}

func TestRunParsesAndRelativizes(t *testing.T) {
	runner := NewFakeRunner().On("semgrep", &Result{Stdout: []byte(semgrepOutput), ExitCode: 1}, nil)
	b := newTestBridge(SemgrepSpec(), runner, "linux")
	b.SetAvailable(true)

	findings, err := b.Run(context.Background(), "/src/app")
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "semgrep", f.Tool)
	assert.Equal(t, "db.py", f.File)
	assert.Equal(t, 12, f.Line)
	assert.Equal(t, models.SeverityHigh, f.Severity)
	assert.Equal(t, "SQL Injection", f.Category)
	assert.NotEmpty(t, f.Fix)
	assert.NotEmpty(t, f.ID)

	require.Len(t, runner.Calls, 1)
	assert.Equal(t, []string{"scan", "--config", "auto", "--json", "--quiet", "/src/app"}, runner.Calls[0].Args)
}

func TestRunFailureClassification(t *testing.T) {
	tests := []struct {
		name string
		res  *Result
		err  error
		want error
	}{
		{"non-zero exit without output", &Result{ExitCode: 2, Stderr: []byte("boom")}, nil, ErrExecutionFailure},
		{"spawn failure", nil, fmt.Errorf("run semgrep: %w", errors.New("permission denied")), ErrExecutionFailure},
		{"timeout", nil, fmt.Errorf("%w: semgrep exceeded 1s", ErrExecutionTimeout), ErrExecutionTimeout},
		{"garbage output", &Result{Stdout: []byte("not json")}, nil, ErrParseFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := NewFakeRunner().On("semgrep", tt.res, tt.err)
			b := newTestBridge(SemgrepSpec(), runner, "linux")
			b.SetAvailable(true)

			findings, err := b.Run(context.Background(), "/src/app")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.NotNil(t, findings)
			assert.Empty(t, findings)
		})
	}
}

func TestRunEmptyOutputCleanExit(t *testing.T) {
	runner := NewFakeRunner().On("gitleaks", &Result{}, nil)
	b := newTestBridge(GitleaksSpec(), runner, "linux")
	b.SetAvailable(true)

	findings, err := b.Run(context.Background(), "/src/app")
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestRunRecoversPanic(t *testing.T) {
	spec := SemgrepSpec()
	spec.Parse = func([]byte) ([]models.Finding, error) { panic("parser bug") }
	runner := NewFakeRunner().On("semgrep", &Result{Stdout: []byte("{}")}, nil)
	b := newTestBridge(spec, runner, "linux")
	b.SetAvailable(true)

	var findings []models.Finding
	var err error
	require.NotPanics(t, func() {
		findings, err = b.Run(context.Background(), "/src/app")
	})
	assert.ErrorIs(t, err, ErrExecutionFailure)
	assert.NotNil(t, findings)
	assert.Empty(t, findings)
}

func TestRunTranslatesThroughLauncher(t *testing.T) {
	runner := NewFakeRunner().On("wsl", &Result{Stdout: []byte("[]")}, nil)
	tr := NewPathTranslator(models.NamespaceConfig{Mode: ModeWSL}, runner, utils.NopLogger(), nil)
	tr.AddPrefix(`C:\data\uploads`, "/mnt/c/data/uploads")

	b := NewToolBridge(GitleaksSpec(), ToolOptions{Runner: runner, Translator: tr, Logger: utils.NopLogger()})
	b.SetAvailable(true)

	_, err := b.Run(context.Background(), `C:\data\uploads\job`)
	require.NoError(t, err)
	require.Len(t, runner.Calls, 1)
	args := runner.Calls[0].Args
	assert.Equal(t, []string{"--", "gitleaks", "detect"}, args[:3])
	assert.Equal(t, "/mnt/c/data/uploads/job", args[len(args)-1])
}

func TestKindName(t *testing.T) {
	assert.Equal(t, "ToolUnavailable", KindName(newToolError("x", ErrToolUnavailable, nil)))
	assert.Equal(t, "ExecutionTimeout", KindName(newToolError("x", ErrExecutionTimeout, nil)))
	assert.Equal(t, "ParseFailure", KindName(newToolError("x", ErrParseFailure, errors.New("bad"))))
	assert.Equal(t, "InternalError", KindName(errors.New("other")))
}

package orchestration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/codelynx/internal/bridge"
	"github.com/bl4ck0w1/codelynx/internal/target"
	"github.com/bl4ck0w1/codelynx/pkg/models"
	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

func newTestEngine(t *testing.T, cfg models.EngineConfig, bridges ...bridge.Bridge) *Engine {
	t.Helper()
	staging := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(staging, "repo"), 0o755))

	resolver, err := target.NewResolver(models.ResolverConfig{StagingRoot: staging}, utils.NopLogger())
	require.NoError(t, err)

	reg := bridge.NewRegistry(utils.NopLogger())
	for _, b := range bridges {
		reg.Register(b)
	}
	e := NewEngine(cfg, resolver, reg, nil, nil, utils.NopLogger(), utils.NewEngineMetrics(false))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}

func waitFor(t *testing.T, e *Engine, id string) models.ScanSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := e.WaitSession(ctx, id)
	require.NoError(t, err)
	return s
}

func finding(category, file string, line int) models.Finding {
	return models.Finding{Severity: models.SeverityHigh, Category: category, File: file, Line: line, Description: category}
}

func TestScanAllToolsSucceed(t *testing.T) {
	e := newTestEngine(t, models.EngineConfig{},
		bridge.NewMockBridge("semgrep", bridge.WithMockFindings(finding("SQL Injection", "db.py", 3))),
		bridge.NewMockBridge("trivy", bridge.WithMockFindings(
			finding("Vulnerable Dependency", "go.sum", 0),
			finding("Misconfiguration", "Dockerfile", 1),
		)),
	)

	id, err := e.StartScan(context.Background(), "repo", []string{"semgrep", "Trivy"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	s := waitFor(t, e, id)
	assert.Equal(t, models.StatusCompleted, s.Status)
	assert.Equal(t, 100.0, s.Progress)
	assert.Equal(t, []string{"semgrep", "trivy"}, s.SelectedTools)
	assert.Len(t, s.Findings, 3)
	assert.False(t, s.EndTime.IsZero())
	assert.Empty(t, s.CurrentTool)
	for _, run := range s.ToolRuns {
		assert.Equal(t, models.ToolSucceeded, run.State, run.Tool)
	}
	assert.Equal(t, 2, s.ToolRuns[1].Findings)
}

func TestTwoToolsTwoFindingsEach(t *testing.T) {
	e := newTestEngine(t, models.EngineConfig{},
		bridge.NewMockBridge("semgrep", bridge.WithMockFindings(
			finding("SQL Injection", "db.py", 3),
			finding("Cross-Site Scripting", "views.py", 10),
		)),
		bridge.NewMockBridge("gitleaks", bridge.WithMockFindings(
			finding("Hardcoded Secret", ".env", 1),
			finding("Hardcoded Secret", "config.py", 7),
		)),
	)

	id, err := e.StartScan(context.Background(), "repo", []string{"semgrep", "gitleaks"})
	require.NoError(t, err)

	s := waitFor(t, e, id)
	assert.Equal(t, models.StatusCompleted, s.Status)
	assert.Equal(t, 100.0, s.Progress)
	require.Len(t, s.Findings, 4)
	tools := make([]string, 0, len(s.Findings))
	for _, f := range s.Findings {
		tools = append(tools, f.Tool)
	}
	assert.Equal(t, []string{"semgrep", "semgrep", "gitleaks", "gitleaks"}, tools)
	require.Len(t, s.ToolRuns, 2)
	assert.Equal(t, 2, s.ToolRuns[0].Findings)
	assert.Equal(t, 2, s.ToolRuns[1].Findings)
}

func TestFailingToolIsIsolated(t *testing.T) {
	e := newTestEngine(t, models.EngineConfig{},
		bridge.NewMockBridge("semgrep", bridge.WithMockFindings(finding("XSS", "ui.js", 8))),
		bridge.NewMockBridge("gosec",
			bridge.WithMockFindings(finding("Path Traversal", "files.go", 2)),
			bridge.WithMockError(errors.New("exit status 2"))),
	)

	id, err := e.StartScan(context.Background(), "repo", []string{"gosec", "semgrep"})
	require.NoError(t, err)

	s := waitFor(t, e, id)
	assert.Equal(t, models.StatusCompleted, s.Status)
	require.Len(t, s.Findings, 1)
	assert.Equal(t, "semgrep", s.Findings[0].Tool)

	require.Len(t, s.FailedTools(), 1)
	failed := s.FailedTools()[0]
	assert.Equal(t, "gosec", failed.Tool)
	assert.Equal(t, models.ToolFailed, failed.State)
	assert.Equal(t, "ExecutionFailure", failed.ErrorKind)
	assert.Contains(t, failed.Error, "exit status 2")
}

func TestTimedOutToolIsIsolated(t *testing.T) {
	e := newTestEngine(t, models.EngineConfig{},
		bridge.NewMockBridge("trivy", bridge.WithMockFindings(finding("Vulnerable Dependency", "go.sum", 0))),
		bridge.NewMockBridge("semgrep",
			bridge.WithMockCount(3),
			bridge.WithMockDelay(time.Second),
			bridge.WithMockTimeout(20*time.Millisecond)),
	)

	id, err := e.StartScan(context.Background(), "repo", []string{"semgrep", "trivy"})
	require.NoError(t, err)

	s := waitFor(t, e, id)
	assert.Equal(t, models.StatusCompleted, s.Status)
	assert.Len(t, s.Findings, 1)
	assert.Equal(t, models.ToolTimedOut, s.ToolRuns[0].State)
	assert.Equal(t, "ExecutionTimeout", s.ToolRuns[0].ErrorKind)
	assert.Equal(t, models.ToolSucceeded, s.ToolRuns[1].State)
}

func TestUnregisteredToolIsUnavailable(t *testing.T) {
	e := newTestEngine(t, models.EngineConfig{})

	id, err := e.StartScan(context.Background(), "repo", []string{"bandit"})
	require.NoError(t, err)

	s := waitFor(t, e, id)
	assert.Equal(t, models.StatusCompleted, s.Status)
	assert.Empty(t, s.Findings)
	assert.Equal(t, "ToolUnavailable", s.ToolRuns[0].ErrorKind)
}

func TestDefaultToolsUsedWhenNoneRequested(t *testing.T) {
	e := newTestEngine(t, models.EngineConfig{DefaultTools: []string{"gitleaks"}},
		bridge.NewMockBridge("gitleaks", bridge.WithMockCount(2)),
	)

	id, err := e.StartScan(context.Background(), "repo", nil)
	require.NoError(t, err)

	s := waitFor(t, e, id)
	assert.Equal(t, []string{"gitleaks"}, s.SelectedTools)
	assert.Len(t, s.ToolRuns, 1)
	assert.NotEmpty(t, s.Findings)
}

func TestInvalidTargetRecordsFailedSession(t *testing.T) {
	e := newTestEngine(t, models.EngineConfig{}, bridge.NewMockBridge("semgrep"))

	id, err := e.StartScan(context.Background(), "../etc", []string{"semgrep"})
	require.Error(t, err)
	assert.ErrorIs(t, err, target.ErrInvalidTarget)
	require.NotEmpty(t, id)

	s, err := e.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, s.Status)
	assert.NotEmpty(t, s.Error)
	assert.Equal(t, models.ToolNotStarted, s.ToolRuns[0].State)
}

func TestGetSessionNotFound(t *testing.T) {
	e := newTestEngine(t, models.EngineConfig{})
	_, err := e.GetSession("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = e.WaitSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.ErrorIs(t, e.CancelScan("missing"), ErrSessionNotFound)
}

func TestProgressEventsAreOrdered(t *testing.T) {
	e := newTestEngine(t, models.EngineConfig{},
		bridge.NewMockBridge("semgrep", bridge.WithMockCount(2), bridge.WithMockDelay(40*time.Millisecond)),
		bridge.NewMockBridge("bandit", bridge.WithMockCount(2), bridge.WithMockDelay(40*time.Millisecond)),
	)

	id, err := e.StartScan(context.Background(), "repo", []string{"semgrep", "bandit"})
	require.NoError(t, err)
	events, cancel := e.Hub().Subscribe(id)
	defer cancel()

	var got []models.Event
	timeout := time.After(5 * time.Second)
loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("stream did not end")
		}
	}

	require.NotEmpty(t, got)
	assert.Equal(t, models.EventConnected, got[0].Type)
	last := got[len(got)-1]
	assert.Equal(t, models.EventCompleted, last.Type)
	assert.Equal(t, 100.0, last.Percent())

	prev := 0.0
	running := 0
	for _, ev := range got {
		if p := ev.Percent(); p >= 0 {
			assert.GreaterOrEqual(t, p, prev)
			prev = p
		}
		if ev.Type == models.EventFinding {
			require.NotNil(t, ev.RunningTotal)
			assert.Greater(t, *ev.RunningTotal, running)
			running = *ev.RunningTotal
		}
	}

	s, err := e.GetSession(id)
	require.NoError(t, err)
	require.NotNil(t, last.TotalFindings)
	assert.Equal(t, len(s.Findings), *last.TotalFindings)
}

func TestFindingsMergedAcrossTools(t *testing.T) {
	e := newTestEngine(t, models.EngineConfig{},
		bridge.NewMockBridge("semgrep", bridge.WithMockFindings(finding("SQL Injection", "app/db.py", 10))),
		bridge.NewMockBridge("bandit", bridge.WithMockFindings(
			finding("SQL Injection", "app/db.py", 10),
			finding("Insecure Deserialization", "app/load.py", 4),
		)),
	)

	id, err := e.StartScan(context.Background(), "repo", []string{"semgrep", "bandit"})
	require.NoError(t, err)

	s := waitFor(t, e, id)
	require.Len(t, s.Findings, 2)
	assert.Equal(t, "semgrep, bandit", s.Findings[0].Tool)
	assert.Equal(t, "bandit", s.Findings[1].Tool)
}

type gateBridge struct {
	name    string
	active  *int32
	maxSeen *int32
	hold    time.Duration
}

func (g *gateBridge) Name() string                          { return g.name }
func (g *gateBridge) IsAvailable(ctx context.Context) bool { return true }

func (g *gateBridge) Run(ctx context.Context, root string) ([]models.Finding, error) {
	n := atomic.AddInt32(g.active, 1)
	defer atomic.AddInt32(g.active, -1)
	for {
		cur := atomic.LoadInt32(g.maxSeen)
		if n <= cur || atomic.CompareAndSwapInt32(g.maxSeen, cur, n) {
			break
		}
	}
	select {
	case <-time.After(g.hold):
	case <-ctx.Done():
	}
	return []models.Finding{{Tool: g.name, Severity: models.SeverityLow, Category: "Generic", File: g.name + ".txt", Line: 1}}, nil
}

func TestParallelismBoundsConcurrentTools(t *testing.T) {
	var active, maxSeen int32
	var bridges []bridge.Bridge
	names := []string{"a", "b", "c", "d", "e"}
	for _, n := range names {
		bridges = append(bridges, &gateBridge{name: n, active: &active, maxSeen: &maxSeen, hold: 60 * time.Millisecond})
	}
	e := newTestEngine(t, models.EngineConfig{Parallelism: 2}, bridges...)

	id, err := e.StartScan(context.Background(), "repo", names)
	require.NoError(t, err)

	s := waitFor(t, e, id)
	assert.Equal(t, models.StatusCompleted, s.Status)
	assert.Len(t, s.Findings, 5)
	assert.Equal(t, int32(2), atomic.LoadInt32(&maxSeen))
	for i, run := range s.ToolRuns {
		assert.Equal(t, names[i], run.Tool)
		assert.Equal(t, models.ToolSucceeded, run.State)
	}
}

type panicBridge struct{}

func (panicBridge) Name() string                          { return "boom" }
func (panicBridge) IsAvailable(ctx context.Context) bool { return true }
func (panicBridge) Run(ctx context.Context, root string) ([]models.Finding, error) {
	panic("parser exploded")
}

func TestParallelFindingsKeepRequestedOrder(t *testing.T) {
	e := newTestEngine(t, models.EngineConfig{Parallelism: 2},
		bridge.NewMockBridge("slow", bridge.WithMockDelay(80*time.Millisecond),
			bridge.WithMockFindings(finding("Command Injection", "run.sh", 4))),
		bridge.NewMockBridge("fast",
			bridge.WithMockFindings(finding("Hardcoded Secret", "config.yaml", 2))),
	)

	id, err := e.StartScan(context.Background(), "repo", []string{"slow", "fast"})
	require.NoError(t, err)

	s := waitFor(t, e, id)
	require.Equal(t, models.StatusCompleted, s.Status)
	require.Len(t, s.Findings, 2)
	assert.Equal(t, "slow", s.Findings[0].Tool)
	assert.Equal(t, "fast", s.Findings[1].Tool)
}

func TestPanickingBridgeIsIsolated(t *testing.T) {
	e := newTestEngine(t, models.EngineConfig{},
		panicBridge{},
		bridge.NewMockBridge("gitleaks", bridge.WithMockCount(1)),
	)

	id, err := e.StartScan(context.Background(), "repo", []string{"boom", "gitleaks"})
	require.NoError(t, err)

	s := waitFor(t, e, id)
	assert.Equal(t, models.StatusCompleted, s.Status)
	assert.Equal(t, "ExecutionFailure", s.ToolRuns[0].ErrorKind)
	assert.Contains(t, s.ToolRuns[0].Error, "parser exploded")
	assert.Len(t, s.Findings, 1)
}

func TestCancelScan(t *testing.T) {
	e := newTestEngine(t, models.EngineConfig{},
		bridge.NewMockBridge("semgrep", bridge.WithMockCount(5), bridge.WithMockDelay(time.Second)),
	)

	id, err := e.StartScan(context.Background(), "repo", []string{"semgrep"})
	require.NoError(t, err)
	require.NoError(t, e.CancelScan(id))

	s := waitFor(t, e, id)
	assert.Equal(t, models.StatusFailed, s.Status)
	assert.Equal(t, cancelledMessage, s.Error)
}

func TestShutdownFailsRunningSessions(t *testing.T) {
	e := newTestEngine(t, models.EngineConfig{},
		bridge.NewMockBridge("semgrep", bridge.WithMockCount(5), bridge.WithMockDelay(time.Second)),
	)

	id, err := e.StartScan(context.Background(), "repo", []string{"semgrep"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))

	s, err := e.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, s.Status)
	assert.Equal(t, shutdownMessage, s.Error)
	assert.Equal(t, models.ToolFailed, s.ToolRuns[0].State)

	_, err = e.StartScan(context.Background(), "repo", []string{"semgrep"})
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestListSessionsAndStats(t *testing.T) {
	e := newTestEngine(t, models.EngineConfig{}, bridge.NewMockBridge("semgrep", bridge.WithMockCount(1)))

	first, err := e.StartScan(context.Background(), "repo", []string{"semgrep"})
	require.NoError(t, err)
	waitFor(t, e, first)
	time.Sleep(2 * time.Millisecond)
	second, err := e.StartScan(context.Background(), "repo", []string{"semgrep"})
	require.NoError(t, err)
	waitFor(t, e, second)

	list := e.ListSessions()
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)

	stats := e.GetStats()
	assert.Equal(t, 2, stats["sessions_started"])
	assert.Equal(t, 2, stats["sessions_completed"])
	assert.Equal(t, 0, stats["active_sessions"])
}

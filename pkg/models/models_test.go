package models

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"semgrep", "trivy", "gitleaks"}, cfg.Engine.DefaultTools)
	assert.False(t, cfg.Resolver.AllowWorkdirFallback)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.Parallelism = 0
	cfg.Resolver.DirectRoots = []string{"relative/dir"}
	cfg.Namespace.Mode = "docker"
	cfg.API.Port = 70000

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "engine.parallelism")
	assert.Contains(t, msg, `"relative/dir" must be absolute`)
	assert.Contains(t, msg, `namespace.mode "docker"`)
	assert.Contains(t, msg, "api.port")
}

func TestConfigSaveLoad(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := DefaultConfig()
			cfg.Engine.ToolTimeout = 90 * time.Second
			cfg.Engine.Parallelism = 3
			require.NoError(t, cfg.Save(path))

			_, err := os.Stat(path + ".tmp")
			assert.True(t, os.IsNotExist(err))

			loaded := DefaultConfig()
			require.NoError(t, loaded.Load(path))
			assert.Equal(t, 90*time.Second, loaded.Engine.ToolTimeout)
			assert.Equal(t, 3, loaded.Engine.Parallelism)
		})
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  parallelism: -1\n"), 0o644))
	assert.Error(t, DefaultConfig().Load(path))
}

func TestToolFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tools["semgrep"] = ToolConfig{Enabled: true}

	assert.Equal(t, "semgrep", cfg.Tool("SEMGREP").Binary)
	assert.Equal(t, "trivy", cfg.Tool("trivy").Binary)

	custom := cfg.Tool("hadolint")
	assert.True(t, custom.Enabled)
	assert.Equal(t, "hadolint", custom.Binary)
}

func TestFindingIdentity(t *testing.T) {
	f := Finding{Tool: "Semgrep", Severity: SeverityHigh, Category: "SQL Injection", File: "db.py", Line: 3}
	f.EnsureID()
	assert.Regexp(t, `^semgrep-[0-9a-f]{16}$`, f.ID)

	again := Finding{Tool: "Semgrep", Severity: SeverityLow, Category: "SQL Injection", File: "db.py", Line: 3}
	again.EnsureID()
	assert.Equal(t, f.ID, again.ID)

	kept := Finding{ID: "given"}
	kept.EnsureID()
	assert.Equal(t, "given", kept.ID)

	assert.Equal(t, FindingKey{File: "db.py", Line: 3, Category: "SQL Injection"}, f.Key())
}

func TestFindingTools(t *testing.T) {
	f := Finding{Tool: "semgrep, bandit"}
	assert.Equal(t, []string{"semgrep", "bandit"}, f.Tools())
	assert.Empty(t, (&Finding{Tool: " , "}).Tools())
}

func TestSeverityRankOrder(t *testing.T) {
	for i := 1; i < len(Severities); i++ {
		assert.Greater(t, Severities[i-1].Rank(), Severities[i].Rank())
	}
	assert.False(t, Severity("SEVERE").IsValid())
}

func TestSessionCloneAndFailedTools(t *testing.T) {
	s := ScanSession{
		ID:            "s1",
		SelectedTools: []string{"semgrep", "trivy", "gitleaks"},
		Status:        StatusCompleted,
		Findings:      []Finding{{Tool: "semgrep", References: []string{"CWE-89"}}},
		ToolRuns: []ToolRun{
			{Tool: "semgrep", State: ToolSucceeded},
			{Tool: "trivy", State: ToolTimedOut, ErrorKind: "ExecutionTimeout"},
			{Tool: "gitleaks", State: ToolFailed, ErrorKind: "ToolUnavailable"},
		},
	}

	c := s.Clone()
	c.Findings[0].References[0] = "changed"
	c.ToolRuns[0].State = ToolFailed
	assert.Equal(t, "CWE-89", s.Findings[0].References[0])
	assert.Equal(t, ToolSucceeded, s.ToolRuns[0].State)

	failed := s.FailedTools()
	require.Len(t, failed, 2)
	assert.Equal(t, "trivy", failed[0].Tool)
	assert.Equal(t, "gitleaks", failed[1].Tool)

	sum := s.Summary()
	assert.Equal(t, 1, sum.Findings)
	assert.True(t, sum.Status.IsTerminal())
}

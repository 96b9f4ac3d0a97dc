package reporting

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/codelynx/pkg/models"
)

func findings() []models.Finding {
	return []models.Finding{
		{Tool: "semgrep, bandit", Severity: models.SeverityHigh, Category: "SQL Injection", File: "db.py", Line: 4},
		{Tool: "gitleaks", Severity: models.SeverityCritical, Category: "Hardcoded Secret", File: ".env", Line: 1},
		{Tool: "semgrep", Severity: models.SeverityLow, Category: "SQL Injection", File: "api.py", Line: 9},
		{Tool: "trivy", Severity: models.SeverityInfo, Category: "Vulnerable Dependency", File: "go.sum", Line: 0},
	}
}

func TestOverallRiskScore(t *testing.T) {
	rs := NewRiskScorer()
	assert.Equal(t, 0.0, rs.CalculateOverallRiskScore(nil))
	// (7.5 + 10 + 2.5 + 1) / 4
	assert.Equal(t, 5.25, rs.CalculateOverallRiskScore(findings()))

	custom := NewRiskScorerWithWeights(map[models.Severity]float64{models.SeverityInfo: 0})
	assert.Equal(t, 0.0, custom.Weight(models.SeverityInfo))
	assert.Equal(t, 1.0, custom.Weight("BOGUS"))
}

func TestSortFindings(t *testing.T) {
	in := findings()
	sorted := NewRiskScorer().SortFindings(in)
	require.Len(t, sorted, 4)
	assert.Equal(t, models.SeverityCritical, sorted[0].Severity)
	assert.Equal(t, models.SeverityInfo, sorted[3].Severity)
	assert.Equal(t, models.SeverityHigh, in[0].Severity)
}

func TestStatsCountsMergedTools(t *testing.T) {
	stats := NewSummaryBuilder(nil).Stats(findings())
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.BySeverity[models.SeverityCritical])
	assert.Equal(t, 0, stats.BySeverity[models.SeverityMedium])
	assert.Equal(t, 2, stats.ByTool["semgrep"])
	assert.Equal(t, 1, stats.ByTool["bandit"])
	assert.Equal(t, 2, stats.ByCategory["SQL Injection"])
}

func TestRecommendationsOrder(t *testing.T) {
	recs := NewSummaryBuilder(nil).Recommendations(findings())
	require.Len(t, recs, 3)
	assert.Equal(t, "Hardcoded Secret", recs[0].Category)
	assert.Equal(t, "SQL Injection", recs[1].Category)
	assert.Equal(t, models.SeverityHigh, recs[1].Severity)
	assert.Equal(t, 2, recs[1].Count)
	assert.NotEmpty(t, recs[1].Remediation)
}

func TestBuildAndRenderSummary(t *testing.T) {
	start := time.Now().Add(-3 * time.Second)
	s := models.ScanSession{
		ID:        "abc",
		TargetID:  "repo",
		Status:    models.StatusCompleted,
		Findings:  findings(),
		StartTime: start,
		EndTime:   start.Add(2 * time.Second),
		ToolRuns: []models.ToolRun{
			{Tool: "gosec", State: models.ToolTimedOut, Error: "gosec: execution timeout", ErrorKind: "ExecutionTimeout"},
		},
	}
	summary := NewSummaryBuilder(nil).Build(s)
	assert.Equal(t, "2s", summary.Duration)
	require.Len(t, summary.FailedTools, 1)

	var buf bytes.Buffer
	require.NoError(t, NewTemplateManager().Render(&buf, SummaryTemplate, summary))
	out := buf.String()
	assert.Contains(t, out, "Scan abc (repo)")
	assert.Contains(t, out, "CRITICAL  1")
	assert.Contains(t, out, "ExecutionTimeout")
	assert.Contains(t, out, "risk score 5.25")
}

func TestTemplateManagerLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "short.tmpl"), []byte(`{{ .SessionID }}:{{ .Stats.Total }}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte(`x`), 0o644))

	tm := NewTemplateManager()
	require.NoError(t, tm.LoadDir(dir))

	var buf bytes.Buffer
	require.NoError(t, tm.Render(&buf, "short", Summary{SessionID: "s", Stats: models.FindingStats{Total: 2}}))
	assert.Equal(t, "s:2", buf.String())

	assert.Error(t, tm.Render(&buf, "ignored", nil))
}

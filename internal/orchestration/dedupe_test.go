package orchestration

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/codelynx/pkg/models"
	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

func TestDedupeFindings(t *testing.T) {
	in := []models.Finding{
		{Tool: "semgrep", Category: "SQL Injection", File: "a.py", Line: 3, Severity: models.SeverityHigh},
		{Tool: "bandit", Category: "SQL Injection", File: "a.py", Line: 3, Severity: models.SeverityMedium},
		{Tool: "semgrep", Category: "SQL Injection", File: "a.py", Line: 3},
		{Tool: "bandit", Category: "SQL Injection", File: "a.py", Line: 4},
		{Tool: "gosec, bandit", Category: "XSS", File: "b.js", Line: 1},
		{Tool: "semgrep", Category: "XSS", File: "b.js", Line: 1},
	}

	out := DedupeFindings(in)
	require.Len(t, out, 3)
	assert.Equal(t, "semgrep, bandit", out[0].Tool)
	assert.Equal(t, models.SeverityHigh, out[0].Severity)
	assert.Equal(t, "bandit", out[1].Tool)
	assert.Equal(t, "gosec, bandit, semgrep", out[2].Tool)

	assert.Equal(t, "semgrep", in[0].Tool)
	assert.Equal(t, out, DedupeFindings(out))
	assert.Empty(t, DedupeFindings(nil))
}

func TestDedupeFillsMissingTool(t *testing.T) {
	in := []models.Finding{
		{Category: "Hardcoded Secret", File: ".env", Line: 2},
		{Tool: "gitleaks", Category: "Hardcoded Secret", File: ".env", Line: 2},
		{Tool: "trivy", Category: "Hardcoded Secret", File: ".env", Line: 2},
	}

	out := DedupeFindings(in)
	require.Len(t, out, 1)
	assert.Equal(t, "gitleaks, trivy", out[0].Tool)
	assert.Equal(t, out, DedupeFindings(out))
}

func TestSequentialWorkflowStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ran []string
	wf := NewWorkflowManager(1, utils.NopLogger()).GetWorkflow(1)
	assert.Equal(t, WorkflowSequential, wf.Name())

	err := wf.Execute(ctx, []string{"a", "b", "c"}, func(ctx context.Context, i int, tool string) {
		ran = append(ran, tool)
		if tool == "b" {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a", "b"}, ran)
}

func TestParallelWorkflowRunsEveryTool(t *testing.T) {
	wf := NewWorkflowManager(3, utils.NopLogger()).GetWorkflow(3)
	assert.Equal(t, WorkflowParallel, wf.Name())

	var mu sync.Mutex
	seen := map[int]string{}
	err := wf.Execute(context.Background(), []string{"a", "b", "c", "d"}, func(ctx context.Context, i int, tool string) {
		mu.Lock()
		seen[i] = tool
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, map[int]string{0: "a", 1: "b", 2: "c", 3: "d"}, seen)
}

package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/codelynx/pkg/models"
	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

func sampleSession(id string, start time.Time) models.ScanSession {
	return models.ScanSession{
		ID:            id,
		TargetID:      "repo",
		TargetRoot:    "/srv/uploads/repo",
		SelectedTools: []string{"semgrep", "gitleaks"},
		Status:        models.StatusCompleted,
		Progress:      100,
		StartTime:     start.UTC().Truncate(time.Second),
		EndTime:       start.Add(time.Minute).UTC().Truncate(time.Second),
		Findings: []models.Finding{
			{ID: "semgrep-1", Tool: "semgrep, bandit", Severity: models.SeverityHigh, Category: "SQL Injection", File: "db.py", Line: 4, Description: "sql"},
		},
		ToolRuns: []models.ToolRun{
			{Tool: "semgrep", State: models.ToolSucceeded, Findings: 1},
			{Tool: "gitleaks", State: models.ToolFailed, Error: "gitleaks: tool unavailable", ErrorKind: "ToolUnavailable"},
		},
	}
}

func TestResultsRepositoryStoreAndGet(t *testing.T) {
	rr := NewResultsRepository(0, utils.NopLogger())
	defer rr.Close()

	s := sampleSession("a", time.Now())
	require.NoError(t, rr.Store(s))

	got, ok := rr.Get("a")
	require.True(t, ok)
	assert.Equal(t, s, got)

	// snapshots are copies
	got.Findings[0].Tool = "changed"
	again, _ := rr.Get("a")
	assert.Equal(t, "semgrep, bandit", again.Findings[0].Tool)

	_, ok = rr.Get("missing")
	assert.False(t, ok)
}

func TestResultsRepositoryRejectsRunningSession(t *testing.T) {
	rr := NewResultsRepository(0, utils.NopLogger())
	s := sampleSession("a", time.Now())
	s.Status = models.StatusRunning
	assert.Error(t, rr.Store(s))

	s.Status = models.StatusFailed
	s.ID = ""
	assert.Error(t, rr.Store(s))
}

func TestResultsRepositoryTTL(t *testing.T) {
	rr := NewResultsRepository(time.Hour, utils.NopLogger())
	defer rr.Close()
	now := time.Now()
	rr.now = func() time.Time { return now }

	require.NoError(t, rr.Store(sampleSession("a", now)))
	_, ok := rr.Get("a")
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	_, ok = rr.Get("a")
	assert.False(t, ok)
	assert.Empty(t, rr.List())
	assert.Equal(t, 1, rr.Purge())
	assert.Equal(t, 0, rr.Len())
}

func TestResultsRepositoryListOrder(t *testing.T) {
	rr := NewResultsRepository(0, utils.NopLogger())
	base := time.Now()
	older := sampleSession("old", base.Add(-time.Hour))
	newer := sampleSession("new", base)
	newer.Status = models.StatusFailed
	newer.TargetID = "other"
	require.NoError(t, rr.Store(older))
	require.NoError(t, rr.Store(newer))

	list := rr.List()
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)

	rr.Delete("new")
	assert.Equal(t, 1, rr.Len())
	stats := rr.GetStats()
	assert.Equal(t, 1, stats["retained_sessions"])
}

func TestLocalStorageRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		format   string
		compress bool
		suffix   string
	}{
		{FormatJSON, false, ".json"},
		{FormatJSON, true, ".json.gz"},
		{FormatYAML, false, ".yaml"},
		{FormatYAML, true, ".yaml.gz"},
	} {
		t.Run(tc.suffix, func(t *testing.T) {
			ls, err := NewLocalStorage(t.TempDir(), tc.compress, 0, utils.NopLogger())
			require.NoError(t, err)

			s := sampleSession("sess-1", time.Now())
			path, err := ls.SaveSession(s, tc.format)
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(path, tc.suffix), path)

			loaded, err := ls.LoadSession("sess-1")
			require.NoError(t, err)
			assert.Equal(t, s.ID, loaded.ID)
			assert.Equal(t, s.Findings, loaded.Findings)
			assert.Equal(t, s.ToolRuns[1].ErrorKind, loaded.ToolRuns[1].ErrorKind)
			assert.True(t, s.StartTime.Equal(loaded.StartTime))
		})
	}
}

func TestLocalStorageUnsupportedFormat(t *testing.T) {
	ls, err := NewLocalStorage(t.TempDir(), false, 0, utils.NopLogger())
	require.NoError(t, err)
	_, err = ls.SaveSession(sampleSession("x", time.Now()), "xml")
	assert.Error(t, err)
}

func TestLocalStorageListAndDelete(t *testing.T) {
	ls, err := NewLocalStorage(t.TempDir(), false, 0, utils.NopLogger())
	require.NoError(t, err)

	_, err = ls.SaveSession(sampleSession("one", time.Now().Add(-time.Hour)), FormatJSON)
	require.NoError(t, err)
	_, err = ls.SaveSession(sampleSession("two", time.Now()), FormatYAML)
	require.NoError(t, err)

	list, err := ls.ListSessions()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "two", list[0].ID)

	require.NoError(t, ls.DeleteSession("one"))
	assert.Error(t, ls.DeleteSession("one"))
	assert.Error(t, ls.DeleteSession("../etc"))

	list, err = ls.ListSessions()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestLocalStorageCleanup(t *testing.T) {
	ls, err := NewLocalStorage(t.TempDir(), false, time.Hour, utils.NopLogger())
	require.NoError(t, err)

	path, err := ls.SaveSession(sampleSession("old", time.Now()), FormatJSON)
	require.NoError(t, err)
	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(path, stale, stale))

	_, err = ls.SaveSession(sampleSession("fresh", time.Now()), FormatJSON)
	require.NoError(t, err)

	removed, err := ls.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, filepath.Join(ls.BaseDir(), "results", "old"))
	assert.DirExists(t, filepath.Join(ls.BaseDir(), "results", "fresh"))
}

func TestExportToAndLoadFile(t *testing.T) {
	dir := t.TempDir()
	s := sampleSession("exp", time.Now())

	for _, name := range []string{"out.json", "nested/out.yml", "out.yaml.gz"} {
		path := filepath.Join(dir, name)
		require.NoError(t, ExportTo(s, path), name)
		loaded, err := LoadFile(path)
		require.NoError(t, err, name)
		assert.Equal(t, s.Findings, loaded.Findings, name)
	}
}

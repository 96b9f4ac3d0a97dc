package target

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/codelynx/pkg/models"
	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

func newTestResolver(t *testing.T, cfg models.ResolverConfig) (*Resolver, string) {
	t.Helper()
	if cfg.StagingRoot == "" {
		cfg.StagingRoot = filepath.Join(t.TempDir(), "uploads")
		require.NoError(t, os.MkdirAll(cfg.StagingRoot, 0o755))
	}
	r, err := NewResolver(cfg, utils.NopLogger())
	require.NoError(t, err)
	return r, r.StagingRoot()
}

func TestResolveStagingUUID(t *testing.T) {
	r, staging := newTestResolver(t, models.ResolverConfig{})
	id := uuid.NewString()
	require.NoError(t, os.Mkdir(filepath.Join(staging, id), 0o755))

	got, err := r.Resolve(id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(staging, id), got)
	assert.True(t, utils.IsWithin(staging, got))
}

func TestResolveMissingUUID(t *testing.T) {
	r, _ := newTestResolver(t, models.ResolverConfig{})
	_, err := r.Resolve(uuid.NewString())
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestResolveDirectRegistration(t *testing.T) {
	r, _ := newTestResolver(t, models.ResolverConfig{})
	dir := t.TempDir()

	require.NoError(t, r.RegisterDirect("repo-1", dir))
	got, err := r.Resolve("repo-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(dir), got)
	assert.Equal(t, []string{"repo-1"}, r.Directs())

	r.UnregisterDirect("repo-1")
	_, err = r.Resolve("repo-1")
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestRegisterDirectRejectsOutsideRoots(t *testing.T) {
	allowed := t.TempDir()
	r, _ := newTestResolver(t, models.ResolverConfig{DirectRoots: []string{allowed}, AllowAbsolute: true})

	err := r.RegisterDirect("x", t.TempDir())
	assert.ErrorIs(t, err, ErrInvalidTarget)

	err = r.RegisterDirect("rel", "relative/path")
	assert.ErrorIs(t, err, ErrInvalidTarget)

	inside := filepath.Join(allowed, "proj")
	require.NoError(t, os.Mkdir(inside, 0o755))
	assert.NoError(t, r.RegisterDirect("ok", inside))
}

func TestResolveAbsolutePath(t *testing.T) {
	dir := t.TempDir()

	r, _ := newTestResolver(t, models.ResolverConfig{AllowAbsolute: true})
	got, err := r.Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(dir), got)

	disabled, _ := newTestResolver(t, models.ResolverConfig{AllowAbsolute: false})
	_, err = disabled.Resolve(dir)
	assert.ErrorIs(t, err, ErrInvalidTarget)

	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = r.Resolve(file)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestResolveUnknownIdentifier(t *testing.T) {
	r, _ := newTestResolver(t, models.ResolverConfig{})
	_, err := r.Resolve("not-a-uuid-and-not-absolute")
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestResolveRejectsTraversal(t *testing.T) {
	r, _ := newTestResolver(t, models.ResolverConfig{AllowWorkdirFallback: true})
	for _, id := range []string{"../etc", "a/b", `a\b`, "..", "."} {
		_, err := r.Resolve(id)
		assert.ErrorIs(t, err, ErrInvalidTarget, id)
	}
}

func TestResolveNamedStagingDirectory(t *testing.T) {
	r, staging := newTestResolver(t, models.ResolverConfig{})
	require.NoError(t, os.Mkdir(filepath.Join(staging, "legacy-upload"), 0o755))

	got, err := r.Resolve("legacy-upload")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(staging, "legacy-upload"), got)
}

func TestResolveWorkdirFallbackIsOptIn(t *testing.T) {
	wd := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(wd, "local-project"), 0o755))

	off, _ := newTestResolver(t, models.ResolverConfig{})
	off.getwd = func() (string, error) { return wd, nil }
	_, err := off.Resolve("local-project")
	assert.ErrorIs(t, err, ErrInvalidTarget)

	on, _ := newTestResolver(t, models.ResolverConfig{AllowWorkdirFallback: true})
	on.getwd = func() (string, error) { return wd, nil }
	got, err := on.Resolve("local-project")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "local-project"), got)
}

func TestNewResolverValidation(t *testing.T) {
	_, err := NewResolver(models.ResolverConfig{}, nil)
	assert.Error(t, err)

	_, err = NewResolver(models.ResolverConfig{StagingRoot: "x", DirectRoots: []string{"relative"}}, nil)
	assert.Error(t, err)
}

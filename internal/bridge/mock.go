package bridge

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/bl4ck0w1/codelynx/internal/normalize"
	"github.com/bl4ck0w1/codelynx/pkg/models"
)

type mockEntry struct {
	file     string
	category string
	severity models.Severity
	rule     string
	desc     string
}

var mockCatalog = map[string][]mockEntry{
	"semgrep": {
		{"app/db/users.py", normalize.CategorySQLInjection, models.SeverityHigh, "python.lang.security.audit.formatted-sql-query", "SQL query built with string formatting"},
		{"web/templates/profile.js", normalize.CategoryXSS, models.SeverityMedium, "javascript.browser.security.insecure-innerhtml", "User input assigned to innerHTML"},
		{"app/util/run.py", normalize.CategoryCommandInjection, models.SeverityHigh, "python.lang.security.audit.subprocess-shell-true", "subprocess call with shell=True"},
		{"app/crypto/hash.py", normalize.CategoryWeakCrypto, models.SeverityMedium, "python.lang.security.insecure-hash-md5", "MD5 used for hashing"},
		{"server/files.go", normalize.CategoryPathTraversal, models.SeverityHigh, "go.lang.security.path-traversal.filepath-join", "File path built from request input"},
	},
	"trivy": {
		{"requirements.txt", normalize.CategoryDependency, models.SeverityCritical, "CVE-2023-32681", "requests leaks Proxy-Authorization headers"},
		{"package-lock.json", normalize.CategoryDependency, models.SeverityHigh, "CVE-2022-25883", "semver regular expression denial of service"},
		{"Dockerfile", normalize.CategoryMisconfiguration, models.SeverityMedium, "DS002", "Image runs as root user"},
		{"go.sum", normalize.CategoryDependency, models.SeverityLow, "CVE-2023-39325", "net/http rapid stream resets"},
	},
	"gitleaks": {
		{"config/settings.py", normalize.CategorySecret, models.SeverityCritical, "generic-api-key", "Generic API key detected"},
		{".env.example", normalize.CategorySecret, models.SeverityCritical, "aws-access-token", "AWS access key detected"},
		{"deploy/values.yaml", normalize.CategorySecret, models.SeverityCritical, "private-key", "Private key material detected"},
	},
	"gosec": {
		{"server/files.go", normalize.CategoryPathTraversal, models.SeverityMedium, "G304", "Potential file inclusion via variable"},
		{"internal/auth/token.go", normalize.CategoryRandomness, models.SeverityHigh, "G404", "Use of weak random number generator"},
		{"internal/client/http.go", normalize.CategoryTransport, models.SeverityHigh, "G402", "TLS InsecureSkipVerify set true"},
	},
	"bandit": {
		{"app/db/users.py", normalize.CategorySQLInjection, models.SeverityMedium, "B608", "Possible SQL injection vector through string-based query construction"},
		{"app/util/run.py", normalize.CategoryCommandInjection, models.SeverityHigh, "B602", "subprocess call with shell=True identified"},
		{"app/loader.py", normalize.CategoryDeserialization, models.SeverityMedium, "B301", "Pickle can be unsafe when deserializing untrusted data"},
	},
}

var genericMockCatalog = []mockEntry{
	{"src/main.c", normalize.CategoryGeneric, models.SeverityLow, "mock-001", "Simulated finding"},
	{"src/handler.c", normalize.CategoryCodeInjection, models.SeverityMedium, "mock-002", "Simulated dynamic evaluation"},
}

// MockBridge produces deterministic findings without spawning anything. The
// same tool and target directory name always yield the same findings.
type MockBridge struct {
	name      string
	delay     time.Duration
	count     int
	timeout   time.Duration
	fixed     []models.Finding
	err       error
	available bool
}

var (
	_ Bridge     = &MockBridge{}
	_ Discoverer = &MockBridge{}
)

type MockOption func(*MockBridge)

func WithMockDelay(d time.Duration) MockOption { return func(m *MockBridge) { m.delay = d } }

// WithMockCount fixes how many findings are generated; zero derives it from
// the seed.
func WithMockCount(n int) MockOption { return func(m *MockBridge) { m.count = n } }

func WithMockTimeout(d time.Duration) MockOption { return func(m *MockBridge) { m.timeout = d } }

// WithMockFindings replaces the generated findings.
func WithMockFindings(fs ...models.Finding) MockOption {
	return func(m *MockBridge) { m.fixed = models.CloneFindings(fs) }
}

// WithMockError makes every run fail with err.
func WithMockError(err error) MockOption { return func(m *MockBridge) { m.err = err } }

func WithMockUnavailable() MockOption { return func(m *MockBridge) { m.available = false } }

func NewMockBridge(name string, opts ...MockOption) *MockBridge {
	m := &MockBridge{name: name, available: true}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockBridge) Name() string { return m.name }

func (m *MockBridge) IsAvailable(ctx context.Context) bool { return m.available }

func (m *MockBridge) Info(ctx context.Context) ToolInfo {
	info := ToolInfo{Name: m.name, Binary: "mock", Available: m.available, Simulated: true, Version: "simulated"}
	if !m.available {
		info.Reason = "disabled"
	}
	return info
}

func (m *MockBridge) Run(ctx context.Context, targetRoot string) ([]models.Finding, error) {
	return m.Discover(ctx, targetRoot, nil)
}

func (m *MockBridge) Discover(ctx context.Context, targetRoot string, emit func(models.Finding)) ([]models.Finding, error) {
	if !m.available {
		return []models.Finding{}, newToolError(m.name, ErrToolUnavailable, nil)
	}

	runCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	planned := m.fixed
	if planned == nil {
		planned = m.generate(targetRoot)
	}

	out := make([]models.Finding, 0, len(planned))
	for _, f := range planned {
		if err := m.wait(runCtx); err != nil {
			if ctx.Err() == nil {
				return []models.Finding{}, newToolError(m.name, ErrExecutionTimeout, err)
			}
			return []models.Finding{}, newToolError(m.name, ErrExecutionFailure, ctx.Err())
		}
		f = f.Clone()
		if f.Tool == "" {
			f.Tool = m.name
		}
		f = normalize.Finalize(f, targetRoot)
		out = append(out, f)
		if emit != nil {
			emit(f)
		}
	}

	if m.err != nil {
		var te *ToolError
		if errors.As(m.err, &te) {
			return []models.Finding{}, te
		}
		return []models.Finding{}, newToolError(m.name, ErrExecutionFailure, m.err)
	}
	return out, nil
}

func (m *MockBridge) wait(ctx context.Context) error {
	if m.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockBridge) generate(targetRoot string) []models.Finding {
	seed := xxh3.HashString(m.name + "|" + filepath.Base(targetRoot))
	rng := rand.New(rand.NewPCG(seed, seed>>7|1))

	catalog, ok := mockCatalog[m.name]
	if !ok {
		catalog = genericMockCatalog
	}
	n := m.count
	if n <= 0 {
		n = 1 + int(seed%uint64(len(catalog)))
	}

	out := make([]models.Finding, 0, n)
	for i := 0; i < n; i++ {
		e := catalog[rng.IntN(len(catalog))]
		out = append(out, models.Finding{
			Tool:        m.name,
			Severity:    e.severity,
			Category:    e.category,
			File:        e.file,
			Line:        1 + rng.IntN(240),
			Description: e.desc,
			RuleID:      e.rule,
		})
	}
	return out
}

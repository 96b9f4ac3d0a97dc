package bridge

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/codelynx/pkg/models"
)

// Families lists the tool families with a built-in parser.
var Families = map[string]func() ToolSpec{
	"semgrep":  SemgrepSpec,
	"trivy":    TrivySpec,
	"gitleaks": GitleaksSpec,
	"gosec":    GosecSpec,
	"bandit":   BanditSpec,
}

// Registry is the process-wide set of bridges, looked up by case-insensitive
// name.
type Registry struct {
	mu       sync.RWMutex
	bridges  map[string]Bridge
	simulate bool
	logger   *logrus.Logger
}

func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{bridges: make(map[string]Bridge), logger: logger}
}

// NewDefaultRegistry registers a bridge for every enabled tool in cfg. With
// engine.simulate set every bridge is a MockBridge.
func NewDefaultRegistry(cfg *models.Config, runner CommandRunner, translator *PathTranslator, logger *logrus.Logger) *Registry {
	r := NewRegistry(logger)
	r.simulate = cfg.Engine.Simulate

	names := make(map[string]struct{})
	for name := range Families {
		names[name] = struct{}{}
	}
	for name := range cfg.Tools {
		names[strings.ToLower(name)] = struct{}{}
	}

	for name := range names {
		tc := cfg.Tool(name)
		if !tc.Enabled {
			r.logger.WithField("tool", name).Debug("Tool disabled in configuration")
			continue
		}
		timeout := tc.Timeout
		if timeout <= 0 {
			timeout = cfg.Engine.ToolTimeout
		}

		if cfg.Engine.Simulate {
			r.Register(NewMockBridge(name,
				WithMockDelay(cfg.Engine.MockDelay),
				WithMockCount(cfg.Engine.MockFindings),
				WithMockTimeout(timeout),
			))
			continue
		}

		family, ok := Families[name]
		if !ok {
			r.logger.WithField("tool", name).Warn("No parser for configured tool, skipping")
			continue
		}
		spec := family()
		if tc.Binary != "" {
			spec.Binary = tc.Binary
		}
		if tc.MinVersion != "" {
			spec.MinVersion = tc.MinVersion
		}
		if len(tc.Platforms) > 0 {
			spec.Platforms = tc.Platforms
		}
		r.Register(NewToolBridge(spec, ToolOptions{
			Runner:       runner,
			Translator:   translator,
			Timeout:      timeout,
			ProbeTimeout: cfg.Engine.ProbeTimeout,
			ExtraArgs:    tc.Args,
			Logger:       r.logger,
		}))
	}
	return r
}

func (r *Registry) Register(b Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridges[strings.ToLower(b.Name())] = b
}

func (r *Registry) Get(name string) (Bridge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bridges[strings.ToLower(strings.TrimSpace(name))]
	return b, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.bridges))
	for name := range r.bridges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Simulated() bool { return r.simulate }

// Availability probes every registered tool. Probes are memoised, so only the
// first call pays for them.
func (r *Registry) Availability(ctx context.Context) []ToolInfo {
	names := r.Names()
	out := make([]ToolInfo, 0, len(names))
	for _, name := range names {
		b, _ := r.Get(name)
		if d, ok := b.(describer); ok {
			out = append(out, d.Info(ctx))
			continue
		}
		out = append(out, ToolInfo{Name: b.Name(), Available: b.IsAvailable(ctx)})
	}
	return out
}

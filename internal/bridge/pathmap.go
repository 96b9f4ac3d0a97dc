package bridge

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/codelynx/pkg/models"
	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

const (
	ModeNative = "native"
	ModeWSL    = "wsl"
)

type prefixRule struct {
	host      string
	namespace string
}

// PathTranslator maps host paths into the filesystem view the tools run in.
// Results are cached for the life of the process; the mapping for a given
// host path is assumed stable.
type PathTranslator struct {
	mode     string
	launcher []string
	utility  []string
	runner   CommandRunner
	timeout  time.Duration
	logger   *logrus.Logger
	metrics  *utils.MetricsCollector

	mu       sync.RWMutex
	cache    map[string]string
	prefixes []prefixRule
}

func NewPathTranslator(cfg models.NamespaceConfig, runner CommandRunner, logger *logrus.Logger, metrics *utils.MetricsCollector) *PathTranslator {
	if logger == nil {
		logger = logrus.New()
	}
	mode := strings.ToLower(cfg.Mode)
	if mode == "" {
		mode = ModeNative
	}
	t := &PathTranslator{
		mode:     mode,
		launcher: append([]string(nil), cfg.Launcher...),
		utility:  append([]string(nil), cfg.Utility...),
		runner:   runner,
		timeout:  10 * time.Second,
		logger:   logger,
		metrics:  metrics,
		cache:    make(map[string]string),
	}
	if mode == ModeWSL && len(t.launcher) == 0 {
		t.launcher = []string{"wsl", "--"}
	}
	for host, ns := range cfg.Prefixes {
		t.AddPrefix(host, ns)
	}
	return t
}

func (t *PathTranslator) Mode() string { return t.mode }

// ExecOS is the operating system the tools actually run on.
func (t *PathTranslator) ExecOS(hostOS string) string {
	if t.mode == ModeWSL {
		return "linux"
	}
	return hostOS
}

// AddPrefix registers a cheap direct mapping, typically the staging root.
// Longer host prefixes are tried first.
func (t *PathTranslator) AddPrefix(hostPrefix, nsPrefix string) {
	if hostPrefix == "" || nsPrefix == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prefixes = append(t.prefixes, prefixRule{
		host:      strings.TrimRight(toSlash(hostPrefix), "/"),
		namespace: strings.TrimRight(nsPrefix, "/"),
	})
	sort.SliceStable(t.prefixes, func(i, j int) bool {
		return len(t.prefixes[i].host) > len(t.prefixes[j].host)
	})
}

// Wrap prefixes argv with the namespace launcher, if any.
func (t *PathTranslator) Wrap(binary string, args []string) Command {
	if len(t.launcher) == 0 {
		return Command{Name: binary, Args: args}
	}
	full := make([]string, 0, len(t.launcher)+len(args))
	full = append(full, t.launcher[1:]...)
	full = append(full, binary)
	full = append(full, args...)
	return Command{Name: t.launcher[0], Args: full}
}

// Translate never fails: a broken translation utility falls back to a
// heuristic reconstruction of the namespace path.
func (t *PathTranslator) Translate(ctx context.Context, hostPath string) string {
	if t.mode == ModeNative {
		return hostPath
	}

	t.mu.RLock()
	cached, ok := t.cache[hostPath]
	t.mu.RUnlock()
	if ok {
		t.count("cache")
		return cached
	}

	method := "prefix"
	ns, ok := t.fromPrefix(hostPath)
	if !ok {
		method = "utility"
		ns, ok = t.fromUtility(ctx, hostPath)
	}
	if !ok {
		method = "heuristic"
		ns = heuristicPath(hostPath)
	}
	t.count(method)

	t.mu.Lock()
	t.cache[hostPath] = ns
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"host_path":      hostPath,
		"namespace_path": ns,
		"method":         method,
	}).Debug("Translated target path")
	return ns
}

func (t *PathTranslator) CacheSize() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.cache)
}

func (t *PathTranslator) fromPrefix(hostPath string) (string, bool) {
	p := toSlash(hostPath)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, rule := range t.prefixes {
		if strings.EqualFold(p, rule.host) {
			return rule.namespace, true
		}
		if len(p) > len(rule.host) && strings.EqualFold(p[:len(rule.host)+1], rule.host+"/") {
			return rule.namespace + p[len(rule.host):], true
		}
	}
	return "", false
}

func (t *PathTranslator) fromUtility(ctx context.Context, hostPath string) (string, bool) {
	if len(t.utility) == 0 || t.runner == nil {
		return "", false
	}
	args := append(append([]string(nil), t.utility[1:]...), hostPath)
	// the utility lives inside the namespace, so it goes through the launcher
	cmd := t.Wrap(t.utility[0], args)
	cmd.Timeout = t.timeout

	res, err := t.runner.Run(ctx, cmd)
	if err != nil || res == nil || res.ExitCode != 0 {
		t.logger.WithFields(logrus.Fields{
			"host_path": hostPath,
			"error":     err,
		}).Warn("Path translation utility failed, using heuristic mapping")
		return "", false
	}
	out := strings.TrimSpace(string(res.Stdout))
	if out == "" {
		return "", false
	}
	return out, true
}

var drivePath = regexp.MustCompile(`^([A-Za-z]):[\\/]?(.*)$`)

// heuristicPath rebuilds the conventional /mnt/<drive>/... form of a Windows
// path. Anything else just gets forward slashes.
func heuristicPath(hostPath string) string {
	if m := drivePath.FindStringSubmatch(hostPath); m != nil {
		rest := strings.Trim(toSlash(m[2]), "/")
		if rest == "" {
			return "/mnt/" + strings.ToLower(m[1])
		}
		return "/mnt/" + strings.ToLower(m[1]) + "/" + rest
	}
	return toSlash(hostPath)
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

func (t *PathTranslator) count(method string) {
	t.metrics.IncCounter(utils.MetricPathTranslated, 1, prometheus.Labels{"method": method})
}

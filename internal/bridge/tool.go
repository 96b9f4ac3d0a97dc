package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/codelynx/internal/normalize"
	"github.com/bl4ck0w1/codelynx/pkg/models"
	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

// ParseFunc decodes raw tool output. Findings it returns still carry
// namespace paths; the bridge finalizes them.
type ParseFunc func(out []byte) ([]models.Finding, error)

// ToolSpec is everything that differs between tool families.
type ToolSpec struct {
	Name        string
	Binary      string
	VersionArgs []string
	// BuildArgs places extra configured flags and the target path.
	BuildArgs func(target string, extra []string) []string
	Parse     ParseFunc
	// Platforms the tool runs on; empty means all.
	Platforms  []string
	MinVersion string
}

type ToolOptions struct {
	Runner       CommandRunner
	Translator   *PathTranslator
	Timeout      time.Duration
	ProbeTimeout time.Duration
	ExtraArgs    []string
	GOOS         string
	Logger       *logrus.Logger
}

// ToolBridge drives one external tool described by a ToolSpec.
type ToolBridge struct {
	spec         ToolSpec
	runner       CommandRunner
	translator   *PathTranslator
	timeout      time.Duration
	probeTimeout time.Duration
	extraArgs    []string
	goos         string
	logger       *logrus.Logger
	avail        AvailabilityCache
}

var _ Bridge = &ToolBridge{}

func NewToolBridge(spec ToolSpec, opts ToolOptions) *ToolBridge {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Translator == nil {
		opts.Translator = NewPathTranslator(models.NamespaceConfig{Mode: ModeNative}, opts.Runner, opts.Logger, nil)
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	if spec.Binary == "" {
		spec.Binary = spec.Name
	}
	if len(spec.VersionArgs) == 0 {
		spec.VersionArgs = []string{"--version"}
	}
	return &ToolBridge{
		spec:         spec,
		runner:       opts.Runner,
		translator:   opts.Translator,
		timeout:      opts.Timeout,
		probeTimeout: opts.ProbeTimeout,
		extraArgs:    append([]string(nil), opts.ExtraArgs...),
		goos:         opts.GOOS,
		logger:       opts.Logger,
	}
}

func (b *ToolBridge) Name() string { return b.spec.Name }

// SetAvailable overrides the probe result.
func (b *ToolBridge) SetAvailable(ok bool) {
	reason := ""
	if !ok {
		reason = "disabled"
	}
	b.avail.Set(ok, reason)
}

func (b *ToolBridge) IsAvailable(ctx context.Context) bool {
	return b.avail.Get(func() probeResult { return b.probe(ctx) })
}

func (b *ToolBridge) Info(ctx context.Context) ToolInfo {
	ok := b.IsAvailable(ctx)
	version, reason := b.avail.Details()
	return ToolInfo{
		Name:      b.spec.Name,
		Binary:    b.spec.Binary,
		Available: ok,
		Version:   version,
		Reason:    reason,
	}
}

func (b *ToolBridge) probe(ctx context.Context) (res probeResult) {
	defer func() {
		if r := recover(); r != nil {
			res = probeResult{reason: fmt.Sprintf("probe panic: %v", r)}
		}
	}()

	execOS := b.translator.ExecOS(b.goos)
	if len(b.spec.Platforms) > 0 && !utils.StringInSlice(execOS, b.spec.Platforms) {
		return probeResult{reason: fmt.Sprintf("not supported on %s", execOS)}
	}
	if b.runner == nil {
		return probeResult{reason: "no command runner"}
	}

	cmd := b.translator.Wrap(b.spec.Binary, b.spec.VersionArgs)
	cmd.Timeout = b.probeTimeout
	out, err := b.runner.Run(ctx, cmd)
	if err != nil {
		b.logger.WithFields(logrus.Fields{
			"tool":  b.spec.Name,
			"error": err,
		}).Debug("Tool probe failed")
		return probeResult{reason: err.Error(), retry: ctx.Err() != nil}
	}
	text := string(bytes.TrimSpace(append(append([]byte(nil), out.Stdout...), out.Stderr...)))
	if out.ExitCode != 0 && len(bytes.TrimSpace(out.Stdout)) == 0 {
		return probeResult{reason: fmt.Sprintf("version check exited with %d", out.ExitCode)}
	}

	version := extractVersion(text)
	if b.spec.MinVersion == "" {
		return probeResult{ok: true, version: version}
	}
	ok, reason := meetsMinimum(version, b.spec.MinVersion)
	if !ok {
		b.logger.WithFields(logrus.Fields{
			"tool":     b.spec.Name,
			"version":  version,
			"required": b.spec.MinVersion,
		}).Warn("Tool version below minimum")
	}
	return probeResult{ok: ok, version: version, reason: reason}
}

var versionPattern = regexp.MustCompile(`v?(\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z.-]+)?)`)

func extractVersion(s string) string {
	if m := versionPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

func meetsMinimum(version, minimum string) (bool, string) {
	if version == "" {
		return false, "version not reported"
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Sprintf("unparseable version %q", version)
	}
	c, err := semver.NewConstraint(">= " + minimum)
	if err != nil {
		return false, fmt.Sprintf("invalid min_version %q", minimum)
	}
	if !c.Check(v) {
		return false, fmt.Sprintf("version %s below %s", v, minimum)
	}
	return true, ""
}

// Run executes the tool against targetRoot. Failures come back as an empty
// slice and a *ToolError.
func (b *ToolBridge) Run(ctx context.Context, targetRoot string) (findings []models.Finding, err error) {
	name := b.spec.Name
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{"tool": name, "panic": r}).Error("Recovered tool bridge panic")
			findings = []models.Finding{}
			err = newToolError(name, ErrExecutionFailure, fmt.Errorf("panic: %v", r))
		}
	}()

	if !b.IsAvailable(ctx) {
		_, reason := b.avail.Details()
		var cause error
		if reason != "" {
			cause = errors.New(reason)
		}
		return []models.Finding{}, newToolError(name, ErrToolUnavailable, cause)
	}

	nsRoot := b.translator.Translate(ctx, targetRoot)
	cmd := b.translator.Wrap(b.spec.Binary, b.spec.BuildArgs(nsRoot, b.extraArgs))
	cmd.Timeout = b.timeout

	res, runErr := b.runner.Run(ctx, cmd)
	if runErr != nil {
		if errors.Is(runErr, ErrExecutionTimeout) {
			return []models.Finding{}, newToolError(name, ErrExecutionTimeout, runErr)
		}
		return []models.Finding{}, newToolError(name, ErrExecutionFailure, runErr)
	}

	stdout := bytes.TrimSpace(res.Stdout)
	if len(stdout) == 0 {
		if res.ExitCode != 0 {
			return []models.Finding{}, newToolError(name, ErrExecutionFailure,
				fmt.Errorf("exit status %d: %s", res.ExitCode, excerpt(res.Stderr)))
		}
		return []models.Finding{}, nil
	}

	parsed, perr := b.spec.Parse(stdout)
	if perr != nil {
		b.logger.WithFields(logrus.Fields{
			"tool":  name,
			"error": perr,
			"bytes": len(stdout),
		}).Warn("Could not parse tool output")
		return []models.Finding{}, newToolError(name, ErrParseFailure, perr)
	}

	findings = make([]models.Finding, 0, len(parsed))
	for _, f := range parsed {
		f.Tool = name
		findings = append(findings, normalize.Finalize(f, nsRoot, targetRoot))
	}
	b.logger.WithFields(logrus.Fields{
		"tool":      name,
		"findings":  len(findings),
		"exit_code": res.ExitCode,
		"duration":  res.Duration.String(),
	}).Debug("Tool run parsed")
	return findings, nil
}

func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "no output"
	}
	return s
}

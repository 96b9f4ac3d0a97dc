package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Command is one subprocess invocation. Args are passed as a vector and never
// through a shell.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// CommandRunner executes commands. A non-zero exit is reported through
// Result.ExitCode, not as an error; errors mean the process could not be run
// to completion.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

type ExecRunner struct {
	limiter   *rate.Limiter
	waitDelay time.Duration
	logger    *logrus.Logger
}

var _ CommandRunner = &ExecRunner{}

// NewExecRunner builds a runner that starts at most spawnRate processes per
// second. A zero rate disables pacing.
func NewExecRunner(spawnRate float64, logger *logrus.Logger) *ExecRunner {
	if logger == nil {
		logger = logrus.New()
	}
	r := &ExecRunner{waitDelay: 2 * time.Second, logger: logger}
	if spawnRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(spawnRate), 1)
	}
	return r
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("empty command")
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("spawn limiter: %w", err)
		}
	}

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	configureProcess(cmd)
	cmd.WaitDelay = r.waitDelay

	r.logger.WithField("command", c.String()).Debug("Starting tool process")
	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode(cmd),
		Duration: time.Since(start),
	}

	if runCtx.Err() != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("%w: %s exceeded %s", ErrExecutionTimeout, c.Name, c.Timeout)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		// a non-zero exit is the caller's decision
	case errors.Is(err, exec.ErrWaitDelay):
		// the tool exited but a child kept its pipes open
	default:
		return res, fmt.Errorf("run %s: %w", c.Name, err)
	}

	r.logger.WithFields(logrus.Fields{
		"command":   c.Name,
		"exit_code": res.ExitCode,
		"duration":  res.Duration.String(),
		"stdout_b":  len(res.Stdout),
	}).Debug("Tool process finished")
	return res, nil
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// FakeRunner returns scripted results keyed by command name and records every
// invocation.
type FakeRunner struct {
	mu      sync.Mutex
	Results map[string]*Result
	Errors  map[string]error
	Delay   time.Duration
	Calls   []Command
}

var _ CommandRunner = &FakeRunner{}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Results: map[string]*Result{}, Errors: map[string]error{}}
}

func (f *FakeRunner) On(name string, res *Result, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	if res != nil {
		f.Results[name] = res
	}
	if err != nil {
		f.Errors[name] = err
	}
	return f
}

func (f *FakeRunner) Run(ctx context.Context, c Command) (*Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, c)
	res, hasRes := f.Results[c.Name]
	err := f.Errors[c.Name]
	delay := f.Delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return res, err
	}
	if !hasRes {
		return nil, fmt.Errorf("run %s: %w", c.Name, exec.ErrNotFound)
	}
	out := *res
	return &out, nil
}

func (f *FakeRunner) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

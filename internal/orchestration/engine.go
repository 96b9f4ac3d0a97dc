package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/codelynx/internal/bridge"
	"github.com/bl4ck0w1/codelynx/internal/progress"
	"github.com/bl4ck0w1/codelynx/internal/storage"
	"github.com/bl4ck0w1/codelynx/pkg/models"
	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEngineClosed    = errors.New("engine is shut down")
)

const (
	shutdownMessage  = "engine shutting down"
	cancelledMessage = "scan cancelled"
)

type TargetResolver interface {
	Resolve(targetID string) (string, error)
}

type ToolSource interface {
	Get(name string) (bridge.Bridge, bool)
}

// ResultStore retains finished snapshots after the engine lets go of them.
type ResultStore interface {
	Store(session models.ScanSession) error
	Get(id string) (models.ScanSession, bool)
	List() []models.ScanSession
}

// Engine runs scan sessions. Each session gets its own goroutine and is
// mutated only there, under the session lock; everybody else reads copies.
type Engine struct {
	resolver  TargetResolver
	tools     ToolSource
	hub       *progress.Hub
	results   ResultStore
	workflows *WorkflowManager
	config    models.EngineConfig
	logger    *logrus.Logger
	metrics   *utils.MetricsCollector

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.RWMutex
	sessions  map[string]*session
	closed    bool
	started   int
	completed int
	failed    int
}

type session struct {
	mu       sync.Mutex
	data     models.ScanSession
	byTool   [][]models.Finding // successful results, indexed like SelectedTools
	done     int
	emitted  int
	cancel   context.CancelFunc
	finished chan struct{}
}

func NewEngine(
	config models.EngineConfig,
	resolver TargetResolver,
	tools ToolSource,
	hub *progress.Hub,
	results ResultStore,
	logger *logrus.Logger,
	metrics *utils.MetricsCollector,
) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if hub == nil {
		hub = progress.NewHub(progress.DefaultBuffer, logger, metrics)
	}
	if results == nil {
		results = storage.NewResultsRepository(time.Hour, logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		resolver:  resolver,
		tools:     tools,
		hub:       hub,
		results:   results,
		workflows: NewWorkflowManager(config.Parallelism, logger),
		config:    config,
		logger:    logger,
		metrics:   metrics,
		rootCtx:   ctx,
		cancel:    cancel,
		sessions:  make(map[string]*session),
	}
}

func (e *Engine) Hub() *progress.Hub { return e.hub }

// StartScan resolves the target and starts the session in the background.
// When the target cannot be resolved the session is still recorded, as
// FAILED, and its id is returned together with the error.
func (e *Engine) StartScan(ctx context.Context, targetID string, tools []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	selected := e.selectTools(tools)
	runs := make([]models.ToolRun, len(selected))
	for i, t := range selected {
		runs[i] = models.ToolRun{Tool: t, State: models.ToolNotStarted}
	}
	s := &session{
		byTool:   make([][]models.Finding, len(selected)),
		finished: make(chan struct{}),
		data: models.ScanSession{
			ID:            uuid.NewString(),
			TargetID:      targetID,
			SelectedTools: selected,
			Status:        models.StatusRunning,
			Findings:      []models.Finding{},
			ToolRuns:      runs,
			StartTime:     time.Now().UTC(),
		},
	}
	id := s.data.ID

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEngineClosed
	}
	e.sessions[id] = s
	e.started++
	e.wg.Add(1)
	e.mu.Unlock()
	e.metrics.AddGauge(utils.MetricScansActive, 1, nil)

	log := e.logger.WithFields(logrus.Fields{"session_id": id, "target_id": targetID})

	root, err := e.resolver.Resolve(targetID)
	if err != nil {
		log.WithError(err).Warn("Target resolution failed")
		e.finish(s, models.StatusFailed, err.Error())
		e.wg.Done()
		return id, fmt.Errorf("start scan %s: %w", id, err)
	}

	runCtx, cancel := context.WithCancel(e.rootCtx)
	s.mu.Lock()
	s.data.TargetRoot = root
	s.cancel = cancel
	s.mu.Unlock()

	log.WithFields(logrus.Fields{
		"target_root": root,
		"tools":       strings.Join(selected, ","),
	}).Info("Scan started")

	go e.execute(runCtx, s, root, selected)
	return id, nil
}

func (e *Engine) execute(ctx context.Context, s *session, root string, tools []string) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("session_id", s.data.ID).Errorf("Recovered orchestration panic: %v", r)
			e.finish(s, models.StatusFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()

	wf := e.workflows.GetWorkflow(e.config.Parallelism)
	err := wf.Execute(ctx, tools, func(ctx context.Context, idx int, tool string) {
		e.runTool(ctx, s, root, idx, tool)
	})
	if err != nil {
		msg := cancelledMessage
		if e.rootCtx.Err() != nil {
			msg = shutdownMessage
		}
		e.finish(s, models.StatusFailed, msg)
		return
	}
	e.finish(s, models.StatusCompleted, "")
}

func (e *Engine) runTool(ctx context.Context, s *session, root string, idx int, tool string) {
	start := time.Now()
	e.toolStarted(s, idx, tool)

	var findings []models.Finding
	var err error
	if b, ok := e.tools.Get(tool); ok {
		findings, err = e.invoke(ctx, s, b, root, tool)
	} else {
		err = fmt.Errorf("%s: %w: no bridge registered", tool, bridge.ErrToolUnavailable)
	}
	e.toolFinished(s, idx, tool, findings, err, time.Since(start))
}

// invoke shields the session from misbehaving bridges.
func (e *Engine) invoke(ctx context.Context, s *session, b bridge.Bridge, root, tool string) (findings []models.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			findings = nil
			err = &bridge.ToolError{Tool: tool, Kind: bridge.ErrExecutionFailure, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if d, ok := b.(bridge.Discoverer); ok {
		return d.Discover(ctx, root, func(f models.Finding) { e.emitFinding(s, tool, f) })
	}
	findings, err = b.Run(ctx, root)
	if err == nil {
		for _, f := range findings {
			e.emitFinding(s, tool, f)
		}
	}
	return findings, err
}

func (e *Engine) toolStarted(s *session, idx int, tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &s.data.ToolRuns[idx]
	run.State = models.ToolRunning
	run.StartedAt = time.Now().UTC()
	s.data.CurrentTool = tool
	e.hub.Publish(s.data.ID, models.NewProgressEvent(s.data.ID, tool, s.data.Progress, "Starting "+tool))
}

func (e *Engine) emitFinding(s *session, tool string, f models.Finding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitted++
	e.hub.Publish(s.data.ID, models.NewFindingEvent(s.data.ID, tool, f, s.emitted))
}

func (e *Engine) toolFinished(s *session, idx int, tool string, findings []models.Finding, err error, took time.Duration) {
	s.mu.Lock()
	id := s.data.ID
	run := &s.data.ToolRuns[idx]
	run.FinishedAt = time.Now().UTC()

	if err == nil {
		run.State = models.ToolSucceeded
		run.Findings = len(findings)
		s.byTool[idx] = findings
		s.data.Findings = append(s.data.Findings, findings...)
	} else {
		run.State = models.ToolFailed
		if errors.Is(err, bridge.ErrExecutionTimeout) {
			run.State = models.ToolTimedOut
		}
		run.Error = err.Error()
		run.ErrorKind = bridge.KindName(err)
		e.hub.Publish(id, models.NewProgressEvent(id, tool, s.data.Progress,
			fmt.Sprintf("%s failed (%s): %v", tool, run.ErrorKind, err)))
	}

	s.done++
	s.data.Progress = percent(s.done, len(s.data.SelectedTools))
	e.hub.Publish(id, models.NewProgressEvent(id, tool, s.data.Progress,
		fmt.Sprintf("Finished %s: %d findings", tool, run.Findings)))
	state := run.State
	kind := run.ErrorKind
	s.mu.Unlock()

	e.metrics.IncCounter(utils.MetricToolRunsTotal, 1, prometheus.Labels{"tool": tool, "outcome": strings.ToLower(string(state))})
	e.metrics.ObserveHistogram(utils.MetricToolDuration, took.Seconds(), prometheus.Labels{"tool": tool})
	for _, f := range findings {
		e.metrics.IncCounter(utils.MetricFindingsTotal, 1, prometheus.Labels{"tool": tool, "severity": string(f.Severity)})
	}

	fields := logrus.Fields{
		"session_id": id,
		"tool":       tool,
		"state":      state,
		"findings":   len(findings),
		"duration":   took.Round(time.Millisecond).String(),
	}
	if err != nil {
		fields["error_kind"] = kind
		e.logger.WithFields(fields).WithError(err).Warn("Tool contributed no findings")
		return
	}
	e.logger.WithFields(fields).Info("Tool finished")
}

// finish moves a session to a terminal state exactly once.
func (e *Engine) finish(s *session, status models.SessionStatus, msg string) {
	s.mu.Lock()
	if s.data.Status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	id := s.data.ID
	now := time.Now().UTC()

	var ev models.Event
	if status == models.StatusCompleted {
		merged := make([]models.Finding, 0, len(s.data.Findings))
		for _, fs := range s.byTool {
			merged = append(merged, fs...)
		}
		s.data.Findings = DedupeFindings(merged)
		s.data.Progress = 100
		ev = models.NewCompletedEvent(id, len(s.data.Findings))
	} else {
		s.data.Error = msg
		for i := range s.data.ToolRuns {
			if s.data.ToolRuns[i].State == models.ToolRunning {
				s.data.ToolRuns[i].State = models.ToolFailed
				s.data.ToolRuns[i].FinishedAt = now
				s.data.ToolRuns[i].Error = msg
			}
		}
		ev = models.NewErrorEvent(id, msg)
	}
	s.data.Status = status
	s.data.EndTime = now
	s.data.CurrentTool = ""
	e.hub.Publish(id, ev)
	snapshot := s.data.Clone()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.hub.Close(id)
	if err := e.results.Store(snapshot); err != nil {
		e.logger.WithField("session_id", id).WithError(err).Warn("Could not retain session snapshot")
	}

	e.mu.Lock()
	delete(e.sessions, id)
	if status == models.StatusCompleted {
		e.completed++
	} else {
		e.failed++
	}
	e.mu.Unlock()
	close(s.finished)

	e.metrics.AddGauge(utils.MetricScansActive, -1, nil)
	e.metrics.IncCounter(utils.MetricScansTotal, 1, prometheus.Labels{"status": strings.ToLower(string(status))})

	entry := e.logger.WithFields(logrus.Fields{
		"session_id": id,
		"status":     status,
		"findings":   len(snapshot.Findings),
		"duration":   snapshot.Duration().Round(time.Millisecond).String(),
	})
	if status == models.StatusFailed {
		entry.WithField("error", msg).Warn("Scan failed")
		return
	}
	entry.Info("Scan completed")
}

// GetSession returns a deep copy of the session, live or retained.
func (e *Engine) GetSession(id string) (models.ScanSession, error) {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	if ok {
		return s.snapshot(), nil
	}
	if snap, ok := e.results.Get(id); ok {
		return snap, nil
	}
	return models.ScanSession{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

// ListSessions returns live and retained sessions, newest first.
func (e *Engine) ListSessions() []models.ScanSession {
	e.mu.RLock()
	out := make([]models.ScanSession, 0, len(e.sessions))
	seen := make(map[string]struct{}, len(e.sessions))
	for id, s := range e.sessions {
		out = append(out, s.snapshot())
		seen[id] = struct{}{}
	}
	e.mu.RUnlock()

	for _, snap := range e.results.List() {
		if _, dup := seen[snap.ID]; !dup {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

// WaitSession blocks until the session is terminal and returns its final
// snapshot.
func (e *Engine) WaitSession(ctx context.Context, id string) (models.ScanSession, error) {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	if ok {
		select {
		case <-s.finished:
		case <-ctx.Done():
			return models.ScanSession{}, ctx.Err()
		}
	}
	return e.GetSession(id)
}

// CancelScan stops a running session; it ends FAILED.
func (e *Engine) CancelScan(id string) error {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s is not running", ErrSessionNotFound, id)
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.logger.WithField("session_id", id).Info("Scan cancellation requested")
	return nil
}

// Wait blocks until every started session has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown refuses new scans, cancels running ones and waits for them to be
// marked FAILED.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	active := len(e.sessions)
	e.mu.Unlock()

	e.logger.WithField("active_sessions", active).Info("Shutting down scan engine")
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

func (e *Engine) GetStats() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := map[string]interface{}{
		"active_sessions":    len(e.sessions),
		"sessions_started":   e.started,
		"sessions_completed": e.completed,
		"sessions_failed":    e.failed,
		"parallelism":        max(e.config.Parallelism, 1),
		"tool_timeout":       e.config.ToolTimeout.String(),
		"simulate":           e.config.Simulate,
		"default_tools":      append([]string(nil), e.config.DefaultTools...),
	}

	details := make([]map[string]interface{}, 0, len(e.sessions))
	for _, s := range e.sessions {
		snap := s.snapshot()
		details = append(details, map[string]interface{}{
			"session_id":   snap.ID,
			"target_id":    snap.TargetID,
			"status":       snap.Status,
			"progress":     snap.Progress,
			"current_tool": snap.CurrentTool,
			"start_time":   snap.StartTime,
		})
	}
	stats["active_session_details"] = details
	return stats
}

func (e *Engine) selectTools(tools []string) []string {
	if len(tools) == 0 {
		tools = e.config.DefaultTools
	}
	out := utils.UniqueFold(tools)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

func (s *session) snapshot() models.ScanSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone()
}

func percent(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(done) * 100 / float64(total)
}

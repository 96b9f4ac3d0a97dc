package orchestration

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	WorkflowSequential = "sequential"
	WorkflowParallel   = "parallel"
)

// ToolStep runs one tool of a session. It records its own outcome, so a
// workflow only decides ordering and concurrency.
type ToolStep func(ctx context.Context, index int, tool string)

type Workflow interface {
	Name() string
	Execute(ctx context.Context, tools []string, step ToolStep) error
}

type WorkflowManager struct {
	logger    *logrus.Logger
	workflows map[string]Workflow
	mu        sync.RWMutex
}

func NewWorkflowManager(parallelism int, logger *logrus.Logger) *WorkflowManager {
	if logger == nil {
		logger = logrus.New()
	}
	if parallelism < 1 {
		parallelism = 1
	}
	wm := &WorkflowManager{
		logger:    logger,
		workflows: make(map[string]Workflow),
	}
	wm.workflows[WorkflowSequential] = &SequentialWorkflow{logger: logger}
	wm.workflows[WorkflowParallel] = &ParallelWorkflow{logger: logger, limit: parallelism}
	return wm
}

func (wm *WorkflowManager) Register(w Workflow) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	wm.workflows[w.Name()] = w
}

// GetWorkflow picks the strategy for a parallelism setting.
func (wm *WorkflowManager) GetWorkflow(parallelism int) Workflow {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	if parallelism > 1 {
		if w, ok := wm.workflows[WorkflowParallel]; ok {
			return w
		}
	}
	return wm.workflows[WorkflowSequential]
}

type SequentialWorkflow struct {
	logger *logrus.Logger
}

func (w *SequentialWorkflow) Name() string { return WorkflowSequential }

func (w *SequentialWorkflow) Execute(ctx context.Context, tools []string, step ToolStep) error {
	for i, tool := range tools {
		if err := ctx.Err(); err != nil {
			return err
		}
		step(ctx, i, tool)
	}
	return ctx.Err()
}

// ParallelWorkflow runs up to limit tools at once.
type ParallelWorkflow struct {
	logger *logrus.Logger
	limit  int
}

func (w *ParallelWorkflow) Name() string { return WorkflowParallel }

func (w *ParallelWorkflow) Execute(ctx context.Context, tools []string, step ToolStep) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.limit)
	for i, tool := range tools {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			step(gctx, i, tool)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

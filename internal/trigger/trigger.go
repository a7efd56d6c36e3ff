// Package trigger runs workflows on cron schedules.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/genflow/internal/workflow"
)

// cronParser accepts standard 5-field expressions, 6-field expressions
// with seconds, and descriptors like @hourly and @every.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Runner executes a workflow by id. *workflow.Engine satisfies it.
type Runner interface {
	Execute(ctx context.Context, workflowID string, execCtx map[string]any) (*workflow.Execution, error)
}

// Validate checks a cron expression without scheduling it.
func Validate(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Scheduler binds cron schedules to workflow executions. One schedule
// per workflow; adding a schedule for an already-scheduled workflow
// replaces it.
type Scheduler struct {
	runner Runner
	logger *slog.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
	running bool
}

// NewScheduler creates a scheduler. Nothing fires until Start.
func NewScheduler(runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:  runner,
		logger:  logger.With("component", "trigger-scheduler"),
		cron:    cron.New(cron.WithParser(cronParser)),
		entries: make(map[string]cron.EntryID),
	}
}

// Add schedules a workflow on a cron expression. The execution context
// is passed to every triggered run.
func (s *Scheduler) Add(workflowID, spec string, execCtx map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, err := s.cron.AddFunc(spec, func() { s.fire(workflowID, execCtx) })
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	if old, ok := s.entries[workflowID]; ok {
		s.cron.Remove(old)
	}
	s.entries[workflowID] = entryID

	s.logger.Info("scheduled workflow", "workflow_id", workflowID, "cron", spec)
	return nil
}

// Remove drops a workflow's schedule. Reports whether one existed.
func (s *Scheduler) Remove(workflowID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[workflowID]
	if !ok {
		return false
	}
	s.cron.Remove(entryID)
	delete(s.entries, workflowID)
	s.logger.Info("unscheduled workflow", "workflow_id", workflowID)
	return true
}

// Workflows returns the scheduled workflow ids sorted.
func (s *Scheduler) Workflows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start begins firing schedules. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("trigger scheduler started", "schedules", len(s.entries))
}

// Stop stops firing and waits for in-flight runs started by the cron
// loop to return. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("trigger scheduler stopped")
}

func (s *Scheduler) fire(workflowID string, execCtx map[string]any) {
	s.logger.Info("triggering workflow", "workflow_id", workflowID)
	exec, err := s.runner.Execute(context.Background(), workflowID, execCtx)
	if err != nil {
		s.logger.Error("triggered execution failed", "workflow_id", workflowID, "error", err)
		return
	}
	s.logger.Info("triggered execution finished", "workflow_id", workflowID, "status", exec.Status)
}

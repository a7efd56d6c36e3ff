package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/genflow/internal/agent"
	"github.com/haasonsaas/genflow/internal/observability"
)

// defaultPollInterval paces the dispatch loop while it waits for
// running tasks to unblock their dependents.
const defaultPollInterval = 100 * time.Millisecond

// Executor is what the engine schedules against. *agent.Agent
// satisfies it.
type Executor interface {
	ID() string
	Execute(ctx context.Context, task string, execCtx map[string]any) *agent.Result
}

// Engine owns workflow definitions, their executions, and the agents
// tasks are bound to.
//
// Scheduling model: a dispatch loop repeatedly computes the ready set
// (pending tasks whose dependencies all succeeded) and hands each
// ready task to a goroutine. A semaphore bounds concurrent attempts to
// the definition's max_parallel_tasks; a task retries inside the slot
// it already holds, so retries cannot overcommit the bound. When no
// task is ready and none is running, the run is complete: failed if
// any task failed (tasks blocked behind the failure stay pending),
// successful otherwise.
type Engine struct {
	logger       *slog.Logger
	metrics      *observability.Metrics
	pollInterval time.Duration

	mu         sync.Mutex
	agents     map[string]Executor
	workflows  map[string]*Definition
	executions map[string]*execState
}

// NewEngine creates an engine. Metrics may be nil.
func NewEngine(logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:       logger.With("component", "workflow-engine"),
		metrics:      metrics,
		pollInterval: defaultPollInterval,
		agents:       make(map[string]Executor),
		workflows:    make(map[string]*Definition),
		executions:   make(map[string]*execState),
	}
}

// RegisterAgent makes an agent schedulable under its id.
func (e *Engine) RegisterAgent(a Executor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents[a.ID()] = a
	e.logger.Info("registered agent", "agent_id", a.ID())
}

// UnregisterAgent removes an agent. Tasks bound to it fail when
// scheduled.
func (e *Engine) UnregisterAgent(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.agents, agentID)
	e.logger.Info("unregistered agent", "agent_id", agentID)
}

// Create validates and stores a workflow definition, assigning an id
// if the definition carries none.
func (e *Engine) Create(def *Definition) (string, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}
	if def.ID == "" {
		def.ID = newWorkflowID()
	}

	e.mu.Lock()
	e.workflows[def.ID] = def
	e.mu.Unlock()

	e.logger.Info("created workflow", "workflow_id", def.ID, "name", def.Name, "tasks", len(def.Tasks))
	return def.ID, nil
}

// Workflow returns a stored definition.
func (e *Engine) Workflow(id string) (*Definition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.workflows[id]
	return def, ok
}

// Execute runs a workflow to completion and returns a snapshot of the
// finished execution. The execution context overrides workflow and
// task context keys.
func (e *Engine) Execute(ctx context.Context, workflowID string, execCtx map[string]any) (*Execution, error) {
	e.mu.Lock()
	def, ok := e.workflows[workflowID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("workflow %s not found", workflowID)
	}
	st := &execState{
		exec:      newExecution(def, execCtx),
		scheduled: make(map[string]bool),
	}
	e.executions[workflowID] = st
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.WorkflowStarted()
		defer e.metrics.WorkflowEnded()
	}
	e.logger.Info("executing workflow", "workflow_id", workflowID, "name", def.Name)

	e.dispatch(ctx, def, st)
	final := st.finalize()

	if e.metrics != nil {
		e.metrics.RecordWorkflow(def.Name, string(final.Status), final.duration())
	}
	e.logger.Info("workflow finished", "workflow_id", workflowID, "status", final.Status)
	return final, nil
}

// Cancel marks a running execution cancelled. Scheduling stops, but
// already-running tasks finish; their outcomes are recorded without
// changing the cancelled status.
func (e *Engine) Cancel(workflowID string) bool {
	e.mu.Lock()
	st, ok := e.executions[workflowID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	if st.cancel() {
		e.logger.Info("cancelled workflow", "workflow_id", workflowID)
		return true
	}
	return false
}

// Status returns a snapshot of the latest execution of a workflow.
func (e *Engine) Status(workflowID string) (*Execution, bool) {
	e.mu.Lock()
	st, ok := e.executions[workflowID]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	return st.snapshot(), true
}

// ListWorkflows returns the stored workflow ids sorted.
func (e *Engine) ListWorkflows() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.workflows))
	for id := range e.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListAgents returns the registered agent ids sorted.
func (e *Engine) ListAgents() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.agents))
	for id := range e.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) agent(id string) Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agents[id]
}

// dispatch runs the scheduling loop until the execution reaches a
// terminal state.
func (e *Engine) dispatch(ctx context.Context, def *Definition, st *execState) {
	sem := make(chan struct{}, def.maxParallel())
	var wg sync.WaitGroup

	for {
		if ctx.Err() != nil {
			st.cancel()
		}
		if st.status() != StatusRunning {
			break
		}

		ready := st.readyTasks(def)
		if len(ready) == 0 {
			if st.scheduledCount() == 0 {
				break
			}
			time.Sleep(e.pollInterval)
			continue
		}

		for _, task := range ready {
			st.markScheduled(task.ID)
			wg.Add(1)
			go func(task TaskDefinition) {
				defer wg.Done()
				defer st.clearScheduled(task.ID)
				e.runTask(ctx, def, task, st, sem)
			}(task)
		}
		time.Sleep(e.pollInterval)
	}

	wg.Wait()
}

// runTask executes one task inside a semaphore slot, retrying in place
// until success, retry exhaustion, or timeout.
func (e *Engine) runTask(ctx context.Context, def *Definition, task TaskDefinition, st *execState, sem chan struct{}) {
	sem <- struct{}{}
	defer func() { <-sem }()

	// Cancelled while waiting for a slot: leave the task untouched for
	// finalize to skip.
	if st.status() != StatusRunning {
		return
	}

	logger := e.logger.With("workflow_id", def.ID, "task_id", task.ID)

	ag := e.agent(task.AgentID)
	if ag == nil {
		errMsg := fmt.Sprintf("agent %s not registered", task.AgentID)
		logger.Error("task failed", "error", errMsg)
		dur := st.finishTask(task.ID, TaskFailed, nil, errMsg)
		e.recordTask(def.Name, TaskFailed, dur)
		return
	}

	taskCtx := mergeContext(def.GlobalContext, task.Context, st.execContext())
	timeout := def.taskTimeout(&task)

	for {
		st.markRunning(task.ID)
		result, timedOut := e.invoke(ctx, ag, &task, taskCtx, timeout)

		if result.Success {
			dur := st.finishTask(task.ID, TaskSuccess, result, "")
			e.recordTask(def.Name, TaskSuccess, dur)
			logger.Info("task succeeded", "attempts", st.attempts(task.ID)+1)
			return
		}

		// A timed-out attempt fails the task outright; the retry
		// budget is for the agent's own failures, not for runaway
		// attempts.
		if timedOut {
			dur := st.finishTask(task.ID, TaskFailed, result, result.Error)
			e.recordTask(def.Name, TaskFailed, dur)
			logger.Error("task failed", "error", result.Error)
			return
		}

		if st.attempts(task.ID) < task.RetryCount {
			attempt := st.retryTask(task.ID)
			if e.metrics != nil {
				e.metrics.RecordTaskRetry(def.Name)
			}
			logger.Warn("task failed, retrying", "attempt", attempt, "retry_count", task.RetryCount, "error", result.Error)
			continue
		}

		dur := st.finishTask(task.ID, TaskFailed, result, result.Error)
		e.recordTask(def.Name, TaskFailed, dur)
		logger.Error("task failed", "attempts", st.attempts(task.ID)+1, "error", result.Error)
		return
	}
}

// invoke runs one attempt, bounded by the task timeout. The second
// return value reports whether the attempt was cut off rather than
// failed by the agent.
func (e *Engine) invoke(ctx context.Context, ag Executor, task *TaskDefinition, taskCtx map[string]any, timeout time.Duration) (*agent.Result, bool) {
	if timeout <= 0 {
		return ag.Execute(ctx, task.Description, taskCtx), false
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan *agent.Result, 1)
	go func() { done <- ag.Execute(attemptCtx, task.Description, taskCtx) }()

	select {
	case result := <-done:
		return result, false
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return &agent.Result{Success: false, Error: fmt.Sprintf("task %s cancelled", task.ID)}, true
		}
		return &agent.Result{
			Success: false,
			Error:   fmt.Sprintf("task %s timed out after %gs", task.ID, timeout.Seconds()),
		}, true
	}
}

func (e *Engine) recordTask(workflow string, status TaskStatus, duration time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordTask(workflow, string(status), duration.Seconds())
	}
}

// mergeContext layers contexts: global under task under execution.
func mergeContext(global, task, exec map[string]any) map[string]any {
	merged := make(map[string]any, len(global)+len(task)+len(exec))
	for k, v := range global {
		merged[k] = v
	}
	for k, v := range task {
		merged[k] = v
	}
	for k, v := range exec {
		merged[k] = v
	}
	return merged
}

// execState is one execution plus the engine-side bookkeeping that
// does not belong in snapshots.
type execState struct {
	mu        sync.Mutex
	exec      *Execution
	scheduled map[string]bool
}

func (st *execState) status() Status {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.exec.Status
}

func (st *execState) execContext() map[string]any {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.exec.Context
}

// readyTasks returns pending, unscheduled tasks whose dependencies all
// succeeded.
func (st *execState) readyTasks(def *Definition) []TaskDefinition {
	st.mu.Lock()
	defer st.mu.Unlock()

	var ready []TaskDefinition
	for _, task := range def.Tasks {
		if st.scheduled[task.ID] || st.exec.Tasks[task.ID].Status != TaskPending {
			continue
		}
		met := true
		for _, dep := range task.DependsOn {
			if st.exec.Tasks[dep].Status != TaskSuccess {
				met = false
				break
			}
		}
		if met {
			ready = append(ready, task)
		}
	}
	return ready
}

func (st *execState) scheduledCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.scheduled)
}

func (st *execState) markScheduled(taskID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.scheduled[taskID] = true
}

func (st *execState) clearScheduled(taskID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.scheduled, taskID)
}

// markRunning flips the task to running, setting the start time only
// on the first attempt.
func (st *execState) markRunning(taskID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	te := st.exec.Tasks[taskID]
	te.Status = TaskRunning
	if te.StartTime == nil {
		now := time.Now().UTC()
		te.StartTime = &now
	}
}

func (st *execState) attempts(taskID string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.exec.Tasks[taskID].Attempts
}

// retryTask counts one retry and parks the task in the retry state
// until the next attempt starts. Returns the new attempt number.
func (st *execState) retryTask(taskID string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	te := st.exec.Tasks[taskID]
	te.Attempts++
	te.Status = TaskRetry
	return te.Attempts
}

// finishTask records a terminal task status and returns the task
// duration.
func (st *execState) finishTask(taskID string, status TaskStatus, result *agent.Result, errMsg string) time.Duration {
	st.mu.Lock()
	defer st.mu.Unlock()
	te := st.exec.Tasks[taskID]
	te.Status = status
	te.Result = result
	te.Error = errMsg
	now := time.Now().UTC()
	te.EndTime = &now
	if te.StartTime == nil {
		return 0
	}
	return now.Sub(*te.StartTime)
}

// cancel flips a running execution to cancelled. Reports whether the
// flip happened.
func (st *execState) cancel() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.exec.Status != StatusRunning {
		return false
	}
	st.exec.Status = StatusCancelled
	now := time.Now().UTC()
	st.exec.EndTime = &now
	return true
}

// finalize settles the terminal status and returns a snapshot. Tasks
// blocked by a failed dependency stay pending; tasks abandoned by a
// cancel are skipped.
func (st *execState) finalize() *Execution {
	st.mu.Lock()
	defer st.mu.Unlock()

	anyFailed := false
	for _, te := range st.exec.Tasks {
		switch te.Status {
		case TaskFailed:
			anyFailed = true
		case TaskPending:
			if st.exec.Status == StatusCancelled {
				te.Status = TaskSkipped
				now := time.Now().UTC()
				te.EndTime = &now
			}
		}
	}

	if st.exec.Status == StatusRunning {
		if anyFailed {
			st.exec.Status = StatusFailed
		} else {
			st.exec.Status = StatusSuccess
		}
	}
	if st.exec.EndTime == nil {
		now := time.Now().UTC()
		st.exec.EndTime = &now
	}
	return st.snapshotLocked()
}

func (st *execState) snapshot() *Execution {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshotLocked()
}

func (st *execState) snapshotLocked() *Execution {
	out := &Execution{
		WorkflowID: st.exec.WorkflowID,
		Status:     st.exec.Status,
		StartTime:  st.exec.StartTime,
		EndTime:    st.exec.EndTime,
		Tasks:      make(map[string]*TaskExecution, len(st.exec.Tasks)),
		Context:    st.exec.Context,
	}
	for id, te := range st.exec.Tasks {
		copied := *te
		out.Tasks[id] = &copied
	}
	return out
}

// duration returns the wall time of a finished execution.
func (x *Execution) duration() float64 {
	if x.StartTime == nil || x.EndTime == nil {
		return 0
	}
	return x.EndTime.Sub(*x.StartTime).Seconds()
}

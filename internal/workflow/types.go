// Package workflow implements the DAG scheduler: workflow definitions,
// dependency validation, and an engine that executes tasks through
// registered agents with bounded parallelism, per-task retry, and
// timeouts.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/genflow/internal/agent"
)

// TaskStatus is the lifecycle state of one task execution.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "failed"
	TaskSkipped TaskStatus = "skipped"
	TaskRetry   TaskStatus = "retry"
)

// Status is the lifecycle state of a workflow execution.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Defaults applied by the builder and the configuration loader.
const (
	DefaultRetryCount       = 3
	DefaultTaskTimeout      = 300 * time.Second
	DefaultMaxParallelTasks = 5
)

// ErrInvalidDefinition marks definitions rejected by Validate.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// TaskDefinition is one node of the workflow DAG.
//
// RetryCount is the number of retries after the first failed attempt;
// zero disables retrying. A Timeout of zero means the task runs
// unbounded.
type TaskDefinition struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	AgentID     string         `yaml:"agent_id"`
	Description string         `yaml:"description"`
	DependsOn   []string       `yaml:"depends_on"`
	RetryCount  int            `yaml:"retry_count"`
	Timeout     time.Duration  `yaml:"timeout"`
	Context     map[string]any `yaml:"context"`
}

// Definition is a complete workflow DAG. DefaultTimeout applies to
// tasks that do not set their own.
type Definition struct {
	ID               string           `yaml:"id"`
	Name             string           `yaml:"name"`
	Description      string           `yaml:"description"`
	Tasks            []TaskDefinition `yaml:"tasks"`
	GlobalContext    map[string]any   `yaml:"global_context"`
	MaxParallelTasks int              `yaml:"max_parallel_tasks"`
	DefaultTimeout   time.Duration    `yaml:"default_timeout"`
}

// taskTimeout resolves the attempt deadline for one task. Zero means
// the attempt runs unbounded.
func (d *Definition) taskTimeout(t *TaskDefinition) time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return d.DefaultTimeout
}

// Task returns the task with the given id, nil if absent.
func (d *Definition) Task(id string) *TaskDefinition {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return &d.Tasks[i]
		}
	}
	return nil
}

// Dependents returns the ids of tasks that depend on the given task.
func (d *Definition) Dependents(id string) []string {
	var out []string
	for _, t := range d.Tasks {
		for _, dep := range t.DependsOn {
			if dep == id {
				out = append(out, t.ID)
				break
			}
		}
	}
	return out
}

// Validate checks the definition: named tasks with unique ids bound to
// agents, dependencies that exist, and an acyclic graph.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if len(d.Tasks) == 0 {
		return fmt.Errorf("%w: at least one task is required", ErrInvalidDefinition)
	}

	ids := make(map[string]bool, len(d.Tasks))
	for _, t := range d.Tasks {
		if t.ID == "" {
			return fmt.Errorf("%w: task without id", ErrInvalidDefinition)
		}
		if t.AgentID == "" {
			return fmt.Errorf("%w: task %s has no agent", ErrInvalidDefinition, t.ID)
		}
		if ids[t.ID] {
			return fmt.Errorf("%w: duplicate task id %s", ErrInvalidDefinition, t.ID)
		}
		ids[t.ID] = true
	}

	for _, t := range d.Tasks {
		for _, dep := range t.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("%w: task %s depends on unknown task %s", ErrInvalidDefinition, t.ID, dep)
			}
		}
	}

	if cycle := d.findCycle(); cycle != "" {
		return fmt.Errorf("%w: dependency cycle through task %s", ErrInvalidDefinition, cycle)
	}
	return nil
}

// findCycle runs a DFS with a recursion stack over the dependency
// edges and returns a task id on a cycle, or "".
func (d *Definition) findCycle() string {
	visited := make(map[string]bool, len(d.Tasks))
	stack := make(map[string]bool, len(d.Tasks))

	var visit func(id string) string
	visit = func(id string) string {
		visited[id] = true
		stack[id] = true
		for _, dep := range d.Task(id).DependsOn {
			if !visited[dep] {
				if hit := visit(dep); hit != "" {
					return hit
				}
			} else if stack[dep] {
				return dep
			}
		}
		stack[id] = false
		return ""
	}

	for _, t := range d.Tasks {
		if !visited[t.ID] {
			if hit := visit(t.ID); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// maxParallel returns the configured bound or the default.
func (d *Definition) maxParallel() int {
	if d.MaxParallelTasks > 0 {
		return d.MaxParallelTasks
	}
	return DefaultMaxParallelTasks
}

// TaskExecution is the runtime state of one task.
type TaskExecution struct {
	TaskID    string        `json:"task_id"`
	Status    TaskStatus    `json:"status"`
	StartTime *time.Time    `json:"start_time,omitempty"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Attempts  int           `json:"attempts"`
	Result    *agent.Result `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Execution is the runtime state of one workflow run. The engine
// mutates it through its own synchronization; readers should take a
// Snapshot.
type Execution struct {
	WorkflowID string                    `json:"workflow_id"`
	Status     Status                    `json:"status"`
	StartTime  *time.Time                `json:"start_time,omitempty"`
	EndTime    *time.Time                `json:"end_time,omitempty"`
	Tasks      map[string]*TaskExecution `json:"tasks"`
	Context    map[string]any            `json:"context,omitempty"`
}

func newExecution(def *Definition, execCtx map[string]any) *Execution {
	now := time.Now().UTC()
	exec := &Execution{
		WorkflowID: def.ID,
		Status:     StatusRunning,
		StartTime:  &now,
		Tasks:      make(map[string]*TaskExecution, len(def.Tasks)),
		Context:    execCtx,
	}
	for _, t := range def.Tasks {
		exec.Tasks[t.ID] = &TaskExecution{TaskID: t.ID, Status: TaskPending}
	}
	return exec
}

// newWorkflowID generates a workflow id for definitions created
// without one.
func newWorkflowID() string {
	return uuid.NewString()
}

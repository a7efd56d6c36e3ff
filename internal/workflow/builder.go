package workflow

import "time"

// Builder assembles workflow definitions fluently. Tasks get the
// default retry count and timeout unless overridden per task.
type Builder struct {
	def Definition
}

// NewBuilder starts a workflow definition.
func NewBuilder(name, description string) *Builder {
	return &Builder{def: Definition{
		ID:               newWorkflowID(),
		Name:             name,
		Description:      description,
		MaxParallelTasks: DefaultMaxParallelTasks,
	}}
}

// TaskOption customizes one task added through Task.
type TaskOption func(*TaskDefinition)

// DependsOn declares the task ids this task waits for.
func DependsOn(ids ...string) TaskOption {
	return func(t *TaskDefinition) { t.DependsOn = append(t.DependsOn, ids...) }
}

// RetryCount sets the number of retries after the first failed
// attempt. Zero disables retrying.
func RetryCount(n int) TaskOption {
	return func(t *TaskDefinition) { t.RetryCount = n }
}

// Timeout bounds a single task attempt.
func Timeout(d time.Duration) TaskOption {
	return func(t *TaskDefinition) { t.Timeout = d }
}

// TaskContext sets the task-level context, overriding global context
// keys during execution.
func TaskContext(ctx map[string]any) TaskOption {
	return func(t *TaskDefinition) { t.Context = ctx }
}

// Task appends a task. The id doubles as the task name.
func (b *Builder) Task(id, agentID, description string, opts ...TaskOption) *Builder {
	task := TaskDefinition{
		ID:          id,
		Name:        id,
		AgentID:     agentID,
		Description: description,
		RetryCount:  DefaultRetryCount,
		Timeout:     DefaultTaskTimeout,
	}
	for _, opt := range opts {
		opt(&task)
	}
	b.def.Tasks = append(b.def.Tasks, task)
	return b
}

// GlobalContext sets the workflow-level context available to every
// task.
func (b *Builder) GlobalContext(ctx map[string]any) *Builder {
	b.def.GlobalContext = ctx
	return b
}

// MaxParallel bounds concurrent task execution.
func (b *Builder) MaxParallel(n int) *Builder {
	b.def.MaxParallelTasks = n
	return b
}

// Build validates and returns the definition.
func (b *Builder) Build() (*Definition, error) {
	def := b.def
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

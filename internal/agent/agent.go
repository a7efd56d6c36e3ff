// Package agent defines the execution contract the workflow engine
// schedules against: named agents that take a task plus context and
// always come back with a result, successful or not.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/genflow/internal/bus"
	"github.com/haasonsaas/genflow/internal/mcp"
	"github.com/haasonsaas/genflow/internal/tools"
)

// Config describes one agent.
type Config struct {
	Name         string             `yaml:"name"`
	Description  string             `yaml:"description"`
	Provider     string             `yaml:"provider"`
	Model        string             `yaml:"model"`
	SystemPrompt string             `yaml:"system_prompt"`
	Servers      []mcp.ServerConfig `yaml:"tool_servers"`
	Timeout      time.Duration      `yaml:"timeout"`
}

// Result is the outcome of one task execution. Execute never returns
// a Go error; failures are carried here so the scheduler can apply its
// retry policy uniformly.
type Result struct {
	Success  bool           `json:"success"`
	Value    string         `json:"value,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MessageHandler processes one bus message addressed to the agent.
type MessageHandler func(*bus.Message) (*Result, error)

// Agent executes tasks through an LLM provider with the tools its
// configured servers advertise. An agent without a provider still
// participates in workflows: it acknowledges tasks without doing
// model work, which keeps pipelines runnable in tests and dry runs.
type Agent struct {
	id       string
	config   Config
	provider Provider
	registry *tools.Registry
	logger   *slog.Logger

	comms    *bus.Comms
	handlers map[string]MessageHandler
	running  atomic.Bool
}

// New creates an agent. Provider and registry may both be nil.
func New(cfg Config, provider Provider, registry *tools.Registry, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	uid := uuid.New()
	id := fmt.Sprintf("%s_%x", cfg.Name, uid[:4])
	return &Agent{
		id:       id,
		config:   cfg,
		provider: provider,
		registry: registry,
		logger:   logger.With("agent_id", id),
		handlers: make(map[string]MessageHandler),
	}
}

// ID returns the unique agent id, "<name>_<8 hex>".
func (a *Agent) ID() string { return a.id }

// Name returns the configured agent name.
func (a *Agent) Name() string { return a.config.Name }

// Config returns the agent configuration.
func (a *Agent) Config() Config { return a.config }

// IsRunning reports whether Start has been called without Stop.
func (a *Agent) IsRunning() bool { return a.running.Load() }

// BindComms attaches the agent's view of the message bus.
func (a *Agent) BindComms(c *bus.Comms) { a.comms = c }

// Comms returns the bound bus facade, nil when the agent is detached.
func (a *Agent) Comms() *bus.Comms { return a.comms }

// Start marks the agent running and discovers tools from its
// configured servers. A server that cannot be reached is logged and
// skipped; the agent still starts and executes without those tools.
func (a *Agent) Start(ctx context.Context) {
	a.running.Store(true)
	if a.registry != nil && len(a.config.Servers) > 0 {
		if _, err := a.registry.Register(ctx, a.config.Servers); err != nil {
			a.logger.Warn("tool registration incomplete", "error", err)
		}
	}
	a.logger.Info("agent started", "name", a.config.Name)
}

// Stop marks the agent stopped and removes its bus subscriptions.
func (a *Agent) Stop() {
	a.running.Store(false)
	if a.comms != nil {
		a.comms.Cleanup()
	}
	a.logger.Info("agent stopped", "name", a.config.Name)
}

// OnMessage registers a handler for one message type.
func (a *Agent) OnMessage(messageType string, handler MessageHandler) {
	a.handlers[messageType] = handler
	a.logger.Debug("registered message handler", "message_type", messageType)
}

// HandleMessage dispatches a message to the handler registered for its
// type. Messages without a handler are logged and return nil; handler
// errors come back as failed results.
func (a *Agent) HandleMessage(m *bus.Message) *Result {
	handler, ok := a.handlers[m.Type]
	if !ok {
		a.logger.Warn("no handler for message type", "message_type", m.Type, "message_id", m.ID)
		return nil
	}
	result, err := handler(m)
	if err != nil {
		a.logger.Error("message handler failed", "message_id", m.ID, "error", err)
		return &Result{
			Success:  false,
			Error:    err.Error(),
			Metadata: map[string]any{"message_id": m.ID},
		}
	}
	return result
}

// Execute runs one task. The execution context is rendered into the
// prompt alongside the task text. Failures of any kind are reported in
// the result, never as a panic or error.
func (a *Agent) Execute(ctx context.Context, task string, execCtx map[string]any) *Result {
	if a.provider == nil {
		return &Result{
			Success: true,
			Value:   fmt.Sprintf("Task '%s' acknowledged by %s", task, a.config.Name),
			Metadata: map[string]any{
				"agent_id":       a.id,
				"execution_type": "simple",
			},
		}
	}

	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	execCtx, history := splitHistory(execCtx)
	req := &InvokeRequest{
		Model:        a.config.Model,
		SystemPrompt: a.config.SystemPrompt,
		Input:        renderInput(task, execCtx),
		History:      history,
		Tools:        a.toolDefs(),
	}

	completion, err := a.provider.Invoke(ctx, req)
	if err != nil {
		a.logger.Error("execution failed", "task", task, "error", err)
		return &Result{
			Success:  false,
			Error:    err.Error(),
			Metadata: map[string]any{"agent_id": a.id},
		}
	}

	return &Result{
		Success: true,
		Value:   completion.Value,
		Metadata: map[string]any{
			"agent_id": a.id,
			"model":    a.config.Model,
			"usage":    completion.Usage,
		},
	}
}

func (a *Agent) toolDefs() []ToolDef {
	if a.registry == nil {
		return nil
	}
	registered := a.registry.Tools()
	defs := make([]ToolDef, 0, len(registered))
	for _, t := range registered {
		defs = append(defs, ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters(),
			Call:        t.Call,
		})
	}
	return defs
}

// splitHistory pulls prior conversation turns out of the execution
// context under the "history" key, so they are replayed as messages
// instead of rendered into the prompt.
func splitHistory(execCtx map[string]any) (map[string]any, []string) {
	raw, ok := execCtx["history"]
	if !ok {
		return execCtx, nil
	}

	var history []string
	switch v := raw.(type) {
	case []string:
		history = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				history = append(history, s)
			}
		}
	default:
		return execCtx, nil
	}

	rest := make(map[string]any, len(execCtx)-1)
	for k, val := range execCtx {
		if k != "history" {
			rest[k] = val
		}
	}
	return rest, history
}

// renderInput appends the execution context to the task text as sorted
// key/value lines, so prompts are deterministic across runs.
func renderInput(task string, execCtx map[string]any) string {
	if len(execCtx) == 0 {
		return task
	}
	keys := make([]string, 0, len(execCtx))
	for k := range execCtx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(task)
	b.WriteString("\n\nContext:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, execCtx[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

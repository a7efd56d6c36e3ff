// Package tools discovers the callables advertised by configured tool
// servers and exposes them to agents as validated, string-returning
// functions.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/genflow/internal/mcp"
	"github.com/haasonsaas/genflow/internal/observability"
)

// Tool is one discovered tool server capability. Call validates the
// arguments against the advertised schema, invokes the tool through
// the shared connection pool, and renders the result as a string. A
// failure of any kind is reported inside the returned string, never as
// an error: the caller feeds the text back to an LLM either way.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage

	server   mcp.ServerConfig
	registry *Registry
}

// Server returns the configuration of the server that advertised this
// tool.
func (t *Tool) Server() mcp.ServerConfig { return t.server }

// Parameters decodes the input schema into a generic map, the shape
// LLM provider APIs expect for function parameters. A tool without a
// schema gets an empty object schema.
func (t *Tool) Parameters() map[string]any {
	var params map[string]any
	if len(t.InputSchema) > 0 {
		if err := json.Unmarshal(t.InputSchema, &params); err == nil {
			return params
		}
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Call invokes the tool with the given arguments.
func (t *Tool) Call(ctx context.Context, args map[string]any) string {
	start := time.Now()
	result, err := t.call(ctx, args)
	status := "success"
	if err != nil {
		status = "error"
	}
	if t.registry.metrics != nil {
		t.registry.metrics.RecordToolCall(t.Name, status, time.Since(start).Seconds())
	}
	if err != nil {
		t.registry.logger.Error("tool execution failed", "tool", t.Name, "error", err)
		return fmt.Sprintf("Error: tool '%s' execution failed: %v", t.Name, err)
	}
	return result
}

func (t *Tool) call(ctx context.Context, args map[string]any) (string, error) {
	if err := validateArguments(t.InputSchema, args); err != nil {
		return "", err
	}

	client, err := t.registry.pool.Acquire(ctx, t.server)
	if err != nil {
		return "", err
	}
	defer t.registry.pool.Release(t.server)

	result, err := client.CallTool(ctx, t.Name, args)
	if err != nil {
		return "", err
	}
	return stringify(result), nil
}

// Registry holds the tools discovered from a set of tool servers.
type Registry struct {
	logger  *slog.Logger
	metrics *observability.Metrics
	pool    *mcp.Pool

	mu    sync.Mutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry backed by the connection pool.
// Metrics may be nil.
func NewRegistry(pool *mcp.Pool, logger *slog.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger.With("component", "tool-registry"),
		metrics: metrics,
		pool:    pool,
		tools:   make(map[string]*Tool),
	}
}

// Register connects to each server, discovers its tools, and makes
// them callable. A tool re-registered under an existing name replaces
// the previous one. The first server that cannot be reached or listed
// aborts registration with an error.
func (r *Registry) Register(ctx context.Context, servers []mcp.ServerConfig) ([]*Tool, error) {
	var registered []*Tool
	for _, server := range servers {
		tools, err := r.registerServer(ctx, server)
		if err != nil {
			return registered, fmt.Errorf("register tool server %s: %w", server.Command, err)
		}
		registered = append(registered, tools...)
	}
	return registered, nil
}

func (r *Registry) registerServer(ctx context.Context, server mcp.ServerConfig) ([]*Tool, error) {
	client, err := r.pool.Acquire(ctx, server)
	if err != nil {
		return nil, err
	}
	defer r.pool.Release(server)

	discovered, err := client.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	var tools []*Tool
	r.mu.Lock()
	for _, d := range discovered {
		tool := &Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
			server:      server,
			registry:    r,
		}
		if _, exists := r.tools[d.Name]; exists {
			r.logger.Warn("tool name collision, replacing", "tool", d.Name, "server", server.Command)
		}
		r.tools[d.Name] = tool
		tools = append(tools, tool)
	}
	r.mu.Unlock()

	r.logger.Info("registered tool server", "command", server.Command, "tools", len(discovered))
	return tools, nil
}

// Tool looks up a registered tool by name.
func (r *Registry) Tool(name string) (*Tool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns every registered tool sorted by name.
func (r *Registry) Tools() []*Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered tool names sorted.
func (r *Registry) Names() []string {
	tools := r.Tools()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

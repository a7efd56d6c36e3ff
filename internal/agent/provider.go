package agent

import "context"

// Provider is an LLM backend capable of completing a task, optionally
// calling tools along the way.
type Provider interface {
	// Name identifies the provider for logging and metrics.
	Name() string

	// Invoke runs the request to completion, including any multi-turn
	// tool calling, and returns the final text.
	Invoke(ctx context.Context, req *InvokeRequest) (*Completion, error)
}

// ToolDef describes one callable exposed to the model. Call returns
// the tool output as text; failures come back inside the text so the
// model can reason about them.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
	Call        func(ctx context.Context, args map[string]any) string
}

// InvokeRequest is one task for a provider. History entries are prior
// conversation turns replayed before the input.
type InvokeRequest struct {
	Model        string
	SystemPrompt string
	Input        string
	History      []string
	Tools        []ToolDef
}

// Usage is the token consumption of an invocation, summed across tool
// calling turns.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Completion is the final provider output.
type Completion struct {
	Value string
	Usage Usage
}

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/genflow/internal/agent"
	"github.com/haasonsaas/genflow/internal/observability"
)

// defaultMaxTokens caps a single Anthropic response.
const defaultMaxTokens = 4096

// Anthropic executes tasks against Claude models via the Messages API.
// When a response stops for tool use, the tool_use blocks are executed
// and returned as tool_result blocks in a follow-up user turn until
// the model ends its turn.
type Anthropic struct {
	BaseProvider
	client  *anthropic.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewAnthropic creates the provider. An empty API key is allowed for
// delayed configuration; Invoke errors until a key is set.
func NewAnthropic(apiKey string, logger *slog.Logger, metrics *observability.Metrics) *Anthropic {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Anthropic{
		BaseProvider: NewBaseProvider("anthropic", 3, time.Second),
		logger:       logger.With("provider", "anthropic"),
		metrics:      metrics,
	}
	if apiKey != "" {
		client := anthropic.NewClient(option.WithAPIKey(apiKey))
		p.client = &client
	}
	return p
}

// Invoke runs the request to completion, resolving tool use along the
// way.
func (p *Anthropic) Invoke(ctx context.Context, req *agent.InvokeRequest) (*agent.Completion, error) {
	if p.client == nil {
		return nil, errors.New("anthropic api key not configured")
	}

	start := time.Now()
	completion, err := p.invoke(ctx, req)
	status := "success"
	if err != nil {
		status = "error"
	}
	if p.metrics != nil {
		var usage agent.Usage
		if completion != nil {
			usage = completion.Usage
		}
		p.metrics.RecordLLMRequest("anthropic", req.Model, status, time.Since(start).Seconds(), usage.InputTokens, usage.OutputTokens)
	}
	return completion, err
}

func (p *Anthropic) invoke(ctx context.Context, req *agent.InvokeRequest) (*agent.Completion, error) {
	var history []anthropic.MessageParam
	for _, turn := range req.History {
		history = append(history, anthropic.NewUserMessage(anthropic.NewTextBlock(turn)))
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: defaultMaxTokens,
		Messages:  append(history, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Input))),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	byName := make(map[string]agent.ToolDef, len(req.Tools))
	if len(req.Tools) > 0 {
		anthTools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, def := range req.Tools {
			byName[def.Name] = def
			inputSchema := anthropic.ToolInputSchemaParam{Type: "object"}
			if props, ok := def.Parameters["properties"].(map[string]any); ok {
				inputSchema.Properties = props
			}
			if required := stringSlice(def.Parameters["required"]); len(required) > 0 {
				inputSchema.Required = required
			}
			toolParam := anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: inputSchema,
			}
			anthTools = append(anthTools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = anthTools
	}

	var usage agent.Usage
	for turn := 0; turn < maxToolTurns; turn++ {
		var msg *anthropic.Message
		err := p.Retry(ctx, isRetryableAnthropic, func() error {
			m, err := p.client.Messages.New(ctx, params)
			if err != nil {
				return err
			}
			msg = m
			return nil
		})
		if err != nil {
			return &agent.Completion{Usage: usage}, fmt.Errorf("anthropic completion: %w", err)
		}

		usage.InputTokens += int(msg.Usage.InputTokens)
		usage.OutputTokens += int(msg.Usage.OutputTokens)

		var text strings.Builder
		var toolUses []anthropic.ToolUseBlock
		assistantBlocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, block := range msg.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				text.WriteString(variant.Text)
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))
			case anthropic.ToolUseBlock:
				toolUses = append(toolUses, variant)
				assistantBlocks = append(assistantBlocks, anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))
			}
		}

		if msg.StopReason != anthropic.StopReasonToolUse || len(toolUses) == 0 {
			return &agent.Completion{Value: text.String(), Usage: usage}, nil
		}

		params.Messages = append(params.Messages, anthropic.NewAssistantMessage(assistantBlocks...))

		resultBlocks := make([]anthropic.ContentBlockParamUnion, 0, len(toolUses))
		for _, use := range toolUses {
			result := p.runTool(ctx, byName, use)
			resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(use.ID, result, false))
		}
		params.Messages = append(params.Messages, anthropic.NewUserMessage(resultBlocks...))
	}

	return &agent.Completion{Usage: usage}, fmt.Errorf("tool calling exceeded %d turns without a final answer", maxToolTurns)
}

func (p *Anthropic) runTool(ctx context.Context, byName map[string]agent.ToolDef, use anthropic.ToolUseBlock) string {
	def, ok := byName[use.Name]
	if !ok {
		p.logger.Warn("model requested unknown tool", "tool", use.Name)
		return fmt.Sprintf("Error: unknown tool '%s'", use.Name)
	}
	var args map[string]any
	if len(use.Input) > 0 {
		if err := json.Unmarshal(use.Input, &args); err != nil {
			return fmt.Sprintf("Error: invalid arguments for tool '%s': %v", use.Name, err)
		}
	}
	return def.Call(ctx, args)
}

// isRetryableAnthropic treats rate limits, overload, and server errors
// as transient.
func isRetryableAnthropic(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

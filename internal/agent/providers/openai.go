package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/genflow/internal/agent"
	"github.com/haasonsaas/genflow/internal/observability"
)

// OpenAI executes tasks against OpenAI chat completion models. Tool
// calls returned by the model are run through the task's tool
// definitions and fed back until the model produces a final answer.
//
// System prompts are carried as a system message in the conversation,
// and each tool call gets its own tool-role result message, which is
// where this provider differs from the Anthropic one.
type OpenAI struct {
	BaseProvider
	client  *openai.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewOpenAI creates the provider. An empty API key is allowed for
// delayed configuration; Invoke errors until a key is set.
func NewOpenAI(apiKey string, logger *slog.Logger, metrics *observability.Metrics) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	p := &OpenAI{
		BaseProvider: NewBaseProvider("openai", 3, time.Second),
		logger:       logger.With("provider", "openai"),
		metrics:      metrics,
	}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
	}
	return p
}

// Invoke runs the request to completion, resolving tool calls along
// the way.
func (p *OpenAI) Invoke(ctx context.Context, req *agent.InvokeRequest) (*agent.Completion, error) {
	if p.client == nil {
		return nil, errors.New("openai api key not configured")
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
		p.metrics.RecordLLMRequest("openai", req.Model, status, time.Since(start).Seconds(), usage.InputTokens, usage.OutputTokens)
	}
	return completion, err
}

func (p *OpenAI) invoke(ctx context.Context, req *agent.InvokeRequest) (*agent.Completion, error) {
	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, turn := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: turn,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Input,
	})

	byName := make(map[string]agent.ToolDef, len(req.Tools))
	chatTools := make([]openai.Tool, 0, len(req.Tools))
	for _, def := range req.Tools {
		byName[def.Name] = def
		chatTools = append(chatTools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}

	var usage agent.Usage
	for turn := 0; turn < maxToolTurns; turn++ {
		chatReq := openai.ChatCompletionRequest{
			Model:    req.Model,
			Messages: messages,
		}
		if len(chatTools) > 0 {
			chatReq.Tools = chatTools
		}

		var resp openai.ChatCompletionResponse
		err := p.Retry(ctx, isRetryableOpenAI, func() error {
			r, err := p.client.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if err != nil {
			return &agent.Completion{Usage: usage}, fmt.Errorf("openai completion: %w", err)
		}

		usage.InputTokens += resp.Usage.PromptTokens
		usage.OutputTokens += resp.Usage.CompletionTokens

		if len(resp.Choices) == 0 {
			return &agent.Completion{Usage: usage}, errors.New("openai completion: empty response")
		}
		msg := resp.Choices[0].Message

		if len(msg.ToolCalls) == 0 {
			return &agent.Completion{Value: msg.Content, Usage: usage}, nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			result := p.runTool(ctx, byName, call.Function.Name, call.Function.Arguments)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	return &agent.Completion{Usage: usage}, fmt.Errorf("tool calling exceeded %d turns without a final answer", maxToolTurns)
}

func (p *OpenAI) runTool(ctx context.Context, byName map[string]agent.ToolDef, name, rawArgs string) string {
	def, ok := byName[name]
	if !ok {
		p.logger.Warn("model requested unknown tool", "tool", name)
		return fmt.Sprintf("Error: unknown tool '%s'", name)
	}
	var args map[string]any
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return fmt.Sprintf("Error: invalid arguments for tool '%s': %v", name, err)
		}
	}
	return def.Call(ctx, args)
}

// isRetryableOpenAI treats rate limits and server errors as transient.
func isRetryableOpenAI(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	return false
}

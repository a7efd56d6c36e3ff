// Package providers implements the LLM backends agents execute
// through: OpenAI chat completions and Anthropic messages, both with
// multi-turn tool calling and retry on transient API failures.
package providers

import (
	"context"
	"time"
)

// maxToolTurns bounds the tool-calling loop of a single invocation.
const maxToolTurns = 8

// BaseProvider holds shared retry configuration for LLM providers.
type BaseProvider struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

// NewBaseProvider creates a base provider. Non-positive retry settings
// fall back to 3 attempts with a one-second base delay.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	b := BaseProvider{name: name, maxRetries: maxRetries, retryDelay: retryDelay}
	if b.maxRetries <= 0 {
		b.maxRetries = 3
	}
	if b.retryDelay <= 0 {
		b.retryDelay = time.Second
	}
	return b
}

// Name returns the provider identifier.
func (b *BaseProvider) Name() string { return b.name }

// Retry runs op up to maxRetries times, sleeping retryDelay*attempt
// between attempts. Only errors accepted by isRetryable are retried;
// the last error is returned when attempts run out.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if isRetryable == nil || !isRetryable(err) || attempt >= b.maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryDelay * time.Duration(attempt)):
		}
	}
}

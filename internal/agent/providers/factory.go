package providers

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/genflow/internal/agent"
	"github.com/haasonsaas/genflow/internal/observability"
)

// New builds the provider registered under name. An empty name (or
// "none") yields a nil provider: the agent then acknowledges tasks
// without model work.
func New(name, apiKey string, logger *slog.Logger, metrics *observability.Metrics) (agent.Provider, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return nil, nil
	case "openai":
		return NewOpenAI(apiKey, logger, metrics), nil
	case "anthropic":
		return NewAnthropic(apiKey, logger, metrics), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

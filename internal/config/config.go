// Package config loads the YAML configuration: logging, providers,
// agents, workflows, and schedules.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/genflow/internal/agent"
	"github.com/haasonsaas/genflow/internal/observability"
	"github.com/haasonsaas/genflow/internal/trigger"
	"github.com/haasonsaas/genflow/internal/workflow"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Logging   observability.LogConfig   `yaml:"logging"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Agents    []agent.Config            `yaml:"agents"`
	Workflows []WorkflowConfig          `yaml:"workflows"`
}

type ServerConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProviderConfig carries credentials and the model used when an agent
// does not name one.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
}

// WorkflowConfig is the YAML shape of a workflow definition. Schedule,
// when set, is a cron expression the serve command registers.
type WorkflowConfig struct {
	ID               string         `yaml:"id"`
	Name             string         `yaml:"name"`
	Description      string         `yaml:"description"`
	Schedule         string         `yaml:"schedule"`
	Tasks            []TaskConfig   `yaml:"tasks"`
	GlobalContext    map[string]any `yaml:"global_context"`
	MaxParallelTasks int            `yaml:"max_parallel_tasks"`
}

// TaskConfig is the YAML shape of one task. RetryCount distinguishes
// an absent key (default applies) from an explicit zero (no retries).
type TaskConfig struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Agent       string         `yaml:"agent"`
	Description string         `yaml:"description"`
	DependsOn   []string       `yaml:"depends_on"`
	RetryCount  *int           `yaml:"retry_count"`
	Timeout     time.Duration  `yaml:"timeout"`
	Context     map[string]any `yaml:"context"`
}

// Load reads and parses the configuration file. Environment variable
// references like ${OPENAI_API_KEY} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration bytes.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks referential integrity: unique agent names, tasks
// bound to configured agents, workflows that form valid DAGs, and
// parseable schedules.
func (c *Config) Validate() error {
	agents := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent without name")
		}
		if agents[a.Name] {
			return fmt.Errorf("duplicate agent name %q", a.Name)
		}
		agents[a.Name] = true
	}

	workflows := make(map[string]bool, len(c.Workflows))
	for _, w := range c.Workflows {
		if w.Name == "" {
			return fmt.Errorf("workflow without name")
		}
		if workflows[w.Name] {
			return fmt.Errorf("duplicate workflow name %q", w.Name)
		}
		workflows[w.Name] = true

		for _, t := range w.Tasks {
			if t.Agent != "" && !agents[t.Agent] {
				return fmt.Errorf("workflow %q task %q references unknown agent %q", w.Name, t.ID, t.Agent)
			}
		}
		if err := w.Definition().Validate(); err != nil {
			return fmt.Errorf("workflow %q: %w", w.Name, err)
		}
		if w.Schedule != "" {
			if err := trigger.Validate(w.Schedule); err != nil {
				return fmt.Errorf("workflow %q: %w", w.Name, err)
			}
		}
	}
	return nil
}

// Definition converts the YAML shape into an engine definition,
// applying per-task defaults. Task agent references use agent names;
// the caller substitutes runtime agent ids after agents are created.
func (w *WorkflowConfig) Definition() *workflow.Definition {
	def := &workflow.Definition{
		ID:               w.ID,
		Name:             w.Name,
		Description:      w.Description,
		GlobalContext:    w.GlobalContext,
		MaxParallelTasks: w.MaxParallelTasks,
	}
	if def.MaxParallelTasks <= 0 {
		def.MaxParallelTasks = workflow.DefaultMaxParallelTasks
	}
	for _, t := range w.Tasks {
		task := workflow.TaskDefinition{
			ID:          t.ID,
			Name:        t.Name,
			AgentID:     t.Agent,
			Description: t.Description,
			DependsOn:   t.DependsOn,
			RetryCount:  workflow.DefaultRetryCount,
			Timeout:     t.Timeout,
			Context:     t.Context,
		}
		if task.Name == "" {
			task.Name = t.ID
		}
		if t.RetryCount != nil {
			task.RetryCount = *t.RetryCount
		}
		if task.Timeout <= 0 {
			task.Timeout = workflow.DefaultTaskTimeout
		}
		def.Tasks = append(def.Tasks, task)
	}
	return def
}

// Provider returns the configuration for a named provider.
func (c *Config) Provider(name string) ProviderConfig {
	return c.Providers[name]
}

// AgentConfigs returns the agent configurations with provider default
// models filled in.
func (c *Config) AgentConfigs() []agent.Config {
	out := make([]agent.Config, len(c.Agents))
	for i, a := range c.Agents {
		if a.Model == "" && a.Provider != "" {
			a.Model = c.Providers[a.Provider].DefaultModel
		}
		out[i] = a
	}
	return out
}

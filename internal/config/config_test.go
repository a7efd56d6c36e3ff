package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/genflow/internal/workflow"
)

const sampleConfig = `
server:
  metrics_addr: ":9191"
logging:
  level: debug
providers:
  openai:
    api_key: ${TEST_OPENAI_KEY}
    default_model: gpt-4o
agents:
  - name: researcher
    provider: openai
    system_prompt: dig deep
    tool_servers:
      - command: /usr/bin/env
        args: ["true"]
  - name: writer
    provider: openai
    model: gpt-4o-mini
workflows:
  - name: daily-report
    schedule: "0 7 * * *"
    global_context:
      audience: team
    tasks:
      - id: gather
        agent: researcher
        description: collect updates
        retry_count: 0
      - id: write
        agent: writer
        description: draft the report
        depends_on: [gather]
        timeout: 2m
`

func TestParse(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")

	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Server.MetricsAddr != ":9191" {
		t.Errorf("metrics addr = %q", cfg.Server.MetricsAddr)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Provider("openai").APIKey != "sk-test" {
		t.Errorf("api key = %q, want env expansion", cfg.Provider("openai").APIKey)
	}

	agents := cfg.AgentConfigs()
	if len(agents) != 2 {
		t.Fatalf("agents = %d", len(agents))
	}
	if agents[0].Model != "gpt-4o" {
		t.Errorf("researcher model = %q, want provider default", agents[0].Model)
	}
	if agents[1].Model != "gpt-4o-mini" {
		t.Errorf("writer model = %q, want explicit model kept", agents[1].Model)
	}
	if len(agents[0].Servers) != 1 || agents[0].Servers[0].Command != "/usr/bin/env" {
		t.Errorf("researcher tool servers = %+v", agents[0].Servers)
	}
}

func TestWorkflowDefinitionDefaults(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	def := cfg.Workflows[0].Definition()
	if def.MaxParallelTasks != workflow.DefaultMaxParallelTasks {
		t.Errorf("max parallel = %d", def.MaxParallelTasks)
	}

	gather := def.Task("gather")
	if gather.RetryCount != 0 {
		t.Errorf("gather retry count = %d, want explicit 0 kept", gather.RetryCount)
	}
	if gather.Timeout != workflow.DefaultTaskTimeout {
		t.Errorf("gather timeout = %s, want default", gather.Timeout)
	}
	if gather.Name != "gather" {
		t.Errorf("gather name = %q", gather.Name)
	}

	write := def.Task("write")
	if write.RetryCount != workflow.DefaultRetryCount {
		t.Errorf("write retry count = %d, want default", write.RetryCount)
	}
	if write.Timeout != 2*time.Minute {
		t.Errorf("write timeout = %s", write.Timeout)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Workflows) != 1 || cfg.Workflows[0].Name != "daily-report" {
		t.Errorf("workflows = %+v", cfg.Workflows)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() of missing file should error")
	}
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			"duplicate agent",
			`
agents:
  - name: a
  - name: a
`,
			"duplicate agent",
		},
		{
			"unknown agent reference",
			`
agents:
  - name: a
workflows:
  - name: w
    tasks:
      - id: t
        agent: ghost
        description: d
`,
			"unknown agent",
		},
		{
			"dependency cycle",
			`
agents:
  - name: a
workflows:
  - name: w
    tasks:
      - id: t1
        agent: a
        description: d
        depends_on: [t2]
      - id: t2
        agent: a
        description: d
        depends_on: [t1]
`,
			"cycle",
		},
		{
			"bad schedule",
			`
agents:
  - name: a
workflows:
  - name: w
    schedule: whenever
    tasks:
      - id: t
        agent: a
        description: d
`,
			"cron",
		},
		{
			"duplicate workflow",
			`
agents:
  - name: a
workflows:
  - name: w
    tasks:
      - id: t
        agent: a
        description: d
  - name: w
    tasks:
      - id: t
        agent: a
        description: d
`,
			"duplicate workflow",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() should error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

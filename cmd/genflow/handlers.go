package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/genflow/internal/agent"
	"github.com/haasonsaas/genflow/internal/agent/providers"
	"github.com/haasonsaas/genflow/internal/bus"
	"github.com/haasonsaas/genflow/internal/config"
	"github.com/haasonsaas/genflow/internal/mcp"
	"github.com/haasonsaas/genflow/internal/observability"
	"github.com/haasonsaas/genflow/internal/tools"
	"github.com/haasonsaas/genflow/internal/trigger"
	"github.com/haasonsaas/genflow/internal/workflow"
)

// runtime wires the configured system together: bus, connection pool,
// agents, and the workflow engine.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	bus    *bus.Bus
	pool   *mcp.Pool
	engine *workflow.Engine
	agents []*agent.Agent
	byName map[string]string // workflow name -> workflow id
}

// buildRuntime constructs and starts everything the configuration
// describes. Metrics may be nil for one-shot commands.
func buildRuntime(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*runtime, error) {
	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	rt := &runtime{
		cfg:    cfg,
		logger: logger,
		bus:    bus.New(logger, metrics),
		pool:   mcp.NewPool(logger),
		engine: workflow.NewEngine(logger, metrics),
		byName: make(map[string]string),
	}
	rt.bus.Start()

	agentIDs := make(map[string]string, len(cfg.Agents))
	for _, ac := range cfg.AgentConfigs() {
		provider, err := providers.New(ac.Provider, cfg.Provider(ac.Provider).APIKey, logger, metrics)
		if err != nil {
			rt.shutdown()
			return nil, fmt.Errorf("agent %q: %w", ac.Name, err)
		}
		registry := tools.NewRegistry(rt.pool, logger, metrics)
		ag := agent.New(ac, provider, registry, logger)

		rt.bus.Register(ag.ID())
		ag.BindComms(bus.NewComms(ag.ID(), rt.bus))
		ag.Start(ctx)

		rt.engine.RegisterAgent(ag)
		rt.agents = append(rt.agents, ag)
		agentIDs[ac.Name] = ag.ID()
	}

	for _, wc := range cfg.Workflows {
		def := wc.Definition()
		// Configuration binds tasks to agent names; the engine
		// schedules by runtime agent id.
		for i := range def.Tasks {
			if id, ok := agentIDs[def.Tasks[i].AgentID]; ok {
				def.Tasks[i].AgentID = id
			}
		}
		id, err := rt.engine.Create(def)
		if err != nil {
			rt.shutdown()
			return nil, fmt.Errorf("workflow %q: %w", wc.Name, err)
		}
		rt.byName[wc.Name] = id
	}

	return rt, nil
}

func (rt *runtime) shutdown() {
	for _, ag := range rt.agents {
		ag.Stop()
	}
	rt.pool.Shutdown()
	rt.bus.Stop()
}

func runValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: configuration valid (%d agents, %d workflows)\n",
		configPath, len(cfg.Agents), len(cfg.Workflows))
	return nil
}

func runRun(cmd *cobra.Command, configPath, name string, ctxPairs []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	execCtx, err := parseContext(ctxPairs)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	id, ok := rt.byName[name]
	if !ok {
		return fmt.Errorf("workflow %q not found (configured: %s)", name, strings.Join(workflowNames(cfg), ", "))
	}

	exec, err := rt.engine.Execute(cmd.Context(), id, execCtx)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(exec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if exec.Status != workflow.StatusSuccess {
		return fmt.Errorf("workflow %q finished with status %s", name, exec.Status)
	}
	return nil
}

func runAgents(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	for _, ac := range cfg.AgentConfigs() {
		provider := ac.Provider
		if provider == "" {
			provider = "none"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\tprovider=%s\tmodel=%s\ttool_servers=%d\n",
			ac.Name, provider, ac.Model, len(ac.Servers))
	}
	return nil
}

func runWorkflows(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	for _, wc := range cfg.Workflows {
		schedule := wc.Schedule
		if schedule == "" {
			schedule = "-"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\ttasks=%d\tschedule=%s\n",
			wc.Name, len(wc.Tasks), schedule)
	}
	return nil
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics(nil)
	rt, err := buildRuntime(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	sched := trigger.NewScheduler(rt.engine, rt.logger)
	for _, wc := range cfg.Workflows {
		if wc.Schedule == "" {
			continue
		}
		if err := sched.Add(rt.byName[wc.Name], wc.Schedule, nil); err != nil {
			return fmt.Errorf("workflow %q: %w", wc.Name, err)
		}
	}
	sched.Start()
	defer sched.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}

	go func() {
		rt.logger.Info("metrics server listening", "addr", cfg.Server.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rt.logger.Error("metrics server failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	rt.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// parseContext converts repeated key=value flags into an execution
// context.
func parseContext(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid context entry %q, want key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

func workflowNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Workflows))
	for _, wc := range cfg.Workflows {
		names = append(names, wc.Name)
	}
	return names
}

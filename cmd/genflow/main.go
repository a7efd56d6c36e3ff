// Package main provides the CLI entry point for the genflow workflow
// orchestrator.
//
// Genflow runs multi-agent workflows: directed task graphs executed by
// LLM-backed agents (Anthropic, OpenAI) that call tools exposed by
// MCP servers over stdio.
//
// # Basic Usage
//
// Validate a configuration:
//
//	genflow validate --config genflow.yaml
//
// Run a single workflow to completion:
//
//	genflow run daily-report --config genflow.yaml
//
// Start the scheduler daemon with the metrics endpoint:
//
//	genflow serve --config genflow.yaml
//
// # Environment Variables
//
// Configuration values can reference environment variables with
// ${VAR} syntax, typically:
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "genflow",
		Short: "Genflow - Multi-agent workflow orchestrator",
		Long: `Genflow executes workflows of dependent tasks through LLM-backed agents.

Agents talk to Anthropic (Claude) and OpenAI (GPT) models and call tools
exposed by MCP servers over stdio. Workflows are DAGs with bounded
parallelism, per-task retry, and timeouts, optionally run on cron
schedules.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildValidateCmd(),
		buildRunCmd(),
		buildAgentsCmd(),
		buildWorkflowsCmd(),
		buildServeCmd(),
	)

	return rootCmd
}

package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "genflow.yaml"

// buildValidateCmd creates the "validate" command that checks a
// configuration file without running anything.
func buildValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validate the configuration file: YAML syntax, agent references,
workflow dependency graphs, and cron schedules.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	return cmd
}

// buildRunCmd creates the "run" command that executes one workflow to
// completion and prints the execution as JSON.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		ctxPairs   []string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run a configured workflow to completion",
		Example: `  # Run with extra execution context
  genflow run daily-report --context audience=board --context format=short`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, configPath, args[0], ctxPairs)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().StringArrayVar(&ctxPairs, "context", nil,
		"Execution context entries as key=value (repeatable)")
	return cmd
}

// buildAgentsCmd creates the "agents" command that lists configured
// agents.
func buildAgentsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgents(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	return cmd
}

// buildWorkflowsCmd creates the "workflows" command that lists
// configured workflows.
func buildWorkflowsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "List configured workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflows(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	return cmd
}

// buildServeCmd creates the "serve" command that runs the scheduler
// daemon.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the workflow scheduler daemon",
		Long: `Start the scheduler daemon with all configured agents.

The daemon will:
1. Load configuration from the specified file (or genflow.yaml)
2. Start agents and discover tools from their MCP servers
3. Register cron schedules for workflows that declare one
4. Serve Prometheus metrics and health checks over HTTP

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	return cmd
}

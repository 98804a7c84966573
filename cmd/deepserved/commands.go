package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the HTTP server.
func buildServeCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestration server",
		Long: `Start the orchestration server.

The server loads configuration from the environment, opens (and migrates)
the SQLite database, and listens for API requests. Graceful shutdown is
handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to an optional .env file")
	return cmd
}

// buildMigrateCmd creates the "migrate" command.
func buildMigrateCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to an optional .env file")
	return cmd
}

// buildSeedCmd creates the "seed" command, which provisions an initial admin
// user and default model configuration and prints a usable token.
func buildSeedCmd() *cobra.Command {
	var (
		envFile   string
		adminName string
		modelName string
		provider  string
		modelID   string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create an admin user and a default model configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, envFile, adminName, modelName, provider, modelID)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to an optional .env file")
	cmd.Flags().StringVar(&adminName, "admin", "admin", "Username for the admin account")
	cmd.Flags().StringVar(&modelName, "model-name", "default", "Name of the model configuration")
	cmd.Flags().StringVar(&provider, "provider", "anthropic", "Provider: anthropic, openai or openai-compatible")
	cmd.Flags().StringVar(&modelID, "model-id", "claude-sonnet-4-20250514", "Model identifier sent to the provider")
	return cmd
}

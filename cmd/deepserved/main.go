// Package main is the entry point for the deepserve orchestration server.
//
// deepserved runs the multi-tenant agent backend: authenticated users chat
// with an LLM agent that works inside a per-conversation sandbox container,
// with permission-filtered MCP tools and skills.
//
// Basic usage:
//
//	deepserved migrate
//	deepserved seed --admin root
//	deepserved serve
//
// Configuration comes from the environment (optionally a .env file); see
// internal/config for the full key list.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := buildRootCmd()

	ctx, stop := signal.NotifyContext(rootCmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "deepserved",
		Short:        "Multi-tenant LLM agent orchestration server",
		Version:      fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage: true,
	}
	cmd.AddCommand(buildServeCmd(), buildMigrateCmd(), buildSeedCmd())
	return cmd
}

// Package main provides the CLI entry point for Tether, an orchestration
// engine for an autonomous terminal assistant.
//
// Tether binds a model to a terminal: the model reads terminal state, runs
// commands and edits files through tools, and Tether keeps the transcript,
// the token budget, and the safety rails.
//
// # Basic Usage
//
// Run one turn against the local terminal:
//
//	tether run "why is the build failing?"
//
// Continue an existing session:
//
//	tether run --session build-debug "try it with -race"
//
// Inspect stored sessions:
//
//	tether sessions list
//	tether sessions show build-debug
//	tether sessions rollback build-debug <message-id>
//
// Validate a configuration file:
//
//	tether config check --config tether.yaml
//
// # Environment Variables
//
//   - TETHER_CONFIG: path to the configuration file (default: tether.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key
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
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tether",
		Short: "Tether - terminal assistant orchestration engine",
		Long: `Tether runs an autonomous assistant against a terminal: model turns,
tool execution with policy gating, token-budget pruning, and durable
session transcripts.

Supported providers: Anthropic (Claude), OpenAI-compatible endpoints`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildSessionsCmd(),
		buildSkillsCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}

// resolveConfigPath applies the TETHER_CONFIG fallback to a --config flag.
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("TETHER_CONFIG"); env != "" {
		return env
	}
	return "tether.yaml"
}

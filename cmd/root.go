package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags.
	flagConfig   string
	flagSuite    string
	flagDatabase string
	flagLogMode  string
	flagLogLevel string
	flagMock     bool
)

var rootCmd = &cobra.Command{
	Use:   "prompt-tracker",
	Short: "Version, test and evaluate LLM prompts",
	Long: `prompt-tracker runs tests against versioned LLM prompts.

A suite file declares prompts (with versions and model configs), datasets of
template variables and tests that tie a prompt version to a dataset and a set
of evaluators. Each run renders the prompt, calls the provider (OpenAI Chat
Completions, Responses or Assistants, or Anthropic), scores the response and
stores the result in a local SQLite database.

Configuration is loaded from .prompt-tracker.yaml, environment variables and
a .env file. Flags override both.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries a process exit code without an error message of its own.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", envOrDefault("PROMPT_TRACKER_CONFIG", ""), "config file (default: .prompt-tracker.yaml or ~/.config/prompt-tracker/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagSuite, "suite", "", "suite file with prompts, datasets and tests (default: prompt-tracker.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDatabase, "db", "", "SQLite database holding test runs (default: .prompt-tracker/runs.db)")
	rootCmd.PersistentFlags().StringVar(&flagLogMode, "log-mode", "", "log format: dev, prod")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&flagMock, "mock", false, "use the mock LLM client instead of vendor APIs")
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/timvw/prompt-tracker/internal/mcpserver"
)

var flagServeHTTP string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the test pipeline as MCP tools",
	Long: `Start a Model Context Protocol server exposing the suite and stored runs
as tools: list_evaluators, list_tests, render_prompt, run_test,
list_test_runs, get_test_run and test_stats.

The server speaks stdio by default; --http serves streamable HTTP on the
given address instead. Logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx, appOptions{runner: true})
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		for _, e := range a.suite.Validate(a.registry) {
			a.log.Warn("suite problem", "suite", a.cfg.Suite, "error", e)
		}

		srv := mcpserver.New(&mcpserver.Tools{
			Suite:    a.suite,
			Registry: a.registry,
			Runner:   a.runner,
			Runs:     a.store,
			Parallel: a.cfg.Parallel,
		}, Version)
		return mcpserver.Serve(ctx, srv, flagServeHTTP, a.log)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagServeHTTP, "http", "", "serve streamable HTTP on this address (e.g. :8081) instead of stdio")
	rootCmd.AddCommand(serveCmd)
}

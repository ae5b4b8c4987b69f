// Package mcpserver exposes the test-run pipeline as MCP tools.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/timvw/prompt-tracker/internal/evaluators"
	"github.com/timvw/prompt-tracker/internal/logger"
	"github.com/timvw/prompt-tracker/internal/model"
	"github.com/timvw/prompt-tracker/internal/runner"
	"github.com/timvw/prompt-tracker/internal/store"
	"github.com/timvw/prompt-tracker/internal/suite"
)

// Runs reads persisted test runs.
type Runs interface {
	GetTestRun(ctx context.Context, id string) (*model.TestRun, error)
	ListTestRuns(ctx context.Context, f store.Filter) ([]model.TestRun, error)
	Stats(ctx context.Context, testName string) (store.Stats, error)
}

// Tools holds the collaborators of the tool handlers.
type Tools struct {
	Suite    *suite.Suite
	Registry *evaluators.Registry
	Runner   *runner.Runner
	Runs     Runs
	// Parallel is the default batch parallelism of run_test.
	Parallel int
}

// New creates an MCP server with all tools registered.
func New(t *Tools, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "prompt-tracker",
		Version: version,
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_evaluators",
		Description: "List registered evaluators, optionally only those supporting a mode (single_turn, conversational)",
	}, t.ListEvaluators)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_tests",
		Description: "List the tests of the loaded suite with their prompt, version and dataset",
	}, t.ListTests)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "render_prompt",
		Description: "Render the system and user prompt of a prompt version with the given variables",
	}, t.RenderPrompt)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "run_test",
		Description: "Run a test over its dataset rows, or once with custom variables, and return the results",
	}, t.RunTest)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_test_runs",
		Description: "List recent test runs, newest first, filtered by test name and status",
	}, t.ListTestRuns)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_test_run",
		Description: "Get a test run with its conversation and evaluations",
	}, t.GetTestRun)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "test_stats",
		Description: "Pass rate and average score of a test, or of all tests",
	}, t.TestStats)

	return srv
}

// Serve runs srv on stdio, or on streamable HTTP when addr is set, until ctx
// is done.
func Serve(ctx context.Context, srv *mcp.Server, addr string, log *logger.Logger) error {
	if addr == "" {
		log.Info("mcp server starting", "transport", "stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return srv
	}, nil)
	httpSrv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		log.Info("mcp server listening", "transport", "http", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		if err := httpSrv.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

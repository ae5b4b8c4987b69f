package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/timvw/prompt-tracker/internal/evaluators"
	"github.com/timvw/prompt-tracker/internal/model"
	"github.com/timvw/prompt-tracker/internal/render"
	"github.com/timvw/prompt-tracker/internal/runner"
	"github.com/timvw/prompt-tracker/internal/store"
)

// --- Input types ---

type ListEvaluatorsInput struct {
	Mode string `json:"mode,omitempty" jsonschema:"Only list evaluators supporting this mode: single_turn or conversational"`
}

type RenderPromptInput struct {
	Prompt    string         `json:"prompt" jsonschema:"Prompt slug or name"`
	Version   int            `json:"version,omitempty" jsonschema:"Version number; the active version when omitted"`
	Variables map[string]any `json:"variables,omitempty" jsonschema:"Template variables"`
}

type RunTestInput struct {
	Test      string         `json:"test" jsonschema:"Name of the test to run"`
	RowIDs    []string       `json:"row_ids,omitempty" jsonschema:"Only run these dataset rows"`
	Variables map[string]any `json:"variables,omitempty" jsonschema:"Run once with these custom variables instead of the dataset"`
	Parallel  int            `json:"parallel,omitempty" jsonschema:"Maximum concurrent runs"`
}

type ListTestRunsInput struct {
	Test   string `json:"test,omitempty" jsonschema:"Filter by test name"`
	Status string `json:"status,omitempty" jsonschema:"Filter by status: pending, running, passed, failed or error"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum number of runs (default 50)"`
}

type GetTestRunInput struct {
	ID string `json:"id" jsonschema:"Test run id"`
}

type TestStatsInput struct {
	Test string `json:"test,omitempty" jsonschema:"Test name; all tests when omitted"`
}

// --- Output types ---

type testSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Prompt      string   `json:"prompt"`
	Version     int      `json:"version"`
	Dataset     string   `json:"dataset,omitempty"`
	Rows        int      `json:"rows"`
	Mode        string   `json:"mode"`
	Enabled     bool     `json:"enabled"`
	Evaluators  []string `json:"evaluators"`
	Error       string   `json:"error,omitempty"`
}

type runResult struct {
	Success bool           `json:"success"`
	Summary runner.Summary `json:"summary"`
	Runs    []*runSummary  `json:"runs"`
	Errors  []string       `json:"errors,omitempty"`
}

type runSummary struct {
	ID           string   `json:"id"`
	RowID        string   `json:"dataset_row_id,omitempty"`
	Status       string   `json:"status"`
	Passed       *bool    `json:"passed,omitempty"`
	Score        *float64 `json:"score,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Response     string   `json:"response,omitempty"`
}

// --- Handlers ---

func (t *Tools) ListEvaluators(_ context.Context, _ *mcp.CallToolRequest, input ListEvaluatorsInput) (*mcp.CallToolResult, any, error) {
	if input.Mode != "" && input.Mode != evaluators.ModeSingleTurn && input.Mode != evaluators.ModeConversational {
		return toolErrors(fmt.Sprintf("unknown mode %q", input.Mode)), nil, nil
	}
	defs := []evaluators.Definition{}
	for _, d := range t.Registry.List() {
		if input.Mode == "" || d.Supports(input.Mode) {
			defs = append(defs, d)
		}
	}
	return toolJSON(defs)
}

func (t *Tools) ListTests(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	out := []testSummary{}
	for i := range t.Suite.Tests {
		test := &t.Suite.Tests[i]
		ts := testSummary{
			Name:        test.Name,
			Description: test.Description,
			Prompt:      test.Prompt,
			Version:     test.Version,
			Dataset:     test.Dataset,
			Enabled:     test.IsEnabled(),
			Evaluators:  []string{},
		}
		for _, ec := range test.Evaluators {
			if ec.IsEnabled() {
				ts.Evaluators = append(ts.Evaluators, ec.Key)
			}
		}
		res, err := t.Suite.Resolve(test.Name)
		if err != nil {
			ts.Error = err.Error()
		} else {
			ts.Version = res.Version.Number
			ts.Mode = res.Mode()
			if res.Dataset != nil {
				ts.Rows = len(res.Dataset.Rows)
			}
		}
		out = append(out, ts)
	}
	return toolJSON(out)
}

func (t *Tools) RenderPrompt(_ context.Context, _ *mcp.CallToolRequest, input RenderPromptInput) (*mcp.CallToolResult, any, error) {
	if input.Prompt == "" {
		return toolErrors("prompt is required"), nil, nil
	}
	p := t.Suite.Prompt(input.Prompt)
	if p == nil {
		return toolErrors(fmt.Sprintf("unknown prompt %q", input.Prompt)), nil, nil
	}
	v := p.ActiveVersion()
	if input.Version != 0 {
		v = p.Version(input.Version)
	}
	if v == nil {
		return toolErrors(fmt.Sprintf("prompt %q has no version %d", p.Slug, input.Version)), nil, nil
	}

	vars := render.ApplyDefaults(v.VariablesSchema, input.Variables)
	if errs := render.ValidateVariables(v.VariablesSchema, vars); len(errs) > 0 {
		return toolErrors(errs...), nil, nil
	}
	rendered, err := render.Preview(v, vars, render.Options{})
	if err != nil {
		return toolErrors(err.Error()), nil, nil
	}
	return toolJSON(map[string]any{
		"success":        true,
		"prompt":         p.Slug,
		"version":        v.Number,
		"system_prompt":  rendered.SystemPrompt,
		"user_prompt":    rendered.UserPrompt,
		"variables_used": rendered.Variables,
	})
}

func (t *Tools) RunTest(ctx context.Context, _ *mcp.CallToolRequest, input RunTestInput) (*mcp.CallToolResult, any, error) {
	if input.Test == "" {
		return toolErrors("test is required"), nil, nil
	}
	res, err := t.Suite.Resolve(input.Test)
	if err != nil {
		return toolErrors(err.Error()), nil, nil
	}
	parallel := input.Parallel
	if parallel <= 0 {
		parallel = t.Parallel
	}

	results, err := t.Runner.RunTest(ctx, res, runner.Options{
		Parallel:  parallel,
		RowIDs:    input.RowIDs,
		Variables: input.Variables,
	})
	if err != nil {
		return toolErrors(err.Error()), nil, nil
	}

	out := runResult{Summary: runner.Summarize(results), Runs: []*runSummary{}}
	out.Success = out.Summary.OK()
	for _, r := range results {
		if r.Err != nil {
			out.Errors = append(out.Errors, r.Err.Error())
		}
		if r.Run != nil {
			out.Runs = append(out.Runs, summarizeRun(r.Run))
		}
	}
	return toolJSON(out)
}

func summarizeRun(run *model.TestRun) *runSummary {
	return &runSummary{
		ID:           run.ID,
		RowID:        run.DatasetRowID,
		Status:       run.Status,
		Passed:       run.Passed,
		Score:        run.Score,
		ErrorMessage: run.ErrorMessage,
		Response:     run.LastAssistantMessage(),
	}
}

func (t *Tools) ListTestRuns(ctx context.Context, _ *mcp.CallToolRequest, input ListTestRunsInput) (*mcp.CallToolResult, any, error) {
	runs, err := t.Runs.ListTestRuns(ctx, store.Filter{
		TestName: input.Test,
		Status:   input.Status,
		Limit:    input.Limit,
	})
	if err != nil {
		return toolErrors(fmt.Sprintf("list test runs: %v", err)), nil, nil
	}
	out := make([]*runSummary, 0, len(runs))
	for i := range runs {
		out = append(out, summarizeRun(&runs[i]))
	}
	return toolJSON(out)
}

func (t *Tools) GetTestRun(ctx context.Context, _ *mcp.CallToolRequest, input GetTestRunInput) (*mcp.CallToolResult, any, error) {
	if input.ID == "" {
		return toolErrors("id is required"), nil, nil
	}
	run, err := t.Runs.GetTestRun(ctx, input.ID)
	if errors.Is(err, store.ErrNotFound) {
		return toolErrors(fmt.Sprintf("test run %q not found", input.ID)), nil, nil
	}
	if err != nil {
		return toolErrors(fmt.Sprintf("get test run: %v", err)), nil, nil
	}
	return toolJSON(run)
}

func (t *Tools) TestStats(ctx context.Context, _ *mcp.CallToolRequest, input TestStatsInput) (*mcp.CallToolResult, any, error) {
	stats, err := t.Runs.Stats(ctx, input.Test)
	if err != nil {
		return toolErrors(fmt.Sprintf("test stats: %v", err)), nil, nil
	}
	return toolJSON(stats)
}

// --- Helpers ---

// toolErrors reports failures as {"success": false, "errors": [...]}.
func toolErrors(errs ...string) *mcp.CallToolResult {
	data, _ := json.MarshalIndent(map[string]any{"success": false, "errors": errs}, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolErrors(fmt.Sprintf("marshal result: %v", err)), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

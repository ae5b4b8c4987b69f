package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/timvw/prompt-tracker/internal/evaluators"
	"github.com/timvw/prompt-tracker/internal/llm"
	"github.com/timvw/prompt-tracker/internal/model"
	"github.com/timvw/prompt-tracker/internal/runner"
	"github.com/timvw/prompt-tracker/internal/store"
	"github.com/timvw/prompt-tracker/internal/suite"
)

const testSuite = `
prompts:
  - name: Password Help
    versions:
      - number: 1
        status: active
        system_prompt: "You are a {{ tone | default: \"patient\" }} support agent."
        user_prompt: "{{ question }}"
        model_config: {provider: mock, model: mock-support}
        variables_schema:
          - name: question
            type: string
            required: true
datasets:
  - name: faq
    rows:
      - row_data: {question: "How do I reset my password?"}
      - row_data: {question: "I forgot my password"}
tests:
  - name: password-faq
    prompt: password-help
    dataset: faq
    evaluators:
      - key: keyword
        config: {required_keywords: [password]}
`

// setup creates a server on an in-memory transport and returns a connected
// client session.
func setup(t *testing.T) *mcp.ClientSession {
	t.Helper()

	dir, err := os.MkdirTemp("", "prompt-tracker-mcp-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := suite.Parse([]byte(testSuite))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	st, err := store.Open(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	registry := evaluators.DefaultRegistry(evaluators.Deps{})
	tools := &Tools{
		Suite:    s,
		Registry: registry,
		Runner: &runner.Runner{
			Registry: registry,
			Clients: func(mc model.ModelConfig) (llm.Client, error) {
				return llm.NewMockClient(mc.Model, []string{"Use the reset link to change your password."}), nil
			},
			Store: st,
		},
		Runs:     st,
		Parallel: 1,
	}
	srv := New(tools, "test")

	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	if _, err := srv.Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func call(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text, result.IsError
}

// callJSON calls a tool that must succeed and decodes its result into v.
func callJSON(t *testing.T, session *mcp.ClientSession, name string, args map[string]any, v any) {
	t.Helper()
	text, isErr := call(t, session, name, args)
	if isErr {
		t.Fatalf("CallTool(%s) returned error: %s", name, text)
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		t.Fatalf("CallTool(%s): decode %q: %v", name, text, err)
	}
}

// callError calls a tool that must fail and returns its error list.
func callError(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) []string {
	t.Helper()
	text, isErr := call(t, session, name, args)
	if !isErr {
		t.Fatalf("CallTool(%s): expected error but got success: %s", name, text)
	}
	var out struct {
		Success bool     `json:"success"`
		Errors  []string `json:"errors"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("CallTool(%s): decode error %q: %v", name, text, err)
	}
	if out.Success {
		t.Errorf("CallTool(%s): error result has success=true", name)
	}
	return out.Errors
}

func TestListTools(t *testing.T) {
	session := setup(t)

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{
		"list_evaluators", "list_tests", "render_prompt", "run_test",
		"list_test_runs", "get_test_run", "test_stats",
	}
	names := make(map[string]bool)
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("missing tool: %s", name)
		}
	}
	if len(result.Tools) != len(expected) {
		t.Errorf("expected %d tools, got %d", len(expected), len(result.Tools))
	}
}

func TestListEvaluators(t *testing.T) {
	session := setup(t)

	var all []evaluators.Definition
	callJSON(t, session, "list_evaluators", map[string]any{}, &all)
	if len(all) != len(evaluators.Builtins()) {
		t.Errorf("got %d evaluators, want %d", len(all), len(evaluators.Builtins()))
	}

	var conv []evaluators.Definition
	callJSON(t, session, "list_evaluators", map[string]any{"mode": "conversational"}, &conv)
	found := false
	for _, d := range conv {
		if !d.Supports(evaluators.ModeConversational) {
			t.Errorf("%s does not support conversational mode", d.Key)
		}
		if d.Key == "conversation_judge" {
			found = true
		}
	}
	if !found {
		t.Error("conversation_judge missing from conversational evaluators")
	}

	errs := callError(t, session, "list_evaluators", map[string]any{"mode": "batch"})
	if len(errs) != 1 || !strings.Contains(errs[0], "unknown mode") {
		t.Errorf("errors = %v", errs)
	}
}

func TestListTests(t *testing.T) {
	session := setup(t)

	var tests []testSummary
	callJSON(t, session, "list_tests", map[string]any{}, &tests)
	if len(tests) != 1 {
		t.Fatalf("got %d tests, want 1", len(tests))
	}
	got := tests[0]
	if got.Name != "password-faq" || got.Version != 1 || got.Rows != 2 || got.Mode != model.DatasetSingleTurn {
		t.Errorf("test summary = %+v", got)
	}
	if !got.Enabled || len(got.Evaluators) != 1 || got.Evaluators[0] != "keyword" {
		t.Errorf("test summary = %+v", got)
	}
}

func TestRenderPrompt(t *testing.T) {
	session := setup(t)

	var out struct {
		Success      bool   `json:"success"`
		SystemPrompt string `json:"system_prompt"`
		UserPrompt   string `json:"user_prompt"`
	}
	callJSON(t, session, "render_prompt", map[string]any{
		"prompt":    "Password Help",
		"variables": map[string]any{"question": "Locked out?"},
	}, &out)
	if !out.Success {
		t.Error("success = false")
	}
	if out.SystemPrompt != "You are a patient support agent." {
		t.Errorf("system prompt = %q", out.SystemPrompt)
	}
	if out.UserPrompt != "Locked out?" {
		t.Errorf("user prompt = %q", out.UserPrompt)
	}

	errs := callError(t, session, "render_prompt", map[string]any{"prompt": "password-help"})
	if len(errs) != 1 || errs[0] != "question is required" {
		t.Errorf("errors = %v", errs)
	}

	errs = callError(t, session, "render_prompt", map[string]any{"prompt": "password-help", "version": 7})
	if len(errs) != 1 || !strings.Contains(errs[0], "no version 7") {
		t.Errorf("errors = %v", errs)
	}
}

func TestRunTestWorkflow(t *testing.T) {
	session := setup(t)

	var run runResult
	callJSON(t, session, "run_test", map[string]any{"test": "password-faq"}, &run)
	if !run.Success {
		t.Errorf("run not successful: %+v", run)
	}
	if run.Summary.Total != 2 || run.Summary.Passed != 2 {
		t.Errorf("summary = %+v", run.Summary)
	}
	if len(run.Runs) != 2 || run.Runs[0].RowID != "row-1" || run.Runs[1].RowID != "row-2" {
		t.Fatalf("runs = %+v", run.Runs)
	}

	var listed []runSummary
	callJSON(t, session, "list_test_runs", map[string]any{"test": "password-faq", "status": "passed"}, &listed)
	if len(listed) != 2 {
		t.Errorf("listed %d runs, want 2", len(listed))
	}

	var got model.TestRun
	callJSON(t, session, "get_test_run", map[string]any{"id": run.Runs[0].ID}, &got)
	if got.Status != model.StatusPassed || len(got.Evaluations) != 1 {
		t.Errorf("run = %+v", got)
	}
	if got.RenderedUserPrompt != "How do I reset my password?" {
		t.Errorf("rendered user prompt = %q", got.RenderedUserPrompt)
	}

	var stats store.Stats
	callJSON(t, session, "test_stats", map[string]any{"test": "password-faq"}, &stats)
	if stats.Total != 2 || stats.Passed != 2 || stats.PassRate != 100 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRunTestWithVariables(t *testing.T) {
	session := setup(t)

	var run runResult
	callJSON(t, session, "run_test", map[string]any{
		"test":      "password-faq",
		"variables": map[string]any{"question": "Can I change my password?"},
	}, &run)
	if len(run.Runs) != 1 {
		t.Fatalf("runs = %+v", run.Runs)
	}
	if run.Runs[0].RowID != "" || run.Runs[0].Status != model.StatusPassed {
		t.Errorf("run = %+v", run.Runs[0])
	}
}

func TestToolErrors(t *testing.T) {
	session := setup(t)

	tests := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"run_test", map[string]any{"test": "nope"}, `unknown test "nope"`},
		{"run_test", map[string]any{"test": "password-faq", "row_ids": []any{"row-9"}}, `has no row "row-9"`},
		{"get_test_run", map[string]any{"id": "missing"}, "not found"},
		{"render_prompt", map[string]any{"prompt": "nope"}, `unknown prompt "nope"`},
	}
	for _, tt := range tests {
		t.Run(tt.tool+" "+tt.want, func(t *testing.T) {
			errs := callError(t, session, tt.tool, tt.args)
			if len(errs) == 0 || !strings.Contains(errs[0], tt.want) {
				t.Errorf("errors = %v, want one containing %q", errs, tt.want)
			}
		})
	}
}

package evaluators

import (
	"context"
	"fmt"
	"strings"
)

type functionCallEvaluator struct {
	expected   []string
	requireAll bool
}

func newFunctionCallEvaluator(cfg Config, _ Deps) (Evaluator, error) {
	expected, err := cfg.Strings("expected_functions")
	if err != nil {
		return nil, err
	}
	requireAll, err := cfg.Bool("require_all", true)
	if err != nil {
		return nil, err
	}
	return &functionCallEvaluator{expected: expected, requireAll: requireAll}, nil
}

func (e *functionCallEvaluator) Key() string { return "function_call" }

// calledFunctions collects tool call names from the response and every
// message of the conversation, in call order without duplicates.
func calledFunctions(in Input) []string {
	seen := map[string]bool{}
	var names []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, m := range in.Messages {
		for _, tc := range m.ToolCalls {
			add(tc.Name)
		}
	}
	for _, tc := range in.ToolCalls {
		add(tc.Name)
	}
	return names
}

func (e *functionCallEvaluator) Evaluate(_ context.Context, in Input) (Result, error) {
	called := calledFunctions(in)
	meta := map[string]any{"called_functions": called, "expected_functions": e.expected}

	if len(e.expected) == 0 {
		if len(called) == 0 {
			return Result{Score: 0, Passed: false, Feedback: "No function was called", Metadata: meta}, nil
		}
		return Result{Score: 100, Passed: true, Feedback: "Called: " + strings.Join(called, ", "), Metadata: meta}, nil
	}

	calledSet := map[string]bool{}
	for _, c := range called {
		calledSet[c] = true
	}
	missing := []string{}
	for _, name := range e.expected {
		if !calledSet[name] {
			missing = append(missing, name)
		}
	}
	meta["missing_functions"] = missing

	hits := len(e.expected) - len(missing)
	passed := hits > 0
	if e.requireAll {
		passed = len(missing) == 0
	}
	feedback := fmt.Sprintf("Called %d of %d expected functions", hits, len(e.expected))
	if len(missing) > 0 {
		feedback += "; missing: " + strings.Join(missing, ", ")
	}
	return Result{Score: ratioScore(hits, len(e.expected)), Passed: passed, Feedback: feedback, Metadata: meta}, nil
}

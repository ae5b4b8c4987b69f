package evaluators

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

type exactMatchEvaluator struct {
	expected      string
	caseSensitive bool
	trim          bool
}

func newExactMatchEvaluator(cfg Config, _ Deps) (Evaluator, error) {
	expected := cfg.String("expected_text", "")
	if expected == "" {
		return nil, fmt.Errorf("expected_text is required")
	}
	caseSensitive, err := cfg.Bool("case_sensitive", false)
	if err != nil {
		return nil, err
	}
	trim, err := cfg.Bool("trim_whitespace", true)
	if err != nil {
		return nil, err
	}
	return &exactMatchEvaluator{expected: expected, caseSensitive: caseSensitive, trim: trim}, nil
}

func (e *exactMatchEvaluator) Key() string { return "exact_match" }

func (e *exactMatchEvaluator) normalize(s string) string {
	if e.trim {
		s = strings.TrimSpace(s)
	}
	if !e.caseSensitive {
		s = strings.ToLower(s)
	}
	return s
}

func (e *exactMatchEvaluator) Evaluate(_ context.Context, in Input) (Result, error) {
	if e.normalize(in.Response) == e.normalize(e.expected) {
		return Result{Score: 100, Passed: true, Feedback: "Response matches the expected text"}, nil
	}
	return Result{
		Score:    0,
		Passed:   false,
		Feedback: "Response does not match the expected text",
		Metadata: map[string]any{"expected_text": e.expected},
	}, nil
}

type patternMatchEvaluator struct {
	patterns []*regexp.Regexp
	matchAll bool
}

func newPatternMatchEvaluator(cfg Config, _ Deps) (Evaluator, error) {
	raw, err := cfg.Strings("patterns")
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("patterns must list at least one regular expression")
	}
	matchAll, err := cfg.Bool("match_all", true)
	if err != nil {
		return nil, err
	}
	e := &patternMatchEvaluator{matchAll: matchAll}
	for _, p := range raw {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		e.patterns = append(e.patterns, re)
	}
	return e, nil
}

func (e *patternMatchEvaluator) Key() string { return "pattern_match" }

func (e *patternMatchEvaluator) Evaluate(_ context.Context, in Input) (Result, error) {
	matched := []string{}
	unmatched := []string{}
	for _, re := range e.patterns {
		if re.MatchString(in.Response) {
			matched = append(matched, re.String())
		} else {
			unmatched = append(unmatched, re.String())
		}
	}

	passed := len(matched) > 0
	if e.matchAll {
		passed = len(unmatched) == 0
	}
	feedback := fmt.Sprintf("Matched %d of %d patterns", len(matched), len(e.patterns))
	if len(unmatched) > 0 {
		feedback += "; unmatched: " + strings.Join(unmatched, ", ")
	}
	return Result{
		Score:    ratioScore(len(matched), len(e.patterns)),
		Passed:   passed,
		Feedback: feedback,
		Metadata: map[string]any{"matched": matched, "unmatched": unmatched},
	}, nil
}

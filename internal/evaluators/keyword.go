package evaluators

import (
	"context"
	"fmt"
	"strings"
)

type keywordEvaluator struct {
	required      []string
	forbidden     []string
	caseSensitive bool
}

func newKeywordEvaluator(cfg Config, _ Deps) (Evaluator, error) {
	required, err := cfg.Strings("required_keywords")
	if err != nil {
		return nil, err
	}
	forbidden, err := cfg.Strings("forbidden_keywords")
	if err != nil {
		return nil, err
	}
	caseSensitive, err := cfg.Bool("case_sensitive", false)
	if err != nil {
		return nil, err
	}
	return &keywordEvaluator{required: required, forbidden: forbidden, caseSensitive: caseSensitive}, nil
}

func (e *keywordEvaluator) Key() string { return "keyword" }

func (e *keywordEvaluator) Evaluate(_ context.Context, in Input) (Result, error) {
	text := in.Response
	if !e.caseSensitive {
		text = strings.ToLower(text)
	}
	contains := func(kw string) bool {
		if !e.caseSensitive {
			kw = strings.ToLower(kw)
		}
		return strings.Contains(text, kw)
	}

	missing := []string{}
	found := []string{}
	hits := 0
	for _, kw := range e.required {
		if contains(kw) {
			hits++
		} else {
			missing = append(missing, kw)
		}
	}
	for _, kw := range e.forbidden {
		if contains(kw) {
			found = append(found, kw)
		} else {
			hits++
		}
	}

	passed := len(missing) == 0 && len(found) == 0
	feedback := "All keyword checks passed"
	switch {
	case len(missing) > 0 && len(found) > 0:
		feedback = fmt.Sprintf("Missing required keywords: %s; found forbidden keywords: %s", strings.Join(missing, ", "), strings.Join(found, ", "))
	case len(missing) > 0:
		feedback = "Missing required keywords: " + strings.Join(missing, ", ")
	case len(found) > 0:
		feedback = "Found forbidden keywords: " + strings.Join(found, ", ")
	}

	return Result{
		Score:    ratioScore(hits, len(e.required)+len(e.forbidden)),
		Passed:   passed,
		Feedback: feedback,
		Metadata: map[string]any{
			"missing_keywords":   missing,
			"forbidden_found":    found,
			"required_keywords":  e.required,
			"forbidden_keywords": e.forbidden,
		},
	}, nil
}

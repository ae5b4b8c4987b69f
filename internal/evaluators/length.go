package evaluators

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	unitCharacters = "characters"
	unitWords      = "words"
)

type lengthEvaluator struct {
	min, max int
	unit     string
}

func newLengthEvaluator(cfg Config, _ Deps) (Evaluator, error) {
	minLen, err := cfg.Float("min_length", 0)
	if err != nil {
		return nil, err
	}
	maxLen, err := cfg.Float("max_length", 0)
	if err != nil {
		return nil, err
	}
	if minLen < 0 || maxLen < 0 {
		return nil, fmt.Errorf("min_length and max_length must not be negative")
	}
	if maxLen > 0 && minLen > maxLen {
		return nil, fmt.Errorf("min_length %v exceeds max_length %v", minLen, maxLen)
	}
	unit := cfg.String("unit", unitCharacters)
	if unit != unitCharacters && unit != unitWords {
		return nil, fmt.Errorf("unit must be %s or %s, got %q", unitCharacters, unitWords, unit)
	}
	return &lengthEvaluator{min: int(minLen), max: int(maxLen), unit: unit}, nil
}

func (e *lengthEvaluator) Key() string { return "length" }

func (e *lengthEvaluator) Evaluate(_ context.Context, in Input) (Result, error) {
	n := utf8.RuneCountInString(strings.TrimSpace(in.Response))
	if e.unit == unitWords {
		n = len(strings.Fields(in.Response))
	}

	res := Result{
		Score:  100,
		Passed: true,
		Metadata: map[string]any{
			"length": n,
			"unit":   e.unit,
			"min":    e.min,
			"max":    e.max,
		},
	}
	switch {
	case n < e.min:
		res.Passed = false
		res.Score = ratioScore(n, e.min)
		res.Feedback = fmt.Sprintf("Response has %d %s, below the minimum of %d", n, e.unit, e.min)
	case e.max > 0 && n > e.max:
		res.Passed = false
		res.Score = ratioScore(e.max, n)
		res.Feedback = fmt.Sprintf("Response has %d %s, above the maximum of %d", n, e.unit, e.max)
	default:
		res.Feedback = fmt.Sprintf("Response length %d %s is within bounds", n, e.unit)
	}
	return res, nil
}

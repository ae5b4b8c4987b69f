// Package evaluators scores test-run output.
//
// Each strategy is registered under a key with its supported modes and a
// default configuration. A test's EvaluatorConfig is merged over the
// defaults and handed to the strategy's factory to produce an Evaluator.
package evaluators

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/timvw/prompt-tracker/internal/llm"
	"github.com/timvw/prompt-tracker/internal/model"
)

// Modes an evaluator can run in; they match dataset types.
const (
	ModeSingleTurn     = model.DatasetSingleTurn
	ModeConversational = model.DatasetConversational
)

// Input is what an evaluator sees of a finished run.
type Input struct {
	// Response is the final assistant message.
	Response string
	// Messages is the full conversation, including the final response.
	Messages  []model.Message
	ToolCalls []model.ToolCall
	Variables map[string]any

	SystemPrompt string
	UserPrompt   string
}

// Result is one evaluator's verdict. Score is on a 0..100 scale.
type Result struct {
	Score    float64
	Passed   bool
	Feedback string
	Metadata map[string]any
}

// Evaluator scores an Input.
type Evaluator interface {
	Key() string
	Evaluate(ctx context.Context, in Input) (Result, error)
}

// Deps are shared collaborators passed to factories.
type Deps struct {
	// Judge is the client used by LLM-backed evaluators.
	Judge llm.Client
}

// Factory builds an evaluator from a merged configuration.
type Factory func(cfg Config, deps Deps) (Evaluator, error)

// Definition describes a registered evaluator.
type Definition struct {
	Key           string         `json:"key"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Modes         []string       `json:"modes"`
	DefaultConfig map[string]any `json:"default_config,omitempty"`
	Factory       Factory        `json:"-"`
}

// Supports reports whether the definition can run in mode.
func (d Definition) Supports(mode string) bool {
	for _, m := range d.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// Registry maps evaluator keys to definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
	deps Deps
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps) *Registry {
	return &Registry{defs: make(map[string]Definition), deps: deps}
}

// Register adds a definition. Keys must be unique.
func (r *Registry) Register(def Definition) error {
	if def.Key == "" {
		return fmt.Errorf("evaluator definition has no key")
	}
	if def.Factory == nil {
		return fmt.Errorf("evaluator %q has no factory", def.Key)
	}
	if len(def.Modes) == 0 {
		return fmt.Errorf("evaluator %q supports no modes", def.Key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Key]; exists {
		return fmt.Errorf("evaluator %q already registered", def.Key)
	}
	r.defs[def.Key] = def
	return nil
}

// Lookup returns the definition for key.
func (r *Registry) Lookup(key string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[key]
	return def, ok
}

// List returns all definitions sorted by key.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Build creates the evaluator configured by cfg for mode.
func (r *Registry) Build(cfg model.EvaluatorConfig, mode string) (Evaluator, error) {
	def, ok := r.Lookup(cfg.Key)
	if !ok {
		return nil, fmt.Errorf("unknown evaluator %q", cfg.Key)
	}
	if !def.Supports(mode) {
		return nil, fmt.Errorf("evaluator %q does not support %s mode", cfg.Key, mode)
	}
	ev, err := def.Factory(mergeConfig(def.DefaultConfig, cfg.Config), r.deps)
	if err != nil {
		return nil, fmt.Errorf("evaluator %q: %w", cfg.Key, err)
	}
	return ev, nil
}

// Aggregate combines evaluations: a run passes iff every evaluation passed;
// the score is the mean. With no evaluations the run passes with no score.
func Aggregate(evals []model.Evaluation) (bool, *float64) {
	if len(evals) == 0 {
		return true, nil
	}
	passed := true
	var sum float64
	for _, e := range evals {
		if !e.Passed {
			passed = false
		}
		sum += e.Score
	}
	mean := sum / float64(len(evals))
	return passed, &mean
}

func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 100:
		return 100
	}
	return s
}

func ratioScore(hit, total int) float64 {
	if total == 0 {
		return 100
	}
	return 100 * float64(hit) / float64(total)
}

func sortedStrings(s []string) []string {
	sort.Strings(s)
	return s
}

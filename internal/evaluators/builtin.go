package evaluators

var bothModes = []string{ModeSingleTurn, ModeConversational}

// Builtins returns the definitions of every built-in evaluator.
func Builtins() []Definition {
	return []Definition{
		{
			Key:         "keyword",
			Name:        "Keyword",
			Description: "Checks that required keywords appear and forbidden keywords do not.",
			Modes:       bothModes,
			DefaultConfig: map[string]any{
				"required_keywords":  []any{},
				"forbidden_keywords": []any{},
				"case_sensitive":     false,
			},
			Factory: newKeywordEvaluator,
		},
		{
			Key:         "length",
			Name:        "Length",
			Description: "Checks that the response length is within bounds.",
			Modes:       bothModes,
			DefaultConfig: map[string]any{
				"min_length": 10,
				"max_length": 2000,
				"unit":       unitCharacters,
			},
			Factory: newLengthEvaluator,
		},
		{
			Key:         "exact_match",
			Name:        "Exact match",
			Description: "Compares the response with an expected text.",
			Modes:       []string{ModeSingleTurn},
			DefaultConfig: map[string]any{
				"case_sensitive":  false,
				"trim_whitespace": true,
			},
			Factory: newExactMatchEvaluator,
		},
		{
			Key:         "pattern_match",
			Name:        "Pattern match",
			Description: "Matches the response against regular expressions.",
			Modes:       bothModes,
			DefaultConfig: map[string]any{
				"match_all": true,
			},
			Factory: newPatternMatchEvaluator,
		},
		{
			Key:         "format",
			Name:        "Format",
			Description: "Validates JSON structure or required Markdown elements.",
			Modes:       bothModes,
			DefaultConfig: map[string]any{
				"format": formatJSON,
			},
			Factory: newFormatEvaluator,
		},
		{
			Key:         "function_call",
			Name:        "Function call",
			Description: "Checks that the model called the expected functions.",
			Modes:       bothModes,
			DefaultConfig: map[string]any{
				"require_all": true,
			},
			Factory: newFunctionCallEvaluator,
		},
		{
			Key:         "llm_judge",
			Name:        "LLM judge",
			Description: "Asks a judge model to score the final response.",
			Modes:       bothModes,
			DefaultConfig: map[string]any{
				"threshold_score": DefaultThreshold,
			},
			Factory: newLLMJudgeEvaluator,
		},
		{
			Key:         "conversation_judge",
			Name:        "Conversation judge",
			Description: "Asks a judge model to score every assistant message and averages the scores.",
			Modes:       []string{ModeConversational},
			DefaultConfig: map[string]any{
				"threshold_score": DefaultThreshold,
			},
			Factory: newConversationJudgeEvaluator,
		},
	}
}

// DefaultRegistry returns a registry holding all built-in evaluators.
func DefaultRegistry(deps Deps) *Registry {
	r := NewRegistry(deps)
	for _, def := range Builtins() {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

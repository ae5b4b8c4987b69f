package evaluators

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/timvw/prompt-tracker/internal/llm"
	"github.com/timvw/prompt-tracker/internal/model"
)

func build(t *testing.T, r *Registry, key string, cfg map[string]any, mode string) Evaluator {
	t.Helper()
	ev, err := r.Build(model.EvaluatorConfig{Key: key, Config: cfg}, mode)
	if err != nil {
		t.Fatalf("Build(%s): %v", key, err)
	}
	return ev
}

func evaluate(t *testing.T, ev Evaluator, in Input) Result {
	t.Helper()
	res, err := ev.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("%s.Evaluate: %v", ev.Key(), err)
	}
	return res
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry(Deps{})

	var keys []string
	for _, d := range r.List() {
		keys = append(keys, d.Key)
	}
	want := "conversation_judge,exact_match,format,function_call,keyword,length,llm_judge,pattern_match"
	if got := strings.Join(keys, ","); got != want {
		t.Errorf("List() keys = %s, want %s", got, want)
	}

	if err := r.Register(Builtins()[0]); err == nil {
		t.Error("expected duplicate registration error")
	}
	if err := r.Register(Definition{Key: "x", Modes: bothModes}); err == nil {
		t.Error("expected error for missing factory")
	}

	tests := []struct {
		name string
		cfg  model.EvaluatorConfig
		mode string
	}{
		{name: "unknown key", cfg: model.EvaluatorConfig{Key: "sentiment"}, mode: ModeSingleTurn},
		{name: "unsupported mode", cfg: model.EvaluatorConfig{Key: "conversation_judge"}, mode: ModeSingleTurn},
		{name: "judge without client", cfg: model.EvaluatorConfig{Key: "llm_judge"}, mode: ModeSingleTurn},
		{name: "invalid config", cfg: model.EvaluatorConfig{Key: "pattern_match", Config: map[string]any{"patterns": []any{"("}}}, mode: ModeSingleTurn},
		{name: "missing expected text", cfg: model.EvaluatorConfig{Key: "exact_match"}, mode: ModeSingleTurn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Build(tt.cfg, tt.mode); err == nil {
				t.Errorf("Build() expected error")
			}
		})
	}
}

func TestConfigMergedOverDefaults(t *testing.T) {
	r := DefaultRegistry(Deps{})
	ev := build(t, r, "length", map[string]any{"max_length": 50}, ModeSingleTurn)
	le := ev.(*lengthEvaluator)
	if le.min != 10 || le.max != 50 || le.unit != unitCharacters {
		t.Errorf("merged config = %+v, want min 10 max 50 characters", le)
	}
}

func TestKeyword(t *testing.T) {
	r := DefaultRegistry(Deps{})
	ev := build(t, r, "keyword", map[string]any{
		"required_keywords":  []any{"refund", "Order"},
		"forbidden_keywords": []any{"sorry"},
	}, ModeSingleTurn)

	tests := []struct {
		name      string
		response  string
		passed    bool
		wantScore float64
	}{
		{name: "all good", response: "Your REFUND for order 42 is on its way.", passed: true, wantScore: 100},
		{name: "missing one", response: "Your refund is on its way.", passed: false, wantScore: 200.0 / 3},
		{name: "forbidden present", response: "Sorry, your refund for the order is late.", passed: false, wantScore: 200.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evaluate(t, ev, Input{Response: tt.response})
			if res.Passed != tt.passed || math.Abs(res.Score-tt.wantScore) > 0.01 {
				t.Errorf("got passed=%v score=%.2f, want %v %.2f (%s)", res.Passed, res.Score, tt.passed, tt.wantScore, res.Feedback)
			}
		})
	}

	cs := build(t, r, "keyword", map[string]any{"required_keywords": []any{"Order"}, "case_sensitive": true}, ModeSingleTurn)
	if res := evaluate(t, cs, Input{Response: "order"}); res.Passed {
		t.Error("case-sensitive match should fail")
	}
}

func TestLength(t *testing.T) {
	r := DefaultRegistry(Deps{})
	tests := []struct {
		name     string
		cfg      map[string]any
		response string
		passed   bool
		score    float64
	}{
		{name: "within", cfg: map[string]any{"min_length": 2, "max_length": 10}, response: "hello", passed: true, score: 100},
		{name: "too short", cfg: map[string]any{"min_length": 10, "max_length": 20}, response: "hello", passed: false, score: 50},
		{name: "too long", cfg: map[string]any{"min_length": 0, "max_length": 4}, response: "12345678", passed: false, score: 50},
		{name: "words", cfg: map[string]any{"min_length": 3, "max_length": 3, "unit": "words"}, response: "one two  three", passed: true, score: 100},
		{name: "unbounded max", cfg: map[string]any{"min_length": 1, "max_length": 0}, response: strings.Repeat("x", 5000), passed: true, score: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evaluate(t, build(t, r, "length", tt.cfg, ModeSingleTurn), Input{Response: tt.response})
			if res.Passed != tt.passed || res.Score != tt.score {
				t.Errorf("got passed=%v score=%v, want %v %v", res.Passed, res.Score, tt.passed, tt.score)
			}
		})
	}

	for _, cfg := range []map[string]any{
		{"min_length": 10, "max_length": 5},
		{"unit": "tokens"},
		{"min_length": "lots"},
	} {
		if _, err := r.Build(model.EvaluatorConfig{Key: "length", Config: cfg}, ModeSingleTurn); err == nil {
			t.Errorf("Build(length, %v) expected error", cfg)
		}
	}
}

func TestExactAndPatternMatch(t *testing.T) {
	r := DefaultRegistry(Deps{})

	exact := build(t, r, "exact_match", map[string]any{"expected_text": "Paris"}, ModeSingleTurn)
	if res := evaluate(t, exact, Input{Response: "  paris \n"}); !res.Passed || res.Score != 100 {
		t.Errorf("exact match = %+v", res)
	}
	if res := evaluate(t, exact, Input{Response: "Lyon"}); res.Passed || res.Score != 0 {
		t.Errorf("mismatch = %+v", res)
	}

	strict := build(t, r, "exact_match", map[string]any{"expected_text": "Paris", "case_sensitive": true, "trim_whitespace": false}, ModeSingleTurn)
	if res := evaluate(t, strict, Input{Response: "Paris "}); res.Passed {
		t.Error("untrimmed response should not match")
	}

	all := build(t, r, "pattern_match", map[string]any{"patterns": []any{`\d{5}`, `(?i)tracking`}}, ModeSingleTurn)
	if res := evaluate(t, all, Input{Response: "Tracking 12345"}); !res.Passed || res.Score != 100 {
		t.Errorf("match all = %+v", res)
	}
	if res := evaluate(t, all, Input{Response: "code 12345"}); res.Passed || res.Score != 50 {
		t.Errorf("partial match all = %+v", res)
	}

	anyMatch := build(t, r, "pattern_match", map[string]any{"patterns": []any{`\d{5}`, `(?i)tracking`}, "match_all": false}, ModeSingleTurn)
	if res := evaluate(t, anyMatch, Input{Response: "code 12345"}); !res.Passed {
		t.Errorf("match any = %+v", res)
	}
}

func TestFormat(t *testing.T) {
	r := DefaultRegistry(Deps{})

	js := build(t, r, "format", map[string]any{"required_keys": []any{"name", "age"}}, ModeSingleTurn)
	tests := []struct {
		name     string
		response string
		passed   bool
		score    float64
	}{
		{name: "valid", response: `{"name": "Ada", "age": 36}`, passed: true, score: 100},
		{name: "fenced", response: "```json\n{\"name\": \"Ada\", \"age\": 36}\n```", passed: true, score: 100},
		{name: "missing key", response: `{"name": "Ada"}`, passed: false, score: 50},
		{name: "not json", response: "name: Ada", passed: false, score: 0},
		{name: "array", response: `[1, 2]`, passed: false, score: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evaluate(t, js, Input{Response: tt.response})
			if res.Passed != tt.passed || res.Score != tt.score {
				t.Errorf("got passed=%v score=%v, want %v %v (%s)", res.Passed, res.Score, tt.passed, tt.score, res.Feedback)
			}
		})
	}

	md := build(t, r, "format", map[string]any{
		"format":            "markdown",
		"required_elements": []any{"heading", "list", "code_block", "link", "table"},
	}, ModeSingleTurn)
	full := "# Title\n\n- one\n- two\n\n```go\nfmt.Println()\n```\n\nSee [docs](https://example.com).\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"
	if res := evaluate(t, md, Input{Response: full}); !res.Passed || res.Score != 100 {
		t.Errorf("full markdown = %+v", res)
	}
	res := evaluate(t, md, Input{Response: "# Title\n\nJust text."})
	if res.Passed || res.Score != 20 {
		t.Errorf("sparse markdown = passed %v score %v", res.Passed, res.Score)
	}
	if missing, _ := res.Metadata["missing_elements"].([]string); len(missing) != 4 {
		t.Errorf("missing_elements = %v", res.Metadata["missing_elements"])
	}

	if _, err := r.Build(model.EvaluatorConfig{Key: "format", Config: map[string]any{"format": "xml"}}, ModeSingleTurn); err == nil {
		t.Error("expected error for unsupported format")
	}
	if _, err := r.Build(model.EvaluatorConfig{Key: "format", Config: map[string]any{"format": "markdown", "required_elements": []any{"image"}}}, ModeSingleTurn); err == nil {
		t.Error("expected error for unknown element")
	}
}

func TestFunctionCall(t *testing.T) {
	r := DefaultRegistry(Deps{})
	in := Input{
		Messages: []model.Message{
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{Name: "lookup_order"}}},
		},
		ToolCalls: []model.ToolCall{{Name: "issue_refund"}, {Name: "lookup_order"}},
	}

	all := build(t, r, "function_call", map[string]any{"expected_functions": []any{"lookup_order", "notify"}}, ModeSingleTurn)
	if res := evaluate(t, all, in); res.Passed || res.Score != 50 {
		t.Errorf("require all = %+v", res)
	}
	anyOf := build(t, r, "function_call", map[string]any{"expected_functions": []any{"lookup_order", "notify"}, "require_all": false}, ModeSingleTurn)
	if res := evaluate(t, anyOf, in); !res.Passed {
		t.Errorf("require any = %+v", res)
	}
	none := build(t, r, "function_call", nil, ModeSingleTurn)
	if res := evaluate(t, none, Input{}); res.Passed {
		t.Error("no calls should fail when no functions are expected")
	}
	if got := calledFunctions(in); strings.Join(got, ",") != "lookup_order,issue_refund" {
		t.Errorf("calledFunctions = %v", got)
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		score    float64
		feedback string
		wantErr  bool
	}{
		{name: "plain", reply: `{"overall_score": 85, "feedback": "Good"}`, score: 85, feedback: "Good"},
		{name: "fenced", reply: "```json\n{\"overall_score\": 40, \"feedback\": \"Weak\"}\n```", score: 40, feedback: "Weak"},
		{name: "surrounding prose", reply: "Here is my verdict: {\"overall_score\": 90, \"feedback\": \"ok\"} Thanks!", score: 90, feedback: "ok"},
		{name: "single quotes and trailing comma", reply: `{'overall_score': 75, 'feedback': 'fine',}`, score: 75, feedback: "fine"},
		{name: "score as string", reply: `{"overall_score": "60", "feedback": "meh"}`, score: 60, feedback: "meh"},
		{name: "score key alias", reply: `{"score": 55}`, score: 55},
		{name: "clamped", reply: `{"overall_score": 140}`, score: 100},
		{name: "no score", reply: `{"feedback": "missing"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVerdict(tt.reply)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseVerdict(%q) expected error, got %+v", tt.reply, v)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVerdict(%q): %v", tt.reply, err)
			}
			if v.Score != tt.score || v.Feedback != tt.feedback {
				t.Errorf("ParseVerdict(%q) = %+v, want %v %q", tt.reply, v, tt.score, tt.feedback)
			}
		})
	}
}

func TestLLMJudge(t *testing.T) {
	judge := llm.NewMockClient("judge-model", []string{
		`{"overall_score": 80, "feedback": "Helpful"}`,
		`{"overall_score": 50, "feedback": "Vague"}`,
	})
	r := DefaultRegistry(Deps{Judge: judge})
	ev := build(t, r, "llm_judge", map[string]any{"custom_instructions": "Be strict."}, ModeSingleTurn)

	in := Input{SystemPrompt: "sys", UserPrompt: "question", Response: "answer"}
	if res := evaluate(t, ev, in); !res.Passed || res.Score != 80 || res.Feedback != "Helpful" {
		t.Errorf("first verdict = %+v", res)
	}
	res := evaluate(t, ev, in)
	if res.Passed || res.Score != 50 {
		t.Errorf("second verdict = %+v", res)
	}
	if res.Metadata["judge_model"] != "judge-model" || res.Metadata["threshold_score"] != float64(DefaultThreshold) {
		t.Errorf("metadata = %v", res.Metadata)
	}

	lenient := build(t, r, "llm_judge", map[string]any{"threshold_score": 40}, ModeSingleTurn)
	if res := evaluate(t, lenient, in); !res.Passed {
		t.Errorf("threshold 40 should pass score 80: %+v", res)
	}
}

// recordingJudge records the prompts it is asked to grade.
type recordingJudge struct {
	replies []string
	prompts []string
}

func (j *recordingJudge) Complete(_ context.Context, req llm.Request) (*model.LLMResponse, error) {
	j.prompts = append(j.prompts, req.Messages[len(req.Messages)-1].Content)
	reply := j.replies[(len(j.prompts)-1)%len(j.replies)]
	return &model.LLMResponse{Text: reply, Usage: model.TokenUsage{InputTokens: 10, OutputTokens: 2}}, nil
}
func (j *recordingJudge) Provider() string { return "fake" }
func (j *recordingJudge) Model() string    { return "judge" }

func TestConversationJudge(t *testing.T) {
	judge := &recordingJudge{replies: []string{
		`{"overall_score": 90, "feedback": "great"}`,
		`{"overall_score": 60, "feedback": "forgot the order number"}`,
	}}
	r := DefaultRegistry(Deps{Judge: judge})
	ev := build(t, r, "conversation_judge", nil, ModeConversational)

	in := Input{
		SystemPrompt: "You are support.",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "Hi", Turn: 1},
			{Role: model.RoleAssistant, Content: "Hello! How can I help?", Turn: 1},
			{Role: model.RoleUser, Content: "Where is my order?", Turn: 2},
			{Role: model.RoleAssistant, Content: "It ships tomorrow.", Turn: 2},
		},
	}
	res := evaluate(t, ev, in)
	if res.Score != 75 || !res.Passed {
		t.Errorf("score=%v passed=%v, want 75 true", res.Score, res.Passed)
	}
	if !strings.Contains(res.Feedback, "forgot the order number") {
		t.Errorf("feedback = %q", res.Feedback)
	}
	scores, _ := res.Metadata["message_scores"].([]MessageScore)
	if len(scores) != 2 || scores[1].Turn != 2 || scores[1].Index != 3 {
		t.Errorf("message_scores = %+v", scores)
	}
	if len(judge.prompts) != 2 || !strings.Contains(judge.prompts[1], "User: Where is my order?") || !strings.Contains(judge.prompts[1], "It ships tomorrow.") {
		t.Errorf("judge prompts = %q", judge.prompts)
	}
	if !strings.Contains(judge.prompts[0], "User: Hi") || strings.Contains(judge.prompts[0], "Where is my order?") {
		t.Errorf("first prompt should only show the opening user message: %q", judge.prompts[0])
	}

	empty := evaluate(t, ev, Input{Messages: []model.Message{{Role: model.RoleUser, Content: "Hi"}}})
	if empty.Passed || empty.Score != 0 {
		t.Errorf("no assistant messages = %+v", empty)
	}
}

func TestAggregate(t *testing.T) {
	passed, score := Aggregate(nil)
	if !passed || score != nil {
		t.Errorf("Aggregate(nil) = %v, %v; want true, nil", passed, score)
	}

	passed, score = Aggregate([]model.Evaluation{{Score: 100, Passed: true}, {Score: 50, Passed: true}})
	if !passed || score == nil || *score != 75 {
		t.Errorf("all passing = %v, %v", passed, score)
	}

	passed, score = Aggregate([]model.Evaluation{{Score: 100, Passed: true}, {Score: 90, Passed: false}})
	if passed || *score != 95 {
		t.Errorf("one failing = %v, %v", passed, *score)
	}
}

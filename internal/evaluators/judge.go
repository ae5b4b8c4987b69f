package evaluators

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"

	"github.com/timvw/prompt-tracker/internal/llm"
	"github.com/timvw/prompt-tracker/internal/model"
	"github.com/timvw/prompt-tracker/internal/render"
)

// DefaultThreshold is the minimum judge score that passes.
const DefaultThreshold = 70

// judgePrompt grades a single response.
// Loaded from prompts/llm_judge.md at compile time.
//
//go:embed prompts/llm_judge.md
var judgePrompt string

// conversationJudgePrompt grades one assistant message in context.
//
//go:embed prompts/conversation_judge.md
var conversationJudgePrompt string

// Verdict is a judge's parsed answer.
type Verdict struct {
	Score    float64
	Feedback string
}

// ParseVerdict extracts {overall_score, feedback} from a judge reply. Replies
// that are not strict JSON are repaired first, then parsed as Hjson.
func ParseVerdict(reply string) (Verdict, error) {
	text := llm.StripMarkdownFences(reply)
	if i, j := strings.Index(text, "{"), strings.LastIndex(text, "}"); i >= 0 && j > i {
		text = text[i : j+1]
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		repaired, rerr := jsonrepair.RepairJSON(text)
		if rerr != nil || json.Unmarshal([]byte(repaired), &doc) != nil || doc == nil {
			doc = nil
			if herr := hjson.Unmarshal([]byte(text), &doc); herr != nil {
				return Verdict{}, fmt.Errorf("judge reply is not JSON: %w", err)
			}
		}
	}

	cfg := Config(doc)
	key := "overall_score"
	if _, ok := doc[key]; !ok {
		key = "score"
	}
	if _, ok := doc[key]; !ok {
		return Verdict{}, fmt.Errorf("judge reply has no overall_score")
	}
	score, err := cfg.Float(key, 0)
	if err != nil {
		return Verdict{}, fmt.Errorf("judge reply: %w", err)
	}
	return Verdict{Score: clampScore(score), Feedback: cfg.String("feedback", "")}, nil
}

type judgeSettings struct {
	instructions string
	threshold    float64
}

func newJudgeSettings(cfg Config, deps Deps) (judgeSettings, error) {
	if deps.Judge == nil {
		return judgeSettings{}, fmt.Errorf("no judge client configured")
	}
	threshold, err := cfg.Float("threshold_score", DefaultThreshold)
	if err != nil {
		return judgeSettings{}, err
	}
	if threshold < 0 || threshold > 100 {
		return judgeSettings{}, fmt.Errorf("threshold_score must be within 0..100, got %v", threshold)
	}
	return judgeSettings{instructions: cfg.String("custom_instructions", ""), threshold: threshold}, nil
}

// ask renders tpl, sends it to the judge and parses the verdict.
func ask(ctx context.Context, judge llm.Client, tpl string, vars map[string]any) (Verdict, model.TokenUsage, error) {
	prompt, err := render.Render(tpl, vars, render.Options{Lenient: true})
	if err != nil {
		return Verdict{}, model.TokenUsage{}, err
	}
	resp, err := judge.Complete(ctx, llm.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: prompt}},
	})
	if err != nil {
		return Verdict{}, model.TokenUsage{}, fmt.Errorf("judge call failed: %w", err)
	}
	v, err := ParseVerdict(resp.Text)
	return v, resp.Usage, err
}

type llmJudgeEvaluator struct {
	judge llm.Client
	judgeSettings
}

func newLLMJudgeEvaluator(cfg Config, deps Deps) (Evaluator, error) {
	s, err := newJudgeSettings(cfg, deps)
	if err != nil {
		return nil, err
	}
	return &llmJudgeEvaluator{judge: deps.Judge, judgeSettings: s}, nil
}

func (e *llmJudgeEvaluator) Key() string { return "llm_judge" }

func (e *llmJudgeEvaluator) Evaluate(ctx context.Context, in Input) (Result, error) {
	v, usage, err := ask(ctx, e.judge, judgePrompt, map[string]any{
		"system_prompt":       in.SystemPrompt,
		"user_prompt":         in.UserPrompt,
		"response":            in.Response,
		"custom_instructions": e.instructions,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Score:    v.Score,
		Passed:   v.Score >= e.threshold,
		Feedback: v.Feedback,
		Metadata: map[string]any{
			"threshold_score": e.threshold,
			"judge_model":     e.judge.Model(),
			"judge_provider":  e.judge.Provider(),
			"judge_usage":     usage,
		},
	}, nil
}

type conversationJudgeEvaluator struct {
	judge llm.Client
	judgeSettings
}

func newConversationJudgeEvaluator(cfg Config, deps Deps) (Evaluator, error) {
	s, err := newJudgeSettings(cfg, deps)
	if err != nil {
		return nil, err
	}
	return &conversationJudgeEvaluator{judge: deps.Judge, judgeSettings: s}, nil
}

func (e *conversationJudgeEvaluator) Key() string { return "conversation_judge" }

// MessageScore is the judge's verdict on one assistant message.
type MessageScore struct {
	Index    int     `json:"message_index"`
	Turn     int     `json:"turn"`
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback,omitempty"`
}

func (e *conversationJudgeEvaluator) Evaluate(ctx context.Context, in Input) (Result, error) {
	var (
		scores []MessageScore
		usage  model.TokenUsage
		sum    float64
	)
	for i, m := range in.Messages {
		if m.Role != model.RoleAssistant {
			continue
		}
		v, u, err := ask(ctx, e.judge, conversationJudgePrompt, map[string]any{
			"system_prompt":       in.SystemPrompt,
			"transcript":          formatTranscript(in.Messages[:i]),
			"message":             m.Content,
			"custom_instructions": e.instructions,
		})
		if err != nil {
			return Result{}, fmt.Errorf("message %d: %w", i, err)
		}
		usage.Add(u)
		sum += v.Score
		scores = append(scores, MessageScore{Index: i, Turn: m.Turn, Score: v.Score, Feedback: v.Feedback})
	}

	meta := map[string]any{
		"threshold_score": e.threshold,
		"judge_model":     e.judge.Model(),
		"judge_provider":  e.judge.Provider(),
		"judge_usage":     usage,
		"message_scores":  scores,
	}
	if len(scores) == 0 {
		return Result{Score: 0, Passed: false, Feedback: "Conversation has no assistant messages", Metadata: meta}, nil
	}

	avg := sum / float64(len(scores))
	lowest := scores[0]
	for _, s := range scores[1:] {
		if s.Score < lowest.Score {
			lowest = s
		}
	}
	feedback := fmt.Sprintf("Average score %.1f over %d assistant messages", avg, len(scores))
	if lowest.Feedback != "" {
		feedback += fmt.Sprintf("; weakest (turn %d, %.0f): %s", lowest.Turn, lowest.Score, lowest.Feedback)
	}
	return Result{Score: avg, Passed: avg >= e.threshold, Feedback: feedback, Metadata: meta}, nil
}

func formatTranscript(messages []model.Message) string {
	if len(messages) == 0 {
		return "(no earlier messages)"
	}
	var b strings.Builder
	for _, m := range messages {
		role := "User"
		if m.Role == model.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
	}
	return strings.TrimSpace(b.String())
}

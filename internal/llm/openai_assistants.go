package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"

	"github.com/timvw/prompt-tracker/internal/model"
)

const (
	defaultPollInterval = time.Second
	defaultRunTimeout   = 2 * time.Minute

	runStatusCompleted      = "completed"
	runStatusRequiresAction = "requires_action"
)

// AssistantsClient runs an OpenAI Assistant on a thread. The Assistants API
// is reached through the SDK's generic HTTP methods with the v2 beta header.
type AssistantsClient struct {
	client       openai.Client
	model        string
	assistantID  string
	maxTokens    int64
	pollInterval time.Duration
	runTimeout   time.Duration
}

// NewAssistantsClient creates a new Assistants API client.
func NewAssistantsClient(cfg ClientConfig, extra ...option.RequestOption) *AssistantsClient {
	opts := append(openAIOptions(cfg), option.WithHeader("OpenAI-Beta", "assistants=v2"))
	opts = append(opts, extra...)

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	timeout := cfg.RunTimeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	return &AssistantsClient{
		client:       openai.NewClient(opts...),
		model:        cfg.Model,
		assistantID:  cfg.AssistantID,
		maxTokens:    cfg.MaxTokens,
		pollInterval: poll,
		runTimeout:   timeout,
	}
}

// Provider returns "openai".
func (c *AssistantsClient) Provider() string {
	return model.ProviderOpenAI
}

// Model returns the model name, or the assistant id when no model is set.
func (c *AssistantsClient) Model() string {
	if c.model == "" {
		return c.assistantID
	}
	return c.model
}

type assistantsObject struct {
	ID string `json:"id"`
}

type assistantsRun struct {
	ID             string `json:"id"`
	ThreadID       string `json:"thread_id"`
	Status         string `json:"status"`
	Model          string `json:"model"`
	RequiredAction *struct {
		SubmitToolOutputs struct {
			ToolCalls []assistantsToolCall `json:"tool_calls"`
		} `json:"submit_tool_outputs"`
	} `json:"required_action"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

type assistantsToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
	FileSearch struct {
		Results []struct {
			FileID   string  `json:"file_id"`
			FileName string  `json:"file_name"`
			Score    float64 `json:"score"`
			Content  []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"results"`
	} `json:"file_search"`
}

type assistantsMessageList struct {
	Data []struct {
		ID      string `json:"id"`
		Role    string `json:"role"`
		RunID   string `json:"run_id"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

type assistantsStepList struct {
	Data []struct {
		Type        string `json:"type"`
		StepDetails struct {
			ToolCalls []assistantsToolCall `json:"tool_calls"`
		} `json:"step_details"`
	} `json:"data"`
}

// isTerminalRun reports whether polling should stop.
func isTerminalRun(status string) bool {
	switch status {
	case runStatusCompleted, runStatusRequiresAction, "failed", "cancelled", "expired", "incomplete":
		return true
	}
	return false
}

// isInactiveRun reports whether the thread accepts new messages again.
func isInactiveRun(status string) bool {
	return status != runStatusRequiresAction && isTerminalRun(status)
}

// Complete posts the new user message to the thread (creating it first when
// req.ThreadID is empty), runs the assistant and returns its latest reply.
func (c *AssistantsClient) Complete(ctx context.Context, req Request) (*model.LLMResponse, error) {
	maxTokens := resolveMaxTokens(req, c.maxTokens)
	ctx, span := startSpan(ctx, model.ProviderOpenAI, model.APIAssistants, c.Model(), maxTokens, req)
	defer span.End()
	span.SetAttributes(attribute.String("prompt_tracker.assistant_id", c.assistantID))

	threadID := req.ThreadID
	pending := req.Messages
	if threadID == "" {
		var thread assistantsObject
		if err := c.client.Post(ctx, "threads", map[string]any{}, &thread); err != nil {
			span.SetAttributes(attribute.String("error.type", "api_error"))
			return nil, fmt.Errorf("failed to create thread: %w", err)
		}
		threadID = thread.ID
	} else if last := req.lastUserMessage(); last != "" {
		pending = []model.Message{{Role: model.RoleUser, Content: last}}
	} else {
		pending = nil
	}

	for _, m := range pending {
		if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
			continue
		}
		body := map[string]any{"role": m.Role, "content": m.Content}
		var created assistantsObject
		if err := c.client.Post(ctx, "threads/"+threadID+"/messages", body, &created); err != nil {
			span.SetAttributes(attribute.String("error.type", "api_error"))
			return nil, fmt.Errorf("failed to add message to thread %s: %w", threadID, err)
		}
	}

	run, err := c.createRun(ctx, threadID, req, maxTokens)
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		return nil, err
	}
	run, err = c.pollRun(ctx, threadID, run, isTerminalRun)
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "run_timeout"))
		return nil, err
	}

	var (
		messages assistantsMessageList
		steps    assistantsStepList
	)
	switch run.Status {
	case runStatusCompleted:
		if err := c.client.Get(ctx, "threads/"+threadID+"/messages", nil, &messages,
			option.WithQuery("order", "desc"), option.WithQuery("limit", "20")); err != nil {
			span.SetAttributes(attribute.String("error.type", "api_error"))
			return nil, fmt.Errorf("failed to list thread messages: %w", err)
		}
		// File search results are only reported on run steps.
		if err := c.client.Get(ctx, "threads/"+threadID+"/runs/"+run.ID+"/steps", nil, &steps,
			option.WithQuery("include[]", "step_details.tool_calls[*].file_search.results[*].content")); err != nil {
			span.SetAttributes(attribute.String("error.type", "api_error"))
			return nil, fmt.Errorf("failed to list run steps: %w", err)
		}
	case runStatusRequiresAction:
		// Tool outputs are never submitted; the calls are recorded and the
		// run is cancelled so the thread can accept new messages. The thread
		// stays locked until the cancellation has finished.
		var cancelled assistantsRun
		if err := c.client.Post(ctx, "threads/"+threadID+"/runs/"+run.ID+"/cancel", map[string]any{}, &cancelled); err != nil {
			span.SetAttributes(attribute.String("error.type", "api_error"))
			return nil, fmt.Errorf("failed to cancel run %s: %w", run.ID, err)
		}
		if cancelled.ID == "" {
			cancelled.ID = run.ID
		}
		if _, err := c.pollRun(ctx, threadID, &cancelled, isInactiveRun); err != nil {
			span.SetAttributes(attribute.String("error.type", "run_timeout"))
			return nil, fmt.Errorf("waiting for cancellation: %w", err)
		}
	default:
		span.SetAttributes(attribute.String("error.type", "run_"+run.Status))
		return nil, runError(run)
	}

	out := normalizeAssistantRun(threadID, run, messages, steps)
	if out.Model == "" {
		out.Model = c.Model()
	}
	recordResponse(span, out)
	return out, nil
}

func (c *AssistantsClient) createRun(ctx context.Context, threadID string, req Request, maxTokens int64) (*assistantsRun, error) {
	body := map[string]any{
		"assistant_id":          c.assistantID,
		"max_completion_tokens": maxTokens,
	}
	if c.model != "" {
		body["model"] = c.model
	}
	if req.SystemPrompt != "" {
		body["additional_instructions"] = req.SystemPrompt
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, t.Wire())
		}
		body["tools"] = tools
	}

	var run assistantsRun
	if err := c.client.Post(ctx, "threads/"+threadID+"/runs", body, &run); err != nil {
		return nil, fmt.Errorf("failed to create run on thread %s: %w", threadID, err)
	}
	return &run, nil
}

// pollRun re-reads run until done reports its status as final.
func (c *AssistantsClient) pollRun(ctx context.Context, threadID string, run *assistantsRun, done func(string) bool) (*assistantsRun, error) {
	ctx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for !done(run.Status) {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("run %s did not finish (last status %q): %w", run.ID, run.Status, ctx.Err())
		case <-ticker.C:
		}
		var next assistantsRun
		if err := c.client.Get(ctx, "threads/"+threadID+"/runs/"+run.ID, nil, &next); err != nil {
			return nil, fmt.Errorf("failed to poll run %s: %w", run.ID, err)
		}
		run = &next
	}
	return run, nil
}

func runError(run *assistantsRun) error {
	if run.LastError != nil && run.LastError.Message != "" {
		return fmt.Errorf("assistant run %s %s: %s: %s", run.ID, run.Status, run.LastError.Code, run.LastError.Message)
	}
	if run.IncompleteDetails != nil && run.IncompleteDetails.Reason != "" {
		return fmt.Errorf("assistant run %s %s: %s", run.ID, run.Status, run.IncompleteDetails.Reason)
	}
	return fmt.Errorf("assistant run %s ended with status %s", run.ID, run.Status)
}

// normalizeAssistantRun maps a finished run, the thread's messages (newest
// first) and the run's steps onto LLMResponse.
func normalizeAssistantRun(threadID string, run *assistantsRun, messages assistantsMessageList, steps assistantsStepList) *model.LLMResponse {
	out := &model.LLMResponse{
		Model:        run.Model,
		Provider:     model.ProviderOpenAI,
		API:          model.APIAssistants,
		ResponseID:   run.ID,
		ThreadID:     threadID,
		RunID:        run.ID,
		FinishReason: run.Status,
	}
	if run.Usage != nil {
		out.Usage = model.TokenUsage{
			InputTokens:  run.Usage.PromptTokens,
			OutputTokens: run.Usage.CompletionTokens,
			TotalTokens:  run.Usage.TotalTokens,
		}
	}

	for _, m := range messages.Data {
		if m.Role != model.RoleAssistant || (m.RunID != "" && m.RunID != run.ID) {
			continue
		}
		var parts []string
		for _, c := range m.Content {
			if c.Type == "text" {
				parts = append(parts, c.Text.Value)
			}
		}
		out.Text = strings.Join(parts, "\n")
		break
	}

	var calls []assistantsToolCall
	if run.RequiredAction != nil {
		calls = append(calls, run.RequiredAction.SubmitToolOutputs.ToolCalls...)
	}
	for _, s := range steps.Data {
		calls = append(calls, s.StepDetails.ToolCalls...)
	}
	for _, tc := range calls {
		switch tc.Type {
		case "function":
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		case "file_search":
			for _, r := range tc.FileSearch.Results {
				source := r.FileName
				if source == "" {
					source = r.FileID
				}
				var text []string
				for _, c := range r.Content {
					if c.Type == "text" {
						text = append(text, c.Text)
					}
				}
				out.FileSearchResults = append(out.FileSearchResults, model.SearchResult{
					Source: source,
					Text:   strings.Join(text, "\n"),
					Score:  r.Score,
				})
			}
		}
	}
	return out
}

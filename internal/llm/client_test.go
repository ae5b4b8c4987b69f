package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/option"

	"github.com/timvw/prompt-tracker/internal/model"
)

func userRequest(text string) Request {
	return Request{
		SystemPrompt: "You are helpful.",
		Messages:     []model.Message{{Role: model.RoleUser, Content: text}},
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClientConfig
		want    string
		wantErr bool
	}{
		{name: "mock", cfg: ClientConfig{Provider: model.ProviderMock}, want: "*llm.MockClient"},
		{name: "openai default api", cfg: ClientConfig{Provider: model.ProviderOpenAI, Model: "gpt-4o"}, want: "*llm.ChatCompletionsClient"},
		{name: "empty provider", cfg: ClientConfig{Model: "gpt-4o"}, want: "*llm.ChatCompletionsClient"},
		{name: "responses", cfg: ClientConfig{Provider: model.ProviderOpenAI, API: model.APIResponses}, want: "*llm.ResponsesClient"},
		{name: "assistants", cfg: ClientConfig{Provider: model.ProviderOpenAI, API: model.APIAssistants, AssistantID: "asst_1"}, want: "*llm.AssistantsClient"},
		{name: "anthropic", cfg: ClientConfig{Provider: model.ProviderAnthropic}, want: "*llm.AnthropicClient"},
		{name: "assistants without id", cfg: ClientConfig{Provider: model.ProviderOpenAI, API: model.APIAssistants}, wantErr: true},
		{name: "anthropic with openai api", cfg: ClientConfig{Provider: model.ProviderAnthropic, API: model.APIResponses}, wantErr: true},
		{name: "openai unknown api", cfg: ClientConfig{Provider: model.ProviderOpenAI, API: "completions"}, wantErr: true},
		{name: "unknown provider", cfg: ClientConfig{Provider: "gemini"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("New() expected error, got %T", c)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			if got := fmt.Sprintf("%T", c); got != tt.want {
				t.Errorf("New() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMockClient(t *testing.T) {
	ctx := context.Background()

	echo := NewMockClient("", nil)
	resp, err := echo.Complete(ctx, userRequest("hello there"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "Mock response to: hello there" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Provider != model.ProviderMock || resp.Model != "mock-model" {
		t.Errorf("provider/model = %s/%s", resp.Provider, resp.Model)
	}
	if resp.Usage.TotalTokens != resp.Usage.InputTokens+resp.Usage.OutputTokens {
		t.Errorf("usage total mismatch: %+v", resp.Usage)
	}

	canned := NewMockClient("m", []string{"one", "two"})
	var got []string
	for i := 0; i < 3; i++ {
		resp, err := canned.Complete(ctx, userRequest("x"))
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		got = append(got, resp.Text)
	}
	if strings.Join(got, ",") != "one,two,one" {
		t.Errorf("responses = %v, want one,two,one", got)
	}
	if canned.Calls() != 3 {
		t.Errorf("Calls() = %d, want 3", canned.Calls())
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := canned.Complete(cancelled, userRequest("x")); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestChatCompletionsClient(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "Checking the order.",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "lookup_order", "arguments": "{\"id\":42}"}}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`)
	}))
	defer srv.Close()

	c := NewChatCompletionsClient(ClientConfig{Model: "gpt-4o-mini", APIKey: "test", MaxTokens: 100},
		option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))

	temp := 0.2
	req := userRequest("Where is order 42?")
	req.Temperature = &temp
	req.Messages = append([]model.Message{{Role: model.RoleUser, Content: "hi"}, {Role: model.RoleAssistant, Content: "hello"}}, req.Messages...)

	resp, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "Checking the order." || resp.FinishReason != "tool_calls" || resp.ResponseID != "chatcmpl-1" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Usage != (model.TokenUsage{InputTokens: 12, OutputTokens: 4, TotalTokens: 16}) {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "lookup_order" || resp.ToolCalls[0].Arguments != `{"id":42}` {
		t.Errorf("ToolCalls = %+v", resp.ToolCalls)
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("sent %d messages, want 4 (system + 3)", len(msgs))
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v, want system", first["role"])
	}
	if body["max_completion_tokens"] != float64(100) || body["temperature"] != 0.2 {
		t.Errorf("params not sent: %v", body)
	}
}

func TestChatCompletionsClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error": {"message": "bad key", "type": "invalid_request_error"}}`)
	}))
	defer srv.Close()

	c := NewChatCompletionsClient(ClientConfig{Model: "gpt-4o-mini", APIKey: "bad"},
		option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	_, err := c.Complete(context.Background(), userRequest("hi"))
	if err == nil || !strings.Contains(err.Error(), "openai API call failed") {
		t.Fatalf("expected wrapped API error, got %v", err)
	}
}

func TestAnthropicClient(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [
				{"type": "text", "text": "Let me look."},
				{"type": "tool_use", "id": "toolu_1", "name": "lookup_order", "input": {"id": 42}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 20, "output_tokens": 7}
		}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient(ClientConfig{Model: "claude-sonnet-4-5", APIKey: "test", MaxTokens: 256},
		anthropicoption.WithBaseURL(srv.URL+"/"), anthropicoption.WithMaxRetries(0))

	resp, err := c.Complete(context.Background(), userRequest("Where is order 42?"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "Let me look." || resp.FinishReason != "tool_use" || resp.Model != "claude-sonnet-4-5" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Usage.TotalTokens != 27 {
		t.Errorf("TotalTokens = %d, want 27", resp.Usage.TotalTokens)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "toolu_1" || resp.ToolCalls[0].Name != "lookup_order" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(resp.ToolCalls[0].Arguments), &args); err != nil || args["id"] != float64(42) {
		t.Errorf("Arguments = %q", resp.ToolCalls[0].Arguments)
	}

	system, _ := body["system"].([]any)
	if len(system) != 1 {
		t.Fatalf("system blocks = %v", body["system"])
	}
	if body["max_tokens"] != float64(256) {
		t.Errorf("max_tokens = %v, want 256", body["max_tokens"])
	}
}

func TestResponsesClient(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			http.NotFound(w, r)
			return
		}
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		bodies = append(bodies, body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "resp_2",
			"object": "response",
			"model": "gpt-4.1",
			"status": "completed",
			"output": [{"type": "message", "role": "assistant", "content": [{"type": "output_text", "text": "Sure."}]}],
			"usage": {"input_tokens": 5, "output_tokens": 1, "total_tokens": 6}
		}`)
	}))
	defer srv.Close()

	c := NewResponsesClient(ClientConfig{Model: "gpt-4.1", APIKey: "test"},
		option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))

	history := []model.Message{
		{Role: model.RoleUser, Content: "first"},
		{Role: model.RoleAssistant, Content: "answer"},
		{Role: model.RoleUser, Content: "second"},
	}

	chained := Request{SystemPrompt: "sys", Messages: history, PreviousResponseID: "resp_1"}
	resp, err := c.Complete(context.Background(), chained)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "Sure." || resp.ResponseID != "resp_2" || resp.API != model.APIResponses {
		t.Errorf("unexpected response: %+v", resp)
	}

	if _, err := c.Complete(context.Background(), Request{Messages: history}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if len(bodies) != 2 {
		t.Fatalf("got %d requests, want 2", len(bodies))
	}
	if bodies[0]["input"] != "second" || bodies[0]["previous_response_id"] != "resp_1" || bodies[0]["instructions"] != "sys" {
		t.Errorf("chained request = %v", bodies[0])
	}
	if want := "User: first\n\nAssistant: answer\n\nUser: second"; bodies[1]["input"] != want {
		t.Errorf("transcript input = %q, want %q", bodies[1]["input"], want)
	}
	if _, ok := bodies[1]["previous_response_id"]; ok {
		t.Error("previous_response_id sent without a previous response")
	}
}

func TestNormalizeResponse(t *testing.T) {
	raw := `{
		"id": "resp_1",
		"model": "gpt-4.1",
		"status": "incomplete",
		"incomplete_details": {"reason": "max_output_tokens"},
		"output": [
			{"type": "file_search_call", "queries": ["refunds"], "results": [{"filename": "policy.pdf", "text": "30 days", "score": 0.91}]},
			{"type": "web_search_call", "action": {"query": "refund law", "sources": [{"url": "https://example.com/law"}]}},
			{"type": "function_call", "call_id": "call_9", "name": "issue_refund", "arguments": "{\"amount\":10}"},
			{"type": "message", "role": "assistant", "content": [
				{"type": "output_text", "text": "Refunds take ", "annotations": [{"type": "url_citation", "url": "https://example.com/faq", "title": "FAQ"}]},
				{"type": "output_text", "text": "30 days."}
			]}
		],
		"usage": {"input_tokens": 40, "output_tokens": 9, "total_tokens": 49}
	}`

	resp, err := normalizeResponse([]byte(raw))
	if err != nil {
		t.Fatalf("normalizeResponse: %v", err)
	}
	if resp.Text != "Refunds take 30 days." {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.FinishReason != "max_output_tokens" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if len(resp.FileSearchResults) != 1 || resp.FileSearchResults[0].Source != "policy.pdf" || resp.FileSearchResults[0].Score != 0.91 {
		t.Errorf("FileSearchResults = %+v", resp.FileSearchResults)
	}
	if len(resp.WebSearchResults) != 2 {
		t.Errorf("WebSearchResults = %+v", resp.WebSearchResults)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_9" {
		t.Errorf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 49 {
		t.Errorf("Usage = %+v", resp.Usage)
	}

	if _, err := normalizeResponse([]byte(`{"id": "resp_x", "output": []}`)); err == nil {
		t.Error("expected error for empty output")
	}
	if _, err := normalizeResponse([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid payload")
	}
}

type assistantsFake struct {
	runStatus     string
	messagesAdded atomic.Int32
	threadsMade   atomic.Int32
	polls         atomic.Int32
	cancels       atomic.Int32
	cancelPolls   atomic.Int32
	runBody       map[string]any
}

func (f *assistantsFake) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, s string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, s)
	}
	mux.HandleFunc("POST /threads", func(w http.ResponseWriter, r *http.Request) {
		f.threadsMade.Add(1)
		writeJSON(w, `{"id": "thread_1", "object": "thread"}`)
	})
	mux.HandleFunc("POST /threads/{thread}/messages", func(w http.ResponseWriter, r *http.Request) {
		f.messagesAdded.Add(1)
		writeJSON(w, `{"id": "msg_u", "object": "thread.message"}`)
	})
	mux.HandleFunc("POST /threads/{thread}/runs", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &f.runBody)
		writeJSON(w, `{"id": "run_1", "status": "queued"}`)
	})
	mux.HandleFunc("GET /threads/{thread}/runs/{run}", func(w http.ResponseWriter, r *http.Request) {
		if f.cancels.Load() > 0 {
			if f.cancelPolls.Add(1) < 2 {
				writeJSON(w, `{"id": "run_1", "status": "cancelling"}`)
			} else {
				writeJSON(w, `{"id": "run_1", "status": "cancelled"}`)
			}
			return
		}
		if f.polls.Add(1) < 2 {
			writeJSON(w, `{"id": "run_1", "status": "in_progress"}`)
			return
		}
		switch f.runStatus {
		case "requires_action":
			writeJSON(w, `{"id": "run_1", "status": "requires_action", "model": "gpt-4o",
				"required_action": {"type": "submit_tool_outputs", "submit_tool_outputs": {"tool_calls": [
					{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"Paris\"}"}}
				]}}}`)
		case "failed":
			writeJSON(w, `{"id": "run_1", "status": "failed", "last_error": {"code": "rate_limit_exceeded", "message": "slow down"}}`)
		default:
			writeJSON(w, `{"id": "run_1", "status": "completed", "model": "gpt-4o",
				"usage": {"prompt_tokens": 30, "completion_tokens": 10, "total_tokens": 40}}`)
		}
	})
	mux.HandleFunc("POST /threads/{thread}/runs/{run}/cancel", func(w http.ResponseWriter, r *http.Request) {
		f.cancels.Add(1)
		writeJSON(w, `{"id": "run_1", "status": "cancelling"}`)
	})
	mux.HandleFunc("GET /threads/{thread}/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("order") != "desc" {
			http.Error(w, "order must be desc", http.StatusBadRequest)
			return
		}
		writeJSON(w, `{"object": "list", "data": [
			{"id": "msg_3", "role": "assistant", "run_id": "run_1", "content": [{"type": "text", "text": {"value": "Our policy allows 30 days.", "annotations": []}}]},
			{"id": "msg_2", "role": "user", "content": [{"type": "text", "text": {"value": "refunds?"}}]},
			{"id": "msg_1", "role": "assistant", "run_id": "run_0", "content": [{"type": "text", "text": {"value": "old answer"}}]}
		]}`)
	})
	mux.HandleFunc("GET /threads/{thread}/runs/{run}/steps", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"object": "list", "data": [
			{"type": "tool_calls", "step_details": {"type": "tool_calls", "tool_calls": [
				{"id": "fs_1", "type": "file_search", "file_search": {"results": [
					{"file_id": "file_1", "file_name": "policy.md", "score": 0.8, "content": [{"type": "text", "text": "30 days"}]}
				]}}
			]}},
			{"type": "message_creation", "step_details": {"type": "message_creation"}}
		]}`)
	})
	return mux
}

func newAssistantsTestClient(t *testing.T, f *assistantsFake) *AssistantsClient {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewAssistantsClient(ClientConfig{
		AssistantID:  "asst_1",
		APIKey:       "test",
		MaxTokens:    500,
		PollInterval: time.Millisecond,
		RunTimeout:   5 * time.Second,
	}, option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
}

func TestAssistantsClient_Completed(t *testing.T) {
	f := &assistantsFake{runStatus: "completed"}
	c := newAssistantsTestClient(t, f)

	req := Request{
		SystemPrompt: "Be brief.",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "hello"},
			{Role: model.RoleAssistant, Content: "hi"},
			{Role: model.RoleUser, Content: "refunds?"},
		},
		Tools: []model.Tool{
			{Type: "file_search"},
			{Type: "function", Function: map[string]any{"name": "lookup_order", "parameters": map[string]any{"type": "object"}}},
		},
	}
	resp, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "Our policy allows 30 days." {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.ThreadID != "thread_1" || resp.RunID != "run_1" || resp.FinishReason != "completed" {
		t.Errorf("ids = %s/%s/%s", resp.ThreadID, resp.RunID, resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 40 || resp.Model != "gpt-4o" {
		t.Errorf("usage/model = %+v/%s", resp.Usage, resp.Model)
	}
	if len(resp.FileSearchResults) != 1 || resp.FileSearchResults[0].Source != "policy.md" || resp.FileSearchResults[0].Text != "30 days" {
		t.Errorf("FileSearchResults = %+v", resp.FileSearchResults)
	}
	if f.threadsMade.Load() != 1 || f.messagesAdded.Load() != 3 {
		t.Errorf("threads=%d messages=%d, want 1 and 3", f.threadsMade.Load(), f.messagesAdded.Load())
	}
	if f.runBody["assistant_id"] != "asst_1" || f.runBody["additional_instructions"] != "Be brief." {
		t.Errorf("run body = %v", f.runBody)
	}
	tools, _ := f.runBody["tools"].([]any)
	if len(tools) != 2 {
		t.Fatalf("run tools = %v", f.runBody["tools"])
	}
	builtin, _ := tools[0].(map[string]any)
	function, _ := tools[1].(map[string]any)
	fn, _ := function["function"].(map[string]any)
	if builtin["type"] != "file_search" || function["type"] != "function" || fn["name"] != "lookup_order" {
		t.Errorf("run tools = %v", tools)
	}
}

func TestAssistantsClient_ReusesThread(t *testing.T) {
	f := &assistantsFake{runStatus: "completed"}
	c := newAssistantsTestClient(t, f)

	req := Request{
		ThreadID: "thread_1",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "hello"},
			{Role: model.RoleAssistant, Content: "hi"},
			{Role: model.RoleUser, Content: "refunds?"},
		},
	}
	if _, err := c.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if f.threadsMade.Load() != 0 {
		t.Errorf("created %d threads, want 0", f.threadsMade.Load())
	}
	if f.messagesAdded.Load() != 1 {
		t.Errorf("added %d messages, want 1", f.messagesAdded.Load())
	}
}

func TestAssistantsClient_RequiresAction(t *testing.T) {
	f := &assistantsFake{runStatus: "requires_action"}
	c := newAssistantsTestClient(t, f)

	resp, err := c.Complete(context.Background(), userRequest("weather in Paris?"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.FinishReason != "requires_action" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "get_weather" {
		t.Errorf("ToolCalls = %+v", resp.ToolCalls)
	}
	if f.cancels.Load() != 1 {
		t.Errorf("cancels = %d, want 1", f.cancels.Load())
	}
	// The run is polled until the cancellation has finished.
	if f.cancelPolls.Load() != 2 {
		t.Errorf("polls after cancel = %d, want 2", f.cancelPolls.Load())
	}
}

func TestAssistantsClient_FailedRun(t *testing.T) {
	f := &assistantsFake{runStatus: "failed"}
	c := newAssistantsTestClient(t, f)

	_, err := c.Complete(context.Background(), userRequest("hi"))
	if err == nil || !strings.Contains(err.Error(), "slow down") {
		t.Fatalf("expected run failure error, got %v", err)
	}
}

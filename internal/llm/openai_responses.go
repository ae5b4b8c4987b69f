package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"go.opentelemetry.io/otel/attribute"

	"github.com/timvw/prompt-tracker/internal/model"
)

// ResponsesClient calls the OpenAI Responses API. Multi-turn conversations
// are chained server-side through previous_response_id.
type ResponsesClient struct {
	client    openai.Client
	model     string
	maxTokens int64
}

// NewResponsesClient creates a new Responses API client.
func NewResponsesClient(cfg ClientConfig, extra ...option.RequestOption) *ResponsesClient {
	opts := append(openAIOptions(cfg), extra...)
	return &ResponsesClient{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Provider returns "openai".
func (c *ResponsesClient) Provider() string {
	return model.ProviderOpenAI
}

// Model returns the model name.
func (c *ResponsesClient) Model() string {
	return c.model
}

// Complete sends the latest user message to the Responses API. Without a
// PreviousResponseID the whole history is sent as a transcript.
func (c *ResponsesClient) Complete(ctx context.Context, req Request) (*model.LLMResponse, error) {
	maxTokens := resolveMaxTokens(req, c.maxTokens)
	ctx, span := startSpan(ctx, model.ProviderOpenAI, model.APIResponses, c.model, maxTokens, req)
	defer span.End()

	input := req.lastUserMessage()
	if req.PreviousResponseID == "" && len(req.Messages) > 1 {
		input = transcript(req.Messages)
	}

	params := responses.ResponseNewParams{
		Model:           c.model,
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
		MaxOutputTokens: openai.Int(maxTokens),
	}
	if req.SystemPrompt != "" {
		params.Instructions = openai.String(req.SystemPrompt)
	}
	if req.PreviousResponseID != "" {
		params.PreviousResponseID = openai.String(req.PreviousResponseID)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		return nil, fmt.Errorf("openai responses API call failed: %w", err)
	}

	out, err := normalizeResponse([]byte(resp.RawJSON()))
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "invalid_response"))
		return nil, err
	}
	if out.Model == "" {
		out.Model = c.model
	}
	recordResponse(span, out)
	return out, nil
}

// transcript flattens a message history into a single input string.
func transcript(messages []model.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		role := "User"
		if m.Role == model.RoleAssistant {
			role = "Assistant"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

type responsesWire struct {
	ID     string `json:"id"`
	Model  string `json:"model"`
	Status string `json:"status"`
	Output []struct {
		Type      string `json:"type"`
		Role      string `json:"role"`
		CallID    string `json:"call_id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
		Content   []struct {
			Type        string `json:"type"`
			Text        string `json:"text"`
			Annotations []struct {
				Type  string `json:"type"`
				URL   string `json:"url"`
				Title string `json:"title"`
			} `json:"annotations"`
		} `json:"content"`
		Results []struct {
			Filename string  `json:"filename"`
			FileID   string  `json:"file_id"`
			Text     string  `json:"text"`
			Score    float64 `json:"score"`
		} `json:"results"`
		Action struct {
			Query   string `json:"query"`
			Sources []struct {
				URL string `json:"url"`
			} `json:"sources"`
		} `json:"action"`
	} `json:"output"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
		TotalTokens  int64 `json:"total_tokens"`
	} `json:"usage"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
}

// normalizeResponse maps a raw Responses API payload onto LLMResponse.
func normalizeResponse(raw []byte) (*model.LLMResponse, error) {
	var w responsesWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("failed to decode responses API payload: %w", err)
	}

	out := &model.LLMResponse{
		Model:        w.Model,
		Provider:     model.ProviderOpenAI,
		API:          model.APIResponses,
		ResponseID:   w.ID,
		FinishReason: w.Status,
		Usage: model.TokenUsage{
			InputTokens:  w.Usage.InputTokens,
			OutputTokens: w.Usage.OutputTokens,
			TotalTokens:  w.Usage.TotalTokens,
		},
	}
	if w.IncompleteDetails != nil && w.IncompleteDetails.Reason != "" {
		out.FinishReason = w.IncompleteDetails.Reason
	}

	var text []string
	for _, item := range w.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type != "output_text" {
					continue
				}
				text = append(text, c.Text)
				for _, a := range c.Annotations {
					if a.Type == "url_citation" {
						out.WebSearchResults = append(out.WebSearchResults, model.SearchResult{Source: a.URL, Text: a.Title})
					}
				}
			}
		case "function_call":
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: item.CallID, Name: item.Name, Arguments: item.Arguments})
		case "file_search_call":
			for _, r := range item.Results {
				source := r.Filename
				if source == "" {
					source = r.FileID
				}
				out.FileSearchResults = append(out.FileSearchResults, model.SearchResult{Source: source, Text: r.Text, Score: r.Score})
			}
		case "web_search_call":
			for _, s := range item.Action.Sources {
				out.WebSearchResults = append(out.WebSearchResults, model.SearchResult{Source: s.URL, Text: item.Action.Query})
			}
		}
	}
	out.Text = strings.Join(text, "")

	if out.Text == "" && len(out.ToolCalls) == 0 {
		return nil, fmt.Errorf("openai responses API returned empty response")
	}
	return out, nil
}

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"

	"github.com/timvw/prompt-tracker/internal/model"
)

// AnthropicClient calls the Anthropic Messages API.
// Works with both direct Anthropic API and Azure AI Foundry.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg ClientConfig, extra ...option.RequestOption) *AnthropicClient {
	var opts []option.RequestOption

	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	for k, v := range cfg.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}
	opts = append(opts, extra...)

	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Provider returns "anthropic".
func (c *AnthropicClient) Provider() string {
	return model.ProviderAnthropic
}

// Model returns the model name.
func (c *AnthropicClient) Model() string {
	return c.model
}

// Complete sends the conversation to the Messages API.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*model.LLMResponse, error) {
	maxTokens := resolveMaxTokens(req, c.maxTokens)
	ctx, span := startSpan(ctx, model.ProviderAnthropic, model.APIMessages, c.model, maxTokens, req)
	defer span.End()

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	system := req.SystemPrompt
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case model.RoleSystem:
			// Messages API only accepts a top-level system prompt.
			system = strings.TrimSpace(system + "\n\n" + m.Content)
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	out, err := normalizeAnthropicMessage(resp)
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "empty_response"))
		return nil, err
	}
	if out.Model == "" {
		out.Model = c.model
	}
	recordResponse(span, out)
	return out, nil
}

// normalizeAnthropicMessage maps a Messages API response onto LLMResponse.
// Text blocks are concatenated; tool_use blocks become tool calls.
func normalizeAnthropicMessage(resp *anthropic.Message) (*model.LLMResponse, error) {
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("anthropic API returned empty response")
	}

	out := &model.LLMResponse{
		Model:        string(resp.Model),
		Provider:     model.ProviderAnthropic,
		API:          model.APIMessages,
		ResponseID:   resp.ID,
		FinishReason: string(resp.StopReason),
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}

	var text []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	out.Text = strings.Join(text, "")
	return out, nil
}

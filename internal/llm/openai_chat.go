package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"

	"github.com/timvw/prompt-tracker/internal/model"
)

// ChatCompletionsClient calls an OpenAI-compatible Chat Completions API.
// Works with OpenAI, Azure OpenAI, and any OpenAI-compatible endpoint.
type ChatCompletionsClient struct {
	client    openai.Client
	model     string
	maxTokens int64
}

// openAIOptions builds SDK request options from cfg.
func openAIOptions(cfg ClientConfig) []option.RequestOption {
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
	return opts
}

// NewChatCompletionsClient creates a new Chat Completions client.
func NewChatCompletionsClient(cfg ClientConfig, extra ...option.RequestOption) *ChatCompletionsClient {
	opts := append(openAIOptions(cfg), extra...)
	return &ChatCompletionsClient{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Provider returns "openai".
func (c *ChatCompletionsClient) Provider() string {
	return model.ProviderOpenAI
}

// Model returns the model name.
func (c *ChatCompletionsClient) Model() string {
	return c.model
}

// Complete sends the conversation to the Chat Completions API.
func (c *ChatCompletionsClient) Complete(ctx context.Context, req Request) (*model.LLMResponse, error) {
	maxTokens := resolveMaxTokens(req, c.maxTokens)
	ctx, span := startSpan(ctx, model.ProviderOpenAI, model.APIChatCompletions, c.model, maxTokens, req)
	defer span.End()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case model.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		return nil, fmt.Errorf("openai API call failed: %w", err)
	}

	out, err := normalizeChatCompletion(resp)
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "empty_response"))
		return nil, err
	}
	recordResponse(span, out)
	return out, nil
}

// normalizeChatCompletion maps a Chat Completions response onto LLMResponse.
func normalizeChatCompletion(resp *openai.ChatCompletion) (*model.LLMResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai API returned empty response")
	}
	choice := resp.Choices[0]

	out := &model.LLMResponse{
		Text:         choice.Message.Content,
		Model:        resp.Model,
		Provider:     model.ProviderOpenAI,
		API:          model.APIChatCompletions,
		ResponseID:   resp.ID,
		FinishReason: string(choice.FinishReason),
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/timvw/prompt-tracker/internal/model"
)

// MockClient returns canned responses without any network access. It is
// used when real LLM calls are disabled.
type MockClient struct {
	model     string
	responses []string

	mu    sync.Mutex
	calls int
}

// NewMockClient creates a mock client. Responses are returned in order and
// cycled; with none configured the client echoes the last user message.
func NewMockClient(modelName string, responses []string) *MockClient {
	if modelName == "" {
		modelName = "mock-model"
	}
	return &MockClient{model: modelName, responses: responses}
}

// Provider returns "mock".
func (c *MockClient) Provider() string {
	return model.ProviderMock
}

// Model returns the model name.
func (c *MockClient) Model() string {
	return c.model
}

// Calls returns the number of completed calls.
func (c *MockClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Complete returns the next canned response.
func (c *MockClient) Complete(ctx context.Context, req Request) (*model.LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	n := c.calls
	c.calls++
	c.mu.Unlock()

	text := "Mock response to: " + req.lastUserMessage()
	if len(c.responses) > 0 {
		text = c.responses[n%len(c.responses)]
	}

	input := int64(len(strings.Fields(req.SystemPrompt)))
	for _, m := range req.Messages {
		input += int64(len(strings.Fields(m.Content)))
	}
	output := int64(len(strings.Fields(text)))

	return &model.LLMResponse{
		Text:         text,
		Model:        c.model,
		Provider:     model.ProviderMock,
		API:          model.APIChatCompletions,
		ResponseID:   fmt.Sprintf("mock-%d", n+1),
		FinishReason: "stop",
		Usage: model.TokenUsage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  input + output,
		},
	}, nil
}

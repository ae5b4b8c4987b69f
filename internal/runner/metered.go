package runner

import (
	"context"

	"github.com/timvw/prompt-tracker/internal/llm"
	"github.com/timvw/prompt-tracker/internal/model"
	"github.com/timvw/prompt-tracker/internal/otel"
)

// meteredClient records call and token metrics around another client.
type meteredClient struct {
	llm.Client
	api     string
	metrics *otel.Metrics
}

// metered wraps c; with no metrics it returns c unchanged.
func metered(c llm.Client, api string, m *otel.Metrics) llm.Client {
	if m == nil {
		return c
	}
	return &meteredClient{Client: c, api: api, metrics: m}
}

func (c *meteredClient) Complete(ctx context.Context, req llm.Request) (*model.LLMResponse, error) {
	resp, err := c.Client.Complete(ctx, req)
	api := c.api
	if resp != nil && resp.API != "" {
		api = resp.API
	}
	if err != nil {
		c.metrics.RecordLLMCall(ctx, c.Provider(), api, c.Model(), "error")
		return nil, err
	}
	c.metrics.RecordLLMCall(ctx, c.Provider(), api, c.Model(), "ok")
	c.metrics.RecordTokens(ctx, c.Provider(), c.Model(), resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return resp, nil
}

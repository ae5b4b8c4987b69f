// Package chat holds an interactive conversation with a prompt version and
// the terminal UI around it.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/timvw/prompt-tracker/internal/llm"
	"github.com/timvw/prompt-tracker/internal/model"
	"github.com/timvw/prompt-tracker/internal/render"
)

// Session is a conversation with one prompt version. It is not safe for
// concurrent use; the TUI sends one message at a time.
type Session struct {
	client  llm.Client
	version *model.PromptVersion

	systemPrompt string
	// opening is the rendered user prompt, offered as the first message.
	opening string

	messages           []model.Message
	usage              model.TokenUsage
	previousResponseID string
	threadID           string
}

// NewSession renders the system prompt of version with vars. The user prompt
// becomes the suggested opening message when all its variables are set.
func NewSession(client llm.Client, version *model.PromptVersion, vars map[string]any) (*Session, error) {
	if client == nil || version == nil {
		return nil, errors.New("chat session requires a client and a prompt version")
	}
	vars = render.ApplyDefaults(version.VariablesSchema, vars)
	system, err := render.Render(version.SystemPrompt, vars, render.Options{})
	if err != nil {
		return nil, fmt.Errorf("system prompt: %w", err)
	}
	s := &Session{client: client, version: version, systemPrompt: system}
	if opening, err := render.Render(version.UserPrompt, vars, render.Options{}); err == nil {
		s.opening = opening
	}
	return s, nil
}

// SystemPrompt returns the rendered system prompt.
func (s *Session) SystemPrompt() string { return s.systemPrompt }

// Opening returns the suggested first user message, possibly empty.
func (s *Session) Opening() string { return s.opening }

// Client returns the assistant client.
func (s *Session) Client() llm.Client { return s.client }

// Messages returns a copy of the conversation.
func (s *Session) Messages() []model.Message {
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Usage returns the accumulated token usage.
func (s *Session) Usage() model.TokenUsage { return s.usage }

// Turn returns the number of completed exchanges.
func (s *Session) Turn() int {
	n := 0
	for _, m := range s.messages {
		if m.Role == model.RoleAssistant {
			n++
		}
	}
	return n
}

// Send adds text as a user message and returns the assistant's reply. On
// failure the conversation is left unchanged.
func (s *Session) Send(ctx context.Context, text string) (model.Message, error) {
	if text == "" {
		return model.Message{}, errors.New("empty message")
	}
	turn := s.Turn() + 1
	history := append(s.Messages(), model.Message{Role: model.RoleUser, Content: text, Turn: turn})

	mc := s.version.ModelConfig
	resp, err := s.client.Complete(ctx, llm.Request{
		SystemPrompt:       s.systemPrompt,
		Messages:           history,
		Temperature:        mc.Temperature,
		TopP:               mc.TopP,
		MaxTokens:          mc.MaxTokens,
		PreviousResponseID: s.previousResponseID,
		ThreadID:           s.threadID,
		Tools:              mc.Tools,
	})
	if err != nil {
		return model.Message{}, err
	}

	reply := model.Message{
		Role:      model.RoleAssistant,
		Content:   resp.Text,
		Turn:      turn,
		ToolCalls: resp.ToolCalls,
	}
	s.messages = append(history, reply)
	s.usage.Add(resp.Usage)
	if resp.ResponseID != "" {
		s.previousResponseID = resp.ResponseID
	}
	if resp.ThreadID != "" {
		s.threadID = resp.ThreadID
	}
	return reply, nil
}

// Reset clears the conversation and its vendor state. Usage is kept.
func (s *Session) Reset() {
	s.messages = nil
	s.previousResponseID = ""
	s.threadID = ""
}

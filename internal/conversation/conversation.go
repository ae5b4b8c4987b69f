// Package conversation runs simulated multi-turn conversations: one LLM plays
// the assistant under test, another plays the user ("interlocutor") following
// a scripted persona until it ends the conversation or the turn budget runs out.
package conversation

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/timvw/prompt-tracker/internal/llm"
	"github.com/timvw/prompt-tracker/internal/model"
)

// EndToken is emitted by the interlocutor to finish the conversation.
const EndToken = "[END_CONVERSATION]"

const (
	// DefaultMaxTurns applies when neither Params nor Runner set a limit.
	DefaultMaxTurns = 5
	// MaxTurnsCap bounds any configured limit.
	MaxTurnsCap = 20
)

// Ended values.
const (
	EndedMaxTurns          = "max_turns"
	EndedInterlocutorEnded = "interlocutor_ended"
)

// instructions frames the row's persona for the interlocutor.
// Loaded from prompts/interlocutor.md at compile time.
//
//go:embed prompts/interlocutor.md
var instructions string

// openingRequest asks the interlocutor for the first user message.
//
//go:embed prompts/opening.md
var openingRequest string

// Runner drives a conversation between two clients.
type Runner struct {
	Assistant    llm.Client
	Interlocutor llm.Client
	// MaxTurns is the default turn limit; 0 means DefaultMaxTurns.
	MaxTurns int
}

// Params describe one conversation.
type Params struct {
	SystemPrompt string
	// FirstUserMessage opens the conversation. When empty the interlocutor
	// writes the opening message.
	FirstUserMessage   string
	InterlocutorPrompt string
	// MaxTurns overrides Runner.MaxTurns when > 0.
	MaxTurns    int
	Temperature *float64
	TopP        *float64
	MaxTokens   int64
	Tools       []model.Tool
}

// Result is the outcome of a conversation.
type Result struct {
	Messages  []model.Message
	Turns     int
	Usage     model.TokenUsage
	Ended     string
	Responses []*model.LLMResponse
}

func (r *Runner) turnLimit(p Params) int {
	n := p.MaxTurns
	if n <= 0 {
		n = r.MaxTurns
	}
	if n <= 0 {
		n = DefaultMaxTurns
	}
	if n > MaxTurnsCap {
		n = MaxTurnsCap
	}
	return n
}

// Run plays the conversation. Assistant and interlocutor errors abort it;
// the partial transcript is still returned alongside the error.
func (r *Runner) Run(ctx context.Context, p Params) (*Result, error) {
	if r.Assistant == nil || r.Interlocutor == nil {
		return nil, fmt.Errorf("conversation requires both an assistant and an interlocutor client")
	}
	maxTurns := r.turnLimit(p)
	res := &Result{}

	next := p.FirstUserMessage
	if strings.TrimSpace(next) == "" {
		opening, ended, err := r.interlocutorReply(ctx, p, nil, res)
		if err != nil {
			return res, fmt.Errorf("interlocutor opening: %w", err)
		}
		if ended && opening == "" {
			res.Ended = EndedInterlocutorEnded
			return res, nil
		}
		next = opening
	}

	var previousResponseID, threadID string
	for turn := 1; turn <= maxTurns; turn++ {
		res.Messages = append(res.Messages, model.Message{Role: model.RoleUser, Content: next, Turn: turn})

		resp, err := r.Assistant.Complete(ctx, llm.Request{
			SystemPrompt:       p.SystemPrompt,
			Messages:           cloneMessages(res.Messages),
			Temperature:        p.Temperature,
			TopP:               p.TopP,
			MaxTokens:          p.MaxTokens,
			PreviousResponseID: previousResponseID,
			ThreadID:           threadID,
			Tools:              p.Tools,
		})
		if err != nil {
			return res, fmt.Errorf("assistant turn %d: %w", turn, err)
		}
		res.Responses = append(res.Responses, resp)
		res.Usage.Add(resp.Usage)
		res.Messages = append(res.Messages, model.Message{
			Role:      model.RoleAssistant,
			Content:   resp.Text,
			Turn:      turn,
			ToolCalls: resp.ToolCalls,
		})
		res.Turns = turn
		if resp.API == model.APIResponses {
			previousResponseID = resp.ResponseID
		}
		if resp.ThreadID != "" {
			threadID = resp.ThreadID
		}

		if turn == maxTurns {
			res.Ended = EndedMaxTurns
			break
		}

		reply, ended, err := r.interlocutorReply(ctx, p, res.Messages, res)
		if err != nil {
			return res, fmt.Errorf("interlocutor turn %d: %w", turn, err)
		}
		if ended {
			if reply != "" {
				res.Messages = append(res.Messages, model.Message{Role: model.RoleUser, Content: reply, Turn: turn + 1})
			}
			res.Ended = EndedInterlocutorEnded
			break
		}
		next = reply
	}
	return res, nil
}

// interlocutorReply asks the interlocutor for the next user message given
// history. It reports whether the conversation ended.
func (r *Runner) interlocutorReply(ctx context.Context, p Params, history []model.Message, res *Result) (string, bool, error) {
	mirrored := Mirror(history)
	if len(mirrored) == 0 || mirrored[len(mirrored)-1].Role != model.RoleUser {
		mirrored = append(mirrored, model.Message{Role: model.RoleUser, Content: strings.TrimSpace(openingRequest)})
	}

	resp, err := r.Interlocutor.Complete(ctx, llm.Request{
		SystemPrompt: InterlocutorSystemPrompt(p.InterlocutorPrompt),
		Messages:     mirrored,
		Temperature:  p.Temperature,
	})
	if err != nil {
		return "", false, err
	}
	res.Usage.Add(resp.Usage)

	// An empty reply cannot be sent as a user message; it ends the
	// conversation like the end token does.
	text, ended := StripEndToken(resp.Text)
	return text, ended || text == "", nil
}

// InterlocutorSystemPrompt builds the interlocutor's system prompt from a
// persona description.
func InterlocutorSystemPrompt(persona string) string {
	return strings.TrimSpace(instructions) + "\n" + strings.TrimSpace(persona)
}

// Mirror swaps user and assistant roles so the interlocutor sees the
// assistant's replies as the messages it has to answer. System messages are
// dropped.
func Mirror(messages []model.Message) []model.Message {
	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleUser:
			m.Role = model.RoleAssistant
		case model.RoleAssistant:
			m.Role = model.RoleUser
		default:
			continue
		}
		m.ToolCalls = nil
		out = append(out, m)
	}
	return out
}

// StripEndToken removes every EndToken from text and reports whether one was
// found.
func StripEndToken(text string) (string, bool) {
	if !strings.Contains(text, EndToken) {
		return strings.TrimSpace(text), false
	}
	return strings.TrimSpace(strings.ReplaceAll(text, EndToken, "")), true
}

func cloneMessages(messages []model.Message) []model.Message {
	out := make([]model.Message, len(messages))
	copy(out, messages)
	return out
}

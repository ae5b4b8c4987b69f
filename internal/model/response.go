package model

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Turn      int        `json:"turn,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a function/tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// TokenUsage tracks LLM token consumption.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Add accumulates other into u. TotalTokens falls back to input+output
// when the provider did not report a total.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	total := other.TotalTokens
	if total == 0 {
		total = other.InputTokens + other.OutputTokens
	}
	u.TotalTokens += total
}

// LLMResponse is the provider-independent shape every client normalizes to.
type LLMResponse struct {
	// Text is the assistant's textual output.
	Text     string `json:"text"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
	// API is the vendor API used (chat_completions, responses, assistants, messages).
	API string `json:"api"`

	// ResponseID is the vendor response id (Responses API chaining uses it).
	ResponseID string `json:"response_id,omitempty"`
	// ThreadID and RunID are set by the Assistants API.
	ThreadID string `json:"thread_id,omitempty"`
	RunID    string `json:"run_id,omitempty"`

	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        TokenUsage `json:"usage"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`

	// FileSearchResults and WebSearchResults hold hosted-tool outputs
	// reported by the Responses and Assistants APIs.
	FileSearchResults []SearchResult `json:"file_search_results,omitempty"`
	WebSearchResults  []SearchResult `json:"web_search_results,omitempty"`
}

// SearchResult is a single hosted-tool search hit.
type SearchResult struct {
	Source string  `json:"source,omitempty"`
	Text   string  `json:"text,omitempty"`
	Score  float64 `json:"score,omitempty"`
}

package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Vendor APIs.
const (
	APIChatCompletions = "chat_completions"
	APIResponses       = "responses"
	APIAssistants      = "assistants"
	APIMessages        = "messages"
)

// ModelConfig is the canonical model configuration of a prompt version.
type ModelConfig struct {
	Provider    string         `json:"provider"`
	API         string         `json:"api"`
	Model       string         `json:"model"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   int64          `json:"max_tokens,omitempty"`
	TopP        *float64       `json:"top_p,omitempty"`
	AssistantID string         `json:"assistant_id,omitempty"`
	Tools       []Tool         `json:"tools,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Tool is a tool enabled for a run: a built-in such as {type: file_search}
// or a function {type: function, function: {name, description, parameters}}.
type Tool struct {
	Type     string         `json:"type"`
	Function map[string]any `json:"function,omitempty"`
}

// Name returns the function name of function tools and the type otherwise.
func (t Tool) Name() string {
	if name := toString(t.Function["name"]); name != "" {
		return name
	}
	return t.Type
}

// Wire returns the tool in the shape the OpenAI APIs accept.
func (t Tool) Wire() map[string]any {
	out := map[string]any{"type": t.Type}
	if len(t.Function) > 0 {
		out["function"] = t.Function
	}
	return out
}

// fieldAliases maps vendor field spellings onto canonical field names.
var fieldAliases = map[string]string{
	"provider":              "provider",
	"vendor":                "provider",
	"api":                   "api",
	"api_type":              "api",
	"endpoint":              "api",
	"model":                 "model",
	"model_name":            "model",
	"deployment":            "model",
	"temperature":           "temperature",
	"max_tokens":            "max_tokens",
	"max_output_tokens":     "max_tokens",
	"max_completion_tokens": "max_tokens",
	"top_p":                 "top_p",
	"assistant_id":          "assistant_id",
	"assistant":             "assistant_id",
	"tools":                 "tools",
}

var apiAliases = map[string]string{
	"chat_completions": APIChatCompletions,
	"chat":             APIChatCompletions,
	"completions":      APIChatCompletions,
	"responses":        APIResponses,
	"response":         APIResponses,
	"assistants":       APIAssistants,
	"assistant":        APIAssistants,
	"messages":         APIMessages,
}

// NormalizeModelConfig maps a raw model_config map (as written by users or
// returned by vendor APIs) onto ModelConfig. Unknown keys are kept in Extra.
func NormalizeModelConfig(raw map[string]any) (ModelConfig, error) {
	var cfg ModelConfig

	// Sort keys so that when two aliases collide the result is deterministic.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := raw[key]
		canonical, ok := fieldAliases[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			if cfg.Extra == nil {
				cfg.Extra = map[string]any{}
			}
			cfg.Extra[key] = value
			continue
		}

		var err error
		switch canonical {
		case "provider":
			cfg.Provider = strings.ToLower(toString(value))
		case "api":
			s := strings.ToLower(toString(value))
			api, known := apiAliases[s]
			if !known {
				return cfg, fmt.Errorf("model_config: unknown api %q", s)
			}
			cfg.API = api
		case "model":
			cfg.Model = toString(value)
		case "temperature":
			var f float64
			if f, err = toFloat(value); err == nil {
				cfg.Temperature = &f
			}
		case "top_p":
			var f float64
			if f, err = toFloat(value); err == nil {
				cfg.TopP = &f
			}
		case "max_tokens":
			var f float64
			if f, err = toFloat(value); err == nil {
				cfg.MaxTokens = int64(f)
			}
		case "assistant_id":
			cfg.AssistantID = toString(value)
		case "tools":
			cfg.Tools, err = toTools(value)
		}
		if err != nil {
			return cfg, fmt.Errorf("model_config: field %q: %w", key, err)
		}
	}

	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenAI
	}
	if cfg.API == "" {
		cfg.API = defaultAPI(cfg)
	}
	if cfg.Provider == ProviderAnthropic && cfg.API != APIMessages {
		return cfg, fmt.Errorf("model_config: provider anthropic does not support api %q", cfg.API)
	}
	if cfg.API == APIAssistants && cfg.AssistantID == "" {
		return cfg, fmt.Errorf("model_config: api assistants requires assistant_id")
	}
	return cfg, nil
}

func defaultAPI(cfg ModelConfig) string {
	switch {
	case cfg.Provider == ProviderAnthropic:
		return APIMessages
	case cfg.AssistantID != "":
		return APIAssistants
	default:
		return APIChatCompletions
	}
}

// DenormalizeAssistant renders cfg with the field names used by the
// OpenAI Assistants API.
func DenormalizeAssistant(cfg ModelConfig) map[string]any {
	out := map[string]any{
		"model": cfg.Model,
	}
	if cfg.AssistantID != "" {
		out["assistant_id"] = cfg.AssistantID
	}
	if cfg.Temperature != nil {
		out["temperature"] = *cfg.Temperature
	}
	if cfg.TopP != nil {
		out["top_p"] = *cfg.TopP
	}
	if cfg.MaxTokens > 0 {
		out["max_completion_tokens"] = cfg.MaxTokens
	}
	if len(cfg.Tools) > 0 {
		tools := make([]map[string]any, 0, len(cfg.Tools))
		for _, t := range cfg.Tools {
			tools = append(tools, t.Wire())
		}
		out["tools"] = tools
	}
	return out
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

// toTools accepts ["file_search"], [{type: file_search}], full function
// definitions or a single string.
func toTools(v any) ([]Tool, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []Tool{{Type: t}}, nil
	case []string:
		tools := make([]Tool, 0, len(t))
		for _, name := range t {
			tools = append(tools, Tool{Type: name})
		}
		return tools, nil
	case []map[string]any:
		tools := make([]Tool, 0, len(t))
		for _, item := range t {
			tool, err := toTool(item)
			if err != nil {
				return nil, err
			}
			tools = append(tools, tool)
		}
		return tools, nil
	case []any:
		tools := make([]Tool, 0, len(t))
		for _, item := range t {
			switch it := item.(type) {
			case string:
				tools = append(tools, Tool{Type: it})
			case map[string]any:
				tool, err := toTool(it)
				if err != nil {
					return nil, err
				}
				tools = append(tools, tool)
			default:
				return nil, fmt.Errorf("unsupported tool entry %v", item)
			}
		}
		return tools, nil
	default:
		return nil, fmt.Errorf("unsupported tools value %v", v)
	}
}

func toTool(m map[string]any) (Tool, error) {
	tool := Tool{Type: toString(m["type"])}
	if tool.Type == "" {
		return tool, fmt.Errorf("tool entry without type")
	}
	if tool.Type != "function" {
		return tool, nil
	}
	fn, ok := m["function"].(map[string]any)
	if !ok || toString(fn["name"]) == "" {
		return tool, fmt.Errorf("function tool without function.name")
	}
	tool.Function = fn
	return tool, nil
}

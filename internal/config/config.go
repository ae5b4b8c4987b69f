// Package config loads prompt-tracker configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Environment variables (PROMPT_TRACKER_*, vendor keys, OTEL_*)
//  2. Config file
//  3. Built-in defaults
//
// A .env file in the current directory is loaded into the environment
// first; variables already set in the environment are kept.
//
// Config file search order:
//  1. .prompt-tracker.yaml in current directory
//  2. ~/.config/prompt-tracker/config.yaml
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/timvw/prompt-tracker/internal/llm"
	"github.com/timvw/prompt-tracker/internal/model"
)

// ModelRef selects the model used for an auxiliary role (judge, interlocutor).
type ModelRef struct {
	Provider  string `yaml:"provider"`
	API       string `yaml:"api"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// Config holds all prompt-tracker configuration.
type Config struct {
	// Files
	Suite    string `yaml:"suite"`    // Suite file with prompts, datasets and tests
	Database string `yaml:"database"` // SQLite file holding test runs

	// Execution
	Parallel  int     `yaml:"parallel"`   // Concurrent runs per dataset batch
	RateLimit float64 `yaml:"rate_limit"` // Test runs started per second; 0 is unlimited
	MockLLM   bool    `yaml:"mock_llm"`   // Use the mock client instead of vendor APIs

	// Timeouts (Go duration strings, "0"/"off" disables)
	RequestTimeout string `yaml:"request_timeout"`
	PollInterval   string `yaml:"assistants_poll_interval"`
	RunTimeout     string `yaml:"assistants_run_timeout"`

	// Auxiliary models
	Judge        ModelRef `yaml:"judge"`
	Interlocutor ModelRef `yaml:"interlocutor"`

	// Vendor credentials; normally from the environment.
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenAIBaseURL    string `yaml:"openai_base_url"`
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	AnthropicBaseURL string `yaml:"anthropic_base_url"`

	// Logging
	LogMode  string `yaml:"log_mode"` // dev or prod
	LogLevel string `yaml:"log_level"`

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"` // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"

	// Parsed durations (not from YAML, set after loading)
	RequestTimeoutDuration time.Duration `yaml:"-"`
	PollIntervalDuration   time.Duration `yaml:"-"`
	RunTimeoutDuration     time.Duration `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		Suite:          "prompt-tracker.yaml",
		Database:       filepath.Join(".prompt-tracker", "runs.db"),
		Parallel:       4,
		RequestTimeout: "2m",
		PollInterval:   "1s",
		RunTimeout:     "2m",
		Judge: ModelRef{
			Provider: model.ProviderOpenAI,
			API:      model.APIChatCompletions,
			Model:    "gpt-4o-mini",
		},
		Interlocutor: ModelRef{
			Provider: model.ProviderOpenAI,
			API:      model.APIChatCompletions,
			Model:    "gpt-4o-mini",
		},
		LogMode:  "dev",
		LogLevel: "info",
	}
}

// Load reads configuration from .env, the config file and environment
// variables. Environment variables always override file values.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return load(findConfigFile)
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return load(func() (string, []byte, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", nil, fmt.Errorf("reading config file: %w", err)
		}
		return path, data, nil
	})
}

func load(find func() (string, []byte, error)) (*Config, error) {
	cfg := Defaults()

	path, data, err := find()
	switch {
	case err == nil:
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
		mergeFile(cfg, &fileCfg)
	case !errors.Is(err, errNoConfigFile):
		return nil, err
	}

	if err := mergeEnv(cfg); err != nil {
		return nil, err
	}

	cfg.RequestTimeoutDuration, err = parseDurationOrDisable(cfg.RequestTimeout, 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid request timeout %q: %w", cfg.RequestTimeout, err)
	}
	cfg.PollIntervalDuration, err = parseDurationOrDisable(cfg.PollInterval, time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid assistants poll interval %q: %w", cfg.PollInterval, err)
	}
	cfg.RunTimeoutDuration, err = parseDurationOrDisable(cfg.RunTimeout, 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid assistants run timeout %q: %w", cfg.RunTimeout, err)
	}

	if cfg.Parallel < 1 {
		return nil, fmt.Errorf("parallel must be at least 1, got %d", cfg.Parallel)
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate_limit must not be negative, got %v", cfg.RateLimit)
	}
	return cfg, nil
}

var errNoConfigFile = errors.New("no config file found")

// findConfigFile searches for a config file and returns its path and contents.
func findConfigFile() (string, []byte, error) {
	if data, err := os.ReadFile(".prompt-tracker.yaml"); err == nil {
		return ".prompt-tracker.yaml", data, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "prompt-tracker", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}

	return "", nil, errNoConfigFile
}

// mergeFile applies non-zero file values onto cfg.
func mergeFile(cfg *Config, file *Config) {
	setString(&cfg.Suite, file.Suite)
	setString(&cfg.Database, file.Database)
	if file.Parallel > 0 {
		cfg.Parallel = file.Parallel
	}
	if file.RateLimit != 0 {
		cfg.RateLimit = file.RateLimit
	}
	if file.MockLLM {
		cfg.MockLLM = true
	}
	setString(&cfg.RequestTimeout, file.RequestTimeout)
	setString(&cfg.PollInterval, file.PollInterval)
	setString(&cfg.RunTimeout, file.RunTimeout)
	mergeModelRef(&cfg.Judge, file.Judge)
	mergeModelRef(&cfg.Interlocutor, file.Interlocutor)
	setString(&cfg.OpenAIAPIKey, file.OpenAIAPIKey)
	setString(&cfg.OpenAIBaseURL, file.OpenAIBaseURL)
	setString(&cfg.AnthropicAPIKey, file.AnthropicAPIKey)
	setString(&cfg.AnthropicBaseURL, file.AnthropicBaseURL)
	setString(&cfg.LogMode, file.LogMode)
	setString(&cfg.LogLevel, file.LogLevel)
	setString(&cfg.OTELEndpoint, file.OTELEndpoint)
	setString(&cfg.OTELHeaders, file.OTELHeaders)
}

func mergeModelRef(dst *ModelRef, src ModelRef) {
	if src.Provider != "" && src.Provider != dst.Provider {
		// A new provider invalidates the default API.
		dst.API = ""
	}
	setString(&dst.Provider, src.Provider)
	setString(&dst.API, src.API)
	setString(&dst.Model, src.Model)
	if src.MaxTokens > 0 {
		dst.MaxTokens = src.MaxTokens
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// mergeEnv applies environment variables onto cfg. Env always wins.
func mergeEnv(cfg *Config) error {
	setString(&cfg.Suite, os.Getenv("PROMPT_TRACKER_SUITE"))
	setString(&cfg.Database, os.Getenv("PROMPT_TRACKER_DATABASE"))
	if v := os.Getenv("PROMPT_TRACKER_PARALLEL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PROMPT_TRACKER_PARALLEL %q: %w", v, err)
		}
		cfg.Parallel = n
	}
	if v := os.Getenv("PROMPT_TRACKER_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid PROMPT_TRACKER_RATE_LIMIT %q: %w", v, err)
		}
		cfg.RateLimit = f
	}
	if v := os.Getenv("PROMPT_TRACKER_MOCK_LLM"); v != "" {
		cfg.MockLLM = v == "true" || v == "1"
	}
	setString(&cfg.RequestTimeout, os.Getenv("PROMPT_TRACKER_REQUEST_TIMEOUT"))
	mergeModelRef(&cfg.Judge, ModelRef{
		Provider: os.Getenv("PROMPT_TRACKER_JUDGE_PROVIDER"),
		Model:    os.Getenv("PROMPT_TRACKER_JUDGE_MODEL"),
	})
	mergeModelRef(&cfg.Interlocutor, ModelRef{
		Provider: os.Getenv("PROMPT_TRACKER_INTERLOCUTOR_PROVIDER"),
		Model:    os.Getenv("PROMPT_TRACKER_INTERLOCUTOR_MODEL"),
	})
	setString(&cfg.LogMode, os.Getenv("PROMPT_TRACKER_LOG_MODE"))
	setString(&cfg.LogLevel, os.Getenv("PROMPT_TRACKER_LOG_LEVEL"))
	setString(&cfg.OTELEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	setString(&cfg.OTELHeaders, os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))

	setString(&cfg.OpenAIAPIKey, os.Getenv("OPENAI_API_KEY"))
	setString(&cfg.OpenAIBaseURL, os.Getenv("OPENAI_BASE_URL"))
	setString(&cfg.AnthropicAPIKey, os.Getenv("ANTHROPIC_API_KEY"))
	setString(&cfg.AnthropicBaseURL, os.Getenv("ANTHROPIC_BASE_URL"))

	// Azure AI Foundry serves both vendors behind one resource and key.
	if v := os.Getenv("AZURE_OPENAI_API_KEY"); v != "" {
		if cfg.OpenAIAPIKey == "" {
			cfg.OpenAIAPIKey = v
		}
		if cfg.AnthropicAPIKey == "" {
			cfg.AnthropicAPIKey = v
		}
	}
	if rn := os.Getenv("AZURE_RESOURCE_NAME"); rn != "" {
		if cfg.OpenAIBaseURL == "" {
			cfg.OpenAIBaseURL = fmt.Sprintf("https://%s.openai.azure.com/openai/v1", rn)
		}
		if cfg.AnthropicBaseURL == "" {
			// The Anthropic SDK appends v1/messages.
			cfg.AnthropicBaseURL = fmt.Sprintf("https://%s.services.ai.azure.com/anthropic/", rn)
		}
	}
	return nil
}

// parseDurationOrDisable parses a duration string. "0", "off", "disable" return 0.
// Empty string returns the fallback value.
func parseDurationOrDisable(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" || s == "off" || s == "disable" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// IsAzureEndpoint returns true if the URL is an Azure endpoint.
func IsAzureEndpoint(url string) bool {
	return strings.Contains(url, ".azure.com") || strings.Contains(url, ".azure.us")
}

// ClientConfig resolves credentials and endpoints for mc. With MockLLM set
// every provider is replaced by the mock client.
func (c *Config) ClientConfig(mc model.ModelConfig) (llm.ClientConfig, error) {
	cc := llm.ClientConfig{
		Provider:     mc.Provider,
		API:          mc.API,
		Model:        mc.Model,
		MaxTokens:    mc.MaxTokens,
		AssistantID:  mc.AssistantID,
		PollInterval: c.PollIntervalDuration,
		RunTimeout:   c.RunTimeoutDuration,
		ExtraHeaders: map[string]string{},
	}
	if responses, ok := mc.Extra["mock_responses"].([]any); ok {
		for _, r := range responses {
			if s, ok := r.(string); ok {
				cc.MockResponses = append(cc.MockResponses, s)
			}
		}
	}
	if c.MockLLM || mc.Provider == model.ProviderMock {
		cc.Provider = model.ProviderMock
		return cc, nil
	}

	switch mc.Provider {
	case model.ProviderAnthropic:
		cc.APIKey, cc.BaseURL = c.AnthropicAPIKey, c.AnthropicBaseURL
		if cc.APIKey == "" {
			return cc, fmt.Errorf("no API key for anthropic. Set ANTHROPIC_API_KEY or AZURE_OPENAI_API_KEY")
		}
	case model.ProviderOpenAI, "":
		cc.APIKey, cc.BaseURL = c.OpenAIAPIKey, c.OpenAIBaseURL
		if cc.APIKey == "" {
			return cc, fmt.Errorf("no API key for openai. Set OPENAI_API_KEY or AZURE_OPENAI_API_KEY")
		}
	default:
		return cc, fmt.Errorf("unknown provider %q (supported: openai, anthropic, mock)", mc.Provider)
	}

	// Azure needs the "api-key" header next to the SDK's own auth header.
	if IsAzureEndpoint(cc.BaseURL) {
		cc.ExtraHeaders["api-key"] = cc.APIKey
	}
	return cc, nil
}

// RoleClientConfig resolves the client for a judge or interlocutor role.
func (c *Config) RoleClientConfig(ref ModelRef) (llm.ClientConfig, error) {
	mc := model.ModelConfig{
		Provider:  ref.Provider,
		API:       ref.API,
		Model:     ref.Model,
		MaxTokens: ref.MaxTokens,
	}
	return c.ClientConfig(mc)
}

package model

import (
	"strings"
	"unicode"
)

// Version statuses.
const (
	VersionDraft      = "draft"
	VersionActive     = "active"
	VersionDeprecated = "deprecated"
)

// Dataset types.
const (
	DatasetSingleTurn     = "single_turn"
	DatasetConversational = "conversational"
)

// Prompt is a named, versioned LLM prompt.
type Prompt struct {
	// Name is the human-readable prompt name.
	Name string `yaml:"name" json:"name"`
	// Slug is the stable identifier used to reference the prompt.
	// Derived from Name when empty.
	Slug        string          `yaml:"slug" json:"slug"`
	Description string          `yaml:"description" json:"description,omitempty"`
	Versions    []PromptVersion `yaml:"versions" json:"versions"`
}

// PromptVersion is one immutable revision of a prompt's templates and config.
type PromptVersion struct {
	// Number is the 1-based version number, unique within a prompt.
	Number int `yaml:"number" json:"number"`
	// Status is one of draft, active, deprecated.
	Status string `yaml:"status" json:"status"`
	// SystemPrompt is the system template (may be empty).
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt,omitempty"`
	// UserPrompt is the user message template.
	UserPrompt string `yaml:"user_prompt" json:"user_prompt"`
	// RawModelConfig is the model_config block as written in the suite file.
	// ModelConfig is derived from it by NormalizeModelConfig.
	RawModelConfig  map[string]any   `yaml:"model_config" json:"-"`
	ModelConfig     ModelConfig      `yaml:"-" json:"model_config"`
	VariablesSchema []VariableSchema `yaml:"variables_schema" json:"variables_schema,omitempty"`
	Notes           string           `yaml:"notes" json:"notes,omitempty"`
}

// VariableSchema describes one template variable.
type VariableSchema struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Required    bool   `yaml:"required" json:"required"`
	Default     any    `yaml:"default" json:"default,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// ActiveVersion returns the version marked active, or the highest-numbered
// version if none is. Returns nil when the prompt has no versions.
func (p *Prompt) ActiveVersion() *PromptVersion {
	var latest *PromptVersion
	for i := range p.Versions {
		v := &p.Versions[i]
		if v.Status == VersionActive {
			return v
		}
		if latest == nil || v.Number > latest.Number {
			latest = v
		}
	}
	return latest
}

// Version returns the version with the given number, or the active version
// when number is 0.
func (p *Prompt) Version(number int) *PromptVersion {
	if number == 0 {
		return p.ActiveVersion()
	}
	for i := range p.Versions {
		if p.Versions[i].Number == number {
			return &p.Versions[i]
		}
	}
	return nil
}

// Slugify lowercases name and collapses runs of non-alphanumerics into "-".
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// Dataset is a named set of input variable bindings for tests.
type Dataset struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description" json:"description,omitempty"`
	// RowsFile optionally points at a JSON/YAML file holding the rows.
	RowsFile string       `yaml:"rows_file" json:"-"`
	Rows     []DatasetRow `yaml:"rows" json:"rows"`
}

// IsConversational reports whether rows drive simulated conversations.
func (d *Dataset) IsConversational() bool {
	return d != nil && d.Type == DatasetConversational
}

// Row returns the row with the given id, or nil.
func (d *Dataset) Row(id string) *DatasetRow {
	for i := range d.Rows {
		if d.Rows[i].ID == id {
			return &d.Rows[i]
		}
	}
	return nil
}

// DatasetRow is one set of variable bindings.
type DatasetRow struct {
	ID       string         `yaml:"id" json:"id"`
	RowData  map[string]any `yaml:"row_data" json:"row_data"`
	Metadata map[string]any `yaml:"metadata" json:"metadata,omitempty"`
	// Source is manual, imported or generated.
	Source string `yaml:"source" json:"source,omitempty"`
}

// Row data keys that drive simulated conversations.
const (
	RowKeyInterlocutorPrompt = "interlocutor_simulation_prompt"
	RowKeyMaxTurns           = "max_turns"
)

// InterlocutorPrompt returns the row's interlocutor simulation prompt, if any.
func (r *DatasetRow) InterlocutorPrompt() string {
	if r == nil {
		return ""
	}
	s, _ := r.RowData[RowKeyInterlocutorPrompt].(string)
	return strings.TrimSpace(s)
}

// RunMode returns the execution mode of a run over row of d: conversational
// when the dataset is conversational or the row carries an interlocutor
// prompt, single_turn otherwise. Both d and row may be nil.
func RunMode(d *Dataset, row *DatasetRow) string {
	if d.IsConversational() || row.InterlocutorPrompt() != "" {
		return DatasetConversational
	}
	return DatasetSingleTurn
}

// MaxTurns returns the row's max_turns, or 0 when unset or invalid.
func (r *DatasetRow) MaxTurns() int {
	if r == nil {
		return 0
	}
	switch v := r.RowData[RowKeyMaxTurns].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Test binds a prompt version to a dataset and a set of evaluators.
type Test struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
	// Prompt is the prompt slug (or name) under test.
	Prompt string `yaml:"prompt" json:"prompt"`
	// Version is the version number; 0 means the active version.
	Version int `yaml:"version" json:"version,omitempty"`
	// Dataset is the dataset name; empty means custom variables only.
	Dataset    string            `yaml:"dataset" json:"dataset,omitempty"`
	Enabled    *bool             `yaml:"enabled" json:"enabled,omitempty"`
	Evaluators []EvaluatorConfig `yaml:"evaluators" json:"evaluators"`
	Tags       []string          `yaml:"tags" json:"tags,omitempty"`
}

// IsEnabled reports whether the test is enabled (default true).
func (t *Test) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// EvaluatorConfig selects an evaluator and its configuration.
type EvaluatorConfig struct {
	Key     string         `yaml:"key" json:"key"`
	Enabled *bool          `yaml:"enabled" json:"enabled,omitempty"`
	Config  map[string]any `yaml:"config" json:"config,omitempty"`
}

// IsEnabled reports whether the evaluator is enabled (default true).
func (c *EvaluatorConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

package render

import (
	"errors"
	"reflect"
	"testing"

	"github.com/timvw/prompt-tracker/internal/model"
)

func TestRender(t *testing.T) {
	vars := map[string]any{
		"name":     "Ada",
		"count":    float64(3),
		"customer": map[string]any{"tier": "gold"},
		"tags":     []any{"a", "b"},
		"empty":    "",
	}

	tests := []struct {
		name string
		tpl  string
		want string
	}{
		{name: "plain text unchanged", tpl: "Hello there", want: "Hello there"},
		{name: "simple substitution", tpl: "Hello {{name}}!", want: "Hello Ada!"},
		{name: "whitespace inside braces", tpl: "Hello {{   name   }}!", want: "Hello Ada!"},
		{name: "dotted path", tpl: "Tier: {{ customer.tier }}", want: "Tier: gold"},
		{name: "number formatting", tpl: "{{ count }} items", want: "3 items"},
		{name: "slice as json", tpl: "{{ tags }}", want: `["a","b"]`},
		{name: "upcase filter", tpl: "{{ name | upcase }}", want: "ADA"},
		{name: "chained filters", tpl: "{{ name | downcase | upcase }}", want: "ADA"},
		{name: "default used for missing", tpl: `Hi {{ nickname | default: "friend" }}`, want: "Hi friend"},
		{name: "default used for empty", tpl: `Hi {{ empty | default: 'pal' }}`, want: "Hi pal"},
		{name: "default ignored when present", tpl: `Hi {{ name | default: "friend" }}`, want: "Hi Ada"},
		{name: "adjacent placeholders", tpl: "{{name}}{{name}}", want: "AdaAda"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.tpl, vars, Options{})
			if err != nil {
				t.Fatalf("Render(%q) error: %v", tt.tpl, err)
			}
			if got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.tpl, got, tt.want)
			}
		})
	}
}

func TestRender_MissingVariables(t *testing.T) {
	_, err := Render("{{ a }} {{ b.c }} {{ a }}", map[string]any{"b": map[string]any{}}, Options{})
	var missing *MissingVariablesError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingVariablesError, got %v", err)
	}
	if want := []string{"a", "b.c"}; !reflect.DeepEqual(missing.Names, want) {
		t.Errorf("missing = %v, want %v", missing.Names, want)
	}

	got, err := Render("x{{ a }}y", nil, Options{Lenient: true})
	if err != nil {
		t.Fatalf("lenient render error: %v", err)
	}
	if got != "xy" {
		t.Errorf("lenient render = %q, want %q", got, "xy")
	}
}

func TestRender_InvalidExpressions(t *testing.T) {
	for _, tpl := range []string{"{{ 1abc }}", "{{ name | shout }}", "{{ a-b }}"} {
		if _, err := Render(tpl, map[string]any{"name": "x"}, Options{}); err == nil {
			t.Errorf("Render(%q) expected error", tpl)
		}
	}
}

func TestExtractVariables(t *testing.T) {
	tpl := `Dear {{ customer.name }}, your order {{order_id}} ({{ customer.tier | upcase }}) {{ order_id }} {{ bad-name }}`
	want := []string{"customer", "order_id"}
	if got := ExtractVariables(tpl); !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractVariables() = %v, want %v", got, want)
	}
	if got := ExtractVariables("no variables"); got != nil {
		t.Errorf("ExtractVariables() = %v, want nil", got)
	}
}

func TestApplyDefaultsAndValidate(t *testing.T) {
	schema := []model.VariableSchema{
		{Name: "name", Type: "string", Required: true},
		{Name: "tone", Type: "string", Default: "friendly"},
		{Name: "count", Type: "number"},
		{Name: "flags", Type: "array"},
	}

	vars := ApplyDefaults(schema, map[string]any{"count": "three", "flags": []any{}})
	if vars["tone"] != "friendly" {
		t.Errorf("tone default not applied: %v", vars["tone"])
	}

	errs := ValidateVariables(schema, vars)
	want := []string{"count must be of type number", "name is required"}
	if !reflect.DeepEqual(errs, want) {
		t.Errorf("ValidateVariables() = %v, want %v", errs, want)
	}

	if errs := ValidateVariables(schema, map[string]any{"name": "Ada", "count": 2}); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestPreview(t *testing.T) {
	v := &model.PromptVersion{
		SystemPrompt:    "You are a {{ tone }} support agent.",
		UserPrompt:      "Customer {{ name }} asks: {{ question }}",
		VariablesSchema: []model.VariableSchema{{Name: "tone", Default: "calm"}},
	}
	got, err := Preview(v, map[string]any{"name": "Ada", "question": "Where is my order?"}, Options{})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if got.SystemPrompt != "You are a calm support agent." {
		t.Errorf("SystemPrompt = %q", got.SystemPrompt)
	}
	if got.UserPrompt != "Customer Ada asks: Where is my order?" {
		t.Errorf("UserPrompt = %q", got.UserPrompt)
	}
	if want := []string{"tone", "name", "question"}; !reflect.DeepEqual(got.Variables, want) {
		t.Errorf("Variables = %v, want %v", got.Variables, want)
	}

	if _, err := Preview(v, map[string]any{"name": "Ada"}, Options{}); err == nil {
		t.Error("expected error for missing question")
	}
}

// Package render substitutes variables into prompt templates.
//
// Templates use the "{{ name }}" syntax with optional dotted paths
// ("{{ customer.name }}") and a small set of filters:
//
//	{{ name | default: "friend" }}
//	{{ name | upcase }}  {{ name | downcase }}  {{ name | strip }}
package render

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/timvw/prompt-tracker/internal/model"
)

// placeholder matches "{{ expr }}" lazily so adjacent placeholders stay separate.
var placeholder = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// MissingVariablesError lists variables a strict render could not resolve.
type MissingVariablesError struct {
	Names []string
}

func (e *MissingVariablesError) Error() string {
	return fmt.Sprintf("missing template variables: %s", strings.Join(e.Names, ", "))
}

// Options controls rendering.
type Options struct {
	// Lenient renders missing variables as empty strings instead of failing.
	Lenient bool
}

type expression struct {
	path    []string
	filters []filter
}

type filter struct {
	name string
	arg  string
}

// ExtractVariables returns the unique root variable names referenced by tpl,
// in order of first appearance.
func ExtractVariables(tpl string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholder.FindAllStringSubmatch(tpl, -1) {
		expr, err := parseExpression(m[1])
		if err != nil || len(expr.path) == 0 {
			continue
		}
		root := expr.path[0]
		if !seen[root] {
			seen[root] = true
			names = append(names, root)
		}
	}
	return names
}

// Render substitutes vars into tpl.
func Render(tpl string, vars map[string]any, opts Options) (string, error) {
	var missing []string
	missingSeen := map[string]bool{}
	var parseErr error

	out := placeholder.ReplaceAllStringFunc(tpl, func(match string) string {
		inner := placeholder.FindStringSubmatch(match)[1]
		expr, err := parseExpression(inner)
		if err != nil {
			if parseErr == nil {
				parseErr = err
			}
			return match
		}

		value, found := lookup(vars, expr.path)
		text := ""
		if found {
			text = formatValue(value)
		}
		hasDefault := false
		for _, f := range expr.filters {
			if f.name == "default" {
				hasDefault = true
			}
			text = applyFilter(f, text)
		}
		if !found && !hasDefault && !opts.Lenient {
			name := strings.Join(expr.path, ".")
			if !missingSeen[name] {
				missingSeen[name] = true
				missing = append(missing, name)
			}
		}
		return text
	})

	if parseErr != nil {
		return "", parseErr
	}
	if len(missing) > 0 {
		return "", &MissingVariablesError{Names: missing}
	}
	return out, nil
}

func parseExpression(s string) (expression, error) {
	parts := strings.Split(s, "|")
	var expr expression

	head := strings.TrimSpace(parts[0])
	if head == "" {
		return expr, fmt.Errorf("empty template expression %q", s)
	}
	for _, seg := range strings.Split(head, ".") {
		seg = strings.TrimSpace(seg)
		if !isIdentifier(seg) {
			return expr, fmt.Errorf("invalid variable name %q in %q", head, s)
		}
		expr.path = append(expr.path, seg)
	}

	for _, raw := range parts[1:] {
		raw = strings.TrimSpace(raw)
		name, arg, _ := strings.Cut(raw, ":")
		f := filter{name: strings.TrimSpace(name)}
		switch f.name {
		case "default":
			f.arg = unquote(strings.TrimSpace(arg))
		case "upcase", "downcase", "strip":
		default:
			return expr, fmt.Errorf("unknown filter %q in %q", f.name, s)
		}
		expr.filters = append(expr.filters, f)
	}
	return expr, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func applyFilter(f filter, text string) string {
	switch f.name {
	case "default":
		if text == "" {
			return f.arg
		}
	case "upcase":
		return strings.ToUpper(text)
	case "downcase":
		return strings.ToLower(text)
	case "strip":
		return strings.TrimSpace(text)
	}
	return text
}

func lookup(vars map[string]any, path []string) (any, bool) {
	var cur any = vars
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ApplyDefaults returns a copy of vars with schema defaults filled in for
// variables that are absent.
func ApplyDefaults(schema []model.VariableSchema, vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars)+len(schema))
	for k, v := range vars {
		out[k] = v
	}
	for _, s := range schema {
		if _, ok := out[s.Name]; !ok && s.Default != nil {
			out[s.Name] = s.Default
		}
	}
	return out
}

// ValidateVariables checks vars against schema and returns one message per
// problem, sorted for stable output.
func ValidateVariables(schema []model.VariableSchema, vars map[string]any) []string {
	var errs []string
	for _, s := range schema {
		v, ok := vars[s.Name]
		if !ok || v == nil || v == "" {
			if s.Required {
				errs = append(errs, fmt.Sprintf("%s is required", s.Name))
			}
			continue
		}
		if s.Type != "" && !matchesType(s.Type, v) {
			errs = append(errs, fmt.Sprintf("%s must be of type %s", s.Name, s.Type))
		}
	}
	sort.Strings(errs)
	return errs
}

func matchesType(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "number", "integer":
		switch v.(type) {
		case int, int64, float64, float32:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}

// Rendered holds both rendered templates of a prompt version.
type Rendered struct {
	SystemPrompt string   `json:"system_prompt"`
	UserPrompt   string   `json:"user_prompt"`
	Variables    []string `json:"variables"`
}

// Preview applies schema defaults and renders the system and user templates
// of version.
func Preview(version *model.PromptVersion, vars map[string]any, opts Options) (*Rendered, error) {
	vars = ApplyDefaults(version.VariablesSchema, vars)

	system, err := Render(version.SystemPrompt, vars, opts)
	if err != nil {
		return nil, fmt.Errorf("system prompt: %w", err)
	}
	user, err := Render(version.UserPrompt, vars, opts)
	if err != nil {
		return nil, fmt.Errorf("user prompt: %w", err)
	}

	names := ExtractVariables(version.SystemPrompt)
	for _, n := range ExtractVariables(version.UserPrompt) {
		dup := false
		for _, existing := range names {
			if existing == n {
				dup = true
				break
			}
		}
		if !dup {
			names = append(names, n)
		}
	}
	return &Rendered{SystemPrompt: system, UserPrompt: user, Variables: names}, nil
}

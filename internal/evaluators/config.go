package evaluators

import (
	"fmt"
	"strconv"
)

// Config is an evaluator's merged configuration as decoded from YAML or JSON.
type Config map[string]any

func mergeConfig(defaults, overrides map[string]any) Config {
	out := make(Config, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// String returns the string value of key, or def.
func (c Config) String(key, def string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case nil:
		return def
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Bool returns the boolean value of key, or def.
func (c Config) Bool(key string, def bool) (bool, error) {
	switch v := c[key].(type) {
	case nil:
		return def, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s: invalid boolean %q", key, v)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%s: expected boolean, got %T", key, v)
	}
}

// Float returns the numeric value of key, or def.
func (c Config) Float(key string, def float64) (float64, error) {
	switch v := c[key].(type) {
	case nil:
		return def, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid number %q", key, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%s: expected number, got %T", key, v)
	}
}

// Strings returns the string list of key. A single string is a one-element
// list.
func (c Config) Strings(key string) ([]string, error) {
	switch v := c[key].(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s: expected list of strings, got %T element", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: expected list of strings, got %T", key, v)
	}
}

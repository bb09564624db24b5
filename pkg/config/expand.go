package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var bracedVar = regexp.MustCompile(`\$\{.+\}`)

// resolveEnvVariables returns a copy of raw with variable references in every
// string value expanded.
func resolveEnvVariables(raw map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(raw))
	for k, v := range raw {
		r, err := resolveValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		resolved[k] = r
	}
	return resolved, nil
}

func resolveValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		return resolveEnvVariables(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			r, err := resolveValue(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	case string:
		return resolveElement(val)
	default:
		return v, nil
	}
}

// resolveElement expands a single string. A ${VAR} reference to an unset
// variable is an error; a value starting with a bare $VAR that cannot be
// fully resolved is kept verbatim. ${VAR:-default} falls back to default.
func resolveElement(s string) (string, error) {
	switch {
	case bracedVar.MatchString(s):
		return expandStrict(s)
	case strings.HasPrefix(s, "$"):
		expanded, err := expandStrict(s)
		if err != nil {
			return s, nil
		}
		return expanded, nil
	default:
		return s, nil
	}
}

func expandStrict(s string) (string, error) {
	var unbound []string
	expanded := os.Expand(s, func(name string) string {
		if key, def, ok := strings.Cut(name, ":-"); ok {
			if v, set := os.LookupEnv(key); set && v != "" {
				return v
			}
			return def
		}
		v, set := os.LookupEnv(name)
		if !set {
			unbound = append(unbound, name)
		}
		return v
	})
	if len(unbound) > 0 {
		return "", fmt.Errorf("unbound variable %s", strings.Join(unbound, ", "))
	}
	return expanded, nil
}

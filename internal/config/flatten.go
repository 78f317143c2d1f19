package config

import (
	"fmt"
	"sort"
	"strings"
)

var secretKeys = map[string]bool{
	"api.token":      true,
	"telegram.token": true,
	"http.secret":    true,
}

// IsSecretKey reports whether the dot key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns nested JSON objects into dot keys:
// {"api": {"base_url": "x"}} becomes {"api.base_url": "x"}.
// Empty objects produce no keys.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(key, child)
				continue
			}
			out[key] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. It fails when one key is both a
// value and a parent, e.g. "viewer" and "viewer.role".
func Unflatten(flat map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	// Lexical order visits a key before any key it prefixes.
	for _, k := range SortedKeys(flat) {
		parts := strings.Split(k, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			switch next := node[part].(type) {
			case nil:
				child := make(map[string]any)
				node[part] = child
				node = child
			case map[string]any:
				node = next
			default:
				return nil, fmt.Errorf("config key %s conflicts with value at %s", k, part)
			}
		}
		node[parts[len(parts)-1]] = flat[k]
	}
	return out, nil
}

// SortedKeys returns the keys of a flat map in lexical order.
func SortedKeys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MaskSecrets returns a copy of flat with credentials reduced to "***"
// plus their last four characters. Empty credentials stay empty.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		if s, ok := v.(string); ok && secretKeys[k] && s != "" {
			out[k] = mask(s)
		}
	}
	return out
}

func mask(s string) string {
	if len(s) <= 4 {
		return "***" + s
	}
	return "***" + s[len(s)-4:]
}

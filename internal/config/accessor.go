package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// toTree round-trips the config through JSON so dot paths can address it
// by the same names the file uses.
func toTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath retrieves a config value by dot-notation path, e.g.
// "routing.multimodalProvider" or "providers.anthropic.defaultModel".
func GetByPath(cfg *Config, path string) (any, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}

	var current any = tree
	for _, key := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			val, ok := node[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("invalid array index %q in %s", key, path)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %q", current, key)
		}
	}
	return current, nil
}

// SetByPath writes a value at a dot-notation path, coercing string input
// to bool or number when it parses as one, and reloads cfg in place.
func SetByPath(cfg *Config, path string, value any) error {
	tree, err := toTree(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	if len(parts) == 0 || parts[0] == "" {
		return fmt.Errorf("empty path")
	}

	parent := tree
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key]
		if !ok {
			next := make(map[string]any)
			parent[key] = next
			parent = next
			continue
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot traverse into %T at %q", child, key)
		}
		parent = childMap
	}
	parent[parts[len(parts)-1]] = coerceValue(value)

	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

func coerceValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a deep copy with API keys and the Telegram token
// masked, for `config list` output.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		return cfg
	}

	for name, prov := range clone.Providers {
		if prov.APIKey != "" {
			prov.APIKey = maskSecret(prov.APIKey)
		}
		clone.Providers[name] = prov
	}
	if clone.Channels.Telegram.Token != "" {
		clone.Channels.Telegram.Token = maskSecret(clone.Channels.Telegram.Token)
	}
	return &clone
}

// maskSecret keeps the first and last 4 chars of longer secrets so keys
// remain identifiable in listings.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

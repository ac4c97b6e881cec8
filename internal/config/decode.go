package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Decode parses a config file body. YAML (.yaml, .yml) is first rewritten
// as JSON so both formats go through one strict decoder: unknown keys and
// trailing documents are errors. Relative paths inside the file are
// anchored at the file's directory, then defaults fill the gaps.
func Decode(path string, data []byte) (*Config, error) {
	name := filepath.Base(path)
	body := data
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var tree any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("config %s: yaml: %w", name, err)
		}
		if tree == nil {
			tree = map[string]any{}
		}
		jb, err := json.Marshal(stringKeys(tree))
		if err != nil {
			return nil, fmt.Errorf("config %s: yaml to json: %w", name, err)
		}
		body = jb
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", name, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("config %s: trailing data", name)
		}
		return nil, fmt.Errorf("config %s: %w", name, err)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", name, err)
	}
	cfg.resolvePaths(dir)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", name, err)
	}
	return &cfg, nil
}

// stringKeys rewrites map[any]any nodes (yaml allows non-string keys) so the
// tree can be marshaled as JSON.
func stringKeys(node any) any {
	switch n := node.(type) {
	case map[any]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[fmt.Sprint(k)] = stringKeys(v)
		}
		return out
	case map[string]any:
		for k, v := range n {
			n[k] = stringKeys(v)
		}
		return n
	case []any:
		for i, v := range n {
			n[i] = stringKeys(v)
		}
		return n
	default:
		return node
	}
}

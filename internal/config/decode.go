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

// decode parses raw config bytes into a Config.
//
// YAML files are coerced to JSON first so one strict decoder
// (DisallowUnknownFields) covers both formats; unknown keys are rejected so
// typos surface at load time instead of silently defaulting.
func decode(path string, data []byte) (*Config, error) {
	jb := data
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("yaml unmarshal: %w", err)
		}
		j, err := json.Marshal(stringifyKeys(v))
		if err != nil {
			return nil, fmt.Errorf("yaml->json marshal: %w", err)
		}
		jb = j
	}

	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// Reject trailing tokens (e.g. concatenated JSON documents).
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// stringifyKeys ensures all map keys are strings so the YAML value can be
// JSON-marshaled.
func stringifyKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringifyKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringifyKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringifyKeys(x[i])
		}
		return x
	default:
		return in
	}
}

package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v6"
	jsoniter "github.com/json-iterator/go"
	yaml "go.yaml.in/yaml/v3"
)

// EnvPrefix prefixes every environment override, e.g. BARREL_HTTP_ADDR.
const EnvPrefix = "BARREL_"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// strict rejects unknown fields and anything after the document.
var strict = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	DisallowUnknownFields:  true,
}.Froze()

// Decode parses a configuration document. path only selects the format:
// .yaml and .yml are YAML, anything else is JSON. Unknown fields and
// trailing data are errors. Environment overrides are applied on top.
func Decode(path string, data []byte) (*Config, error) {
	jb, err := coerceToJSON(path, data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := strict.Unmarshal(jb, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	if err := env.Parse(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return &cfg, nil
}

// coerceToJSON converts YAML to JSON so both formats share the strict
// JSON decoder.
func coerceToJSON(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if v == nil {
		return []byte("{}"), nil
	}
	j, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return j, nil
}

// normalizeYAML makes every map key a string so the result can be
// marshaled as JSON.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}

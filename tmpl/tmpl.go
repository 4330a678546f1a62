// Package tmpl fills ${name} placeholders in JSON-like values.
package tmpl

import (
	"errors"
	"fmt"
	"regexp"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"

	"github.com/bjaus/barrel/match"
)

// ErrVars is returned when the variables are not a JSON object.
var ErrVars = errors.New("template variables must be an object")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// placeholder matches ${name} with an optional escaping backslash.
var placeholder = regexp.MustCompile(`(\\?)\$\{([^{}]+)\}`)

// Compile returns a deep copy of v with every ${name} in every string
// replaced by vars[name]. \${name} yields a literal ${name}. Placeholders
// naming a missing variable are left as they are.
//
// A string that is exactly one placeholder takes the variable's value
// as is, so numbers and objects keep their type:
//
//	tmpl.Compile(map[string]any{"id": "${id}", "path": "/users/${id}"}, map[string]any{"id": 7})
//	// map[id:7 path:/users/7]
func Compile(v any, vars any) (any, error) {
	m, ok := vars.(map[string]any)
	if !ok {
		tree, err := match.Normalize(vars)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrVars, err)
		}
		if m, ok = tree.(map[string]any); !ok {
			return nil, fmt.Errorf("%w, got %T", ErrVars, vars)
		}
	}
	return compile(match.Clone(v), m), nil
}

// String fills the placeholders of a single string.
func String(s string, vars map[string]any) string {
	return expand(s, vars)
}

func compile(v any, vars map[string]any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = compile(e, vars)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = compile(e, vars)
		}
		return t
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, e := range t {
			out[k] = expand(e, vars)
		}
		return out
	case string:
		if m := placeholder.FindStringSubmatch(t); m != nil && m[0] == t && m[1] == "" {
			if val, ok := vars[m[2]]; ok {
				return match.Clone(val)
			}
		}
		return expand(t, vars)
	default:
		return v
	}
}

func expand(s string, vars map[string]any) string {
	return placeholder.ReplaceAllStringFunc(s, func(found string) string {
		m := placeholder.FindStringSubmatch(found)
		if m[1] != "" {
			return found[1:]
		}
		val, ok := vars[m[2]]
		if !ok {
			return found
		}
		if val == nil {
			return ""
		}
		switch val.(type) {
		case map[string]any, []any:
			raw, err := json.Marshal(val)
			if err != nil {
				return found
			}
			return string(raw)
		}
		return cast.ToString(val)
	})
}

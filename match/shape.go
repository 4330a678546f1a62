package match

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/spf13/cast"
)

// Shape is an object pattern. Every key must be present on a candidate
// object and every value must match.
type Shape map[string]any

type wildcard struct{}

func (wildcard) String() string { return "*" }

// Any matches any value, including null, as long as the key is present.
var Any any = wildcard{}

// Match returns every object node in msg, at any depth and in pre-order,
// that s matches. Nodes are returned as they appear in msg.
func Match(msg any, s Shape) ([]any, error) {
	switch msg.(type) {
	case map[string]any, []any:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPayload, msg)
	}
	norm, err := normalizeShape(s, false)
	if err != nil {
		return nil, err
	}
	return norm.collect(msg), nil
}

func (s Shape) collect(msg any) []any {
	var out []any
	walk(msg, func(obj map[string]any) {
		if s.matches(obj) {
			out = append(out, obj)
		}
	})
	return out
}

// Trim reduces a matched object to the keys s declares, recursing into
// nested shapes. Values that are not objects are returned unchanged.
func Trim(v any, s Shape) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(s))
	for k, want := range s {
		got, ok := obj[k]
		if !ok {
			continue
		}
		if sub, ok := want.(Shape); ok {
			got = Trim(got, sub)
		}
		out[k] = got
	}
	return out
}

func walk(v any, visit func(map[string]any)) {
	switch t := v.(type) {
	case map[string]any:
		visit(t)
		for _, k := range sortedKeys(t) {
			walk(t[k], visit)
		}
	case []any:
		for _, e := range t {
			walk(e, visit)
		}
	}
}

func (s Shape) matches(obj map[string]any) bool {
	for k, want := range s {
		got, ok := obj[k]
		if !ok || !valueMatches(want, got) {
			return false
		}
	}
	return true
}

func valueMatches(want, got any) bool {
	switch w := want.(type) {
	case wildcard:
		return true
	case *regexp.Regexp:
		return w.MatchString(stringify(got))
	case Shape:
		obj, ok := got.(map[string]any)
		return ok && w.matches(obj)
	case []any:
		arr, ok := got.([]any)
		if !ok || len(arr) != len(w) {
			return false
		}
		for i := range w {
			if !valueMatches(w[i], arr[i]) {
				return false
			}
		}
		return true
	default:
		return equal(want, got)
	}
}

// equal is strict equality over JSON scalars. Numbers compare by value
// regardless of Go type, never against strings.
func equal(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		fa, errA := cast.ToFloat64E(a)
		fb, errB := cast.ToFloat64E(b)
		return errA == nil && errB == nil && fa == fb
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	}
	return false
}

// stringify renders a value the way a regular expression sees it.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case map[string]any, []any:
		raw, err := canonical.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return s
}

// normalizeShape validates s and converts nested maps to Shape. With
// config set, "/src/flags" strings become regular expressions.
func normalizeShape(s Shape, config bool) (Shape, error) {
	out := make(Shape, len(s))
	for k, v := range s {
		nv, err := normalizeValue(v, config)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeValue(v any, config bool) (any, error) {
	switch t := v.(type) {
	case wildcard, *regexp.Regexp:
		return t, nil
	case string:
		if t == "*" {
			return Any, nil
		}
		if config {
			re, ok, err := parseRegexp(t)
			if err != nil {
				return nil, err
			}
			if ok {
				return re, nil
			}
		}
		return t, nil
	case Shape:
		return normalizeShape(t, config)
	case map[string]any:
		return normalizeShape(Shape(t), config)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			ne, err := normalizeValue(e, config)
			if err != nil {
				return nil, err
			}
			out[i] = ne
		}
		return out, nil
	case nil, bool:
		return t, nil
	}
	if isNumber(v) {
		return v, nil
	}
	return nil, fmt.Errorf("%w: value of type %T", ErrParameterMismatch, v)
}

// plain converts s back into a JSON tree. Regular expressions render as
// "/src/" when slashed is set and as their bare source otherwise.
func (s Shape) plain(slashed bool) map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = plainValue(v, slashed)
	}
	return out
}

func plainValue(v any, slashed bool) any {
	switch t := v.(type) {
	case wildcard:
		return "*"
	case *regexp.Regexp:
		if slashed {
			return "/" + t.String() + "/"
		}
		return t.String()
	case Shape:
		return t.plain(slashed)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plainValue(e, slashed)
		}
		return out
	default:
		return v
	}
}

// keyTree renders s for its canonical key. Strings carry a "=" prefix,
// regular expressions a "~" prefix and Any is the bare "*", so no scalar
// renders like a regular expression or the wildcard.
func (s Shape) keyTree() map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = keyValue(v)
	}
	return out
}

func keyValue(v any) any {
	switch t := v.(type) {
	case wildcard:
		return "*"
	case *regexp.Regexp:
		return "~" + t.String()
	case string:
		return "=" + t
	case Shape:
		return t.keyTree()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = keyValue(e)
		}
		return out
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package match

import (
	"encoding/json"
	"fmt"
)

// Clone deep-copies a JSON tree. Scalars are returned as is.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// Normalize converts v into a JSON tree. Values that already are trees are
// returned unchanged; anything else (structs, typed maps and slices) goes
// through a JSON round trip.
func Normalize(v any) (any, error) {
	if isTree(v) {
		return v, nil
	}
	raw, err := canonical.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPayload, err)
	}
	return Decode(raw)
}

// Decode parses raw JSON into a tree.
func Decode(raw []byte) (any, error) {
	var out any
	if err := canonical.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPayload, err)
	}
	return out, nil
}

func isTree(v any) bool {
	switch t := v.(type) {
	case nil, string, bool, float64, json.Number:
		return true
	case map[string]any:
		for _, e := range t {
			if !isTree(e) {
				return false
			}
		}
		return true
	case []any:
		for _, e := range t {
			if !isTree(e) {
				return false
			}
		}
		return true
	}
	return isNumber(v)
}

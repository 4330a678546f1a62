// Package match finds the parts of a JSON message that a pattern selects.
//
// A Pattern is one of three kinds, decided when it is built:
//
//   - Literal: a bare key searched for anywhere in the message ("city")
//   - Path: a JSONPath expression ("$.user.name", "books[?(@.price < 10)]")
//   - Shape: an object whose keys must all be present on some object node,
//     with values that are scalars, Any, regular expressions or nested shapes
//
// Messages are JSON trees as produced by a generic decode: map[string]any,
// []any, string, float64, bool and nil. Normalize converts other Go values
// into that form.
//
// Shape matching walks the message depth-first in pre-order and collects
// every object node that satisfies the shape, at any depth. Object keys are
// visited in sorted order so results are deterministic.
//
//	p := match.MustObject(match.Shape{"role": match.Any})
//	res, _ := match.Find(msg, p)
//	first, ok := res.First()
//
// Path and literal patterns are evaluated with github.com/ohler55/ojg/jp.
// Expressions that do not start at the root ("$") search the whole message.
package match

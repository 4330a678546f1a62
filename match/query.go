package match

import "fmt"

// Find evaluates p against msg. Shape patterns require an object or array
// message; literal and path patterns accept anything.
func Find(msg any, p Pattern) (Result, error) {
	switch p.kind {
	case KindShape:
		switch msg.(type) {
		case map[string]any, []any:
		default:
			return Result{}, fmt.Errorf("%w: %T", ErrUnsupportedPayload, msg)
		}
		return NewResult(p.shape.collect(msg)), nil
	case KindLiteral, KindPath:
		return NewResult(Query(msg, p)), nil
	default:
		return Result{}, fmt.Errorf("%w: zero pattern", ErrParameterMismatch)
	}
}

// Query runs a literal or path pattern. A string message equal to the
// pattern text matches itself without evaluating the expression.
func Query(msg any, p Pattern) []any {
	if s, ok := msg.(string); ok && p.kind != KindShape && s == p.text {
		return []any{msg}
	}
	if p.expr == nil {
		return nil
	}
	return p.expr.Get(msg)
}

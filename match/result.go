package match

import "fmt"

// Result holds the values a pattern selected, in match order. An empty
// Result means the pattern did not match.
type Result struct {
	values []any
}

// NewResult wraps values. The slice is not copied.
func NewResult(values []any) Result {
	return Result{values: values}
}

func (r Result) First() (any, bool) { return r.Nth(0) }

func (r Result) Last() (any, bool) { return r.Nth(len(r.values) - 1) }

// Nth returns the value at index i.
func (r Result) Nth(i int) (any, bool) {
	if i < 0 || i >= len(r.values) {
		return nil, false
	}
	return r.values[i], true
}

// At is Nth with an error that names the offending index.
func (r Result) At(i int) (any, error) {
	v, ok := r.Nth(i)
	if !ok {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(r.values))
	}
	return v, nil
}

// All returns a copy of every value.
func (r Result) All() []any {
	out := make([]any, len(r.values))
	copy(out, r.values)
	return out
}

func (r Result) Count() int { return len(r.values) }

func (r Result) Empty() bool { return len(r.values) == 0 }

// Map returns a new Result with fn applied to every value.
func (r Result) Map(fn func(any) any) Result {
	out := make([]any, len(r.values))
	for i, v := range r.values {
		out[i] = fn(v)
	}
	return Result{values: out}
}

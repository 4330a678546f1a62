package match

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/ohler55/ojg/jp"
)

// Kind identifies which variant a Pattern holds.
type Kind uint8

const (
	KindLiteral Kind = iota + 1
	KindPath
	KindShape
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindPath:
		return "path"
	case KindShape:
		return "shape"
	default:
		return "invalid"
	}
}

// canonical sorts map keys so equal shapes serialize identically.
var canonical = jsoniter.ConfigCompatibleWithStandardLibrary

// Pattern is an immutable routing pattern. The zero value matches nothing.
type Pattern struct {
	kind  Kind
	text  string
	expr  jp.Expr
	shape Shape
	key   string
}

// Literal returns a pattern that selects the value of key wherever it
// appears in a message. A string message equal to key matches itself.
func Literal(key string) Pattern {
	return Pattern{
		kind: KindLiteral,
		text: key,
		expr: jp.R().D().C(key),
		key:  "literal:" + strings.ToLower(key),
	}
}

// Path compiles a JSONPath expression. Expressions that do not start with
// the root marker are searched for anywhere in the message.
func Path(expr string) (Pattern, error) {
	src := expr
	if !strings.HasPrefix(src, "$") {
		src = "$.." + strings.TrimPrefix(src, ".")
	}
	x, err := jp.ParseString(src)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile path %q: %w", expr, err)
	}
	return Pattern{
		kind: KindPath,
		text: expr,
		expr: x,
		key:  "path:" + strings.ToLower(expr),
	}, nil
}

// MustPath is like Path but panics on an invalid expression.
func MustPath(expr string) Pattern {
	p, err := Path(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Object returns a shape pattern. Values may be scalars, Any (or the
// string "*"), *regexp.Regexp, nested Shape or map[string]any values, and
// arrays compared element by element.
func Object(s Shape) (Pattern, error) {
	norm, err := normalizeShape(s, false)
	if err != nil {
		return Pattern{}, err
	}
	raw, err := canonical.Marshal(norm.plain(true))
	if err != nil {
		return Pattern{}, fmt.Errorf("%w: %v", ErrParameterMismatch, err)
	}
	key, err := canonical.Marshal(norm.keyTree())
	if err != nil {
		return Pattern{}, fmt.Errorf("%w: %v", ErrParameterMismatch, err)
	}
	return Pattern{
		kind:  KindShape,
		text:  string(raw),
		shape: norm,
		key:   "shape:" + strings.ToLower(string(key)),
	}, nil
}

// MustObject is like Object but panics on an unsupported value.
func MustObject(s Shape) Pattern {
	p, err := Object(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse builds a pattern from a decoded configuration value. Strings become
// path patterns when they look like JSONPath and literals otherwise. Objects
// become shapes, where "*" is a wildcard and "/src/flags" a regular
// expression.
func Parse(v any) (Pattern, error) {
	switch t := v.(type) {
	case Pattern:
		return t, nil
	case string:
		if t == "" {
			return Pattern{}, fmt.Errorf("%w: empty pattern", ErrParameterMismatch)
		}
		if isPathExpr(t) {
			return Path(t)
		}
		return Literal(t), nil
	case Shape:
		s, err := normalizeShape(t, true)
		if err != nil {
			return Pattern{}, err
		}
		return Object(s)
	case map[string]any:
		s, err := normalizeShape(Shape(t), true)
		if err != nil {
			return Pattern{}, err
		}
		return Object(s)
	default:
		return Pattern{}, fmt.Errorf("%w: pattern of type %T", ErrParameterMismatch, v)
	}
}

func isPathExpr(s string) bool {
	return strings.HasPrefix(s, "$") || strings.ContainsAny(s, ".[]*?@()")
}

// Kind reports the pattern variant.
func (p Pattern) Kind() Kind { return p.kind }

// IsZero reports whether p was never built.
func (p Pattern) IsZero() bool { return p.kind == 0 }

// Key is the case-insensitive canonical form used to detect duplicates.
func (p Pattern) Key() string { return p.key }

// Shape returns the shape of a KindShape pattern.
func (p Pattern) Shape() (Shape, bool) { return p.shape, p.kind == KindShape }

// String returns the pattern source, or canonical JSON for shapes.
func (p Pattern) String() string { return p.text }

// Message returns a message that the pattern itself describes. Schedules
// inject it when their timer fires.
func (p Pattern) Message() any {
	if p.kind == KindShape {
		return p.shape.plain(false)
	}
	return p.text
}

// parseRegexp turns a "/src/flags" string into a regular expression.
func parseRegexp(s string) (*regexp.Regexp, bool, error) {
	if len(s) < 2 || s[0] != '/' {
		return nil, false, nil
	}
	end := strings.LastIndexByte(s, '/')
	if end == 0 {
		return nil, false, nil
	}
	src, flags := s[1:end], s[end+1:]
	var mods strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			mods.WriteRune(f)
		case 'g', 'u', 'y':
		default:
			return nil, false, nil
		}
	}
	if mods.Len() > 0 {
		src = "(?" + mods.String() + ")" + src
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, true, fmt.Errorf("%w: regexp %q: %v", ErrParameterMismatch, s, err)
	}
	return re, true, nil
}

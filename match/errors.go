package match

import "errors"

var (
	// ErrUnsupportedPayload is returned when a shape is matched against a
	// message that is not an object or array.
	ErrUnsupportedPayload = errors.New("unsupported payload")

	// ErrParameterMismatch is returned when a pattern or pattern value has a
	// type that cannot be matched.
	ErrParameterMismatch = errors.New("parameter mismatch")

	// ErrIndexOutOfRange is returned by Result.At for an index outside the
	// result.
	ErrIndexOutOfRange = errors.New("index out of range")
)

package barrel

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"github.com/bjaus/barrel/match"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// validatable is the interface for value validation.
// Compatible with github.com/go-ozzo/ozzo-validation/v4.
type validatable interface {
	Validate() error
}

// Bind registers a listener that decodes the first matched value into T.
// If T (or *T) implements Validate() error, the value is validated before
// fn runs. Decode and validation failures are listener failures.
//
// This is a package-level function (not a method) due to Go generics
// limitations: methods cannot have type parameters independent of the
// receiver.
//
// Example:
//
//	type Order struct {
//	    ID    string  `json:"id"`
//	    Total float64 `json:"total"`
//	}
//
//	barrel.Bind(e, match.MustObject(match.Shape{"id": match.Any, "total": match.Any}),
//	    func(ctx context.Context, o Order, ev *barrel.Event) error {
//	        return billing.Charge(ctx, o.ID, o.Total)
//	    })
func Bind[T any](e *Engine, p match.Pattern, fn func(ctx context.Context, v T, ev *Event) error, opts ...ListenerOption) error {
	return e.On(p, HandlerFunc(func(ctx context.Context, ev *Event) error {
		v, err := decode[T](ev)
		if err != nil {
			return err
		}
		return fn(ctx, v, ev)
	}), opts...)
}

// BindFunc registers a listener that decodes the first matched value into
// T and responds with the R that fn returns.
//
//	barrel.BindFunc(e, match.Literal("lookup"), func(ctx context.Context, in Lookup) (*User, error) {
//	    return users.Get(ctx, in.ID)
//	})
func BindFunc[T, R any](e *Engine, p match.Pattern, fn func(ctx context.Context, v T) (R, error), opts ...ListenerOption) error {
	return e.On(p, HandlerFunc(func(ctx context.Context, ev *Event) error {
		v, err := decode[T](ev)
		if err != nil {
			return err
		}
		out, err := fn(ctx, v)
		if err != nil {
			return err
		}
		if !ev.CanRespond() {
			return nil
		}
		if err := ev.Respond(ctx, out); err != nil && err != ErrAlreadyResponded {
			return err
		}
		return nil
	}), opts...)
}

func decode[T any](ev *Event) (T, error) {
	var data T
	first, _ := ev.Value()
	raw, err := jsonAPI.Marshal(first)
	if err != nil {
		return data, &unmarshalError{err: err}
	}
	if err := jsonAPI.Unmarshal(raw, &data); err != nil {
		return data, &unmarshalError{err: err}
	}

	if v, ok := any(data).(validatable); ok {
		if err := v.Validate(); err != nil {
			return data, &validationError{err: err}
		}
	} else if v, ok := any(&data).(validatable); ok {
		if err := v.Validate(); err != nil {
			return data, &validationError{err: err}
		}
	}
	return data, nil
}

package barrel

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/bjaus/barrel/match"
)

// Handler reacts to a message that matched its pattern. Handlers run in
// their own goroutine; a returned error or panic is reported to the error
// handler and never affects other listeners.
type Handler interface {
	Handle(ctx context.Context, ev *Event) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, ev *Event) error

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, ev *Event) error {
	return f(ctx, ev)
}

// Event is what a listener receives. Message and Values are private
// copies; listeners may modify them freely.
type Event struct {
	// ID identifies the dispatch. Every listener of one message sees the same ID.
	ID string

	// Source is the name of the source that parsed the message, "" for
	// direct dispatch and "scheduler" for timer events.
	Source string

	Pattern match.Pattern
	Message any
	Values  match.Result

	reply *onceResponder
}

// Value returns the first matched value.
func (e *Event) Value() (any, bool) { return e.Values.First() }

// CanRespond reports whether the message came with a responder that has
// not been used yet.
func (e *Event) CanRespond() bool { return e.reply != nil && !e.reply.used.Load() }

// Respond marshals v and sends it to the originator. Only the first
// response of a dispatch is delivered, across all of its listeners.
func (e *Event) Respond(ctx context.Context, v any) error {
	if e.reply == nil {
		return ErrNoResponder
	}
	raw, err := marshalResult(v)
	if err != nil {
		return err
	}
	return e.reply.reply(ctx, raw)
}

// Fail sends err to the originator as a failure.
func (e *Event) Fail(ctx context.Context, err error) error {
	if e.reply == nil {
		return ErrNoResponder
	}
	return e.reply.fail(ctx, err)
}

// Responder sends a result back to whoever produced a message.
// For fire-and-forget transports there is no responder.
type Responder interface {
	// Reply sends a successful response with the given JSON payload.
	Reply(ctx context.Context, result json.RawMessage) error

	// Fail sends a failure response. err is ErrNoListener, ErrHandlerFailed
	// or an error passed to Event.Fail.
	Fail(ctx context.Context, err error) error
}

// ResponderFuncs builds a Responder from two functions.
type ResponderFuncs struct {
	ReplyFunc func(ctx context.Context, result json.RawMessage) error
	FailFunc  func(ctx context.Context, err error) error
}

func (r ResponderFuncs) Reply(ctx context.Context, result json.RawMessage) error {
	if r.ReplyFunc == nil {
		return nil
	}
	return r.ReplyFunc(ctx, result)
}

func (r ResponderFuncs) Fail(ctx context.Context, err error) error {
	if r.FailFunc == nil {
		return nil
	}
	return r.FailFunc(ctx, err)
}

var emptyObject = json.RawMessage(`{}`)

// onceResponder lets exactly one Reply or Fail through.
type onceResponder struct {
	r    Responder
	used atomic.Bool
}

func newOnceResponder(r Responder) *onceResponder {
	if r == nil {
		return nil
	}
	return &onceResponder{r: r}
}

func (o *onceResponder) reply(ctx context.Context, raw json.RawMessage) error {
	if !o.used.CompareAndSwap(false, true) {
		return ErrAlreadyResponded
	}
	return o.r.Reply(ctx, raw)
}

func (o *onceResponder) fail(ctx context.Context, err error) error {
	if !o.used.CompareAndSwap(false, true) {
		return ErrAlreadyResponded
	}
	return o.r.Fail(ctx, err)
}

func marshalResult(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		return t, nil
	}
	return jsonAPI.Marshal(v)
}

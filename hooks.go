package barrel

import (
	"context"
	"time"
)

// OnParseFunc is called after a source successfully parses raw bytes.
// The returned context is used for the rest of the dispatch.
type OnParseFunc func(ctx context.Context, source string) context.Context

// OnDispatchFunc is called just before a listener runs.
type OnDispatchFunc func(ctx context.Context, ev *Event)

// OnSuccessFunc is called after a listener returns nil.
type OnSuccessFunc func(ctx context.Context, ev *Event, duration time.Duration)

// OnFailureFunc is called after a listener fails or panics.
type OnFailureFunc func(ctx context.Context, ev *Event, err error, duration time.Duration)

// OnNoSourceFunc is called when no source accepts raw bytes.
// Return nil to skip the message, return an error to fail.
type OnNoSourceFunc func(ctx context.Context, raw []byte) error

// OnParseErrorFunc is called when a matched source cannot parse raw bytes.
// Return nil to skip the message, return an error to fail.
type OnParseErrorFunc func(ctx context.Context, source string, err error) error

// OnNoListenerFunc is called when a message matched no listener.
type OnNoListenerFunc func(ctx context.Context, source string, msg any)

type hooks struct {
	onParse      []OnParseFunc
	onDispatch   []OnDispatchFunc
	onSuccess    []OnSuccessFunc
	onFailure    []OnFailureFunc
	onNoSource   []OnNoSourceFunc
	onParseError []OnParseErrorFunc
	onNoListener []OnNoListenerFunc
}

// WithOnParse adds a hook called after a source parses a message.
// Multiple hooks are called in order, with context chaining through each.
func WithOnParse(fn OnParseFunc) Option {
	return func(e *Engine) {
		e.hooks.onParse = append(e.hooks.onParse, fn)
	}
}

// WithOnDispatch adds a hook called just before each listener runs.
//
// Example:
//
//	barrel.WithOnDispatch(func(ctx context.Context, ev *barrel.Event) {
//	    log.Debug("dispatching", logx.String("pattern", ev.Pattern.String()))
//	})
func WithOnDispatch(fn OnDispatchFunc) Option {
	return func(e *Engine) {
		e.hooks.onDispatch = append(e.hooks.onDispatch, fn)
	}
}

// WithOnSuccess adds a hook called after a listener succeeds.
func WithOnSuccess(fn OnSuccessFunc) Option {
	return func(e *Engine) {
		e.hooks.onSuccess = append(e.hooks.onSuccess, fn)
	}
}

// WithOnFailure adds a hook called after a listener fails. It runs
// alongside the error handler, not instead of it.
func WithOnFailure(fn OnFailureFunc) Option {
	return func(e *Engine) {
		e.hooks.onFailure = append(e.hooks.onFailure, fn)
	}
}

// WithOnNoSource adds a hook called when no source accepts a message.
// Multiple hooks are called in order; first error wins.
func WithOnNoSource(fn OnNoSourceFunc) Option {
	return func(e *Engine) {
		e.hooks.onNoSource = append(e.hooks.onNoSource, fn)
	}
}

// WithOnParseError adds a hook called when a source fails to parse.
// Multiple hooks are called in order; first error wins.
func WithOnParseError(fn OnParseErrorFunc) Option {
	return func(e *Engine) {
		e.hooks.onParseError = append(e.hooks.onParseError, fn)
	}
}

// WithOnNoListener adds a hook called when a message matched nothing.
func WithOnNoListener(fn OnNoListenerFunc) Option {
	return func(e *Engine) {
		e.hooks.onNoListener = append(e.hooks.onNoListener, fn)
	}
}

// OnParseHook is an optional interface that sources can implement to add
// source-specific context enrichment. Called after global OnParse hooks.
type OnParseHook interface {
	OnParse(ctx context.Context) context.Context
}

// OnSuccessHook is an optional interface that sources can implement to
// observe successful listeners. Called after global OnSuccess hooks.
type OnSuccessHook interface {
	OnSuccess(ctx context.Context, ev *Event, duration time.Duration)
}

// OnFailureHook is an optional interface that sources can implement to
// observe failed listeners. Called after global OnFailure hooks.
type OnFailureHook interface {
	OnFailure(ctx context.Context, ev *Event, err error, duration time.Duration)
}

func (h *hooks) parse(ctx context.Context, src Source) context.Context {
	for _, fn := range h.onParse {
		ctx = fn(ctx, src.Name())
	}
	if sh, ok := src.(OnParseHook); ok {
		ctx = sh.OnParse(ctx)
	}
	return ctx
}

func (h *hooks) dispatch(ctx context.Context, ev *Event) {
	for _, fn := range h.onDispatch {
		fn(ctx, ev)
	}
}

func (h *hooks) success(ctx context.Context, src Source, ev *Event, d time.Duration) {
	for _, fn := range h.onSuccess {
		fn(ctx, ev, d)
	}
	if sh, ok := src.(OnSuccessHook); ok {
		sh.OnSuccess(ctx, ev, d)
	}
}

func (h *hooks) failure(ctx context.Context, src Source, ev *Event, err error, d time.Duration) {
	for _, fn := range h.onFailure {
		fn(ctx, ev, err, d)
	}
	if sh, ok := src.(OnFailureHook); ok {
		sh.OnFailure(ctx, ev, err, d)
	}
}

func (h *hooks) noListener(ctx context.Context, source string, msg any) {
	for _, fn := range h.onNoListener {
		fn(ctx, source, msg)
	}
}

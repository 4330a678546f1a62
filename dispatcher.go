package barrel

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/bjaus/barrel/logx"
	"github.com/bjaus/barrel/match"
)

// ErrorFunc receives listener failures and failed service calls.
type ErrorFunc func(ctx context.Context, err error)

// Dispatcher runs the listeners a registry selects for a message.
// Each listener runs in its own goroutine; Dispatch never waits for them.
type Dispatcher struct {
	registry *Registry
	hooks    *hooks
	log      logx.Logger

	errMu    sync.Mutex
	onError  ErrorFunc
	pending  []report
	draining bool

	inflight sync.WaitGroup
}

// NewDispatcher returns a dispatcher over reg.
func NewDispatcher(reg *Registry, log logx.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		hooks:    &hooks{},
		log:      log.With(logx.String("component", "dispatcher")),
	}
}

// OnError sets the process-wide error handler, replacing any previous one.
func (d *Dispatcher) OnError(fn ErrorFunc) {
	d.errMu.Lock()
	d.onError = fn
	d.errMu.Unlock()
}

type report struct {
	ctx context.Context
	err error
}

// Report sends err to the error handler. Handler calls never overlap and
// run in arrival order. A report made while the handler is running, from
// the handler itself or from another goroutine, is queued and handled
// before the running Report returns; Wait covers queued reports.
func (d *Dispatcher) Report(ctx context.Context, err error) {
	d.inflight.Add(1)
	d.errMu.Lock()
	d.pending = append(d.pending, report{ctx: ctx, err: err})
	if d.draining {
		d.errMu.Unlock()
		return
	}
	d.draining = true
	for len(d.pending) > 0 {
		next := d.pending[0]
		d.pending = d.pending[1:]
		fn := d.onError
		d.errMu.Unlock()
		d.handle(fn, next)
		d.errMu.Lock()
	}
	d.pending = nil
	d.draining = false
	d.errMu.Unlock()
}

func (d *Dispatcher) handle(fn ErrorFunc, r report) {
	defer d.inflight.Done()
	defer func() {
		if v := recover(); v != nil {
			d.log.Error("error handler panicked", logx.Any("panic", v), logx.Err(r.err))
		}
	}()
	if fn == nil {
		d.log.Error("unhandled error", logx.Err(r.err))
		return
	}
	fn(r.ctx, r.err)
}

// Dispatch routes msg to every matching listener. When r is not nil it
// receives exactly one response: the first listener response, a failure,
// ErrNoListener when nothing matched, or an empty object once every
// listener returned without responding.
func (d *Dispatcher) Dispatch(ctx context.Context, msg any, r Responder) *Ticket {
	return d.dispatch(ctx, nil, msg, r)
}

// Inject dispatches a synthetic message without a responder.
func (d *Dispatcher) Inject(ctx context.Context, msg any) *Ticket {
	return d.dispatch(ctx, schedulerSource, msg, nil)
}

// Wait blocks until every listener started so far has returned and every
// reported error has been handled, or ctx is done. Calling it from a
// listener or the error handler never returns before ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, src Source, msg any, r Responder) *Ticket {
	t := newTicket()
	guard := newOnceResponder(r)
	source := sourceName(src)

	tree, err := match.Normalize(msg)
	if err != nil {
		d.log.Warn("message rejected", logx.String("dispatch", t.ID), logx.Err(err))
		d.Report(ctx, err)
		t.finish(err)
		if guard != nil {
			_ = guard.fail(ctx, ErrHandlerFailed)
		}
		return t
	}

	matches := d.registry.Resolve(tree)
	if len(matches) == 0 {
		d.log.Debug("no matching listener", logx.String("dispatch", t.ID), logx.String("source", source))
		d.hooks.noListener(ctx, source, tree)
		if guard != nil {
			if err := guard.fail(ctx, ErrNoListener); err != nil {
				d.log.Warn("respond failed", logx.String("dispatch", t.ID), logx.Err(err))
			}
		}
		t.finish(nil)
		return t
	}

	t.matched = len(matches)
	hctx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(len(matches))
	d.inflight.Add(len(matches))
	for _, m := range matches {
		ev := &Event{
			ID:      t.ID,
			Source:  source,
			Pattern: m.Pattern,
			Message: match.Clone(tree),
			Values:  m.Values.Map(match.Clone),
			reply:   guard,
		}
		go func(h Handler) {
			defer d.inflight.Done()
			defer wg.Done()
			if err := d.invoke(hctx, src, h, ev); err != nil {
				t.record(err)
			}
		}(m.Handler)
	}

	go func() {
		wg.Wait()
		if guard != nil && !guard.used.Load() {
			if err := guard.reply(hctx, emptyObject); err != nil && err != ErrAlreadyResponded {
				d.log.Warn("acknowledge failed", logx.String("dispatch", t.ID), logx.Err(err))
			}
		}
		t.finish(nil)
	}()
	return t
}

func (d *Dispatcher) invoke(ctx context.Context, src Source, h Handler, ev *Event) error {
	d.hooks.dispatch(ctx, ev)
	start := time.Now()
	err := call(ctx, h, ev)
	dur := time.Since(start)
	if err == nil {
		d.hooks.success(ctx, src, ev, dur)
		return nil
	}

	d.hooks.failure(ctx, src, ev, err, dur)
	d.log.Warn("listener failed",
		logx.String("dispatch", ev.ID),
		logx.String("pattern", ev.Pattern.String()),
		logx.Duration("took", dur),
		logx.Err(err),
	)
	d.Report(ctx, err)
	if ev.reply != nil {
		if ferr := ev.reply.fail(ctx, ErrHandlerFailed); ferr != nil && ferr != ErrAlreadyResponded {
			d.log.Warn("respond failed", logx.String("dispatch", ev.ID), logx.Err(ferr))
		}
	}
	return err
}

func call(ctx context.Context, h Handler, ev *Event) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return h.Handle(ctx, ev)
}

// Ticket tracks one dispatch.
type Ticket struct {
	ID string

	matched int
	done    chan struct{}

	mu   sync.Mutex
	errs *multierror.Error
}

func newTicket() *Ticket {
	return &Ticket{ID: uuid.NewString(), done: make(chan struct{})}
}

// Matched is the number of listeners the message was dispatched to.
func (t *Ticket) Matched() int { return t.matched }

// Done is closed once every listener has returned.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until every listener has returned or ctx is done.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns listener failures. It is only complete after Done.
func (t *Ticket) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errs.ErrorOrNil()
}

func (t *Ticket) record(err error) {
	t.mu.Lock()
	t.errs = multierror.Append(t.errs, err)
	t.mu.Unlock()
}

func (t *Ticket) finish(err error) {
	if err != nil {
		t.record(err)
	}
	close(t.done)
}

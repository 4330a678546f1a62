package barrel

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bjaus/barrel/logx"
	"github.com/bjaus/barrel/match"
)

// Engine routes messages to listeners, calls services and fires
// schedules. Each Engine is independent; there is no package state.
//
// Usage:
//  1. Create an engine with New
//  2. Register listeners with On, OnFunc or Bind
//  3. Register services with Register and schedules with Schedule
//  4. Feed messages with Dispatch or Process, and Start the scheduler
//
// Sources and groups must be added before the first Process call; every
// other method is safe for concurrent use.
type Engine struct {
	log        logx.Logger
	hooks      hooks
	httpClient *http.Client
	loc        *time.Location
	mode       Mode
	onError    ErrorFunc

	registry   *Registry
	dispatcher *Dispatcher
	caller     *Caller
	scheduler  *Scheduler

	defaultInspector Inspector
	defaultSources   []Source
	groups           []group

	// Adaptive ordering: try last successful source first
	lastMatch atomic.Value // stores string
}

// group holds sources that share an inspector.
type group struct {
	inspector Inspector
	sources   []Source
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logx.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithInspector sets the inspector for sources added with AddSource.
func WithInspector(i Inspector) Option {
	return func(e *Engine) { e.defaultInspector = i }
}

// WithHTTPClient sets the client used for service requests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.httpClient = c }
}

// WithLocation sets the time zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// WithSchedulerMode selects what drives the scheduler.
func WithSchedulerMode(m Mode) Option {
	return func(e *Engine) { e.mode = m }
}

// WithErrorHandler sets the initial error handler.
func WithErrorHandler(fn ErrorFunc) Option {
	return func(e *Engine) { e.onError = fn }
}

// New creates an Engine with the given options.
//
// Example:
//
//	e := barrel.New(
//	    barrel.WithLogger(log),
//	    barrel.WithErrorHandler(func(ctx context.Context, err error) {
//	        log.Error("barrel", logx.Err(err))
//	    }),
//	)
func New(opts ...Option) *Engine {
	e := &Engine{
		log:              logx.Nop(),
		defaultInspector: JSONInspector(),
		mode:             ModeSystem,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.registry = NewRegistry(e.log)
	e.dispatcher = NewDispatcher(e.registry, e.log)
	e.dispatcher.hooks = &e.hooks
	e.dispatcher.OnError(e.onError)
	e.caller = NewCaller(e.registry, e.httpClient, e.dispatcher.Report, e.log)
	e.scheduler = NewScheduler(e.dispatcher, e.mode, e.loc, e.log)
	return e
}

// Logger returns the engine logger.
func (e *Engine) Logger() logx.Logger { return e.log }

// Registry exposes the listener and service registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Scheduler exposes the scheduler.
func (e *Engine) Scheduler() *Scheduler { return e.scheduler }

// On registers h for messages matching p. Registering a pattern that is
// already registered (compared case-insensitively) is a logged no-op.
func (e *Engine) On(p match.Pattern, h Handler, opts ...ListenerOption) error {
	_, err := e.registry.Add(p, h, opts...)
	return err
}

// OnFunc is On for a plain function.
func (e *Engine) OnFunc(p match.Pattern, fn func(ctx context.Context, ev *Event) error, opts ...ListenerOption) error {
	return e.On(p, HandlerFunc(fn), opts...)
}

// OnError sets the process-wide handler for listener failures and failed
// service calls. Only one handler exists; the last call wins.
func (e *Engine) OnError(fn ErrorFunc) {
	e.dispatcher.OnError(fn)
}

// Register validates and stores a service.
func (e *Engine) Register(svc Service) error {
	return e.registry.RegisterService(svc)
}

// RegisterAll registers each service; failures are returned together and
// do not prevent the others from being stored.
func (e *Engine) RegisterAll(svcs ...Service) error {
	return e.registry.RegisterServices(svcs...)
}

// Call invokes "service.name": the local action if there is one, the
// outbound request otherwise. Failures also go to the error handler.
func (e *Engine) Call(ctx context.Context, target string, args ...any) (any, error) {
	return e.caller.Call(ctx, target, args...)
}

// Act invokes a local action.
func (e *Engine) Act(ctx context.Context, target string, args ...any) (any, error) {
	return e.caller.Act(ctx, target, args...)
}

// Request performs an outbound service request.
func (e *Engine) Request(ctx context.Context, target string, args ...any) (any, error) {
	return e.caller.Request(ctx, target, args...)
}

// Schedule injects p's message whenever expr is due.
func (e *Engine) Schedule(p match.Pattern, expr string) error {
	_, err := e.scheduler.Add(p, expr)
	return err
}

// ScheduleFields is Schedule with the expression given field by field.
func (e *Engine) ScheduleFields(p match.Pattern, f CronFields) error {
	_, err := e.scheduler.AddFields(p, f)
	return err
}

// Start starts the scheduler.
func (e *Engine) Start(ctx context.Context) error {
	return e.scheduler.Start(ctx)
}

// Stop stops the scheduler and waits for running listeners until ctx is done.
func (e *Engine) Stop(ctx context.Context) error {
	if err := e.scheduler.Stop(ctx); err != nil {
		return err
	}
	return e.dispatcher.Wait(ctx)
}

// Tick fires schedules due at now. Used in ModePolled.
func (e *Engine) Tick(now time.Time) int {
	return e.scheduler.Tick(now)
}

// Dispatch routes msg to every matching listener. r may be nil.
func (e *Engine) Dispatch(ctx context.Context, msg any, r Responder) *Ticket {
	return e.dispatcher.Dispatch(ctx, msg, r)
}

// AddSource registers a source to the default inspector group. Sources are
// matched using their Discriminator, then parsed in registration order.
func (e *Engine) AddSource(s Source) {
	e.defaultSources = append(e.defaultSources, s)
}

// AddGroup registers sources with a custom inspector. Groups are checked
// after the default group, in registration order.
func (e *Engine) AddGroup(inspector Inspector, sources ...Source) {
	e.groups = append(e.groups, group{inspector: inspector, sources: sources})
}

// Process parses raw bytes from a transport and dispatches the result.
// With no sources registered every valid JSON document is routed as is.
//
// The flow:
//  1. Use discriminators to find a matching source
//  2. Parse the message with the matched source
//  3. Run OnParse hooks
//  4. Dispatch to every matching listener
//
// A responder supplied by the source is used when r is nil.
func (e *Engine) Process(ctx context.Context, raw []byte, r Responder) (*Ticket, error) {
	var source Source
	if len(e.defaultSources) == 0 && len(e.groups) == 0 {
		source = RawSource()
	} else {
		source = e.match(raw)
	}
	if source == nil {
		return nil, e.handleNoSource(ctx, raw, r)
	}

	in, err := source.Parse(raw)
	if err != nil {
		return nil, e.handleParseError(ctx, source, err, r)
	}

	ctx = e.hooks.parse(ctx, source)
	if r == nil {
		r = in.Responder
	}
	return e.dispatcher.dispatch(ctx, source, in.Message, r), nil
}

// viewCache caches parsed views per inspector to avoid re-parsing the same
// raw bytes multiple times during source matching.
type viewCache struct {
	raw   []byte
	views map[Inspector]viewResult
}

type viewResult struct {
	view View
	ok   bool
}

func newViewCache(raw []byte) *viewCache {
	return &viewCache{raw: raw, views: make(map[Inspector]viewResult)}
}

func (c *viewCache) get(insp Inspector) (View, bool) {
	if result, ok := c.views[insp]; ok {
		return result.view, result.ok
	}
	view, err := insp.Inspect(c.raw)
	if err != nil {
		c.views[insp] = viewResult{ok: false}
		return nil, false
	}
	c.views[insp] = viewResult{view: view, ok: true}
	return view, true
}

// match finds a source whose discriminator accepts raw, trying the last
// successful source first.
func (e *Engine) match(raw []byte) Source {
	cache := newViewCache(raw)

	if last, ok := e.lastMatch.Load().(string); ok && last != "" {
		if src := e.find(cache, func(s Source) bool { return s.Name() == last }); src != nil {
			return src
		}
	}

	src := e.find(cache, func(Source) bool { return true })
	if src != nil {
		e.lastMatch.Store(src.Name())
	}
	return src
}

// find walks the default group, then custom groups, for the first source
// accepted by want whose discriminator matches.
func (e *Engine) find(cache *viewCache, want func(Source) bool) Source {
	if len(e.defaultSources) > 0 {
		if view, ok := cache.get(e.defaultInspector); ok {
			for _, src := range e.defaultSources {
				if want(src) && src.Discriminator().Match(view) {
					return src
				}
			}
		}
	}
	for _, g := range e.groups {
		view, ok := cache.get(g.inspector)
		if !ok {
			continue
		}
		for _, src := range g.sources {
			if want(src) && src.Discriminator().Match(view) {
				return src
			}
		}
	}
	return nil
}

func (e *Engine) handleNoSource(ctx context.Context, raw []byte, r Responder) error {
	if r != nil {
		_ = r.Fail(ctx, ErrNoListener)
	}
	for _, fn := range e.hooks.onNoSource {
		if err := fn(ctx, raw); err != nil {
			return err
		}
	}
	if len(e.hooks.onNoSource) > 0 {
		return nil
	}
	e.log.Debug("no source matched", logx.Int("bytes", len(raw)))
	return ErrNoSource
}

func (e *Engine) handleParseError(ctx context.Context, source Source, parseErr error, r Responder) error {
	name := source.Name()
	if r != nil {
		_ = r.Fail(ctx, ErrHandlerFailed)
	}
	for _, fn := range e.hooks.onParseError {
		if err := fn(ctx, name, parseErr); err != nil {
			return err
		}
	}
	if len(e.hooks.onParseError) > 0 {
		return nil
	}
	return fmt.Errorf("parse failed for source %s: %w", name, parseErr)
}

package barrel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cast"

	"github.com/bjaus/barrel/logx"
	"github.com/bjaus/barrel/match"
)

// ListenerOption configures a listener at registration.
type ListenerOption func(*listenerConfig)

type listenerConfig struct {
	trim   bool
	where  string
	filter func(msg any, values match.Result) bool
}

// Trim controls whether shape matches are reduced to the keys the shape
// declares. It is on by default.
func Trim(on bool) ListenerOption {
	return func(c *listenerConfig) { c.trim = on }
}

// Where adds an expr-lang condition evaluated after a match. The
// expression sees message, value (the first matched value) and values.
//
//	barrel.Where(`value.price < 10 && message.store == "main"`)
func Where(expression string) ListenerOption {
	return func(c *listenerConfig) { c.where = expression }
}

// Filter adds a predicate evaluated after a match.
func Filter(fn func(msg any, values match.Result) bool) ListenerOption {
	return func(c *listenerConfig) { c.filter = fn }
}

type listener struct {
	pattern match.Pattern
	handler Handler
	trim    bool
	where   *vm.Program
	filter  func(any, match.Result) bool
}

// Match is a listener selected for a message.
type Match struct {
	Pattern match.Pattern
	Handler Handler
	Values  match.Result
}

// Registry holds listeners and services. Listeners are kept in
// registration order with at most one per pattern key.
type Registry struct {
	log logx.Logger

	mu        sync.RWMutex
	listeners []*listener
	byKey     map[string]*listener
	services  map[string]Service
}

// NewRegistry returns an empty registry.
func NewRegistry(log logx.Logger) *Registry {
	return &Registry{
		log:      log.With(logx.String("component", "registry")),
		byKey:    make(map[string]*listener),
		services: make(map[string]Service),
	}
}

// Add registers h for p. A pattern whose key is already registered is
// dropped and Add reports false; that is not an error.
func (r *Registry) Add(p match.Pattern, h Handler, opts ...ListenerOption) (bool, error) {
	if p.IsZero() {
		return false, fmt.Errorf("%w: zero pattern", match.ErrParameterMismatch)
	}
	if h == nil {
		return false, errors.New("nil handler")
	}
	cfg := listenerConfig{trim: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	l := &listener{pattern: p, handler: h, trim: cfg.trim, filter: cfg.filter}
	if cfg.where != "" {
		prog, err := compileWhere(cfg.where)
		if err != nil {
			return false, fmt.Errorf("listener %s: %w", p, err)
		}
		l.where = prog
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byKey[p.Key()]; dup {
		r.log.Debug("duplicate listener dropped", logx.String("pattern", p.String()))
		return false, nil
	}
	r.byKey[p.Key()] = l
	r.listeners = append(r.listeners, l)
	r.log.Debug("listener added",
		logx.String("pattern", p.String()),
		logx.String("kind", p.Kind().String()),
	)
	return true, nil
}

// Len returns the number of listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// Patterns returns registered patterns in registration order.
func (r *Registry) Patterns() []match.Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]match.Pattern, len(r.listeners))
	for i, l := range r.listeners {
		out[i] = l.pattern
	}
	return out
}

// Resolve returns every listener whose pattern matches msg, in
// registration order. msg must be a JSON tree (see match.Normalize).
func (r *Registry) Resolve(msg any) []Match {
	r.mu.RLock()
	listeners := make([]*listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	var out []Match
	for _, l := range listeners {
		res, err := match.Find(msg, l.pattern)
		if err != nil {
			r.log.Trace("pattern skipped", logx.String("pattern", l.pattern.String()), logx.Err(err))
			continue
		}
		if res.Empty() {
			continue
		}
		if shape, ok := l.pattern.Shape(); ok && l.trim {
			res = res.Map(func(v any) any { return match.Trim(v, shape) })
		}
		if !l.accepts(msg, res) {
			continue
		}
		out = append(out, Match{Pattern: l.pattern, Handler: l.handler, Values: res})
	}
	return out
}

func (l *listener) accepts(msg any, res match.Result) bool {
	if l.filter != nil && !l.filter(msg, res) {
		return false
	}
	if l.where == nil {
		return true
	}
	first, _ := res.First()
	out, err := expr.Run(l.where, map[string]any{
		"message": msg,
		"value":   first,
		"values":  res.All(),
	})
	if err != nil {
		return false
	}
	ok, err := cast.ToBoolE(out)
	return err == nil && ok
}

func compileWhere(src string) (*vm.Program, error) {
	prog, err := expr.Compile(src, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile where %q: %w", src, err)
	}
	return prog, nil
}

// RegisterService validates svc and stores it. Nothing is stored when
// validation fails. A service with the same name is replaced.
func (r *Registry) RegisterService(svc Service) error {
	if err := svc.Validate(); err != nil {
		r.log.Error("service rejected", logx.String("service", svc.Name), logx.Err(err))
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[svc.Name]; ok {
		r.log.Warn("service replaced", logx.String("service", svc.Name))
	}
	r.services[svc.Name] = svc.clone()
	r.log.Debug("service registered",
		logx.String("service", svc.Name),
		logx.Int("actions", len(svc.Actions)),
		logx.Int("requests", len(svc.Requests)),
	)
	return nil
}

// RegisterServices registers each service independently. Valid services
// are stored even when others fail; the failures are returned together.
func (r *Registry) RegisterServices(svcs ...Service) error {
	var errs *multierror.Error
	for _, svc := range svcs {
		if err := r.RegisterService(svc); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("service %q: %w", svc.Name, err))
		}
	}
	return errs.ErrorOrNil()
}

// Service returns the service registered under name.
func (r *Registry) Service(name string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

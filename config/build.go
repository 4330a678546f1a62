package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/bjaus/barrel"
	"github.com/bjaus/barrel/logx"
	"github.com/bjaus/barrel/match"
	"github.com/bjaus/barrel/tmpl"
)

// EngineOptions returns the engine options the scheduler section implies.
func (c *Config) EngineOptions() ([]barrel.Option, error) {
	mode, err := c.Scheduler.SchedulerMode()
	if err != nil {
		return nil, err
	}
	loc, err := c.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	return []barrel.Option{barrel.WithSchedulerMode(mode), barrel.WithLocation(loc)}, nil
}

// Validate checks everything Apply would reject, without an engine.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if _, err := c.EngineOptions(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if _, err := c.HTTP.Timeout(); err != nil {
		errs = multierror.Append(errs, err)
	}
	for i, s := range c.Services {
		svc, err := s.Service()
		if err == nil {
			err = svc.Validate()
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("services[%d]: %w", i, err))
		}
	}
	for i, r := range c.Routes {
		if _, err := r.pattern(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("routes[%d]: %w", i, err))
		}
		if _, _, ok := strings.Cut(r.Call, "."); !ok {
			errs = multierror.Append(errs, fmt.Errorf("routes[%d]: call %q is not service.name", i, r.Call))
		}
	}
	for i, s := range c.Schedules {
		if _, err := match.Parse(s.Pattern); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("schedules[%d]: %w", i, err))
		}
		if _, err := barrel.ParseCron(s.Expression()); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("schedules[%d]: %w", i, err))
		}
	}
	return errs.ErrorOrNil()
}

// Apply registers the configured services, routes and schedules on e.
// Every entry is attempted; the failures are returned together.
func (c *Config) Apply(e *barrel.Engine) error {
	var errs *multierror.Error
	for i, s := range c.Services {
		svc, err := s.Service()
		if err == nil {
			err = e.Register(svc)
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("services[%d]: %w", i, err))
		}
	}
	for i, r := range c.Routes {
		if err := r.bind(e); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("routes[%d]: %w", i, err))
		}
	}
	for i, s := range c.Schedules {
		p, err := match.Parse(s.Pattern)
		if err == nil {
			err = e.Schedule(p, s.Expression())
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("schedules[%d]: %w", i, err))
		}
	}
	e.Logger().Info("config applied",
		logx.Int("services", len(c.Services)),
		logx.Int("routes", len(c.Routes)),
		logx.Int("schedules", len(c.Schedules)),
	)
	return errs.ErrorOrNil()
}

// Service builds the barrel service. Request templates are compiled
// against the first call argument on every call.
func (s ServiceConfig) Service() (barrel.Service, error) {
	svc := barrel.Service{
		Name:       s.Name,
		Headers:    s.Headers,
		Bearer:     s.Bearer,
		Basic:      s.Basic,
		URLEncoded: s.URLEncoded,
		RateLimit:  s.RateLimit,
		Burst:      s.Burst,
		Requests:   make(map[string]barrel.RequestFunc, len(s.Requests)),
	}
	for name, rc := range s.Requests {
		if strings.TrimSpace(rc.URL) == "" {
			return barrel.Service{}, fmt.Errorf("service %s: request %s: url is required", s.Name, name)
		}
		svc.Requests[name] = rc.requestFunc()
	}
	return svc, nil
}

func (rc RequestConfig) requestFunc() barrel.RequestFunc {
	return func(args ...any) (barrel.RequestSpec, error) {
		vars := map[string]any{}
		if len(args) > 0 && args[0] != nil {
			tree, err := match.Normalize(args[0])
			if err != nil {
				return barrel.RequestSpec{}, err
			}
			if m, ok := tree.(map[string]any); ok {
				vars = m
			} else {
				vars["value"] = tree
			}
		}

		spec := barrel.RequestSpec{
			Method:     rc.Method,
			URL:        tmpl.String(rc.URL, vars),
			Bearer:     tmpl.String(rc.Bearer, vars),
			Basic:      rc.Basic,
			URLEncoded: rc.URLEncoded,
		}
		if rc.Headers != nil {
			h, err := tmpl.Compile(rc.Headers, vars)
			if err != nil {
				return barrel.RequestSpec{}, err
			}
			spec.Headers = h.(map[string]string)
		}
		if rc.Query != nil {
			q, err := tmpl.Compile(map[string]any(rc.Query), vars)
			if err != nil {
				return barrel.RequestSpec{}, err
			}
			spec.Query = q.(map[string]any)
		}
		if rc.Data != nil {
			d, err := tmpl.Compile(rc.Data, vars)
			if err != nil {
				return barrel.RequestSpec{}, err
			}
			spec.Data = d
		}
		return spec, nil
	}
}

func (r RouteConfig) pattern() (match.Pattern, error) {
	return match.Parse(r.Pattern)
}

func (r RouteConfig) options() []barrel.ListenerOption {
	var opts []barrel.ListenerOption
	if r.Where != "" {
		opts = append(opts, barrel.Where(r.Where))
	}
	if r.Trim != nil {
		opts = append(opts, barrel.Trim(*r.Trim))
	}
	return opts
}

// bind registers a listener that forwards the first matched value to the
// configured call. Call failures already reach the error handler, so the
// listener only fails the responder.
func (r RouteConfig) bind(e *barrel.Engine) error {
	p, err := r.pattern()
	if err != nil {
		return err
	}
	target := r.Call
	respond := r.Respond
	return e.OnFunc(p, func(ctx context.Context, ev *barrel.Event) error {
		value, _ := ev.Value()
		out, err := e.Call(ctx, target, value)
		if err != nil {
			if ev.CanRespond() {
				_ = ev.Fail(ctx, barrel.ErrHandlerFailed)
			}
			return nil
		}
		if respond && ev.CanRespond() {
			if err := ev.Respond(ctx, out); err != nil && err != barrel.ErrAlreadyResponded {
				return err
			}
		}
		e.Logger().Debug("route called",
			logx.String("pattern", p.String()),
			logx.String("call", target),
		)
		return nil
	}, r.options()...)
}

package barrel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bjaus/barrel/logx"
)

// maxResponseBody caps how much of a response body is read.
const maxResponseBody = 8 << 20

// Caller invokes service actions and requests by "service.name".
type Caller struct {
	registry *Registry
	client   *http.Client
	report   func(context.Context, error)
	log      logx.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewCaller returns a caller over the services in reg. Failures are
// passed to report before being returned.
func NewCaller(reg *Registry, client *http.Client, report func(context.Context, error), log logx.Logger) *Caller {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if report == nil {
		report = func(context.Context, error) {}
	}
	return &Caller{
		registry: reg,
		client:   client,
		report:   report,
		log:      log.With(logx.String("component", "caller")),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Call runs the local action named by target, or the request of that
// name when there is no such action.
func (c *Caller) Call(ctx context.Context, target string, args ...any) (any, error) {
	svc, name, err := c.lookup(target)
	if err != nil {
		c.report(ctx, err)
		return nil, err
	}
	if _, ok := svc.Actions[name]; ok {
		return c.act(ctx, svc, name, args)
	}
	return c.request(ctx, svc, name, args)
}

// Act runs a local action.
func (c *Caller) Act(ctx context.Context, target string, args ...any) (any, error) {
	svc, name, err := c.lookup(target)
	if err != nil {
		c.report(ctx, err)
		return nil, err
	}
	return c.act(ctx, svc, name, args)
}

// Request performs an outbound request and returns its decoded body.
func (c *Caller) Request(ctx context.Context, target string, args ...any) (any, error) {
	svc, name, err := c.lookup(target)
	if err != nil {
		c.report(ctx, err)
		return nil, err
	}
	return c.request(ctx, svc, name, args)
}

func (c *Caller) lookup(target string) (Service, string, error) {
	svcName, name, ok := strings.Cut(target, ".")
	if !ok || svcName == "" || name == "" {
		return Service{}, "", fmt.Errorf("%w: %q", ErrUnknownAction, target)
	}
	svc, ok := c.registry.Service(svcName)
	if !ok {
		return Service{}, "", fmt.Errorf("%w: %s", ErrUnknownService, svcName)
	}
	return svc, name, nil
}

func (c *Caller) act(ctx context.Context, svc Service, name string, args []any) (any, error) {
	fn, ok := svc.Actions[name]
	if !ok {
		err := fmt.Errorf("%w: %s.%s", ErrUnknownAction, svc.Name, name)
		c.report(ctx, err)
		return nil, err
	}
	out, err := fn(ctx, args...)
	if err != nil {
		err = fmt.Errorf("%s.%s: %w", svc.Name, name, err)
		c.report(ctx, err)
		return nil, err
	}
	return out, nil
}

func (c *Caller) request(ctx context.Context, svc Service, name string, args []any) (any, error) {
	req, err := BuildRequest(svc, name, args...)
	if err != nil {
		c.report(ctx, err)
		return nil, err
	}
	if lim := c.limiter(svc); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			err = &HTTPError{Method: req.Method, URL: req.URL, Err: err}
			c.report(ctx, err)
			return nil, err
		}
	}
	out, err := c.do(ctx, req)
	if err != nil {
		c.log.Warn("request failed",
			logx.String("service", svc.Name),
			logx.String("request", name),
			logx.Err(err),
		)
		c.report(ctx, err)
		return nil, err
	}
	return out, nil
}

func (c *Caller) do(ctx context.Context, req *Request) (any, error) {
	hr, err := req.HTTP(ctx)
	if err != nil {
		return nil, &HTTPError{Method: req.Method, URL: req.URL, Err: err}
	}
	start := time.Now()
	resp, err := c.client.Do(hr)
	if err != nil {
		return nil, &HTTPError{Method: req.Method, URL: req.URL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &HTTPError{Method: req.Method, URL: req.URL, Status: resp.StatusCode, Err: err}
	}
	body := decodeBody(raw)
	c.log.Debug("request done",
		logx.String("method", req.Method),
		logx.String("url", req.URL),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Method: req.Method, URL: req.URL, Status: resp.StatusCode, Body: body}
	}
	return body, nil
}

// decodeBody returns JSON bodies as trees and anything else as a string.
func decodeBody(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	var v any
	if err := jsonAPI.Unmarshal(trimmed, &v); err == nil {
		return v
	}
	return string(raw)
}

func (c *Caller) limiter(svc Service) *rate.Limiter {
	if svc.RateLimit <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[svc.Name]
	if !ok || lim.Limit() != rate.Limit(svc.RateLimit) {
		burst := max(1, svc.Burst)
		lim = rate.NewLimiter(rate.Limit(svc.RateLimit), burst)
		c.limiters[svc.Name] = lim
	}
	return lim
}

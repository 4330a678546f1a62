// Package httpx exposes a barrel engine over HTTP with gin.
//
// One route accepts events. Methods without a body (GET, DELETE, HEAD,
// OPTIONS) turn the query string into the message; every other method
// hands the raw body to Engine.Process. The handler waits for the first
// listener response:
//
//	reply                 200 with the JSON result ({} when empty)
//	no listener           404 {"error":"no matching listener registered"}
//	any other failure     400 {"error":"An internal error occurred"}
//	no answer in time     202 with no body
//
// An optional tick route drives a polled scheduler.
package httpx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"

	"github.com/bjaus/barrel"
	"github.com/bjaus/barrel/logx"
	"github.com/bjaus/barrel/transport"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type Config struct {
	Addr   string
	Route  string
	Method string
	// Timeout bounds the wait for a listener response. Zero waits until
	// the client goes away.
	Timeout   time.Duration
	TickRoute string
}

// Server serves one engine.
type Server struct {
	engine *barrel.Engine
	cfg    Config
	log    logx.Logger
	router *gin.Engine
}

// New builds the gin router for e. Empty Route and Method default to
// "/" and POST.
func New(e *barrel.Engine, cfg Config, log logx.Logger) *Server {
	if cfg.Route == "" {
		cfg.Route = "/"
	}
	cfg.Method = strings.ToUpper(strings.TrimSpace(cfg.Method))
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}

	s := &Server{
		engine: e,
		cfg:    cfg,
		log:    log.With(logx.String("component", "http")),
		router: gin.New(),
	}
	s.router.Use(gin.Recovery(), s.accessLog)
	s.router.Handle(cfg.Method, cfg.Route, s.handleEvent)
	if cfg.TickRoute != "" {
		s.router.GET(cfg.TickRoute, s.handleTick)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("http listening",
		logx.String("addr", s.cfg.Addr),
		logx.String("method", s.cfg.Method),
		logx.String("route", s.cfg.Route),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleEvent(c *gin.Context) {
	raw, err := s.message(c)
	if err != nil {
		s.log.Warn("read request failed", logx.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": transport.InternalErrorMessage})
		return
	}

	ctx := c.Request.Context()
	pending := transport.NewPending()
	if _, err := s.engine.Process(ctx, raw, pending); err != nil {
		s.log.Debug("process failed", logx.Err(err))
	}

	out, ok := pending.Wait(ctx, s.cfg.Timeout)
	if !ok {
		c.Status(http.StatusAccepted)
		return
	}
	if out.Err != nil {
		c.Data(transport.Status(out.Err), "application/json; charset=utf-8", out.Body())
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", out.Body())
}

func (s *Server) handleTick(c *gin.Context) {
	now := time.Now()
	fired := s.engine.Tick(now)
	s.log.Debug("tick", logx.Int("fired", fired))
	c.JSON(http.StatusOK, gin.H{"run": now.Unix()})
}

func (s *Server) message(c *gin.Context) ([]byte, error) {
	switch c.Request.Method {
	case http.MethodGet, http.MethodDelete, http.MethodHead, http.MethodOptions:
		return jsonAPI.Marshal(queryMessage(c.Request.URL.Query()))
	}
	if c.Request.Body == nil {
		return []byte(emptyMessage), nil
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte(emptyMessage), nil
	}
	return raw, nil
}

// emptyMessage stands in for a request without a body.
const emptyMessage = "{}"

// queryMessage turns ?a=1&b=2&b=3 into {"a":"1","b":["2","3"]}.
func queryMessage(q url.Values) map[string]any {
	msg := make(map[string]any, len(q))
	for k, vs := range q {
		if len(vs) == 1 {
			msg[k] = vs[0]
			continue
		}
		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}
		msg[k] = list
	}
	return msg
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug("request",
		logx.String("method", c.Request.Method),
		logx.String("path", c.Request.URL.Path),
		logx.Int("status", c.Writer.Status()),
		logx.Duration("took", time.Since(start)),
	)
}

// Package natsx feeds NATS messages to a barrel engine. Requests that carry
// a reply subject get the listener response published back to it.
package natsx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bjaus/barrel"
	"github.com/bjaus/barrel/logx"
	"github.com/bjaus/barrel/transport"
)

// ErrorHeader is set on failure replies so callers can tell them apart
// from results without parsing the body.
const ErrorHeader = "Barrel-Error"

type Config struct {
	URL     string
	Subject string
	Queue   string
	Name    string
}

// Client is the part of a NATS connection the subscriber needs.
type Client interface {
	Subscribe(subject, queue string, fn func(*nats.Msg)) (unsubscribe func() error, err error)
	Publish(subject string, data []byte, headers map[string]string) error
}

type natsClient struct{ nc *nats.Conn }

func (c natsClient) Subscribe(subject, queue string, fn func(*nats.Msg)) (func() error, error) {
	var (
		sub *nats.Subscription
		err error
	)
	if queue == "" {
		sub, err = c.nc.Subscribe(subject, fn)
	} else {
		sub, err = c.nc.QueueSubscribe(subject, queue, fn)
	}
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

func (c natsClient) Publish(subject string, data []byte, headers map[string]string) error {
	msg := &nats.Msg{Subject: subject, Data: data}
	if len(headers) > 0 {
		msg.Header = nats.Header{}
		for k, v := range headers {
			msg.Header.Add(k, v)
		}
	}
	return c.nc.PublishMsg(msg)
}

// Connect dials cfg.URL. The returned cleanup drains the connection.
func Connect(cfg Config) (Client, func(), error) {
	if cfg.URL == "" {
		return nil, nil, errors.New("nats: url is required")
	}
	opts := []nats.Option{nats.Timeout(5 * time.Second), nats.MaxReconnects(-1)}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	cleanup := func() {
		if !nc.IsClosed() {
			_ = nc.Drain()
		}
	}
	return natsClient{nc: nc}, cleanup, nil
}

// Subscriber processes every message on one subject.
type Subscriber struct {
	client  Client
	engine  *barrel.Engine
	subject string
	queue   string
	log     logx.Logger
}

func NewSubscriber(c Client, e *barrel.Engine, cfg Config, log logx.Logger) *Subscriber {
	return &Subscriber{
		client:  c,
		engine:  e,
		subject: cfg.Subject,
		queue:   cfg.Queue,
		log:     log.With(logx.String("component", "nats"), logx.String("subject", cfg.Subject)),
	}
}

// Run subscribes and blocks until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	if s.subject == "" {
		return errors.New("nats: subject is required")
	}
	unsubscribe, err := s.client.Subscribe(s.subject, s.queue, func(msg *nats.Msg) {
		s.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", s.subject, err)
	}
	s.log.Info("nats subscribed", logx.String("queue", s.queue))

	<-ctx.Done()
	if err := unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats unsubscribe: %w", err)
	}
	return nil
}

func (s *Subscriber) handle(ctx context.Context, msg *nats.Msg) {
	var r barrel.Responder
	if msg.Reply != "" {
		r = &replyResponder{client: s.client, subject: msg.Reply}
	}
	if _, err := s.engine.Process(ctx, msg.Data, r); err != nil {
		s.log.Warn("nats message dropped", logx.Err(err))
	}
}

// replyResponder publishes the outcome to the request's reply subject.
type replyResponder struct {
	client  Client
	subject string
}

func (r *replyResponder) Reply(_ context.Context, result json.RawMessage) error {
	return r.client.Publish(r.subject, transport.ReplyBody(result), nil)
}

func (r *replyResponder) Fail(_ context.Context, err error) error {
	out := transport.Outcome{Err: err}
	return r.client.Publish(r.subject, out.Body(), map[string]string{ErrorHeader: transport.Message(err)})
}

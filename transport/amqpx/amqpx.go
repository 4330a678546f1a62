// Package amqpx consumes a RabbitMQ queue into a barrel engine.
//
// A delivery is acked once the engine has taken it and nacked without
// requeue when it cannot be processed at all. Deliveries with a ReplyTo
// get the listener response published to that queue with the same
// CorrelationId, the usual AMQP RPC shape.
package amqpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bjaus/barrel"
	"github.com/bjaus/barrel/logx"
	"github.com/bjaus/barrel/transport"
)

type Config struct {
	URL      string
	Queue    string
	Prefetch int
	// Consumer tags the consumer on the broker; empty lets it pick one.
	Consumer string
}

// Channel is the part of *amqp.Channel the consumer needs.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Dial connects, opens a channel and declares the queue durable. The
// cleanup closes both.
func Dial(cfg Config) (*amqp.Channel, func(), error) {
	if cfg.URL == "" {
		return nil, nil, errors.New("amqp: url is required")
	}
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Properties: amqp.Table{"product": "barrel"},
		Dial:       amqp.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp declare %s: %w", cfg.Queue, err)
	}
	cleanup := func() {
		_ = ch.Close()
		_ = conn.Close()
	}
	return ch, cleanup, nil
}

// Consumer processes deliveries from one queue.
type Consumer struct {
	ch     Channel
	engine *barrel.Engine
	cfg    Config
	log    logx.Logger
}

func NewConsumer(ch Channel, e *barrel.Engine, cfg Config, log logx.Logger) *Consumer {
	return &Consumer{
		ch:     ch,
		engine: e,
		cfg:    cfg,
		log:    log.With(logx.String("component", "amqp"), logx.String("queue", cfg.Queue)),
	}
}

// Run consumes until ctx is done or the broker closes the delivery
// channel.
func (c *Consumer) Run(ctx context.Context) error {
	if c.cfg.Queue == "" {
		return errors.New("amqp: queue is required")
	}
	if c.cfg.Prefetch > 0 {
		if err := c.ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("amqp qos: %w", err)
		}
	}
	deliveries, err := c.ch.Consume(c.cfg.Queue, c.cfg.Consumer, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume %s: %w", c.cfg.Queue, err)
	}
	c.log.Info("amqp consuming", logx.Int("prefetch", c.cfg.Prefetch))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("amqp: delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var r barrel.Responder
	if d.ReplyTo != "" {
		r = &rpcResponder{ch: c.ch, replyTo: d.ReplyTo, correlationID: d.CorrelationId}
	}
	if _, err := c.engine.Process(ctx, d.Body, r); err != nil {
		c.log.Warn("amqp delivery rejected", logx.Err(err), logx.String("message_id", d.MessageId))
		if err := d.Nack(false, false); err != nil {
			c.log.Error("amqp nack failed", logx.Err(err))
		}
		return
	}
	if err := d.Ack(false); err != nil {
		c.log.Error("amqp ack failed", logx.Err(err))
	}
}

type rpcResponder struct {
	ch            Channel
	replyTo       string
	correlationID string
}

func (r *rpcResponder) Reply(ctx context.Context, result json.RawMessage) error {
	return r.publish(ctx, transport.ReplyBody(result), nil)
}

func (r *rpcResponder) Fail(ctx context.Context, err error) error {
	return r.publish(ctx, transport.ErrorBody(err), amqp.Table{"x-barrel-error": transport.Message(err)})
}

func (r *rpcResponder) publish(ctx context.Context, body []byte, headers amqp.Table) error {
	return r.ch.PublishWithContext(ctx, "", r.replyTo, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: r.correlationID,
		Headers:       headers,
		Body:          body,
	})
}

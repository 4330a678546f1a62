// Package kafkax consumes Kafka topics into a barrel engine with franz-go.
// Records are fire-and-forget: there is no one to respond to.
package kafkax

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/bjaus/barrel"
	"github.com/bjaus/barrel/logx"
)

type Config struct {
	Brokers  []string
	Topics   []string
	Group    string
	ClientID string
}

// Client is the part of *kgo.Client the consumer needs.
type Client interface {
	PollFetches(ctx context.Context) kgo.Fetches
}

// Dial builds a consuming client. The cleanup closes it, committing
// group offsets first.
func Dial(cfg Config) (*kgo.Client, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, errors.New("kafka: brokers are required")
	}
	if len(cfg.Topics) == 0 {
		return nil, nil, errors.New("kafka: topics are required")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topics...),
	}
	if cfg.Group != "" {
		opts = append(opts, kgo.ConsumerGroup(cfg.Group))
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka client init: %w", err)
	}
	return cl, cl.Close, nil
}

// Consumer processes every fetched record value.
type Consumer struct {
	client Client
	engine *barrel.Engine
	log    logx.Logger
}

func NewConsumer(c Client, e *barrel.Engine, log logx.Logger) *Consumer {
	return &Consumer{client: c, engine: e, log: log.With(logx.String("component", "kafka"))}
}

// Run polls until ctx is done or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("kafka consuming")
	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.log.Warn("kafka fetch error",
				logx.String("topic", topic),
				logx.Int("partition", int(partition)),
				logx.Err(err),
			)
		})
		fetches.EachRecord(func(r *kgo.Record) {
			c.process(ctx, r)
		})
	}
}

func (c *Consumer) process(ctx context.Context, r *kgo.Record) {
	if _, err := c.engine.Process(ctx, r.Value, nil); err != nil {
		c.log.Warn("kafka record dropped",
			logx.String("topic", r.Topic),
			logx.Int("partition", int(r.Partition)),
			logx.Any("offset", r.Offset),
			logx.Err(err),
		)
	}
}

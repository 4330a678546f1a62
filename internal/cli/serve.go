package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bjaus/barrel"
	"github.com/bjaus/barrel/config"
	"github.com/bjaus/barrel/logx"
	"github.com/bjaus/barrel/transport/amqpx"
	"github.com/bjaus/barrel/transport/httpx"
	"github.com/bjaus/barrel/transport/kafkax"
	"github.com/bjaus/barrel/transport/natsx"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with the configured transports and schedules",
		Long: `Run the engine until interrupted.

Services, routes and schedules come from the config file. Every enabled
transport feeds the engine. Log settings are re-applied when the file
changes; anything else needs a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Serve(cmd.Context(), *rootOpts)
		},
	}
}

// Serve runs until ctx is done or a transport fails.
func Serve(ctx context.Context, opts RootOptions) error {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return err
	}

	logSvc, log := logx.NewService(logx.Config{Level: "info", Console: true})
	defer func() { _ = logSvc.Close() }()

	mgr := config.NewManager(opts.Config, log)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", opts.Config, err)
	}
	logSvc.Apply(cfg.Log)

	engineOpts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}
	engine := barrel.New(append(engineOpts, barrel.WithLogger(log))...)
	if err := cfg.Apply(engine); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	abort := func(err error) error {
		cancel()
		_ = g.Wait()
		return err
	}
	if err := startTransports(ctx, g, cfg, engine, log); err != nil {
		return abort(err)
	}
	if err := engine.Start(ctx); err != nil {
		return abort(err)
	}

	g.Go(func() error {
		if err := mgr.Watch(ctx); err != nil {
			log.Warn("config watch disabled", logx.Err(err))
		}
		return nil
	})
	g.Go(func() error {
		updates := mgr.Subscribe(1)
		defer mgr.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return nil
			case next := <-updates:
				logSvc.Apply(next.Log)
				log.Info("log config re-applied; restart to apply other changes")
			}
		}
	})

	notify(log, daemon.SdNotifyReady)
	log.Info("barrel serving", logx.String("config", opts.Config))

	<-ctx.Done()
	notify(log, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	stopErr := engine.Stop(stopCtx)
	if err := g.Wait(); err != nil {
		return err
	}
	if stopErr != nil {
		return stopErr
	}
	log.Info("barrel stopped")
	return nil
}

// startTransports connects every enabled transport and runs it in g.
// Connections are closed when its context ends.
func startTransports(ctx context.Context, g *errgroup.Group, cfg *config.Config, e *barrel.Engine, log logx.Logger) error {
	if cfg.HTTP.Enabled {
		timeout, err := cfg.HTTP.Timeout()
		if err != nil {
			return err
		}
		srv := httpx.New(e, httpx.Config{
			Addr:      cfg.HTTP.Addr,
			Route:     cfg.HTTP.Route,
			Method:    cfg.HTTP.Method,
			Timeout:   timeout,
			TickRoute: cfg.HTTP.TickRoute,
		}, log)
		g.Go(func() error { return srv.ListenAndServe(ctx) })
	}

	if cfg.NATS.Enabled {
		nc := natsx.Config{URL: cfg.NATS.URL, Subject: cfg.NATS.Subject, Queue: cfg.NATS.Queue, Name: "barrel"}
		client, cleanup, err := natsx.Connect(nc)
		if err != nil {
			return err
		}
		sub := natsx.NewSubscriber(client, e, nc, log)
		g.Go(func() error {
			defer cleanup()
			return sub.Run(ctx)
		})
	}

	if cfg.AMQP.Enabled {
		ac := amqpx.Config{URL: cfg.AMQP.URL, Queue: cfg.AMQP.Queue, Prefetch: cfg.AMQP.Prefetch}
		ch, cleanup, err := amqpx.Dial(ac)
		if err != nil {
			return err
		}
		consumer := amqpx.NewConsumer(ch, e, ac, log)
		g.Go(func() error {
			defer cleanup()
			return consumer.Run(ctx)
		})
	}

	if cfg.Kafka.Enabled {
		client, cleanup, err := kafkax.Dial(kafkax.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topics:   cfg.Kafka.Topics,
			Group:    cfg.Kafka.Group,
			ClientID: "barrel",
		})
		if err != nil {
			return err
		}
		consumer := kafkax.NewConsumer(client, e, log)
		g.Go(func() error {
			defer cleanup()
			return consumer.Run(ctx)
		})
	}
	return nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// notify tells systemd about state changes. Outside systemd it is a no-op.
func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify", logx.String("state", state))
	}
}

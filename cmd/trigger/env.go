package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/triple-jay-dashboard/internal/config"
	"github.com/triple-jay-dashboard/internal/events"
	"github.com/triple-jay-dashboard/internal/kafka"
	"github.com/triple-jay-dashboard/internal/nats"
	"github.com/triple-jay-dashboard/internal/postgres"
	"github.com/triple-jay-dashboard/internal/redis"
)

// env is what every command needs: configuration and a logger
type env struct {
	cfg    *config.Config
	logger *slog.Logger
}

func loadEnv(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "using default configuration: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if t := c.String("transport"); t != "" {
		if !canPublish(t) {
			return fmt.Errorf("transport %q cannot publish; use redis, kafka or nats", t)
		}
		cfg.Events.Transport = t
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]interface{})
	}
	c.App.Metadata["env"] = &env{cfg: cfg, logger: logger}
	return nil
}

func envFrom(c *cli.Context) *env {
	return c.App.Metadata["env"].(*env)
}

// publisher opens a publisher for the configured transport
func (e *env) publisher(ctx context.Context) (events.Publisher, error) {
	switch e.cfg.Events.Transport {
	case config.TransportRedis:
		client, err := redis.NewClient(ctx, &e.cfg.Redis)
		if err != nil {
			return nil, err
		}
		return redis.NewPublisher(client, e.cfg.Redis.KeyPrefix), nil

	case config.TransportKafka:
		pub, err := kafka.NewPublisher(&e.cfg.Kafka)
		if err != nil {
			return nil, err
		}
		return pub, nil

	case config.TransportNATS:
		nc, err := nats.Connect(&e.cfg.NATS, e.logger)
		if err != nil {
			return nil, err
		}
		return nats.NewPublisher(nc, e.cfg.NATS.SubjectPrefix), nil

	default:
		return nil, fmt.Errorf("transport %q cannot publish; use redis, kafka or nats", e.cfg.Events.Transport)
	}
}

// canPublish reports whether the trigger can publish over transport
func canPublish(transport string) bool {
	switch transport {
	case config.TransportRedis, config.TransportKafka, config.TransportNATS:
		return true
	}
	return false
}

// publish sends one event and closes the publisher
func (e *env) publish(ctx context.Context, stream string, payload any) error {
	pub, err := e.publisher(ctx)
	if err != nil {
		return err
	}
	defer pub.Close()

	if err := pub.Publish(ctx, stream, payload); err != nil {
		return err
	}
	fmt.Printf("published %s via %s\n", stream, e.cfg.Events.Transport)
	return nil
}

// store is the write side of a dashboard data source
type store interface {
	SetScore(ctx context.Context, userID, username string, score int64) error
	AddSong(ctx context.Context, title, artist, playedBy string) error
	Close()
}

// store opens the configured data source for writing
func (e *env) store(ctx context.Context) (store, error) {
	switch e.cfg.Source.Kind {
	case config.SourceRedis:
		client, err := redis.NewClient(ctx, &e.cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &redisStore{
			client: client,
			store:  redis.NewStore(client, e.cfg.Redis.KeyPrefix, e.cfg.Source.SongLimit, e.logger),
		}, nil

	case config.SourcePostgres:
		repo, err := postgres.NewRepository(ctx, &e.cfg.Postgres, e.cfg.Source.SongLimit, e.logger)
		if err != nil {
			return nil, err
		}
		return &postgresStore{repo: repo}, nil

	default:
		return nil, fmt.Errorf("source %q is read-only; use redis or postgres", e.cfg.Source.Kind)
	}
}

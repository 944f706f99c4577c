package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/triple-jay-dashboard/internal/config"
	"github.com/triple-jay-dashboard/internal/events"
	"github.com/triple-jay-dashboard/internal/fetcher"
	"github.com/triple-jay-dashboard/internal/handler"
	"github.com/triple-jay-dashboard/internal/kafka"
	"github.com/triple-jay-dashboard/internal/metrics"
	"github.com/triple-jay-dashboard/internal/nats"
	"github.com/triple-jay-dashboard/internal/postgres"
	"github.com/triple-jay-dashboard/internal/redis"
	"github.com/triple-jay-dashboard/internal/service"
	"github.com/triple-jay-dashboard/internal/websocket"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Setup structured logging
	logger := newLogger(&cfg.Log)
	slog.SetDefault(logger)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	deps := &dependencies{cfg: cfg, logger: logger}
	defer deps.close()

	// Initialize data source
	source, err := deps.source(ctx)
	if err != nil {
		logger.Error("failed to initialize data source", "kind", cfg.Source.Kind, "error", err)
		os.Exit(1)
	}
	dataFetcher := fetcher.New(source, cfg.Source.FetchTimeout, m, logger.With("component", "fetcher"))

	// Initialize event channel; it connects on the first subscription
	transport, err := deps.transport(ctx, m)
	if err != nil {
		logger.Error("failed to initialize event transport", "transport", cfg.Events.Transport, "error", err)
		os.Exit(1)
	}
	channel := events.NewChannel(transport, cfg.Events.Reconnect, m, logger.With("component", "events"))

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(m, logger.With("component", "hub"))
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize synchronizer and push every change to the views
	synchronizer := service.NewSynchronizer(
		channel,
		dataFetcher,
		clockwork.NewRealClock(),
		cfg.Overlay.Duration,
		m,
		logger.With("component", "synchronizer"),
	)
	synchronizer.Watch(wsHub.BroadcastSnapshot)

	if err := synchronizer.Start(ctx); err != nil {
		logger.Error("failed to start synchronizer", "error", err)
		os.Exit(1)
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(synchronizer, wsHub, reg, cfg.Server.AllowedOrigins, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error("HTTP server error", "error", err)
	}

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Unsubscribe before the channel goes away
	synchronizer.Stop()
	if err := channel.Close(); err != nil {
		logger.Error("failed to close event channel", "error", err)
	}

	// Stop WebSocket hub
	wsHub.Stop()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}

func newLogger(cfg *config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// dependencies opens the backing services the configuration asks for and
// closes them on shutdown
type dependencies struct {
	cfg     *config.Config
	logger  *slog.Logger
	redis   *goredis.Client
	closers []func()
}

func (d *dependencies) redisClient(ctx context.Context) (*goredis.Client, error) {
	if d.redis != nil {
		return d.redis, nil
	}
	d.logger.Info("connecting to Redis", "addr", d.cfg.Redis.Addr)
	client, err := redis.NewClient(ctx, &d.cfg.Redis)
	if err != nil {
		return nil, err
	}
	d.logger.Info("connected to Redis")
	d.redis = client
	d.closers = append(d.closers, func() { client.Close() })
	return client, nil
}

func (d *dependencies) source(ctx context.Context) (fetcher.Source, error) {
	switch d.cfg.Source.Kind {
	case config.SourcePostgres:
		d.logger.Info("connecting to PostgreSQL", "host", d.cfg.Postgres.Host, "database", d.cfg.Postgres.Database)
		repo, err := postgres.NewRepository(ctx, &d.cfg.Postgres, d.cfg.Source.SongLimit, d.logger)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, repo.Close)
		d.logger.Info("connected to PostgreSQL")

		if d.cfg.Postgres.RunMigrations {
			if err := repo.RunMigrations(ctx); err != nil {
				return nil, fmt.Errorf("running migrations: %w", err)
			}
		}
		return repo, nil

	case config.SourceRedis:
		client, err := d.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return redis.NewStore(client, d.cfg.Redis.KeyPrefix, d.cfg.Source.SongLimit, d.logger), nil

	default:
		d.logger.Info("using HTTP data source", "base_url", d.cfg.Source.HTTP.BaseURL)
		return fetcher.NewHTTPSource(&d.cfg.Source.HTTP), nil
	}
}

func (d *dependencies) transport(ctx context.Context, m *metrics.Metrics) (events.Transport, error) {
	logger := d.logger.With("component", "transport")
	switch d.cfg.Events.Transport {
	case config.TransportRedis:
		client, err := d.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return redis.NewTransport(client, d.cfg.Redis.KeyPrefix, logger), nil

	case config.TransportKafka:
		return kafka.NewTransport(&d.cfg.Kafka, m, logger), nil

	case config.TransportNATS:
		return nats.NewTransport(&d.cfg.NATS, logger), nil

	default:
		return websocket.NewUpstream(d.cfg.Events.WebSocket, m, logger), nil
	}
}

func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

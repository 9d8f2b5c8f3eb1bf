// Command mailbus-node runs one node of a mailbus cluster. Path
// registrations are kept in Redis; events travel over Redis Pub/Sub or
// RabbitMQ. Every event reaching the node is logged by an EACH_NODE
// listener, and listener timings are exposed on /metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/mailbus"
	"github.com/rbaliyan/mailbus/cluster"
	redismapper "github.com/rbaliyan/mailbus/cluster/mapper/redis"
	amqptransport "github.com/rbaliyan/mailbus/cluster/transport/amqp"
	redistransport "github.com/rbaliyan/mailbus/cluster/transport/redis"
	"github.com/rbaliyan/mailbus/codec"
	redisdl "github.com/rbaliyan/mailbus/deadletter/redis"
	"github.com/rbaliyan/mailbus/metrics/prom"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config initialization failed", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("node failed", "error", err)
		os.Exit(1)
	}
}

// transport is both halves of a cluster transport.
type transport interface {
	cluster.Publisher
	cluster.MessageConsumer
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	serializer, err := codec.DefaultRegistry().Lookup(cfg.ContentType)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := prom.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	opts := []mailbus.Option{
		mailbus.WithLogger(logger),
		mailbus.WithMetrics(metrics),
		mailbus.WithPoolSize(cfg.PoolSize),
		mailbus.WithQueueSize(cfg.QueueSize),
	}
	if cfg.DeadLetters {
		opts = append(opts, mailbus.WithDeadLetters(redisdl.New(rdb, redisdl.WithLogger(logger))))
	}
	dispatcher := mailbus.NewDispatcher(opts...)

	tr, closeTransport, err := newTransport(cfg, rdb, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	mode, _ := cfg.ClusterMode()
	clusterOpts := []cluster.Option{
		cluster.WithLogger(logger),
		cluster.WithTopic(cluster.Topic(cfg.NodeTopic)),
		cluster.WithReconcileInterval(cfg.ReconcileInterval),
		cluster.WithMode(mode),
	}
	register := cluster.NewPathRegister(redismapper.New(rdb, redismapper.WithLogger(logger)), clusterOpts...)
	broadcaster := cluster.NewBroadcaster(dispatcher, register, tr, tr, serializer, clusterOpts...)

	audit := mailbus.NewListener("audit-log", mailbus.TypeEachNode, mailbus.Asynchronous,
		func(_ context.Context, e mailbus.Event) error {
			h := e.EventHeader()
			logger.Info("mailbox event",
				"event", e.Kind().String(),
				"event_id", h.EventID,
				"user", h.User,
				"path", h.Path.String(),
				"noop", e.IsNoop())
			return nil
		})
	if err := broadcaster.AddGlobalListener(audit); err != nil {
		return err
	}

	if err := broadcaster.Start(ctx); err != nil {
		return fmt.Errorf("start broadcaster: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	logger.Info("node running",
		"topic", string(register.LocalTopic()),
		"transport", cfg.Transport,
		"content_type", serializer.ContentType(),
		"metrics", cfg.MetricsAddr)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, srv.Shutdown(shutdownCtx), broadcaster.Close(shutdownCtx))
}

func newTransport(cfg *Config, rdb *redis.Client, logger *slog.Logger) (transport, func(), error) {
	if cfg.Transport == TransportRedis {
		return redistransport.New(rdb, redistransport.WithLogger(logger)), func() {}, nil
	}

	conn, err := amqp091.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	tr, err := amqptransport.New(conn, amqptransport.WithLogger(logger))
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return tr, func() { _ = conn.Close() }, nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rowsift/rowsift/internal/geoindex"
	"github.com/rowsift/rowsift/internal/index"
	"github.com/rowsift/rowsift/pkg/config"
	"github.com/rowsift/rowsift/pkg/health"
	"github.com/rowsift/rowsift/pkg/kafka"
	"github.com/rowsift/rowsift/pkg/logger"
	"github.com/rowsift/rowsift/pkg/metrics"
	"github.com/rowsift/rowsift/pkg/postgres"
	"github.com/rowsift/rowsift/pkg/proto"
	"github.com/rowsift/rowsift/pkg/redis"
	"github.com/rowsift/rowsift/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting rowsift daemon")

	store, err := redis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tables := config.NewRegistry(store)
	if err := tables.LoadAll(ctx); err != nil {
		slog.Error("failed to load table configurations", "error", err)
		os.Exit(1)
	}
	slog.Info("table configurations loaded", "tables", tables.Tables())

	mx := metrics.New()
	checker := health.NewChecker()
	checker.Register("redis", pingCheck(store.Ping))
	checker.Register("postgres", pingCheck(pg.Ping))

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port, checker)
	}

	indexManager := index.NewManager(store, pg, tables,
		index.WithMetrics(mx),
		index.WithBatchSize(cfg.Search.BuildBatchSize),
	)
	geoManager := geoindex.NewManager(store, tables,
		geoindex.WithRowSource(pg),
		geoindex.WithMetrics(mx),
	)

	events := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	defer events.Close()

	d := &daemon{
		index:  indexManager,
		geo:    geoManager,
		events: events,
		logger: logger.WithComponent("daemon"),
	}

	rebuildConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexRebuild, d.handleRebuild)
	bucketConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.GeoBucketsBuild, d.handleBucketBuild)

	errCh := make(chan error, 2)
	go func() { errCh <- rebuildConsumer.Start(ctx) }()
	go func() { errCh <- bucketConsumer.Start(ctx) }()

	slog.Info("rowsift daemon ready",
		"rebuild_topic", cfg.Kafka.Topics.IndexRebuild,
		"buckets_topic", cfg.Kafka.Topics.GeoBucketsBuild,
		"group", cfg.Kafka.ConsumerGroup,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("consumer error", "error", err)
		}
	}
	stop()

	if shutdownMetrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", "error", err)
		}
	}
	slog.Info("rowsift daemon stopped")
}

// daemon dispatches Kafka triggers to the managers. The engine itself never
// retries; transient build failures are retried here at the boundary before
// the failure is published.
type daemon struct {
	index  *index.Manager
	geo    *geoindex.Manager
	events *kafka.Producer
	logger *slog.Logger
}

var buildRetry = resilience.RetryConfig{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

func (d *daemon) handleRebuild(ctx context.Context, key []byte, value []byte) error {
	req, err := kafka.DecodeJSON[proto.RebuildRequest](value)
	if err != nil {
		d.logger.Error("dropping malformed rebuild request", "key", string(key), "error", err)
		return nil
	}
	d.logger.Info("rebuild requested", "table", req.Table, "full", req.Full, "requested_by", req.RequestedBy)

	start := time.Now()
	var stats index.Stats
	buildErr := resilience.Retry(ctx, "index-rebuild", buildRetry, func() error {
		var err error
		if req.Full {
			stats, err = d.index.Rebuild(ctx, req.Table)
		} else {
			stats, err = d.index.Build(ctx, req.Table)
		}
		return err
	})

	event := proto.IndexCompleteEvent{
		Table:       req.Table,
		Operation:   "rebuild",
		Documents:   stats.TotalDocuments,
		Terms:       stats.TotalTerms,
		DurationMs:  time.Since(start).Milliseconds(),
		CompletedAt: time.Now().UTC(),
	}
	if buildErr != nil {
		d.logger.Error("rebuild failed", "table", req.Table, "error", buildErr)
		event.Error = buildErr.Error()
	}
	return d.publish(ctx, req.Table, event)
}

func (d *daemon) handleBucketBuild(ctx context.Context, key []byte, value []byte) error {
	req, err := kafka.DecodeJSON[proto.BucketBuildRequest](value)
	if err != nil {
		d.logger.Error("dropping malformed bucket build request", "key", string(key), "error", err)
		return nil
	}
	d.logger.Info("geo bucket build requested", "table", req.Table)

	start := time.Now()
	var report geoindex.BucketBuildReport
	buildErr := resilience.Retry(ctx, "geo-buckets-build", buildRetry, func() error {
		var err error
		report, err = d.geo.BuildBuckets(ctx, req.Table, geoindex.BucketBuildParams{
			TargetBucketSize: req.TargetBucketSize,
			GridSizeKm:       req.GridSizeKm,
			MinBucketSize:    req.MinBucketSize,
			RefreshGeoIndex:  req.RefreshGeoIndex,
		})
		return err
	})

	event := proto.IndexCompleteEvent{
		Table:       req.Table,
		Operation:   "geo-buckets",
		Documents:   report.TotalPoints,
		Buckets:     report.TotalBuckets,
		DurationMs:  time.Since(start).Milliseconds(),
		CompletedAt: time.Now().UTC(),
	}
	if buildErr != nil {
		d.logger.Error("geo bucket build failed", "table", req.Table, "error", buildErr)
		event.Error = buildErr.Error()
	}
	return d.publish(ctx, req.Table, event)
}

func (d *daemon) publish(ctx context.Context, table string, event proto.IndexCompleteEvent) error {
	if err := d.events.Publish(ctx, kafka.Event{Key: table, Value: event}); err != nil {
		d.logger.Error("failed to publish completion event", "table", table, "error", err)
		return err
	}
	return nil
}

// pingCheck adapts a Ping method to a health.Check.
func pingCheck(ping func(context.Context) error) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		if err := ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	}
}

// Command update performs one ingestion run: it compares the upstream
// last-edit date with the newest local snapshot and, when stale, fetches,
// persists, and loads the dataset into the local store.
//
// Usage:
//
//	update [-force] [-snapshot data/2022-11-18_download.json]
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/wastewater-etl/internal/adapter/featureservice"
	kafkaadapter "github.com/couchcryptid/wastewater-etl/internal/adapter/kafka"
	"github.com/couchcryptid/wastewater-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/wastewater-etl/internal/config"
	"github.com/couchcryptid/wastewater-etl/internal/observability"
	"github.com/couchcryptid/wastewater-etl/internal/pipeline"
	"github.com/couchcryptid/wastewater-etl/internal/snapshot"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

func main() {
	force := flag.Bool("force", false, "fetch even when the local data is current")
	snapshotPath := flag.String("snapshot", "", "load this persisted snapshot instead of fetching")
	flag.Parse()

	os.Exit(run(*force, *snapshotPath))
}

func run(force bool, snapshotPath string) int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.DatabasePath, "error", err)
		return 1
	}
	defer db.Close()

	store := sqlite.NewStore(db, logger)
	snapshots := snapshot.NewStore(cfg.SnapshotDir, logger)
	client := featureservice.NewClient(cfg.FeatureServiceURL, cfg.CSVExportURL, cfg.UpstreamTimeout, metrics, logger)
	fetcher := pipeline.NewFetcher(client, client, snapshots, pipeline.FetchLimits{
		ChunkSize:  cfg.ChunkSize,
		ResultsCap: cfg.ResultsCap,
		Threshold:  cfg.PartialUpdateThreshold,
	}, metrics, logger)

	coordinator := pipeline.NewCoordinator(client, snapshots, fetcher, store, cfg.PartialUpdateThreshold, clockwork.NewRealClock(), metrics, logger).
		WithForce(force)

	if cfg.PublishEnabled() {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		coordinator.WithPublisher(writer)
		logger.Info("run publishing enabled", "topic", cfg.KafkaRunTopic)
	}

	if snapshotPath != "" {
		_, err = coordinator.LoadFromFile(ctx, snapshotPath)
	} else {
		_, err = coordinator.Run(ctx)
	}

	if cfg.PushgatewayURL != "" {
		if perr := push.New(cfg.PushgatewayURL, "wastewater_update").Gatherer(prometheus.DefaultGatherer).Push(); perr != nil {
			logger.Warn("push metrics failed", "url", cfg.PushgatewayURL, "error", perr)
		}
	}

	if err != nil {
		return 1
	}
	return 0
}

// Command api serves the read API over the local store, along with health,
// readiness, and metrics endpoints.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/wastewater-etl/internal/adapter/httpadapter"
	"github.com/couchcryptid/wastewater-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/wastewater-etl/internal/config"
	"github.com/couchcryptid/wastewater-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	store := sqlite.NewStore(db, logger)
	clock := clockwork.NewRealClock()

	var data httpadapter.DataSource = store
	if cfg.APICacheSize > 0 {
		data = httpadapter.NewCachedSource(store, cfg.APICacheSize, cfg.APICacheTTL, clock)
		logger.Info("read api cache enabled", "size", cfg.APICacheSize, "ttl", cfg.APICacheTTL)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, data, store, clock, metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := db.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("shutdown complete")
}

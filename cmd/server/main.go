package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"hompare/config"
	"hompare/internal/api"
	"hompare/internal/app"
	"hompare/internal/filter"
	"hompare/internal/ingest"
	"hompare/internal/location"
	"hompare/internal/processor"
	"hompare/internal/query"
	"hompare/internal/queue"
	"hompare/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		app.NewLogger("info").WithError(err).Fatal("Failed to load configuration")
	}
	logger := app.NewLogger(cfg.LogLevel)
	if logger.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer store.Close()

	mode, err := location.ParseMode(cfg.ResolverMode)
	if err != nil {
		logger.WithError(err).Fatal("Invalid resolver mode")
	}
	resolver := location.NewResolver(mode)

	importer := ingest.NewImporter(store, store, resolver, logger)
	if cfg.SeedFile != "" {
		seed, err := config.LoadSeed(cfg.SeedFile)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load hierarchy seed")
		}
		if _, err := importer.ApplySeed(ctx, seed); err != nil {
			logger.WithError(err).Fatal("Failed to apply hierarchy seed")
		}
	}

	if cfg.Import.Dir != "" {
		importJob := func(ctx context.Context) error {
			_, err := importer.ImportDir(ctx, cfg.Import.Dir, func() *processor.BatchProcessor {
				proc := processor.NewBatchProcessor(store, queue.NewEntryQueue(4, logger), cfg, logger)
				proc.Start(ctx)
				return proc
			})
			return err
		}
		importScheduler := scheduler.NewScheduler("import", importJob, cfg.Import.Interval, logger)
		importScheduler.Start(ctx)
		defer importScheduler.Stop()
	}

	resultCache := app.OpenCache(cfg, logger)
	defer resultCache.Close()

	service := query.NewService(store, resolver, filter.NewValidator(nil), logger,
		query.WithCache(resultCache, cfg.Cache.TTL))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(service, logger, cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"hompare/config"
	"hompare/internal/app"
	"hompare/internal/geocoding"
	"hompare/internal/ingest"
	"hompare/internal/location"
	"hompare/internal/processor"
	"hompare/internal/queue"
)

func main() {
	seedPath := flag.String("seed", "", "hierarchy seed file (JSON)")
	entriesPath := flag.String("entries", "", "price entries file (CSV)")
	geocode := flag.Bool("geocode", false, "look up missing city centers on Nominatim")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		app.NewLogger("info").WithError(err).Fatal("Failed to load configuration")
	}
	logger := app.NewLogger(cfg.LogLevel)

	if *seedPath == "" {
		*seedPath = cfg.SeedFile
	}
	if *seedPath == "" && *entriesPath == "" {
		flag.Usage()
		os.Exit(2)
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

	var opts []ingest.Option
	if *geocode {
		cacheDir := filepath.Join(os.TempDir(), "hompare", "geocode_cache")
		geocoder := geocoding.NewGeocoder(logger, geocoding.Options{CacheDir: cacheDir, Delay: time.Second})
		defer func() {
			if err := geocoder.SaveCache(); err != nil {
				logger.WithError(err).Warn("Failed to save geocode cache")
			}
		}()
		opts = append(opts, ingest.WithGeocoder(geocoder))
	}
	importer := ingest.NewImporter(store, store, location.NewResolver(mode), logger, opts...)

	if *seedPath != "" {
		seed, err := config.LoadSeed(*seedPath)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load hierarchy seed")
		}
		if _, err := importer.ApplySeed(ctx, seed); err != nil {
			logger.WithError(err).Fatal("Failed to apply hierarchy seed")
		}
	}

	if *entriesPath == "" {
		return
	}

	f, err := os.Open(*entriesPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open entries file")
	}
	defer f.Close()

	proc := processor.NewBatchProcessor(store, queue.NewEntryQueue(4, logger), cfg, logger)
	proc.Start(ctx)

	report, err := importer.ImportEntries(ctx, f, proc)
	for _, rejected := range report.Rejected {
		logger.WithFields(logrus.Fields{
			"line":  rejected.Line,
			"error": rejected.Err.Error(),
		}).Warn("Rejected price entry")
	}
	if err != nil {
		logger.WithError(err).Fatal("Import failed")
	}
	if report.Failed > 0 {
		logger.WithField("failed", report.Failed).Error("Some batches could not be written")
		os.Exit(1)
	}
}

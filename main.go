package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/hagyro/paper-md/config"
	"github.com/hagyro/paper-md/extract"
	"github.com/hagyro/paper-md/queue"
	"github.com/hagyro/paper-md/server"
	"github.com/hagyro/paper-md/store"
	"github.com/hagyro/paper-md/structure"
	"github.com/hagyro/paper-md/vision"
	"github.com/hagyro/paper-md/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.WithError(err).Fatal("Failed to create data directory")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var jobStore store.JobStore = store.NoopStore{}
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer pg.Close()
		jobStore = pg
		logger.Info("Job persistence enabled")
	}

	describer, err := vision.NewDescriber(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Invalid vision configuration")
	}
	var enricher *vision.Enricher
	if describer != nil {
		enricher = vision.NewEnricher(logger, describer, cfg.EnrichFanout, cfg.EnableTableVision)
		logger.WithField("provider", cfg.VisionProvider).Info("Figure enrichment enabled")
	}

	q := queue.NewConversionQueue(cfg.MaxConcurrentJobs, cfg.QueueBacklogFactor, cfg.MaxUploadBytes, jobStore, logger)

	pipeline := worker.Pipeline{
		Extractor: extract.NewPDFExtractor(logger, filepath.Join(cfg.DataDir, "tmp")),
		Enricher:  enricher,
		Structure: structure.Options{HeadingScale: cfg.HeadingScale},
	}
	pool := worker.NewPool(q, pipeline, cfg.MaxConcurrentJobs, cfg.JobTimeout, logger)
	pool.Start(ctx)

	srv := server.NewServer(q, cfg.HTTPAddr, cfg.MaxUploadBytes, logger)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("HTTP server failed")
	}

	stop()
	pool.Wait()
	logger.Info("Shutdown complete")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/meikuraledutech/canvas/archive"
	"github.com/meikuraledutech/canvas/config"
	"github.com/meikuraledutech/canvas/logging"
	"github.com/meikuraledutech/canvas/metrics"
	"github.com/meikuraledutech/canvas/postgres"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	pool, err := postgres.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer pool.Close()

	reg := metrics.NewRegistry()
	store := postgres.New(pool, postgres.WithLogger(logger.Named("store")), postgres.WithMetrics(reg))
	if err := store.CreateSchema(ctx); err != nil {
		logger.Fatal("schema", zap.Error(err))
	}

	srv := &server{store: store, logger: logger.Named("http"), metrics: reg}
	if cfg.Archive.Bucket != "" {
		a, err := archive.NewS3(ctx, cfg.Archive, archive.WithLogger(logger.Named("archive")), archive.WithMetrics(reg))
		if err != nil {
			logger.Fatal("archive", zap.Error(err))
		}
		srv.archiver = a
		logger.Info("archiving canvases", zap.String("bucket", cfg.Archive.Bucket))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Hostname, cfg.Server.Port)
	logger.Info("listening", zap.String("addr", addr))
	if err := newApp(srv).Listen(addr); err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
}

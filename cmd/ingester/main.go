package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/yourorg/gdelt-ingest/internal/config"
	"github.com/yourorg/gdelt-ingest/internal/logging"
	"github.com/yourorg/gdelt-ingest/internal/metrics"
	"github.com/yourorg/gdelt-ingest/internal/pipeline"
	"github.com/yourorg/gdelt-ingest/internal/types"
)

func main() {
	configPath := flag.String("config", getenv("GDELT_CONFIG", ""), "YAML config file (local path, file:// or s3:// URI)")
	once := flag.Bool("once", false, "run a single ingest cycle and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		log.Fatal("config:", err)
	}

	zl := logging.New(cfg.Log.Level)
	defer zl.Sync()

	if cfg.Metrics.Enable {
		metrics.Init()
		go func() {
			if err := metrics.Serve(cfg.Metrics.Addr); err != nil {
				zl.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	runner, err := pipeline.FromConfig(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("startup failed", zap.Error(err))
	}
	defer runner.Tracker().Close()

	params := types.CycleParams{Sample: cfg.General.Debug, Concurrency: cfg.General.Concurrency}
	zl.Info("ingester started",
		zap.Bool("sample", params.Sample),
		zap.Int("concurrency", params.Concurrency),
		zap.Bool("once", *once),
		zap.Duration("interval", cfg.General.Interval),
		zap.String("dedup_backend", cfg.Dedup.Backend))

	if *once {
		if _, err := runner.RunCycle(ctx, params); err != nil {
			zl.Error("ingest cycle failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}
	if err := runner.Loop(ctx, cfg.General.Interval, params); err != nil {
		zl.Error("ingester stopped", zap.Error(err))
		os.Exit(1)
	}
	zl.Info("ingester stopped")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

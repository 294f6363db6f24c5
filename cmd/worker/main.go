package main

import (
	"context"
	"log"
	"os"

	tactivity "go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/yourorg/gdelt-ingest/internal/activities"
	"github.com/yourorg/gdelt-ingest/internal/config"
	"github.com/yourorg/gdelt-ingest/internal/logging"
	"github.com/yourorg/gdelt-ingest/internal/metrics"
	"github.com/yourorg/gdelt-ingest/internal/pipeline"
	"github.com/yourorg/gdelt-ingest/internal/workflow"
)

func main() {
	ctx := context.Background()
	cfg, err := config.Load(ctx, getenv("GDELT_CONFIG", ""))
	if err != nil {
		log.Fatal("config:", err)
	}

	// Support TEMPORAL_TARGET_HOST for compatibility with the Temporal CLI env
	taddr := getenv("TEMPORAL_TARGET_HOST", cfg.Temporal.Address)

	zl := logging.New(cfg.Log.Level)
	defer zl.Sync()

	if cfg.Metrics.Enable {
		metrics.Init()
		go func() {
			_ = metrics.Serve(cfg.Metrics.Addr)
		}()
	}

	runner, err := pipeline.FromConfig(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("startup failed", zap.Error(err))
	}
	defer runner.Tracker().Close()

	c, err := client.Dial(client.Options{HostPort: taddr, Namespace: cfg.Temporal.Namespace})
	if err != nil {
		zl.Fatal("temporal client", zap.Error(err))
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{MaxConcurrentActivityExecutionSize: cfg.General.Concurrency + 2})
	acts := activities.New(activities.Config{}, runner)
	// Register activities with explicit names matching workflow.ExecuteActivity calls
	w.RegisterActivityWithOptions(acts.DiscoverWorkItems, tactivity.RegisterOptions{Name: activities.DiscoverWorkItemsName})
	w.RegisterActivityWithOptions(acts.ProcessWorkItem, tactivity.RegisterOptions{Name: activities.ProcessWorkItemName})
	w.RegisterActivityWithOptions(acts.RecordDelivered, tactivity.RegisterOptions{Name: activities.RecordDeliveredName})
	w.RegisterWorkflow(workflow.IngestCycleWorkflow)

	zl.Info("worker started",
		zap.String("namespace", cfg.Temporal.Namespace),
		zap.String("taskQueue", cfg.Temporal.TaskQueue),
		zap.String("dedup_backend", cfg.Dedup.Backend),
		zap.String("metrics", cfg.Metrics.Addr))
	if err := w.Run(worker.InterruptCh()); err != nil {
		zl.Fatal("worker failed", zap.Error(err))
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

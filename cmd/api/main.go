package main

import (
	"context"
	"log"
	"os"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/yourorg/gdelt-ingest/internal/api"
	"github.com/yourorg/gdelt-ingest/internal/config"
	"github.com/yourorg/gdelt-ingest/internal/ledger"
	"github.com/yourorg/gdelt-ingest/internal/logging"
)

func main() {
	ctx := context.Background()
	cfg, err := config.Load(ctx, getEnv("GDELT_CONFIG", ""))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	zl := logging.New(cfg.Log.Level)
	defer zl.Sync()

	// The ledger is reloaded per request so the API sees what the ingester
	// or worker recorded. A badger ledger is locked by its writer and cannot
	// be shared this way.
	store, err := ledger.OpenStore(ctx, cfg.Dedup.Backend, cfg.DedupLocation())
	if err != nil {
		zl.Fatal("Failed to open ledger", zap.Error(err))
	}
	defer store.Close()

	// Initialize Temporal client
	var temporalClient client.Client
	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Address,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		zl.Warn("Failed to connect to Temporal, cycle routes disabled", zap.Error(err))
	} else {
		temporalClient = tc
		defer tc.Close()
	}

	r := api.NewRouter(store, temporalClient, cfg.Temporal.TaskQueue, zl.Named("api"))

	addr := getEnv("PORT", "")
	if addr != "" {
		addr = ":" + addr
	} else {
		addr = cfg.API.Addr
	}
	zl.Info("Server starting", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		zl.Fatal("Failed to start server", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

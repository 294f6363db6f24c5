package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/gdelt-ingest/internal/archive"
	"github.com/yourorg/gdelt-ingest/internal/config"
	"github.com/yourorg/gdelt-ingest/internal/httpx"
	"github.com/yourorg/gdelt-ingest/internal/ledger"
	"github.com/yourorg/gdelt-ingest/internal/sink"
)

// FromConfig wires a Runner for cfg: the shared HTTP client, the sink, the
// archive processor and the dedup tracker. The caller must Close the
// returned runner's tracker. A ledger that cannot be opened is fatal.
func FromConfig(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Runner, error) {
	sessionID := cfg.General.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger = logger.With(zap.String("session_id", sessionID))

	client := httpx.New(httpx.Options{
		Timeout:      cfg.HTTP.Timeout,
		Retries:      cfg.HTTP.Retries,
		RetryWaitMin: cfg.HTTP.RetryWaitMin,
		RetryWaitMax: cfg.HTTP.RetryWaitMax,
		UserAgent:    cfg.HTTP.UserAgent,
	}, logger)

	store, err := ledger.OpenStore(ctx, cfg.Dedup.Backend, cfg.DedupLocation())
	if err != nil {
		return nil, fmt.Errorf("open dedup store: %w", err)
	}
	tracker, err := ledger.Open(ctx, store, logger.Named("ledger"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	gw := sink.NewHEC(client, cfg.HEC.URL, cfg.HECHeaders(), logger.Named("sink"))
	proc := archive.New(client, gw, archive.Config{
		Index:     cfg.GDELT.Index,
		Source:    cfg.General.Source,
		SessionID: sessionID,
		BatchSize: cfg.HEC.BatchSize,
	}, logger.Named("archive"))

	return New(client, tracker, proc, Options{
		LiveManifests:   cfg.GDELT.LiveManifests,
		SampleManifests: cfg.GDELT.SampleManifests,
		Concurrency:     cfg.General.Concurrency,
	}, logger), nil
}

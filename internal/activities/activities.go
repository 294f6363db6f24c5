package activities

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/yourorg/gdelt-ingest/internal/pipeline"
	"github.com/yourorg/gdelt-ingest/internal/types"
)

// Registered activity names, matching workflow.ExecuteActivity calls.
const (
	DiscoverWorkItemsName = "Activities.DiscoverWorkItems"
	ProcessWorkItemName   = "Activities.ProcessWorkItem"
	RecordDeliveredName   = "Activities.RecordDelivered"
)

type Config struct {
	// HeartbeatEvery is how often a long download/post reports liveness.
	HeartbeatEvery time.Duration
}

type Activities struct {
	cfg    Config
	runner *pipeline.Runner
}

func New(cfg Config, runner *pipeline.Runner) *Activities {
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = 10 * time.Second
	}
	return &Activities{cfg: cfg, runner: runner}
}

func (a *Activities) DiscoverWorkItems(ctx context.Context, p types.CycleParams) (types.DiscoverResult, error) {
	activity.GetLogger(ctx).Info("Discovering archives", "sample", p.Sample)
	return a.runner.Discover(ctx, p.Sample)
}

// ProcessWorkItem downloads and forwards one archive. Item-level failures
// are reported in the outcome, not as activity errors, so Temporal does not
// re-post rows that were already acknowledged.
func (a *Activities) ProcessWorkItem(ctx context.Context, item types.WorkItem) (types.Outcome, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(a.cfg.HeartbeatEvery)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx, item.ID)
			}
		}
	}()

	out := a.runner.Process(ctx, item)
	activity.GetLogger(ctx).Info("Processed archive", "url", item.URL, "status", string(out.Status), "rows", out.Rows)
	return out, nil
}

func (a *Activities) RecordDelivered(ctx context.Context, id int64) error {
	return a.runner.Tracker().Record(ctx, id)
}

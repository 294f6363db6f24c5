package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yourorg/gdelt-ingest/internal/types"
)

// Name is the registered workflow type, used by the API to start cycles.
const Name = "IngestCycleWorkflow"

// DefaultConcurrency bounds in-flight archives when the params leave it unset.
const DefaultConcurrency = 8

// IngestCycleWorkflow discovers pending archives, processes them in windows
// of at most Concurrency activities and records each archive id whose
// archives were all delivered.
func IngestCycleWorkflow(ctx workflow.Context, p types.CycleParams) (types.CycleSummary, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	var disc types.DiscoverResult
	if err := workflow.ExecuteActivity(ctx, "Activities.DiscoverWorkItems", p).Get(ctx, &disc); err != nil {
		return types.CycleSummary{}, err
	}
	sum := types.CycleSummary{Candidates: disc.Candidates, Pending: len(disc.Pending)}

	n := p.Concurrency
	if n < 1 {
		n = DefaultConcurrency
	}
	outs := make([]types.Outcome, 0, len(disc.Pending))
	for start := 0; start < len(disc.Pending); start += n {
		window := disc.Pending[start:min(start+n, len(disc.Pending))]

		// fan-out processing
		futures := make([]workflow.Future, len(window))
		for i, item := range window {
			futures[i] = workflow.ExecuteActivity(ctx, "Activities.ProcessWorkItem", item)
		}
		for i := range futures {
			var out types.Outcome
			if err := futures[i].Get(ctx, &out); err != nil {
				logger.Error("Archive activity failed", "url", window[i].URL, "error", err)
				out = types.Outcome{Item: window[i], Status: types.StatusFailed, Error: err.Error()}
			}
			outs = append(outs, out)
			sum.Add(out)
		}
	}

	// an id is recorded only once every archive sharing it was delivered
	for _, id := range types.DeliveredIDs(outs) {
		if err := workflow.ExecuteActivity(ctx, "Activities.RecordDelivered", id).Get(ctx, nil); err != nil {
			// rows are already in the sink; the archive is sent again next cycle
			logger.Error("Failed to record delivered archive", "archive_id", id, "error", err)
		}
	}

	logger.Info("Ingest cycle complete",
		"candidates", sum.Candidates, "pending", sum.Pending, "delivered", sum.Delivered,
		"failed", sum.Failed, "rows", sum.Rows)
	return sum, nil
}

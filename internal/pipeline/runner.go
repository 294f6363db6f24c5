// Package pipeline drives ingest cycles: fetch the manifests, drop archives
// already delivered, process the rest on a bounded pool and record what was
// fully delivered.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/gdelt-ingest/internal/dispatch"
	"github.com/yourorg/gdelt-ingest/internal/iopkg"
	"github.com/yourorg/gdelt-ingest/internal/ledger"
	"github.com/yourorg/gdelt-ingest/internal/manifest"
	"github.com/yourorg/gdelt-ingest/internal/metrics"
	"github.com/yourorg/gdelt-ingest/internal/types"
)

// ErrNoManifest means none of the manifests could be read.
var ErrNoManifest = errors.New("no manifest could be read")

// Fetcher downloads documents over HTTP.
type Fetcher interface {
	Get(ctx context.Context, url string, header http.Header) ([]byte, error)
}

// Processor handles a single archive.
type Processor interface {
	Process(ctx context.Context, item types.WorkItem) types.Outcome
}

type Options struct {
	// LiveManifests are fetched over HTTP; SampleManifests are file:// or
	// s3:// URIs read in sample mode.
	LiveManifests   []string
	SampleManifests []string
	Concurrency     int
}

type Runner struct {
	fetch   Fetcher
	tracker *ledger.Tracker
	proc    Processor
	opts    Options
	logger  *zap.Logger
}

func New(fetch Fetcher, tracker *ledger.Tracker, proc Processor, opts Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Runner{fetch: fetch, tracker: tracker, proc: proc, opts: opts, logger: logger}
}

// Tracker exposes the dedup tracker.
func (r *Runner) Tracker() *ledger.Tracker { return r.tracker }

func (r *Runner) pool(concurrency int) *dispatch.Pool {
	if concurrency < 1 {
		concurrency = r.opts.Concurrency
	}
	return dispatch.New(concurrency, r.logger.Named("dispatch"))
}

// readManifest loads one manifest document. http(s) locations go through the
// retrying client; anything else is a file:// or s3:// URI.
func (r *Runner) readManifest(ctx context.Context, loc string) (string, error) {
	var (
		b   []byte
		err error
	)
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		b, err = r.fetch.Get(ctx, loc, nil)
	} else {
		b, err = iopkg.ReadFile(ctx, loc)
	}
	if err != nil {
		return "", fmt.Errorf("read manifest %s: %w", loc, err)
	}
	return string(b), nil
}

// FetchManifests reads all manifests concurrently and merges the parsed
// results. A manifest that cannot be read is logged and skipped; the call
// fails only when every manifest failed.
func (r *Runner) FetchManifests(ctx context.Context, locations []string) (manifest.Result, error) {
	reports := dispatch.Map(ctx, r.pool(len(locations)), locations, func(ctx context.Context, loc string) (manifest.Result, error) {
		text, err := r.readManifest(ctx, loc)
		if err != nil {
			return manifest.Result{}, err
		}
		return manifest.Parse(text, r.logger.With(zap.String("manifest", loc))), nil
	})

	results := make([]manifest.Result, 0, len(reports))
	for _, rep := range reports {
		if rep.Err != nil {
			r.logger.Error("manifest fetch failed", zap.String("manifest", locations[rep.Index]), zap.Error(rep.Err))
			continue
		}
		results = append(results, rep.Value)
	}
	if len(locations) > 0 && len(results) == 0 {
		return manifest.Result{}, fmt.Errorf("%w: %w", ErrNoManifest, dispatch.Errors(reports))
	}
	merged := manifest.Merge(results...)
	metrics.ManifestRows.WithLabelValues("item").Add(float64(len(merged.Items)))
	metrics.ManifestRows.WithLabelValues("malformed").Add(float64(merged.Malformed))
	metrics.ManifestRows.WithLabelValues("gkg").Add(float64(merged.Graph))
	metrics.ManifestRows.WithLabelValues("unmatched").Add(float64(merged.Unmatched))
	return merged, nil
}

// Discover builds the work list of a cycle: candidates from the manifests
// minus everything already delivered.
func (r *Runner) Discover(ctx context.Context, sample bool) (types.DiscoverResult, error) {
	locs := r.opts.LiveManifests
	if sample {
		locs = r.opts.SampleManifests
	}
	res, err := r.FetchManifests(ctx, locs)
	if err != nil {
		return types.DiscoverResult{}, err
	}
	pending := r.tracker.Filter(res.Items)
	r.logger.Info("discovered archives",
		zap.Bool("sample", sample),
		zap.Int("candidates", len(res.Items)),
		zap.Int("pending", len(pending)),
		zap.Int("malformed", res.Malformed))
	return types.DiscoverResult{Candidates: len(res.Items), Pending: pending}, nil
}

// Process processes one archive without recording it.
func (r *Runner) Process(ctx context.Context, item types.WorkItem) types.Outcome {
	return r.proc.Process(ctx, item)
}

// ProcessAll runs every item on the pool and returns the outcomes in input
// order. An archive id is recorded once every item carrying it was delivered.
// A record failure leaves the outcomes delivered; those archives will be sent
// again on a later cycle.
func (r *Runner) ProcessAll(ctx context.Context, items []types.WorkItem, concurrency int) []types.Outcome {
	reports := dispatch.Map(ctx, r.pool(concurrency), items, func(ctx context.Context, it types.WorkItem) (types.Outcome, error) {
		return r.proc.Process(ctx, it), nil
	})
	outs := make([]types.Outcome, len(reports))
	for i, rep := range reports {
		outs[i] = rep.Value
		if rep.Err != nil {
			outs[i] = types.Outcome{Item: items[i], Status: types.StatusFailed, Error: rep.Err.Error()}
		}
	}
	r.recordDelivered(ctx, outs)
	return outs
}

func (r *Runner) recordDelivered(ctx context.Context, outs []types.Outcome) {
	for _, id := range types.DeliveredIDs(outs) {
		err := r.tracker.Record(ctx, id)
		if err == nil {
			continue
		}
		r.logger.Error("failed to record delivered archive", zap.Int64("archive_id", id), zap.Error(err))
		for i := range outs {
			if outs[i].Item.ID == id {
				outs[i].Error = err.Error()
			}
		}
	}
}

// RunCycle performs one full fetch, filter, process and record pass.
func (r *Runner) RunCycle(ctx context.Context, p types.CycleParams) (types.CycleSummary, error) {
	start := time.Now()
	disc, err := r.Discover(ctx, p.Sample)
	if err != nil {
		return types.CycleSummary{}, err
	}
	sum := types.CycleSummary{Candidates: disc.Candidates, Pending: len(disc.Pending)}
	for _, o := range r.ProcessAll(ctx, disc.Pending, p.Concurrency) {
		sum.Add(o)
	}
	r.logger.Info("ingest cycle complete",
		zap.Int("candidates", sum.Candidates),
		zap.Int("pending", sum.Pending),
		zap.Int("delivered", sum.Delivered),
		zap.Int("empty", sum.Empty),
		zap.Int("corrupt", sum.Corrupt),
		zap.Int("failed", sum.Failed),
		zap.Int("rows", sum.Rows),
		zap.Int("rejected_rows", sum.RejectedRows),
		zap.Duration("took", time.Since(start)))
	return sum, nil
}

// Loop runs a cycle immediately and then every interval until ctx is done.
// A failed cycle is logged and the loop carries on.
func (r *Runner) Loop(ctx context.Context, interval time.Duration, p types.CycleParams) error {
	if interval <= 0 {
		return errors.New("interval must be positive")
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := r.RunCycle(ctx, p); err != nil {
			r.logger.Error("ingest cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

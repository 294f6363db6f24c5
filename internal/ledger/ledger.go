// Package ledger tracks which archives have been fully delivered.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/yourorg/gdelt-ingest/internal/metrics"
	"github.com/yourorg/gdelt-ingest/internal/types"
)

// Store persists the set of delivered archive ids.
type Store interface {
	// Load returns every recorded id. A store with no state returns an
	// empty slice and no error.
	Load(ctx context.Context) ([]int64, error)
	// Commit persists a newly recorded id. all is the complete set after the
	// insert, for stores that rewrite their whole representation.
	Commit(ctx context.Context, id int64, all []int64) error
	Close() error
}

// Tracker is the in-memory view of the delivered set backed by a Store.
// Filter is meant to run before processing starts; Record may be called
// from many workers at once.
type Tracker struct {
	store  Store
	logger *zap.Logger

	mu  sync.Mutex
	ids map[int64]struct{}
}

// initializer is implemented by stores that create their backing object
// before the first commit.
type initializer interface {
	Init(ctx context.Context) error
}

// Open establishes and loads the persisted set. Failure here is fatal for a
// run.
func Open(ctx context.Context, store Store, logger *zap.Logger) (*Tracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if in, ok := store.(initializer); ok {
		if err := in.Init(ctx); err != nil {
			return nil, fmt.Errorf("establish ledger: %w", err)
		}
	}
	ids, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load delivered ids: %w", err)
	}
	t := &Tracker{store: store, logger: logger, ids: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		t.ids[id] = struct{}{}
	}
	metrics.LedgerSize.Set(float64(len(t.ids)))
	logger.Info("loaded delivered archive ids", zap.Int("count", len(t.ids)))
	return t, nil
}

// Filter returns the candidates whose id has not been delivered yet.
func (t *Tracker) Filter(candidates []types.WorkItem) []types.WorkItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	pending := make([]types.WorkItem, 0, len(candidates))
	skipped := 0
	for _, it := range candidates {
		if _, ok := t.ids[it.ID]; ok {
			skipped++
			t.logger.Debug("skipping archive already delivered",
				zap.Int64("archive_id", it.ID), zap.String("url", it.URL), zap.Int("skipped", skipped))
			continue
		}
		pending = append(pending, it)
	}
	t.logger.Debug("skipped delivered archives", zap.Int("skipped_count", skipped), zap.Int("pending", len(pending)))
	return pending
}

// Record marks id as delivered and persists the change. Recording an id
// that is already present is a no-op. The lock covers the store write so
// concurrent full rewrites cannot overwrite each other.
func (t *Tracker) Record(ctx context.Context, id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ids[id]; ok {
		return nil
	}
	t.ids[id] = struct{}{}
	if err := t.store.Commit(ctx, id, t.sortedLocked()); err != nil {
		delete(t.ids, id)
		return fmt.Errorf("persist archive id %d: %w", id, err)
	}
	metrics.LedgerSize.Set(float64(len(t.ids)))
	t.logger.Debug("recorded delivered archive", zap.Int64("archive_id", id), zap.Int("count", len(t.ids)))
	return nil
}

// Contains reports whether id has been delivered.
func (t *Tracker) Contains(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ids[id]
	return ok
}

// Len is the number of delivered ids.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}

// Snapshot returns the delivered ids in ascending order.
func (t *Tracker) Snapshot() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sortedLocked()
}

func (t *Tracker) sortedLocked() []int64 {
	out := make([]int64, 0, len(t.ids))
	for id := range t.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close releases the underlying store.
func (t *Tracker) Close() error { return t.store.Close() }

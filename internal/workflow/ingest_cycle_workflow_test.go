package workflow_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tactivity "go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/yourorg/gdelt-ingest/internal/activities"
	"github.com/yourorg/gdelt-ingest/internal/ledger"
	"github.com/yourorg/gdelt-ingest/internal/pipeline"
	"github.com/yourorg/gdelt-ingest/internal/types"
	"github.com/yourorg/gdelt-ingest/internal/workflow"
)

type fakeProcessor struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	failing  map[int64]bool
	failKind types.Kind
}

func (f *fakeProcessor) Process(_ context.Context, it types.WorkItem) types.Outcome {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	if f.failing[it.ID] && (f.failKind == "" || f.failKind == it.Kind) {
		return types.Outcome{Item: it, Status: types.StatusFailed, Error: "sink down"}
	}
	return types.Outcome{Item: it, Status: types.StatusDelivered, Rows: 3}
}

func setup(t *testing.T, ids []int64, proc *fakeProcessor) (*testsuite.TestWorkflowEnvironment, *ledger.Tracker) {
	t.Helper()
	var lines []string
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("1 abc http://data.gdeltproject.org/gdeltv2/%d.export.CSV.zip", id))
	}
	return setupManifest(t, lines, proc)
}

func setupManifest(t *testing.T, lines []string, proc *fakeProcessor) (*testsuite.TestWorkflowEnvironment, *ledger.Tracker) {
	t.Helper()
	dir := t.TempDir()
	manifest := filepath.Join(dir, "sample_masterfilelist.txt")
	require.NoError(t, os.WriteFile(manifest, []byte(strings.Join(lines, "\n")), 0o644))

	tracker, err := ledger.Open(context.Background(), ledger.NewFileStore(filepath.Join(dir, "ids.json")), nil)
	require.NoError(t, err)
	runner := pipeline.New(nil, tracker, proc, pipeline.Options{SampleManifests: []string{manifest}, Concurrency: 2}, nil)
	acts := activities.New(activities.Config{}, runner)

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(workflow.IngestCycleWorkflow)
	env.RegisterActivityWithOptions(acts.DiscoverWorkItems, tactivity.RegisterOptions{Name: activities.DiscoverWorkItemsName})
	env.RegisterActivityWithOptions(acts.ProcessWorkItem, tactivity.RegisterOptions{Name: activities.ProcessWorkItemName})
	env.RegisterActivityWithOptions(acts.RecordDelivered, tactivity.RegisterOptions{Name: activities.RecordDeliveredName})
	return env, tracker
}

func TestIngestCycleWorkflow(t *testing.T) {
	ids := []int64{20191121011500, 20191121013000, 20191121014500, 20191121020000, 20191121021500}
	proc := &fakeProcessor{failing: map[int64]bool{20191121014500: true}}
	env, tracker := setup(t, ids, proc)

	env.ExecuteWorkflow(workflow.IngestCycleWorkflow, types.CycleParams{Sample: true, Concurrency: 2})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var sum types.CycleSummary
	require.NoError(t, env.GetWorkflowResult(&sum))
	assert.Equal(t, 5, sum.Candidates)
	assert.Equal(t, 5, sum.Pending)
	assert.Equal(t, 4, sum.Delivered)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 12, sum.Rows)
	assert.LessOrEqual(t, proc.peak, 2)

	assert.Equal(t, []int64{20191121011500, 20191121013000, 20191121020000, 20191121021500}, tracker.Snapshot())
	assert.False(t, tracker.Contains(20191121014500))
}

func TestIngestCycleWorkflowNothingPending(t *testing.T) {
	proc := &fakeProcessor{}
	env, tracker := setup(t, []int64{20191121011500}, proc)
	require.NoError(t, tracker.Record(context.Background(), 20191121011500))

	env.ExecuteWorkflow(workflow.IngestCycleWorkflow, types.CycleParams{Sample: true})
	require.NoError(t, env.GetWorkflowError())
	var sum types.CycleSummary
	require.NoError(t, env.GetWorkflowResult(&sum))
	assert.Equal(t, 1, sum.Candidates)
	assert.Zero(t, sum.Pending)
	assert.Zero(t, proc.peak)
}

func TestIngestCycleWorkflowSharedIDWaitsForSiblings(t *testing.T) {
	lines := []string{
		"1 abc http://data.gdeltproject.org/gdeltv2/20191121011500.export.CSV.zip",
		"2 def http://data.gdeltproject.org/gdeltv2/20191121011500.mentions.CSV.zip",
		"3 ghi http://data.gdeltproject.org/gdeltv2/20191121013000.export.CSV.zip",
		"4 jkl http://data.gdeltproject.org/gdeltv2/20191121013000.translation.mentions.CSV.zip",
	}
	proc := &fakeProcessor{failing: map[int64]bool{20191121011500: true}, failKind: types.KindMention}
	env, tracker := setupManifest(t, lines, proc)

	// windows of one keep siblings in different windows
	env.ExecuteWorkflow(workflow.IngestCycleWorkflow, types.CycleParams{Sample: true, Concurrency: 1})
	require.NoError(t, env.GetWorkflowError())
	var sum types.CycleSummary
	require.NoError(t, env.GetWorkflowResult(&sum))
	assert.Equal(t, 3, sum.Delivered)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []int64{20191121013000}, tracker.Snapshot())
}

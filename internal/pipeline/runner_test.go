package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yourorg/gdelt-ingest/internal/archive"
	"github.com/yourorg/gdelt-ingest/internal/httpx"
	"github.com/yourorg/gdelt-ingest/internal/ledger"
	"github.com/yourorg/gdelt-ingest/internal/sink"
	"github.com/yourorg/gdelt-ingest/internal/types"
)

func zipped(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func row(width int, set map[int]string) string {
	cols := make([]string, width)
	for i, v := range set {
		cols[i] = v
	}
	return strings.Join(cols, "\t") + "\n"
}

// gdeltFake serves manifests and archives under /gdeltv2/ and acts as the
// event collector under /collector.
type gdeltFake struct {
	srv      *httptest.Server
	archives map[string][]byte
	manifest string
	posts    int32

	mu     sync.Mutex
	events []string
}

func newGDELTFake(t *testing.T) *gdeltFake {
	f := &gdeltFake{archives: map[string][]byte{}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/collector":
			atomic.AddInt32(&f.posts, 1)
			b, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.events = append(f.events, strings.Split(strings.TrimSpace(string(b)), "\n")...)
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"text":"Success","code":0}`))
		case r.URL.Path == "/gdeltv2/lastupdate.txt":
			_, _ = io.WriteString(w, f.manifest)
		default:
			b, ok := f.archives[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(b)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *gdeltFake) url(p string) string { return f.srv.URL + p }

func newRunner(t *testing.T, f *gdeltFake, ledgerPath string, opts Options) *Runner {
	t.Helper()
	logger := zaptest.NewLogger(t)
	client := httpx.New(httpx.Options{Timeout: 2 * time.Second, Retries: 1, RetryWaitMin: time.Millisecond, RetryWaitMax: time.Millisecond}, logger)
	tracker, err := ledger.Open(context.Background(), ledger.NewFileStore(ledgerPath), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracker.Close() })
	proc := archive.New(client, sink.NewHEC(client, f.url("/collector"), nil, logger),
		archive.Config{Index: "gdelt", Source: "test", SessionID: "s"}, logger)
	if opts.Concurrency == 0 {
		opts.Concurrency = 4
	}
	return New(client, tracker, proc, opts, logger)
}

func seed(t *testing.T, f *gdeltFake) {
	eventPath := "/gdeltv2/20191121011500.export.CSV.zip"
	mentionPath := "/gdeltv2/20191121011500.translation.mentions.CSV.zip"
	f.archives[eventPath] = zipped(t, "20191121011500.export.CSV", row(61, map[int]string{0: "1", 29: "2"}))
	f.archives[mentionPath] = zipped(t, "20191121011500.translation.mentions.CSV", row(16, map[int]string{0: "1", 3: "1"}))
	f.manifest = strings.Join([]string{
		"150383 297a16b493de7cf6ca809a7cc31d0b93 " + f.url(eventPath),
		"318084 bb27f78ba45f69a17ea6ed7755e9f8ff " + f.url(mentionPath),
		"this row is malformed",
		"10768507 ea8dde0beb0ba98810a92db068c0ce99 " + f.url("/gdeltv2/20191121011500.gkg.csv.zip"),
	}, "\n") + "\n"
}

func TestRunCycleEndToEnd(t *testing.T) {
	f := newGDELTFake(t)
	seed(t, f)
	ledgerPath := filepath.Join(t.TempDir(), "read_ids.json")
	r := newRunner(t, f, ledgerPath, Options{LiveManifests: []string{f.url("/gdeltv2/lastupdate.txt")}})

	sum, err := r.RunCycle(context.Background(), types.CycleParams{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Candidates)
	assert.Equal(t, 2, sum.Pending)
	assert.Equal(t, 2, sum.Delivered)
	assert.Equal(t, 2, sum.Rows)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.posts))
	assert.Len(t, f.events, 2)
	assert.ElementsMatch(t, []int64{20191121011500}, r.Tracker().Snapshot())

	// both archives share an id, so the second cycle has nothing to send
	sum, err = r.RunCycle(context.Background(), types.CycleParams{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Candidates)
	assert.Zero(t, sum.Pending)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.posts))

	b, err := os.ReadFile(ledgerPath)
	require.NoError(t, err)
	assert.JSONEq(t, `[20191121011500]`, string(b))
}

func TestRunCycleSharedIDWaitsForEveryArchive(t *testing.T) {
	f := newGDELTFake(t)
	eventPath := "/gdeltv2/20191121011500.export.CSV.zip"
	mentionPath := "/gdeltv2/20191121011500.mentions.CSV.zip"
	f.archives[eventPath] = zipped(t, "20191121011500.export.CSV", row(61, map[int]string{0: "1", 29: "1"}))
	f.manifest = fmt.Sprintf("1 abc %s\n2 def %s\n", f.url(eventPath), f.url(mentionPath))
	r := newRunner(t, f, filepath.Join(t.TempDir(), "ids.json"), Options{LiveManifests: []string{f.url("/gdeltv2/lastupdate.txt")}})

	// mentions archive not published yet
	sum, err := r.RunCycle(context.Background(), types.CycleParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Delivered)
	assert.Equal(t, 1, sum.Failed)
	assert.False(t, r.Tracker().Contains(20191121011500))

	f.archives[mentionPath] = zipped(t, "20191121011500.mentions.CSV", row(16, map[int]string{0: "1", 3: "2"}))
	sum, err = r.RunCycle(context.Background(), types.CycleParams{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Pending)
	assert.Equal(t, 2, sum.Delivered)
	assert.True(t, r.Tracker().Contains(20191121011500))

	f.mu.Lock()
	var mentions int
	for _, e := range f.events {
		if strings.Contains(e, `"MentionTypeFull":"CITATIONONLY"`) {
			mentions++
		}
	}
	f.mu.Unlock()
	assert.Equal(t, 1, mentions)

	sum, err = r.RunCycle(context.Background(), types.CycleParams{})
	require.NoError(t, err)
	assert.Zero(t, sum.Pending)
}

func TestRunCycleSecondProcessSkipsDelivered(t *testing.T) {
	f := newGDELTFake(t)
	seed(t, f)
	ledgerPath := filepath.Join(t.TempDir(), "read_ids.json")
	opts := Options{LiveManifests: []string{f.url("/gdeltv2/lastupdate.txt")}}

	_, err := newRunner(t, f, ledgerPath, opts).RunCycle(context.Background(), types.CycleParams{})
	require.NoError(t, err)
	posts := atomic.LoadInt32(&f.posts)

	// a fresh runner reloads the persisted set
	sum, err := newRunner(t, f, ledgerPath, opts).RunCycle(context.Background(), types.CycleParams{})
	require.NoError(t, err)
	assert.Zero(t, sum.Pending)
	assert.Equal(t, posts, atomic.LoadInt32(&f.posts))
}

func TestRunCycleFailedItemIsRetried(t *testing.T) {
	f := newGDELTFake(t)
	eventPath := "/gdeltv2/20191121013000.export.CSV.zip"
	f.manifest = fmt.Sprintf("1 abc %s\n", f.url(eventPath))
	r := newRunner(t, f, filepath.Join(t.TempDir(), "ids.json"), Options{LiveManifests: []string{f.url("/gdeltv2/lastupdate.txt")}})

	// archive missing: 404, not recorded
	sum, err := r.RunCycle(context.Background(), types.CycleParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Zero(t, r.Tracker().Len())

	f.archives[eventPath] = zipped(t, "e.CSV", row(61, map[int]string{29: "4"}))
	sum, err = r.RunCycle(context.Background(), types.CycleParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Delivered)
	assert.True(t, r.Tracker().Contains(20191121013000))
}

func TestDiscoverSampleManifests(t *testing.T) {
	f := newGDELTFake(t)
	seed(t, f)
	dir := t.TempDir()
	p1 := filepath.Join(dir, "sample_masterfilelist.txt")
	p2 := filepath.Join(dir, "sample_masterfilelist-translation.txt")
	require.NoError(t, os.WriteFile(p1, []byte(f.manifest), 0o644))
	require.NoError(t, os.WriteFile(p2, []byte(f.manifest+"1 2 "+f.url("/gdeltv2/20191121014500.mentions.CSV.zip")+"\n"), 0o644))

	r := newRunner(t, f, filepath.Join(dir, "ids.json"), Options{SampleManifests: []string{"file://" + p1, p2}})
	disc, err := r.Discover(context.Background(), true)
	require.NoError(t, err)
	// duplicate URLs across the two lists collapse
	assert.Equal(t, 3, disc.Candidates)
	assert.Len(t, disc.Pending, 3)
}

func TestFetchManifestsPartialFailure(t *testing.T) {
	f := newGDELTFake(t)
	seed(t, f)
	r := newRunner(t, f, filepath.Join(t.TempDir(), "ids.json"), Options{})

	res, err := r.FetchManifests(context.Background(), []string{f.url("/gdeltv2/lastupdate.txt"), f.url("/gdeltv2/missing.txt")})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, 1, res.Malformed)
	assert.Equal(t, 1, res.Graph)

	_, err = r.FetchManifests(context.Background(), []string{f.url("/gdeltv2/missing.txt")})
	assert.ErrorIs(t, err, ErrNoManifest)
}

type stubProcessor struct {
	mu    sync.Mutex
	calls int
	out   func(types.WorkItem) types.Outcome
}

func (s *stubProcessor) Process(_ context.Context, it types.WorkItem) types.Outcome {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.out(it)
}

func TestProcessAllRecordsOnlyDelivered(t *testing.T) {
	tracker, err := ledger.Open(context.Background(), ledger.NewFileStore(filepath.Join(t.TempDir(), "ids.json")), nil)
	require.NoError(t, err)
	statuses := map[int64]types.Status{
		20191121011500: types.StatusDelivered,
		20191121013000: types.StatusEmpty,
		20191121014500: types.StatusCorrupt,
		20191121020000: types.StatusFailed,
	}
	proc := &stubProcessor{out: func(it types.WorkItem) types.Outcome {
		return types.Outcome{Item: it, Status: statuses[it.ID]}
	}}
	r := New(nil, tracker, proc, Options{Concurrency: 2}, nil)

	var items []types.WorkItem
	for id := range statuses {
		items = append(items, types.WorkItem{ID: id, Kind: types.KindEvent})
	}
	outs := r.ProcessAll(context.Background(), items, 0)
	require.Len(t, outs, 4)
	for i, o := range outs {
		assert.Equal(t, items[i].ID, o.Item.ID)
	}
	assert.Equal(t, 4, proc.calls)
	assert.Equal(t, []int64{20191121011500}, tracker.Snapshot())
}

func TestProcessAllRecordsIDOnlyWhenEveryKindDelivered(t *testing.T) {
	tracker, err := ledger.Open(context.Background(), ledger.NewFileStore(filepath.Join(t.TempDir(), "ids.json")), nil)
	require.NoError(t, err)
	proc := &stubProcessor{out: func(it types.WorkItem) types.Outcome {
		if it.ID == 20191121013000 && it.Kind == types.KindMention {
			return types.Outcome{Item: it, Status: types.StatusFailed}
		}
		return types.Outcome{Item: it, Status: types.StatusDelivered}
	}}
	r := New(nil, tracker, proc, Options{Concurrency: 4}, nil)

	items := []types.WorkItem{
		{ID: 20191121011500, Kind: types.KindEvent},
		{ID: 20191121011500, Kind: types.KindMention},
		{ID: 20191121013000, Kind: types.KindEvent},
		{ID: 20191121013000, Kind: types.KindMention},
	}
	r.ProcessAll(context.Background(), items, 0)
	assert.Equal(t, []int64{20191121011500}, tracker.Snapshot())
}

func TestLoopStopsOnCancel(t *testing.T) {
	f := newGDELTFake(t)
	seed(t, f)
	r := newRunner(t, f, filepath.Join(t.TempDir(), "ids.json"), Options{LiveManifests: []string{f.url("/gdeltv2/lastupdate.txt")}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Loop(ctx, time.Hour, types.CycleParams{}) }()

	require.Eventually(t, func() bool { return r.Tracker().Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}

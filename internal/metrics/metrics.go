package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ManifestRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gdelt_ingest",
		Name:      "manifest_rows_total",
		Help:      "Manifest rows seen, by result (item, malformed, gkg, unmatched).",
	}, []string{"result"})
	WorkItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gdelt_ingest",
		Name:      "work_items_total",
		Help:      "Archives processed, by kind and terminal status.",
	}, []string{"kind", "status"})
	RowsDecoded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gdelt_ingest",
		Name:      "rows_decoded_total",
		Help:      "Rows decoded into envelopes, by kind.",
	}, []string{"kind"})
	RowsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gdelt_ingest",
		Name:      "rows_rejected_total",
		Help:      "Rows dropped because a coded field could not be expanded, by kind.",
	}, []string{"kind"})
	SinkPosts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gdelt_ingest",
		Name:      "sink_posts_total",
		Help:      "Batches posted to the event collector, by result.",
	}, []string{"result"})
	LedgerSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gdelt_ingest",
		Name:      "ledger_size",
		Help:      "Number of archive ids recorded as delivered.",
	})
)

// Init registers collectors; call once from main.
func Init() {
	prometheus.MustRegister(ManifestRows, WorkItems, RowsDecoded, RowsRejected, SinkPosts, LedgerSize)
}

// Serve starts a /metrics server on the given addr (e.g., ":9090"). Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}

package types

import (
	"fmt"
	"strconv"
	"time"
)

// Kind identifies which of the two GDELT record schemas an archive holds.
type Kind string

const (
	KindEvent   Kind = "event"
	KindMention Kind = "mention"
)

// Sourcetype returns the sink sourcetype for records of this kind.
func (k Kind) Sourcetype() string { return "gdelt_" + string(k) }

// IDLayout is the layout of the 14-digit timestamp embedded in archive names.
const IDLayout = "20060102150405"

// WorkItem is one archive to fetch and process. ID is the archive's
// timestamp as an integer, e.g. 20191121011500.
type WorkItem struct {
	ID   int64  `json:"id"`
	URL  string `json:"url"`
	Kind Kind   `json:"kind"`
}

// Time decodes the item's ID as a UTC instant.
func (w WorkItem) Time() (time.Time, error) { return ParseID(w.ID) }

// ParseID decodes a YYYYMMDDHHMMSS archive id.
func ParseID(id int64) (time.Time, error) {
	s := strconv.FormatInt(id, 10)
	if len(s) != len(IDLayout) {
		return time.Time{}, fmt.Errorf("archive id %d: want %d digits", id, len(IDLayout))
	}
	t, err := time.ParseInLocation(IDLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("archive id %d: %w", id, err)
	}
	return t, nil
}

// Envelope is the outbound structure for a single decoded row.
type Envelope struct {
	Time       int64          `json:"time"`
	Index      string         `json:"index"`
	Sourcetype string         `json:"sourcetype"`
	Source     string         `json:"source"`
	Event      map[string]any `json:"event"`
}

// Status is the terminal state of processing one WorkItem.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusEmpty     Status = "empty"
	StatusCorrupt   Status = "corrupt"
	StatusFailed    Status = "failed"
)

// Outcome summarizes the processing of one WorkItem. Only a delivered
// outcome makes the item eligible for dedup recording.
type Outcome struct {
	Item         WorkItem `json:"item"`
	Status       Status   `json:"status"`
	Entries      int      `json:"entries"`
	Rows         int      `json:"rows"`
	RejectedRows int      `json:"rejected_rows"`
	Batches      int      `json:"batches"`
	Error        string   `json:"error,omitempty"`
}

// Delivered reports whether every row of the item reached the sink.
func (o Outcome) Delivered() bool { return o.Status == StatusDelivered }

// CycleParams is the input of one ingest cycle run as a workflow.
type CycleParams struct {
	// Sample reads the configured sample manifests instead of the live ones.
	Sample bool `json:"sample"`
	// Concurrency bounds the number of archives processed at once; zero
	// means the worker's configured default.
	Concurrency int `json:"concurrency"`
}

// DiscoverResult is what the discovery step hands to the fan-out step.
type DiscoverResult struct {
	Candidates int        `json:"candidates"`
	Pending    []WorkItem `json:"pending"`
}

// CycleSummary aggregates the outcomes of one cycle.
type CycleSummary struct {
	Candidates   int `json:"candidates"`
	Pending      int `json:"pending"`
	Delivered    int `json:"delivered"`
	Empty        int `json:"empty"`
	Corrupt      int `json:"corrupt"`
	Failed       int `json:"failed"`
	Rows         int `json:"rows"`
	RejectedRows int `json:"rejected_rows"`
}

// DeliveredIDs returns the archive ids whose every outcome was delivered, in
// order of first appearance. The export and mentions archives of both
// manifests share one id, so an id with any undelivered sibling is left out.
func DeliveredIDs(outs []Outcome) []int64 {
	complete := make(map[int64]bool, len(outs))
	var order []int64
	for _, o := range outs {
		ok, seen := complete[o.Item.ID]
		if !seen {
			order = append(order, o.Item.ID)
			ok = true
		}
		complete[o.Item.ID] = ok && o.Delivered()
	}
	ids := order[:0]
	for _, id := range order {
		if complete[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

// Add folds one outcome into the summary.
func (s *CycleSummary) Add(o Outcome) {
	switch o.Status {
	case StatusDelivered:
		s.Delivered++
	case StatusEmpty:
		s.Empty++
	case StatusCorrupt:
		s.Corrupt++
	default:
		s.Failed++
	}
	s.Rows += o.Rows
	s.RejectedRows += o.RejectedRows
}

// Package archive downloads one GDELT archive, decodes its entries and
// forwards the rows to the sink.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/gdelt-ingest/internal/metrics"
	"github.com/yourorg/gdelt-ingest/internal/normalize"
	"github.com/yourorg/gdelt-ingest/internal/schema"
	"github.com/yourorg/gdelt-ingest/internal/sink"
	"github.com/yourorg/gdelt-ingest/internal/types"
)

// ErrCorrupt marks a payload that is not a readable zip container.
var ErrCorrupt = errors.New("corrupt archive")

// Fetcher downloads an archive body.
type Fetcher interface {
	Get(ctx context.Context, url string, header http.Header) ([]byte, error)
}

// Config is the per-deployment envelope metadata.
type Config struct {
	Index     string
	Source    string
	SessionID string
	// BatchSize caps the rows per sink post; zero posts each entry whole.
	BatchSize int
}

// Processor turns one WorkItem into sink posts.
type Processor struct {
	fetch  Fetcher
	sink   sink.Gateway
	cfg    Config
	logger *zap.Logger

	newRequestID func() string
}

func New(fetch Fetcher, gw sink.Gateway, cfg Config, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{fetch: fetch, sink: gw, cfg: cfg, logger: logger, newRequestID: uuid.NewString}
}

// Process handles one item end to end. It never returns an error: every
// failure is folded into the outcome, and only StatusDelivered allows the
// caller to record the item as done.
func (p *Processor) Process(ctx context.Context, item types.WorkItem) (out types.Outcome) {
	out = types.Outcome{Item: item}
	requestID := p.newRequestID()
	l := p.logger.With(zap.String("url", item.URL), zap.Int64("archive_id", item.ID), zap.String("request_id", requestID))

	defer func() {
		if r := recover(); r != nil {
			l.Error("panic while processing archive", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			out.Status = types.StatusFailed
			out.Error = fmt.Sprintf("panic: %v", r)
		}
		metrics.WorkItems.WithLabelValues(string(item.Kind), string(out.Status)).Inc()
	}()

	fail := func(err error) types.Outcome {
		out.Status = types.StatusFailed
		out.Error = err.Error()
		return out
	}

	sch, err := schema.For(item.Kind)
	if err != nil {
		l.Error("no schema for archive", zap.Error(err))
		return fail(err)
	}
	ts, err := item.Time()
	if err != nil {
		l.Error("archive id is not a timestamp", zap.Error(err))
		return fail(err)
	}

	hdr := http.Header{}
	hdr.Set("X-Request-ID", requestID)
	body, err := p.fetch.Get(ctx, item.URL, hdr)
	if err != nil {
		l.Error("download failed", zap.Error(err))
		return fail(err)
	}
	if len(body) == 0 {
		l.Warn("archive body is empty")
		out.Status = types.StatusEmpty
		return out
	}

	l.Debug("unzipping archive", zap.Int("bytes", len(body)))
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		l.Error("bad zip file", zap.Error(err))
		out.Status = types.StatusCorrupt
		out.Error = fmt.Errorf("%w: %v", ErrCorrupt, err).Error()
		return out
	}

	d := decoder{
		schema: sch,
		item:   item,
		time:   ts.Unix(),
		cfg:    p.cfg,
		ingest: map[string]any{"session_id": p.cfg.SessionID, "request_id": requestID},
	}
	var errs error
	nonEmpty := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		el := l.With(zap.String("entry", f.Name))
		if f.UncompressedSize64 == 0 {
			el.Warn("ignoring empty file")
			continue
		}
		nonEmpty++
		out.Entries++
		res, err := p.processEntry(ctx, f, d, el)
		out.Rows += res.rows
		out.RejectedRows += res.rejected
		out.Batches += res.batches
		if err != nil {
			el.Error("entry not fully delivered", zap.Error(err), zap.Int("row_count", res.rows))
			errs = errors.Join(errs, fmt.Errorf("%s: %w", f.Name, err))
		}
	}

	switch {
	case errs != nil:
		return fail(errs)
	case nonEmpty == 0:
		l.Warn("archive holds no data")
		out.Status = types.StatusEmpty
	default:
		out.Status = types.StatusDelivered
		l.Info("archive delivered",
			zap.Int("row_count", out.Rows), zap.Int("rejected", out.RejectedRows), zap.Int("batches", out.Batches))
	}
	return out
}

type entryResult struct {
	rows     int
	rejected int
	batches  int
}

// processEntry decodes one file of the archive and posts its rows in order.
func (p *Processor) processEntry(ctx context.Context, f *zip.File, d decoder, l *zap.Logger) (entryResult, error) {
	var res entryResult
	rc, err := f.Open()
	if err != nil {
		return res, fmt.Errorf("open: %w", err)
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	kind := string(d.schema.Kind)
	var batch []types.Envelope
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		b, err := sink.Encode(batch)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		if err := p.sink.Submit(ctx, b); err != nil {
			return err
		}
		res.batches++
		batch = batch[:0]
		return nil
	}

	row := 0
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("decode row %d: %w", row+1, err)
		}
		row++
		env, err := d.envelope(fields, row)
		if err != nil {
			res.rejected++
			metrics.RowsRejected.WithLabelValues(kind).Inc()
			l.Warn("dropping row", zap.Int("row", row), zap.Error(err))
			continue
		}
		batch = append(batch, env)
		res.rows++
		metrics.RowsDecoded.WithLabelValues(kind).Inc()
		if p.cfg.BatchSize > 0 && len(batch) >= p.cfg.BatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	l.Debug("found rows in entry", zap.Int("row_count", row))
	return res, flush()
}

// decoder builds envelopes for the rows of one archive.
type decoder struct {
	schema schema.Schema
	item   types.WorkItem
	time   int64
	cfg    Config
	ingest map[string]any
}

func (d decoder) envelope(fields []string, row int) (types.Envelope, error) {
	rec := d.schema.Record(fields)
	raw, _ := rec[d.schema.CodeField].(string)
	label, err := d.schema.LabelFor(raw)
	if err != nil {
		return types.Envelope{}, err
	}
	rec[d.schema.LabelField] = label
	rec["url"] = d.item.URL
	rec["row"] = row
	rec["ingest"] = d.ingest
	if v, ok := rec[d.schema.DomainField].(string); ok && v != "" {
		if host, err := normalize.Host(v); err == nil {
			rec["SourceDomain"] = host
		}
	}
	return types.Envelope{
		Time:       d.time,
		Index:      d.cfg.Index,
		Sourcetype: d.item.Kind.Sourcetype(),
		Source:     d.cfg.Source,
		Event:      rec,
	}, nil
}

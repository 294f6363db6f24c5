// Package sink posts envelope batches to a Splunk HTTP Event Collector.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/yourorg/gdelt-ingest/internal/httpx"
	"github.com/yourorg/gdelt-ingest/internal/metrics"
	"github.com/yourorg/gdelt-ingest/internal/types"
)

// SuccessText is the acknowledgment text of an accepted batch.
const SuccessText = "Success"

// ErrRejected means the collector answered but did not acknowledge the batch.
var ErrRejected = errors.New("batch not acknowledged")

// Gateway accepts serialized envelope batches.
type Gateway interface {
	Submit(ctx context.Context, batch []byte) error
}

// Ack is the collector's response body.
type Ack struct {
	Text string `json:"text"`
	Code int    `json:"code"`
}

// HEC is a Gateway posting to an HTTP Event Collector endpoint.
type HEC struct {
	client  *httpx.Client
	url     string
	headers map[string]string
	logger  *zap.Logger
}

func NewHEC(client *httpx.Client, url string, headers map[string]string, logger *zap.Logger) *HEC {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HEC{client: client, url: url, headers: headers, logger: logger}
}

// Submit posts one batch. Only a response whose "text" equals SuccessText
// counts as delivered.
func (h *HEC) Submit(ctx context.Context, batch []byte) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(batch))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		metrics.SinkPosts.WithLabelValues("error").Inc()
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		metrics.SinkPosts.WithLabelValues("error").Inc()
		return fmt.Errorf("read ack: %w", err)
	}
	var ack Ack
	if err := json.Unmarshal(body, &ack); err != nil || ack.Text != SuccessText {
		metrics.SinkPosts.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	metrics.SinkPosts.WithLabelValues("ok").Inc()
	h.logger.Debug("batch acknowledged", zap.Int("bytes", len(batch)))
	return nil
}

// Encode serializes envelopes as concatenated JSON objects, one per line.
func Encode(envs []types.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range envs {
		if err := enc.Encode(&envs[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

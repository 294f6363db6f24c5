// Package httpx builds the retrying HTTP client shared by manifest fetches,
// archive downloads and sink posts.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Options controls timeouts and the retry policy.
type Options struct {
	Timeout      time.Duration
	Retries      int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	UserAgent    string
}

// Client is a retrying HTTP client. It retries connection errors and
// 5xx/429 responses with exponential backoff.
type Client struct {
	rc        *retryablehttp.Client
	userAgent string
}

// New returns a Client logging retries through logger.
func New(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	}
	rc.RetryMax = opts.Retries
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	rc.Logger = zapLeveled{l: logger.Named("http")}
	// Return the last response instead of an error once retries run out,
	// so callers can report the status and body.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Client{rc: rc, userAgent: opts.UserAgent}
}

// Do sends req, retrying per the client policy.
func (c *Client) Do(req *retryablehttp.Request) (*http.Response, error) {
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.rc.Do(req)
}

// Get fetches url and returns its body. A non-2xx final status is an error.
func (c *Client) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{URL: url, Code: resp.StatusCode, Body: string(b)}
	}
	return io.ReadAll(resp.Body)
}

// StatusError reports a non-2xx response that survived all retries.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.Code, e.Body)
}

// zapLeveled adapts zap to retryablehttp.LeveledLogger.
type zapLeveled struct{ l *zap.Logger }

func (z zapLeveled) Error(msg string, kv ...interface{}) { z.l.Sugar().Errorw(msg, kv...) }
func (z zapLeveled) Info(msg string, kv ...interface{})  { z.l.Sugar().Debugw(msg, kv...) }
func (z zapLeveled) Debug(msg string, kv ...interface{}) { z.l.Sugar().Debugw(msg, kv...) }
func (z zapLeveled) Warn(msg string, kv ...interface{})  { z.l.Sugar().Warnw(msg, kv...) }

// Package iopkg reads and writes whole objects addressed by file:// or s3://
// URIs. A bare path is treated as a local file.
package iopkg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNotExist is returned by ReadFile when the object is absent.
var ErrNotExist = errors.New("object does not exist")

// s3iface is the minimal subset of s3 client methods we use; allows test fakes.
type s3iface interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// newS3Client constructs an s3 client; overridden in tests.
// AWS_ENDPOINT_URL_S3 and AWS_S3_FORCE_PATH_STYLE allow MinIO.
var newS3Client = func(ctx context.Context) (s3iface, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if ep := os.Getenv("AWS_ENDPOINT_URL_S3"); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
		if strings.EqualFold(os.Getenv("AWS_S3_FORCE_PATH_STYLE"), "true") {
			o.UsePathStyle = true
		}
	}), nil
}

var (
	s3mu     sync.Mutex
	s3cached s3iface
)

// s3Client returns the shared client, built on first use.
func s3Client(ctx context.Context) (s3iface, error) {
	s3mu.Lock()
	defer s3mu.Unlock()
	if s3cached != nil {
		return s3cached, nil
	}
	cl, err := newS3Client(ctx)
	if err != nil {
		return nil, err
	}
	s3cached = cl
	return cl, nil
}

type location struct {
	scheme string
	path   string // local path
	bucket string
	key    string
}

func parse(uri string) (location, error) {
	if !strings.Contains(uri, "://") {
		return location{scheme: "file", path: uri}, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return location{}, err
	}
	switch u.Scheme {
	case "file":
		return location{scheme: "file", path: strings.TrimPrefix(uri, "file://")}, nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return location{}, fmt.Errorf("invalid s3 uri %q", uri)
		}
		return location{scheme: "s3", bucket: u.Host, key: key}, nil
	default:
		return location{}, errors.New("unsupported scheme: " + u.Scheme)
	}
}

// Open returns a ReadCloser and (if known) size for file:// or s3:// URIs.
func Open(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	loc, err := parse(uri)
	if err != nil {
		return nil, 0, err
	}
	switch loc.scheme {
	case "s3":
		cl, err := s3Client(ctx)
		if err != nil {
			return nil, 0, err
		}
		resp, err := cl.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(loc.bucket), Key: aws.String(loc.key),
		})
		if err != nil {
			var nsk *s3types.NoSuchKey
			if errors.As(err, &nsk) {
				return nil, 0, fmt.Errorf("%s: %w", uri, ErrNotExist)
			}
			return nil, 0, err
		}
		var sz int64
		if resp.ContentLength != nil {
			sz = *resp.ContentLength
		}
		return resp.Body, sz, nil
	default:
		f, err := os.Open(loc.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, 0, fmt.Errorf("%s: %w", uri, ErrNotExist)
			}
			return nil, 0, err
		}
		var sz int64
		if st, _ := f.Stat(); st != nil {
			sz = st.Size()
		}
		return f, sz, nil
	}
}

// ReadFile reads the whole object.
func ReadFile(ctx context.Context, uri string) ([]byte, error) {
	rc, _, err := Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// WriteFile replaces the whole object. Local files are written to a
// temporary sibling and renamed so readers never observe a partial file.
func WriteFile(ctx context.Context, uri string, b []byte) error {
	loc, err := parse(uri)
	if err != nil {
		return err
	}
	if loc.scheme == "s3" {
		cl, err := s3Client(ctx)
		if err != nil {
			return err
		}
		_, err = cl.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(loc.bucket),
			Key:    aws.String(loc.key),
			Body:   bytes.NewReader(b),
		})
		return err
	}
	dir := filepath.Dir(loc.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(loc.path)+".*")
	if err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), loc.path)
}

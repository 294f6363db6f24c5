package ledger

import (
	"context"
	"fmt"
	"strings"
)

// Backends accepted by OpenStore.
const (
	BackendFile     = "file"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// OpenStore builds the store named by backend. location is a file:// or
// s3:// URI for "file", a directory for "badger" and a DSN for "postgres".
func OpenStore(ctx context.Context, backend, location string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		return NewFileStore(location), nil
	case BackendBadger:
		return NewBadgerStore(location)
	case BackendPostgres:
		return NewPostgresStore(ctx, location)
	default:
		return nil, fmt.Errorf("unknown dedup backend %q", backend)
	}
}

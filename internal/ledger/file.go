package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yourorg/gdelt-ingest/internal/iopkg"
)

// FileStore keeps the delivered set as a JSON array of integers at a
// file:// or s3:// URI, rewritten in full on every commit.
type FileStore struct {
	uri string
}

func NewFileStore(uri string) *FileStore { return &FileStore{uri: uri} }

// Init writes an empty set when the ledger does not exist yet, so an
// unwritable location fails at startup instead of after the first delivery.
func (s *FileStore) Init(ctx context.Context) error {
	_, err := iopkg.ReadFile(ctx, s.uri)
	if !errors.Is(err, iopkg.ErrNotExist) {
		return err
	}
	return iopkg.WriteFile(ctx, s.uri, []byte("[]"))
}

func (s *FileStore) Load(ctx context.Context) ([]int64, error) {
	b, err := iopkg.ReadFile(ctx, s.uri)
	if errors.Is(err, iopkg.ErrNotExist) {
		return []int64{}, nil
	}
	if err != nil {
		return nil, err
	}
	ids := []int64{}
	if len(b) == 0 {
		return ids, nil
	}
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.uri, err)
	}
	return ids, nil
}

func (s *FileStore) Commit(ctx context.Context, _ int64, all []int64) error {
	if all == nil {
		all = []int64{}
	}
	b, err := json.Marshal(all)
	if err != nil {
		return err
	}
	return iopkg.WriteFile(ctx, s.uri, b)
}

func (s *FileStore) Close() error { return nil }

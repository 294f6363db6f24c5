package ledger

import (
	"context"
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps one key per delivered id, so a commit writes a single
// entry regardless of how large the set grows.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a store in dir. An empty dir opens an
// in-memory store.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func idKey(id int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

func (s *BadgerStore) Load(ctx context.Context) ([]int64, error) {
	ids := []int64{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			k := it.Item().Key()
			if len(k) != 8 {
				continue
			}
			ids = append(ids, int64(binary.BigEndian.Uint64(k)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *BadgerStore) Commit(_ context.Context, id int64, _ []int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(idKey(id), []byte{1})
	})
}

func (s *BadgerStore) Close() error { return s.db.Close() }

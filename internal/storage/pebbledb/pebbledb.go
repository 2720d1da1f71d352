// Package pebbledb implements storage.Store on top of Pebble.
//
// View reads from a point-in-time snapshot. Update stages writes in an indexed
// batch, so reads inside the transaction observe its own writes, and commits
// the batch atomically when fn succeeds.
package pebbledb

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/sneh-joshi/dmq/internal/storage"
)

// Options tunes the pebble database.
type Options struct {
	// InMemory backs the database with an in-memory filesystem.
	InMemory bool

	// Sync fsyncs the WAL on every commit.
	Sync bool
}

// Store wraps a pebble database.
type Store struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
}

// Ensure Store satisfies the interface at compile time.
var _ storage.Store = (*Store)(nil)

// Open opens (or creates) a pebble database in dir.
func Open(dir string, opts Options) (*Store, error) {
	popts := &pebble.Options{}
	if opts.InMemory {
		popts.FS = vfs.NewMem()
		if dir == "" {
			dir = "dmq"
		}
	}

	db, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, fmt.Errorf("pebbledb: open %s: %w", dir, err)
	}

	wo := pebble.NoSync
	if opts.Sync {
		wo = pebble.Sync
	}
	return &Store{db: db, writeOpts: wo}, nil
}

// View implements storage.Store.
func (s *Store) View(fn func(tx storage.Tx) error) error {
	snap := s.db.NewSnapshot()
	defer snap.Close()
	return fn(&pebbleTx{r: snap})
}

// Update implements storage.Store.
func (s *Store) Update(fn func(tx storage.Tx) error) error {
	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	if err := fn(&pebbleTx{r: batch, batch: batch}); err != nil {
		return err
	}
	if err := batch.Commit(s.writeOpts); err != nil {
		return fmt.Errorf("pebbledb: commit: %w", err)
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

type pebbleTx struct {
	r     pebble.Reader // *pebble.Snapshot or an indexed *pebble.Batch
	batch *pebble.Batch // nil inside View
}

func (t *pebbleTx) Get(b storage.Bucket, key []byte) ([]byte, error) {
	val, closer, err := t.r.Get(storage.FlatKey(b, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func (t *pebbleTx) Put(b storage.Bucket, key, value []byte) error {
	if t.batch == nil {
		return storage.ErrReadOnly
	}
	return t.batch.Set(storage.FlatKey(b, key), value, nil)
}

func (t *pebbleTx) Delete(b storage.Bucket, key []byte) error {
	if t.batch == nil {
		return storage.ErrReadOnly
	}
	return t.batch.Delete(storage.FlatKey(b, key), nil)
}

func (t *pebbleTx) ForEach(b storage.Bucket, fn func(key, value []byte) error) error {
	prefix := storage.BucketPrefix(b)
	it, err := t.r.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: storage.UpperBound(b)})
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()

	for ok := it.First(); ok; ok = it.Next() {
		if err := fn(it.Key()[len(prefix):], it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

// Package bolt is the default, single-node implementation of storage.Store.
//
// bbolt is chosen as the default because it is:
//   - Pure Go (no CGO, no external process)
//   - ACID: a committed Update is never partially visible, even after a crash
//   - Single file (queue.db inside the node data directory)
//
// Each storage.Bucket maps 1:1 onto a bbolt bucket.
package bolt

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/sneh-joshi/dmq/internal/storage"
)

// Options tunes the bbolt database.
type Options struct {
	// NoSync skips fsync after each commit. Fast, unsafe; dev/test only.
	NoSync bool

	// Timeout bounds how long Open waits for the file lock. Zero waits forever.
	Timeout time.Duration
}

// Store wraps a bbolt database.
type Store struct {
	db *bbolt.DB
}

// Ensure Store satisfies the interface at compile time.
var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the bbolt database at path and provisions every
// bucket in storage.Buckets.
func Open(path string, opts Options) (*Store, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: opts.Timeout, NoSync: opts.NoSync})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range storage.Buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: init buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// View implements storage.Store.
func (s *Store) View(fn func(tx storage.Tx) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Update implements storage.Store.
func (s *Store) Update(fn func(tx storage.Tx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// boltTx adapts *bbolt.Tx to storage.Tx.
type boltTx struct {
	tx *bbolt.Tx
}

func (t *boltTx) bucket(b storage.Bucket) (*bbolt.Bucket, error) {
	bk := t.tx.Bucket([]byte(b))
	if bk == nil {
		return nil, fmt.Errorf("bolt: unknown bucket %q", b)
	}
	return bk, nil
}

func (t *boltTx) Get(b storage.Bucket, key []byte) ([]byte, error) {
	bk, err := t.bucket(b)
	if err != nil {
		return nil, err
	}
	val := bk.Get(key)
	if val == nil {
		return nil, storage.ErrNotFound
	}
	// bbolt values are only valid for the life of the transaction.
	return append([]byte(nil), val...), nil
}

func (t *boltTx) Put(b storage.Bucket, key, value []byte) error {
	if !t.tx.Writable() {
		return storage.ErrReadOnly
	}
	bk, err := t.bucket(b)
	if err != nil {
		return err
	}
	return bk.Put(key, value)
}

func (t *boltTx) Delete(b storage.Bucket, key []byte) error {
	if !t.tx.Writable() {
		return storage.ErrReadOnly
	}
	bk, err := t.bucket(b)
	if err != nil {
		return err
	}
	return bk.Delete(key)
}

func (t *boltTx) ForEach(b storage.Bucket, fn func(key, value []byte) error) error {
	bk, err := t.bucket(b)
	if err != nil {
		return err
	}
	return bk.ForEach(fn)
}

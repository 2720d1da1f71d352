// Package badgerdb implements storage.Store on top of BadgerDB.
//
// Badger has no buckets, so every key is namespaced with
// storage.FlatKey. With Options.InMemory the database never touches disk,
// which makes it a drop-in for ephemeral nodes.
package badgerdb

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/sneh-joshi/dmq/internal/storage"
)

// Options tunes the badger database.
type Options struct {
	// InMemory keeps all data in RAM. Dir is ignored.
	InMemory bool

	// SyncWrites fsyncs the value log on every commit.
	SyncWrites bool
}

// Store wraps a badger database.
type Store struct {
	db *badger.DB
}

// Ensure Store satisfies the interface at compile time.
var _ storage.Store = (*Store)(nil)

// Open opens (or creates) a badger database in dir.
func Open(dir string, opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(dir).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil)
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badgerdb: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// View implements storage.Store.
func (s *Store) View(fn func(tx storage.Tx) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

// Update implements storage.Store.
func (s *Store) Update(fn func(tx storage.Tx) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn, writable: true})
	})
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

type badgerTx struct {
	txn      *badger.Txn
	writable bool
}

func (t *badgerTx) Get(b storage.Bucket, key []byte) ([]byte, error) {
	item, err := t.txn.Get(storage.FlatKey(b, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *badgerTx) Put(b storage.Bucket, key, value []byte) error {
	if !t.writable {
		return storage.ErrReadOnly
	}
	// Badger keeps a reference to value until commit.
	return t.txn.Set(storage.FlatKey(b, key), append([]byte(nil), value...))
}

func (t *badgerTx) Delete(b storage.Bucket, key []byte) error {
	if !t.writable {
		return storage.ErrReadOnly
	}
	return t.txn.Delete(storage.FlatKey(b, key))
}

func (t *badgerTx) ForEach(b storage.Bucket, fn func(key, value []byte) error) error {
	prefix := storage.BucketPrefix(b)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)[len(prefix):]
		if err := item.Value(func(val []byte) error {
			return fn(key, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

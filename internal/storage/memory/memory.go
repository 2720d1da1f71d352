// Package memory is an in-process implementation of storage.Store backed by
// maps. Nothing survives Close. It is used by tests and by nodes configured
// with storage.backend = "memory".
package memory

import (
	"sort"
	"sync"

	"github.com/sneh-joshi/dmq/internal/storage"
)

// Store keeps every bucket as a map from string(key) to value.
// Updates are staged in an overlay and applied only when fn returns nil.
type Store struct {
	mu      sync.RWMutex
	buckets map[storage.Bucket]map[string][]byte
}

// Ensure Store satisfies the interface at compile time.
var _ storage.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	s := &Store{buckets: make(map[storage.Bucket]map[string][]byte, len(storage.Buckets))}
	for _, b := range storage.Buckets {
		s.buckets[b] = make(map[string][]byte)
	}
	return s
}

// View implements storage.Store.
func (s *Store) View(fn func(tx storage.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{store: s})
}

// Update implements storage.Store.
func (s *Store) Update(fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, writable: true, pending: make(map[storage.Bucket]map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	for b, kv := range tx.pending {
		for k, v := range kv {
			if v == nil {
				delete(s.buckets[b], k)
			} else {
				s.buckets[b][k] = v
			}
		}
	}
	return nil
}

// Close implements storage.Store. The data is dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for b := range s.buckets {
		s.buckets[b] = make(map[string][]byte)
	}
	return nil
}

// Len returns the number of keys in bucket b. Tests use it to assert that
// nothing leaked.
func (s *Store) Len(b storage.Bucket) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets[b])
}

// memTx reads through its pending overlay (nil value = deleted) to the
// committed maps.
type memTx struct {
	store    *Store
	writable bool
	pending  map[storage.Bucket]map[string][]byte
}

func (t *memTx) lookup(b storage.Bucket, k string) ([]byte, bool) {
	if kv, ok := t.pending[b]; ok {
		if v, ok := kv[k]; ok {
			return v, v != nil
		}
	}
	v, ok := t.store.buckets[b][k]
	return v, ok
}

func (t *memTx) Get(b storage.Bucket, key []byte) ([]byte, error) {
	v, ok := t.lookup(b, string(key))
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (t *memTx) stage(b storage.Bucket, key, value []byte) error {
	if !t.writable {
		return storage.ErrReadOnly
	}
	kv, ok := t.pending[b]
	if !ok {
		kv = make(map[string][]byte)
		t.pending[b] = kv
	}
	kv[string(key)] = value
	return nil
}

func (t *memTx) Put(b storage.Bucket, key, value []byte) error {
	// Never stage nil: nil marks a deletion.
	return t.stage(b, key, append([]byte{}, value...))
}

func (t *memTx) Delete(b storage.Bucket, key []byte) error {
	return t.stage(b, key, nil)
}

func (t *memTx) ForEach(b storage.Bucket, fn func(key, value []byte) error) error {
	seen := make(map[string]struct{}, len(t.store.buckets[b]))
	keys := make([]string, 0, len(t.store.buckets[b]))
	for k := range t.store.buckets[b] {
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for k := range t.pending[b] {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, ok := t.lookup(b, k)
		if !ok {
			continue
		}
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

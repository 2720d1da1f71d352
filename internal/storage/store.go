// Package storage defines the Store abstraction used by the queue engine.
//
// Design principle: the queue engine must ONLY interact with persistence
// through this interface. Never call file I/O directly. Every backend
// (bbolt, badger, pebble, memory) is interchangeable without touching queue
// logic.
//
// A Store exposes five logical buckets. Every Update is all-or-nothing: either
// every Put/Delete issued inside fn is committed, or none is. The engine relies
// on this to never leave a channel half-mutated.
package storage

import "errors"

// ErrNotFound is returned by Tx.Get when a key does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrCorrupted is returned when a stored value cannot be decoded.
var ErrCorrupted = errors.New("storage: entry corrupted")

// ErrReadOnly is returned when Put or Delete is called inside View.
var ErrReadOnly = errors.New("storage: read-only transaction")

// Bucket names a logical key space.
type Bucket string

const (
	// BucketQueueState maps channel → QueueState.
	BucketQueueState Bucket = "queue_state"

	// BucketPages maps (channel, page index) → bounded list of messages.
	BucketPages Bucket = "pages"

	// BucketHeads maps channel → global MQC head.
	BucketHeads Bucket = "mqc_heads"

	// BucketHeadsByID maps (channel, message index) → MQC head right after
	// that message was appended.
	BucketHeadsByID Bucket = "mqc_heads_by_id"

	// BucketPrunedHeads maps channel → MQC head of the last pruned message,
	// the chain origin of the live window.
	BucketPrunedHeads Bucket = "mqc_pruned_heads"
)

// Buckets lists every bucket a backend must provision.
var Buckets = []Bucket{BucketQueueState, BucketPages, BucketHeads, BucketHeadsByID, BucketPrunedHeads}

// Tx is a view of the store inside a single transaction.
//
// Values returned by Get and passed to ForEach callbacks are owned by the
// caller for Get and only valid for the duration of the callback for ForEach.
type Tx interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(b Bucket, key []byte) ([]byte, error)

	// Put upserts key. Returns ErrReadOnly inside View.
	Put(b Bucket, key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	// Returns ErrReadOnly inside View.
	Delete(b Bucket, key []byte) error

	// ForEach calls fn for every key in b in ascending byte order.
	// Iteration stops at the first non-nil error returned by fn.
	ForEach(b Bucket, fn func(key, value []byte) error) error
}

// Store is the single abstraction through which queue state is persisted.
//
// Implementations:
//   - bolt.Store      single-file B+tree (default)
//   - badgerdb.Store  LSM tree, optionally in memory
//   - pebbledb.Store  LSM tree, optionally in memory
//   - memory.Store    maps, for tests and ephemeral nodes
//
// All methods must be safe for concurrent use.
type Store interface {
	// View runs fn in a read-only transaction.
	View(fn func(tx Tx) error) error

	// Update runs fn in a read-write transaction and commits it iff fn
	// returns nil.
	Update(fn func(tx Tx) error) error

	// Close flushes pending writes and releases resources.
	Close() error
}

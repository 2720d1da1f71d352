// Package queue is the downward message queue engine.
//
// Every channel owns one paged queue. Pages live in a ring buffer over a
// wrapping index space, a parallel message window numbers the live messages,
// and a running MQC hash commits to the full history so that consumers can
// verify what they received.
//
// Data flow:
//
//	Host → Engine.Enqueue             → window.Extend + mqc.Link + page append
//	Host → Engine.CheckProcessedCount → advancement rule / underflow
//	Host → Engine.Prune               → ring.Drain + window.Prune
//	Host → Engine.ReadBounded         → ring.Pages (read-only copy)
//
// The engine keeps no state of its own and takes no locks. Each call runs in a
// single storage transaction; the caller serialises calls per channel.
package queue

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sneh-joshi/dmq/internal/ringbuf"
	"github.com/sneh-joshi/dmq/internal/storage"
	"github.com/sneh-joshi/dmq/internal/types"
)

// ─── Configuration ────────────────────────────────────────────────────────────

// DefaultPageCapacity is the number of messages a page holds.
const DefaultPageCapacity = 32

// Config holds engine-wide parameters that are fixed for the lifetime of the
// stored data. Changing PageCapacity on existing data is safe: full pages
// simply stay as they are.
type Config struct {
	PageCapacity int
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{PageCapacity: DefaultPageCapacity}
}

// HostConfig carries the host parameters Enqueue is checked against. It may
// change between calls.
type HostConfig struct {
	// MaxMessageSize is the largest accepted payload in bytes.
	MaxMessageSize uint32
}

// Marker supplies the current block number. Every enqueued message is stamped
// with it and it is mixed into the MQC link.
type Marker interface {
	BlockNumber() types.BlockNumber
}

// MarkerFunc adapts a function to Marker.
type MarkerFunc func() types.BlockNumber

// BlockNumber implements Marker.
func (f MarkerFunc) BlockNumber() types.BlockNumber { return f() }

// ─── Engine ───────────────────────────────────────────────────────────────────

// Option is a functional option for the Engine.
type Option func(*Engine)

// WithLogger sets the logger used for warnings. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine implements the queue operations on top of a storage.Store.
type Engine struct {
	store   storage.Store
	marker  Marker
	pageCap int
	logger  *slog.Logger
}

// New creates an Engine. A non-positive cfg.PageCapacity falls back to
// DefaultPageCapacity.
func New(store storage.Store, marker Marker, cfg Config, opts ...Option) *Engine {
	if cfg.PageCapacity <= 0 {
		cfg.PageCapacity = DefaultPageCapacity
	}
	e := &Engine{
		store:   store,
		marker:  marker,
		pageCap: cfg.PageCapacity,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// PageCapacity returns the configured page capacity.
func (e *Engine) PageCapacity() int { return e.pageCap }

// ─── Storage helpers ──────────────────────────────────────────────────────────

func loadState(tx storage.Tx, ch types.ChannelID) (ringbuf.QueueState, error) {
	raw, err := tx.Get(storage.BucketQueueState, storage.ChannelKey(ch))
	if errors.Is(err, storage.ErrNotFound) {
		return ringbuf.QueueState{}, nil
	}
	if err != nil {
		return ringbuf.QueueState{}, fmt.Errorf("load state of channel %s: %w", ch, err)
	}
	return storage.DecodeQueueState(raw)
}

func saveState(tx storage.Tx, ch types.ChannelID, st ringbuf.QueueState) error {
	if err := tx.Put(storage.BucketQueueState, storage.ChannelKey(ch), storage.EncodeQueueState(st)); err != nil {
		return fmt.Errorf("save state of channel %s: %w", ch, err)
	}
	return nil
}

// loadPage returns the messages of page k. A missing page reads as empty.
func loadPage(tx storage.Tx, k ringbuf.PageKey) ([]types.InboundMessage, error) {
	raw, err := tx.Get(storage.BucketPages, storage.PageKey(k))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s of channel %s: %w", k.Page, k.Channel, err)
	}
	return storage.DecodePage(raw)
}

// pageLen returns the number of messages on page k without decoding them.
func pageLen(tx storage.Tx, k ringbuf.PageKey) (uint32, error) {
	raw, err := tx.Get(storage.BucketPages, storage.PageKey(k))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load %s of channel %s: %w", k.Page, k.Channel, err)
	}
	return storage.PageLen(raw)
}

func savePage(tx storage.Tx, k ringbuf.PageKey, msgs []types.InboundMessage) error {
	if err := tx.Put(storage.BucketPages, storage.PageKey(k), storage.EncodePage(msgs)); err != nil {
		return fmt.Errorf("save %s of channel %s: %w", k.Page, k.Channel, err)
	}
	return nil
}

// loadHead returns the global MQC head of ch, zero for a fresh chain.
func loadHead(tx storage.Tx, ch types.ChannelID) (types.Hash, error) {
	raw, err := tx.Get(storage.BucketHeads, storage.ChannelKey(ch))
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, nil
	}
	if err != nil {
		return types.Hash{}, fmt.Errorf("load mqc head of channel %s: %w", ch, err)
	}
	return storage.DecodeHash(raw)
}

// loadHeadAt returns the per-message MQC head stored at k.
func loadHeadAt(tx storage.Tx, k ringbuf.MessageKey) (types.Hash, bool, error) {
	raw, err := tx.Get(storage.BucketHeadsByID, storage.MessageKey(k))
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, false, nil
	}
	if err != nil {
		return types.Hash{}, false, fmt.Errorf("load mqc head at %s of channel %s: %w", k.Message, k.Channel, err)
	}
	h, err := storage.DecodeHash(raw)
	return h, err == nil, err
}

// loadPrunedHead returns the MQC head of the last message pruned from ch,
// zero while nothing was pruned.
func loadPrunedHead(tx storage.Tx, ch types.ChannelID) (types.Hash, error) {
	raw, err := tx.Get(storage.BucketPrunedHeads, storage.ChannelKey(ch))
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, nil
	}
	if err != nil {
		return types.Hash{}, fmt.Errorf("load pruned mqc head of channel %s: %w", ch, err)
	}
	return storage.DecodeHash(raw)
}

func exists(tx storage.Tx, b storage.Bucket, key []byte) (bool, error) {
	_, err := tx.Get(b, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Package ringbuf tracks which pages and which message indices of a channel's
// queue are occupied.
//
// Two pieces of purely numeric bookkeeping live here:
//
//   - RingBuffer: the occupied page range [head, tail) of one channel.
//   - MessageWindow: the occupied message range [first, free) of one channel.
//
// Neither type touches storage. The queue engine loads a QueueState, wraps it
// in these helpers, mutates them, and writes the resulting state back.
//
// Invariant: the window size always equals the number of messages stored in
// the pages of the ring buffer.
package ringbuf

import (
	"iter"

	"github.com/sneh-joshi/dmq/internal/types"
	"github.com/sneh-joshi/dmq/internal/wrapindex"
)

// ErrIndexSpaceExhausted is the panic value raised when extending a ring or a
// window would collide with its own head. This is never a caller error: it
// means the external economic bound on queue growth has been broken.
var ErrIndexSpaceExhausted = indexSpaceExhausted{}

type indexSpaceExhausted struct{}

func (indexSpaceExhausted) Error() string { return "ringbuf: index space exhausted" }

// PageKey addresses one page of one channel.
type PageKey struct {
	Channel types.ChannelID
	Page    wrapindex.PageIndex
}

// MessageKey addresses one message index of one channel.
type MessageKey struct {
	Channel types.ChannelID
	Message wrapindex.MessageIndex
}

// ─── Persisted state ──────────────────────────────────────────────────────────

// RingBufferState is the persisted page range of a channel.
// Empty iff Head == Tail. Tail-1 is the last used page.
type RingBufferState struct {
	Head wrapindex.PageIndex
	Tail wrapindex.PageIndex
}

// MessageWindowState is the persisted message range of a channel.
// First is the index of the oldest queued message, Free the next index to assign.
type MessageWindowState struct {
	First wrapindex.MessageIndex
	Free  wrapindex.MessageIndex
}

// QueueState is the single atomic unit of persisted per-channel queue state.
// The zero value is an empty queue.
type QueueState struct {
	RingBuffer    RingBufferState
	MessageWindow MessageWindowState
}

// ─── RingBuffer ───────────────────────────────────────────────────────────────

// RingBuffer allocates and frees the pages of one channel.
//
// A RingBuffer is a small value. Copying it gives a disposable snapshot whose
// mutations never reach the original, which is how read paths walk pages.
type RingBuffer struct {
	channel types.ChannelID
	state   RingBufferState
}

// NewRingBuffer wraps a persisted state for channel ch.
func NewRingBuffer(ch types.ChannelID, state RingBufferState) RingBuffer {
	return RingBuffer{channel: ch, state: state}
}

// State returns the current state for persisting.
func (rb RingBuffer) State() RingBufferState { return rb.state }

// Size returns the number of occupied pages.
func (rb RingBuffer) Size() uint64 {
	return wrapindex.Distance(rb.state.Head, rb.state.Tail)
}

// Extend allocates the page at the tail and returns its key.
// It panics with ErrIndexSpaceExhausted if the tail would run into the head;
// one index value always stays unused so that full and empty differ.
func (rb *RingBuffer) Extend() PageKey {
	if rb.state.Tail.Inc() == rb.state.Head {
		panic(ErrIndexSpaceExhausted)
	}
	rb.state.Tail = rb.state.Tail.Inc()
	return rb.key(rb.state.Tail.Dec())
}

// Prune frees up to count pages from the head. Pruning more pages than are
// occupied empties the buffer.
func (rb *RingBuffer) Prune(count uint64) {
	rb.state.Head = rb.state.Head.Add(min(rb.Size(), count))
}

// PopFront frees the head page and returns its key. It reports false and does
// nothing when the buffer is empty.
func (rb *RingBuffer) PopFront() (PageKey, bool) {
	k, ok := rb.Front()
	if ok {
		rb.state.Head = rb.state.Head.Inc()
	}
	return k, ok
}

// Front returns the first used page.
func (rb RingBuffer) Front() (PageKey, bool) {
	if rb.state.Head == rb.state.Tail {
		return PageKey{}, false
	}
	return rb.key(rb.state.Head), true
}

// LastUsed returns the most recently allocated page.
func (rb RingBuffer) LastUsed() (PageKey, bool) {
	if rb.state.Head == rb.state.Tail {
		return PageKey{}, false
	}
	return rb.key(rb.state.Tail.Dec()), true
}

// FirstUnused returns the key the next Extend would allocate.
func (rb RingBuffer) FirstUnused() PageKey { return rb.key(rb.state.Tail) }

// Pages returns the occupied page keys from head to tail.
//
// The receiver is a copy, so iterating never changes the buffer it was called
// on. Each iteration starts from its own snapshot, so the sequence can be
// ranged over more than once. Every read-only query walks pages through this
// method.
func (rb RingBuffer) Pages() iter.Seq[PageKey] {
	return func(yield func(PageKey) bool) {
		snap := rb
		for {
			k, ok := snap.PopFront()
			if !ok || !yield(k) {
				return
			}
		}
	}
}

// Drain yields the occupied page keys from head to tail. A page is freed, by
// advancing the live head past it, once the loop body for it completes;
// breaking out of the loop leaves that page and every later one in place.
// Only the prune path may use it.
func (rb *RingBuffer) Drain() iter.Seq[PageKey] {
	return func(yield func(PageKey) bool) {
		for {
			k, ok := rb.Front()
			if !ok || !yield(k) {
				return
			}
			rb.state.Head = rb.state.Head.Inc()
		}
	}
}

func (rb RingBuffer) key(p wrapindex.PageIndex) PageKey {
	return PageKey{Channel: rb.channel, Page: p}
}

// ─── MessageWindow ────────────────────────────────────────────────────────────

// MessageWindow assigns an index to every enqueued message of one channel.
type MessageWindow struct {
	channel types.ChannelID
	state   MessageWindowState
}

// NewMessageWindow wraps a persisted state for channel ch.
func NewMessageWindow(ch types.ChannelID, state MessageWindowState) MessageWindow {
	return MessageWindow{channel: ch, state: state}
}

// State returns the current state for persisting.
func (w MessageWindow) State() MessageWindowState { return w.state }

// Size returns the number of messages in the window.
func (w MessageWindow) Size() uint64 {
	return wrapindex.Distance(w.state.First, w.state.Free)
}

// Extend appends count indices and returns the key of the last one.
// It panics with ErrIndexSpaceExhausted if a non-empty window would wrap into
// its own first index.
func (w *MessageWindow) Extend(count uint64) MessageKey {
	if w.Size() > 0 && wrapindex.Distance(w.state.Free, w.state.First) < count {
		panic(ErrIndexSpaceExhausted)
	}
	w.state.Free = w.state.Free.Add(count)
	return w.key(w.state.Free.Dec())
}

// Prune drops up to count indices from the front. It returns the new first
// key, or false if the window is empty afterwards.
func (w *MessageWindow) Prune(count uint64) (MessageKey, bool) {
	w.state.First = w.state.First.Add(min(w.Size(), count))
	return w.First()
}

// First returns the key of the oldest message in the window.
func (w MessageWindow) First() (MessageKey, bool) {
	if w.Size() == 0 {
		return MessageKey{}, false
	}
	return w.key(w.state.First), true
}

// FirstFree returns the key the next Extend(1) would return.
func (w MessageWindow) FirstFree() MessageKey { return w.key(w.state.Free) }

func (w MessageWindow) key(m wrapindex.MessageIndex) MessageKey {
	return MessageKey{Channel: w.channel, Message: m}
}

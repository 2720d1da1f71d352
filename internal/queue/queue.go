package queue

import (
	"bytes"
	"fmt"

	"github.com/sneh-joshi/dmq/internal/mqc"
	"github.com/sneh-joshi/dmq/internal/ringbuf"
	"github.com/sneh-joshi/dmq/internal/storage"
	"github.com/sneh-joshi/dmq/internal/types"
	"github.com/sneh-joshi/dmq/internal/wrapindex"
)

// ─── Enqueue ──────────────────────────────────────────────────────────────────

// Receipt describes a message accepted by Enqueue.
type Receipt struct {
	Index  wrapindex.MessageIndex
	SentAt types.BlockNumber
	// Head is the MQC head right after the message, i.e.
	// mqc.Link(previous head, SentAt, msg).
	Head types.Hash
	// Length is the queue length including the message.
	Length uint32
}

// Enqueue appends msg to the queue of ch, stamped with the current block
// number, and extends the channel's MQC.
//
// The message goes into the last used page if it has room, otherwise into a
// freshly allocated page. Channels are created lazily; enqueueing to a channel
// nobody has registered is allowed here and policed by the host.
//
// The block marker is read once; the returned Receipt carries the number that
// was stored and hashed.
//
// It panics with ringbuf.ErrIndexSpaceExhausted if the channel's page or
// message index space is used up.
func (e *Engine) Enqueue(cfg HostConfig, ch types.ChannelID, msg []byte) (Receipt, Cost, error) {
	if uint64(len(msg)) > uint64(cfg.MaxMessageSize) {
		return Receipt{}, Cost{}, fmt.Errorf("%w: %d > %d bytes", ErrExceedsMaxMessageSize, len(msg), cfg.MaxMessageSize)
	}

	var (
		cost Cost
		rcpt Receipt
	)
	err := e.store.Update(func(raw storage.Tx) error {
		tx := meter(raw, &cost)

		st, err := loadState(tx, ch)
		if err != nil {
			return err
		}
		rb := ringbuf.NewRingBuffer(ch, st.RingBuffer)
		window := ringbuf.NewMessageWindow(ch, st.MessageWindow)

		in := types.InboundMessage{Msg: bytes.Clone(msg), SentAt: e.marker.BlockNumber()}
		if in.Msg == nil {
			in.Msg = []byte{}
		}

		prev, err := loadHead(tx, ch)
		if err != nil {
			return err
		}
		head := mqc.Link(prev, in.SentAt, in.Msg)

		idx := window.Extend(1)
		if err := tx.Put(storage.BucketHeadsByID, storage.MessageKey(idx), head[:]); err != nil {
			return fmt.Errorf("save mqc head at %s: %w", idx.Message, err)
		}
		if err := tx.Put(storage.BucketHeads, storage.ChannelKey(ch), head[:]); err != nil {
			return fmt.Errorf("save mqc head: %w", err)
		}

		pk, ok := rb.LastUsed()
		if !ok {
			pk = rb.Extend()
		}
		page, err := loadPage(tx, pk)
		if err != nil {
			return err
		}
		if len(page) < e.pageCap {
			page = append(page, in)
		} else {
			pk = rb.Extend()
			page = []types.InboundMessage{in}
		}
		if err := savePage(tx, pk, page); err != nil {
			return err
		}

		rcpt = Receipt{Index: idx.Message, SentAt: in.SentAt, Head: head, Length: uint32(window.Size())}
		return saveState(tx, ch, ringbuf.QueueState{RingBuffer: rb.State(), MessageWindow: window.State()})
	})
	if err != nil {
		return Receipt{}, cost, fmt.Errorf("queue: enqueue to channel %s: %w", ch, err)
	}
	return rcpt, cost, nil
}

// ─── Acceptance ───────────────────────────────────────────────────────────────

// CheckProcessedCount validates the number of messages a consumer reports to
// have processed in this round. A consumer with pending messages must process
// at least one, and nobody can process more than are queued.
func (e *Engine) CheckProcessedCount(ch types.ChannelID, processed uint32) error {
	length, err := e.Length(ch)
	if err != nil {
		return err
	}
	if length > 0 && processed == 0 {
		return fmt.Errorf("%w: channel %s has %d pending messages", ErrAdvancementRule, ch, length)
	}
	if processed > length {
		return &UnderflowError{Processed: processed, Length: length}
	}
	return nil
}

// ─── Prune ────────────────────────────────────────────────────────────────────

// Prune removes the first processed messages of ch together with their
// per-message MQC heads. The global head is never touched. The head of the
// last pruned message is kept as the chain origin of what remains.
//
// The caller must have passed CheckProcessedCount. Pruning more messages than
// are queued empties the queue. Pruning zero messages from a non-empty queue
// is a caller bug: it is logged and ignored, or panics when debug assertions
// are enabled.
func (e *Engine) Prune(ch types.ChannelID, processed uint32) (Cost, error) {
	var cost Cost
	err := e.store.Update(func(raw storage.Tx) error {
		tx := meter(raw, &cost)

		st, err := loadState(tx, ch)
		if err != nil {
			return err
		}
		window := ringbuf.NewMessageWindow(ch, st.MessageWindow)
		if window.Size() == 0 {
			return nil
		}
		if processed == 0 {
			e.logger.Warn("queue: prune called with no processed messages", "channel", ch, "length", window.Size())
			debugAssert(false, "prune of zero messages from a non-empty queue")
			return nil
		}

		rb := ringbuf.NewRingBuffer(ch, st.RingBuffer)
		first, _ := window.First()
		remaining := uint64(processed)
		var pruned uint64

		for pk := range rb.Drain() {
			if remaining == 0 {
				break
			}
			page, err := loadPage(tx, pk)
			if err != nil {
				return err
			}
			n := uint64(len(page))

			if remaining < n {
				// Keep the page, minus its consumed prefix.
				if err := savePage(tx, pk, page[remaining:]); err != nil {
					return err
				}
				window.Prune(remaining)
				pruned += remaining
				break
			}

			if err := tx.Delete(storage.BucketPages, storage.PageKey(pk)); err != nil {
				return fmt.Errorf("delete %s: %w", pk.Page, err)
			}
			window.Prune(n)
			pruned += n
			remaining -= n
		}

		if pruned > 0 {
			last := ringbuf.MessageKey{Channel: ch, Message: first.Message.Add(pruned - 1)}
			origin, ok, err := loadHeadAt(tx, last)
			if err != nil {
				return err
			}
			debugAssert(ok, "pruned message without an mqc head")
			if err := tx.Put(storage.BucketPrunedHeads, storage.ChannelKey(ch), origin[:]); err != nil {
				return fmt.Errorf("save pruned mqc head: %w", err)
			}
		}

		for i := range pruned {
			k := ringbuf.MessageKey{Channel: ch, Message: first.Message.Add(i)}
			if err := tx.Delete(storage.BucketHeadsByID, storage.MessageKey(k)); err != nil {
				return fmt.Errorf("delete mqc head at %s: %w", k.Message, err)
			}
		}

		return saveState(tx, ch, ringbuf.QueueState{RingBuffer: rb.State(), MessageWindow: window.State()})
	})
	if err != nil {
		return cost, fmt.Errorf("queue: prune channel %s: %w", ch, err)
	}
	return cost, nil
}

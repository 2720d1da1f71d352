package queue

import (
	"fmt"

	"github.com/sneh-joshi/dmq/internal/ringbuf"
	"github.com/sneh-joshi/dmq/internal/storage"
	"github.com/sneh-joshi/dmq/internal/types"
	"github.com/sneh-joshi/dmq/internal/wrapindex"
)

// Length returns the number of messages queued for ch. Unknown channels have
// length zero.
func (e *Engine) Length(ch types.ChannelID) (uint32, error) {
	st, err := e.State(ch)
	if err != nil {
		return 0, err
	}
	return uint32(ringbuf.NewMessageWindow(ch, st.MessageWindow).Size()), nil
}

// State returns the persisted queue state of ch (zero for unknown channels).
func (e *Engine) State(ch types.ChannelID) (ringbuf.QueueState, error) {
	var st ringbuf.QueueState
	err := e.store.View(func(tx storage.Tx) error {
		var err error
		st, err = loadState(tx, ch)
		return err
	})
	if err != nil {
		return st, fmt.Errorf("queue: state of channel %s: %w", ch, err)
	}
	return st, nil
}

// ReadBounded returns the messages of up to pageCount pages of ch, skipping
// the first startPage occupied pages. Pages are counted from the current
// head, so page 0 is always the oldest.
//
// The result is empty when the channel is unknown or empty, when pageCount is
// zero, or when startPage lies past the last occupied page. Otherwise it holds
// at least one message and at most pageCount*PageCapacity.
func (e *Engine) ReadBounded(ch types.ChannelID, startPage, pageCount uint32) ([]types.InboundMessage, error) {
	var out []types.InboundMessage
	err := e.store.View(func(tx storage.Tx) error {
		if pageCount == 0 {
			return nil
		}
		st, err := loadState(tx, ch)
		if err != nil {
			return err
		}

		// rb is a local copy; skipping pages here never reaches storage.
		rb := ringbuf.NewRingBuffer(ch, st.RingBuffer)
		rb.Prune(uint64(startPage))

		n := min(uint64(pageCount), rb.Size())
		out = make([]types.InboundMessage, 0, n*uint64(e.pageCap))

		var fetched uint32
		for pk := range rb.Pages() {
			if fetched == pageCount {
				break
			}
			page, err := loadPage(tx, pk)
			if err != nil {
				return err
			}
			out = append(out, page...)
			fetched++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: read channel %s: %w", ch, err)
	}
	return out, nil
}

// Slice is a run of consecutive messages returned by ReadSlice.
type Slice struct {
	Messages []types.InboundMessage
	// First is the message index of Messages[0].
	First wrapindex.MessageIndex
	// Head is the MQC head right after the last message, zero when Messages
	// is empty.
	Head types.Hash
}

// ReadSlice is ReadBounded plus the position of the result in the chain, all
// read in one transaction. Skipped pages are counted from their headers and
// never decoded.
func (e *Engine) ReadSlice(ch types.ChannelID, startPage, pageCount uint32) (Slice, error) {
	var out Slice
	err := e.store.View(func(tx storage.Tx) error {
		if pageCount == 0 {
			return nil
		}
		st, err := loadState(tx, ch)
		if err != nil {
			return err
		}
		// rb is a local copy; skipping pages here never reaches storage.
		rb := ringbuf.NewRingBuffer(ch, st.RingBuffer)
		first := st.MessageWindow.First
		for range min(uint64(startPage), rb.Size()) {
			pk, _ := rb.PopFront()
			n, err := pageLen(tx, pk)
			if err != nil {
				return err
			}
			first = first.Add(uint64(n))
		}

		var fetched uint32
		for pk := range rb.Pages() {
			if fetched == pageCount {
				break
			}
			page, err := loadPage(tx, pk)
			if err != nil {
				return err
			}
			out.Messages = append(out.Messages, page...)
			fetched++
		}
		if len(out.Messages) == 0 {
			return nil
		}

		last := ringbuf.MessageKey{Channel: ch, Message: first.Add(uint64(len(out.Messages)) - 1)}
		head, ok, err := loadHeadAt(tx, last)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("missing mqc head at %s", last.Message)
		}
		out.First, out.Head = first, head
		return nil
	})
	if err != nil {
		return Slice{}, fmt.Errorf("queue: read channel %s: %w", ch, err)
	}
	return out, nil
}

// Contents returns every message queued for ch, oldest first.
func (e *Engine) Contents(ch types.ChannelID) ([]types.InboundMessage, error) {
	st, err := e.State(ch)
	if err != nil {
		return nil, err
	}
	size := ringbuf.NewRingBuffer(ch, st.RingBuffer).Size()
	return e.ReadBounded(ch, 0, uint32(min(size, uint64(^uint32(0)))))
}

// MQCHead returns the global MQC head of ch. It covers the whole history of
// the channel, pruned messages included, and is zero for a channel that never
// received a message.
func (e *Engine) MQCHead(ch types.ChannelID) (types.Hash, error) {
	var h types.Hash
	err := e.store.View(func(tx storage.Tx) error {
		var err error
		h, err = loadHead(tx, ch)
		return err
	})
	if err != nil {
		return h, fmt.Errorf("queue: mqc head of channel %s: %w", ch, err)
	}
	return h, nil
}

// PrunedHead returns the MQC head of the last message pruned from ch, the
// head a consumer's chain must have reached before the oldest live message.
// It is zero while nothing was pruned.
func (e *Engine) PrunedHead(ch types.ChannelID) (types.Hash, error) {
	var h types.Hash
	err := e.store.View(func(tx storage.Tx) error {
		var err error
		h, err = loadPrunedHead(tx, ch)
		return err
	})
	if err != nil {
		return h, fmt.Errorf("queue: pruned mqc head of channel %s: %w", ch, err)
	}
	return h, nil
}

// MQCHeadAt returns the MQC head right after the message at idx was enqueued.
// It reports false once that message has been pruned.
func (e *Engine) MQCHeadAt(ch types.ChannelID, idx wrapindex.MessageIndex) (types.Hash, bool, error) {
	var (
		h  types.Hash
		ok bool
	)
	err := e.store.View(func(tx storage.Tx) error {
		var err error
		h, ok, err = loadHeadAt(tx, ringbuf.MessageKey{Channel: ch, Message: idx})
		return err
	})
	if err != nil {
		return h, false, fmt.Errorf("queue: %w", err)
	}
	return h, ok, nil
}

// Channels returns every channel with persisted queue state, in ascending
// order.
func (e *Engine) Channels() ([]types.ChannelID, error) {
	var out []types.ChannelID
	err := e.store.View(func(tx storage.Tx) error {
		return tx.ForEach(storage.BucketQueueState, func(k, _ []byte) error {
			ch, err := storage.DecodeChannelKey(k)
			if err != nil {
				return err
			}
			out = append(out, ch)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("queue: list channels: %w", err)
	}
	return out, nil
}

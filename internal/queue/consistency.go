package queue

import (
	"errors"
	"fmt"

	"github.com/sneh-joshi/dmq/internal/mqc"
	"github.com/sneh-joshi/dmq/internal/ringbuf"
	"github.com/sneh-joshi/dmq/internal/storage"
	"github.com/sneh-joshi/dmq/internal/types"
)

// ConsistencySampleSize is how many indices on each side of a channel's live
// window and ring range CheckConsistency scans for leftovers.
const ConsistencySampleSize = 4096

// CheckConsistency verifies the storage invariants of every channel and
// returns every violation found, joined, each wrapping ErrInconsistent.
//
// For each channel:
//   - the pages hold exactly as many messages as the window spans;
//   - replaying the chain from the head of the last pruned message (zero if
//     nothing was pruned) over the live messages reproduces the stored
//     per-message heads, and the last of them is the global head;
//   - no per-message head exists within ConsistencySampleSize indices before
//     or after the window;
//   - no page exists within ConsistencySampleSize indices before or after the
//     ring range.
//
// It reads a lot and is meant for tests and the admin endpoint, never the hot
// path.
func (e *Engine) CheckConsistency() error {
	var errs []error
	err := e.store.View(func(tx storage.Tx) error {
		states := make(map[types.ChannelID]ringbuf.QueueState)
		var order []types.ChannelID
		if err := tx.ForEach(storage.BucketQueueState, func(k, v []byte) error {
			ch, err := storage.DecodeChannelKey(k)
			if err != nil {
				return err
			}
			st, err := storage.DecodeQueueState(v)
			if err != nil {
				return fmt.Errorf("channel %s: %w", ch, err)
			}
			states[ch] = st
			order = append(order, ch)
			return nil
		}); err != nil {
			return err
		}

		for _, ch := range order {
			prior, err := loadPrunedHead(tx, ch)
			if err != nil {
				return err
			}
			chErrs, err := checkChannel(tx, ch, states[ch], prior)
			if err != nil {
				return err
			}
			errs = append(errs, chErrs...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: consistency check: %w", err)
	}
	return errors.Join(errs...)
}

func inconsistent(ch types.ChannelID, format string, args ...any) error {
	return fmt.Errorf("%w: channel %s: %s", ErrInconsistent, ch, fmt.Sprintf(format, args...))
}

// checkChannel returns the violations found for one channel. The error return
// is reserved for storage failures.
func checkChannel(tx storage.Tx, ch types.ChannelID, st ringbuf.QueueState, prior types.Hash) ([]error, error) {
	var errs []error
	rb := ringbuf.NewRingBuffer(ch, st.RingBuffer)
	window := ringbuf.NewMessageWindow(ch, st.MessageWindow)

	var msgs []types.InboundMessage
	for pk := range rb.Pages() {
		page, err := loadPage(tx, pk)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, page...)
	}
	if uint64(len(msgs)) != window.Size() {
		errs = append(errs, inconsistent(ch, "pages hold %d messages, window spans %d", len(msgs), window.Size()))
	}

	if first, ok := window.First(); ok && rb.Size() > 0 {
		want := mqc.Replay(prior, msgs)
		for i, h := range want {
			k := ringbuf.MessageKey{Channel: ch, Message: first.Message.Add(uint64(i))}
			got, found, err := loadHeadAt(tx, k)
			if err != nil {
				return nil, err
			}
			switch {
			case !found:
				errs = append(errs, inconsistent(ch, "missing mqc head at %s", k.Message))
			case got != h:
				errs = append(errs, inconsistent(ch, "mqc head at %s is %s, replay gives %s", k.Message, got, h))
			}
		}
		if len(want) > 0 {
			global, err := loadHead(tx, ch)
			if err != nil {
				return nil, err
			}
			if last := want[len(want)-1]; global != last {
				errs = append(errs, inconsistent(ch, "global mqc head is %s, replay gives %s", global, last))
			}
		}
	}

	// Sampled leftovers outside the window.
	lo, ok := window.First()
	if !ok {
		lo = window.FirstFree()
	}
	hi := window.FirstFree()
	for i := range uint64(ConsistencySampleSize) {
		for _, k := range []ringbuf.MessageKey{
			{Channel: ch, Message: lo.Message.Sub(i + 1)},
			{Channel: ch, Message: hi.Message.Add(i)},
		} {
			found, err := exists(tx, storage.BucketHeadsByID, storage.MessageKey(k))
			if err != nil {
				return nil, err
			}
			if found {
				errs = append(errs, inconsistent(ch, "stray mqc head at %s", k.Message))
			}
		}
	}

	// Sampled leftovers outside the ring range.
	front, ok := rb.Front()
	if !ok {
		front = rb.FirstUnused()
	}
	tail := rb.FirstUnused()
	for i := range uint64(ConsistencySampleSize) {
		for _, k := range []ringbuf.PageKey{
			{Channel: ch, Page: front.Page.Sub(i + 1)},
			{Channel: ch, Page: tail.Page.Add(i)},
		} {
			found, err := exists(tx, storage.BucketPages, storage.PageKey(k))
			if err != nil {
				return nil, err
			}
			if found {
				errs = append(errs, inconsistent(ch, "stray %s", k.Page))
			}
		}
	}

	return errs, nil
}

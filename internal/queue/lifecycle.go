package queue

import (
	"fmt"

	"github.com/sneh-joshi/dmq/internal/ringbuf"
	"github.com/sneh-joshi/dmq/internal/storage"
	"github.com/sneh-joshi/dmq/internal/types"
)

// Retire removes every trace of ch: its pages, its global and pruned MQC
// heads, the per-message heads of the live window and the queue state itself. Afterwards
// the channel is indistinguishable from one that never existed, so a later
// Enqueue starts a fresh chain.
func (e *Engine) Retire(ch types.ChannelID) (Cost, error) {
	var cost Cost
	err := e.store.Update(func(raw storage.Tx) error {
		return retire(meter(raw, &cost), ch)
	})
	if err != nil {
		return cost, fmt.Errorf("queue: retire channel %s: %w", ch, err)
	}
	return cost, nil
}

// OnNewSession retires every outgoing channel in one transaction. It is called
// by the host when a session ends and channels are offboarded.
func (e *Engine) OnNewSession(outgoing []types.ChannelID) (Cost, error) {
	var cost Cost
	err := e.store.Update(func(raw storage.Tx) error {
		tx := meter(raw, &cost)
		for _, ch := range outgoing {
			if err := retire(tx, ch); err != nil {
				return fmt.Errorf("channel %s: %w", ch, err)
			}
		}
		return nil
	})
	if err != nil {
		return cost, fmt.Errorf("queue: new session: %w", err)
	}
	return cost, nil
}

func retire(tx storage.Tx, ch types.ChannelID) error {
	st, err := loadState(tx, ch)
	if err != nil {
		return err
	}

	for pk := range ringbuf.NewRingBuffer(ch, st.RingBuffer).Pages() {
		if err := tx.Delete(storage.BucketPages, storage.PageKey(pk)); err != nil {
			return fmt.Errorf("delete %s: %w", pk.Page, err)
		}
	}
	if err := tx.Delete(storage.BucketHeads, storage.ChannelKey(ch)); err != nil {
		return fmt.Errorf("delete mqc head: %w", err)
	}
	if err := tx.Delete(storage.BucketPrunedHeads, storage.ChannelKey(ch)); err != nil {
		return fmt.Errorf("delete pruned mqc head: %w", err)
	}

	window := ringbuf.NewMessageWindow(ch, st.MessageWindow)
	if first, ok := window.First(); ok {
		for i := range window.Size() {
			k := ringbuf.MessageKey{Channel: ch, Message: first.Message.Add(i)}
			if err := tx.Delete(storage.BucketHeadsByID, storage.MessageKey(k)); err != nil {
				return fmt.Errorf("delete mqc head at %s: %w", k.Message, err)
			}
		}
	}

	if err := tx.Delete(storage.BucketQueueState, storage.ChannelKey(ch)); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// Package mqc implements the message queue chain: a running hash over the
// ordered message history of a channel.
//
// Each link has the form
//
//	head' = H(head ‖ LE32(sentAt) ‖ H(msg))
//
// where H is BLAKE2b-256, head is the previous head (all zero for an empty
// chain) and sentAt is the block number in which the message was enqueued.
// A consumer that knows the last head it processed can replay the messages it
// received and compare the result with the head published by the host. Any
// reordering, omission or change of content produces a different head.
package mqc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/sneh-joshi/dmq/internal/types"
)

// ErrChainMismatch is returned by Verify when a replayed chain does not reach
// the expected head.
var ErrChainMismatch = errors.New("mqc: chain mismatch")

// HashMessage returns H(msg).
func HashMessage(msg []byte) types.Hash {
	return blake2b.Sum256(msg)
}

// Link returns the head that follows prev after appending msg at block sentAt.
// It is a pure function of its inputs.
func Link(prev types.Hash, sentAt types.BlockNumber, msg []byte) types.Hash {
	var buf [types.HashSize + 4 + types.HashSize]byte
	copy(buf[:types.HashSize], prev[:])
	binary.LittleEndian.PutUint32(buf[types.HashSize:], uint32(sentAt))
	mh := HashMessage(msg)
	copy(buf[types.HashSize+4:], mh[:])
	return blake2b.Sum256(buf[:])
}

// Replay extends prev with every message in order and returns the head after
// each one.
func Replay(prev types.Hash, msgs []types.InboundMessage) []types.Hash {
	heads := make([]types.Hash, 0, len(msgs))
	head := prev
	for _, m := range msgs {
		head = Link(head, m.SentAt, m.Msg)
		heads = append(heads, head)
	}
	return heads
}

// Verify replays msgs from prev and checks that the final head equals want.
// An empty msgs slice verifies iff prev == want.
func Verify(prev types.Hash, msgs []types.InboundMessage, want types.Hash) error {
	got := prev
	if heads := Replay(prev, msgs); len(heads) > 0 {
		got = heads[len(heads)-1]
	}
	if got != want {
		return fmt.Errorf("%w: replayed %d messages to %s, want %s", ErrChainMismatch, len(msgs), got, want)
	}
	return nil
}

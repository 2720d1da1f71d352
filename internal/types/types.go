// Package types contains the core domain types shared across all dmq internal
// packages. It deliberately has zero imports of other dmq packages so that the
// storage layer, the chain hasher and the queue engine can all import it
// without creating import cycles.
package types

import (
	"encoding/hex"
	"strconv"
)

// ChannelID names one downstream consumer. All queue state is partitioned by
// it and no two channels ever share a storage key.
type ChannelID uint32

// String returns the decimal form of the id.
func (c ChannelID) String() string { return strconv.FormatUint(uint64(c), 10) }

// ParseChannelID parses the decimal form produced by String.
func ParseChannelID(s string) (ChannelID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return ChannelID(v), nil
}

// BlockNumber is the monotonic sequence marker supplied by the host ledger.
// Every enqueued message is stamped with the block in which it was sent.
type BlockNumber uint32

// HashSize is the width of every MQC hash in bytes.
const HashSize = 32

// Hash is a 256-bit MQC head. The zero value is the head of an empty chain.
type Hash [HashSize]byte

// IsZero reports whether h is the empty-chain head.
func (h Hash) IsZero() bool { return h == Hash{} }

// String returns the 0x-prefixed hex encoding of h.
func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

// MarshalText implements encoding.TextMarshaler so hashes render as hex in JSON.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != HashSize {
		return errHashLength(len(raw))
	}
	copy(h[:], raw)
	return nil
}

type errHashLength int

func (e errHashLength) Error() string {
	return "types: hash must be 32 bytes, got " + strconv.Itoa(int(e))
}

// InboundMessage is a message as it sits in a channel's queue: the opaque
// payload plus the block in which it was enqueued.
//
// Message format is final. Fields may be added, never renamed or removed, so
// that persisted pages stay readable.
type InboundMessage struct {
	// Msg is the raw payload. The queue never interprets it.
	Msg []byte `json:"msg"`

	// SentAt is the block number at which the message was enqueued.
	SentAt BlockNumber `json:"sent_at"`
}

// Clone returns a deep copy of the message.
func (m InboundMessage) Clone() InboundMessage {
	c := m
	c.Msg = append([]byte(nil), m.Msg...)
	return c
}

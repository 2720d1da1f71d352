package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/sneh-joshi/dmq/internal/ringbuf"
	"github.com/sneh-joshi/dmq/internal/types"
	"github.com/sneh-joshi/dmq/internal/wrapindex"
)

// ---- keys -------------------------------------------------------------------
// Keys are big-endian so that a bucket iterates grouped by channel and, within
// a channel, by raw index value:
//
//	channel key  : [channel u32]
//	page key     : [channel u32][page index u64]
//	message key  : [channel u32][message index u64]

// ChannelKey encodes a channel id.
func ChannelKey(ch types.ChannelID) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(ch))
	return buf
}

// DecodeChannelKey is the inverse of ChannelKey.
func DecodeChannelKey(b []byte) (types.ChannelID, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: channel key length %d", ErrCorrupted, len(b))
	}
	return types.ChannelID(binary.BigEndian.Uint32(b)), nil
}

// PageKey encodes the key of one page.
func PageKey(k ringbuf.PageKey) []byte {
	return indexKey(k.Channel, k.Page.Value())
}

// MessageKey encodes the key of one per-message MQC head.
func MessageKey(k ringbuf.MessageKey) []byte {
	return indexKey(k.Channel, k.Message.Value())
}

func indexKey(ch types.ChannelID, idx uint64) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:], uint32(ch))
	binary.BigEndian.PutUint64(buf[4:], idx)
	return buf
}

// ---- queue state ------------------------------------------------------------
// QueueState is serialised as four raw wrapping-index values:
//
//	[head page  : 8 bytes]
//	[tail page  : 8 bytes]
//	[first msg  : 8 bytes]
//	[free msg   : 8 bytes]

const queueStateSize = 32

// EncodeQueueState serialises s.
func EncodeQueueState(s ringbuf.QueueState) []byte {
	buf := make([]byte, queueStateSize)
	binary.BigEndian.PutUint64(buf[0:], s.RingBuffer.Head.Value())
	binary.BigEndian.PutUint64(buf[8:], s.RingBuffer.Tail.Value())
	binary.BigEndian.PutUint64(buf[16:], s.MessageWindow.First.Value())
	binary.BigEndian.PutUint64(buf[24:], s.MessageWindow.Free.Value())
	return buf
}

// DecodeQueueState is the inverse of EncodeQueueState.
func DecodeQueueState(buf []byte) (ringbuf.QueueState, error) {
	if len(buf) != queueStateSize {
		return ringbuf.QueueState{}, fmt.Errorf("%w: queue state length %d", ErrCorrupted, len(buf))
	}
	return ringbuf.QueueState{
		RingBuffer: ringbuf.RingBufferState{
			Head: wrapindex.New[wrapindex.PageDomain](binary.BigEndian.Uint64(buf[0:])),
			Tail: wrapindex.New[wrapindex.PageDomain](binary.BigEndian.Uint64(buf[8:])),
		},
		MessageWindow: ringbuf.MessageWindowState{
			First: wrapindex.New[wrapindex.MessageDomain](binary.BigEndian.Uint64(buf[16:])),
			Free:  wrapindex.New[wrapindex.MessageDomain](binary.BigEndian.Uint64(buf[24:])),
		},
	}, nil
}

// ---- pages ------------------------------------------------------------------
// A page is serialised as a count followed by length-prefixed messages:
//
//	[count     : 4 bytes ]
//	repeated count times:
//	  [sentAt  : 4 bytes ]
//	  [len     : 4 bytes ]
//	  [payload : len bytes]

// EncodePage serialises a page.
func EncodePage(msgs []types.InboundMessage) []byte {
	size := 4
	for _, m := range msgs {
		size += 8 + len(m.Msg)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf, uint32(len(msgs)))
	off := 4
	for _, m := range msgs {
		binary.BigEndian.PutUint32(buf[off:], uint32(m.SentAt))
		binary.BigEndian.PutUint32(buf[off+4:], uint32(len(m.Msg)))
		off += 8
		off += copy(buf[off:], m.Msg)
	}
	return buf
}

// DecodePage is the inverse of EncodePage. Payloads are copied out of buf.
func DecodePage(buf []byte) ([]types.InboundMessage, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: page too short (%d bytes)", ErrCorrupted, len(buf))
	}
	n := binary.BigEndian.Uint32(buf)
	msgs := make([]types.InboundMessage, 0, min(int(n), (len(buf)-4)/8))
	off := 4
	for i := uint32(0); i < n; i++ {
		if len(buf)-off < 8 {
			return nil, fmt.Errorf("%w: page truncated at message %d", ErrCorrupted, i)
		}
		sentAt := types.BlockNumber(binary.BigEndian.Uint32(buf[off:]))
		l := int(binary.BigEndian.Uint32(buf[off+4:]))
		off += 8
		if len(buf)-off < l {
			return nil, fmt.Errorf("%w: message %d length %d exceeds page", ErrCorrupted, i, l)
		}
		msgs = append(msgs, types.InboundMessage{
			Msg:    append([]byte(nil), buf[off:off+l]...),
			SentAt: sentAt,
		})
		off += l
	}
	if off != len(buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes in page", ErrCorrupted, len(buf)-off)
	}
	return msgs, nil
}

// PageLen returns the message count of an encoded page without decoding it.
func PageLen(buf []byte) (uint32, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("%w: page too short (%d bytes)", ErrCorrupted, len(buf))
	}
	return binary.BigEndian.Uint32(buf), nil
}

// ---- hashes -----------------------------------------------------------------

// DecodeHash copies a stored MQC head.
func DecodeHash(buf []byte) (types.Hash, error) {
	var h types.Hash
	if len(buf) != types.HashSize {
		return h, fmt.Errorf("%w: hash length %d", ErrCorrupted, len(buf))
	}
	copy(h[:], buf)
	return h, nil
}

package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sneh-joshi/dmq/internal/ringbuf"
	"github.com/sneh-joshi/dmq/internal/storage"
	"github.com/sneh-joshi/dmq/internal/types"
	"github.com/sneh-joshi/dmq/internal/wrapindex"
)

func TestPage_RoundTripKeepsOrderAndEmptyPayloads(t *testing.T) {
	in := []types.InboundMessage{
		{Msg: []byte("first"), SentAt: 7},
		{Msg: []byte{}, SentAt: 7},
		{Msg: []byte("third"), SentAt: 9},
	}
	out, err := storage.DecodePage(storage.EncodePage(in))
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i := range in {
		assert.Equal(t, in[i].SentAt, out[i].SentAt)
		assert.Equal(t, string(in[i].Msg), string(out[i].Msg))
	}
}

func TestPageLen_ReadsCountOnly(t *testing.T) {
	buf := storage.EncodePage([]types.InboundMessage{{Msg: []byte("a")}, {Msg: []byte("bc")}})
	n, err := storage.PageLen(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	_, err = storage.PageLen([]byte{0x01})
	assert.ErrorIs(t, err, storage.ErrCorrupted)
}

func TestDecodePage_RejectsCorruption(t *testing.T) {
	good := storage.EncodePage([]types.InboundMessage{{Msg: []byte("abc"), SentAt: 1}})

	cases := map[string][]byte{
		"empty":      {},
		"truncated":  good[:len(good)-1],
		"trailing":   append(append([]byte{}, good...), 0xFF),
		"huge count": {0xFF, 0xFF, 0xFF, 0xFF},
	}
	for name, buf := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := storage.DecodePage(buf)
			assert.ErrorIs(t, err, storage.ErrCorrupted)
		})
	}
}

func TestQueueState_SurvivesWrappedIndices(t *testing.T) {
	st := ringbuf.QueueState{
		RingBuffer: ringbuf.RingBufferState{
			Head: wrapindex.New[wrapindex.PageDomain](^uint64(0)),
			Tail: wrapindex.New[wrapindex.PageDomain](3),
		},
		MessageWindow: ringbuf.MessageWindowState{
			First: wrapindex.New[wrapindex.MessageDomain](^uint64(0) - 5),
			Free:  wrapindex.New[wrapindex.MessageDomain](10),
		},
	}
	got, err := storage.DecodeQueueState(storage.EncodeQueueState(st))
	require.NoError(t, err)
	assert.Equal(t, st, got)

	_, err = storage.DecodeQueueState([]byte{1, 2, 3})
	assert.ErrorIs(t, err, storage.ErrCorrupted)
}

func TestKeys_SortByChannelThenIndex(t *testing.T) {
	a := storage.PageKey(ringbuf.PageKey{Channel: 1, Page: wrapindex.New[wrapindex.PageDomain](500)})
	b := storage.PageKey(ringbuf.PageKey{Channel: 2, Page: wrapindex.New[wrapindex.PageDomain](0)})
	assert.Less(t, string(a), string(b))

	ch, err := storage.DecodeChannelKey(storage.ChannelKey(42))
	require.NoError(t, err)
	assert.Equal(t, types.ChannelID(42), ch)
}

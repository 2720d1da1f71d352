package ringbuf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sneh-joshi/dmq/internal/ringbuf"
	"github.com/sneh-joshi/dmq/internal/wrapindex"
)

func page(v uint64) wrapindex.PageIndex { return wrapindex.New[wrapindex.PageDomain](v) }

func msg(v uint64) wrapindex.MessageIndex { return wrapindex.New[wrapindex.MessageDomain](v) }

func emptyRing() ringbuf.RingBuffer {
	return ringbuf.NewRingBuffer(7, ringbuf.RingBufferState{})
}

func emptyWindow() ringbuf.MessageWindow {
	return ringbuf.NewMessageWindow(7, ringbuf.MessageWindowState{})
}

// ─── RingBuffer ───────────────────────────────────────────────────────────────

func TestRingBuffer_Extend(t *testing.T) {
	rb := emptyRing()
	_, ok := rb.Front()
	assert.False(t, ok)
	_, ok = rb.LastUsed()
	assert.False(t, ok)

	k := rb.Extend()
	assert.Equal(t, page(0), k.Page)
	k = rb.Extend()
	assert.Equal(t, page(1), k.Page)
	assert.Equal(t, uint64(2), rb.Size())

	front, ok := rb.Front()
	require.True(t, ok)
	assert.Equal(t, page(0), front.Page)
	last, ok := rb.LastUsed()
	require.True(t, ok)
	assert.Equal(t, page(1), last.Page)
	assert.Equal(t, page(2), rb.FirstUnused().Page)
}

func TestRingBuffer_ExtendOverCapacityPanics(t *testing.T) {
	// Two free page indices before the tail runs into the head.
	rb := ringbuf.NewRingBuffer(0, ringbuf.RingBufferState{Head: page(100), Tail: page(98)})
	rb.Extend()

	assert.PanicsWithValue(t, ringbuf.ErrIndexSpaceExhausted, func() { rb.Extend() })
}

func TestRingBuffer_ExtendLoopThenPrune(t *testing.T) {
	rb := emptyRing()
	for range 1024 {
		rb.Extend()
	}
	require.Equal(t, uint64(1024), rb.Size())

	rb.Prune(0)
	assert.Equal(t, uint64(1024), rb.Size())

	rb.Prune(1)
	assert.Equal(t, uint64(1023), rb.Size())
	front, _ := rb.Front()
	assert.Equal(t, page(1), front.Page)
	last, _ := rb.LastUsed()
	assert.Equal(t, page(1023), last.Page)

	rb.Prune(99_999)
	assert.Equal(t, uint64(0), rb.Size())
	_, ok := rb.Front()
	assert.False(t, ok)
	assert.Equal(t, rb.State().Head, rb.State().Tail)
}

func TestRingBuffer_PopUntilEmpty(t *testing.T) {
	rb := emptyRing()
	for range 1024 {
		rb.Extend()
	}

	want := page(0)
	for rb.Size() > 0 {
		k, ok := rb.PopFront()
		require.True(t, ok)
		assert.Equal(t, want, k.Page)
		want = want.Inc()
	}
	_, ok := rb.PopFront()
	assert.False(t, ok)
}

func TestRingBuffer_IterateAcrossWrap(t *testing.T) {
	head := page(0).Sub(512)
	rb := ringbuf.NewRingBuffer(0, ringbuf.RingBufferState{Head: head, Tail: head})
	for range 1024 {
		rb.Extend()
	}
	last, _ := rb.LastUsed()
	assert.Equal(t, page(511), last.Page)

	want := head
	n := 0
	for k := range rb.Pages() {
		assert.Equal(t, want, k.Page)
		want = want.Inc()
		n++
	}
	assert.Equal(t, 1024, n)
}

func TestRingBuffer_PagesDoesNotMutate(t *testing.T) {
	rb := emptyRing()
	for range 3 {
		rb.Extend()
	}
	before := rb.State()

	seq := rb.Pages()
	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}

	assert.Equal(t, 3, first)
	assert.Equal(t, 3, second, "a Pages sequence must be re-iterable")
	assert.Equal(t, before, rb.State())
}

func TestRingBuffer_DrainAdvancesHead(t *testing.T) {
	rb := emptyRing()
	for range 4 {
		rb.Extend()
	}

	for k := range rb.Drain() {
		if k.Page == page(2) {
			break
		}
	}

	// Pages 0 and 1 were consumed, 2 and 3 remain.
	assert.Equal(t, uint64(2), rb.Size())
	front, _ := rb.Front()
	assert.Equal(t, page(2), front.Page)
}

// ─── MessageWindow ────────────────────────────────────────────────────────────

func TestMessageWindow_Extend(t *testing.T) {
	w := emptyWindow()
	assert.Equal(t, uint64(0), w.Size())
	_, ok := w.First()
	assert.False(t, ok)
	assert.Equal(t, msg(0), w.FirstFree().Message)

	assert.Equal(t, msg(0), w.Extend(1).Message)
	assert.Equal(t, msg(3), w.Extend(3).Message)
	assert.Equal(t, uint64(4), w.Size())
}

func TestMessageWindow_ExtendOverCapacityPanics(t *testing.T) {
	w := ringbuf.NewMessageWindow(0, ringbuf.MessageWindowState{First: msg(10), Free: msg(2)})

	assert.PanicsWithValue(t, ringbuf.ErrIndexSpaceExhausted, func() { w.Extend(10) })
}

func TestMessageWindow_ExtendThenPrune(t *testing.T) {
	w := emptyWindow()
	w.Extend(1024)
	for range 1024 {
		w.Extend(2)
	}
	w.Extend(1024)
	require.Equal(t, uint64(4096), w.Size())

	first, ok := w.Prune(0)
	require.True(t, ok)
	assert.Equal(t, msg(0), first.Message)

	first, ok = w.Prune(1)
	require.True(t, ok)
	assert.Equal(t, msg(1), first.Message)
	assert.Equal(t, uint64(4095), w.Size())

	_, ok = w.Prune(99_999)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), w.Size())
	assert.Equal(t, msg(4096), w.FirstFree().Message)
	assert.Equal(t, w.State().First, w.State().Free)
}

func TestMessageWindow_ChannelScoped(t *testing.T) {
	w := ringbuf.NewMessageWindow(42, ringbuf.MessageWindowState{})
	assert.Equal(t, ringbuf.MessageKey{Channel: 42, Message: msg(0)}, w.Extend(1))
}

package queue_test

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sneh-joshi/dmq/internal/mqc"
	"github.com/sneh-joshi/dmq/internal/queue"
	"github.com/sneh-joshi/dmq/internal/ringbuf"
	"github.com/sneh-joshi/dmq/internal/storage"
	"github.com/sneh-joshi/dmq/internal/storage/badgerdb"
	"github.com/sneh-joshi/dmq/internal/storage/bolt"
	"github.com/sneh-joshi/dmq/internal/storage/memory"
	"github.com/sneh-joshi/dmq/internal/storage/pebbledb"
	"github.com/sneh-joshi/dmq/internal/types"
	"github.com/sneh-joshi/dmq/internal/wrapindex"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

var hostCfg = queue.HostConfig{MaxMessageSize: 1024}

type fixture struct {
	engine *queue.Engine
	store  *memory.Store
	block  *atomic.Uint32
}

func newFixture(t *testing.T, pageCap int) *fixture {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	return newFixtureOn(t, store, pageCap)
}

func newFixtureOn(t *testing.T, store *memory.Store, pageCap int) *fixture {
	t.Helper()
	block := new(atomic.Uint32)
	marker := queue.MarkerFunc(func() types.BlockNumber { return types.BlockNumber(block.Load()) })
	return &fixture{
		engine: queue.New(store, marker, queue.Config{PageCapacity: pageCap}),
		store:  store,
		block:  block,
	}
}

func (f *fixture) enqueue(t *testing.T, ch types.ChannelID, bodies ...string) {
	t.Helper()
	for _, b := range bodies {
		_, _, err := f.engine.Enqueue(hostCfg, ch, []byte(b))
		require.NoError(t, err)
	}
}

func (f *fixture) state(t *testing.T, ch types.ChannelID) ringbuf.QueueState {
	t.Helper()
	st, err := f.engine.State(ch)
	require.NoError(t, err)
	return st
}

func (f *fixture) length(t *testing.T, ch types.ChannelID) uint32 {
	t.Helper()
	n, err := f.engine.Length(ch)
	require.NoError(t, err)
	return n
}

func (f *fixture) read(t *testing.T, ch types.ChannelID, start, count uint32) []string {
	t.Helper()
	msgs, err := f.engine.ReadBounded(ch, start, count)
	require.NoError(t, err)
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Msg))
	}
	return out
}

func (f *fixture) headAt(t *testing.T, ch types.ChannelID, idx uint64) (types.Hash, bool) {
	t.Helper()
	h, ok, err := f.engine.MQCHeadAt(ch, wrapindex.New[wrapindex.MessageDomain](idx))
	require.NoError(t, err)
	return h, ok
}

func (f *fixture) prune(t *testing.T, ch types.ChannelID, n uint32) {
	t.Helper()
	_, err := f.engine.Prune(ch, n)
	require.NoError(t, err)
}

func (f *fixture) consistent(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.CheckConsistency())
}

// consistentFrom also checks that the chain of ch now starts after prior.
func (f *fixture) consistentFrom(t *testing.T, ch types.ChannelID, prior types.Hash) {
	t.Helper()
	got, err := f.engine.PrunedHead(ch)
	require.NoError(t, err)
	assert.Equal(t, prior, got, "pruned head of channel %s", ch)
	f.consistent(t)
}

func ringSize(st ringbuf.QueueState) uint64 {
	return wrapindex.Distance(st.RingBuffer.Head, st.RingBuffer.Tail)
}

func windowSize(st ringbuf.QueueState) uint64 {
	return wrapindex.Distance(st.MessageWindow.First, st.MessageWindow.Free)
}

// ─── Enqueue ─────────────────────────────────────────────────────────────────

func TestEnqueue_FillsPagesInOrder(t *testing.T) {
	const pageCap = 3
	for n := range 11 {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			f := newFixture(t, pageCap)
			for i := range n {
				f.enqueue(t, 1, fmt.Sprintf("m%d", i))
			}

			st := f.state(t, 1)
			assert.Equal(t, uint64(n), windowSize(st))
			assert.Equal(t, uint64((n+pageCap-1)/pageCap), ringSize(st))

			var all []string
			for p := range uint32(ringSize(st)) {
				page := f.read(t, 1, p, 1)
				assert.LessOrEqual(t, len(page), pageCap)
				// Only the last page may be partial after pure appends.
				if p+1 < uint32(ringSize(st)) {
					assert.Len(t, page, pageCap)
				}
				all = append(all, page...)
			}
			assert.Len(t, all, n)
			for i, m := range all {
				assert.Equal(t, fmt.Sprintf("m%d", i), m)
			}
			f.consistent(t)
		})
	}
}

func TestEnqueue_ExceedsMaxMessageSize(t *testing.T) {
	f := newFixture(t, 2)

	_, _, err := f.engine.Enqueue(queue.HostConfig{MaxMessageSize: 3}, 1, []byte("four"))
	require.ErrorIs(t, err, queue.ErrExceedsMaxMessageSize)

	for _, b := range storage.Buckets {
		assert.Zero(t, f.store.Len(b), "bucket %s touched", b)
	}

	// Exactly at the limit is fine.
	_, _, err = f.engine.Enqueue(queue.HostConfig{MaxMessageSize: 4}, 1, []byte("four"))
	require.NoError(t, err)
}

func TestEnqueue_StampsBlockAndChainsHeads(t *testing.T) {
	f := newFixture(t, 2)

	f.block.Store(5)
	f.enqueue(t, 1, "a")
	f.block.Store(7)
	f.enqueue(t, 1, "b", "")

	msgs, err := f.engine.Contents(1)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, types.BlockNumber(5), msgs[0].SentAt)
	assert.Equal(t, types.BlockNumber(7), msgs[1].SentAt)
	assert.Empty(t, msgs[2].Msg)

	want := mqc.Replay(types.Hash{}, msgs)
	head, err := f.engine.MQCHead(1)
	require.NoError(t, err)
	assert.Equal(t, want[2], head)

	for i := range 3 {
		h, ok := f.headAt(t, 1, uint64(i))
		require.True(t, ok)
		assert.Equal(t, want[i], h)
	}
}

func TestEnqueue_ReportsCost(t *testing.T) {
	f := newFixture(t, 2)

	_, cost, err := f.engine.Enqueue(hostCfg, 1, []byte("x"))
	require.NoError(t, err)
	// state + head + page read; two heads, page and state written.
	assert.Equal(t, queue.Cost{Reads: 3, Writes: 4}, cost)
	assert.Equal(t, uint64(3*10+4*100), cost.Weight(queue.Weights{Read: 10, Write: 100}))
}

func TestEnqueue_ReceiptMatchesStoredMessage(t *testing.T) {
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	// Every read of the marker sees a new block.
	var block atomic.Uint32
	marker := queue.MarkerFunc(func() types.BlockNumber { return types.BlockNumber(block.Add(1)) })
	e := queue.New(store, marker, queue.Config{PageCapacity: 2})

	var prev types.Hash
	for i, body := range []string{"a", "b", "c"} {
		rcpt, _, err := e.Enqueue(hostCfg, 1, []byte(body))
		require.NoError(t, err)

		assert.Equal(t, uint64(i), rcpt.Index.Value())
		assert.Equal(t, uint32(i+1), rcpt.Length)
		assert.Equal(t, mqc.Link(prev, rcpt.SentAt, []byte(body)), rcpt.Head)

		msgs, err := e.Contents(1)
		require.NoError(t, err)
		assert.Equal(t, rcpt.SentAt, msgs[i].SentAt, "receipt reports the stored block")

		h, ok, err := e.MQCHeadAt(1, rcpt.Index)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, rcpt.Head, h)
		prev = rcpt.Head
	}
}

// ─── Concrete scenario ───────────────────────────────────────────────────────

func TestScenario_PageCapacityTwo(t *testing.T) {
	const x types.ChannelID = 7
	f := newFixture(t, 2)
	f.enqueue(t, x, "A", "B", "C", "D", "E")

	st := f.state(t, x)
	assert.Equal(t, uint64(3), ringSize(st))
	assert.Equal(t, uint64(5), windowSize(st))
	assert.Equal(t, []string{"A", "B"}, f.read(t, x, 0, 1))
	assert.Equal(t, []string{"C", "D"}, f.read(t, x, 1, 1))
	assert.Equal(t, []string{"E"}, f.read(t, x, 2, 1))
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, f.read(t, x, 0, 3))

	before := make([]types.Hash, 5)
	for i := range before {
		before[i], _ = f.headAt(t, x, uint64(i))
	}
	global, err := f.engine.MQCHead(x)
	require.NoError(t, err)

	f.prune(t, x, 3)

	st = f.state(t, x)
	assert.Equal(t, uint64(2), ringSize(st))
	assert.Equal(t, uint64(2), windowSize(st))
	assert.Equal(t, uint64(3), st.MessageWindow.First.Value(), "first index denotes D")
	assert.Equal(t, uint64(1), st.RingBuffer.Head.Value(), "page0 dropped")
	assert.Equal(t, []string{"D"}, f.read(t, x, 0, 1))
	assert.Equal(t, []string{"D", "E"}, f.read(t, x, 0, 2))

	for i := range 3 {
		_, ok := f.headAt(t, x, uint64(i))
		assert.False(t, ok, "head %d should be pruned", i)
	}
	for i := 3; i < 5; i++ {
		h, ok := f.headAt(t, x, uint64(i))
		require.True(t, ok)
		assert.Equal(t, before[i], h)
	}

	after, err := f.engine.MQCHead(x)
	require.NoError(t, err)
	assert.Equal(t, global, after, "pruning never resets the global head")

	f.consistentFrom(t, x, before[2])
}

// ─── CheckProcessedCount ─────────────────────────────────────────────────────

func TestCheckProcessedCount(t *testing.T) {
	for length := range uint32(4) {
		f := newFixture(t, 2)
		for i := range length {
			f.enqueue(t, 1, fmt.Sprint(i))
		}
		for k := range uint32(6) {
			err := f.engine.CheckProcessedCount(1, k)
			switch {
			case k > length:
				var uerr *queue.UnderflowError
				require.ErrorAs(t, err, &uerr, "length=%d k=%d", length, k)
				assert.ErrorIs(t, err, queue.ErrUnderflow)
				assert.Equal(t, queue.UnderflowError{Processed: k, Length: length}, *uerr)
			case length > 0 && k == 0:
				assert.ErrorIs(t, err, queue.ErrAdvancementRule, "length=%d", length)
			default:
				assert.NoError(t, err, "length=%d k=%d", length, k)
			}
		}
	}
}

// ─── Prune ───────────────────────────────────────────────────────────────────

func TestPrune_PastEndEmptiesQueue(t *testing.T) {
	for _, k := range []uint32{5, 6, 1000} {
		f := newFixture(t, 2)
		f.enqueue(t, 1, "a", "b", "c", "d", "e")
		head, err := f.engine.MQCHead(1)
		require.NoError(t, err)

		f.prune(t, 1, k)
		st := f.state(t, 1)
		assert.Equal(t, st.MessageWindow.First, st.MessageWindow.Free)
		assert.Equal(t, st.RingBuffer.Head, st.RingBuffer.Tail)
		assert.Zero(t, f.store.Len(storage.BucketPages))
		assert.Zero(t, f.store.Len(storage.BucketHeadsByID))

		// Again, now on an empty queue.
		f.prune(t, 1, k)
		assert.Equal(t, st, f.state(t, 1))

		f.consistentFrom(t, 1, head)
	}
}

func TestPrune_EmptyQueueIsNoop(t *testing.T) {
	f := newFixture(t, 2)
	cost, err := f.engine.Prune(1, 3)
	require.NoError(t, err)
	assert.Equal(t, queue.Cost{Reads: 1}, cost)
	for _, b := range storage.Buckets {
		assert.Zero(t, f.store.Len(b))
	}
}

func TestPrune_ZeroOnNonEmptyQueue(t *testing.T) {
	f := newFixture(t, 2)
	f.enqueue(t, 1, "a", "b", "c")

	assert.Panics(t, func() { _, _ = f.engine.Prune(1, 0) })

	restore := queue.SetDebugAssertions(false)
	defer restore()

	before := f.state(t, 1)
	_, err := f.engine.Prune(1, 0)
	require.NoError(t, err)
	assert.Equal(t, before, f.state(t, 1))
	assert.Equal(t, uint32(3), f.length(t, 1))
}

func TestPrune_OneAtATime(t *testing.T) {
	f := newFixture(t, 3)
	bodies := []string{"a", "b", "c", "d", "e", "f", "g"}
	f.enqueue(t, 1, bodies...)

	for i := range bodies {
		prior, ok := f.headAt(t, 1, uint64(i))
		require.True(t, ok)

		require.NoError(t, f.engine.CheckProcessedCount(1, 1))
		f.prune(t, 1, 1)

		assert.Equal(t, bodies[i+1:], f.read(t, 1, 0, 10))
		f.consistentFrom(t, 1, prior)
	}
	assert.Zero(t, f.length(t, 1))
}

func TestPrune_InterleavedWithEnqueue(t *testing.T) {
	f := newFixture(t, 2)
	var want []string
	next := 0
	var prior types.Hash
	pruned := uint64(0)

	for round := range 20 {
		for range round % 3 {
			body := fmt.Sprintf("m%d", next)
			f.enqueue(t, 1, body)
			want = append(want, body)
			next++
		}
		if n := uint32(min(len(want), round%4)); n > 0 {
			pruned += uint64(n)
			prior, _ = f.headAt(t, 1, pruned-1)
			f.prune(t, 1, n)
			want = want[n:]
		}
		assert.Equal(t, uint32(len(want)), f.length(t, 1))
		got, err := f.engine.Contents(1)
		require.NoError(t, err)
		require.Len(t, got, len(want))
		f.consistentFrom(t, 1, prior)
	}
}

// ─── ReadBounded ─────────────────────────────────────────────────────────────

func TestReadBounded_Bounds(t *testing.T) {
	f := newFixture(t, 2)
	assert.Empty(t, f.read(t, 9, 0, 5), "unknown channel")

	f.enqueue(t, 1, "a", "b", "c")
	assert.Empty(t, f.read(t, 1, 0, 0), "zero pages")
	assert.Empty(t, f.read(t, 1, 2, 1), "start past last page")
	assert.Equal(t, []string{"c"}, f.read(t, 1, 1, 1))
	assert.Equal(t, []string{"a", "b", "c"}, f.read(t, 1, 0, 100))

	// Reading never mutates the queue.
	assert.Equal(t, uint32(3), f.length(t, 1))
}

func TestReadSlice_PositionsInChain(t *testing.T) {
	f := newFixture(t, 2)
	f.enqueue(t, 1, "a", "b", "c", "d", "e")
	f.prune(t, 1, 1) // page0 = [b]

	cases := []struct {
		start, count uint32
		first        uint64
		want         []string
	}{
		{0, 1, 1, []string{"b"}},
		{1, 1, 2, []string{"c", "d"}},
		{1, 5, 2, []string{"c", "d", "e"}},
		{2, 1, 4, []string{"e"}},
	}
	for _, tc := range cases {
		sl, err := f.engine.ReadSlice(1, tc.start, tc.count)
		require.NoError(t, err)
		require.Len(t, sl.Messages, len(tc.want), "start=%d", tc.start)
		for i, m := range sl.Messages {
			assert.Equal(t, tc.want[i], string(m.Msg))
		}
		assert.Equal(t, tc.first, sl.First.Value(), "start=%d", tc.start)

		last, ok := f.headAt(t, 1, tc.first+uint64(len(tc.want))-1)
		require.True(t, ok)
		assert.Equal(t, last, sl.Head)
	}

	for _, tc := range []struct{ start, count uint32 }{{3, 1}, {0, 0}} {
		sl, err := f.engine.ReadSlice(1, tc.start, tc.count)
		require.NoError(t, err)
		assert.Empty(t, sl.Messages)
		assert.True(t, sl.Head.IsZero())
	}
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

func TestRetire_Offboarding(t *testing.T) {
	const y types.ChannelID = 3
	f := newFixture(t, 2)
	f.enqueue(t, y, "a", "b", "c", "d", "e")
	f.enqueue(t, 4, "other")
	require.Equal(t, uint64(3), ringSize(f.state(t, y)))
	f.prune(t, y, 1)
	require.Equal(t, 1, f.store.Len(storage.BucketPrunedHeads))

	_, err := f.engine.Retire(y)
	require.NoError(t, err)

	assert.Zero(t, f.length(t, y))
	assert.Empty(t, f.read(t, y, 0, 10))
	head, err := f.engine.MQCHead(y)
	require.NoError(t, err)
	assert.True(t, head.IsZero())

	// Only channel 4 is left.
	assert.Equal(t, 1, f.store.Len(storage.BucketPages))
	assert.Equal(t, 1, f.store.Len(storage.BucketHeads))
	assert.Equal(t, 1, f.store.Len(storage.BucketHeadsByID))
	assert.Equal(t, 1, f.store.Len(storage.BucketQueueState))
	assert.Zero(t, f.store.Len(storage.BucketPrunedHeads))
	f.consistent(t)

	// A retired channel starts over.
	f.enqueue(t, y, "fresh")
	h, ok := f.headAt(t, y, 0)
	require.True(t, ok)
	assert.Equal(t, mqc.Link(types.Hash{}, 0, []byte("fresh")), h)
}

func TestOnNewSession_RetiresOnlyOutgoing(t *testing.T) {
	f := newFixture(t, 2)
	for ch := range types.ChannelID(4) {
		f.enqueue(t, ch, "x", "y", "z")
	}

	_, err := f.engine.OnNewSession([]types.ChannelID{1, 3, 99})
	require.NoError(t, err)

	chans, err := f.engine.Channels()
	require.NoError(t, err)
	assert.Equal(t, []types.ChannelID{0, 2}, chans)
	assert.Equal(t, uint32(3), f.length(t, 0))
	assert.Zero(t, f.length(t, 1))
	f.consistent(t)
}

func TestChannels_AreIsolated(t *testing.T) {
	f := newFixture(t, 2)
	f.enqueue(t, 1, "a", "b", "c")
	f.enqueue(t, 2, "x")

	f.prune(t, 1, 2)
	assert.Equal(t, []string{"c"}, f.read(t, 1, 0, 5))
	assert.Equal(t, []string{"x"}, f.read(t, 2, 0, 5))

	h1, _ := f.headAt(t, 1, 2)
	h2, _ := f.headAt(t, 2, 0)
	assert.NotEqual(t, h1, h2)
}

// ─── Wraparound ──────────────────────────────────────────────────────────────

func TestEngine_WrapsAroundIndexSpace(t *testing.T) {
	store := memory.New()
	const ch types.ChannelID = 1

	start := ringbuf.QueueState{
		RingBuffer: ringbuf.RingBufferState{
			Head: wrapindex.New[wrapindex.PageDomain](^uint64(0) - 1),
			Tail: wrapindex.New[wrapindex.PageDomain](^uint64(0) - 1),
		},
		MessageWindow: ringbuf.MessageWindowState{
			First: wrapindex.New[wrapindex.MessageDomain](^uint64(0) - 2),
			Free:  wrapindex.New[wrapindex.MessageDomain](^uint64(0) - 2),
		},
	}
	require.NoError(t, store.Update(func(tx storage.Tx) error {
		return tx.Put(storage.BucketQueueState, storage.ChannelKey(ch), storage.EncodeQueueState(start))
	}))

	f := newFixtureOn(t, store, 2)
	bodies := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	f.enqueue(t, ch, bodies...)

	st := f.state(t, ch)
	assert.Equal(t, uint64(2), st.RingBuffer.Tail.Value(), "tail wrapped past zero")
	assert.Equal(t, uint64(4), ringSize(st))
	assert.Equal(t, bodies, f.read(t, ch, 0, 4))
	f.consistent(t)

	prior, ok := f.headAt(t, ch, start.MessageWindow.First.Add(4).Value())
	require.True(t, ok)
	f.prune(t, ch, 5)
	assert.Equal(t, bodies[5:], f.read(t, ch, 0, 4))
	f.consistentFrom(t, ch, prior)
}

// ─── CheckConsistency ────────────────────────────────────────────────────────

func TestCheckConsistency_DetectsViolations(t *testing.T) {
	f := newFixture(t, 2)
	f.enqueue(t, 1, "a", "b", "c")
	f.consistent(t)

	// Wrong chain origin: replay cannot match.
	origin := storage.ChannelKey(1)
	require.NoError(t, f.store.Update(func(tx storage.Tx) error {
		return tx.Put(storage.BucketPrunedHeads, origin, bytes.Repeat([]byte{0xAA}, types.HashSize))
	}))
	err := f.engine.CheckConsistency()
	assert.ErrorIs(t, err, queue.ErrInconsistent)
	require.NoError(t, f.store.Update(func(tx storage.Tx) error {
		return tx.Delete(storage.BucketPrunedHeads, origin)
	}))
	f.consistent(t)

	// A page beyond the tail.
	st := f.state(t, 1)
	stray := ringbuf.PageKey{Channel: 1, Page: st.RingBuffer.Tail.Add(10)}
	require.NoError(t, f.store.Update(func(tx storage.Tx) error {
		return tx.Put(storage.BucketPages, storage.PageKey(stray), storage.EncodePage(nil))
	}))
	err = f.engine.CheckConsistency()
	require.Error(t, err)
	assert.True(t, errors.Is(err, queue.ErrInconsistent))
	assert.Contains(t, err.Error(), "stray")
}

func TestCheckConsistency_DetectsStrayHead(t *testing.T) {
	f := newFixture(t, 2)
	f.enqueue(t, 1, "a", "b", "c")
	prior, _ := f.headAt(t, 1, 0)
	f.prune(t, 1, 1)

	// Resurrect the pruned head.
	k := ringbuf.MessageKey{Channel: 1, Message: wrapindex.New[wrapindex.MessageDomain](0)}
	require.NoError(t, f.store.Update(func(tx storage.Tx) error {
		return tx.Put(storage.BucketHeadsByID, storage.MessageKey(k), prior[:])
	}))
	err := f.engine.CheckConsistency()
	assert.ErrorIs(t, err, queue.ErrInconsistent)
}

func TestCheckConsistency_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	marker := queue.MarkerFunc(func() types.BlockNumber { return 3 })

	store, err := bolt.Open(path, bolt.Options{NoSync: true})
	require.NoError(t, err)
	e := queue.New(store, marker, queue.Config{PageCapacity: 2})
	for _, b := range []string{"a", "b", "c"} {
		_, _, err := e.Enqueue(hostCfg, 1, []byte(b))
		require.NoError(t, err)
	}
	prior, ok, err := e.MQCHeadAt(1, wrapindex.New[wrapindex.MessageDomain](0))
	require.NoError(t, err)
	require.True(t, ok)
	_, err = e.Prune(1, 1)
	require.NoError(t, err)
	require.NoError(t, e.CheckConsistency())
	require.NoError(t, store.Close())

	store, err = bolt.Open(path, bolt.Options{NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	e = queue.New(store, marker, queue.Config{PageCapacity: 2})

	origin, err := e.PrunedHead(1)
	require.NoError(t, err)
	assert.Equal(t, prior, origin)
	require.NoError(t, e.CheckConsistency())
}

// ─── Backends ────────────────────────────────────────────────────────────────

func TestEngine_AllBackends(t *testing.T) {
	backends := map[string]func(t *testing.T) storage.Store{
		"bolt": func(t *testing.T) storage.Store {
			s, err := bolt.Open(filepath.Join(t.TempDir(), "queue.db"), bolt.Options{NoSync: true})
			require.NoError(t, err)
			return s
		},
		"badger": func(t *testing.T) storage.Store {
			s, err := badgerdb.Open("", badgerdb.Options{InMemory: true})
			require.NoError(t, err)
			return s
		},
		"pebble": func(t *testing.T) storage.Store {
			s, err := pebbledb.Open("", pebbledb.Options{InMemory: true})
			require.NoError(t, err)
			return s
		},
		"memory": func(*testing.T) storage.Store { return memory.New() },
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			t.Cleanup(func() { _ = store.Close() })
			e := queue.New(store, queue.MarkerFunc(func() types.BlockNumber { return 1 }), queue.Config{PageCapacity: 2})

			for _, b := range []string{"A", "B", "C", "D", "E"} {
				_, _, err := e.Enqueue(hostCfg, 1, []byte(b))
				require.NoError(t, err)
			}
			prior, ok, err := e.MQCHeadAt(1, wrapindex.New[wrapindex.MessageDomain](2))
			require.NoError(t, err)
			require.True(t, ok)

			_, err = e.Prune(1, 3)
			require.NoError(t, err)

			msgs, err := e.Contents(1)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, "D", string(msgs[0].Msg))
			assert.Equal(t, "E", string(msgs[1].Msg))
			origin, err := e.PrunedHead(1)
			require.NoError(t, err)
			assert.Equal(t, prior, origin)
			require.NoError(t, e.CheckConsistency())

			_, err = e.Retire(1)
			require.NoError(t, err)
			n, err := e.Length(1)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

// Package broker is the host of the downward message queues.
//
// All application code (HTTP handlers, WebSocket, the block clock) talks to
// the Broker, never directly to the queue engine or the storage layer. The
// broker owns the store, the engine, the block clock and the channel registry,
// and serialises every mutating call so that the engine never sees two
// operations on the same channel at once.
//
// Data flow:
//
//	Sender   → Broker.Send       → queue.Engine.Enqueue
//	Consumer → Broker.Read       → queue.Engine.ReadBounded
//	         → Broker.Process    → queue.Engine.CheckProcessedCount + Prune
//	Admin    → Broker.NewSession → queue.Engine.OnNewSession
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sneh-joshi/dmq/internal/channel"
	"github.com/sneh-joshi/dmq/internal/config"
	"github.com/sneh-joshi/dmq/internal/metrics"
	"github.com/sneh-joshi/dmq/internal/queue"
	"github.com/sneh-joshi/dmq/internal/ringbuf"
	"github.com/sneh-joshi/dmq/internal/storage"
	"github.com/sneh-joshi/dmq/internal/storage/backend"
	"github.com/sneh-joshi/dmq/internal/types"
	"github.com/sneh-joshi/dmq/internal/wrapindex"
)

const tracerName = "github.com/sneh-joshi/dmq/internal/broker"

// ─── Error sentinels ──────────────────────────────────────────────────────────

var (
	// ErrNotRegistered is returned by Send when queue.require_registration is
	// set and the destination channel is not an active registered channel.
	ErrNotRegistered = errors.New("broker: channel not registered")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("broker: closed")
)

// ─── Request / Response types ─────────────────────────────────────────────────

// SendResult is returned after a successful Send.
type SendResult struct {
	// Index is the message index the message was stored under.
	Index  uint64
	SentAt types.BlockNumber
	Head   types.Hash
	Length uint32
	Cost   queue.Cost
	Weight uint64
}

// ProcessResult is returned after a successful Process.
type ProcessResult struct {
	Pruned    uint32
	Remaining uint32
	Cost      queue.Cost
	Weight    uint64
}

// ChannelInfo is a snapshot of one channel's queue.
type ChannelInfo struct {
	Channel types.ChannelID
	Length  uint32
	Head    types.Hash
	State   ringbuf.QueueState
	// Registration is nil for channels nobody registered.
	Registration *channel.Channel
}

// SessionResult is returned by NewSession.
type SessionResult struct {
	Retired []types.ChannelID
	Cost    queue.Cost
	Weight  uint64
}

// Stats is a lightweight snapshot of broker-wide state.
type Stats struct {
	Channels    int               `json:"channels"`
	Registered  int               `json:"registered"`
	Offboarding int               `json:"offboarding"`
	TotalLength uint64            `json:"total_length"`
	BlockNumber types.BlockNumber `json:"block_number"`
	Sessions    int64             `json:"sessions"`
}

// ─── Option / functional options ─────────────────────────────────────────────

// Option is a functional option for the Broker.
type Option func(*Broker)

// WithMetrics attaches a metrics.Registry so that every operation updates the
// relevant counters.
func WithMetrics(reg *metrics.Registry) Option {
	return func(b *Broker) { b.metrics = reg }
}

// WithTracer overrides the tracer. Defaults to the global otel provider.
func WithTracer(t trace.Tracer) Option {
	return func(b *Broker) { b.tracer = t }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithStore makes the broker use store instead of opening the configured
// backend. The broker takes ownership and closes it on Close.
func WithStore(s storage.Store) Option {
	return func(b *Broker) { b.store = s }
}

// ─── Broker ───────────────────────────────────────────────────────────────────

// Broker wires together the store, the queue engine, the block clock and the
// channel registry into a single façade used by every transport layer.
//
// All methods are safe for concurrent use.
type Broker struct {
	cfg    *config.Config
	nodeID string

	store    storage.Store
	engine   *queue.Engine
	channels *channel.Registry

	block    atomic.Uint32
	sessions atomic.Int64

	// mu serialises every engine call.
	mu     sync.Mutex
	closed bool

	cancel context.CancelFunc
	done   chan struct{}

	// Optional integrations (set via functional options).
	metrics *metrics.Registry
	tracer  trace.Tracer
	logger  *slog.Logger
}

// New opens the configured store, loads the channel registry from
// cfg.Node.DataDir and starts the block clock.
func New(cfg *config.Config, nodeID string, opts ...Option) (*Broker, error) {
	dataDir := cfg.Node.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	b := &Broker{
		cfg:    cfg,
		nodeID: nodeID,
		tracer: otel.Tracer(tracerName),
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}

	if b.store == nil {
		st, err := backend.Open(cfg.Storage, dataDir)
		if err != nil {
			return nil, fmt.Errorf("broker: open store: %w", err)
		}
		b.store = st
	}

	reg, err := channel.New(dataDir)
	if err != nil {
		_ = b.store.Close()
		return nil, fmt.Errorf("broker: open channel registry: %w", err)
	}
	b.channels = reg

	b.engine = queue.New(b.store,
		queue.MarkerFunc(b.BlockNumber),
		queue.Config{PageCapacity: cfg.Queue.PageCapacity},
		queue.WithLogger(b.logger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.runClock(ctx, cfg.Host.BlockIntervalDuration())

	return b, nil
}

// Close stops the block clock and closes the store.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	<-b.done
	return b.store.Close()
}

// NodeID returns the node identity string.
func (b *Broker) NodeID() string { return b.nodeID }

// Channels exposes the channel registry.
func (b *Broker) Channels() *channel.Registry { return b.channels }

// ─── Block clock ──────────────────────────────────────────────────────────────

// BlockNumber returns the current block number. Every message sent now is
// stamped with it.
func (b *Broker) BlockNumber() types.BlockNumber {
	return types.BlockNumber(b.block.Load())
}

// AdvanceBlock moves the block clock forward by n and returns the new block
// number.
func (b *Broker) AdvanceBlock(n uint32) types.BlockNumber {
	bn := types.BlockNumber(b.block.Add(n))
	if b.metrics != nil {
		b.metrics.BlockNumber.Set("", int64(bn))
	}
	return bn
}

func (b *Broker) runClock(ctx context.Context, interval time.Duration) {
	defer close(b.done)
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.AdvanceBlock(1)
		}
	}
}

// ─── Tracing helpers ──────────────────────────────────────────────────────────

func (b *Broker) startSpan(ctx context.Context, name string, ch types.ChannelID) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, "dmq."+name, trace.WithAttributes(
		attribute.Int64("dmq.channel", int64(ch)),
		attribute.String("dmq.node_id", b.nodeID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func costAttrs(c queue.Cost) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64("dmq.cost.reads", int64(c.Reads)),
		attribute.Int64("dmq.cost.writes", int64(c.Writes)),
	}
}

func (b *Broker) weights() queue.Weights {
	return queue.Weights{Read: b.cfg.Weights.Read, Write: b.cfg.Weights.Write}
}

// ─── Send ─────────────────────────────────────────────────────────────────────

// Send appends msg to the queue of ch, stamped with the current block number.
func (b *Broker) Send(ctx context.Context, ch types.ChannelID, msg []byte) (res SendResult, err error) {
	_, span := b.startSpan(ctx, "send", ch)
	span.SetAttributes(attribute.Int("dmq.message.size", len(msg)))
	defer func() { endSpan(span, err) }()

	if b.cfg.Queue.RequireRegistration && !b.channels.Active(ch) {
		b.reject(ch, "not_registered")
		return res, fmt.Errorf("%w: %s", ErrNotRegistered, ch)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return res, ErrClosed
	}

	rcpt, cost, err := b.engine.Enqueue(queue.HostConfig{MaxMessageSize: b.cfg.Queue.MaxMessageSize}, ch, msg)
	if err != nil {
		if errors.Is(err, queue.ErrExceedsMaxMessageSize) {
			b.reject(ch, "too_large")
		}
		return res, err
	}

	res = SendResult{
		Index:  rcpt.Index.Value(),
		SentAt: rcpt.SentAt,
		Head:   rcpt.Head,
		Length: rcpt.Length,
		Cost:   cost,
		Weight: cost.Weight(b.weights()),
	}
	span.SetAttributes(costAttrs(cost)...)
	span.SetAttributes(attribute.Int64("dmq.message.index", int64(res.Index)))

	if b.metrics != nil {
		b.metrics.Enqueued.Inc(metrics.ChannelKey(ch))
		b.metrics.QueueDepth.Set(metrics.ChannelKey(ch), int64(rcpt.Length))
	}
	return res, nil
}

func (b *Broker) reject(ch types.ChannelID, reason string) {
	if b.metrics != nil {
		b.metrics.Rejected.Inc(metrics.RejectKey(ch, reason))
	}
}

// ─── Read / Process ───────────────────────────────────────────────────────────

// ReadResult is returned by Read.
type ReadResult struct {
	Messages []types.InboundMessage
	// FirstIndex is the message index of Messages[0].
	FirstIndex uint64
	// Head is the MQC head right after the last returned message, zero when
	// Messages is empty.
	Head types.Hash
}

// Read returns the messages of up to pageCount pages of ch, starting
// startPage pages after the oldest one.
func (b *Broker) Read(ctx context.Context, ch types.ChannelID, startPage, pageCount uint32) (res ReadResult, err error) {
	_, span := b.startSpan(ctx, "read", ch)
	span.SetAttributes(
		attribute.Int64("dmq.read.start_page", int64(startPage)),
		attribute.Int64("dmq.read.page_count", int64(pageCount)),
	)
	defer func() { endSpan(span, err) }()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return res, ErrClosed
	}

	sl, err := b.engine.ReadSlice(ch, startPage, pageCount)
	if err != nil || len(sl.Messages) == 0 {
		return res, err
	}

	span.SetAttributes(attribute.Int("dmq.read.messages", len(sl.Messages)))
	return ReadResult{Messages: sl.Messages, FirstIndex: sl.First.Value(), Head: sl.Head}, nil
}

// Process records that the consumer of ch handled its oldest n messages.
// The count is validated first; an invalid count changes nothing.
func (b *Broker) Process(ctx context.Context, ch types.ChannelID, n uint32) (res ProcessResult, err error) {
	_, span := b.startSpan(ctx, "process", ch)
	span.SetAttributes(attribute.Int64("dmq.process.count", int64(n)))
	defer func() { endSpan(span, err) }()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return res, ErrClosed
	}

	if err := b.engine.CheckProcessedCount(ch, n); err != nil {
		return res, err
	}
	if n == 0 {
		// Only reachable on an empty queue.
		return res, nil
	}

	cost, err := b.engine.Prune(ch, n)
	if err != nil {
		return res, err
	}

	remaining, err := b.engine.Length(ch)
	if err != nil {
		return res, err
	}

	res = ProcessResult{
		Pruned:    n,
		Remaining: remaining,
		Cost:      cost,
		Weight:    cost.Weight(b.weights()),
	}
	span.SetAttributes(costAttrs(cost)...)

	if b.metrics != nil {
		b.metrics.Pruned.Add(metrics.ChannelKey(ch), int64(n))
		b.metrics.QueueDepth.Set(metrics.ChannelKey(ch), int64(remaining))
	}
	return res, nil
}

// ─── Inspection ───────────────────────────────────────────────────────────────

// Info returns the queue snapshot of ch. Unknown channels report an empty
// queue and a zero head.
func (b *Broker) Info(ctx context.Context, ch types.ChannelID) (info ChannelInfo, err error) {
	_, span := b.startSpan(ctx, "info", ch)
	defer func() { endSpan(span, err) }()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return info, ErrClosed
	}
	return b.info(ch)
}

func (b *Broker) info(ch types.ChannelID) (ChannelInfo, error) {
	info := ChannelInfo{Channel: ch}
	st, err := b.engine.State(ch)
	if err != nil {
		return info, err
	}
	head, err := b.engine.MQCHead(ch)
	if err != nil {
		return info, err
	}
	info.State = st
	info.Head = head
	info.Length = uint32(wrapindex.Distance(st.MessageWindow.First, st.MessageWindow.Free))
	if reg, err := b.channels.Get(ch); err == nil {
		info.Registration = reg
	}
	return info, nil
}

// HeadAt returns the MQC head right after the message at idx was sent to ch.
// It reports false when no such message is queued.
func (b *Broker) HeadAt(ctx context.Context, ch types.ChannelID, idx uint64) (h types.Hash, ok bool, err error) {
	_, span := b.startSpan(ctx, "head_at", ch)
	span.SetAttributes(attribute.Int64("dmq.message.index", int64(idx)))
	defer func() { endSpan(span, err) }()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return h, false, ErrClosed
	}
	return b.engine.MQCHeadAt(ch, wrapindex.New[wrapindex.MessageDomain](idx))
}

// Stats returns a snapshot of broker-wide state.
func (b *Broker) Stats() (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Stats{}, ErrClosed
	}

	chs, err := b.engine.Channels()
	if err != nil {
		return Stats{}, err
	}
	s := Stats{
		Channels:    len(chs),
		Offboarding: len(b.channels.Offboarding()),
		Registered:  len(b.channels.List()),
		BlockNumber: b.BlockNumber(),
		Sessions:    b.sessions.Load(),
	}
	for _, ch := range chs {
		n, err := b.engine.Length(ch)
		if err != nil {
			return Stats{}, err
		}
		s.TotalLength += uint64(n)
	}
	return s, nil
}

// CheckConsistency verifies the storage invariants of every channel.
func (b *Broker) CheckConsistency(ctx context.Context) (err error) {
	_, span := b.tracer.Start(ctx, "dmq.check_consistency")
	defer func() { endSpan(span, err) }()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return b.engine.CheckConsistency()
}

// ─── Channel lifecycle ────────────────────────────────────────────────────────

// Register adds ch to the channel registry.
func (b *Broker) Register(ch types.ChannelID, label string) (*channel.Channel, error) {
	c, err := b.channels.Register(ch, label)
	if err != nil {
		return nil, err
	}
	b.logger.Info("channel registered", "channel", ch, "label", label)
	return c, nil
}

// Offboard marks ch for offboarding. Its queue is retired at the next
// NewSession; until then it keeps accepting and serving messages.
func (b *Broker) Offboard(ch types.ChannelID) error {
	if err := b.channels.MarkOffboarding(ch); err != nil {
		return err
	}
	b.logger.Info("channel marked for offboarding", "channel", ch)
	return nil
}

// NewSession starts a new session: every channel marked for offboarding is
// retired and removed from the registry.
func (b *Broker) NewSession(ctx context.Context) (res SessionResult, err error) {
	_, span := b.tracer.Start(ctx, "dmq.new_session", trace.WithAttributes(
		attribute.String("dmq.node_id", b.nodeID),
	))
	defer func() { endSpan(span, err) }()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return res, ErrClosed
	}

	outgoing := b.channels.Offboarding()
	cost, err := b.engine.OnNewSession(outgoing)
	if err != nil {
		return res, err
	}
	if err := b.channels.Remove(outgoing...); err != nil {
		return res, err
	}
	b.sessions.Add(1)

	res = SessionResult{
		Retired: outgoing,
		Cost:    cost,
		Weight:  cost.Weight(b.weights()),
	}
	span.SetAttributes(costAttrs(cost)...)
	span.SetAttributes(attribute.Int("dmq.session.retired", len(outgoing)))

	if b.metrics != nil {
		b.metrics.Sessions.Inc("")
		for _, ch := range outgoing {
			b.metrics.Retired.Inc(metrics.ChannelKey(ch))
			b.metrics.QueueDepth.Set(metrics.ChannelKey(ch), 0)
		}
	}
	b.logger.Info("new session", "retired", len(outgoing))
	return res, nil
}

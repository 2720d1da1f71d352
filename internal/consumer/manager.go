// Package consumer relays channel queues to HTTP webhooks.
//
// A subscription polls its channel, POSTs the oldest page of messages to the
// webhook and, when the endpoint answers 200 OK, processes exactly those
// messages. A failed delivery leaves the queue untouched and is retried on
// the next tick, so the endpoint sees every message at least once and in
// order.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sneh-joshi/dmq/internal/broker"
	"github.com/sneh-joshi/dmq/internal/node"
	"github.com/sneh-joshi/dmq/internal/types"
)

// DefaultPollInterval is how often a subscription checks its channel.
const DefaultPollInterval = 500 * time.Millisecond

var ErrSubscriptionNotFound = errors.New("consumer: subscription not found")

// ErrChannelSubscribed is returned when a channel already has a webhook.
// Two relays on one channel would process each other's messages.
var ErrChannelSubscribed = errors.New("consumer: channel already has a subscription")

// Subscription is one channel relayed to one webhook URL.
type Subscription struct {
	ID      string
	Channel types.ChannelID
	URL     string
	secret  string
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager owns the delivery loops of every subscription.
type Manager struct {
	broker   *broker.Broker
	interval time.Duration
	client   *http.Client

	mu   sync.RWMutex
	subs map[string]*Subscription
}

// Option configures a Manager.
type Option func(*Manager)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// NewManager returns a Manager relaying channels of b. No delivery starts
// until Register is called.
func NewManager(b *broker.Broker, opts ...Option) *Manager {
	m := &Manager{
		broker:   b,
		interval: DefaultPollInterval,
		client:   &http.Client{Timeout: 10 * time.Second},
		subs:     make(map[string]*Subscription),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Register starts relaying ch to url and returns the subscription ID. Bodies
// are signed with secret when it is non-empty. A channel has at most one
// subscription; a second one fails with ErrChannelSubscribed.
func (m *Manager) Register(ch types.ChannelID, url, secret string) (string, error) {
	id, err := node.NewID()
	if err != nil {
		return "", fmt.Errorf("consumer: generate subscription ID: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{ID: id, Channel: ch, URL: url, secret: secret, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	for _, s := range m.subs {
		if s.Channel == ch {
			m.mu.Unlock()
			cancel()
			return "", fmt.Errorf("%w: %s", ErrChannelSubscribed, ch)
		}
	}
	m.subs[id] = sub
	m.mu.Unlock()

	go m.deliveryLoop(ctx, sub)
	slog.Info("subscription registered", "id", id, "channel", ch, "url", url)
	return id, nil
}

// Deregister stops the subscription id and waits for an in-flight delivery to
// finish. Unknown IDs return ErrSubscriptionNotFound.
func (m *Manager) Deregister(id string) error {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	sub.cancel()
	<-sub.done
	slog.Info("subscription deregistered", "id", id)
	return nil
}

// Close stops every delivery loop and waits for them to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*Subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
}

func (m *Manager) deliveryLoop(ctx context.Context, sub *Subscription) {
	defer close(sub.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.deliverOnce(ctx, sub)
		}
	}
}

// deliverOnce relays the oldest page of sub's channel, if any.
func (m *Manager) deliverOnce(ctx context.Context, sub *Subscription) {
	res, err := m.broker.Read(ctx, sub.Channel, 0, 1)
	if err != nil {
		slog.Warn("consumer: read error", "sub", sub.ID, "err", err)
		return
	}
	if len(res.Messages) == 0 {
		return
	}
	if err := deliverPage(ctx, m.client, sub, res); err != nil {
		slog.Warn("consumer: delivery failed, will retry", "sub", sub.ID, "err", err)
		return
	}
	if _, err := m.broker.Process(ctx, sub.Channel, uint32(len(res.Messages))); err != nil {
		slog.Warn("consumer: process after delivery failed", "sub", sub.ID, "err", err)
	}
}

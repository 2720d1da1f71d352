// Package client is the official Go SDK for dmq.
//
// # Quick start
//
//	c := client.New("http://localhost:8080")
//
//	// Send a message downward to channel 2000
//	sent, err := c.Send(ctx, 2000, []byte(`{"amount":42}`))
//
//	// Consume with chain verification
//	v := client.NewVerifier()
//	for {
//	    msgs, err := c.Consume(ctx, 2000, v, 1)
//	    ...
//	}
//
// # Chain verification
//
// Every channel carries a message queue chain (MQC): a running hash over all
// messages ever sent to it. A Verifier remembers the head up to the last
// message the consumer accepted; Consume checks each new batch against the
// head the server reports and refuses to process anything that does not
// extend the chain.
//
// # Error handling
//
// All methods return an *APIError when the server responds with a non-2xx
// status code. Check errors.As(err, &client.APIError{}) to inspect the HTTP
// status and server message.
//
// # Connection reuse
//
// Client is safe for concurrent use. It shares a single http.Client internally
// so connections are reused across goroutines.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sneh-joshi/dmq/internal/mqc"
	"github.com/sneh-joshi/dmq/internal/types"
)

// Hash is a 32-byte MQC head, rendered as 0x-prefixed hex.
type Hash = types.Hash

// ChannelID names a channel.
type ChannelID = types.ChannelID

// BlockNumber is the block a message was sent in.
type BlockNumber = types.BlockNumber

// ErrChainMismatch is returned by Consume when the messages served do not
// extend the verifier's chain to the head the server reported.
var ErrChainMismatch = mqc.ErrChainMismatch

// ErrGap is returned by Consume when the oldest queued message is not the one
// the verifier expects next, i.e. messages were processed behind its back.
var ErrGap = errors.New("dmq: message index gap")

// ─── Error type ───────────────────────────────────────────────────────────────

// APIError is returned when the dmq server responds with a non-2xx status.
type APIError struct {
	StatusCode int    // HTTP status code
	Message    string // "error" field from the JSON response body
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dmq: server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsConflict reports whether the error is a 409 (already exists) from the server.
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusConflict
}

// IsRejected reports whether the server refused a process count (422).
func IsRejected(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusUnprocessableEntity
}

// ─── Client options ───────────────────────────────────────────────────────────

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the API key sent in every request as the X-Api-Key header.
// Required when the server has auth.enabled = true.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
// Use this to configure TLS, proxies, or request tracing.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
// The default is 30 seconds.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client is the dmq API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a new Client that connects to the dmq server at baseURL.
//
//	c := client.New("http://localhost:8080")
//	c := client.New("http://dmq.example.com", client.WithAPIKey("secret"))
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ─── Public types ─────────────────────────────────────────────────────────────

// Cost is the storage cost the server charged for an operation.
type Cost struct {
	Reads  uint64 `json:"reads"`
	Writes uint64 `json:"writes"`
	Weight uint64 `json:"weight"`
}

// SendResult describes a message that was queued.
type SendResult struct {
	Index  uint64      `json:"index"`
	SentAt BlockNumber `json:"sent_at"`
	Head   Hash        `json:"head"`
	Length uint32      `json:"length"`
	Cost   Cost        `json:"cost"`
}

// Message is one queued message.
type Message struct {
	Index  uint64
	SentAt BlockNumber
	Body   []byte
}

// Batch is the result of Read.
type Batch struct {
	Messages []*Message
	// Head is the MQC head right after the last message; zero when empty.
	Head Hash
}

// ProcessResult describes a successful Process call.
type ProcessResult struct {
	Pruned    uint32 `json:"pruned"`
	Remaining uint32 `json:"remaining"`
	Cost      Cost   `json:"cost"`
}

// Channel is a registered channel.
type Channel struct {
	ID            ChannelID `json:"id"`
	Label         string    `json:"label,omitempty"`
	RegisteredAt  int64     `json:"registered_at"`
	OffboardingAt int64     `json:"offboarding_at,omitempty"`
}

// QueueState is the raw index state of a channel's queue.
type QueueState struct {
	HeadPage  uint64 `json:"head_page"`
	TailPage  uint64 `json:"tail_page"`
	FirstMsg  uint64 `json:"first_message"`
	FreeMsg   uint64 `json:"free_message"`
	PageCount uint64 `json:"page_count"`
}

// ChannelInfo is a snapshot of a channel's queue.
type ChannelInfo struct {
	ID           ChannelID  `json:"id"`
	Length       uint32     `json:"length"`
	Head         Hash       `json:"head"`
	State        QueueState `json:"state"`
	Registration *Channel   `json:"registration,omitempty"`
}

// SessionResult lists the channels retired by NewSession.
type SessionResult struct {
	Retired []ChannelID `json:"retired"`
	Cost    Cost        `json:"cost"`
}

// HealthInfo is the response from GET /health.
type HealthInfo struct {
	Status      string      `json:"status"`
	NodeID      string      `json:"node_id"`
	Channels    int         `json:"channels"`
	BlockNumber BlockNumber `json:"block_number"`
	Uptime      string      `json:"uptime"`
	UptimeMs    int64       `json:"uptime_ms"`
	Version     string      `json:"version"`
}

// Stats is the response from GET /api/stats.
type Stats struct {
	Channels    int         `json:"channels"`
	Registered  int         `json:"registered"`
	Offboarding int         `json:"offboarding"`
	TotalLength uint64      `json:"total_length"`
	BlockNumber BlockNumber `json:"block_number"`
	Sessions    int64       `json:"sessions"`
}

// ─── Messages ─────────────────────────────────────────────────────────────────

// Send queues body on channel ch.
func (c *Client) Send(ctx context.Context, ch ChannelID, body []byte) (*SendResult, error) {
	var resp SendResult
	payload := sendPayload{Body: base64.StdEncoding.EncodeToString(body)}
	if err := c.do(ctx, http.MethodPost, channelPath(ch, "/messages"), payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Read returns up to pageCount pages of ch, skipping startPage pages.
func (c *Client) Read(ctx context.Context, ch ChannelID, startPage, pageCount uint32) (*Batch, error) {
	q := url.Values{}
	q.Set("start_page", strconv.FormatUint(uint64(startPage), 10))
	q.Set("page_count", strconv.FormatUint(uint64(pageCount), 10))

	var resp readResponse
	if err := c.do(ctx, http.MethodGet, channelPath(ch, "/messages?"+q.Encode()), nil, &resp); err != nil {
		return nil, err
	}

	b := &Batch{Messages: make([]*Message, 0, len(resp.Messages))}
	for _, w := range resp.Messages {
		m, err := w.toMessage()
		if err != nil {
			return nil, err
		}
		b.Messages = append(b.Messages, m)
	}
	if resp.Head != nil {
		b.Head = *resp.Head
	}
	return b, nil
}

// Process tells the server that the oldest n messages of ch were handled.
func (c *Client) Process(ctx context.Context, ch ChannelID, n uint32) (*ProcessResult, error) {
	var resp ProcessResult
	if err := c.do(ctx, http.MethodPost, channelPath(ch, "/process"), processPayload{Count: n}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HeadAt returns the MQC head right after the message at idx was sent.
// It returns an *APIError satisfying IsNotFound once the message is pruned.
func (c *Client) HeadAt(ctx context.Context, ch ChannelID, idx uint64) (Hash, error) {
	var resp struct {
		Head Hash `json:"head"`
	}
	err := c.do(ctx, http.MethodGet, channelPath(ch, "/heads/"+strconv.FormatUint(idx, 10)), nil, &resp)
	return resp.Head, err
}

// ─── Verified consumption ─────────────────────────────────────────────────────

// Verifier tracks the MQC head of the messages a consumer has accepted from
// one channel. The zero value starts at the beginning of a fresh channel.
type Verifier struct {
	head Hash
	next uint64
}

// NewVerifier returns a Verifier for a channel that has never been consumed.
func NewVerifier() *Verifier { return &Verifier{} }

// ResumeVerifier returns a Verifier that continues from head, the MQC head
// after message next-1.
func ResumeVerifier(head Hash, next uint64) *Verifier {
	return &Verifier{head: head, next: next}
}

// Head returns the MQC head covering every accepted message.
func (v *Verifier) Head() Hash { return v.head }

// Next returns the index of the next message the verifier expects.
func (v *Verifier) Next() uint64 { return v.next }

// Accept checks that msgs, starting at index first, extend the chain to head.
// On success the verifier advances past them; otherwise it is unchanged.
func (v *Verifier) Accept(first uint64, msgs []*Message, head Hash) error {
	if len(msgs) == 0 {
		return nil
	}
	if first != v.next {
		return fmt.Errorf("%w: expected message %d, got %d", ErrGap, v.next, first)
	}
	in := make([]types.InboundMessage, len(msgs))
	for i, m := range msgs {
		in[i] = types.InboundMessage{Msg: m.Body, SentAt: m.SentAt}
	}
	if err := mqc.Verify(v.head, in, head); err != nil {
		return err
	}
	v.head = head
	v.next = first + uint64(len(msgs))
	return nil
}

// Consume reads up to pageCount pages from the front of ch, verifies them
// against v and, once they check out, processes them on the server. The
// verified messages are returned oldest first. An empty queue returns no
// messages and no error.
func (c *Client) Consume(ctx context.Context, ch ChannelID, v *Verifier, pageCount uint32) ([]*Message, error) {
	batch, err := c.Read(ctx, ch, 0, pageCount)
	if err != nil {
		return nil, err
	}
	if len(batch.Messages) == 0 {
		return nil, nil
	}
	if err := v.Accept(batch.Messages[0].Index, batch.Messages, batch.Head); err != nil {
		return nil, err
	}
	if _, err := c.Process(ctx, ch, uint32(len(batch.Messages))); err != nil {
		return nil, err
	}
	return batch.Messages, nil
}

// ─── Channels ─────────────────────────────────────────────────────────────────

// Register registers channel ch with an optional label.
func (c *Client) Register(ctx context.Context, ch ChannelID, label string) (*Channel, error) {
	var resp Channel
	if err := c.do(ctx, http.MethodPost, "/channels", registerPayload{ID: ch, Label: label}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListChannels returns every registered channel.
func (c *Client) ListChannels(ctx context.Context) ([]*Channel, error) {
	var resp struct {
		Channels []*Channel `json:"channels"`
	}
	if err := c.do(ctx, http.MethodGet, "/channels", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Channels, nil
}

// Info returns the queue snapshot of ch.
func (c *Client) Info(ctx context.Context, ch ChannelID) (*ChannelInfo, error) {
	var resp ChannelInfo
	if err := c.do(ctx, http.MethodGet, channelPath(ch, ""), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Offboard marks ch for retirement at the next session.
func (c *Client) Offboard(ctx context.Context, ch ChannelID) error {
	return c.do(ctx, http.MethodDelete, channelPath(ch, ""), nil, nil)
}

// ─── Webhook subscriptions ────────────────────────────────────────────────────

// Subscribe asks the node to relay ch to target. Each delivery is a JSON page
// signed with secret when one is given; the node processes the page once the
// endpoint answers 200. It returns the subscription ID.
func (c *Client) Subscribe(ctx context.Context, ch ChannelID, target, secret string) (string, error) {
	req := map[string]string{"url": target}
	if secret != "" {
		req["secret"] = secret
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, channelPath(ch, "/subscriptions"), req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Unsubscribe stops a relay created by Subscribe.
func (c *Client) Unsubscribe(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/subscriptions/"+url.PathEscape(id), nil, nil)
}

// ─── Admin ────────────────────────────────────────────────────────────────────

// NewSession retires every offboarding channel.
func (c *Client) NewSession(ctx context.Context) (*SessionResult, error) {
	var resp SessionResult
	if err := c.do(ctx, http.MethodPost, "/admin/session", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AdvanceBlocks moves the server's block clock forward by n.
func (c *Client) AdvanceBlocks(ctx context.Context, n uint32) (BlockNumber, error) {
	var resp struct {
		BlockNumber BlockNumber `json:"block_number"`
	}
	err := c.do(ctx, http.MethodPost, "/admin/blocks", advancePayload{Count: n}, &resp)
	return resp.BlockNumber, err
}

// CheckConsistency asks the server to verify its storage invariants.
func (c *Client) CheckConsistency(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/admin/consistency", nil, nil)
}

// Health returns the server's health status.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	var resp HealthInfo
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats returns broker-wide counters.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var resp Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ─── HTTP transport ───────────────────────────────────────────────────────────

func channelPath(ch ChannelID, suffix string) string {
	return "/channels/" + ch.String() + suffix
}

// do performs a single HTTP request.
// body is encoded as JSON when non-nil, resp is decoded from JSON when non-nil.
// A 204 No Content response is treated as success with no body.
func (c *Client) do(ctx context.Context, method, path string, body, resp any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("dmq: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("dmq: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dmq: request %s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	// Success without body
	if httpResp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("dmq: read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return &APIError{StatusCode: httpResp.StatusCode, Message: msg}
	}

	if resp != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, resp); err != nil {
			return fmt.Errorf("dmq: decode response: %w", err)
		}
	}
	return nil
}

// ─── Internal wire types ──────────────────────────────────────────────────────

type sendPayload struct {
	Body string `json:"body"`
}

type processPayload struct {
	Count uint32 `json:"count"`
}

type registerPayload struct {
	ID    ChannelID `json:"id"`
	Label string    `json:"label,omitempty"`
}

type advancePayload struct {
	Count uint32 `json:"count"`
}

type readResponse struct {
	Messages []wireMessage `json:"messages"`
	Head     *Hash         `json:"head"`
}

type wireMessage struct {
	Index  uint64      `json:"index"`
	SentAt BlockNumber `json:"sent_at"`
	Body   string      `json:"body"` // base64
}

func (w *wireMessage) toMessage() (*Message, error) {
	body, err := base64.StdEncoding.DecodeString(w.Body)
	if err != nil {
		return nil, fmt.Errorf("dmq: decode message %d: %w", w.Index, err)
	}
	return &Message{Index: w.Index, SentAt: w.SentAt, Body: body}, nil
}

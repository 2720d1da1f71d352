// Package websocket pushes channel state changes to consumers over WebSocket.
//
// Clients open a WebSocket connection to:
//
//	GET /channels/{id}/ws
//
// The server polls the channel every PollInterval and pushes a state frame
// whenever its length or MQC head changed, plus one right after connecting.
// Clients may read and process messages over the same connection.
//
// Server → client frames:
//
//	{"type":"state","channel":1000,"length":3,"head":"0x…","block_number":42}
//	{"type":"messages","messages":[{"index":0,"sent_at":41,"body":"<base64>"}],"head":"0x…"}
//	{"type":"processed","pruned":2,"remaining":1}
//	{"type":"error","error":"..."}
//
// Client → server control frames:
//
//	{"type":"read",    "start_page":0, "page_count":1}
//	{"type":"process", "count":2}
package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/sneh-joshi/dmq/internal/broker"
	"github.com/sneh-joshi/dmq/internal/node"
	"github.com/sneh-joshi/dmq/internal/types"
)

// DefaultPollInterval is how often a connection checks its channel for changes.
const DefaultPollInterval = 200 * time.Millisecond

// urlParse is an alias so the upgrader closure can call it without shadowing
// the url package import.
var urlParse = url.Parse

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin WebSocket upgrade requests.
	// A request is considered same-origin when its Origin header matches the
	// Host header (scheme-agnostic). Requests without an Origin header
	// (e.g. from native clients/curl) are always allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client, allow
		}
		parsed, err := parseHost(origin)
		if err != nil {
			return false
		}
		return parsed == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := urlParse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// Handler serves the WebSocket endpoint for a channel.
// It is mounted by the HTTP server and reads the channel id from r.PathValue.
type Handler struct {
	Broker *broker.Broker

	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration
}

// serverFrame is the JSON structure the server sends to the client.
type serverFrame struct {
	Type        string            `json:"type"`
	Channel     types.ChannelID   `json:"channel,omitempty"`
	Length      uint32            `json:"length"`
	Head        *types.Hash       `json:"head,omitempty"`
	BlockNumber types.BlockNumber `json:"block_number,omitempty"`
	Messages    []messageFrame    `json:"messages,omitempty"`
	Pruned      uint32            `json:"pruned,omitempty"`
	Remaining   uint32            `json:"remaining,omitempty"`
	Error       string            `json:"error,omitempty"`
}

type messageFrame struct {
	Index  uint64            `json:"index"`
	SentAt types.BlockNumber `json:"sent_at"`
	Body   string            `json:"body"` // base64
}

// clientFrame is the JSON structure the client sends to the server.
type clientFrame struct {
	Type      string `json:"type"` // "read" | "process"
	StartPage uint32 `json:"start_page"`
	PageCount uint32 `json:"page_count"`
	Count     uint32 `json:"count"`
}

// ServeHTTP upgrades the connection and starts the push loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch, err := types.ParseChannelID(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid channel id"}`, http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub := node.MustNewID()
	log := slog.With("subscription", sub, "channel", ch)
	log.Debug("websocket subscribed")
	defer log.Debug("websocket closed")

	// Start a goroutine to read control frames from the client.
	controlCh := make(chan clientFrame, 64)
	go func() {
		defer close(controlCh)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cf clientFrame
			if jsonErr := json.Unmarshal(raw, &cf); jsonErr == nil {
				controlCh <- cf
			}
		}
	}()

	interval := h.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := r.Context()
	var (
		last    serverFrame
		started bool
	)
	pushState := func() bool {
		frame, err := h.state(ctx, ch)
		if err != nil {
			log.Warn("ws state failed", "err", err)
			return true
		}
		if started && frame.Length == last.Length && *frame.Head == *last.Head {
			return true
		}
		started, last = true, frame
		return write(conn, frame)
	}

	if !pushState() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return

		case cf, ok := <-controlCh:
			if !ok {
				return // client disconnected
			}
			if !write(conn, h.control(ctx, ch, cf)) {
				return
			}

		case <-ticker.C:
			if !pushState() {
				return
			}
		}
	}
}

func (h *Handler) state(ctx context.Context, ch types.ChannelID) (serverFrame, error) {
	info, err := h.Broker.Info(ctx, ch)
	if err != nil {
		return serverFrame{}, err
	}
	head := info.Head
	return serverFrame{
		Type:        "state",
		Channel:     ch,
		Length:      info.Length,
		Head:        &head,
		BlockNumber: h.Broker.BlockNumber(),
	}, nil
}

func (h *Handler) control(ctx context.Context, ch types.ChannelID, cf clientFrame) serverFrame {
	switch cf.Type {
	case "read":
		count := cf.PageCount
		if count == 0 {
			count = 1
		}
		res, err := h.Broker.Read(ctx, ch, cf.StartPage, count)
		if err != nil {
			return errorFrame(err)
		}
		frame := serverFrame{Type: "messages", Channel: ch, Length: uint32(len(res.Messages))}
		for i, m := range res.Messages {
			frame.Messages = append(frame.Messages, messageFrame{
				Index:  res.FirstIndex + uint64(i),
				SentAt: m.SentAt,
				Body:   base64.StdEncoding.EncodeToString(m.Msg),
			})
		}
		if len(res.Messages) > 0 {
			frame.Head = &res.Head
		}
		return frame

	case "process":
		res, err := h.Broker.Process(ctx, ch, cf.Count)
		if err != nil {
			return errorFrame(err)
		}
		return serverFrame{Type: "processed", Channel: ch, Pruned: res.Pruned, Remaining: res.Remaining}

	default:
		return errorFrame(fmt.Errorf("unknown frame type %q", cf.Type))
	}
}

func errorFrame(err error) serverFrame {
	return serverFrame{Type: "error", Error: err.Error()}
}

func write(conn *gorillaws.Conn, f serverFrame) bool {
	data, _ := json.Marshal(f)
	return conn.WriteMessage(gorillaws.TextMessage, data) == nil
}

package websocket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/sneh-joshi/dmq/internal/broker"
	"github.com/sneh-joshi/dmq/internal/config"
	"github.com/sneh-joshi/dmq/internal/types"
	transportws "github.com/sneh-joshi/dmq/internal/transport/websocket"
)

type frame struct {
	Type      string      `json:"type"`
	Length    uint32      `json:"length"`
	Head      *types.Hash `json:"head"`
	Pruned    uint32      `json:"pruned"`
	Remaining uint32      `json:"remaining"`
	Error     string      `json:"error"`
	Messages  []struct {
		Index uint64 `json:"index"`
	} `json:"messages"`
}

func newTestConn(t *testing.T) (*broker.Broker, *gorillaws.Conn) {
	t.Helper()
	cfg := config.Default()
	cfg.Node.DataDir = t.TempDir()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Host.BlockInterval = "0"

	b, err := broker.New(cfg, "test-node")
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	mux := http.NewServeMux()
	mux.Handle("GET /channels/{id}/ws", &transportws.Handler{Broker: b, PollInterval: 10 * time.Millisecond})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/channels/42/ws"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return b, conn
}

func readFrame(t *testing.T, conn *gorillaws.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestWebSocket_PushesStateChanges(t *testing.T) {
	b, conn := newTestConn(t)

	first := readFrame(t, conn)
	if first.Type != "state" || first.Length != 0 || first.Head == nil || !first.Head.IsZero() {
		t.Fatalf("initial frame: %+v", first)
	}

	if _, err := b.Send(context.Background(), 42, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	next := readFrame(t, conn)
	if next.Type != "state" || next.Length != 1 || next.Head.IsZero() {
		t.Fatalf("state after send: %+v", next)
	}
}

func TestWebSocket_ReadAndProcess(t *testing.T) {
	b, conn := newTestConn(t)
	readFrame(t, conn) // initial state

	for _, body := range []string{"a", "b"} {
		if _, err := b.Send(context.Background(), 42, []byte(body)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	// Drain state frames until the queue shows both messages.
	for {
		if f := readFrame(t, conn); f.Length == 2 {
			break
		}
	}

	if err := conn.WriteJSON(map[string]any{"type": "read", "page_count": 1}); err != nil {
		t.Fatalf("write read frame: %v", err)
	}
	f := readFrame(t, conn)
	for f.Type == "state" {
		f = readFrame(t, conn)
	}
	if f.Type != "messages" || len(f.Messages) != 2 || f.Head == nil {
		t.Fatalf("messages frame: %+v", f)
	}

	if err := conn.WriteJSON(map[string]any{"type": "process", "count": 5}); err != nil {
		t.Fatalf("write process frame: %v", err)
	}
	f = readFrame(t, conn)
	for f.Type == "state" {
		f = readFrame(t, conn)
	}
	if f.Type != "error" {
		t.Fatalf("expected error frame for underflow, got %+v", f)
	}

	if err := conn.WriteJSON(map[string]any{"type": "process", "count": 2}); err != nil {
		t.Fatalf("write process frame: %v", err)
	}
	f = readFrame(t, conn)
	for f.Type == "state" {
		f = readFrame(t, conn)
	}
	if f.Type != "processed" || f.Pruned != 2 || f.Remaining != 0 {
		t.Fatalf("processed frame: %+v", f)
	}
}

// Package http provides the HTTP transport layer for dmq.
//
// Routes (Go 1.22+ method-qualified patterns):
//
//	GET    /health
//	GET    /api/stats
//	POST   /channels
//	GET    /channels
//	GET    /channels/{id}
//	DELETE /channels/{id}
//	POST   /channels/{id}/messages
//	GET    /channels/{id}/messages
//	POST   /channels/{id}/process
//	GET    /channels/{id}/heads/{index}
//	GET    /channels/{id}/ws
//	POST   /channels/{id}/subscriptions
//	DELETE /subscriptions/{id}
//	POST   /admin/session
//	POST   /admin/blocks
//	GET    /admin/consistency
//	GET    /metrics
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/sneh-joshi/dmq/internal/broker"
	"github.com/sneh-joshi/dmq/internal/config"
	"github.com/sneh-joshi/dmq/internal/consumer"
	"github.com/sneh-joshi/dmq/internal/metrics"
	transportws "github.com/sneh-joshi/dmq/internal/transport/websocket"
)

// Server wraps the stdlib HTTP server with dmq route wiring.
type Server struct {
	inner *http.Server
}

// New builds a Server from a Broker and its webhook relay. reg may be nil.
// The caller is responsible for calling ListenAndServe / Shutdown.
func New(b *broker.Broker, cm *consumer.Manager, cfg *config.Config, reg *metrics.Registry) *Server {
	h := &Handler{broker: b, consumer: cm, dataDir: cfg.Node.DataDir}
	ws := &transportws.Handler{Broker: b}

	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/stats", h.stats)

	// Channel registry
	mux.HandleFunc("POST /channels", h.registerChannel)
	mux.HandleFunc("GET /channels", h.listChannels)
	mux.HandleFunc("GET /channels/{id}", h.channelInfo)
	mux.HandleFunc("DELETE /channels/{id}", h.offboardChannel)

	// Messages
	mux.HandleFunc("POST /channels/{id}/messages", h.sendMessage)
	mux.HandleFunc("GET /channels/{id}/messages", h.readMessages)
	mux.HandleFunc("POST /channels/{id}/process", h.processMessages)
	mux.HandleFunc("GET /channels/{id}/heads/{index}", h.headAt)

	// WebSocket push
	mux.Handle("GET /channels/{id}/ws", ws)

	// Webhook subscriptions
	mux.HandleFunc("POST /channels/{id}/subscriptions", h.createSubscription)
	mux.HandleFunc("DELETE /subscriptions/{id}", h.deleteSubscription)

	// Admin
	mux.HandleFunc("POST /admin/session", h.newSession)
	mux.HandleFunc("POST /admin/blocks", h.advanceBlocks)
	mux.HandleFunc("GET /admin/consistency", h.checkConsistency)

	// Metrics (Prometheus text format)
	if reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
	}

	// Build middleware chain: CORS → body limit → logging → metrics → auth → rate-limit
	var handler http.Handler = mux
	handler = chain(handler,
		CORSMiddleware,
		MaxBodyMiddleware,
		LoggingMiddleware,
		MetricsMiddleware(reg),
		AuthMiddleware(cfg.Auth.APIKey, cfg.Auth.Enabled),
		RateLimitMiddleware(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst),
	)

	return &Server{
		inner: &http.Server{
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// ListenAndServe starts the server on the given address (e.g. ":8080").
// It returns when the server stops or encounters an error.
func (s *Server) ListenAndServe(addr string) error {
	s.inner.Addr = addr
	return s.inner.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}

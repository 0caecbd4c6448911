// Package api exposes the HTTP surface of the reservation assistant: the
// chat endpoint, session inspection and expiry, the health probe, and the
// Twilio WhatsApp webhook.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gastrobot/gastrobot/internal/orchestrator"
	"github.com/gastrobot/gastrobot/internal/session"
	"github.com/gastrobot/gastrobot/internal/whatsapp"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// DefaultHandleTimeout bounds one inbound message end to end, covering every
// model and backend round trip of the orchestration loop.
const DefaultHandleTimeout = 2 * time.Minute

// Conversation is the orchestration entry point the handlers call.
// *orchestrator.Orchestrator satisfies it.
type Conversation interface {
	HandleMessage(ctx context.Context, sessionID, message string) (*orchestrator.Result, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	HandleTimeout time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithHandleTimeout sets the per-message processing deadline.
func WithHandleTimeout(d time.Duration) Option {
	return func(o *Opts) { o.HandleTimeout = d }
}

// Server wires the orchestrator, the session store and the optional WhatsApp
// sender into HTTP handlers.
type Server struct {
	conv          Conversation
	store         session.Store
	sender        whatsapp.Sender
	addr          string
	handleTimeout time.Duration
}

// NewServer creates the API server. sender may be nil when the WhatsApp
// channel is not configured; the webhook then answers 503.
func NewServer(conv Conversation, store session.Store, sender whatsapp.Sender, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = DefaultHandleTimeout
	}
	slog.Debug("api.NewServer: creating server", "addr", cfg.Addr, "whatsappEnabled", sender != nil)

	return &Server{
		conv:          conv,
		store:         store,
		sender:        sender,
		addr:          cfg.Addr,
		handleTimeout: cfg.HandleTimeout,
	}
}

// Handler builds the route table. Exposed separately so tests can drive the
// mux without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.chatHandler)
	mux.HandleFunc("/api/chat/", s.sessionHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/webhook/whatsapp", s.whatsappWebhookHandler)
	return mux
}

// Run starts the HTTP server and blocks until it exits.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Server.Run: GastroBot API listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

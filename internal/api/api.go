package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splitkaro/billpipe/internal/conversation"
	"github.com/splitkaro/billpipe/internal/messaging"
	"github.com/splitkaro/billpipe/internal/monitor"
)

// Defaults for the HTTP server.
const (
	DefaultAddr            = ":8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the conversation engine to HTTP and to the messaging
// channels.
type Server struct {
	manager   *conversation.Manager
	monitor   *monitor.ErrorMonitor
	health    *monitor.HealthChecker
	deliverer *messaging.Deliverer
	sms       *messaging.SMSService
	addr      string
}

// NewServer creates the API server. sms may be nil when no SMS tier is
// configured; its inbound webhook then returns 503.
func NewServer(manager *conversation.Manager, mon *monitor.ErrorMonitor, health *monitor.HealthChecker, deliverer *messaging.Deliverer, sms *messaging.SMSService, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		manager:   manager,
		monitor:   mon,
		health:    health,
		deliverer: deliverer,
		sms:       sms,
		addr:      cfg.Addr,
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/webhook/sms", s.smsWebhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/errors/summary", s.errorSummaryHandler)
	mux.HandleFunc("/conversations/reset", s.resetConversationHandler)
	mux.HandleFunc("/conversations/context", s.conversationContextHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Routes(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("BillPipe API running", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown failed", "error", err)
			return err
		}
		slog.Info("API server stopped")
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("API server failed", "error", err)
			return err
		}
		return nil
	}
}

// RunMessagePump consumes inbound messages from a messaging service, runs
// them through the conversation manager and delivers the replies. Blocks
// until the context is cancelled or the channel closes.
func (s *Server) RunMessagePump(ctx context.Context, svc messaging.Service) {
	slog.Debug("Message pump starting")
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Message pump stopping due to context cancellation")
			return
		case msg, ok := <-svc.Messages():
			if !ok {
				slog.Debug("Message pump stopping, channel closed")
				return
			}
			response := s.manager.ProcessMessage(ctx, msg.UserID, msg)
			if response.Content == "" {
				continue
			}
			to := msg.SenderPhone()
			if to == "" {
				to = msg.UserID
			}
			if _, err := s.deliverer.Deliver(ctx, to, response.Content); err != nil {
				slog.Error("Message pump delivery failed", "error", err, "to", to)
			}
		}
	}
}

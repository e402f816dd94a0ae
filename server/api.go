package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexcodex/vision2ui/transport"
)

// SessionServer runs a host session over a channel until it closes.
type SessionServer interface {
	Serve(ctx context.Context, ch transport.Channel) error
}

// StatusFunc reports the component service state for /api/status.
type StatusFunc func(ctx context.Context) any

// BridgeServer exposes panel sessions over websockets plus health and
// metrics endpoints.
type BridgeServer struct {
	Host     SessionServer
	Gatherer prometheus.Gatherer
	Status   StatusFunc
	Logger   *log.Logger
	WSConfig transport.WebSocketConfig

	// AllowedOrigins lists extra browser origins allowed to open /panel.
	AllowedOrigins []string
}

// Serve starts listening on the provided address.
func (s *BridgeServer) Serve(addr string) error {
	return s.ServeContext(context.Background(), addr)
}

// ServeContext allows the caller to control shutdown via context cancellation.
func (s *BridgeServer) ServeContext(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logger().Printf("bridge listening on %s", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router builds the handler tree. Websocket sessions end when ctx is done.
func (s *BridgeServer) Router(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.logger(), NoColor: true}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Get("/api/status", s.handleStatus)
	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/panel", s.panelHandler(ctx))
	return r
}

func (s *BridgeServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.Status == nil {
		http.Error(w, "status not available", http.StatusNotFound)
		return
	}
	writeJSON(w, s.Status(r.Context()))
}

func (s *BridgeServer) panelHandler(ctx context.Context) http.HandlerFunc {
	upgrader := transport.NewUpgrader(s.AllowedOrigins...)
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Host == nil {
			http.Error(w, "host not configured", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger().Printf("panel upgrade: %v", err)
			return
		}
		cfg := s.WSConfig
		if cfg.Logger == nil {
			cfg.Logger = s.logger()
		}
		ch := transport.NewWebSocket(conn, cfg)
		defer ch.Close()
		if err := s.Host.Serve(ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			s.logger().Printf("panel session: %v", err)
		}
	}
}

func (s *BridgeServer) logger() *log.Logger {
	if s.Logger == nil {
		return log.Default()
	}
	return s.Logger
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

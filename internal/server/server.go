// Package server implements the upgrade surface (§4.G): the three
// HTTP routes a client sees before a bus connection exists, plus the
// ambient /metrics route.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/dbus-ws-bridge/assets"
	"github.com/nugget/dbus-ws-bridge/internal/bridge"
	"github.com/nugget/dbus-ws-bridge/internal/busconn"
	"github.com/nugget/dbus-ws-bridge/internal/metrics"
)

// Server is the bridge's HTTP front door. One Server handles every
// connection; each upgraded socket gets its own bridge.Connection.
type Server struct {
	address string
	logger  *slog.Logger
	metrics *metrics.Registry
	server  *http.Server

	upgrader websocket.Upgrader
}

// New builds a Server bound to the given listen address.
func New(address string, logger *slog.Logger, m *metrics.Registry) *Server {
	return &Server{
		address: address,
		logger:  logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Start begins serving HTTP requests and blocks until the listener
// stops or fails.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /api", s.handleSchema)
	mux.HandleFunc("GET /ws/v1", func(w http.ResponseWriter, r *http.Request) {
		s.handleUpgrade(ctx, w, r)
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         s.address,
		Handler:      s.withLogging(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // connections are long-lived WebSocket streams
	}

	s.logger.Info("starting upgrade surface", "address", s.address)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/api", http.StatusMovedPermanently)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(assets.AsyncAPISchema())
}

// handleUpgrade reads the optional connection target, upgrades the
// socket, attaches a fresh bus connection, and runs the bridge loop.
// Per §4.F, a failure at either step is logged and the attempt is
// abandoned without sending any frame.
func (s *Server) handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	target, err := busconn.ParseTarget(r.URL.Query().Get("connection"))
	if err != nil {
		if s.metrics != nil {
			s.metrics.UpgradeFailures.Inc()
		}
		http.Error(w, fmt.Sprintf("invalid connection target: %v", err), http.StatusBadRequest)
		return
	}

	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.metrics != nil {
			s.metrics.UpgradeFailures.Inc()
		}
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	bus, err := busconn.Connect(target)
	if err != nil {
		s.logger.Warn("bus connect failed", "target", target, "error", err)
		_ = socket.Close()
		return
	}

	connID := uuid.NewString()
	if s.metrics != nil {
		s.metrics.ConnectionsTotal.Inc()
		s.metrics.ConnectionsActive.Inc()
		defer s.metrics.ConnectionsActive.Dec()
	}

	s.logger.Info("connection opened", "connection", connID, "target", target)
	conn := bridge.NewConnection(socket, bus, s.logger, connID, s.metrics)
	conn.Run(ctx)
	s.logger.Info("connection closed", "connection", connID)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

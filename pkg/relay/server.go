// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server exposes the relay over HTTP: the WebSocket endpoint plus status,
// health and metrics endpoints.
type Server struct {
	Config  *Config
	Version string

	relay    *Relay
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
	server   *http.Server
	started  time.Time

	clientsMu sync.Mutex
	clients   map[ConnectionID]*wsClient
	clientsWG sync.WaitGroup

	log zerolog.Logger
}

// NewServer wires a relay, its registry and metrics behind an HTTP server.
func NewServer(cfg *Config, version string, log zerolog.Logger) *Server {
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	relay := NewRelay(NewRegistry(), NewMetrics(promRegistry), log)

	s := &Server{
		Config:   cfg,
		Version:  version,
		relay:    relay,
		gatherer: promRegistry,
		started:  time.Now(),
		clients:  make(map[ConnectionID]*wsClient),
		log:      log.With().Str("component", "server").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return cfg.AllowsOrigin(r.Header.Get("Origin"))
		},
	}
	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Relay returns the relay served by s.
func (s *Server) Relay() *Relay {
	return s.relay
}

// Handler builds the HTTP router.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/", s.HandleStatus).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet, http.MethodOptions)
	router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc(s.Config.SocketPath, s.HandleSocket).Methods(http.MethodGet, http.MethodOptions)
	router.Use(s.corsMiddleware)
	return router
}

// corsMiddleware answers preflight requests and sets CORS headers for
// allowed origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.Config.AllowsOrigin(origin) {
			if len(s.Config.AllowedOrigins) == 1 && s.Config.AllowedOrigins[0] == "*" {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", strings.Join([]string{http.MethodGet, http.MethodPost}, ", "))
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StatusResponse is the document served at the root path.
type StatusResponse struct {
	Status      string           `json:"status"`
	Service     string           `json:"service"`
	Version     string           `json:"version"`
	Connections ConnectionCounts `json:"connections"`
	Uptime      float64          `json:"uptime"`
}

// ConnectionCounts reports identified connections per role.
type ConnectionCounts struct {
	Extensions int `json:"extensions"`
	Android    int `json:"android"`
}

// HandleStatus serves GET / with connection counts and uptime in seconds.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	extensions, android := s.relay.Registry().Counts()
	s.writeJSON(w, StatusResponse{
		Status:  "online",
		Service: s.Config.ServiceName,
		Version: s.Version,
		Connections: ConnectionCounts{
			Extensions: extensions,
			Android:    android,
		},
		Uptime: time.Since(s.started).Seconds(),
	})
}

// HandleHealth serves the liveness probe.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write response")
	}
}

// HandleSocket upgrades the request to a WebSocket and runs the connection
// until it ends.
func (s *Server) HandleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade connection")
		return
	}

	id := NewConnectionID()
	client := newWSClient(id, conn, s.Config.WebSocket, s.log)
	if !s.trackClient(client) {
		client.shutdown()
		return
	}
	defer s.untrackClient(client)

	session := s.relay.Connect(id, client)
	go client.writeLoop()
	client.readLoop(session)
}

// trackClient records an open client. It returns false once shutdown has
// started.
func (s *Server) trackClient(c *wsClient) bool {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if s.clients == nil {
		return false
	}
	s.clients[c.id] = c
	s.clientsWG.Add(1)
	return true
}

func (s *Server) untrackClient(c *wsClient) {
	s.clientsMu.Lock()
	if s.clients != nil {
		delete(s.clients, c.id)
	}
	s.clientsMu.Unlock()
	s.clientsWG.Done()
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("socket_path", s.Config.SocketPath).
		Str("version", s.Version).
		Msg("Relay server started, waiting for connections")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, closes every open WebSocket with a
// going-away frame and waits for their sessions to disconnect.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down relay server")
	err := s.server.Shutdown(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	s.clientsMu.Lock()
	clients := s.clients
	s.clients = nil
	s.clientsMu.Unlock()
	for _, c := range clients {
		c.shutdown()
	}

	drained := make(chan struct{})
	go func() {
		s.clientsWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.log.Warn().Msg("Timed out waiting for connections to close")
		if err == nil {
			err = ctx.Err()
		}
	}

	s.log.Info().Msg("Relay server closed")
	return err
}

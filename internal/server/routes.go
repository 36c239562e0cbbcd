// Package server wires the signaling hub to HTTP.
package server

import (
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/niklaspandersson/dicebox/internal/signaling"
	"github.com/niklaspandersson/dicebox/internal/version"
)

// Server serves the websocket endpoint and the health check.
type Server struct {
	hub      *signaling.Hub
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	conns    *ipConns
}

// New creates a Server for hub.
func New(hub *signaling.Hub, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		hub:    hub,
		cfg:    cfg,
		logger: logger,
		conns:  &ipConns{max: cfg.MaxConnsPerIP, open: make(map[string]int)},
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 4 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Routes returns the HTTP handler of the server.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthCheckHandler)
	mux.HandleFunc("/ws", s.ServeWs)
	return mux
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("dicebox signaling server " + version.Version + " is healthy.\n"))
}

// checkOrigin accepts requests without an Origin header, which is what
// non-browser clients send.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// ServeWs upgrades the request and hands the connection to the hub.
func (s *Server) ServeWs(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.conns.acquire(ip) {
		s.logger.Warn("too many connections", "ip", ip)
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.conns.release(ip)
		s.logger.Debug("failed to upgrade connection", "ip", ip, "err", err)
		return
	}

	client := signaling.NewClient(s.hub, conn, r.RemoteAddr)
	s.hub.Register(client)

	go client.WritePump()
	go func() {
		defer s.conns.release(ip)
		client.ReadPump()
	}()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipConns counts open connections per remote address.
type ipConns struct {
	max int

	mu   sync.Mutex
	open map[string]int
}

func (c *ipConns) acquire(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.max > 0 && c.open[ip] >= c.max {
		return false
	}
	c.open[ip]++
	return true
}

func (c *ipConns) release(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open[ip] <= 1 {
		delete(c.open, ip)
		return
	}
	c.open[ip]--
}

func (c *ipConns) count(ip string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open[ip]
}

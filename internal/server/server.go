// Package server exposes the HTTP surface: account and history handlers,
// static attachment serving, and the WebSocket upgrade that hands live
// connections to the chat hub.
package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/omochice/chat-relay/internal/auth"
	"github.com/omochice/chat-relay/internal/blob"
	"github.com/omochice/chat-relay/internal/chat"
	"github.com/omochice/chat-relay/internal/store"
)

// tokenCookie is the cookie carrying the session token, for both the
// request handlers and the WebSocket handshake.
const tokenCookie = "token"

// Config wires a Server to its collaborators.
type Config struct {
	Addr         string
	ClientOrigin string
	Hub          *chat.Hub
	Auth         *auth.Service
	Store        *store.DB
	Blobs        *blob.Store
	Logger       *slog.Logger
}

// Server is the HTTP front of the relay.
type Server struct {
	addr         string
	clientOrigin string
	hub          *chat.Hub
	auth         *auth.Service
	store        *store.DB
	blobs        *blob.Store
	log          *slog.Logger
	upgrader     websocket.Upgrader
	quit         chan struct{}
	stopOnce     sync.Once

	// mu guards listener, which Start assigns while Addr may be polled
	// from another goroutine.
	mu       sync.Mutex
	listener net.Listener

	httpServer *http.Server
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		addr:         cfg.Addr,
		clientOrigin: cfg.ClientOrigin,
		hub:          cfg.Hub,
		auth:         cfg.Auth,
		store:        cfg.Store,
		blobs:        cfg.Blobs,
		log:          cfg.Logger,
		quit:         make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if s.clientOrigin == "" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origin == s.clientOrigin
		},
	}
	return s
}

// Start listens and serves until Stop is called or the listener fails.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	httpServer := &http.Server{
		Handler: s.withCORS(s.routes()),
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = httpServer
	s.mu.Unlock()

	s.log.Info("server started", "addr", listener.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("failed to serve: %w", err)
	case <-s.quit:
		return fmt.Errorf("server stopped")
	}
}

// Stop shuts the listener and drops every live connection. Calling it
// more than once is a no-op.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)

		s.mu.Lock()
		httpServer := s.httpServer
		s.mu.Unlock()
		if httpServer != nil {
			httpServer.Close()
		}
		s.hub.Close()
	})
}

// Addr returns the server's listening address, or "" before Start has
// bound one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET /profile", s.handleProfile)
	mux.HandleFunc("GET /people", s.handlePeople)
	mux.HandleFunc("GET /messages/{userId}", s.handleMessages)
	mux.Handle("GET /uploads/",
		http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.blobs.Dir()))))
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// withCORS allows the configured client origin with credentials, which
// the cross-site handshake cookie requires.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.clientOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.clientOrigin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades the connection and hands it to the hub. A
// missing cookie leaves the connection unidentified; the hub decides
// what that means.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var token string
	if cookie, err := r.Cookie(tokenCookie); err == nil {
		token = cookie.Value
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.hub.HandleConnection(conn, token)
}

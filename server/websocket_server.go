package server

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/room4-2/live-persona/config"
	"github.com/room4-2/live-persona/session"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server exposes the client websocket endpoint and a health check
type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	handler        *Handler
	port           int
}

// NewServerWebsocket creates the HTTP server for cfg
func NewServerWebsocket(cfg *config.Config, sessionManager *session.Manager, handler *Handler) *Server {
	origins := cfg.Origins()
	s := &Server{
		sessionManager: sessionManager,
		handler:        handler,
		port:           cfg.Port,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(origins, r.Header.Get("Origin"))
			},
		},
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes returns the server's HTTP handler
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/client-ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func originAllowed(allowed []string, origin string) bool {
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

// Start begins listening for connections
func (s *Server) Start() error {
	zap.S().Infof("🚀 WebSocket server starting on port %d", s.port)
	zap.S().Infof("📡 WebSocket endpoint: ws://localhost:%d/client-ws", s.port)
	return s.httpServer.ListenAndServe()
}

// Shutdown closes every session and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	zap.S().Info("🛑 Shutting down server...")
	s.sessionManager.Shutdown(ctx)
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Warnf("⚠️ WebSocket upgrade failed: %v", err)
		return
	}

	if err := s.handler.Serve(context.WithoutCancel(r.Context()), conn); err != nil {
		zap.S().Errorf("❌ Failed to serve client: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body, _ := sonic.Marshal(map[string]any{
		"status":   "ok",
		"sessions": s.sessionManager.GetActiveSessionCount(),
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

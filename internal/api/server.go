// Package api serves the chat runtime over HTTP and websockets for local clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/entrepeneur4lyf/chatforge/internal/app"
)

// ConnectionManager tracks the open chat websockets
type ConnectionManager struct {
	clients map[*ChatWebSocketClient]struct{}
	mu      sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{clients: make(map[*ChatWebSocketClient]struct{})}
}

// Add registers a client
func (cm *ConnectionManager) Add(client *ChatWebSocketClient) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.clients[client] = struct{}{}
}

// Remove forgets a client
func (cm *ConnectionManager) Remove(client *ChatWebSocketClient) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.clients, client)
}

// Count returns the number of open connections
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// CloseAll closes every connection
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	clients := make([]*ChatWebSocketClient, 0, len(cm.clients))
	for client := range cm.clients {
		clients = append(clients, client)
	}
	cm.mu.RUnlock()

	for _, client := range clients {
		client.close()
	}
}

// Server represents the API server
type Server struct {
	app               *app.App
	auth              *LocalhostAuth
	upgrader          websocket.Upgrader
	connectionManager *ConnectionManager
	started           time.Time

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new API server over a running app
func NewServer(a *app.App) *Server {
	return &Server{
		app:               a,
		auth:              NewLocalhostAuth(a.Config.API.Token),
		connectionManager: NewConnectionManager(),
		started:           time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     isLocalhostOrigin,
		},
	}
}

// Start serves on addr until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.app.Config.API.Addr
	}

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	log.Info("Starting API server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes the websockets and gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.connectionManager.CloseAll()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Handler returns the routed handler, for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.corsMiddleware)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(s.auth.AuthMiddleware)

	// Token accounting
	protected.HandleFunc("/tokens/estimate", s.handleEstimateTokens).Methods("POST")
	protected.HandleFunc("/tokens/budget", s.handleTokenBudget).Methods("POST")
	protected.HandleFunc("/tokens/window", s.handleMessageWindow).Methods("POST")
	protected.HandleFunc("/tasks/detect", s.handleDetectTaskType).Methods("POST")

	// Tools
	protected.HandleFunc("/tools", s.handleTools).Methods("GET")
	protected.HandleFunc("/tools/parse", s.handleParseToolCalls).Methods("POST")

	// Spending and limits
	protected.HandleFunc("/spend", s.handleSpend).Methods("GET")
	protected.HandleFunc("/spend/{provider}", s.handleResetSpend).Methods("DELETE")
	protected.HandleFunc("/budgets", s.handleBudgets).Methods("GET", "PUT")
	protected.HandleFunc("/budgets/{provider}", s.handleCheckBudget).Methods("GET")
	protected.HandleFunc("/ratelimit/{provider}", s.handleRateLimit).Methods("GET")

	// Conversations
	protected.HandleFunc("/conversations", s.handleConversations).Methods("GET")
	protected.HandleFunc("/conversations/{id}", s.handleConversation).Methods("GET", "DELETE")

	// Live chat
	protected.HandleFunc("/chat/ws", s.handleChatWebSocket)

	return router
}

// corsMiddleware allows local pages to call the API
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && isLocalhostOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Response helpers
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"model":       s.app.Config.Model,
		"connections": s.connectionManager.Count(),
		"events":      s.app.Broker.GetStats(),
	})
}

// Package server provides HTTP server initialization and lifecycle management
// for the recall API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/talvos/recall/internal/accounting"
	"github.com/talvos/recall/internal/config"
	"github.com/talvos/recall/internal/engine"
	"github.com/talvos/recall/internal/export"
	"github.com/talvos/recall/internal/memory"
	"github.com/talvos/recall/internal/storage"
	"github.com/talvos/recall/web/handlers"
)

// Deps are the wired components the HTTP layer serves.
type Deps struct {
	Engine     *engine.ChatEngine
	Manager    *memory.Manager
	Accountant *accounting.Accountant
	Exporter   *export.Exporter
	Store      storage.Store
	Health     handlers.HealthResponse
}

// NewHandler assembles the full route table with the middleware chain
// applied. Exposed separately from Start so tests can drive it with httptest.
func NewHandler(cfg *config.Config, deps Deps, hub *handlers.WebSocketHub) http.Handler {
	api := handlers.NewAPIHandlers(deps.Engine, deps.Manager, deps.Accountant, deps.Exporter, deps.Store, deps.Health)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/chat", api.Chat)
	apiMux.HandleFunc("GET /api/context", api.Context)
	apiMux.HandleFunc("GET /api/conversations", api.ListConversations)
	apiMux.HandleFunc("GET /api/conversations/{id}/history", api.History)
	apiMux.HandleFunc("DELETE /api/conversations/{id}", api.DeleteConversation)
	apiMux.HandleFunc("GET /api/usage", api.Usage)
	apiMux.HandleFunc("GET /api/export", api.Export)
	apiMux.HandleFunc("POST /api/users", api.CreateUser)
	apiMux.HandleFunc("DELETE /api/users/{id}", api.DeleteUser)

	mux := http.NewServeMux()

	// Health endpoint - no auth required, used by monitoring
	mux.HandleFunc("GET /api/health", api.Health)

	// Wrap the remaining API routes with auth middleware
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// WebSocket endpoint (no auth required - origin validation handles security)
	mux.Handle("/ws", hub)

	rateLimiter := handlers.NewRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = handlers.SecurityHeaders(handler)
	return handler
}

// Start initializes and starts the HTTP server.
// Returns the actual address being listened on (useful for testing with
// port 0). The caller owns the hub and typically also wires it into the chat
// engine for event broadcasts; Start runs and stops it.
func Start(ctx context.Context, cfg *config.Config, deps Deps, hub *handlers.WebSocketHub) (string, error) {
	go hub.Run()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      NewHandler(cfg, deps, hub),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		hub.Stop()
		return "", fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		hub.Stop()
	}()

	return actualAddr, nil
}

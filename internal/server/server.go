// Package server provides the HTTP server implementation.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gclaude/antigravity-proxy/internal/auth"
	"github.com/gclaude/antigravity-proxy/internal/cloudcode"
	"github.com/gclaude/antigravity-proxy/internal/config"
	"github.com/gclaude/antigravity-proxy/internal/server/handlers"
	"github.com/gclaude/antigravity-proxy/internal/utils"
)

// Server is the translating proxy HTTP server
type Server struct {
	cfg        *config.Config
	engine     *gin.Engine
	httpServer *http.Server
}

// New creates the server and wires the routes
func New(cfg *config.Config, client *cloudcode.Client, store *auth.Store) *Server {
	if !utils.IsDebug() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	_ = engine.SetTrustedProxies(nil)

	engine.Use(gin.Recovery())
	engine.Use(RequestLoggingMiddleware())
	engine.Use(LoopbackGuardMiddleware(cfg))
	engine.Use(CORSMiddleware())
	engine.Use(SilentHandlerMiddleware())

	messagesHandler := handlers.NewMessagesHandler(cfg, client)
	healthHandler := handlers.NewHealthHandler(cfg, store, client.Pool())
	statusHandler := handlers.NewStatusHandler(store, client.Pool())
	modelsHandler := handlers.NewModelsHandler(cfg)

	engine.POST("/v1/messages", messagesHandler.Messages)
	engine.POST("/v1/messages/count_tokens", messagesHandler.CountTokens)
	engine.GET("/v1/models", modelsHandler.ListModels)
	engine.GET("/health", healthHandler.Health)
	engine.GET("/antigravity-status", statusHandler.Status)

	return &Server{
		cfg:    cfg,
		engine: engine,
	}
}

// Engine exposes the router, used by the tests
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the server and blocks until the context is canceled or
// the listener fails
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Success("[Server] Listening on http://%s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		utils.Info("[Server] Shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

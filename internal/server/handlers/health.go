// Package handlers provides HTTP request handlers for the server.
// This file handles the health check route.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gclaude/antigravity-proxy/internal/auth"
	"github.com/gclaude/antigravity-proxy/internal/cloudcode"
	"github.com/gclaude/antigravity-proxy/internal/config"
)

// HealthHandler handles GET /health
type HealthHandler struct {
	cfg   *config.Config
	store *auth.Store
	pool  *cloudcode.EndpointPool
}

// NewHealthHandler creates a HealthHandler
func NewHealthHandler(cfg *config.Config, store *auth.Store, pool *cloudcode.EndpointPool) *HealthHandler {
	return &HealthHandler{cfg: cfg, store: store, pool: pool}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	accounts := h.store.List()

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"timestamp": time.Now().Format(time.RFC3339),
		"antigravity": gin.H{
			"enabled":   len(accounts) > 0,
			"available": len(accounts) > 0 && h.pool.Available(),
			"accounts":  len(accounts),
		},
		"streaming": gin.H{
			"forceDisabled": h.cfg.ForceDisableStreaming,
			"maxRetries":    h.cfg.MaxStreamingRetries,
		},
	})
}

// Package handlers provides HTTP request handlers for the server.
// This file handles the model listing route.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gclaude/antigravity-proxy/internal/config"
	"github.com/gclaude/antigravity-proxy/pkg/anthropic"
)

// ModelsHandler handles GET /v1/models
type ModelsHandler struct {
	cfg *config.Config
}

// NewModelsHandler creates a ModelsHandler
func NewModelsHandler(cfg *config.Config) *ModelsHandler {
	return &ModelsHandler{cfg: cfg}
}

// ListModels handles GET /v1/models. The list covers the alias targets
// plus the passthrough backend models the proxy routes to.
func (h *ModelsHandler) ListModels(c *gin.Context) {
	created := time.Now().Unix()

	seen := make(map[string]bool)
	models := make([]anthropic.Model, 0, 8)
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		models = append(models, anthropic.Model{
			ID:      id,
			Object:  "model",
			Created: created,
			OwnedBy: "antigravity",
		})
	}

	add(h.cfg.HaikuModel)
	add(h.cfg.SonnetModel)
	add(h.cfg.OpusModel)
	for _, id := range []string{
		"antigravity-gemini-3-flash",
		"antigravity-gemini-3-pro",
		"antigravity-claude-sonnet-4-5",
		"antigravity-claude-sonnet-4-5-thinking",
		"antigravity-claude-opus-4-5-thinking",
	} {
		add(id)
	}

	c.JSON(http.StatusOK, anthropic.ModelsResponse{
		Object: "list",
		Data:   models,
	})
}

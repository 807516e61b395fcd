// Package handlers provides HTTP request handlers for the server.
// This file handles the backend status route.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gclaude/antigravity-proxy/internal/auth"
	"github.com/gclaude/antigravity-proxy/internal/cloudcode"
)

// StatusHandler handles GET /antigravity-status
type StatusHandler struct {
	store *auth.Store
	pool  *cloudcode.EndpointPool
}

// NewStatusHandler creates a StatusHandler
func NewStatusHandler(store *auth.Store, pool *cloudcode.EndpointPool) *StatusHandler {
	return &StatusHandler{store: store, pool: pool}
}

// Status handles GET /antigravity-status. Token material never appears
// here; accounts are listed by email and expiry only.
func (h *StatusHandler) Status(c *gin.Context) {
	accounts := h.store.List()

	accountViews := make([]gin.H, 0, len(accounts))
	for _, acct := range accounts {
		view := gin.H{
			"email":   acct.Email,
			"project": acct.ProjectID,
			"expired": acct.IsExpired(0),
		}
		if acct.ExpiresAt > 0 {
			view["expires_at"] = time.Unix(acct.ExpiresAt, 0).Format(time.RFC3339)
		}
		accountViews = append(accountViews, view)
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts":  accountViews,
		"endpoints": h.pool.Snapshot(),
	})
}

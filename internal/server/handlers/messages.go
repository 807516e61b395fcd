// Package handlers provides HTTP request handlers for the server.
// This file handles POST /v1/messages and POST /v1/messages/count_tokens.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gclaude/antigravity-proxy/internal/cloudcode"
	"github.com/gclaude/antigravity-proxy/internal/config"
	"github.com/gclaude/antigravity-proxy/internal/server/sse"
	"github.com/gclaude/antigravity-proxy/internal/tokencount"
	"github.com/gclaude/antigravity-proxy/internal/utils"
	"github.com/gclaude/antigravity-proxy/pkg/anthropic"
)

// MessagesHandler handles the Messages API routes
type MessagesHandler struct {
	cfg    *config.Config
	client *cloudcode.Client
}

// NewMessagesHandler creates a MessagesHandler
func NewMessagesHandler(cfg *config.Config, client *cloudcode.Client) *MessagesHandler {
	return &MessagesHandler{cfg: cfg, client: client}
}

// Messages handles POST /v1/messages
func (h *MessagesHandler) Messages(c *gin.Context) {
	var request anthropic.MessagesRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeInvalidRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if request.Model == "" {
		writeInvalidRequest(c, "model is required")
		return
	}
	if len(request.Messages) == 0 {
		writeInvalidRequest(c, "messages must not be empty")
		return
	}

	upstreamModel, err := h.cfg.ResolveModel(request.Model)
	if err != nil {
		writeInvalidRequest(c, err.Error())
		return
	}

	stream := request.Stream && !h.cfg.ForceDisableStreaming
	if !stream {
		h.handleNonStreaming(c, &request, upstreamModel)
		return
	}
	h.handleStreaming(c, &request, upstreamModel)
}

func (h *MessagesHandler) handleNonStreaming(c *gin.Context, request *anthropic.MessagesRequest, upstreamModel string) {
	response, err := h.client.SendMessage(c.Request.Context(), request, upstreamModel)
	if err != nil {
		writeUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// handleStreaming pulls the first upstream event before committing the
// SSE response, so pre-stream failures still map to proper HTTP
// statuses. After the first byte is written the stream is committed and
// later failures terminate it in-band.
func (h *MessagesHandler) handleStreaming(c *gin.Context, request *anthropic.MessagesRequest, upstreamModel string) {
	events, errs := h.client.SendMessageStream(c.Request.Context(), request, upstreamModel)

	var first *anthropic.SSEEvent
	select {
	case event, ok := <-events:
		if !ok {
			if err := <-errs; err != nil {
				writeUpstreamError(c, err)
				return
			}
			writeUpstreamError(c, cloudcode.NewEmptyResponseError("upstream produced no events"))
			return
		}
		first = event
	case err := <-errs:
		if err != nil {
			writeUpstreamError(c, err)
			return
		}
		// errs closed without an error: events are coming
		event, ok := <-events
		if !ok {
			writeUpstreamError(c, cloudcode.NewEmptyResponseError("upstream produced no events"))
			return
		}
		first = event
	}

	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "api_error", err.Error())
		return
	}
	writer.SetHeaders()

	if err := writer.WriteEvent(string(first.Type), first); err != nil {
		utils.Debug("[API] Client disconnected during stream")
		return
	}
	// The Messages API sends a ping right after message_start
	if err := writer.WritePing(); err != nil {
		utils.Debug("[API] Client disconnected during stream")
		return
	}
	for event := range events {
		if err := writer.WriteEvent(string(event.Type), event); err != nil {
			utils.Debug("[API] Client disconnected during stream")
			return
		}
	}
	// Drain the error channel; post-commit failures were already
	// reported in-band by the bridge
	<-errs
}

// CountTokens handles POST /v1/messages/count_tokens
func (h *MessagesHandler) CountTokens(c *gin.Context) {
	var request anthropic.MessagesRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeInvalidRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	c.JSON(http.StatusOK, anthropic.CountTokensResponse{
		InputTokens: tokencount.Estimate(&request),
	})
}

// writeUpstreamError maps a client error to an Anthropic error response
func writeUpstreamError(c *gin.Context, err error) {
	var rateLimit *cloudcode.RateLimitError
	if errors.As(err, &rateLimit) {
		if rateLimit.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(rateLimit.RetryAfter.Seconds())))
		}
		writeError(c, http.StatusTooManyRequests, "rate_limit_error", err.Error())
		return
	}

	var authErr *cloudcode.AuthError
	if errors.As(err, &authErr) {
		writeError(c, http.StatusUnauthorized, "authentication_error", err.Error())
		return
	}

	var upstream *cloudcode.UpstreamError
	if errors.As(err, &upstream) {
		status := http.StatusBadGateway
		if upstream.StatusCode >= 400 && upstream.StatusCode < 500 {
			status = upstream.StatusCode
		}
		writeError(c, status, "api_error", err.Error())
		return
	}

	if cloudcode.IsEmptyResponseError(err) {
		writeError(c, http.StatusBadGateway, "api_error", err.Error())
		return
	}

	utils.Error("[API] Request failed: %v", err)
	writeError(c, http.StatusInternalServerError, "api_error", err.Error())
}

func writeInvalidRequest(c *gin.Context, message string) {
	writeError(c, http.StatusBadRequest, "invalid_request_error", message)
}

func writeError(c *gin.Context, status int, errorType, message string) {
	c.JSON(status, anthropic.NewErrorResponse(errorType, message))
}

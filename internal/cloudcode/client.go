// Package cloudcode provides the Antigravity Cloud Code API client.
//
// Requests are wrapped in the v1internal envelope and sent to the
// endpoint pool in preference order, with automatic failover on rate
// limits and server errors and a single token refresh on auth failures.
package cloudcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gclaude/antigravity-proxy/internal/auth"
	"github.com/gclaude/antigravity-proxy/internal/config"
	"github.com/gclaude/antigravity-proxy/internal/format"
	"github.com/gclaude/antigravity-proxy/internal/utils"
	"github.com/gclaude/antigravity-proxy/pkg/anthropic"
)

const (
	generatePath       = "/v1internal:generateContent"
	streamGeneratePath = "/v1internal:streamGenerateContent?alt=sse"
)

// Client drives the Cloud Code generateContent API
type Client struct {
	cfg        *config.Config
	auth       *auth.Manager
	pool       *EndpointPool
	httpClient *http.Client
}

// NewClient creates a Cloud Code client over the given endpoint pool
func NewClient(cfg *config.Config, authManager *auth.Manager, pool *EndpointPool) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: time.Duration(config.ConnectTimeoutSeconds) * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: time.Duration(cfg.RequestTimeout) * time.Second,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Client{
		cfg:        cfg,
		auth:       authManager,
		pool:       pool,
		httpClient: &http.Client{Transport: transport},
	}
}

// Pool exposes the endpoint pool for the status route
func (c *Client) Pool() *EndpointPool {
	return c.pool
}

// SendMessage handles a non-streaming request. Thinking models only
// return reasoning output on the SSE endpoint, so those are streamed
// upstream and aggregated here.
func (c *Client) SendMessage(ctx context.Context, request *anthropic.MessagesRequest, upstreamModel string) (*anthropic.MessagesResponse, error) {
	if config.IsThinkingModel(upstreamModel) {
		return c.sendAggregated(ctx, request, upstreamModel)
	}

	body, opts, err := c.buildBody(request, upstreamModel)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(config.TotalRequestTimeoutMs)*time.Millisecond)
	defer cancel()

	resp, err := c.send(ctx, generatePath, body, upstreamModel, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, config.StreamBufferLimit))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	parsed, err := format.ParseUpstreamResponse(data)
	if err != nil {
		return nil, err
	}
	if len(parsed.Candidates) == 0 {
		return nil, NewEmptyResponseError("upstream returned no candidates")
	}

	return format.ConvertGoogleToAnthropic(parsed, request.Model, opts), nil
}

// SendMessageStream handles a streaming request. Events arrive on the
// first channel; a pre-commit failure arrives on the second. After the
// first event the stream is committed and failures are reported in-band.
func (c *Client) SendMessageStream(ctx context.Context, request *anthropic.MessagesRequest, upstreamModel string) (<-chan *anthropic.SSEEvent, <-chan error) {
	events := make(chan *anthropic.SSEEvent, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		ctx, cancel := context.WithTimeout(ctx, time.Duration(config.TotalRequestTimeoutMs)*time.Millisecond)
		defer cancel()

		body, opts, err := c.buildBody(request, upstreamModel)
		if err != nil {
			errs <- err
			return
		}

		var lastErr error
		serverRetries := 0
		for _, endpoint := range c.pool.Candidates() {
			resp, err := c.attempt(ctx, endpoint, streamGeneratePath, body, upstreamModel, "text/event-stream", &serverRetries)
			if err != nil {
				lastErr = err
				if ctx.Err() != nil {
					break
				}
				continue
			}

			bridge := NewStreamBridge(request.Model, opts, c.cfg.MaxStreamingRetries)
			err = bridge.Consume(resp.Body, events)
			resp.Body.Close()
			if err == nil {
				return
			}
			if bridge.Started() {
				// Committed; the bridge already finished the sequence
				utils.Error("[CloudCode] Stream failed after commit: %v", err)
				return
			}
			c.pool.MarkUnavailable(endpoint)
			lastErr = err
		}

		if lastErr == nil {
			lastErr = NewEmptyResponseError("no endpoint produced a response")
		}
		errs <- lastErr
	}()

	return events, errs
}

// sendAggregated streams upstream and folds the events into a complete
// response
func (c *Client) sendAggregated(ctx context.Context, request *anthropic.MessagesRequest, upstreamModel string) (*anthropic.MessagesResponse, error) {
	events, errs := c.SendMessageStream(ctx, request, upstreamModel)
	return CollectResponse(request.Model, events, errs)
}

// CollectResponse folds a translated event stream back into a single
// Messages response
func CollectResponse(clientModel string, events <-chan *anthropic.SSEEvent, errs <-chan error) (*anthropic.MessagesResponse, error) {
	response := anthropic.NewMessagesResponse(
		anthropic.GenerateMessageID(), clientModel, make([]anthropic.ContentBlock, 0), "", nil)

	var current *anthropic.ContentBlock
	var inputJSON []byte

	for event := range events {
		switch event.Type {
		case anthropic.SSEEventMessageStart:
			if event.Message != nil {
				response.ID = event.Message.ID
				response.Usage = event.Message.Usage
			}
		case anthropic.SSEEventContentBlockStart:
			block := anthropic.CloneContentBlock(*event.ContentBlock)
			current = &block
			inputJSON = nil
		case anthropic.SSEEventContentBlockDelta:
			if current == nil || event.Delta == nil {
				continue
			}
			current.Text += event.Delta.Text
			current.Thinking += event.Delta.Thinking
			if event.Delta.Signature != "" {
				current.Signature = event.Delta.Signature
			}
			if event.Delta.PartialJSON != "" {
				inputJSON = append(inputJSON, event.Delta.PartialJSON...)
			}
		case anthropic.SSEEventContentBlockStop:
			if current == nil {
				continue
			}
			if len(inputJSON) > 0 {
				current.Input = json.RawMessage(inputJSON)
			}
			response.Content = append(response.Content, *current)
			current = nil
		case anthropic.SSEEventMessageDelta:
			if event.Delta != nil {
				response.StopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				response.Usage = event.Usage
			}
		}
	}

	if err := <-errs; err != nil {
		return nil, err
	}
	if response.StopReason == "error" {
		return nil, NewEmptyResponseError("upstream stream failed before completion")
	}
	return response, nil
}

// buildBody marshals the wrapped request once so every endpoint attempt
// can replay it
func (c *Client) buildBody(request *anthropic.MessagesRequest, upstreamModel string) ([]byte, format.ConvertOptions, error) {
	opts := format.ConvertOptions{
		ToolSchemas:   format.ToolSchemas(request.Tools),
		LastUserText:  format.LastUserText(request.Messages),
		EnableRepair:  c.cfg.EnableArgRepair,
		UpstreamModel: upstreamModel,
	}

	acct, err := c.auth.Snapshot(context.Background())
	if err != nil {
		return nil, opts, err
	}

	payload, err := BuildCloudCodeRequest(request, upstreamModel, acct.ProjectID)
	if err != nil {
		return nil, opts, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, opts, fmt.Errorf("marshal upstream request: %w", err)
	}
	return body, opts, nil
}

// send walks the endpoint pool for a non-streaming request
func (c *Client) send(ctx context.Context, path string, body []byte, upstreamModel, accept string) (*http.Response, error) {
	var lastErr error
	serverRetries := 0
	for _, endpoint := range c.pool.Candidates() {
		resp, err := c.attempt(ctx, endpoint, path, body, upstreamModel, accept, &serverRetries)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = NewEmptyResponseError("no endpoint available")
	}
	return nil, lastErr
}

// attempt runs one endpoint attempt, including the single auth refresh
// and 5xx retries with backoff. serverRetries is shared across the
// caller's endpoint walk so the retry budget covers the whole pool.
func (c *Client) attempt(ctx context.Context, endpoint, path string, body []byte, upstreamModel, accept string, serverRetries *int) (*http.Response, error) {
	authRetried := false

	for {
		acct, err := c.auth.Snapshot(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		for k, v := range BuildHeaders(acct.AccessToken, upstreamModel, accept) {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.pool.MarkUnavailable(endpoint)
			return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			c.pool.MarkSuccess(endpoint)
			c.auth.RediscoverProject(acct.Email)
			return resp, nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			message := drainError(resp)
			c.pool.MarkAuthFailed(endpoint)
			if !authRetried {
				authRetried = true
				if _, err := c.auth.Refresh(ctx, acct.Email); err == nil {
					continue
				}
			}
			return nil, &AuthError{StatusCode: resp.StatusCode, Message: message}

		case resp.StatusCode == http.StatusTooManyRequests:
			bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			resp.Body.Close()
			retryAfter := ParseRetryAfter(resp.Header, bodyBytes)
			c.pool.MarkRateLimited(endpoint, retryAfter)
			return nil, &RateLimitError{Endpoint: endpoint, RetryAfter: retryAfter}

		case resp.StatusCode >= 500:
			message := drainError(resp)
			*serverRetries++
			if *serverRetries >= config.MaxUpstreamRetries {
				c.pool.MarkUnavailable(endpoint)
				return nil, &UpstreamError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: message}
			}
			utils.Warn("[CloudCode] %s returned %d, retrying (%d/%d)", endpoint, resp.StatusCode, *serverRetries, config.MaxUpstreamRetries)
			if err := sleepContext(ctx, backoffFor(*serverRetries)); err != nil {
				return nil, err
			}
			continue

		default:
			message := drainError(resp)
			return nil, &UpstreamError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: message}
		}
	}
}

// sleepContext waits for the backoff delay unless the context ends first
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func drainError(resp *http.Response) string {
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return UpstreamErrorMessage(data)
}

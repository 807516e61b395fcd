// Package cloudcode provides the Antigravity Cloud Code API client.
// This file translates the upstream stream into Anthropic SSE events.
package cloudcode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gclaude/antigravity-proxy/internal/config"
	"github.com/gclaude/antigravity-proxy/internal/format"
	"github.com/gclaude/antigravity-proxy/internal/utils"
	"github.com/gclaude/antigravity-proxy/pkg/anthropic"
)

// pendingToolCall buffers a function call until the end of the stream,
// so its arguments can be repaired as a whole before emission
type pendingToolCall struct {
	id   string
	name string
	args map[string]interface{}
}

// StreamBridge converts one upstream generateContent stream into the
// Anthropic SSE event sequence:
//
//	message_start (content_block_start delta* content_block_stop)* message_delta message_stop
//
// Text and thinking deltas pass through as they arrive; tool calls are
// buffered and flushed before message_delta. Once message_start has
// been emitted the stream is committed: later upstream failures finish
// the sequence with stop_reason "error" instead of failing the request.
type StreamBridge struct {
	clientModel string
	opts        format.ConvertOptions
	maxRetries  int

	messageID  string
	started    bool
	blockOpen  bool
	blockType  string
	blockIndex int

	toolCalls    []*pendingToolCall
	usage        *format.UsageMetadata
	finishReason string
	hadError     bool
	errorMessage string

	parseFailures int
	buf           []byte
}

// NewStreamBridge creates a bridge for one request
func NewStreamBridge(clientModel string, opts format.ConvertOptions, maxRetries int) *StreamBridge {
	if maxRetries <= 0 {
		maxRetries = config.DefaultMaxStreamingRetries
	}
	return &StreamBridge{
		clientModel: clientModel,
		opts:        opts,
		maxRetries:  maxRetries,
		messageID:   anthropic.GenerateMessageID(),
	}
}

// Started reports whether message_start has been emitted. Before that
// point the whole request can still be retried on another endpoint.
func (b *StreamBridge) Started() bool {
	return b.started
}

// Consume reads the upstream body and emits translated events. The
// returned error is only meaningful when Started() is false; after the
// stream is committed, upstream failures are reported in-band.
func (b *StreamBridge) Consume(body io.Reader, events chan<- *anthropic.SSEEvent) error {
	chunk := make([]byte, 4096)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			b.buf = append(b.buf, chunk[:n]...)
			if consumeErr := b.drainFrames(events); consumeErr != nil {
				return consumeErr
			}
			if len(b.buf) > config.StreamBufferLimit {
				err := fmt.Errorf("stream buffer exceeded %d bytes without a frame boundary", config.StreamBufferLimit)
				if !b.started {
					return err
				}
				b.hadError = true
				b.errorMessage = err.Error()
				return b.finish(events)
			}
		}
		if err == io.EOF {
			return b.finish(events)
		}
		if err != nil {
			if !b.started {
				return fmt.Errorf("read upstream stream: %w", err)
			}
			b.hadError = true
			b.errorMessage = err.Error()
			return b.finish(events)
		}
	}
}

// drainFrames extracts complete newline-delimited frames from the
// rolling buffer
func (b *StreamBridge) drainFrames(events chan<- *anthropic.SSEEvent) error {
	for {
		if b.hadError {
			return nil
		}
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			return nil
		}
		line := b.buf[:i]
		b.buf = b.buf[i+1:]

		if err := b.handleFrame(line, events); err != nil {
			return err
		}
		if b.hadError {
			return nil
		}
	}
}

// handleFrame processes one frame, accepting both SSE "data:" lines and
// bare NDJSON lines
func (b *StreamBridge) handleFrame(line []byte, events chan<- *anthropic.SSEEvent) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	// SSE comments and event-name lines carry no payload
	if line[0] == ':' || bytes.HasPrefix(line, []byte("event:")) {
		return nil
	}
	if bytes.HasPrefix(line, []byte("data:")) {
		line = bytes.TrimSpace(line[len("data:"):])
	}
	// NDJSON array framing wraps documents in [ , ]
	line = bytes.TrimLeft(line, "[,")
	line = bytes.TrimRight(line, "],")
	line = bytes.TrimSpace(line)
	if len(line) == 0 || bytes.Equal(line, []byte("[DONE]")) {
		return nil
	}

	resp, err := format.ParseUpstreamResponse(line)
	if err != nil {
		b.parseFailures++
		if b.parseFailures >= b.maxRetries {
			utils.Warn("[StreamBridge] Discarding %d unparseable frames", b.parseFailures)
			b.parseFailures = 0
		}
		return nil
	}
	b.parseFailures = 0

	if errDoc := extractStreamError(line); errDoc != "" {
		if !b.started {
			return fmt.Errorf("upstream stream error: %s", errDoc)
		}
		b.hadError = true
		b.errorMessage = errDoc
		return nil
	}

	b.processChunk(resp, events)
	return nil
}

// extractStreamError detects an in-band error document
func extractStreamError(line []byte) string {
	var doc struct {
		Error *struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(line, &doc); err != nil || doc.Error == nil {
		return ""
	}
	if doc.Error.Message != "" {
		return doc.Error.Message
	}
	return doc.Error.Status
}

// processChunk translates one upstream chunk into SSE events
func (b *StreamBridge) processChunk(resp *format.GoogleResponse, events chan<- *anthropic.SSEEvent) {
	if resp.UsageMetadata != nil {
		b.usage = resp.UsageMetadata
	}

	if len(resp.Candidates) == 0 {
		return
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason != "" {
		b.finishReason = candidate.FinishReason
	}
	if candidate.Content == nil {
		return
	}

	cache := format.GetGlobalSignatureCache()

	for _, part := range candidate.Content.Parts {
		switch {
		case part.Thought:
			b.ensureBlock("thinking", events)
			if part.Text != "" {
				events <- &anthropic.SSEEvent{
					Type:  anthropic.SSEEventContentBlockDelta,
					Index: b.blockIndex,
					Delta: &anthropic.ContentDelta{Type: "thinking_delta", Thinking: part.Text},
				}
			}
			if part.ThoughtSignature != "" {
				events <- &anthropic.SSEEvent{
					Type:  anthropic.SSEEventContentBlockDelta,
					Index: b.blockIndex,
					Delta: &anthropic.ContentDelta{Type: "signature_delta", Signature: part.ThoughtSignature},
				}
			}

		case part.FunctionCall != nil:
			b.bufferToolCall(part, cache)

		case part.Text != "":
			b.ensureBlock("text", events)
			events <- &anthropic.SSEEvent{
				Type:  anthropic.SSEEventContentBlockDelta,
				Index: b.blockIndex,
				Delta: &anthropic.ContentDelta{Type: "text_delta", Text: part.Text},
			}
		}
	}
}

// ensureBlock emits message_start and block transitions as needed
func (b *StreamBridge) ensureBlock(blockType string, events chan<- *anthropic.SSEEvent) {
	b.ensureStarted(events)

	if b.blockOpen && b.blockType == blockType {
		return
	}
	if b.blockOpen {
		b.closeBlock(events)
	}

	events <- &anthropic.SSEEvent{
		Type:         anthropic.SSEEventContentBlockStart,
		Index:        b.blockIndex,
		ContentBlock: &anthropic.ContentBlock{Type: blockType},
	}
	b.blockOpen = true
	b.blockType = blockType
}

// ensureStarted emits message_start once
func (b *StreamBridge) ensureStarted(events chan<- *anthropic.SSEEvent) {
	if b.started {
		return
	}
	events <- &anthropic.SSEEvent{
		Type: anthropic.SSEEventMessageStart,
		Message: anthropic.NewMessagesResponse(
			b.messageID, b.clientModel, make([]anthropic.ContentBlock, 0), "", format.ConvertUsage(b.usage)),
	}
	b.started = true
}

func (b *StreamBridge) closeBlock(events chan<- *anthropic.SSEEvent) {
	events <- &anthropic.SSEEvent{
		Type:  anthropic.SSEEventContentBlockStop,
		Index: b.blockIndex,
	}
	b.blockOpen = false
	b.blockType = ""
	b.blockIndex++
}

// bufferToolCall accumulates a function call for end-of-stream emission
func (b *StreamBridge) bufferToolCall(part format.GooglePart, cache *format.SignatureCache) {
	fc := part.FunctionCall
	id := fc.ID
	if id == "" {
		id = anthropic.GenerateToolUseID()
	}
	if part.ThoughtSignature != "" {
		cache.CacheSignature(id, part.ThoughtSignature)
	}
	b.toolCalls = append(b.toolCalls, &pendingToolCall{
		id:   id,
		name: fc.Name,
		args: fc.Args,
	})
}

// finish flushes buffered tool calls and closes the event sequence
func (b *StreamBridge) finish(events chan<- *anthropic.SSEEvent) error {
	if !b.started {
		if b.hadError {
			return fmt.Errorf("upstream stream error: %s", b.errorMessage)
		}
		if len(b.toolCalls) == 0 && b.finishReason == "" && b.usage == nil {
			return NewEmptyResponseError("upstream stream ended without content")
		}
		b.ensureStarted(events)
	}

	if b.blockOpen {
		b.closeBlock(events)
	}

	for _, call := range b.toolCalls {
		b.emitToolCall(call, events)
	}

	stopReason := format.MapStopReason(b.finishReason, len(b.toolCalls) > 0)
	if b.hadError {
		utils.Warn("[StreamBridge] Stream failed after commit: %s", b.errorMessage)
		stopReason = "error"
	}

	events <- &anthropic.SSEEvent{
		Type:  anthropic.SSEEventMessageDelta,
		Delta: &anthropic.ContentDelta{StopReason: stopReason},
		Usage: format.ConvertUsage(b.usage),
	}
	events <- &anthropic.SSEEvent{Type: anthropic.SSEEventMessageStop}
	return nil
}

// emitToolCall emits one buffered tool call as a complete block: start
// with empty input, a single input_json_delta carrying the repaired
// arguments, then stop
func (b *StreamBridge) emitToolCall(call *pendingToolCall, events chan<- *anthropic.SSEEvent) {
	var args map[string]interface{}
	if b.opts.ToolSchemas != nil {
		args = format.RepairArgs(call.args, b.opts.ToolSchemas[call.name], b.opts.LastUserText, b.opts.EnableRepair)
	} else {
		args = format.DecodeFunctionArgs(call.args)
	}
	serialized, err := json.Marshal(args)
	if err != nil {
		serialized = []byte("{}")
	}

	events <- &anthropic.SSEEvent{
		Type:  anthropic.SSEEventContentBlockStart,
		Index: b.blockIndex,
		ContentBlock: &anthropic.ContentBlock{
			Type:  "tool_use",
			ID:    call.id,
			Name:  call.name,
			Input: json.RawMessage("{}"),
		},
	}
	events <- &anthropic.SSEEvent{
		Type:  anthropic.SSEEventContentBlockDelta,
		Index: b.blockIndex,
		Delta: &anthropic.ContentDelta{Type: "input_json_delta", PartialJSON: string(serialized)},
	}
	events <- &anthropic.SSEEvent{
		Type:  anthropic.SSEEventContentBlockStop,
		Index: b.blockIndex,
	}
	b.blockIndex++
}

// Package format provides conversion between Anthropic and Google Generative AI formats.
package format

import (
	"encoding/json"
	"fmt"

	"github.com/gclaude/antigravity-proxy/pkg/anthropic"
)

// GoogleResponse is the upstream generateContent payload. Responses may
// arrive wrapped in {"response": {...}}; use ParseUpstreamResponse.
type GoogleResponse struct {
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string         `json:"modelVersion,omitempty"`
	ResponseID    string         `json:"responseId,omitempty"`
}

// Candidate is one generation candidate
type Candidate struct {
	Content      *GoogleContent `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
	Index        int            `json:"index,omitempty"`
}

// UsageMetadata carries upstream token accounting
type UsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
	ThoughtsTokenCount      int `json:"thoughtsTokenCount,omitempty"`
	TotalTokenCount         int `json:"totalTokenCount,omitempty"`
}

// ParseUpstreamResponse decodes a generateContent document, unwrapping
// the optional {"response": {...}} envelope
func ParseUpstreamResponse(data []byte) (*GoogleResponse, error) {
	var envelope struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parse upstream response: %w", err)
	}
	if len(envelope.Response) > 0 {
		data = envelope.Response
	}

	var resp GoogleResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse upstream response: %w", err)
	}
	return &resp, nil
}

// ConvertOptions carries the request-side context needed to repair tool
// calls in the response
type ConvertOptions struct {
	ToolSchemas   map[string]map[string]interface{}
	LastUserText  string
	EnableRepair  bool
	UpstreamModel string
}

// ConvertGoogleToAnthropic converts a complete (non-streaming) upstream
// response into an Anthropic Messages response. clientModel is echoed
// back in the model field.
func ConvertGoogleToAnthropic(resp *GoogleResponse, clientModel string, opts ConvertOptions) *anthropic.MessagesResponse {
	result := anthropic.NewMessagesResponse(
		anthropic.GenerateMessageID(), clientModel, make([]anthropic.ContentBlock, 0), "", nil)

	cache := GetGlobalSignatureCache()

	sawToolUse := false
	finishReason := ""

	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		finishReason = candidate.FinishReason

		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				switch {
				case part.Thought:
					result.Content = append(result.Content, anthropic.ContentBlock{
						Type:      "thinking",
						Thinking:  part.Text,
						Signature: part.ThoughtSignature,
					})

				case part.FunctionCall != nil:
					block := convertFunctionCall(part, opts, cache)
					result.Content = append(result.Content, block)
					sawToolUse = true

				case part.Text != "":
					result.Content = append(result.Content, anthropic.ContentBlock{
						Type: "text",
						Text: part.Text,
					})
				}
			}
		}
	}

	result.StopReason = MapStopReason(finishReason, sawToolUse)
	result.Usage = ConvertUsage(resp.UsageMetadata)
	return result
}

// convertFunctionCall turns an upstream functionCall part into a
// tool_use block, running the argument repair pipeline
func convertFunctionCall(part GooglePart, opts ConvertOptions, cache *SignatureCache) anthropic.ContentBlock {
	fc := part.FunctionCall

	id := fc.ID
	if id == "" {
		id = anthropic.GenerateToolUseID()
	}

	args := fc.Args
	if opts.ToolSchemas != nil {
		args = RepairArgs(args, opts.ToolSchemas[fc.Name], opts.LastUserText, opts.EnableRepair)
	} else {
		args = DecodeFunctionArgs(args)
	}

	input, err := json.Marshal(args)
	if err != nil {
		input = []byte("{}")
	}

	if part.ThoughtSignature != "" {
		cache.CacheSignature(id, part.ThoughtSignature)
	}

	return anthropic.ContentBlock{
		Type:  "tool_use",
		ID:    id,
		Name:  fc.Name,
		Input: input,
	}
}

// MapStopReason maps an upstream finishReason to an Anthropic
// stop_reason. Tool calls take precedence over the upstream value.
func MapStopReason(finishReason string, sawToolUse bool) string {
	if sawToolUse {
		return "tool_use"
	}
	switch finishReason {
	case "MAX_TOKENS":
		return "max_tokens"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return "stop_sequence"
	case "ERROR":
		return "error"
	default:
		return "end_turn"
	}
}

// ConvertUsage maps upstream token accounting to Anthropic usage.
// Cached tokens are reported separately, so they are subtracted from
// the input count.
func ConvertUsage(meta *UsageMetadata) *anthropic.Usage {
	usage := &anthropic.Usage{OutputTokens: 0}
	if meta == nil {
		return usage
	}

	input := meta.PromptTokenCount - meta.CachedContentTokenCount
	if input < 0 {
		input = 0
	}
	usage.InputTokens = input
	usage.OutputTokens = meta.CandidatesTokenCount
	usage.CacheReadInputTokens = meta.CachedContentTokenCount
	return usage
}

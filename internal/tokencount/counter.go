// Package tokencount estimates request token counts for the
// count_tokens route. The upstream API has no counting endpoint, so the
// estimate uses the chars/4 heuristic over everything the model sees.
package tokencount

import (
	"encoding/json"

	"github.com/gclaude/antigravity-proxy/pkg/anthropic"
)

// Estimate returns the estimated input token count for a request,
// never less than 1
func Estimate(request *anthropic.MessagesRequest) int {
	chars := 0

	switch s := request.System.(type) {
	case string:
		chars += len(s)
	case []interface{}:
		for _, block := range s {
			if blockMap, ok := block.(map[string]interface{}); ok {
				if text, ok := blockMap["text"].(string); ok {
					chars += len(text)
				}
			}
		}
	}

	for _, msg := range request.Messages {
		for _, block := range msg.Content {
			switch {
			case block.IsToolUse():
				chars += len(block.Name) + len(block.Input)
			case block.IsToolResult():
				chars += contentChars(block.Content)
			case block.IsThinking():
				chars += len(block.Thinking)
			default:
				chars += len(block.Text)
			}
		}
	}

	for _, tool := range request.Tools {
		chars += len(tool.Name)
		chars += len(tool.Description)
		chars += len(tool.InputSchema)
	}

	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// contentChars sizes a tool_result body, whatever shape it arrived in
func contentChars(content any) int {
	switch c := content.(type) {
	case nil:
		return 0
	case string:
		return len(c)
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return 0
		}
		return len(data)
	}
}

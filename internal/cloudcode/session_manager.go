// Package cloudcode provides the Antigravity Cloud Code API client.
package cloudcode

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/gclaude/antigravity-proxy/pkg/anthropic"
)

// DeriveSessionID derives a stable session ID from the first user
// message, so the same conversation keeps the same ID across turns and
// upstream prompt caching stays effective.
func DeriveSessionID(request *anthropic.MessagesRequest) string {
	for _, msg := range request.Messages {
		if msg.Role != "user" {
			continue
		}
		if content := extractTextContent(msg); content != "" {
			hash := sha256.Sum256([]byte(content))
			return hex.EncodeToString(hash[:16])
		}
	}

	return uuid.New().String()
}

// extractTextContent joins the text blocks of a message
func extractTextContent(msg anthropic.Message) string {
	var result string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			if result != "" {
				result += "\n"
			}
			result += block.Text
		}
	}
	return result
}

package tokencount

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gclaude/antigravity-proxy/pkg/anthropic"
)

func TestEstimateCharsOverFour(t *testing.T) {
	request := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: []anthropic.ContentBlock{{Type: "text", Text: strings.Repeat("a", 400)}},
		}},
	}
	assert.Equal(t, 100, Estimate(request))
}

func TestEstimateNeverZero(t *testing.T) {
	request := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}},
		}},
	}
	assert.Equal(t, 1, Estimate(request))

	assert.Equal(t, 1, Estimate(&anthropic.MessagesRequest{}))
}

func TestEstimateIncludesSystemAndTools(t *testing.T) {
	schema := json.RawMessage(`{"type": "object"}`)
	request := &anthropic.MessagesRequest{
		System: strings.Repeat("s", 40),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: []anthropic.ContentBlock{{Type: "text", Text: strings.Repeat("m", 40)}},
		}},
		Tools: []anthropic.Tool{{
			Name:        "search",
			Description: "Search the web",
			InputSchema: schema,
		}},
	}

	chars := 40 + 40 + len("search") + len("Search the web") + len(schema)
	assert.Equal(t, chars/4, Estimate(request))
}

func TestEstimateSystemBlockList(t *testing.T) {
	request := &anthropic.MessagesRequest{
		System: []interface{}{
			map[string]interface{}{"type": "text", "text": strings.Repeat("x", 80)},
		},
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: []anthropic.ContentBlock{{Type: "text", Text: ""}},
		}},
	}
	assert.Equal(t, 20, Estimate(request))
}

func TestEstimateCountsToolUseAndResults(t *testing.T) {
	request := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{
			{
				Role: "assistant",
				Content: []anthropic.ContentBlock{{
					Type:  "tool_use",
					Name:  "read",
					Input: json.RawMessage(strings.Repeat(" ", 40)),
				}},
			},
			{
				Role: "user",
				Content: []anthropic.ContentBlock{{
					Type:      "tool_result",
					ToolUseID: "toolu_1",
					Content:   strings.Repeat("r", 40),
				}},
			},
		},
	}
	// name(4) + input(40) + result(40) over 4
	assert.Equal(t, 21, Estimate(request))
}

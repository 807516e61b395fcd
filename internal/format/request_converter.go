// Package format provides conversion between Anthropic and Google Generative AI formats.
package format

import (
	"encoding/json"
	"fmt"

	"github.com/gclaude/antigravity-proxy/internal/config"
	"github.com/gclaude/antigravity-proxy/internal/utils"
	"github.com/gclaude/antigravity-proxy/pkg/anthropic"
)

// GoogleRequest represents a request in Google Generative AI format
type GoogleRequest struct {
	Contents          []GoogleContent   `json:"contents"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *GoogleContent    `json:"systemInstruction,omitempty"`
	Tools             []GoogleTool      `json:"tools,omitempty"`
	ToolConfig        *ToolConfig       `json:"toolConfig,omitempty"`
}

// ToMap converts GoogleRequest to a map for dynamic field addition
func (r *GoogleRequest) ToMap() map[string]interface{} {
	data, err := json.Marshal(r)
	if err != nil {
		return make(map[string]interface{})
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return make(map[string]interface{})
	}
	return result
}

// GoogleContent represents content in Google format
type GoogleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GooglePart `json:"parts"`
}

// GenerationConfig holds generation configuration
type GenerationConfig struct {
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	TopK            *int            `json:"topK,omitempty"`
	StopSequences   []string        `json:"stopSequences,omitempty"`
	ThinkingConfig  *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

// ThinkingConfig holds thinking configuration. Claude models read the
// snake_case fields, Gemini models the camelCase ones.
type ThinkingConfig struct {
	IncludeThoughts bool `json:"include_thoughts,omitempty"`
	ThinkingBudget  int  `json:"thinking_budget,omitempty"`

	IncludeThoughtsGemini bool `json:"includeThoughts,omitempty"`
	ThinkingBudgetGemini  int  `json:"thinkingBudget,omitempty"`
}

// GoogleTool represents a tool in Google format
type GoogleTool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// FunctionDeclaration represents a function declaration
type FunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToolConfig represents tool configuration
type ToolConfig struct {
	FunctionCallingConfig *FunctionCallingConfig `json:"functionCallingConfig,omitempty"`
}

// FunctionCallingConfig represents function calling configuration
type FunctionCallingConfig struct {
	Mode string `json:"mode,omitempty"`
}

// ConvertAnthropicToGoogle converts an Anthropic Messages API request to
// Google format. A non-nil error means the request itself is invalid
// (bad tool schema) and should be rejected with a 400 before any
// upstream call.
func ConvertAnthropicToGoogle(req *anthropic.MessagesRequest, upstreamModel string) (*GoogleRequest, error) {
	modelFamily := config.GetModelFamily(upstreamModel)
	isClaudeModel := modelFamily == config.ModelFamilyClaude
	isGeminiModel := modelFamily == config.ModelFamilyGemini
	isThinking := config.IsThinkingModel(upstreamModel)

	googleRequest := &GoogleRequest{
		Contents:         make([]GoogleContent, 0, len(req.Messages)),
		GenerationConfig: &GenerationConfig{},
	}

	if systemParts := convertSystem(req.System); len(systemParts) > 0 {
		googleRequest.SystemInstruction = &GoogleContent{
			Role:  "user",
			Parts: systemParts,
		}
	}

	for _, msg := range req.Messages {
		parts := ConvertContentToParts(NormalizeContent(msg.Content), isClaudeModel, isGeminiModel)

		// The API requires at least one part per content entry
		if len(parts) == 0 {
			utils.Debug("[RequestConverter] Empty parts after filtering, adding placeholder")
			parts = append(parts, GooglePart{Text: "."})
		}

		googleRequest.Contents = append(googleRequest.Contents, GoogleContent{
			Role:  ConvertRole(msg.Role),
			Parts: parts,
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = config.DefaultMaxTokens
	}
	googleRequest.GenerationConfig.MaxOutputTokens = maxTokens
	googleRequest.GenerationConfig.Temperature = req.Temperature
	googleRequest.GenerationConfig.TopP = req.TopP
	googleRequest.GenerationConfig.TopK = req.TopK
	if len(req.StopSequences) > 0 {
		googleRequest.GenerationConfig.StopSequences = req.StopSequences
	}

	if isThinking {
		googleRequest.GenerationConfig.ThinkingConfig = buildThinkingConfig(req, isClaudeModel, isGeminiModel)
		if isClaudeModel {
			budget := 0
			if req.Thinking != nil {
				budget = req.Thinking.BudgetTokens
			}
			// max_tokens must leave room above the thinking budget
			if budget > 0 && googleRequest.GenerationConfig.MaxOutputTokens <= budget {
				adjusted := budget + 8192
				utils.Warn("[RequestConverter] max_tokens (%d) <= thinking budget (%d), raising to %d",
					googleRequest.GenerationConfig.MaxOutputTokens, budget, adjusted)
				googleRequest.GenerationConfig.MaxOutputTokens = adjusted
			}
		}
	}

	if len(req.Tools) > 0 {
		declarations := make([]FunctionDeclaration, 0, len(req.Tools))
		for i, tool := range req.Tools {
			name := tool.Name
			if name == "" {
				name = fmt.Sprintf("tool-%d", i)
			}

			var schema map[string]interface{}
			if len(tool.InputSchema) > 0 {
				if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
					return nil, fmt.Errorf("tool %q: invalid input_schema: %w", name, err)
				}
			}
			parameters, err := CoerceSchema(schema)
			if err != nil {
				return nil, fmt.Errorf("tool %q: %w", name, err)
			}

			declarations = append(declarations, FunctionDeclaration{
				Name:        CleanToolName(name),
				Description: tool.Description,
				Parameters:  parameters,
			})
		}
		googleRequest.Tools = []GoogleTool{{FunctionDeclarations: declarations}}

		if isClaudeModel {
			googleRequest.ToolConfig = &ToolConfig{
				FunctionCallingConfig: &FunctionCallingConfig{Mode: "VALIDATED"},
			}
		}
	}

	return googleRequest, nil
}

// convertSystem flattens the system prompt (string or text blocks) into
// systemInstruction parts
func convertSystem(system interface{}) []GooglePart {
	parts := make([]GooglePart, 0, 1)
	switch s := system.(type) {
	case string:
		if s != "" {
			parts = append(parts, GooglePart{Text: s})
		}
	case []interface{}:
		for _, block := range s {
			blockMap, ok := block.(map[string]interface{})
			if !ok || blockMap["type"] != "text" {
				continue
			}
			if text, ok := blockMap["text"].(string); ok && text != "" {
				parts = append(parts, GooglePart{Text: text})
			}
		}
	}
	return parts
}

// buildThinkingConfig enables reasoning output per model family. The
// budget is forwarded only when the client asked for one; Claude
// otherwise picks its own.
func buildThinkingConfig(req *anthropic.MessagesRequest, isClaudeModel, isGeminiModel bool) *ThinkingConfig {
	budget := 0
	if req.Thinking != nil && req.Thinking.BudgetTokens > 0 {
		budget = req.Thinking.BudgetTokens
	}

	if isClaudeModel {
		cfg := &ThinkingConfig{IncludeThoughts: true}
		if budget > 0 {
			cfg.ThinkingBudget = budget
		}
		return cfg
	}
	if isGeminiModel {
		cfg := &ThinkingConfig{IncludeThoughtsGemini: true}
		if budget > 0 {
			cfg.ThinkingBudgetGemini = budget
		}
		return cfg
	}
	return nil
}

// NormalizeContent converts the wire-level content field (string or
// block array) into typed content blocks
func NormalizeContent(content interface{}) []anthropic.ContentBlock {
	switch c := content.(type) {
	case string:
		return []anthropic.ContentBlock{{Type: "text", Text: c}}
	case []anthropic.ContentBlock:
		return c
	case []interface{}:
		result := make([]anthropic.ContentBlock, 0, len(c))
		for _, item := range c {
			blockMap, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			result = append(result, contentBlockFromMap(blockMap))
		}
		return result
	default:
		return nil
	}
}

// contentBlockFromMap decodes one wire-level content block
func contentBlockFromMap(blockMap map[string]interface{}) anthropic.ContentBlock {
	block := anthropic.ContentBlock{}

	block.Type, _ = blockMap["type"].(string)
	block.Text, _ = blockMap["text"].(string)
	block.Thinking, _ = blockMap["thinking"].(string)
	block.Signature, _ = blockMap["signature"].(string)
	block.ThoughtSignature, _ = blockMap["thoughtSignature"].(string)
	block.ID, _ = blockMap["id"].(string)
	block.Name, _ = blockMap["name"].(string)
	block.ToolUseID, _ = blockMap["tool_use_id"].(string)
	if isError, ok := blockMap["is_error"].(bool); ok {
		block.IsError = isError
	}
	if content := blockMap["content"]; content != nil {
		block.Content = content
	}
	if input, ok := blockMap["input"].(map[string]interface{}); ok {
		if data, err := json.Marshal(input); err == nil {
			block.Input = data
		}
	}
	if sourceMap, ok := blockMap["source"].(map[string]interface{}); ok {
		source := &anthropic.ImageSource{}
		source.Type, _ = sourceMap["type"].(string)
		source.MediaType, _ = sourceMap["media_type"].(string)
		source.Data, _ = sourceMap["data"].(string)
		source.URL, _ = sourceMap["url"].(string)
		block.Source = source
	}

	return block
}

// LastUserText returns the text of the most recent user message, used by
// the tool-argument repair heuristics
func LastUserText(messages []anthropic.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		for _, block := range NormalizeContent(messages[i].Content) {
			if block.IsText() && block.Text != "" {
				return block.Text
			}
		}
	}
	return ""
}

// ToolSchemas indexes the declared input schemas by cleaned tool name
func ToolSchemas(tools []anthropic.Tool) map[string]map[string]interface{} {
	if len(tools) == 0 {
		return nil
	}
	result := make(map[string]map[string]interface{}, len(tools))
	for _, tool := range tools {
		var schema map[string]interface{}
		if len(tool.InputSchema) > 0 {
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				continue
			}
		}
		result[CleanToolName(tool.Name)] = schema
	}
	return result
}

// Package format provides conversion between Anthropic and Google Generative AI formats.
// This file coerces client tool schemas into the subset Antigravity accepts.
package format

import (
	"fmt"
	"strings"
)

// forbiddenSchemaKeys are stripped from every schema node
var forbiddenSchemaKeys = []string{
	"additionalProperties",
	"default",
	"$schema",
	"$id",
	"examples",
}

// acceptedFormats is the format whitelist; anything else is removed
var acceptedFormats = map[string]bool{
	"date-time": true,
	"enum":      true,
}

// CoerceSchema rewrites a tool input schema into the accepted subset:
// forbidden keys removed, unknown format values dropped, every object
// node carrying type:"object" and a properties map, empty required
// arrays stripped. Applied recursively through properties, items and
// each oneOf/anyOf/allOf member.
//
// An error means the declaration cannot become an object schema and the
// request should be rejected before any upstream call.
func CoerceSchema(schema map[string]interface{}) (map[string]interface{}, error) {
	if schema == nil {
		schema = map[string]interface{}{}
	}

	if t, ok := schema["type"].(string); ok && t != "object" && t != "" {
		return nil, fmt.Errorf("tool input_schema must have type \"object\", got %q", t)
	}

	return coerceNode(schema, true), nil
}

// coerceNode applies the coercion rules to one schema node.
// isObject forces object typing on the node (the top level is always an
// object declaration).
func coerceNode(node map[string]interface{}, isObject bool) map[string]interface{} {
	result := make(map[string]interface{}, len(node))
	for k, v := range node {
		result[k] = v
	}

	for _, key := range forbiddenSchemaKeys {
		delete(result, key)
	}

	if format, ok := result["format"].(string); ok && !acceptedFormats[format] {
		delete(result, "format")
	}

	// const is expressed as a single-value enum upstream
	if constVal, ok := result["const"]; ok {
		delete(result, "const")
		if _, hasEnum := result["enum"]; !hasEnum {
			result["enum"] = []interface{}{constVal}
		}
	}

	nodeType, _ := result["type"].(string)
	if isObject || nodeType == "object" {
		result["type"] = "object"
		if _, ok := result["properties"].(map[string]interface{}); !ok {
			result["properties"] = map[string]interface{}{}
		}
	}

	if props, ok := result["properties"].(map[string]interface{}); ok {
		coerced := make(map[string]interface{}, len(props))
		for name, sub := range props {
			if subMap, ok := sub.(map[string]interface{}); ok {
				coerced[name] = coerceNode(subMap, false)
			} else {
				coerced[name] = sub
			}
		}
		result["properties"] = coerced
	}

	if items, ok := result["items"].(map[string]interface{}); ok {
		result["items"] = coerceNode(items, false)
	}

	for _, combiner := range []string{"oneOf", "anyOf", "allOf"} {
		if members, ok := result[combiner].([]interface{}); ok {
			coerced := make([]interface{}, 0, len(members))
			for _, member := range members {
				if memberMap, ok := member.(map[string]interface{}); ok {
					coerced = append(coerced, coerceNode(memberMap, false))
				} else {
					coerced = append(coerced, member)
				}
			}
			result[combiner] = coerced
		}
	}

	if required, ok := result["required"].([]interface{}); ok && len(required) == 0 {
		delete(result, "required")
	}
	if required, ok := result["required"].([]string); ok && len(required) == 0 {
		delete(result, "required")
	}

	return result
}

// RequiredStrings returns the required property names of a coerced schema
func RequiredStrings(schema map[string]interface{}) []string {
	var result []string
	switch required := schema["required"].(type) {
	case []interface{}:
		for _, item := range required {
			if name, ok := item.(string); ok {
				result = append(result, name)
			}
		}
	case []string:
		result = append(result, required...)
	}
	return result
}

// CleanToolName restricts a tool name to API-safe characters, capped at
// 64 characters
func CleanToolName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_' || r == '-' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}
	cleaned := result.String()
	if len(cleaned) > 64 {
		cleaned = cleaned[:64]
	}
	return cleaned
}

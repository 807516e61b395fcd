// Package format provides conversion between Anthropic and Google Generative AI formats.
// This file repairs malformed tool-call arguments coming back from upstream.
package format

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gclaude/antigravity-proxy/internal/utils"
)

// argAliases heals obvious parameter-name mismatches. A move only
// happens when the target key is required by the declared schema and
// the source key is present in the arguments.
var argAliases = map[string][]string{
	"url":       {"link"},
	"link":      {"url"},
	"query":     {"prompt"},
	"prompt":    {"query"},
	"path":      {"file_path"},
	"file_path": {"path"},
}

var (
	urlPattern    = regexp.MustCompile(`https?://[^\s"'<>)]+`)
	pathPattern   = regexp.MustCompile(`(?:~?/[\w.\-/]+|\b[\w\-./]*[\w\-]+\.[A-Za-z0-9]{1,8})\b`)
	quotedPattern = regexp.MustCompile(`"([^"]{1,200})"|'([^']{1,200})'`)
)

// DecodeFunctionArgs normalizes upstream function-call arguments.
// Some backends return a protobuf Struct envelope instead of plain
// JSON; others wrap the whole document in a "_raw" string.
func DecodeFunctionArgs(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return map[string]interface{}{}
	}

	if fields, ok := args["fields"].(map[string]interface{}); ok && len(args) == 1 {
		return unwrapProtoStruct(fields)
	}

	if raw, ok := args["_raw"].(string); ok && len(args) == 1 {
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			return DecodeFunctionArgs(parsed)
		}
		// Leave the raw string for the schema-driven repair pass
		return args
	}

	result := make(map[string]interface{}, len(args))
	for k, v := range args {
		result[k] = unwrapProtoValue(v)
	}
	return result
}

// unwrapProtoStruct decodes a protobuf Struct fields map to plain JSON
func unwrapProtoStruct(fields map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		result[k] = unwrapProtoValue(v)
	}
	return result
}

// unwrapProtoValue decodes a single protobuf Value wrapper
func unwrapProtoValue(v interface{}) interface{} {
	wrapper, ok := v.(map[string]interface{})
	if !ok {
		return v
	}

	if s, ok := wrapper["stringValue"]; ok {
		return s
	}
	if n, ok := wrapper["numberValue"]; ok {
		return n
	}
	if b, ok := wrapper["boolValue"]; ok {
		return b
	}
	if _, ok := wrapper["nullValue"]; ok {
		return nil
	}
	if sv, ok := wrapper["structValue"].(map[string]interface{}); ok {
		if fields, ok := sv["fields"].(map[string]interface{}); ok {
			return unwrapProtoStruct(fields)
		}
		return unwrapProtoStruct(sv)
	}
	if lv, ok := wrapper["listValue"].(map[string]interface{}); ok {
		values, _ := lv["values"].([]interface{})
		result := make([]interface{}, 0, len(values))
		for _, item := range values {
			result = append(result, unwrapProtoValue(item))
		}
		return result
	}

	// Not a Value wrapper; recurse into the plain map
	return DecodeFunctionArgs(wrapper)
}

// RepairArgs fills required parameters the model left out. The alias
// table and the user-text heuristic are documented best-effort
// recovery; well-formed calls pass through untouched. enableHeuristics
// gates the user-text fill.
func RepairArgs(args map[string]interface{}, schema map[string]interface{}, lastUserText string, enableHeuristics bool) map[string]interface{} {
	result := DecodeFunctionArgs(args)

	if schema == nil {
		return result
	}
	required := RequiredStrings(schema)
	properties, _ := schema["properties"].(map[string]interface{})

	// A lone "_raw" string fills the single required parameter
	if raw, ok := result["_raw"].(string); ok && len(result) == 1 && len(required) == 1 {
		result = map[string]interface{}{required[0]: raw}
	}

	for _, target := range required {
		if hasNonEmpty(result, target) {
			continue
		}
		for _, source := range argAliases[target] {
			if value, ok := result[source]; ok {
				utils.Debug("[ArgsRepair] Moving argument %s -> %s", source, target)
				result[target] = value
				delete(result, source)
				break
			}
		}
	}

	if !enableHeuristics || lastUserText == "" {
		return result
	}

	for _, target := range required {
		if hasNonEmpty(result, target) {
			continue
		}
		if !isStringParam(properties, target) {
			continue
		}
		if value := fillFromUserText(target, lastUserText); value != "" {
			utils.Debug("[ArgsRepair] Filled required %q from user text", target)
			result[target] = value
		}
	}

	return result
}

// hasNonEmpty reports whether the key holds a usable value
func hasNonEmpty(args map[string]interface{}, key string) bool {
	v, ok := args[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}

// isStringParam checks the declared type of a parameter
func isStringParam(properties map[string]interface{}, name string) bool {
	if properties == nil {
		return false
	}
	prop, ok := properties[name].(map[string]interface{})
	if !ok {
		return false
	}
	t, _ := prop["type"].(string)
	return t == "string" || t == ""
}

// fillFromUserText recovers a missing value from the most recent user
// message when the parameter name declares its semantic. Only a single
// unambiguous match is used.
func fillFromUserText(param, text string) string {
	lower := strings.ToLower(param)

	switch {
	case containsAny(lower, "url", "link", "uri"):
		return singleMatch(urlPattern.FindAllString(text, 2))
	case containsAny(lower, "path", "file"):
		return singleMatch(pathPattern.FindAllString(text, 2))
	case containsAny(lower, "query", "prompt", "search"):
		matches := quotedPattern.FindAllStringSubmatch(text, 2)
		if len(matches) != 1 {
			return ""
		}
		if matches[0][1] != "" {
			return matches[0][1]
		}
		return matches[0][2]
	}
	return ""
}

func singleMatch(matches []string) string {
	if len(matches) == 1 {
		return matches[0]
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

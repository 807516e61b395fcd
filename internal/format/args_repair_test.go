package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requiredStringSchema(names ...string) map[string]interface{} {
	properties := map[string]interface{}{}
	required := make([]interface{}, 0, len(names))
	for _, name := range names {
		properties[name] = map[string]interface{}{"type": "string"}
		required = append(required, name)
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func TestDecodeFunctionArgsProtoEnvelope(t *testing.T) {
	args := map[string]interface{}{
		"fields": map[string]interface{}{
			"path":  map[string]interface{}{"stringValue": "main.go"},
			"count": map[string]interface{}{"numberValue": float64(3)},
			"deep":  map[string]interface{}{"boolValue": true},
			"none":  map[string]interface{}{"nullValue": nil},
			"list": map[string]interface{}{
				"listValue": map[string]interface{}{
					"values": []interface{}{
						map[string]interface{}{"stringValue": "a"},
						map[string]interface{}{"numberValue": float64(1)},
					},
				},
			},
			"nested": map[string]interface{}{
				"structValue": map[string]interface{}{
					"fields": map[string]interface{}{
						"inner": map[string]interface{}{"stringValue": "v"},
					},
				},
			},
		},
	}

	result := DecodeFunctionArgs(args)
	assert.Equal(t, "main.go", result["path"])
	assert.Equal(t, float64(3), result["count"])
	assert.Equal(t, true, result["deep"])
	assert.Nil(t, result["none"])
	assert.Equal(t, []interface{}{"a", float64(1)}, result["list"])
	assert.Equal(t, map[string]interface{}{"inner": "v"}, result["nested"])
}

func TestDecodeFunctionArgsRawJSON(t *testing.T) {
	result := DecodeFunctionArgs(map[string]interface{}{
		"_raw": `{"path": "main.go"}`,
	})
	assert.Equal(t, "main.go", result["path"])
}

func TestDecodeFunctionArgsPassthrough(t *testing.T) {
	args := map[string]interface{}{"path": "main.go", "limit": float64(10)}
	result := DecodeFunctionArgs(args)
	assert.Equal(t, args, result)
}

func TestRepairArgsRawStringFillsSingleRequired(t *testing.T) {
	result := RepairArgs(
		map[string]interface{}{"_raw": "not json at all"},
		requiredStringSchema("command"),
		"", false)
	assert.Equal(t, "not json at all", result["command"])
}

func TestRepairArgsAliases(t *testing.T) {
	tests := []struct {
		name   string
		args   map[string]interface{}
		target string
		value  string
	}{
		{"link to url", map[string]interface{}{"link": "https://example.com"}, "url", "https://example.com"},
		{"url to link", map[string]interface{}{"url": "https://example.com"}, "link", "https://example.com"},
		{"prompt to query", map[string]interface{}{"prompt": "weather"}, "query", "weather"},
		{"path to file_path", map[string]interface{}{"path": "a.txt"}, "file_path", "a.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RepairArgs(tt.args, requiredStringSchema(tt.target), "", false)
			assert.Equal(t, tt.value, result[tt.target])
			for source := range tt.args {
				assert.NotContains(t, result, source)
			}
		})
	}
}

func TestRepairArgsAliasOnlyWhenRequired(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url":  map[string]interface{}{"type": "string"},
			"link": map[string]interface{}{"type": "string"},
		},
	}
	args := map[string]interface{}{"link": "https://example.com"}
	result := RepairArgs(args, schema, "", false)
	// Nothing required: the argument stays where the model put it
	assert.Equal(t, "https://example.com", result["link"])
	assert.NotContains(t, result, "url")
}

func TestRepairArgsFillsPathFromUserText(t *testing.T) {
	result := RepairArgs(
		map[string]interface{}{},
		requiredStringSchema("file_path"),
		"Please read README.md and summarize it", true)
	assert.Equal(t, "README.md", result["file_path"])
}

func TestRepairArgsFillsURLFromUserText(t *testing.T) {
	result := RepairArgs(
		map[string]interface{}{},
		requiredStringSchema("url"),
		"fetch https://example.com/page for me", true)
	assert.Equal(t, "https://example.com/page", result["url"])
}

func TestRepairArgsFillsQueryFromQuotedText(t *testing.T) {
	result := RepairArgs(
		map[string]interface{}{},
		requiredStringSchema("query"),
		`search for "golang generics" please`, true)
	assert.Equal(t, "golang generics", result["query"])
}

func TestRepairArgsAmbiguousTextNotUsed(t *testing.T) {
	result := RepairArgs(
		map[string]interface{}{},
		requiredStringSchema("url"),
		"compare https://a.example.com and https://b.example.com", true)
	assert.NotContains(t, result, "url")
}

func TestRepairArgsHeuristicsDisabled(t *testing.T) {
	result := RepairArgs(
		map[string]interface{}{},
		requiredStringSchema("file_path"),
		"read README.md", false)
	assert.NotContains(t, result, "file_path")
}

func TestRepairArgsWellFormedUntouched(t *testing.T) {
	args := map[string]interface{}{"file_path": "src/app.go"}
	result := RepairArgs(args, requiredStringSchema("file_path"), "read other.txt", true)
	require.Equal(t, "src/app.go", result["file_path"])
	assert.Len(t, result, 1)
}

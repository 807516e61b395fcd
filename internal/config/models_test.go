package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveModelLiteralPassthrough(t *testing.T) {
	cfg := DefaultConfig()
	model, err := cfg.ResolveModel("antigravity-gemini-3-pro")
	require.NoError(t, err)
	assert.Equal(t, "antigravity-gemini-3-pro", model)
}

func TestResolveModelAliases(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		alias string
		want  string
	}{
		{"claude-haiku-4-5", DefaultHaikuModel},
		{"claude-sonnet-4-5-20250929", DefaultSonnetModel},
		{"claude-opus-4-6", DefaultOpusModel},
		{"CLAUDE-SONNET-4", DefaultSonnetModel},
	}

	for _, tt := range tests {
		model, err := cfg.ResolveModel(tt.alias)
		require.NoError(t, err, tt.alias)
		assert.Equal(t, tt.want, model, tt.alias)
	}
}

func TestResolveModelConfiguredTargets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SonnetModel = "antigravity-gemini-3-pro"

	model, err := cfg.ResolveModel("claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, "antigravity-gemini-3-pro", model)
}

func TestResolveModelUnknown(t *testing.T) {
	cfg := DefaultConfig()
	_, err := cfg.ResolveModel("gpt-4o")
	assert.Error(t, err)
}

func TestUpstreamModelID(t *testing.T) {
	assert.Equal(t, "gemini-3-flash", UpstreamModelID("antigravity-gemini-3-flash"))
	assert.Equal(t, "claude-sonnet-4-5", UpstreamModelID("claude-sonnet-4-5"))
}

func TestGetModelFamily(t *testing.T) {
	assert.Equal(t, ModelFamilyClaude, GetModelFamily("claude-sonnet-4-5-thinking"))
	assert.Equal(t, ModelFamilyGemini, GetModelFamily("gemini-3-flash"))
	assert.Equal(t, ModelFamilyUnknown, GetModelFamily("something-else"))
}

func TestIsThinkingModel(t *testing.T) {
	assert.True(t, IsThinkingModel("claude-sonnet-4-5-thinking"))
	assert.False(t, IsThinkingModel("claude-sonnet-4-5"))
	assert.True(t, IsThinkingModel("gemini-3-pro"))
	assert.True(t, IsThinkingModel("gemini-3-flash"))
	assert.False(t, IsThinkingModel("gemini-2.5-flash"))
}

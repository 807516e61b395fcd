// Package config provides configuration constants and runtime configuration management.
// This file resolves client model aliases to upstream model ids.
package config

import (
	"fmt"
	"strings"
)

// AntigravityModelPrefix marks a literal upstream model id. The prefix
// is stripped before the id goes on the wire.
const AntigravityModelPrefix = "antigravity-"

// ResolveModel maps the alias the client sent to a concrete model id.
// Literal antigravity-* ids pass through verbatim; otherwise the alias
// is matched on the haiku/sonnet/opus substrings.
func (c *Config) ResolveModel(alias string) (string, error) {
	if strings.HasPrefix(alias, AntigravityModelPrefix) {
		return alias, nil
	}

	lower := strings.ToLower(alias)
	switch {
	case strings.Contains(lower, "haiku"):
		return c.HaikuModel, nil
	case strings.Contains(lower, "sonnet"):
		return c.SonnetModel, nil
	case strings.Contains(lower, "opus"):
		return c.OpusModel, nil
	}

	return "", fmt.Errorf("unknown model %q: use an antigravity-* id or an alias containing haiku, sonnet, or opus", alias)
}

// UpstreamModelID strips the antigravity- prefix for the wire format
func UpstreamModelID(model string) string {
	return strings.TrimPrefix(model, AntigravityModelPrefix)
}

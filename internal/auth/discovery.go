// Package auth provides OAuth account management for the Antigravity backend.
// This file discovers the managed Google Cloud project id via loadCodeAssist.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gclaude/antigravity-proxy/internal/config"
	"github.com/gclaude/antigravity-proxy/internal/utils"
)

// loadCodeAssistURL is overridable in tests
var loadCodeAssistURL = config.LoadCodeAssistEndpoint + "/v1internal:loadCodeAssist"

// DiscoverProjectID calls loadCodeAssist and searches the response for
// the managed project id. Discovery always runs against production:
// sandbox endpoints return inconsistent project metadata. When nothing
// is found the hint (last-known id) is returned, and failing that the
// default project id.
func (m *Manager) DiscoverProjectID(ctx context.Context, accessToken, hint string) (string, error) {
	body := map[string]interface{}{
		"metadata": map[string]interface{}{
			"ideType":     "IDE_UNSPECIFIED",
			"platform":    "PLATFORM_UNSPECIFIED",
			"pluginType":  "GEMINI",
			"duetProject": hint,
		},
	}
	if hint != "" {
		body["cloudaicompanionProject"] = hint
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loadCodeAssistURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range config.AntigravityHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("loadCodeAssist request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("loadCodeAssist returned %d: %.200s", resp.StatusCode, data)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("loadCodeAssist response unparseable: %w", err)
	}

	if projectID := FindManagedProjectID(doc); projectID != "" {
		utils.Debug("[OAuth] Discovered managed project: %s", projectID)
		return projectID, nil
	}

	if hint != "" {
		return hint, nil
	}
	return config.DefaultProjectID, nil
}

// FindManagedProjectID searches a decoded loadCodeAssist response
// depth-first for a project id. Accepted carriers: a
// cloudaicompanionProject value (string, or object with id/projectId)
// and allowedIntegrations[*].projectId. First non-empty match wins.
func FindManagedProjectID(doc interface{}) string {
	switch node := doc.(type) {
	case map[string]interface{}:
		if v, ok := node["cloudaicompanionProject"]; ok {
			if id := projectIDFromValue(v); id != "" {
				return id
			}
		}
		if integrations, ok := node["allowedIntegrations"].([]interface{}); ok {
			for _, item := range integrations {
				if entry, ok := item.(map[string]interface{}); ok {
					if id, ok := entry["projectId"].(string); ok && id != "" {
						return id
					}
				}
			}
		}
		for _, v := range node {
			if id := FindManagedProjectID(v); id != "" {
				return id
			}
		}
	case []interface{}:
		for _, item := range node {
			if id := FindManagedProjectID(item); id != "" {
				return id
			}
		}
	}
	return ""
}

// projectIDFromValue extracts an id from the cloudaicompanionProject
// value, which may be a bare string or an object
func projectIDFromValue(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case map[string]interface{}:
		if id, ok := value["id"].(string); ok && id != "" {
			return id
		}
		if id, ok := value["projectId"].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

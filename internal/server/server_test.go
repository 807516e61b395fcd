package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gclaude/antigravity-proxy/internal/auth"
	"github.com/gclaude/antigravity-proxy/internal/cloudcode"
	"github.com/gclaude/antigravity-proxy/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestServer wires a full engine against the given upstream endpoints
func newTestServer(t *testing.T, endpoints ...string) *gin.Engine {
	t.Helper()

	store := auth.NewStore(filepath.Join(t.TempDir(), "accounts.json"))
	require.NoError(t, store.Upsert(&auth.Account{
		Email:        "dev@example.com",
		AccessToken:  "test-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		ProjectID:    "proj-1",
		CreatedAt:    time.Now().Unix(),
	}))

	cfg := config.DefaultConfig()
	manager := auth.NewManager(store, config.OAuthConfig)
	pool := cloudcode.NewEndpointPool(endpoints...)
	client := cloudcode.NewClient(cfg, manager, pool)

	return New(cfg, client, store).Engine()
}

func doJSON(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "http://127.0.0.1"+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func textResponseJSON(text string) string {
	return fmt.Sprintf(`{"response": {
		"candidates": [{"content": {"parts": [{"text": %q}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 4}
	}}`, text)
}

func TestMessagesNonStreaming(t *testing.T) {
	var captured map[string]interface{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1internal:generateContent", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, textResponseJSON("Hello from upstream"))
	}))
	defer upstream.Close()

	engine := newTestServer(t, upstream.URL)
	w := doJSON(engine, "POST", "/v1/messages", `{
		"model": "antigravity-claude-sonnet-4-5",
		"max_tokens": 100,
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "antigravity-claude-sonnet-4-5", response["model"])
	assert.Equal(t, "end_turn", response["stop_reason"])
	content := response["content"].([]interface{})
	require.Len(t, content, 1)
	assert.Equal(t, "Hello from upstream", content[0].(map[string]interface{})["text"])

	// The upstream envelope carries the project and the stripped model id
	assert.Equal(t, "proj-1", captured["project"])
	assert.Equal(t, "claude-sonnet-4-5", captured["model"])
	request := captured["request"].(map[string]interface{})
	assert.NotEmpty(t, request["sessionId"])
	assert.NotEmpty(t, request["contents"])
}

func TestMessagesStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1internal:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates": [{"content": {"parts": [{"text": "Hel"}]}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"candidates": [{"content": {"parts": [{"text": "lo"}]}, "finishReason": "STOP"}], "usageMetadata": {"promptTokenCount": 8, "candidatesTokenCount": 2}}`+"\n\n")
	}))
	defer upstream.Close()

	engine := newTestServer(t, upstream.URL)
	w := doJSON(engine, "POST", "/v1/messages", `{
		"model": "antigravity-claude-sonnet-4-5",
		"max_tokens": 100,
		"stream": true,
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	body := w.Body.String()
	assert.Contains(t, body, "event: message_start")
	assert.Contains(t, body, "event: ping")
	assert.Contains(t, body, "event: content_block_start")
	assert.Contains(t, body, `"text":"Hel"`)
	assert.Contains(t, body, `"text":"lo"`)
	assert.Contains(t, body, `"stop_reason":"end_turn"`)
	assert.Contains(t, body, "event: message_stop")
}

func TestMessagesFailoverOnRateLimit(t *testing.T) {
	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer limited.Close()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, textResponseJSON("fallback answer"))
	}))
	defer healthy.Close()

	engine := newTestServer(t, limited.URL, healthy.URL)
	w := doJSON(engine, "POST", "/v1/messages", `{
		"model": "antigravity-claude-sonnet-4-5",
		"max_tokens": 100,
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "fallback answer")
}

func TestMessagesAllEndpointsRateLimited(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	engine := newTestServer(t, upstream.URL)
	w := doJSON(engine, "POST", "/v1/messages", `{
		"model": "antigravity-claude-sonnet-4-5",
		"max_tokens": 100,
		"stream": true,
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_error")
}

func TestMessagesUnknownModel(t *testing.T) {
	engine := newTestServer(t, "http://127.0.0.1:1")
	w := doJSON(engine, "POST", "/v1/messages", `{
		"model": "gpt-4o",
		"max_tokens": 100,
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request_error")
}

func TestMessagesValidation(t *testing.T) {
	engine := newTestServer(t, "http://127.0.0.1:1")

	w := doJSON(engine, "POST", "/v1/messages", `{"max_tokens": 100, "messages": [{"role": "user", "content": "hi"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(engine, "POST", "/v1/messages", `{"model": "antigravity-claude-sonnet-4-5", "max_tokens": 100, "messages": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCountTokens(t *testing.T) {
	engine := newTestServer(t, "http://127.0.0.1:1")
	w := doJSON(engine, "POST", "/v1/messages/count_tokens", `{
		"model": "antigravity-claude-sonnet-4-5",
		"messages": [{"role": "user", "content": "`+strings.Repeat("a", 400)+`"}]
	}`)

	require.Equal(t, http.StatusOK, w.Code)
	var response map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 100, response["input_tokens"])
}

func TestListModels(t *testing.T) {
	engine := newTestServer(t, "http://127.0.0.1:1")
	w := doJSON(engine, "GET", "/v1/models", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"object":"list"`)
	assert.Contains(t, body, "antigravity-gemini-3-pro")
	assert.Contains(t, body, config.DefaultSonnetModel)
}

func TestHealth(t *testing.T) {
	engine := newTestServer(t, "http://127.0.0.1:1")
	w := doJSON(engine, "GET", "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	var response struct {
		OK          bool `json:"ok"`
		Antigravity struct {
			Enabled  bool `json:"enabled"`
			Accounts int  `json:"accounts"`
		} `json:"antigravity"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.OK)
	assert.True(t, response.Antigravity.Enabled)
	assert.Equal(t, 1, response.Antigravity.Accounts)
}

func TestStatusOmitsTokens(t *testing.T) {
	engine := newTestServer(t, "http://127.0.0.1:1")
	w := doJSON(engine, "GET", "/antigravity-status", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "dev@example.com")
	assert.Contains(t, body, "proj-1")
	assert.NotContains(t, body, "test-token")
	assert.NotContains(t, body, "refresh-token")
}

func TestLoopbackGuard(t *testing.T) {
	engine := newTestServer(t, "http://127.0.0.1:1")

	req := httptest.NewRequest("GET", "http://127.0.0.1/health", nil)
	req.Host = "evil.example.com"
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "permission_error")

	req = httptest.NewRequest("GET", "http://localhost:8082/health", nil)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	engine := newTestServer(t, "http://127.0.0.1:1")
	w := doJSON(engine, "OPTIONS", "/v1/messages", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

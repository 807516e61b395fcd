package cloudcode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gclaude/antigravity-proxy/internal/auth"
	"github.com/gclaude/antigravity-proxy/internal/config"
	"github.com/gclaude/antigravity-proxy/pkg/anthropic"
)

// newTestClient wires a client over the given upstream endpoints, with
// one seeded account whose refreshes go to tokenURL
func newTestClient(t *testing.T, tokenURL, accessToken string, endpoints ...string) (*Client, *auth.Store) {
	t.Helper()

	store := auth.NewStore(filepath.Join(t.TempDir(), "accounts.json"))
	require.NoError(t, store.Upsert(&auth.Account{
		Email:        "dev@example.com",
		AccessToken:  accessToken,
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		ProjectID:    "proj-1",
		CreatedAt:    time.Now().Unix(),
	}))

	oauthCfg := config.OAuthConfig
	oauthCfg.TokenURL = tokenURL
	manager := auth.NewManager(store, oauthCfg)
	pool := NewEndpointPool(endpoints...)
	return NewClient(config.DefaultConfig(), manager, pool), store
}

func clientRequest() *anthropic.MessagesRequest {
	return &anthropic.MessagesRequest{
		Model:     "antigravity-claude-sonnet-4-5",
		MaxTokens: 100,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}},
		}},
	}
}

func upstreamTextJSON(text string) string {
	return fmt.Sprintf(`{"response": {
		"candidates": [{"content": {"parts": [{"text": %q}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 4}
	}}`, text)
}

func TestSendMessageRetries5xxWithBackoff(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, upstreamTextJSON("recovered"))
	}))
	defer upstream.Close()

	client, _ := newTestClient(t, "http://127.0.0.1:1/token", "test-token", upstream.URL)

	start := time.Now()
	response, err := client.SendMessage(context.Background(), clientRequest(), "claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	// One retry, so one backoff sleep at the initial step
	assert.GreaterOrEqual(t, time.Since(start), time.Duration(config.BackoffInitialSeconds)*time.Second)
	require.Len(t, response.Content, 1)
	assert.Equal(t, "recovered", response.Content[0].Text)
}

func TestSendMessage5xxBudgetSpansPool(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	first := httptest.NewServer(handler)
	defer first.Close()
	second := httptest.NewServer(handler)
	defer second.Close()

	client, _ := newTestClient(t, "http://127.0.0.1:1/token", "test-token", first.URL, second.URL)

	_, err := client.SendMessage(context.Background(), clientRequest(), "claude-sonnet-4-5")
	require.Error(t, err)
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusInternalServerError, upstream.StatusCode)

	// The retry budget is shared across the endpoint walk: the first
	// endpoint exhausts it, the second gets a single attempt
	assert.Equal(t, int32(config.MaxUpstreamRetries+1), atomic.LoadInt32(&calls))
}

func TestSendMessageRefreshesOnUnauthorized(t *testing.T) {
	var tokenCalls int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "fresh-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenSrv.Close()

	var upstreamCalls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&upstreamCalls, 1) == 1 {
			assert.Equal(t, "Bearer stale-token", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer fresh-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, upstreamTextJSON("authorized"))
	}))
	defer upstream.Close()

	client, store := newTestClient(t, tokenSrv.URL, "stale-token", upstream.URL)

	response, err := client.SendMessage(context.Background(), clientRequest(), "claude-sonnet-4-5")
	require.NoError(t, err)
	require.Len(t, response.Content, 1)
	assert.Equal(t, "authorized", response.Content[0].Text)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&upstreamCalls))

	acct, err := store.Get("dev@example.com")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", acct.AccessToken)
	assert.Greater(t, acct.ExpiresAt, time.Now().Unix())
}

func TestSendMessageRefreshesOnlyOnce(t *testing.T) {
	var tokenCalls int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "fresh-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenSrv.Close()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	client, _ := newTestClient(t, tokenSrv.URL, "stale-token", upstream.URL)

	_, err := client.SendMessage(context.Background(), clientRequest(), "claude-sonnet-4-5")
	require.Error(t, err)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

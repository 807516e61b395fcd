package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gclaude/antigravity-proxy/internal/config"
)

func decodeJSON(t *testing.T, s string) interface{} {
	t.Helper()
	var doc interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &doc))
	return doc
}

func TestFindManagedProjectID(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "string value",
			doc:  `{"cloudaicompanionProject": "proj-string"}`,
			want: "proj-string",
		},
		{
			name: "object with id",
			doc:  `{"cloudaicompanionProject": {"id": "proj-id"}}`,
			want: "proj-id",
		},
		{
			name: "object with projectId",
			doc:  `{"cloudaicompanionProject": {"projectId": "proj-pid"}}`,
			want: "proj-pid",
		},
		{
			name: "allowed integrations",
			doc:  `{"allowedIntegrations": [{"name": "x"}, {"projectId": "proj-int"}]}`,
			want: "proj-int",
		},
		{
			name: "nested deep",
			doc:  `{"currentTier": {"settings": {"cloudaicompanionProject": "proj-deep"}}}`,
			want: "proj-deep",
		},
		{
			name: "nothing",
			doc:  `{"currentTier": {"id": "free"}}`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FindManagedProjectID(decodeJSON(t, tt.doc)))
		})
	}
}

func TestDiscoverProjectID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"cloudaicompanionProject": {"id": "managed-proj"}}`))
	}))
	defer ts.Close()

	old := loadCodeAssistURL
	loadCodeAssistURL = ts.URL
	defer func() { loadCodeAssistURL = old }()

	store := NewStore(filepath.Join(t.TempDir(), "accounts.json"))
	require.NoError(t, store.Load())
	manager := NewManager(store, config.OAuthConfig)

	id, err := manager.DiscoverProjectID(context.Background(), "test-token", "")
	require.NoError(t, err)
	assert.Equal(t, "managed-proj", id)
}

func TestDiscoverProjectIDFallsBackToHint(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	old := loadCodeAssistURL
	loadCodeAssistURL = ts.URL
	defer func() { loadCodeAssistURL = old }()

	store := NewStore(filepath.Join(t.TempDir(), "accounts.json"))
	require.NoError(t, store.Load())
	manager := NewManager(store, config.OAuthConfig)

	id, err := manager.DiscoverProjectID(context.Background(), "t", "hint-proj")
	require.NoError(t, err)
	assert.Equal(t, "hint-proj", id)

	id, err = manager.DiscoverProjectID(context.Background(), "t", "")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultProjectID, id)
}

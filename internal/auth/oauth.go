// Package auth provides OAuth account management for the Antigravity backend.
// This file implements the PKCE login flow and token refresh.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/gclaude/antigravity-proxy/internal/config"
	"github.com/gclaude/antigravity-proxy/internal/utils"
)

// refreshSkew is how early a token counts as expired
const refreshSkew = time.Duration(config.TokenRefreshSkewSeconds) * time.Second

// refreshCall tracks an in-flight refresh so concurrent callers share
// one network call per account
type refreshCall struct {
	done chan struct{}
	acct *Account
	err  error
}

// Manager obtains and maintains a valid bearer token plus project id
// for the active account
type Manager struct {
	store      *Store
	oauthCfg   config.OAuthConfigType
	httpClient *http.Client

	mu       sync.Mutex
	inflight map[string]*refreshCall

	rediscoverOnce sync.Once
}

// NewManager creates a Manager over the given store
func NewManager(store *Store, oauthCfg config.OAuthConfigType) *Manager {
	return &Manager{
		store:      store,
		oauthCfg:   oauthCfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		inflight:   make(map[string]*refreshCall),
	}
}

// oauth2Config builds the x/oauth2 configuration for a redirect port
func (m *Manager) oauth2Config(port int) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     m.oauthCfg.ClientID,
		ClientSecret: m.oauthCfg.ClientSecret,
		RedirectURL:  config.OAuthRedirectURI(port),
		Scopes:       m.oauthCfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  m.oauthCfg.AuthURL,
			TokenURL: m.oauthCfg.TokenURL,
		},
	}
}

// Snapshot returns a copy of the active account with a valid access
// token, refreshing first when the token is expired or close to it
func (m *Manager) Snapshot(ctx context.Context) (*Account, error) {
	acct, err := m.store.First()
	if err != nil {
		return nil, err
	}
	if acct.IsExpired(refreshSkew) {
		return m.Refresh(ctx, acct.Email)
	}
	return acct, nil
}

// Refresh exchanges the refresh token for a new access token.
// Concurrent refreshes for the same email collapse into one network
// call; every caller gets the same result.
func (m *Manager) Refresh(ctx context.Context, email string) (*Account, error) {
	m.mu.Lock()
	if call, ok := m.inflight[email]; ok {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.acct, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	m.inflight[email] = call
	m.mu.Unlock()

	call.acct, call.err = m.doRefresh(ctx, email)
	close(call.done)

	m.mu.Lock()
	delete(m.inflight, email)
	m.mu.Unlock()

	return call.acct, call.err
}

// doRefresh performs the actual token refresh network call
func (m *Manager) doRefresh(ctx context.Context, email string) (*Account, error) {
	acct, err := m.store.Get(email)
	if err != nil {
		return nil, err
	}
	if acct.RefreshToken == "" {
		return nil, fmt.Errorf("account %s has no refresh token: run login again", email)
	}

	cfg := m.oauth2Config(m.oauthCfg.CallbackPort)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: acct.RefreshToken})
	token, err := src.Token()
	if err != nil {
		utils.Error("[OAuth] Refresh failed for %s: %v", email, err)
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	acct.AccessToken = token.AccessToken
	acct.ExpiresAt = token.Expiry.Unix()
	// Google usually omits the refresh token on refresh; keep the old one
	if token.RefreshToken != "" {
		acct.RefreshToken = token.RefreshToken
	}
	acct.LastRefresh = time.Now().Unix()

	if err := m.store.Upsert(acct); err != nil {
		return nil, err
	}

	utils.Info("[OAuth] Refreshed access token for %s", email)
	return acct, nil
}

// Login runs the full PKCE authorization flow: local callback listener,
// browser URL, code exchange, email extraction, project discovery.
func (m *Manager) Login(ctx context.Context) (*Account, error) {
	listener, port, err := m.bindCallbackListener()
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	verifier := oauth2.GenerateVerifier()
	state, err := randomState()
	if err != nil {
		return nil, err
	}

	cfg := m.oauth2Config(port)
	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	utils.Info("[OAuth] Open this URL in your browser to sign in:")
	fmt.Println(authURL)

	code, err := m.waitForCallback(ctx, listener, state)
	if err != nil {
		return nil, err
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	token, err := cfg.Exchange(exchangeCtx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	email := m.resolveEmail(ctx, token)
	if email == "" {
		return nil, fmt.Errorf("could not determine account email from tokens")
	}

	acct := &Account{
		Email:        email,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.Unix(),
		Scopes:       m.oauthCfg.Scopes,
		CreatedAt:    time.Now().Unix(),
	}

	projectID, err := m.DiscoverProjectID(ctx, acct.AccessToken, "")
	if err != nil {
		utils.Warn("[OAuth] Project discovery failed: %v. Using default project.", err)
		projectID = config.DefaultProjectID
	}
	acct.ProjectID = projectID

	if err := m.store.Upsert(acct); err != nil {
		return nil, err
	}

	utils.Success("[OAuth] Logged in as %s (project %s)", email, projectID)
	return acct, nil
}

// RediscoverProject re-runs project discovery once after the first
// successful upstream call and replaces the stored id unconditionally
func (m *Manager) RediscoverProject(email string) {
	m.rediscoverOnce.Do(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			acct, err := m.store.Get(email)
			if err != nil {
				return
			}
			projectID, err := m.DiscoverProjectID(ctx, acct.AccessToken, acct.ProjectID)
			if err != nil || projectID == "" {
				utils.Debug("[OAuth] Post-startup project rediscovery failed: %v", err)
				return
			}
			if projectID != acct.ProjectID {
				utils.Info("[OAuth] Managed project changed: %s -> %s", acct.ProjectID, projectID)
				acct.ProjectID = projectID
				_ = m.store.Upsert(acct)
			}
		}()
	})
}

// Logout removes the account from the store
func (m *Manager) Logout(email string) error {
	return m.store.Remove(email)
}

// Store exposes the backing token store
func (m *Manager) Store() *Store {
	return m.store
}

// bindCallbackListener binds the OAuth redirect port, walking the
// fallback list when the primary port is taken
func (m *Manager) bindCallbackListener() (net.Listener, int, error) {
	ports := append([]int{m.oauthCfg.CallbackPort}, m.oauthCfg.CallbackFallbackPorts...)
	for _, port := range ports {
		listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return listener, port, nil
		}
	}
	return nil, 0, fmt.Errorf("could not bind any OAuth callback port (tried %v)", ports)
}

// waitForCallback serves the redirect endpoint until the browser
// delivers an authorization code
func (m *Manager) waitForCallback(ctx context.Context, listener net.Listener, state string) (string, error) {
	type callbackResult struct {
		code string
		err  error
	}
	results := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth-callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errMsg := q.Get("error"); errMsg != "" {
			http.Error(w, "Authentication failed: "+errMsg, http.StatusBadRequest)
			results <- callbackResult{err: fmt.Errorf("authorization denied: %s", errMsg)}
			return
		}
		if q.Get("state") != state {
			http.Error(w, "State mismatch", http.StatusBadRequest)
			results <- callbackResult{err: fmt.Errorf("oauth state mismatch")}
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Missing code", http.StatusBadRequest)
			results <- callbackResult{err: fmt.Errorf("callback missing authorization code")}
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><h2>Authentication complete.</h2>You can close this window.</body></html>")
		results <- callbackResult{code: code}
	})

	srv := &http.Server{Handler: mux}
	go srv.Serve(listener)
	defer srv.Close()

	select {
	case result := <-results:
		return result.code, result.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Minute):
		return "", fmt.Errorf("timed out waiting for OAuth callback")
	}
}

// resolveEmail extracts the account email: first from the unverified
// id_token payload, then from the userinfo endpoint
func (m *Manager) resolveEmail(ctx context.Context, token *oauth2.Token) string {
	if idToken, ok := token.Extra("id_token").(string); ok && idToken != "" {
		if email := emailFromIDToken(idToken); email != "" {
			return email
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.oauthCfg.UserInfoURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return ""
	}
	return info.Email
}

// emailFromIDToken decodes the JWT payload without verifying the
// signature. The email is only a display label.
func emailFromIDToken(idToken string) string {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.Email
}

// randomState generates the OAuth state parameter
func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Package auth provides OAuth account management for the Antigravity backend.
// This file persists accounts to a JSON token store on disk.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// storeVersion is the on-disk document version
const storeVersion = "1.0"

// ErrStoreCorrupt marks an unreadable token store. The server treats
// this as unrecoverable at startup.
var ErrStoreCorrupt = errors.New("token store corrupt")

// ErrAccountNotFound is returned when no account matches the email
var ErrAccountNotFound = errors.New("account not found")

// Account represents a stored OAuth account
type Account struct {
	Email        string   `json:"email"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresAt    int64    `json:"expires_at"`
	ProjectID    string   `json:"project_id,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	CreatedAt    int64    `json:"created_at,omitempty"`
	LastRefresh  int64    `json:"last_refresh,omitempty"`
}

// IsExpired reports whether the access token is expired or within the
// refresh skew of expiring
func (a *Account) IsExpired(skew time.Duration) bool {
	if a.ExpiresAt == 0 {
		return true
	}
	return time.Now().Add(skew).Unix() >= a.ExpiresAt
}

// storeDocument is the on-disk JSON shape
type storeDocument struct {
	Version  string     `json:"version"`
	Accounts []*Account `json:"accounts"`
}

// Store persists accounts at a well-known path. All mutations rewrite
// the file atomically.
type Store struct {
	mu       sync.Mutex
	path     string
	accounts map[string]*Account
}

// NewStore creates a Store backed by the given path
func NewStore(path string) *Store {
	return &Store{
		path:     path,
		accounts: make(map[string]*Account),
	}
}

// Load reads the store from disk. A missing file is an empty store;
// unparseable content is ErrStoreCorrupt.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read token store: %w", err)
	}

	var doc storeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStoreCorrupt, s.path, err)
	}

	s.accounts = make(map[string]*Account, len(doc.Accounts))
	for _, acct := range doc.Accounts {
		if acct.Email == "" {
			return fmt.Errorf("%w: account without email", ErrStoreCorrupt)
		}
		s.accounts[acct.Email] = acct
	}
	return nil
}

// Get returns a copy of the account for the email
func (s *Store) Get(email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[email]
	if !ok {
		return nil, ErrAccountNotFound
	}
	clone := *acct
	return &clone, nil
}

// List returns copies of all accounts
func (s *Store) List() []*Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		clone := *acct
		result = append(result, &clone)
	}
	return result
}

// First returns the single active account, if any. The proxy runs with
// one account; when several are stored the oldest wins.
func (s *Store) First() (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *Account
	for _, acct := range s.accounts {
		if oldest == nil || acct.CreatedAt < oldest.CreatedAt {
			oldest = acct
		}
	}
	if oldest == nil {
		return nil, ErrAccountNotFound
	}
	clone := *oldest
	return &clone, nil
}

// Upsert inserts or replaces the account and writes the store to disk
func (s *Store) Upsert(acct *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *acct
	s.accounts[acct.Email] = &clone
	return s.save()
}

// Remove deletes the account and writes the store to disk
func (s *Store) Remove(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[email]; !ok {
		return ErrAccountNotFound
	}
	delete(s.accounts, email)
	return s.save()
}

// save writes the store atomically: temp file, fsync, rename.
// Caller must hold s.mu.
func (s *Store) save() error {
	doc := storeDocument{Version: storeVersion}
	for _, acct := range s.accounts {
		doc.Accounts = append(doc.Accounts, acct)
	}

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token store dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".accounts-*.json")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp store: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace token store: %w", err)
	}
	return nil
}

// Package auth provides OAuth account management for the Antigravity backend.
// This file imports credentials from the Antigravity desktop app's SQLite
// state database, so an existing IDE login can be adopted without a
// browser flow.
//
// Uses modernc.org/sqlite: pure Go, no CGO, works on Windows.
package auth

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/gclaude/antigravity-proxy/internal/config"
	"github.com/gclaude/antigravity-proxy/internal/utils"
)

// antigravityAuthKey is the ItemTable row holding the IDE's auth state
const antigravityAuthKey = "antigravityAuthStatus"

// ideAuthStatus is the JSON shape stored by the Antigravity IDE
type ideAuthStatus struct {
	APIKey       string `json:"apiKey"`
	RefreshToken string `json:"refreshToken"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	ProjectID    string `json:"projectId"`
}

// ImportFromAntigravityDB reads the IDE's state database and returns an
// Account seeded from it. The access token is marked expired so the
// first use goes through a refresh. Returns ErrAccountNotFound when the
// database or the auth row is absent.
func ImportFromAntigravityDB(dbPath string) (*Account, error) {
	if dbPath == "" {
		dbPath = config.AntigravityDBPath
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, ErrAccountNotFound
	}

	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open Antigravity database: %w", err)
	}
	defer db.Close()

	var value string
	err = db.QueryRow("SELECT value FROM ItemTable WHERE key = ?", antigravityAuthKey).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query Antigravity database: %w", err)
	}

	var status ideAuthStatus
	if err := json.Unmarshal([]byte(value), &status); err != nil {
		return nil, fmt.Errorf("parse Antigravity auth state: %w", err)
	}
	if status.Email == "" || (status.APIKey == "" && status.RefreshToken == "") {
		return nil, ErrAccountNotFound
	}

	acct := &Account{
		Email:        status.Email,
		AccessToken:  status.APIKey,
		RefreshToken: status.RefreshToken,
		ProjectID:    status.ProjectID,
		CreatedAt:    time.Now().Unix(),
		// Expiry is unknown; treat the imported token as stale
		ExpiresAt: 0,
	}

	utils.Info("[Auth] Imported Antigravity IDE credentials for %s", status.Email)
	return acct, nil
}

// ImportIntoStore seeds the store from the IDE database when the store
// has no account yet. Best effort: missing database is not an error.
func ImportIntoStore(store *Store, dbPath string) error {
	if _, err := store.First(); err == nil {
		return nil
	}

	acct, err := ImportFromAntigravityDB(dbPath)
	if err != nil {
		if err == ErrAccountNotFound {
			utils.Debug("[Auth] No Antigravity IDE credentials to import")
			return nil
		}
		return err
	}
	return store.Upsert(acct)
}

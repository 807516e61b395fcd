// Package main provides the account management CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gclaude/antigravity-proxy/internal/auth"
	"github.com/gclaude/antigravity-proxy/internal/config"
	"github.com/gclaude/antigravity-proxy/internal/utils"
)

func main() {
	command := "list"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	storePath := config.AccountStorePath
	if v := os.Getenv("ACCOUNT_STORE_PATH"); v != "" {
		storePath = v
	}

	store := auth.NewStore(storePath)
	if err := store.Load(); err != nil {
		if errors.Is(err, auth.ErrStoreCorrupt) {
			utils.Error("[Accounts] Store %s is corrupt: %v", storePath, err)
			os.Exit(2)
		}
		utils.Error("[Accounts] Failed to load store: %v", err)
		os.Exit(2)
	}
	manager := auth.NewManager(store, config.OAuthConfig)

	switch command {
	case "add":
		addAccount(manager)
	case "list":
		listAccounts(store)
	case "remove":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: accounts remove <email>")
			os.Exit(1)
		}
		removeAccount(manager, os.Args[2])
	case "import":
		importAccount(store)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		fmt.Fprintln(os.Stderr, "usage: accounts [add|list|remove <email>|import]")
		os.Exit(1)
	}
}

func addAccount(manager *auth.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	acct, err := manager.Login(ctx)
	if err != nil {
		utils.Error("[Accounts] Login failed: %v", err)
		os.Exit(1)
	}
	utils.Success("[Accounts] Added %s (project %s)", acct.Email, acct.ProjectID)
}

func listAccounts(store *auth.Store) {
	accounts := store.List()
	if len(accounts) == 0 {
		fmt.Println("No accounts configured. Run: accounts add")
		return
	}
	for _, acct := range accounts {
		state := "valid"
		if acct.IsExpired(0) {
			state = "expired (will refresh on use)"
		}
		fmt.Printf("  %s  project=%s  token=%s\n", acct.Email, acct.ProjectID, state)
	}
}

func removeAccount(manager *auth.Manager, email string) {
	if err := manager.Logout(email); err != nil {
		utils.Error("[Accounts] Remove failed: %v", err)
		os.Exit(1)
	}
	utils.Success("[Accounts] Removed %s", email)
}

func importAccount(store *auth.Store) {
	acct, err := auth.ImportFromAntigravityDB("")
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			fmt.Println("No Antigravity IDE credentials found")
			return
		}
		utils.Error("[Accounts] Import failed: %v", err)
		os.Exit(1)
	}
	if err := store.Upsert(acct); err != nil {
		utils.Error("[Accounts] Import failed: %v", err)
		os.Exit(1)
	}
	utils.Success("[Accounts] Imported %s from the Antigravity IDE", acct.Email)
}
